package protos

import "google.golang.org/protobuf/encoding/protowire"

// SophonPatchProto lists the patch directives of a build, keyed by the version they update from
type SophonPatchProto struct {
	PatchAssets  []*SophonPatchAssetProperty
	UnusedAssets []*SophonUnusedAssetProperty
}

// SophonPatchAssetProperty is one target file and the patches producing it
type SophonPatchAssetProperty struct {
	AssetName    string
	AssetSize    int64
	AssetHashMd5 string
	AssetInfos   []*SophonPatchAssetInfo
}

// SophonPatchAssetInfo is the patch of a target file for one source version
type SophonPatchAssetInfo struct {
	VersionTag string
	Chunk      *SophonPatchAssetChunk
}

// SophonPatchAssetChunk locates a patch slice inside a shared patch blob
type SophonPatchAssetChunk struct {
	PatchName          string
	VersionTag         string
	BuildId            string
	PatchSize          int64
	PatchMd5           string
	PatchOffset        int64
	PatchLength        int64
	OriginalFileName   string
	OriginalFileLength int64
	OriginalFileMd5    string
}

// SophonUnusedAssetProperty lists the files retired when updating from VersionTag
type SophonUnusedAssetProperty struct {
	VersionTag string
	Assets     *SophonUnusedAssetInfo
}

type SophonUnusedAssetInfo struct {
	Assets []*SophonUnusedAssetFile
}

type SophonUnusedAssetFile struct {
	FileName string
	FileSize int64
	FileMd5  string
}

func (m *SophonPatchProto) Unmarshal(b []byte) error {
	return decodeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			asset := &SophonPatchAssetProperty{}
			n, err := readMessage(typ, b, asset)
			m.PatchAssets = append(m.PatchAssets, asset)
			return n, err
		case 2:
			unused := &SophonUnusedAssetProperty{}
			n, err := readMessage(typ, b, unused)
			m.UnusedAssets = append(m.UnusedAssets, unused)
			return n, err
		default:
			return skipField(num, typ, b)
		}
	})
}

func (m *SophonPatchProto) Marshal() []byte {
	var b []byte
	for _, asset := range m.PatchAssets {
		b = appendMessage(b, 1, asset)
	}
	for _, unused := range m.UnusedAssets {
		b = appendMessage(b, 2, unused)
	}
	return b
}

func (m *SophonPatchAssetProperty) Unmarshal(b []byte) error {
	return decodeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, b, &m.AssetName)
		case 2:
			return readInt64(typ, b, &m.AssetSize)
		case 3:
			return readString(typ, b, &m.AssetHashMd5)
		case 4:
			info := &SophonPatchAssetInfo{}
			n, err := readMessage(typ, b, info)
			m.AssetInfos = append(m.AssetInfos, info)
			return n, err
		default:
			return skipField(num, typ, b)
		}
	})
}

func (m *SophonPatchAssetProperty) Marshal() []byte {
	b := appendString(nil, 1, m.AssetName)
	b = appendVarint(b, 2, uint64(m.AssetSize))
	b = appendString(b, 3, m.AssetHashMd5)
	for _, info := range m.AssetInfos {
		b = appendMessage(b, 4, info)
	}
	return b
}

// InfoFor returns the patch of this asset for a source version, nil when there is none
func (m *SophonPatchAssetProperty) InfoFor(versionTag string) *SophonPatchAssetChunk {
	for _, info := range m.AssetInfos {
		if info.VersionTag == versionTag {
			return info.Chunk
		}
	}
	return nil
}

func (m *SophonPatchAssetInfo) Unmarshal(b []byte) error {
	return decodeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, b, &m.VersionTag)
		case 2:
			m.Chunk = &SophonPatchAssetChunk{}
			return readMessage(typ, b, m.Chunk)
		default:
			return skipField(num, typ, b)
		}
	})
}

func (m *SophonPatchAssetInfo) Marshal() []byte {
	b := appendString(nil, 1, m.VersionTag)
	if m.Chunk != nil {
		b = appendMessage(b, 2, m.Chunk)
	}
	return b
}

func (m *SophonPatchAssetChunk) Unmarshal(b []byte) error {
	return decodeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, b, &m.PatchName)
		case 2:
			return readString(typ, b, &m.VersionTag)
		case 3:
			return readString(typ, b, &m.BuildId)
		case 4:
			return readInt64(typ, b, &m.PatchSize)
		case 5:
			return readString(typ, b, &m.PatchMd5)
		case 6:
			return readInt64(typ, b, &m.PatchOffset)
		case 7:
			return readInt64(typ, b, &m.PatchLength)
		case 8:
			return readString(typ, b, &m.OriginalFileName)
		case 9:
			return readInt64(typ, b, &m.OriginalFileLength)
		case 10:
			return readString(typ, b, &m.OriginalFileMd5)
		default:
			return skipField(num, typ, b)
		}
	})
}

func (m *SophonPatchAssetChunk) Marshal() []byte {
	b := appendString(nil, 1, m.PatchName)
	b = appendString(b, 2, m.VersionTag)
	b = appendString(b, 3, m.BuildId)
	b = appendVarint(b, 4, uint64(m.PatchSize))
	b = appendString(b, 5, m.PatchMd5)
	b = appendVarint(b, 6, uint64(m.PatchOffset))
	b = appendVarint(b, 7, uint64(m.PatchLength))
	b = appendString(b, 8, m.OriginalFileName)
	b = appendVarint(b, 9, uint64(m.OriginalFileLength))
	return appendString(b, 10, m.OriginalFileMd5)
}

func (m *SophonUnusedAssetProperty) Unmarshal(b []byte) error {
	return decodeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, b, &m.VersionTag)
		case 2:
			m.Assets = &SophonUnusedAssetInfo{}
			return readMessage(typ, b, m.Assets)
		default:
			return skipField(num, typ, b)
		}
	})
}

func (m *SophonUnusedAssetProperty) Marshal() []byte {
	b := appendString(nil, 1, m.VersionTag)
	if m.Assets != nil {
		b = appendMessage(b, 2, m.Assets)
	}
	return b
}

func (m *SophonUnusedAssetInfo) Unmarshal(b []byte) error {
	return decodeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		file := &SophonUnusedAssetFile{}
		n, err := readMessage(typ, b, file)
		m.Assets = append(m.Assets, file)
		return n, err
	})
}

func (m *SophonUnusedAssetInfo) Marshal() []byte {
	var b []byte
	for _, file := range m.Assets {
		b = appendMessage(b, 1, file)
	}
	return b
}

func (m *SophonUnusedAssetFile) Unmarshal(b []byte) error {
	return decodeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, b, &m.FileName)
		case 2:
			return readInt64(typ, b, &m.FileSize)
		case 3:
			return readString(typ, b, &m.FileMd5)
		default:
			return skipField(num, typ, b)
		}
	})
}

func (m *SophonUnusedAssetFile) Marshal() []byte {
	b := appendString(nil, 1, m.FileName)
	b = appendVarint(b, 2, uint64(m.FileSize))
	return appendString(b, 3, m.FileMd5)
}
