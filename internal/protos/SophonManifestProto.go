package protos

import "google.golang.org/protobuf/encoding/protowire"

// SophonManifestProto lists every asset of a build
type SophonManifestProto struct {
	Assets []*SophonManifestAssetProperty
}

// SophonManifestAssetProperty is one file or directory of a build
type SophonManifestAssetProperty struct {
	AssetName    string
	AssetChunks  []*SophonManifestAssetChunk
	AssetType    int32
	AssetSize    int64
	AssetHashMd5 string
}

// SophonManifestAssetChunk is one chunk of an asset
type SophonManifestAssetChunk struct {
	ChunkName                string
	ChunkDecompressedHashMd5 string
	ChunkOnFileOffset        int64
	ChunkSize                int64
	ChunkSizeDecompressed    int64
	ChunkCompressedHashXxh64 uint64
	ChunkCompressedHashMd5   string
}

func (m *SophonManifestProto) Unmarshal(b []byte) error {
	return decodeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		asset := &SophonManifestAssetProperty{}
		n, err := readMessage(typ, b, asset)
		m.Assets = append(m.Assets, asset)
		return n, err
	})
}

func (m *SophonManifestProto) Marshal() []byte {
	var b []byte
	for _, asset := range m.Assets {
		b = appendMessage(b, 1, asset)
	}
	return b
}

func (m *SophonManifestAssetProperty) Unmarshal(b []byte) error {
	return decodeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, b, &m.AssetName)
		case 2:
			chunk := &SophonManifestAssetChunk{}
			n, err := readMessage(typ, b, chunk)
			m.AssetChunks = append(m.AssetChunks, chunk)
			return n, err
		case 3:
			return readInt32(typ, b, &m.AssetType)
		case 4:
			return readInt64(typ, b, &m.AssetSize)
		case 5:
			return readString(typ, b, &m.AssetHashMd5)
		default:
			return skipField(num, typ, b)
		}
	})
}

func (m *SophonManifestAssetProperty) Marshal() []byte {
	b := appendString(nil, 1, m.AssetName)
	for _, chunk := range m.AssetChunks {
		b = appendMessage(b, 2, chunk)
	}
	b = appendVarint(b, 3, uint64(m.AssetType))
	b = appendVarint(b, 4, uint64(m.AssetSize))
	return appendString(b, 5, m.AssetHashMd5)
}

func (m *SophonManifestAssetChunk) Unmarshal(b []byte) error {
	return decodeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, b, &m.ChunkName)
		case 2:
			return readString(typ, b, &m.ChunkDecompressedHashMd5)
		case 3:
			return readInt64(typ, b, &m.ChunkOnFileOffset)
		case 4:
			return readInt64(typ, b, &m.ChunkSize)
		case 5:
			return readInt64(typ, b, &m.ChunkSizeDecompressed)
		case 6:
			return readVarint(typ, b, &m.ChunkCompressedHashXxh64)
		case 7:
			return readString(typ, b, &m.ChunkCompressedHashMd5)
		default:
			return skipField(num, typ, b)
		}
	})
}

func (m *SophonManifestAssetChunk) Marshal() []byte {
	b := appendString(nil, 1, m.ChunkName)
	b = appendString(b, 2, m.ChunkDecompressedHashMd5)
	b = appendVarint(b, 3, uint64(m.ChunkOnFileOffset))
	b = appendVarint(b, 4, uint64(m.ChunkSize))
	b = appendVarint(b, 5, uint64(m.ChunkSizeDecompressed))
	b = appendVarint(b, 6, m.ChunkCompressedHashXxh64)
	return appendString(b, 7, m.ChunkCompressedHashMd5)
}
