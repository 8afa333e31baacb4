package internal

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
)

// SophonPatchMethod represents the different methods for applying patches
type SophonPatchMethod int

const (
	CopyOver SophonPatchMethod = iota
	DownloadOver
	Patch
	Remove
)

func (m SophonPatchMethod) String() string {
	switch m {
	case CopyOver:
		return "CopyOver"
	case DownloadOver:
		return "DownloadOver"
	case Patch:
		return "Patch"
	case Remove:
		return "Remove"
	default:
		return fmt.Sprintf("SophonPatchMethod(%d)", int(m))
	}
}

// SophonPatchAsset contains information about a patch asset
type SophonPatchAsset struct {
	// Patch information
	PatchInfo        *SophonChunksInfo
	PatchMethod      SophonPatchMethod
	PatchNameSource  string
	PatchHash        string
	PatchOffset      int64
	PatchSize        int64
	PatchChunkLength int64

	// Original file information
	OriginalFilePath string
	OriginalFileHash string
	OriginalFileSize int64

	// Target file information
	TargetFilePath                string
	TargetFileDownloadOverBaseUrl string
	TargetFileHash                string
	TargetFileSize                int64

	// Full asset used when the directive falls back to DownloadOver
	DownloadOverAsset *SophonAsset

	// set when a CopyOver payload turned out to be an HDiff container
	isBlankOriginal bool
}

// Validate checks the directive shape required by its patch method
func (asset *SophonPatchAsset) Validate() error {
	rules := []*validation.FieldRules{
		validation.Field(&asset.PatchMethod, validation.In(CopyOver, DownloadOver, Patch, Remove)),
	}

	switch asset.PatchMethod {
	case Remove:
		rules = append(rules, validation.Field(&asset.OriginalFilePath, validation.Required))
	case Patch:
		rules = append(rules,
			validation.Field(&asset.TargetFilePath, validation.Required),
			validation.Field(&asset.PatchNameSource, validation.Required),
			validation.Field(&asset.PatchChunkLength, validation.Required),
		)
		if !asset.isBlankOriginal {
			rules = append(rules, validation.Field(&asset.OriginalFilePath, validation.Required))
		}
	case CopyOver:
		rules = append(rules,
			validation.Field(&asset.TargetFilePath, validation.Required),
			validation.Field(&asset.PatchNameSource, validation.Required),
		)
	case DownloadOver:
		rules = append(rules, validation.Field(&asset.TargetFilePath, validation.Required))
	}

	return validation.ValidateStruct(asset, rules...)
}
