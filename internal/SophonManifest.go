package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/zstd"
	"github.com/riverfog7/SophonDelta/internal/protos"
)

// Enumerate fetches the manifest of infoPair and yields its assets
func Enumerate(ctx context.Context, infoPair *SophonChunkManifestInfoPair, opts *SophonDownloadOptions) (<-chan *SophonAsset, error) {
	if infoPair == nil || !infoPair.IsFound {
		return nil, fmt.Errorf("%w: manifest info pair is not found", ErrResourceMissing)
	}
	return EnumerateWithInfo(ctx, infoPair.ManifestInfo, infoPair.ChunksInfo, opts)
}

// EnumerateWithInfo fetches a manifest and yields its assets. The channel is closed once
// every asset is sent or ctx is done. A consumer that stops receiving early must cancel
// ctx, or the producing goroutine is never released.
func EnumerateWithInfo(ctx context.Context, manifestInfo *SophonManifestInfo, chunksInfo *SophonChunksInfo, opts *SophonDownloadOptions) (<-chan *SophonAsset, error) {
	manifest, err := FetchManifest(ctx, manifestInfo, opts)
	if err != nil {
		return nil, err
	}

	assetChan := make(chan *SophonAsset)
	go func() {
		defer close(assetChan)
		for _, asset := range manifest.Assets {
			select {
			case <-ctx.Done():
				return
			case assetChan <- AssetProperty2SophonAsset(asset, chunksInfo):
			}
		}
	}()

	return assetChan, nil
}

// FetchManifest downloads and decodes a build manifest, retrying failed attempts
func FetchManifest(ctx context.Context, manifestInfo *SophonManifestInfo, opts *SophonDownloadOptions) (*protos.SophonManifestProto, error) {
	opts = opts.withDefaults()
	return WaitForRetry(ctx, RetryPolicy{Logger: opts.Logger}, func(ctx context.Context) (*protos.SophonManifestProto, error) {
		var manifestProto protos.SophonManifestProto
		if err := ReadProtoFromManifestInfo(ctx, opts.Client, manifestInfo, &manifestProto); err != nil {
			return nil, fmt.Errorf("failed to read manifest proto: %w", err)
		}
		return &manifestProto, nil
	})
}

// ReadProtoFromManifestInfo downloads a manifest, decompresses it when flagged and decodes it into message
func ReadProtoFromManifestInfo(ctx context.Context, client *http.Client, manifestInfo *SophonManifestInfo, message protos.Message) error {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestInfo.ManifestFileUrl(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HttpStatusError{Url: manifestInfo.ManifestFileUrl(), StatusCode: resp.StatusCode}
	}

	var reader io.Reader = resp.Body
	if manifestInfo.IsUseCompression {
		decoder, err := zstd.NewReader(resp.Body)
		if err != nil {
			return err
		}
		defer decoder.Close()
		reader = decoder
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	return message.Unmarshal(data)
}

// AssetProperty2SophonAsset converts a manifest asset to a SophonAsset. Assets with a
// non-zero type or no hash are directories.
func AssetProperty2SophonAsset(asset *protos.SophonManifestAssetProperty, chunksInfo *SophonChunksInfo) *SophonAsset {
	if asset.AssetType != 0 || asset.AssetHashMd5 == "" {
		return &SophonAsset{
			AssetName:   asset.AssetName,
			IsDirectory: true,
		}
	}

	chunks := make([]*SophonChunk, len(asset.AssetChunks))
	for i, chunkProp := range asset.AssetChunks {
		hash, err := HexToBytes(chunkProp.ChunkDecompressedHashMd5)
		if err != nil {
			hash = []byte{}
		}

		chunk := NewSophonChunk()
		chunk.ChunkName = chunkProp.ChunkName
		chunk.ChunkHashDecompressed = hash
		chunk.ChunkOffset = chunkProp.ChunkOnFileOffset
		chunk.ChunkSize = chunkProp.ChunkSize
		chunk.ChunkSizeDecompressed = chunkProp.ChunkSizeDecompressed
		chunks[i] = &chunk
	}

	return &SophonAsset{
		AssetName:        asset.AssetName,
		AssetHash:        asset.AssetHashMd5,
		AssetSize:        asset.AssetSize,
		Chunks:           chunks,
		SophonChunksInfo: chunksInfo,
	}
}
