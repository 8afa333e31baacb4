package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/riverfog7/SophonDelta/internal/protos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifestChunk(name string, offset int64, data []byte) *protos.SophonManifestAssetChunk {
	return &protos.SophonManifestAssetChunk{
		ChunkName:                name,
		ChunkDecompressedHashMd5: BytesToHex(md5Of(data)),
		ChunkOnFileOffset:        offset,
		ChunkSize:                int64(len(data)),
		ChunkSizeDecompressed:    int64(len(data)),
	}
}

// serveManifest publishes message on srv, zstd-compressed, and returns the info pair pointing at it
func serveManifest(t *testing.T, srv *testObjectServer, id string, message protos.Message) *SophonChunkManifestInfoPair {
	t.Helper()
	srv.put("manifests/"+id, zstdCompress(t, message.Marshal()))
	return &SophonChunkManifestInfoPair{
		IsFound:      true,
		ManifestInfo: &SophonManifestInfo{ManifestBaseUrl: srv.URL + "/manifests", ManifestId: id, IsUseCompression: true},
		ChunksInfo:   &SophonChunksInfo{ChunksBaseUrl: srv.URL + "/chunks"},
	}
}

func collect(t *testing.T, assets <-chan *SophonAsset) map[string]*SophonAsset {
	t.Helper()
	byName := make(map[string]*SophonAsset)
	for asset := range assets {
		byName[asset.AssetName] = asset
	}
	return byName
}

func TestEnumerate(t *testing.T) {
	t.Parallel()
	srv := newTestObjectServer(t)
	a, b := testPattern(110, 64), testPattern(111, 32)

	pair := serveManifest(t, srv, "build-1", &protos.SophonManifestProto{Assets: []*protos.SophonManifestAssetProperty{
		{AssetName: "GameData", AssetType: 64},
		{
			AssetName:    "GameData/file.pck",
			AssetSize:    96,
			AssetHashMd5: "0123",
			AssetChunks:  []*protos.SophonManifestAssetChunk{manifestChunk("c1", 0, a), manifestChunk("c2", 64, b)},
		},
	}})

	assets, err := Enumerate(context.Background(), pair, testOptions(nil, nil))
	require.NoError(t, err)
	byName := collect(t, assets)
	require.Len(t, byName, 2)

	assert.True(t, byName["GameData"].IsDirectory)

	file := byName["GameData/file.pck"]
	assert.False(t, file.IsDirectory)
	assert.Equal(t, int64(96), file.AssetSize)
	assert.Same(t, pair.ChunksInfo, file.SophonChunksInfo)
	require.Len(t, file.Chunks, 2)
	assert.Equal(t, md5Of(b), file.Chunks[1].ChunkHashDecompressed)
	assert.Equal(t, int64(64), file.Chunks[1].ChunkOffset)
	assert.False(t, file.Chunks[1].HasOldReference())

	_, err = Enumerate(context.Background(), &SophonChunkManifestInfoPair{}, nil)
	assert.ErrorIs(t, err, ErrResourceMissing)
}

func TestEnumerate_CancelReleasesProducer(t *testing.T) {
	t.Parallel()
	srv := newTestObjectServer(t)
	manifest := &protos.SophonManifestProto{}
	for i := range 4 {
		manifest.Assets = append(manifest.Assets, &protos.SophonManifestAssetProperty{AssetName: fmt.Sprintf("dir%d", i), AssetType: 64})
	}
	pair := serveManifest(t, srv, "early-stop", manifest)

	ctx, cancel := context.WithCancel(context.Background())
	assets, err := Enumerate(ctx, pair, testOptions(nil, nil))
	require.NoError(t, err)
	<-assets
	cancel()

	closed := make(chan struct{})
	go func() {
		for range assets {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("asset channel not closed after cancel")
	}
}

func TestFetchManifest_Retries(t *testing.T) {
	t.Parallel()
	srv := newTestObjectServer(t)
	pair := serveManifest(t, srv, "flaky", &protos.SophonManifestProto{})
	srv.fail("manifests/flaky", serveStatus500)

	_, err := FetchManifest(context.Background(), pair.ManifestInfo, testOptions(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, srv.hits("manifests/flaky"))
}

func TestEnumerateUpdate(t *testing.T) {
	t.Parallel()
	srv := newTestObjectServer(t)
	a, b, c := testPattern(112, 64), testPattern(113, 64), testPattern(114, 64)

	oldPair := serveManifest(t, srv, "old", &protos.SophonManifestProto{Assets: []*protos.SophonManifestAssetProperty{
		{AssetName: "same.bin", AssetSize: 64, AssetHashMd5: "h1", AssetChunks: []*protos.SophonManifestAssetChunk{manifestChunk("a", 0, a)}},
		{AssetName: "changed.bin", AssetSize: 128, AssetHashMd5: "h2", AssetChunks: []*protos.SophonManifestAssetChunk{manifestChunk("a", 0, a), manifestChunk("b", 64, b)}},
	}})
	newPair := serveManifest(t, srv, "new", &protos.SophonManifestProto{Assets: []*protos.SophonManifestAssetProperty{
		{AssetName: "same.bin", AssetSize: 64, AssetHashMd5: "h1", AssetChunks: []*protos.SophonManifestAssetChunk{manifestChunk("a", 0, a)}},
		{AssetName: "changed.bin", AssetSize: 128, AssetHashMd5: "h3", AssetChunks: []*protos.SophonManifestAssetChunk{manifestChunk("b", 0, b), manifestChunk("c", 64, c)}},
	}})

	assets, err := EnumerateUpdate(context.Background(), oldPair, newPair, testOptions(nil, nil))
	require.NoError(t, err)
	byName := collect(t, assets)
	require.Len(t, byName, 1)

	changed := byName["changed.bin"]
	require.NotNil(t, changed)
	assert.True(t, changed.IsHasPatch)
	assert.Equal(t, int64(64), changed.Chunks[0].ChunkOldOffset)
	assert.False(t, changed.Chunks[1].HasOldReference())
	assert.Same(t, newPair.ChunksInfo, changed.SophonChunksInfo)

	t.Run("collect keeps unchanged assets", func(t *testing.T) {
		updated, unchanged, err := CollectUpdate(context.Background(), oldPair, newPair, testOptions(nil, nil))
		require.NoError(t, err)
		require.Len(t, updated, 1)
		assert.Equal(t, "changed.bin", updated[0].AssetName)
		require.Len(t, unchanged, 1)
		assert.Equal(t, "same.bin", unchanged[0].AssetName)
	})
}

func TestPatchProto2SophonPatchAssets(t *testing.T) {
	t.Parallel()

	patchProto := &protos.SophonPatchProto{
		PatchAssets: []*protos.SophonPatchAssetProperty{
			{
				AssetName: "patched.bin", AssetSize: 100, AssetHashMd5: "t1",
				AssetInfos: []*protos.SophonPatchAssetInfo{{VersionTag: "1.0", Chunk: &protos.SophonPatchAssetChunk{
					PatchName: "blob", PatchSize: 500, PatchMd5: "pm", PatchOffset: 10, PatchLength: 20,
					OriginalFileName: "patched.bin", OriginalFileLength: 90, OriginalFileMd5: "o1",
				}}},
			},
			{
				AssetName: "added.bin", AssetSize: 20, AssetHashMd5: "t2",
				AssetInfos: []*protos.SophonPatchAssetInfo{{VersionTag: "1.0", Chunk: &protos.SophonPatchAssetChunk{
					PatchName: "blob", PatchSize: 500, PatchOffset: 30, PatchLength: 20,
				}}},
			},
			{
				AssetName: "other.bin", AssetSize: 7, AssetHashMd5: "t3",
				AssetInfos: []*protos.SophonPatchAssetInfo{{VersionTag: "0.9", Chunk: &protos.SophonPatchAssetChunk{PatchName: "x"}}},
			},
		},
		UnusedAssets: []*protos.SophonUnusedAssetProperty{
			{VersionTag: "1.0", Assets: &protos.SophonUnusedAssetInfo{Assets: []*protos.SophonUnusedAssetFile{
				{FileName: "retired.bin", FileSize: 3, FileMd5: "r1"},
				{FileName: "added.bin"},
			}}},
			{VersionTag: "0.9", Assets: &protos.SophonUnusedAssetInfo{Assets: []*protos.SophonUnusedAssetFile{{FileName: "ignored.bin"}}}},
		},
	}
	info := &SophonChunksInfo{ChunksBaseUrl: "https://diff.example"}

	directives := PatchProto2SophonPatchAssets(patchProto, "1.0", info)
	require.Len(t, directives, 4)

	patched := directives[0]
	assert.Equal(t, Patch, patched.PatchMethod)
	assert.Equal(t, "blob", patched.PatchNameSource)
	assert.Equal(t, int64(10), patched.PatchOffset)
	assert.Equal(t, int64(20), patched.PatchChunkLength)
	assert.Equal(t, int64(500), patched.PatchSize)
	assert.Equal(t, "o1", patched.OriginalFileHash)
	assert.Equal(t, "t1", patched.TargetFileHash)
	assert.Same(t, info, patched.PatchInfo)
	assert.NoError(t, patched.Validate())

	assert.Equal(t, CopyOver, directives[1].PatchMethod)
	assert.Empty(t, directives[1].OriginalFilePath)
	assert.NoError(t, directives[1].Validate())

	assert.Equal(t, DownloadOver, directives[2].PatchMethod)
	assert.Empty(t, directives[2].PatchNameSource)

	assert.Equal(t, Remove, directives[3].PatchMethod)
	assert.Equal(t, "retired.bin", directives[3].OriginalFilePath)
}

func TestEnumeratePatch_AttachesBuildAssets(t *testing.T) {
	t.Parallel()
	srv := newTestObjectServer(t)
	data := testPattern(115, 64)

	patchPair := serveManifest(t, srv, "patch", &protos.SophonPatchProto{
		PatchAssets: []*protos.SophonPatchAssetProperty{
			{AssetName: "file.bin", AssetSize: 64, AssetHashMd5: "t"},
		},
		UnusedAssets: []*protos.SophonUnusedAssetProperty{
			{VersionTag: "1.0", Assets: &protos.SophonUnusedAssetInfo{Assets: []*protos.SophonUnusedAssetFile{{FileName: "stale.bin"}}}},
		},
	})
	buildPair := serveManifest(t, srv, "build", &protos.SophonManifestProto{Assets: []*protos.SophonManifestAssetProperty{
		{AssetName: "file.bin", AssetSize: 64, AssetHashMd5: "t", AssetChunks: []*protos.SophonManifestAssetChunk{manifestChunk("c", 0, data)}},
	}})

	directives, err := EnumeratePatch(context.Background(), patchPair, "1.0", buildPair, testOptions(nil, nil))
	require.NoError(t, err)
	require.Len(t, directives, 2)

	assert.Equal(t, DownloadOver, directives[0].PatchMethod)
	require.NotNil(t, directives[0].DownloadOverAsset)
	assert.Equal(t, "file.bin", directives[0].DownloadOverAsset.AssetName)
	assert.Equal(t, Remove, directives[1].PatchMethod)
	assert.Equal(t, "stale.bin", directives[1].OriginalFilePath)
	assert.Nil(t, directives[1].DownloadOverAsset)

	withoutBuild, err := EnumeratePatch(context.Background(), patchPair, "1.0", nil, testOptions(nil, nil))
	require.NoError(t, err)
	assert.Nil(t, withoutBuild[0].DownloadOverAsset)
}

func TestCreateSophonManifestInfoPair(t *testing.T) {
	t.Parallel()

	const buildJson = `{
		"retcode": 0, "message": "OK",
		"data": {
			"build_id": "b1", "tag": "1.1.0",
			"manifests": [
				{
					"category_id": "10", "category_name": "audio", "matching_field": "en-us",
					"manifest": {"id": "m-audio", "checksum": "ca", "compressed_size": "10", "uncompressed_size": "20"},
					"manifest_download": {"url_prefix": "https://cdn.example/manifest", "compression": 1},
					"chunk_download": {"url_prefix": "https://cdn.example/audio", "compression": 1},
					"stats": {"compressed_size": "1", "uncompressed_size": "2", "file_count": "3", "chunk_count": "4"}
				},
				{
					"category_id": "1", "category_name": "game", "matching_field": "game",
					"manifest": {"id": "m-game", "checksum": "cg", "compressed_size": "100", "uncompressed_size": "200"},
					"manifest_download": {"url_prefix": "https://cdn.example/manifest", "compression": true},
					"chunk_download": {"url_prefix": "https://cdn.example/game", "compression": "1"},
					"stats": {"compressed_size": "1000", "uncompressed_size": "2000", "file_count": "30", "chunk_count": "40"}
				}
			]
		}
	}`
	const patchJson = `{
		"retcode": 0, "message": "OK",
		"data": {
			"patch_id": "p1", "build_id": "b1", "tag": "1.1.0",
			"manifests": [{
				"category_id": "1", "category_name": "game", "matching_field": "game",
				"manifest": {"id": "m-patch", "checksum": "cp", "compressed_size": "5", "uncompressed_size": "6"},
				"manifest_download": {"url_prefix": "https://cdn.example/manifest", "compression": 0},
				"diff_download": {"url_prefix": "https://cdn.example/diff", "compression": 0},
				"stats": {"1.0.0": {"compressed_size": "7", "uncompressed_size": "8", "file_count": "9", "chunk_count": "1"}}
			}]
		}
	}`

	var (
		mu      sync.Mutex
		methods []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		switch r.URL.Path {
		case "/getBuild":
			fmt.Fprint(w, buildJson)
		case "/getPatchBuild":
			fmt.Fprint(w, patchJson)
		case "/empty":
			fmt.Fprint(w, `{"retcode": -1, "message": "no such branch", "data": null}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	client := NewSophonHTTPClient(srv.Client())
	ctx := context.Background()

	pair, err := client.CreateSophonChunkManifestInfoPair(ctx, srv.URL+"/getBuild", "game")
	require.NoError(t, err)
	require.True(t, pair.IsFound)
	assert.Equal(t, "https://cdn.example/manifest/m-game", pair.ManifestInfo.ManifestFileUrl())
	assert.True(t, pair.ManifestInfo.IsUseCompression)
	assert.Equal(t, "cg", pair.ManifestInfo.ManifestChecksumMd5)
	assert.Equal(t, "https://cdn.example/game", pair.ChunksInfo.ChunksBaseUrl)
	assert.True(t, pair.ChunksInfo.IsUseCompression)
	assert.Equal(t, int64(2000), pair.ChunksInfo.TotalSize)
	assert.Equal(t, 40, pair.ChunksInfo.ChunksCount)

	audio, err := pair.GetOtherManifestInfoPair("en-us")
	require.NoError(t, err)
	require.True(t, audio.IsFound)
	assert.Equal(t, "https://cdn.example/audio", audio.ChunksInfo.ChunksBaseUrl)

	missing, err := pair.GetOtherManifestInfoPair("ja-jp")
	require.NoError(t, err)
	assert.False(t, missing.IsFound)
	assert.Equal(t, http.StatusNotFound, missing.ReturnCode)

	patchPair, err := client.CreateSophonPatchManifestInfoPair(ctx, srv.URL+"/getPatchBuild", "1.0.0", "game")
	require.NoError(t, err)
	require.True(t, patchPair.IsFound)
	assert.Equal(t, "https://cdn.example/diff", patchPair.ChunksInfo.ChunksBaseUrl)
	assert.False(t, patchPair.ChunksInfo.IsUseCompression)
	assert.Equal(t, int64(8), patchPair.ChunksInfo.TotalSize)

	unknownVersion, err := patchPair.GetOtherPatchInfoPair("game", "0.1.0")
	require.NoError(t, err)
	assert.False(t, unknownVersion.IsFound)

	empty, err := client.CreateSophonChunkManifestInfoPair(ctx, srv.URL+"/empty", "game")
	require.NoError(t, err)
	assert.False(t, empty.IsFound)
	assert.Equal(t, -1, empty.ReturnCode)

	_, err = client.CreateSophonChunkManifestInfoPair(ctx, srv.URL+"/missing", "game")
	var statusErr *HttpStatusError
	assert.ErrorAs(t, err, &statusErr)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodGet, methods[0])
	assert.Contains(t, methods, http.MethodPost)
}
