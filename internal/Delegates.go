package internal

// DelegateWriteStreamInfo is a callback function type to report the number of bytes written per cycle to disk.
// Negative values roll back bytes reported by a failed attempt.
type DelegateWriteStreamInfo func(writeBytes int64)

// DelegateWriteDownloadInfo is a callback function type to report download and disk write progress.
// downloadedBytes only counts bytes pulled from the network.
type DelegateWriteDownloadInfo func(downloadedBytes, diskWriteBytes int64)

// DelegateDownloadAssetComplete is a callback function type to report when an asset download is complete
type DelegateDownloadAssetComplete func(asset *SophonAsset)

// SophonObserver receives per-chunk lifecycle events of a session
type SophonObserver interface {
	ChunkCompleted(assetName string, chunk *SophonChunk, source SourceStreamType)
	ChunkSkipped(assetName string, chunk *SophonChunk)
	ChunkRetried(assetName string, chunk *SophonChunk, err error)
	ChunkCorrupted(assetName string, chunk *SophonChunk, source SourceStreamType)
}

// progressReporter fans delegates out and keeps the signed totals of one chunk attempt
type progressReporter struct {
	writeInfo    DelegateWriteStreamInfo
	downloadInfo DelegateWriteDownloadInfo

	written        int64
	networkWritten int64
}

func (p *progressReporter) add(n int64, fromNetwork bool) {
	p.written += n
	var network int64
	if fromNetwork {
		network = n
		p.networkWritten += n
	}
	if p.writeInfo != nil {
		p.writeInfo(n)
	}
	if p.downloadInfo != nil {
		p.downloadInfo(network, n)
	}
}

// rollback reports the exact negative of everything added since the last reset
func (p *progressReporter) rollback() {
	if p.written == 0 && p.networkWritten == 0 {
		return
	}
	if p.writeInfo != nil {
		p.writeInfo(-p.written)
	}
	if p.downloadInfo != nil {
		p.downloadInfo(-p.networkWritten, -p.written)
	}
	p.reset()
}

func (p *progressReporter) reset() {
	p.written = 0
	p.networkWritten = 0
}
