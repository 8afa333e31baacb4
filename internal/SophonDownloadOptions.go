package internal

import (
	"net/http"
	"runtime"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	// DefaultCorruptRetryCount bounds the immediate re-downloads of a chunk failing verification
	DefaultCorruptRetryCount = 10
	// DefaultMaxPatchRetry bounds the restarts of a patch directive
	DefaultMaxPatchRetry = 5
)

// SophonDownloadOptions configures one download session. Zero values take the defaults.
type SophonDownloadOptions struct {
	Client       *http.Client
	Logger       Logger
	Observer     SophonObserver
	SpeedLimiter SpeedLimiter

	WriteInfo    DelegateWriteStreamInfo
	DownloadInfo DelegateWriteDownloadInfo
	Complete     DelegateDownloadAssetComplete

	BufferSize        int
	ReadTimeout       time.Duration
	RetryCount        int
	RetryDelay        time.Duration
	CorruptRetryCount int
	Concurrency       int
}

// DefaultConcurrency is the worker count of parallel operations: min(8, NumCPU)
func DefaultConcurrency() int {
	return min(8, runtime.NumCPU())
}

// withDefaults returns a copy with every zero field replaced by its default
func (o *SophonDownloadOptions) withDefaults() *SophonDownloadOptions {
	var opts SophonDownloadOptions
	if o != nil {
		opts = *o
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultTimeout
	}
	if opts.RetryCount <= 0 {
		opts.RetryCount = DefaultRetryAttempt
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.CorruptRetryCount <= 0 {
		opts.CorruptRetryCount = DefaultCorruptRetryCount
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency()
	}
	return &opts
}

// Validate rejects negative settings
func (o *SophonDownloadOptions) Validate() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.BufferSize, validation.Min(0)),
		validation.Field(&o.ReadTimeout, validation.Min(time.Duration(0))),
		validation.Field(&o.RetryCount, validation.Min(0)),
		validation.Field(&o.RetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&o.CorruptRetryCount, validation.Min(0)),
		validation.Field(&o.Concurrency, validation.Min(0)),
	)
}

func (o *SophonDownloadOptions) reporter() *progressReporter {
	return &progressReporter{writeInfo: o.WriteInfo, downloadInfo: o.DownloadInfo}
}

func (o *SophonDownloadOptions) chunkLimiter() RateLimiter {
	if o.SpeedLimiter == nil {
		return nil
	}
	return o.SpeedLimiter.NewChunkLimiter()
}

func (o *SophonDownloadOptions) chunkCompleted(assetName string, chunk *SophonChunk, source SourceStreamType) {
	if o.Observer != nil {
		o.Observer.ChunkCompleted(assetName, chunk, source)
	}
}

func (o *SophonDownloadOptions) chunkSkipped(assetName string, chunk *SophonChunk) {
	if o.Observer != nil {
		o.Observer.ChunkSkipped(assetName, chunk)
	}
}

func (o *SophonDownloadOptions) chunkRetried(assetName string, chunk *SophonChunk, err error) {
	if o.Observer != nil {
		o.Observer.ChunkRetried(assetName, chunk, err)
	}
}

func (o *SophonDownloadOptions) chunkCorrupted(assetName string, chunk *SophonChunk, source SourceStreamType) {
	if o.Observer != nil {
		o.Observer.ChunkCorrupted(assetName, chunk, source)
	}
}

// SophonPatchOptions configures a patch session
type SophonPatchOptions struct {
	SophonDownloadOptions

	// Patcher applies binary deltas, nil disables the Patch method
	Patcher BinaryPatcher
	// MaxPatchRetry bounds the restarts of a single directive
	MaxPatchRetry int
	// RemoveOldAssets deletes the files retired by the update
	RemoveOldAssets bool

	DiskWrite    DelegateWriteStreamInfo
	DownloadRead DelegateWriteStreamInfo
}

func (o *SophonPatchOptions) withDefaults() *SophonPatchOptions {
	var opts SophonPatchOptions
	if o != nil {
		opts = *o
	}
	opts.SophonDownloadOptions = *opts.SophonDownloadOptions.withDefaults()
	if opts.MaxPatchRetry <= 0 {
		opts.MaxPatchRetry = DefaultMaxPatchRetry
	}
	return &opts
}

func (o *SophonPatchOptions) diskWrite(n int64) {
	if o.DiskWrite != nil {
		o.DiskWrite(n)
	}
}

func (o *SophonPatchOptions) downloadRead(n int64) {
	if o.DownloadRead != nil {
		o.DownloadRead(n)
	}
}
