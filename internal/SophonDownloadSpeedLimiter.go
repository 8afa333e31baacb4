package internal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	// minimumSpeedLimit is the lowest per-session cap accepted by the limiter
	minimumSpeedLimit = 64 << 10
	// maximumChunkDivisor bounds the number of chunks the cap is shared between
	maximumChunkDivisor = 16 << 10
)

// RateLimiter throttles the writes of one chunk worker.
// TryConsume records n written bytes and returns how long the worker has to wait.
type RateLimiter interface {
	TryConsume(n int64) time.Duration
	Close()
}

// SpeedLimiter hands out a RateLimiter to every chunk worker of a session
type SpeedLimiter interface {
	NewChunkLimiter() RateLimiter
}

// ChunkBandwidth is the allowance of a single chunk worker
type ChunkBandwidth struct {
	MaximumBytesPerSecond float64
	BitPerUnit            float64
}

// Disabled reports whether the allowance imposes no limit
func (b ChunkBandwidth) Disabled() bool {
	return b.MaximumBytesPerSecond <= 0
}

// ComputeChunkBandwidth splits the requested session cap between the active chunks.
// A requested cap of zero or less disables throttling.
func ComputeChunkBandwidth(requestedBytesPerSecond int64, activeChunks int) ChunkBandwidth {
	if requestedBytesPerSecond <= 0 {
		return ChunkBandwidth{MaximumBytesPerSecond: -1}
	}

	base := max(int64(minimumSpeedLimit), requestedBytesPerSecond)
	threadNum := float64(min(max(activeChunks, 1), maximumChunkDivisor))
	unitNum := min(max(threadNum, 2), 16)

	return ChunkBandwidth{
		MaximumBytesPerSecond: float64(base) / threadNum,
		BitPerUnit:            940.0 - (unitNum-2.0)/(16.0-2.0)*400.0,
	}
}

// SophonDownloadSpeedLimiter is the shared speed policy of a download session.
// The requested speed may be changed at any time; active chunk limiters are
// notified and recompute their allowance before their next write.
type SophonDownloadSpeedLimiter struct {
	requestedSpeed         atomic.Int64
	currentChunkProcessing atomic.Int32

	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]func()
}

var _ SpeedLimiter = (*SophonDownloadSpeedLimiter)(nil)

// CreateInstance creates a new SophonDownloadSpeedLimiter with an initial speed in bytes per second
func CreateInstance(initialSpeed int64) *SophonDownloadSpeedLimiter {
	s := &SophonDownloadSpeedLimiter{
		listeners: make(map[uint64]func()),
	}
	s.requestedSpeed.Store(initialSpeed)
	return s
}

// SetRequestedSpeed changes the session cap. Zero or less disables throttling.
func (s *SophonDownloadSpeedLimiter) SetRequestedSpeed(newRequestedSpeed int64) {
	s.requestedSpeed.Store(newRequestedSpeed)
	s.notify()
}

// RequestedSpeed returns the current session cap
func (s *SophonDownloadSpeedLimiter) RequestedSpeed() int64 {
	return s.requestedSpeed.Load()
}

// GetCurrentChunkProcessing returns the current number of chunks being processed
func (s *SophonDownloadSpeedLimiter) GetCurrentChunkProcessing() int {
	return int(s.currentChunkProcessing.Load())
}

// CurrentBandwidth returns the allowance every active chunk currently gets
func (s *SophonDownloadSpeedLimiter) CurrentBandwidth() ChunkBandwidth {
	return ComputeChunkBandwidth(s.RequestedSpeed(), s.GetCurrentChunkProcessing())
}

// NewChunkLimiter registers a new active chunk and returns its limiter.
// Close must be called once the chunk is finished.
func (s *SophonDownloadSpeedLimiter) NewChunkLimiter() RateLimiter {
	c := &ChunkSpeedLimiter{parent: s, startTime: time.Now()}

	s.mu.Lock()
	s.nextID++
	c.id = s.nextID
	s.listeners[c.id] = c.recalculate
	s.mu.Unlock()

	s.currentChunkProcessing.Add(1)
	s.notify()
	return c
}

func (s *SophonDownloadSpeedLimiter) release(id uint64) {
	s.mu.Lock()
	delete(s.listeners, id)
	s.mu.Unlock()

	s.currentChunkProcessing.Add(-1)
	s.notify()
}

func (s *SophonDownloadSpeedLimiter) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, listener := range s.listeners {
		listener()
	}
}

// ChunkSpeedLimiter throttles a single chunk worker against its share of the session cap.
// The counters are owned by the worker, only the allowance is shared.
type ChunkSpeedLimiter struct {
	parent    *SophonDownloadSpeedLimiter
	id        uint64
	bandwidth atomic.Pointer[ChunkBandwidth]
	closed    atomic.Bool

	startTime time.Time
	written   int64
}

func (c *ChunkSpeedLimiter) recalculate() {
	bw := c.parent.CurrentBandwidth()
	c.bandwidth.Store(&bw)
}

// TryConsume records n written bytes and returns the time to sleep to stay under the allowance
func (c *ChunkSpeedLimiter) TryConsume(n int64) time.Duration {
	bw := c.bandwidth.Load()
	if bw == nil || bw.Disabled() {
		return 0
	}

	c.written += n
	if c.written <= 0 {
		return 0
	}

	elapsedMs := float64(time.Since(c.startTime).Milliseconds())
	if elapsedMs <= 0 {
		return 0
	}

	bps := float64(c.written) * bw.BitPerUnit / elapsedMs
	if bps <= bw.MaximumBytesPerSecond {
		return 0
	}

	wakeElapsed := float64(c.written) * bw.BitPerUnit / bw.MaximumBytesPerSecond
	toSleep := wakeElapsed - elapsedMs
	if toSleep <= 1 {
		return 0
	}

	c.startTime = time.Now().Add(time.Duration(toSleep) * time.Millisecond)
	c.written = 0
	return time.Duration(toSleep) * time.Millisecond
}

// Close unregisters the chunk from the session
func (c *ChunkSpeedLimiter) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.parent.release(c.id)
	}
}

// TokenBucketSpeedLimiter shares one token bucket between every chunk of a session
type TokenBucketSpeedLimiter struct {
	limiter *rate.Limiter
}

var _ SpeedLimiter = (*TokenBucketSpeedLimiter)(nil)

// NewTokenBucketSpeedLimiter creates a limiter capped at bytesPerSecond.
// Zero or less disables throttling.
func NewTokenBucketSpeedLimiter(bytesPerSecond int64) *TokenBucketSpeedLimiter {
	l := &TokenBucketSpeedLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	l.SetRequestedSpeed(bytesPerSecond)
	return l
}

// SetRequestedSpeed changes the bucket rate, observed by the next consume of every chunk
func (l *TokenBucketSpeedLimiter) SetRequestedSpeed(bytesPerSecond int64) {
	if bytesPerSecond <= 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}
	bytesPerSecond = max(bytesPerSecond, minimumSpeedLimit)
	l.limiter.SetLimit(rate.Limit(bytesPerSecond))
	l.limiter.SetBurst(int(min(bytesPerSecond, 1<<20)))
}

// NewChunkLimiter returns a view of the shared bucket
func (l *TokenBucketSpeedLimiter) NewChunkLimiter() RateLimiter {
	return tokenBucketChunk{limiter: l.limiter}
}

type tokenBucketChunk struct {
	limiter *rate.Limiter
}

func (t tokenBucketChunk) TryConsume(n int64) time.Duration {
	if t.limiter.Limit() == rate.Inf || n <= 0 {
		return 0
	}
	burst := int64(t.limiter.Burst())
	now := time.Now()
	var wait time.Duration
	for n > 0 {
		take := min(n, burst)
		r := t.limiter.ReserveN(now, int(take))
		if !r.OK() {
			return 0
		}
		wait = r.DelayFrom(now)
		n -= take
	}
	return wait
}

func (tokenBucketChunk) Close() {}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
