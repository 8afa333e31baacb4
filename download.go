package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverfog7/SophonDelta/internal"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxConnections = 128
	cancelMessage         = "[\"C\"] Stop or [\"R\"] Restart"

	limiterShared      = "shared"
	limiterTokenBucket = "token-bucket"
)

// cliSession holds what every command shares: the HTTP client, the limiter and the progress counters
type cliSession struct {
	args     *Args
	logger   *slog.Logger
	client   *http.Client
	limiter  internal.SpeedLimiter
	base     internal.SophonDownloadOptions
	observer internal.SophonObserver
	metrics  *http.Server
	keys     chan byte
	progress progressCounter
}

func newCliSession(args *Args, logger *slog.Logger) (*cliSession, error) {
	maxConnections := args.MaxConnections
	if maxConnections <= 0 {
		maxConnections = defaultMaxConnections
	}
	if args.Threads <= 0 {
		args.Threads = internal.DefaultConcurrency()
	}

	var speedLimit int64
	if args.SpeedLimit != "" {
		limit, err := humanize.ParseBytes(args.SpeedLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid speed limit %q: %w", args.SpeedLimit, err)
		}
		speedLimit = int64(limit)
	}
	limiter, err := newSpeedLimiter(args.Limiter, speedLimit)
	if err != nil {
		return nil, err
	}

	base := internal.SophonDownloadOptions{
		RetryCount:  args.RetryCount,
		ReadTimeout: args.ReadTimeout,
		Concurrency: args.Threads,
	}
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("invalid download options: %w", err)
	}

	s := &cliSession{
		args:   args,
		logger: logger,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: maxConnections,
				MaxConnsPerHost:     maxConnections,
			},
		},
		limiter: limiter,
		base:    base,
		keys:    readKeys(),
	}

	if args.MetricsAddr != "" {
		observer, err := internal.NewPrometheusObserver(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		s.observer = observer

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.metrics = &http.Server{Addr: args.MetricsAddr, Handler: mux}
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	return s, nil
}

// newSpeedLimiter builds the limiter named by kind. The shared limiter splits the speed
// between active chunks, the token bucket lets chunks compete for one bucket.
func newSpeedLimiter(kind string, bytesPerSecond int64) (internal.SpeedLimiter, error) {
	switch kind {
	case "", limiterShared:
		return internal.CreateInstance(bytesPerSecond), nil
	case limiterTokenBucket:
		return internal.NewTokenBucketSpeedLimiter(bytesPerSecond), nil
	default:
		return nil, fmt.Errorf("unknown limiter %q (want %s or %s)", kind, limiterShared, limiterTokenBucket)
	}
}

func (s *cliSession) Close() {
	s.client.CloseIdleConnections()
	if s.metrics != nil {
		s.metrics.Close()
	}
}

func (s *cliSession) downloadOptions() *internal.SophonDownloadOptions {
	opts := s.base
	opts.Client = s.client
	opts.Logger = internal.NewSlogLogger(s.logger)
	opts.Observer = s.observer
	opts.SpeedLimiter = s.limiter
	opts.WriteInfo = func(n int64) { s.progress.written.Add(n) }
	opts.DownloadInfo = func(downloaded, _ int64) { s.progress.downloaded.Add(downloaded) }
	return &opts
}

// run executes command until it finishes, Ctrl-C is pressed or "C" is typed.
// Typing "R" cancels the command and starts it again.
func (s *cliSession) run(command func(ctx context.Context) error) error {
	for {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		ctx, cancel := context.WithCancel(ctx)

		var restart atomic.Bool
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case key := <-s.keys:
					switch key {
					case 'C', 'c':
						s.logger.Info("Cancelling...")
						cancel()
						return
					case 'R', 'r':
						s.logger.Info("Restarting...")
						restart.Store(true)
						cancel()
						return
					}
				}
			}
		}()

		s.progress.reset()
		err := command(ctx)
		cancel()
		stop()

		if restart.Load() {
			continue
		}
		return err
	}
}

// readKeys forwards the bytes typed on stdin
func readKeys() chan byte {
	keys := make(chan byte)
	go func() {
		var b [1]byte
		for {
			if _, err := os.Stdin.Read(b[:]); err != nil {
				return
			}
			keys <- b[0]
		}
	}()
	return keys
}

// progressCounter aggregates the signed progress deltas reported by the engine
type progressCounter struct {
	written    atomic.Int64
	downloaded atomic.Int64
	total      atomic.Int64
}

func (p *progressCounter) reset() {
	p.written.Store(0)
	p.downloaded.Store(0)
	p.total.Store(0)
}

// report prints the progress line until ctx is done
func (p *progressCounter) report(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	startTime := time.Now()

	for {
		select {
		case <-ticker.C:
			written := max(p.written.Load(), 0)
			downloaded := max(p.downloaded.Load(), 0)
			speed := float64(downloaded) / max(time.Since(startTime).Seconds(), 1e-3)

			fmt.Printf("\r%s | %s/%s (%s/s, %s from network)    ",
				cancelMessage,
				humanize.IBytes(uint64(written)),
				humanize.IBytes(uint64(max(p.total.Load(), 0))),
				humanize.IBytes(uint64(speed)),
				humanize.IBytes(uint64(downloaded)),
			)
		case <-ctx.Done():
			fmt.Println()
			return
		}
	}
}

// withProgress runs fn while printing progress
func (s *cliSession) withProgress(ctx context.Context, fn func() error) error {
	progressCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.progress.report(progressCtx)
	}()

	err := fn()
	stop()
	<-done
	return err
}

func ManifestInfoCommand(ctx context.Context, s *cliSession, cmd *ManifestInfoCmd) error {
	pair, err := internal.NewSophonHTTPClient(s.client).CreateSophonChunkManifestInfoPair(ctx, cmd.URL, cmd.FieldName)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if cmd.OutputPath != "-" {
		file, err := os.Create(cmd.OutputPath)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(pair)
}

func DownloadCommand(ctx context.Context, s *cliSession, cmd *DownloadCmd) error {
	pair, err := internal.NewSophonHTTPClient(s.client).CreateSophonChunkManifestInfoPair(ctx, cmd.URL, cmd.FieldName)
	if err != nil {
		return fmt.Errorf("error getting manifest: %w", err)
	}
	if !pair.IsFound {
		return fmt.Errorf("manifest not found: %d %s", pair.ReturnCode, pair.ReturnMessage)
	}

	opts := s.downloadOptions()
	assetChan, err := internal.Enumerate(ctx, pair, opts)
	if err != nil {
		return fmt.Errorf("error enumerating assets: %w", err)
	}

	var assets []*internal.SophonAsset
	for asset := range assetChan {
		assets = append(assets, asset)
		s.progress.total.Add(asset.AssetSize)
	}

	if err := os.MkdirAll(cmd.Path, 0755); err != nil {
		return err
	}

	s.logger.Info("Downloading", "assets", len(assets), "size", humanize.IBytes(uint64(pair.ChunksInfo.TotalSize)))
	return s.withProgress(ctx, func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.args.Threads)
		for _, asset := range assets {
			g.Go(func() error {
				return downloadAsset(gctx, asset, cmd.Path, s.args.Threads, opts)
			})
		}
		return g.Wait()
	})
}

func downloadAsset(ctx context.Context, asset *internal.SophonAsset, outputDir string, threads int, opts *internal.SophonDownloadOptions) error {
	outputPath := filepath.Join(outputDir, asset.AssetName)
	if asset.IsDirectory {
		return os.MkdirAll(outputPath, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return err
	}

	streamFactory := func() (io.ReadWriteSeeker, error) {
		return os.OpenFile(outputPath, os.O_CREATE|os.O_RDWR, 0644)
	}

	if err := asset.WriteToStreamParallel(ctx, streamFactory, threads, opts); err != nil {
		return fmt.Errorf("failed to download %s: %w", asset.AssetName, err)
	}
	return nil
}
