package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alexflint/go-arg"
)

// Define command structs
type ManifestInfoCmd struct {
	URL        string `arg:"positional,required" help:"Sophon Build URL"`
	OutputPath string `arg:"positional,required" help:"Path to output JSON file or - for stdout"`
	FieldName  string `arg:"--field" default:"game" help:"Matching field name"`
}

type DownloadCmd struct {
	URL       string `arg:"positional,required" help:"Sophon Build URL"`
	FieldName string `arg:"positional,required" help:"Matching field name (usually 'game')"`
	Path      string `arg:"positional,required" help:"Download output path"`
}

type UpdateCmd struct {
	OldURL       string `arg:"positional,required" help:"Sophon Build URL of the installed version"`
	NewURL       string `arg:"positional,required" help:"Sophon Build URL of the new version"`
	FieldName    string `arg:"positional,required" help:"Matching field name (usually 'game')"`
	OldPath      string `arg:"positional,required" help:"Directory of the installed version"`
	NewPath      string `arg:"positional,required" help:"Output directory of the new version"`
	ChunkDir     string `arg:"--chunk-dir" help:"Staged chunk directory (default: <NewPath>/chunk_collapse)"`
	Preload      bool   `arg:"--preload" help:"Only stage the chunks missing from the installed version"`
	ForceVerify  bool   `arg:"--force-verify" help:"Hash staged chunks even when already marked as verified"`
	RemoveChunks bool   `arg:"--remove-chunks" help:"Remove staged chunks once applied"`
}

type PatchCmd struct {
	URL             string `arg:"positional,required" help:"Sophon Patch URL"`
	FieldName       string `arg:"positional,required" help:"Matching field name (usually 'game')"`
	VersionFrom     string `arg:"positional,required" help:"Installed version tag"`
	Path            string `arg:"positional,required" help:"Game directory to patch in place"`
	BuildURL        string `arg:"--build-url" help:"Sophon Build URL of the new version, used to download files that cannot be patched"`
	FullURL         string `arg:"--full-url" help:"Base URL serving whole target files, used when no build manifest provides them"`
	PatchDir        string `arg:"--patch-dir" help:"Patch blob directory (default: <Path>/chunk_collapse)"`
	ForceVerify     bool   `arg:"--force-verify" help:"Hash downloaded patch blobs before reusing them"`
	RemoveOldAssets bool   `arg:"--remove-old-assets" help:"Delete files retired by the new version"`
}

// Root command struct
type Args struct {
	Threads        int           `arg:"-t,--threads" help:"Amount of threads to be used (default: min(8, NumCPU))"`
	MaxConnections int           `arg:"--max-connections" help:"Amount of max connections for HTTP client (default: 128)"`
	SpeedLimit     string        `arg:"--speed-limit" help:"Download speed limit per second, e.g. 20MB (default: unlimited)"`
	Limiter        string        `arg:"--limiter" help:"Speed limiter: shared or token-bucket (default: shared)"`
	RetryCount     int           `arg:"--retry-count" help:"Retries of a chunk failing with a network error (default: 10)"`
	ReadTimeout    time.Duration `arg:"--read-timeout" help:"Abort a chunk read stalled for this long, e.g. 30s (default: 20s)"`
	HPatchz        string        `arg:"--hpatchz" help:"Path of the hpatchz tool used for HDiff patches"`
	MetricsAddr    string        `arg:"--metrics-addr" help:"Serve Prometheus metrics on this address"`
	Config         string        `arg:"--config" help:"Defaults file (default: $XDG_CONFIG_HOME/sophon/config.toml)"`
	Verbose        bool          `arg:"-v,--verbose" help:"Print debug logs"`

	ManifestInfo *ManifestInfoCmd `arg:"subcommand:manifestinfo" help:"Fetch and output manifest information"`
	Download     *DownloadCmd     `arg:"subcommand:download" help:"Download assets"`
	Update       *UpdateCmd       `arg:"subcommand:update" help:"Update an installation by reusing its unchanged chunks"`
	Patch        *PatchCmd        `arg:"subcommand:patch" help:"Patch an installation in place"`
}

func (Args) Description() string {
	return "Sophon chunked download and delta update client"
}

func main() {
	var args Args
	p := arg.MustParse(&args)

	configPath := args.Config
	if configPath == "" {
		configPath = ConfigPath()
	}
	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", configPath, err)
		os.Exit(1)
	}
	if err := cfg.apply(&args); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config %s: %v\n", configPath, err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if args.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if p.Subcommand() == nil {
		p.WriteHelp(os.Stdout)
		os.Exit(1)
	}

	session, err := newCliSession(&args, logger)
	if err != nil {
		logger.Error("failed to set up session", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	var command func(ctx context.Context) error
	switch {
	case args.ManifestInfo != nil:
		command = func(ctx context.Context) error { return ManifestInfoCommand(ctx, session, args.ManifestInfo) }
	case args.Download != nil:
		command = func(ctx context.Context) error { return DownloadCommand(ctx, session, args.Download) }
	case args.Update != nil:
		command = func(ctx context.Context) error { return UpdateCommand(ctx, session, args.Update) }
	case args.Patch != nil:
		command = func(ctx context.Context) error { return PatchCommand(ctx, session, args.Patch) }
	}

	err = session.run(command)
	if err != nil {
		logger.Error("command failed", "error", err)
		session.Close()
		os.Exit(1)
	}
}
