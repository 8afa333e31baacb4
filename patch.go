package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/riverfog7/SophonDelta/internal"
	"golang.org/x/sync/errgroup"
)

const stagingDirName = "chunk_collapse"

func UpdateCommand(ctx context.Context, s *cliSession, cmd *UpdateCmd) error {
	client := internal.NewSophonHTTPClient(s.client)
	oldPair, err := client.CreateSophonChunkManifestInfoPair(ctx, cmd.OldURL, cmd.FieldName)
	if err != nil {
		return fmt.Errorf("error getting old manifest: %w", err)
	}
	newPair, err := client.CreateSophonChunkManifestInfoPair(ctx, cmd.NewURL, cmd.FieldName)
	if err != nil {
		return fmt.Errorf("error getting new manifest: %w", err)
	}

	opts := s.downloadOptions()
	assets, unchanged, err := internal.CollectUpdate(ctx, oldPair, newPair, opts)
	if err != nil {
		return fmt.Errorf("error enumerating update: %w", err)
	}

	chunkDir := cmd.ChunkDir
	if chunkDir == "" {
		chunkDir = filepath.Join(cmd.NewPath, stagingDirName)
	}
	for _, dir := range []string{cmd.NewPath, chunkDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	for _, asset := range assets {
		if cmd.Preload {
			for _, chunk := range asset.Chunks {
				if !chunk.HasOldReference() {
					s.progress.total.Add(chunk.ChunkSize)
				}
			}
		} else {
			s.progress.total.Add(asset.AssetSize)
		}
	}

	if cmd.Preload {
		return s.preload(ctx, assets, chunkDir, cmd)
	}

	for _, asset := range unchanged {
		s.progress.total.Add(asset.AssetSize)
	}
	s.logger.Info("Updating", "assets", len(assets), "unchanged", len(unchanged))
	return s.withProgress(ctx, func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.args.Threads)
		for _, asset := range unchanged {
			g.Go(func() error {
				if err := asset.CarryOver(cmd.OldPath, cmd.NewPath, opts); err != nil {
					return fmt.Errorf("failed to carry over %s: %w", asset.AssetName, err)
				}
				return nil
			})
		}
		for _, asset := range assets {
			g.Go(func() error {
				err := asset.WriteUpdateParallel(gctx, cmd.OldPath, cmd.NewPath, chunkDir, cmd.RemoveChunks, s.args.Threads, opts)
				if err != nil {
					return fmt.Errorf("failed to update %s: %w", asset.AssetName, err)
				}
				return nil
			})
		}
		return g.Wait()
	})
}

// preload stages the chunks of the update that the installed version cannot provide
func (s *cliSession) preload(ctx context.Context, assets []*internal.SophonAsset, chunkDir string, cmd *UpdateCmd) error {
	var staged int64
	for _, asset := range assets {
		size, err := asset.GetDownloadedPreloadSize(ctx, chunkDir, cmd.NewPath, true)
		if err != nil {
			return err
		}
		staged += size
	}
	s.logger.Info("Preloading", "assets", len(assets),
		"size", humanize.IBytes(uint64(s.progress.total.Load())),
		"staged", humanize.IBytes(uint64(staged)))

	opts := s.downloadOptions()
	return s.withProgress(ctx, func() error {
		for _, asset := range assets {
			if err := asset.DownloadDiffChunks(ctx, chunkDir, s.args.Threads, cmd.ForceVerify, opts); err != nil {
				return fmt.Errorf("failed to preload %s: %w", asset.AssetName, err)
			}
		}
		return nil
	})
}

func PatchCommand(ctx context.Context, s *cliSession, cmd *PatchCmd) error {
	client := internal.NewSophonHTTPClient(s.client)
	patchPair, err := client.CreateSophonPatchManifestInfoPair(ctx, cmd.URL, cmd.VersionFrom, cmd.FieldName)
	if err != nil {
		return fmt.Errorf("error getting patch manifest: %w", err)
	}
	if !patchPair.IsFound {
		return fmt.Errorf("patch manifest not found: %d %s", patchPair.ReturnCode, patchPair.ReturnMessage)
	}

	var buildPair *internal.SophonChunkManifestInfoPair
	if cmd.BuildURL != "" {
		buildPair, err = client.CreateSophonChunkManifestInfoPair(ctx, cmd.BuildURL, cmd.FieldName)
		if err != nil {
			return fmt.Errorf("error getting build manifest: %w", err)
		}
	}

	downloadOpts := s.downloadOptions()
	directives, err := internal.EnumeratePatch(ctx, patchPair, cmd.VersionFrom, buildPair, downloadOpts)
	if err != nil {
		return fmt.Errorf("error enumerating patch: %w", err)
	}
	if cmd.FullURL != "" {
		for _, directive := range directives {
			if directive.PatchMethod != internal.Remove {
				directive.TargetFileDownloadOverBaseUrl = cmd.FullURL
			}
		}
	}

	patchDir := cmd.PatchDir
	if patchDir == "" {
		patchDir = filepath.Join(cmd.Path, stagingDirName)
	}
	if err := os.MkdirAll(patchDir, 0755); err != nil {
		return err
	}

	opts := &internal.SophonPatchOptions{
		SophonDownloadOptions: *downloadOpts,
		Patcher:               internal.NewMagicPatcher(s.args.HPatchz, downloadOpts.Logger),
		RemoveOldAssets:       cmd.RemoveOldAssets,
		DiskWrite:             func(n int64) { s.progress.written.Add(n) },
		DownloadRead:          func(n int64) { s.progress.downloaded.Add(n) },
	}
	for _, directive := range directives {
		if directive.PatchMethod != internal.Remove {
			s.progress.total.Add(directive.TargetFileSize)
		}
	}

	s.logger.Info("Patching", "directives", len(directives), "from", cmd.VersionFrom)
	return s.withProgress(ctx, func() error {
		if err := internal.DownloadPatches(ctx, directives, patchDir, cmd.ForceVerify, s.args.Threads, opts); err != nil {
			return fmt.Errorf("failed to download patches: %w", err)
		}
		return internal.ApplyPatchUpdates(ctx, directives, cmd.Path, patchDir, s.args.Threads, opts)
	})
}
