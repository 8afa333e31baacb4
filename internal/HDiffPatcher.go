package internal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gabstv/go-bsdiff/pkg/bspatch"
	"github.com/google/uuid"
)

const (
	hdiffSignature  = "HDIFF"
	bsdiffSignature = "BSDIFF40"
)

// BinaryPatcher rebuilds targetPath from originalPath and a binary delta
type BinaryPatcher interface {
	Apply(ctx context.Context, originalPath string, patch io.Reader, targetPath string) error
}

// HPatchzPatcher applies HDiff payloads with the hpatchz tool
type HPatchzPatcher struct {
	ToolPath string
}

// NewHPatchzPatcher locates hpatchz at toolPath, or on PATH when toolPath is empty or missing
func NewHPatchzPatcher(toolPath string) (*HPatchzPatcher, error) {
	if toolPath != "" {
		if _, err := os.Stat(toolPath); err == nil {
			return &HPatchzPatcher{ToolPath: toolPath}, nil
		}
	}
	loc, err := exec.LookPath("hpatchz")
	if err != nil {
		return nil, fmt.Errorf("%w: hpatchz not found: %v", ErrPatcherUnavailable, err)
	}
	return &HPatchzPatcher{ToolPath: loc}, nil
}

// Apply spills the patch next to the target and runs hpatchz over it
func (p *HPatchzPatcher) Apply(ctx context.Context, originalPath string, patch io.Reader, targetPath string) error {
	diffPath := filepath.Join(filepath.Dir(targetPath), fmt.Sprintf(".%s.hdiff", uuid.NewString()))
	diffFile, err := os.Create(diffPath)
	if err != nil {
		return fmt.Errorf("failed to create patch file: %w", err)
	}
	defer os.Remove(diffPath)

	_, err = io.Copy(diffFile, patch)
	if closeErr := diffFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write patch file: %w", err)
	}

	output, err := exec.CommandContext(ctx, p.ToolPath, "-f", originalPath, diffPath, targetPath).CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("hpatchz failed: %v: %s", err, output)
	}
	return nil
}

// BsdiffPatcher applies BSDIFF40 payloads in memory
type BsdiffPatcher struct{}

func (BsdiffPatcher) Apply(ctx context.Context, originalPath string, patch io.Reader, targetPath string) error {
	oldData, err := os.ReadFile(originalPath)
	if err != nil {
		return fmt.Errorf("failed to read original file: %w", err)
	}
	patchData, err := io.ReadAll(patch)
	if err != nil {
		return fmt.Errorf("failed to read patch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	newData, err := bspatch.Bytes(oldData, patchData)
	if err != nil {
		return fmt.Errorf("bspatch failed: %w", err)
	}
	return os.WriteFile(targetPath, newData, 0644)
}

// MagicPatcher picks a patcher from the signature of the payload
type MagicPatcher struct {
	HDiff  BinaryPatcher
	Bsdiff BinaryPatcher
}

// NewMagicPatcher handles BSDIFF40 payloads and, when hpatchz is found, HDiff ones
func NewMagicPatcher(hpatchzPath string, logger Logger) *MagicPatcher {
	patcher := &MagicPatcher{Bsdiff: BsdiffPatcher{}}
	hdiff, err := NewHPatchzPatcher(hpatchzPath)
	if err != nil {
		PushLogWarning(logger, fmt.Sprintf("HDiff patches are unavailable: %v", err))
		return patcher
	}
	patcher.HDiff = hdiff
	return patcher
}

func (p *MagicPatcher) Apply(ctx context.Context, originalPath string, patch io.Reader, targetPath string) error {
	reader := bufio.NewReader(patch)
	head, _ := reader.Peek(len(bsdiffSignature))

	var selected BinaryPatcher
	switch {
	case len(head) >= len(hdiffSignature) && string(head[:len(hdiffSignature)]) == hdiffSignature:
		selected = p.HDiff
	case string(head) == bsdiffSignature:
		selected = p.Bsdiff
	default:
		return fmt.Errorf("%w: unknown patch signature %q", ErrPatcherUnavailable, head)
	}
	if selected == nil {
		return fmt.Errorf("%w: signature %q", ErrPatcherUnavailable, head)
	}
	return selected.Apply(ctx, originalPath, reader, targetPath)
}
