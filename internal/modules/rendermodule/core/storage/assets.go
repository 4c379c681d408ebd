// Package storage persists finished renders into the asset directory.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/gif"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chai2010/webp"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

// PosterSuffix is appended to the asset name for its still preview.
const PosterSuffix = ".poster.webp"

// Config holds asset store settings
type Config struct {
	// AssetDir receives canonical outputs, one file per slot.
	AssetDir string
	// StagingDir is where the assembler writes unsuggested outputs. Files
	// produced there are moved into AssetDir; anything else stays in place.
	StagingDir    string
	EnablePosters bool
	PosterQuality float32
	Mirror        MirrorConfig
}

// AssetStore moves produced files to their canonical location and writes a
// poster next to each.
type AssetStore struct {
	logger hclog.Logger
	config Config
	mirror Mirror
}

// NewAssetStore creates a new asset store
func NewAssetStore(logger hclog.Logger, cfg Config) (*AssetStore, error) {
	if cfg.AssetDir == "" {
		return nil, fmt.Errorf("asset directory is required")
	}
	if err := os.MkdirAll(cfg.AssetDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}
	if cfg.PosterQuality <= 0 || cfg.PosterQuality > 100 {
		cfg.PosterQuality = 80
	}

	return &AssetStore{
		logger: logger.Named("asset-store"),
		config: cfg,
	}, nil
}

// UseMirror uploads every subsequently persisted asset and poster to m.
func (s *AssetStore) UseMirror(m Mirror) {
	s.mirror = m
	if m != nil {
		s.logger.Info("asset mirror enabled", "backend", s.config.Mirror.Backend,
			"bucket", s.config.Mirror.Bucket, "prefix", s.config.Mirror.Prefix)
	}
}

// Close releases the mirror client, if any.
func (s *AssetStore) Close() error {
	if s.mirror == nil {
		return nil
	}
	return s.mirror.Close()
}

// CanonicalPath is where the output for slot lives once persisted.
func (s *AssetStore) CanonicalPath(slot types.SlotKey) string {
	return filepath.Join(s.config.AssetDir, slot.String()+".gif")
}

// PosterPath returns the poster location for an asset path.
func PosterPath(assetPath string) string {
	return strings.TrimSuffix(assetPath, filepath.Ext(assetPath)) + PosterSuffix
}

// Persist takes ownership of the produced file and returns its final path.
// Poster and mirror failures are logged and do not fail the persist.
func (s *AssetStore) Persist(ctx context.Context, slot types.SlotKey, jobID, produced string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(produced)
	if err != nil {
		return "", fmt.Errorf("produced file missing: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("produced file %s is empty", produced)
	}

	final := produced
	if s.isStaged(produced) {
		final = s.CanonicalPath(slot)
		if err := moveFile(produced, final); err != nil {
			return "", fmt.Errorf("failed to move %s to %s: %w", produced, final, err)
		}
	}

	mirrored := []string{final}
	if s.config.EnablePosters {
		if err := s.writePoster(final); err != nil {
			s.logger.Warn("failed to write poster", "job_id", jobID, "path", final, "error", err)
		} else {
			mirrored = append(mirrored, PosterPath(final))
		}
	}
	s.mirrorFiles(ctx, jobID, mirrored...)

	s.logger.Info("asset persisted", "job_id", jobID, "slot", slot.String(), "path", final, "bytes", info.Size())
	return final, nil
}

func (s *AssetStore) isStaged(path string) bool {
	if s.config.StagingDir == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(s.config.StagingDir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

// writePoster encodes the first frame of the GIF at path as WebP.
func (s *AssetStore) writePoster(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	img, err := gif.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to decode first frame: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: s.config.PosterQuality}); err != nil {
		return fmt.Errorf("failed to encode poster: %w", err)
	}

	return writeAtomic(PosterPath(path), buf.Bytes())
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// moveFile renames src to dst, copying when they sit on different devices.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}
