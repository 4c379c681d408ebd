package rendermodule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/ffmpeg"
	rerrors "github.com/mantonx/loopforge/internal/modules/rendermodule/errors"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

// stagingDirName groups per-job input copies under the work directory.
const stagingDirName = "staging"

// stage copies source into a private directory owned by the job. The
// returned cleanup removes the directory and is non-nil once the directory
// exists.
func (m *Manager) stage(ctx context.Context, jobID, source string) (string, func(), error) {
	dir := filepath.Join(m.workDir(), stagingDirName, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, rerrors.StagingError("stage_input", err).WithJob(jobID)
	}

	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("failed to remove staged input", "job_id", jobID, "dir", dir, "error", err)
		}
	}

	staged := filepath.Join(dir, "source"+strings.ToLower(filepath.Ext(source)))
	if err := copyFile(ctx, source, staged); err != nil {
		return "", cleanup, rerrors.StagingError("stage_input", err).WithJob(jobID)
	}

	m.logger.Debug("staged input", "job_id", jobID, "source", source, "staged", staged)
	return staged, cleanup, nil
}

func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, &contextReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// probePair inspects both blend inputs concurrently. An input that cannot be
// probed is treated as unknown, which skips reconciliation on that axis.
func (m *Manager) probePair(ctx context.Context, jobID, pathA, pathB string) (*ffmpeg.MediaInfo, *ffmpeg.MediaInfo) {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout())
	defer cancel()

	paths := [2]string{pathA, pathB}
	var infos [2]*ffmpeg.MediaInfo

	var g errgroup.Group
	for i := range paths {
		g.Go(func() error {
			info, err := m.prober.Probe(ctx, paths[i])
			if err != nil || info == nil {
				m.logger.Warn("probe failed, treating input as unknown", "job_id", jobID, "path", paths[i], "error", err)
				info = ffmpeg.Unknown()
			}
			infos[i] = info
			return nil
		})
	}
	_ = g.Wait()

	return infos[0], infos[1]
}

func validateRender(req types.RenderRequest) error {
	var problems []string
	if req.Layer < 1 {
		problems = append(problems, "layer must be at least 1")
	}
	if !validStream(req.Stream) {
		problems = append(problems, fmt.Sprintf("stream %q must be a single letter", req.Stream))
	}
	if strings.TrimSpace(req.SourcePath) == "" {
		problems = append(problems, "source path is required")
	}
	if req.TrimStartMs < 0 || req.TrimEndMs < 0 {
		problems = append(problems, "trim offsets must not be negative")
	}
	return validationError("validate_render", problems)
}

func validateBlend(req types.BlendRequest) error {
	var problems []string
	if req.Scope == types.BlendScopeLayer && req.Layer < 1 {
		problems = append(problems, "layer must be at least 1")
	}
	if strings.TrimSpace(req.InputA) == "" || strings.TrimSpace(req.InputB) == "" {
		problems = append(problems, "both inputs are required")
	}
	return validationError("validate_blend", problems)
}

func validStream(s string) bool {
	if len(s) != 1 {
		return false
	}
	c := s[0] | 0x20
	return c >= 'a' && c <= 'z'
}

func validationError(op string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	err := fmt.Errorf("%w: %s", rerrors.ErrInvalidInput, strings.Join(problems, "; "))
	return rerrors.ValidationError(op, err)
}

// IsValidation reports whether err was produced by request validation.
func IsValidation(err error) bool {
	return errors.Is(err, rerrors.ErrInvalidInput)
}
