// Package ffmpeg provides FFmpeg command assembly, probing and progress
// parsing for looping GIF renders.
//
// The assembler turns a request plus its filter graph into an Invocation:
//
//	-y -hide_banner [-ss start] [-t duration] -i input -filter_complex graph -map [out] -loop 0 out.gif
//
// Blends take two inputs and no seek. The argument vector never includes the
// binary itself; the process runner prepends it.
//
// Example usage:
//
//	assembler := ffmpeg.NewAssembler(logger, builder, resources, ffmpeg.AssemblerConfig{WorkDir: dir})
//	inv := assembler.Render(req, stagedPath)
package ffmpeg

import (
	"path/filepath"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/filtergraph"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

// AssemblerConfig holds the settings the assembler needs from configuration
type AssemblerConfig struct {
	// WorkDir receives outputs for requests without a suggested path
	WorkDir string
	// DefaultBlendDurationMs estimates blends whose inputs could not be probed
	DefaultBlendDurationMs int64
	// BlendMaxColors is the palette size for blends
	BlendMaxColors int
}

// Assembler builds ffmpeg invocations
type Assembler struct {
	logger    hclog.Logger
	builder   *filtergraph.Builder
	resources *ResourceManager
	config    AssemblerConfig
}

// NewAssembler creates a new assembler
func NewAssembler(logger hclog.Logger, builder *filtergraph.Builder, resources *ResourceManager, cfg AssemblerConfig) *Assembler {
	if cfg.DefaultBlendDurationMs <= 0 {
		cfg.DefaultBlendDurationMs = 3000
	}
	if cfg.BlendMaxColors <= 0 {
		cfg.BlendMaxColors = filtergraph.MaxColors
	}
	return &Assembler{logger: logger, builder: builder, resources: resources, config: cfg}
}

// Render assembles the invocation for a single clip read from inputPath
func (a *Assembler) Render(req types.RenderRequest, inputPath string) *types.Invocation {
	jobID := req.JobID()
	output := a.outputPath(jobID, req.SuggestedOutputPath)
	duration := EstimateClipDurationMs(req.TrimDurationMs(), req.Adjustments.TargetDurationMs)

	var args []string
	args = append(args, "-y")           // Always overwrite output files
	args = append(args, "-hide_banner") // Hide FFmpeg banner for cleaner logs
	args = append(args, "-nostdin")

	// Input seeking keeps decoding cheap for long sources
	if req.TrimStartMs > 0 {
		args = append(args, "-ss", seconds(req.TrimStartMs))
	}
	if duration > 0 {
		args = append(args, "-t", seconds(duration))
	}
	args = append(args, "-i", inputPath)

	args = append(args, a.threadArgs(false)...)
	args = append(args, "-filter_complex", a.builder.Clip(req.Adjustments))
	args = append(args, a.outputArgs(output)...)

	a.logger.Debug("assembled render", "job_id", jobID, "output", output, "estimated_ms", duration)

	return &types.Invocation{
		JobID:               jobID,
		Args:                args,
		EstimatedDurationMs: duration,
		OutputPath:          output,
	}
}

// Blend assembles the invocation compositing inputA over inputB using a
// previously computed reconciliation plan
func (a *Assembler) Blend(req types.BlendRequest, inputA, inputB string, plan filtergraph.Plan) *types.Invocation {
	jobID := req.JobID()
	output := a.outputPath(jobID, req.SuggestedOutputPath)
	duration := a.EstimateBlendDurationMs(plan)

	var args []string
	args = append(args, "-y")
	args = append(args, "-hide_banner")
	args = append(args, "-nostdin")
	args = append(args, "-i", inputA)
	args = append(args, "-i", inputB)
	args = append(args, a.threadArgs(true)...)
	args = append(args, "-filter_complex", a.builder.Blend(filtergraph.BlendOptions{
		Mode:      req.Mode,
		Opacity:   req.Opacity,
		MaxColors: a.config.BlendMaxColors,
		Plan:      plan,
	}))
	args = append(args, a.outputArgs(output)...)

	a.logger.Debug("assembled blend", "job_id", jobID, "output", output, "estimated_ms", duration,
		"loop_input", plan.LoopInput, "scale_input", plan.ScaleInput)

	return &types.Invocation{
		JobID:               jobID,
		Args:                args,
		EstimatedDurationMs: duration,
		OutputPath:          output,
	}
}

// EstimateClipDurationMs is the trimmed length, shortened to the target when
// one is set. Zero means unknown.
func EstimateClipDurationMs(trimMs, targetMs int64) int64 {
	switch {
	case trimMs > 0 && targetMs > 0:
		return min(trimMs, targetMs)
	case trimMs > 0:
		return trimMs
	case targetMs > 0:
		return targetMs
	}
	return 0
}

// EstimateBlendDurationMs prefers the reconciled duration and falls back to the
// configured default.
func (a *Assembler) EstimateBlendDurationMs(plan filtergraph.Plan) int64 {
	if plan.TrimSec > 0 {
		return int64(plan.TrimSec * 1000)
	}
	if plan.DurationSec > 0 {
		return int64(plan.DurationSec * 1000)
	}
	return a.config.DefaultBlendDurationMs
}

func (a *Assembler) outputPath(jobID, suggested string) string {
	if suggested != "" {
		return suggested
	}
	return filepath.Join(a.config.WorkDir, jobID+".gif")
}

func (a *Assembler) threadArgs(blend bool) []string {
	if a.resources == nil {
		return nil
	}
	res := a.resources.GetResources(blend)
	return []string{"-filter_complex_threads", res.FilterThreads, "-threads", res.Threads}
}

func (a *Assembler) outputArgs(output string) []string {
	return []string{
		"-map", "[" + filtergraph.OutputLabel + "]",
		"-loop", "0", // loop forever
		"-f", "gif",
		output,
	}
}

func seconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}
