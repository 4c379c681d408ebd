package ffmpeg

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/filtergraph"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

func newTestAssembler(workDir string) *Assembler {
	logger := hclog.NewNullLogger()
	return NewAssembler(logger, filtergraph.NewBuilder(nil), NewResourceManager(logger, 2), AssemblerConfig{
		WorkDir:                workDir,
		DefaultBlendDurationMs: 2500,
		BlendMaxColors:         200,
	})
}

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return ""
}

func TestAssemblerRender(t *testing.T) {
	a := newTestAssembler("/work")
	req := types.RenderRequest{
		Layer:       1,
		Stream:      "a",
		SourcePath:  "/videos/clip.mp4",
		Adjustments: types.DefaultAdjustments(),
		TrimStartMs: 1500,
		TrimEndMs:   4000,
	}

	inv := a.Render(req, "/tmp/stage/clip.mp4")

	assert.Equal(t, "render-L1-A", inv.JobID)
	assert.Equal(t, filepath.Join("/work", "render-L1-A.gif"), inv.OutputPath)
	assert.Equal(t, int64(2500), inv.EstimatedDurationMs)

	assert.Equal(t, []string{"-y", "-hide_banner", "-nostdin"}, inv.Args[:3])
	assert.Equal(t, "1.500", argValue(t, inv.Args, "-ss"))
	assert.Equal(t, "2.500", argValue(t, inv.Args, "-t"))
	assert.Equal(t, "/tmp/stage/clip.mp4", argValue(t, inv.Args, "-i"))
	assert.Equal(t, "[out]", argValue(t, inv.Args, "-map"))
	assert.Equal(t, "0", argValue(t, inv.Args, "-loop"))
	assert.Equal(t, "2", argValue(t, inv.Args, "-threads"))
	assert.Equal(t, "1", argValue(t, inv.Args, "-filter_complex_threads"))
	assert.True(t, strings.HasPrefix(argValue(t, inv.Args, "-filter_complex"), "[0:v]setpts=PTS-STARTPTS,fps=15,"))
	assert.Equal(t, inv.OutputPath, inv.Args[len(inv.Args)-1])
}

func TestAssemblerRenderTargetDuration(t *testing.T) {
	a := newTestAssembler("/work")
	req := types.RenderRequest{Layer: 2, Stream: "B", Adjustments: types.DefaultAdjustments(), TrimEndMs: 6000}
	req.Adjustments.TargetDurationMs = 2000
	req.SuggestedOutputPath = "/assets/custom.gif"

	inv := a.Render(req, "/in.mp4")

	assert.Equal(t, int64(2000), inv.EstimatedDurationMs)
	assert.Equal(t, "2.000", argValue(t, inv.Args, "-t"))
	assert.NotContains(t, inv.Args, "-ss")
	assert.Equal(t, "/assets/custom.gif", inv.OutputPath)
}

func TestAssemblerRenderOpenEnded(t *testing.T) {
	a := newTestAssembler("/work")
	inv := a.Render(types.RenderRequest{Layer: 1, Stream: "A", Adjustments: types.DefaultAdjustments()}, "/in.mp4")

	assert.Equal(t, int64(0), inv.EstimatedDurationMs)
	assert.NotContains(t, inv.Args, "-t")
}

func TestAssemblerBlend(t *testing.T) {
	a := newTestAssembler("/work")
	req := types.BlendRequest{Scope: types.BlendScopeLayer, Layer: 3, InputA: "/a.gif", InputB: "/b.gif", Mode: types.BlendDifference, Opacity: 1.4}
	plan := filtergraph.Reconcile(
		filtergraph.MediaShape{Width: 100, Height: 100, DimensionsKnown: true, DurationSec: 4, DurationKnown: true},
		filtergraph.MediaShape{Width: 100, Height: 100, DimensionsKnown: true, DurationSec: 2, DurationKnown: true},
	)

	inv := a.Blend(req, "/stage/a.gif", "/stage/b.gif", plan)

	assert.Equal(t, "blend-L3-difference", inv.JobID)
	assert.Equal(t, int64(4000), inv.EstimatedDurationMs)

	var inputs []string
	for i, arg := range inv.Args {
		if arg == "-i" {
			inputs = append(inputs, inv.Args[i+1])
		}
	}
	assert.Equal(t, []string{"/stage/a.gif", "/stage/b.gif"}, inputs)

	graph := argValue(t, inv.Args, "-filter_complex")
	assert.Contains(t, graph, "blend=all_mode=difference:all_opacity=1.000")
	assert.Contains(t, graph, "palettegen=max_colors=200:")
	assert.Contains(t, graph, "loop=loop=1:")
	assert.Equal(t, "2", argValue(t, inv.Args, "-threads"))
}

func TestEstimateBlendDuration(t *testing.T) {
	a := newTestAssembler("/work")

	assert.Equal(t, int64(2500), a.EstimateBlendDurationMs(filtergraph.Plan{}))
	assert.Equal(t, int64(1800), a.EstimateBlendDurationMs(filtergraph.Plan{DurationSec: 1.8}))
	assert.Equal(t, int64(3000), a.EstimateBlendDurationMs(filtergraph.Plan{TrimSec: 3, DurationSec: 3}))
}

func TestEstimateClipDuration(t *testing.T) {
	tests := []struct {
		trim, target, want int64
	}{
		{0, 0, 0},
		{3000, 0, 3000},
		{0, 1200, 1200},
		{3000, 1200, 1200},
		{1000, 5000, 1000},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, EstimateClipDurationMs(tt.trim, tt.target), "trim=%d target=%d", tt.trim, tt.target)
	}
}

func TestResourceManagerAuto(t *testing.T) {
	rm := &ResourceManager{logger: hclog.NewNullLogger(), cpuCount: 8}

	assert.Equal(t, ResourceConfig{Threads: "4", FilterThreads: "2"}, rm.GetResources(false))
	assert.Equal(t, ResourceConfig{Threads: "8", FilterThreads: "4"}, rm.GetResources(true))

	single := &ResourceManager{logger: hclog.NewNullLogger(), cpuCount: 1}
	assert.Equal(t, ResourceConfig{Threads: "1", FilterThreads: "1"}, single.GetResources(false))
}
