package rendermodule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mantonx/loopforge/internal/config"
	"github.com/mantonx/loopforge/internal/database"
	"github.com/mantonx/loopforge/internal/events"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/ffmpeg"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/filtergraph"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/process"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/repository"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/storage"
	rerrors "github.com/mantonx/loopforge/internal/modules/rendermodule/errors"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

// MockRunner writes a fake output instead of running ffmpeg
type MockRunner struct {
	mu    sync.Mutex
	calls []*types.Invocation
	// inputExisted records whether every -i input was present during Run
	inputExisted []bool
	fail         error
}

func (m *MockRunner) Run(ctx context.Context, inv *types.Invocation, l process.Listener) process.Result {
	present := true
	for i, arg := range inv.Args {
		if arg == "-i" && i+1 < len(inv.Args) {
			if _, err := os.Stat(inv.Args[i+1]); err != nil {
				present = false
			}
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, inv)
	m.inputExisted = append(m.inputExisted, present)
	m.mu.Unlock()

	l.OnStart(1234)
	l.OnLog("frame=10 time=00:00:00.50")
	if m.fail != nil {
		l.OnLog("Invalid data found when processing input")
		return process.Result{Err: m.fail, ExitCode: 1}
	}
	if err := os.WriteFile(inv.OutputPath, []byte("GIF89a"), 0644); err != nil {
		return process.Result{Err: err, ExitCode: 1}
	}
	return process.Result{}
}

func (m *MockRunner) invocations() []*types.Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.Invocation(nil), m.calls...)
}

// MockProber answers from a fixed table
type MockProber struct {
	infos map[string]*ffmpeg.MediaInfo
}

func (m *MockProber) Probe(_ context.Context, path string) (*ffmpeg.MediaInfo, error) {
	if info, ok := m.infos[path]; ok {
		return info, nil
	}
	return nil, errors.New("ffprobe: invalid data")
}

type fixture struct {
	manager *Manager
	runner  *MockRunner
	prober  *MockProber
	work    string
	assets  string
}

func newFixture(t *testing.T, runs *repository.RunStore, bus events.EventBus) *fixture {
	t.Helper()
	root := t.TempDir()
	work := filepath.Join(root, "work")
	assetDir := filepath.Join(root, "assets")

	logger := hclog.NewNullLogger()
	assembler := ffmpeg.NewAssembler(logger,
		filtergraph.NewBuilder(filtergraph.FontResolverFunc(func() string { return "" })),
		ffmpeg.NewResourceManager(logger, 2),
		ffmpeg.AssemblerConfig{WorkDir: work})

	assets, err := storage.NewAssetStore(logger, storage.Config{AssetDir: assetDir, StagingDir: work})
	require.NoError(t, err)

	f := &fixture{
		runner: &MockRunner{},
		prober: &MockProber{infos: map[string]*ffmpeg.MediaInfo{}},
		work:   work,
		assets: assetDir,
	}
	f.manager, err = NewManager(logger, Settings{WorkDir: work, ProbeTimeout: time.Second}, Dependencies{
		Runner:    f.runner,
		Prober:    f.prober,
		Assembler: assembler,
		Assets:    assets,
		Runs:      runs,
		Bus:       bus,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.manager.Shutdown(context.Background()) })
	return f
}

func collect(t *testing.T, ch <-chan types.Event) []types.Event {
	t.Helper()
	var out []types.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
			return out
		}
	}
}

func terminal(t *testing.T, evs []types.Event) types.Event {
	t.Helper()
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	require.True(t, last.Terminal())
	return last
}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0644))
	return path
}

func TestSubmitRenderStagesAndPersists(t *testing.T) {
	f := newFixture(t, nil, nil)
	source := writeSource(t, "Clip.MP4")

	evs := collect(t, f.manager.SubmitRender(types.RenderRequest{
		Layer:       1,
		Stream:      "a",
		SourcePath:  source,
		Adjustments: types.DefaultAdjustments(),
		TrimEndMs:   2000,
	}))

	assert.Equal(t, types.EventStarted, evs[0].Kind())
	done, ok := terminal(t, evs).(types.Completed)
	require.True(t, ok, "expected completion, got %#v", evs)
	assert.Equal(t, filepath.Join(f.assets, "layer1_streamA.gif"), done.OutputPath)
	assert.FileExists(t, done.OutputPath)

	calls := f.runner.invocations()
	require.Len(t, calls, 1)
	assert.True(t, f.runner.inputExisted[0], "staged input must exist while ffmpeg runs")
	assert.NotContains(t, calls[0].Args, source, "ffmpeg reads the staged copy")

	entries, err := os.ReadDir(filepath.Join(f.work, stagingDirName))
	require.NoError(t, err)
	assert.Empty(t, entries, "staged inputs are removed after the job")
}

func TestSubmitRenderMissingSource(t *testing.T) {
	f := newFixture(t, nil, nil)

	evs := collect(t, f.manager.SubmitRender(types.RenderRequest{
		Layer: 2, Stream: "B", SourcePath: filepath.Join(t.TempDir(), "gone.mp4"),
	}))

	failed, ok := terminal(t, evs).(types.Failed)
	require.True(t, ok)
	assert.Equal(t, rerrors.ErrorTypeStaging, rerrors.GetType(failed.Cause))
	assert.ErrorIs(t, failed.Cause, rerrors.ErrStagingFailed)
	assert.Empty(t, f.runner.invocations())

	entries, err := os.ReadDir(filepath.Join(f.work, stagingDirName))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmitRenderToolFailureCarriesLogs(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.runner.fail = errors.New("exit status 1")

	evs := collect(t, f.manager.SubmitRender(types.RenderRequest{
		Layer: 1, Stream: "C", SourcePath: writeSource(t, "c.mov"),
	}))

	failed, ok := terminal(t, evs).(types.Failed)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Cause, rerrors.ErrToolFailed)
	assert.Contains(t, rerrors.GetLogs(failed.Cause), "Invalid data found when processing input")
}

func TestSubmitRenderValidation(t *testing.T) {
	f := newFixture(t, nil, nil)

	tests := []struct {
		name string
		req  types.RenderRequest
	}{
		{"layer", types.RenderRequest{Layer: 0, Stream: "A", SourcePath: "/x.mp4"}},
		{"stream", types.RenderRequest{Layer: 1, Stream: "AB", SourcePath: "/x.mp4"}},
		{"source", types.RenderRequest{Layer: 1, Stream: "A"}},
		{"trim", types.RenderRequest{Layer: 1, Stream: "A", SourcePath: "/x.mp4", TrimStartMs: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evs := collect(t, f.manager.SubmitRender(tt.req))
			require.Len(t, evs, 1)
			failed, ok := evs[0].(types.Failed)
			require.True(t, ok)
			assert.True(t, IsValidation(failed.Cause))
			assert.Equal(t, rerrors.ErrorTypeValidation, rerrors.GetType(failed.Cause))
		})
	}
	assert.Empty(t, f.runner.invocations())
}

func TestSubmitLayerBlendReconcilesInputs(t *testing.T) {
	f := newFixture(t, nil, nil)
	a := writeSource(t, "a.gif")
	b := writeSource(t, "b.gif")
	f.prober.infos[a] = &ffmpeg.MediaInfo{Width: 320, Height: 240, DimensionsKnown: true, DurationSec: 2, DurationKnown: true}
	f.prober.infos[b] = &ffmpeg.MediaInfo{Width: 640, Height: 480, DimensionsKnown: true, DurationSec: 5, DurationKnown: true}

	evs := collect(t, f.manager.SubmitLayerBlend(types.BlendRequest{
		Layer: 1, InputA: a, InputB: b, Mode: "Color Dodge", Opacity: 1.5,
	}))

	done, ok := terminal(t, evs).(types.Completed)
	require.True(t, ok, "expected completion, got %#v", evs)
	assert.Equal(t, filepath.Join(f.assets, "layer1_blend.gif"), done.OutputPath)

	calls := f.runner.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, "blend-L1-color-dodge", calls[0].JobID)

	graph := filterGraph(t, calls[0])
	assert.Contains(t, graph, "loop=loop=")
	assert.Contains(t, graph, "scale=640:480:flags=lanczos")
	assert.Contains(t, graph, "all_opacity=1.000")
	assert.Equal(t, int64(5000), calls[0].EstimatedDurationMs)
}

func TestSubmitMasterBlendUnknownProbeSkipsReconciliation(t *testing.T) {
	f := newFixture(t, nil, nil)
	a := writeSource(t, "layer1.gif")
	b := writeSource(t, "layer2.gif")

	evs := collect(t, f.manager.SubmitMasterBlend(types.BlendRequest{
		Layer: 7, InputA: a, InputB: b, Mode: types.BlendMultiply, Opacity: 0.5,
	}))
	_, ok := terminal(t, evs).(types.Completed)
	require.True(t, ok)

	calls := f.runner.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, "master-multiply", calls[0].JobID)

	graph := filterGraph(t, calls[0])
	assert.NotContains(t, graph, "loop=")
	assert.NotContains(t, graph, "trim=")
	assert.NotContains(t, graph, "lanczos")
}

func TestSubmitBlendMissingInput(t *testing.T) {
	f := newFixture(t, nil, nil)

	evs := collect(t, f.manager.SubmitLayerBlend(types.BlendRequest{
		Layer: 1, InputA: writeSource(t, "a.gif"), InputB: "/does/not/exist.gif",
	}))
	failed, ok := terminal(t, evs).(types.Failed)
	require.True(t, ok)
	assert.Equal(t, rerrors.ErrorTypeStaging, rerrors.GetType(failed.Cause))
	assert.Empty(t, f.runner.invocations())

	evs = collect(t, f.manager.SubmitLayerBlend(types.BlendRequest{Layer: 0, InputA: "a", InputB: "b"}))
	require.Len(t, evs, 1)
	assert.True(t, IsValidation(evs[0].(types.Failed).Cause))
}

func TestRunHistoryFollowsEvents(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "runs.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	runs := repository.NewRunStore(db, hclog.NewNullLogger())

	bus := events.NewEventBus(events.DefaultEventBusConfig(), hclog.NewNullLogger())
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	var mu sync.Mutex
	var seen []events.EventType
	_, err = bus.Subscribe("test", events.EventFilter{Sources: []string{events.SourceRender}}, func(ev events.Event) error {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	f := newFixture(t, runs, bus)
	evs := collect(t, f.manager.SubmitRender(types.RenderRequest{
		Layer: 3, Stream: "A", SourcePath: writeSource(t, "s.mp4"),
	}))
	done := terminal(t, evs).(types.Completed)

	require.Eventually(t, func() bool {
		run, err := runs.Latest(context.Background(), "layer3_streamA")
		return err == nil && run.Status == database.RenderStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	run, err := runs.Latest(context.Background(), "layer3_streamA")
	require.NoError(t, err)
	assert.Equal(t, "render-L3-A", run.JobID)
	assert.Equal(t, string(types.SlotStream), run.Kind)
	assert.Equal(t, done.OutputPath, run.OutputPath)
	assert.Contains(t, run.Request, `"sourcePath"`)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, events.EventRenderStarted, seen[0])
	assert.Equal(t, events.EventRenderCompleted, seen[len(seen)-1])
}

func TestTerminalEventRecordedWithoutBus(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "runs.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	runs := repository.NewRunStore(db, hclog.NewNullLogger())

	f := newFixture(t, runs, nil)
	f.runner.fail = errors.New("exit status 1")
	collect(t, f.manager.SubmitRender(types.RenderRequest{
		Layer: 1, Stream: "D", SourcePath: writeSource(t, "d.mp4"),
	}))

	require.Eventually(t, func() bool {
		run, err := runs.Latest(context.Background(), "layer1_streamD")
		return err == nil && run.Status == database.RenderStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	run, err := runs.Latest(context.Background(), "layer1_streamD")
	require.NoError(t, err)
	assert.Contains(t, run.Cause, "ffmpeg failed")
	assert.NotEmpty(t, run.LogLines())
}

func TestApplyConfigUpdatesPolicy(t *testing.T) {
	f := newFixture(t, nil, nil)
	work := f.manager.Settings().WorkDir

	cfg := config.DefaultConfig()
	cfg.Render.Timeout = 42 * time.Second
	cfg.Render.LogTailLines = 7
	cfg.Render.ProbeTimeout = 3 * time.Second
	cfg.Render.WorkDir = "/elsewhere"
	f.manager.ApplyConfig(nil, cfg)

	s := f.manager.Settings()
	assert.Equal(t, 42*time.Second, s.Policy.Timeout)
	assert.Equal(t, 7, s.Policy.LogTailLines)
	assert.Equal(t, 3*time.Second, s.ProbeTimeout)
	assert.Equal(t, work, s.WorkDir)
	assert.Equal(t, 42*time.Second, f.manager.scheduler.Policy().Timeout)
}

func TestCancelIdleSlot(t *testing.T) {
	f := newFixture(t, nil, nil)
	assert.False(t, f.manager.Cancel(types.MasterBlendSlot()))
	assert.Empty(t, f.manager.Active())
}

func TestNewManagerRequiresCollaborators(t *testing.T) {
	_, err := NewManager(nil, Settings{}, Dependencies{})
	assert.Error(t, err)
}

func filterGraph(t *testing.T, inv *types.Invocation) string {
	t.Helper()
	for i, arg := range inv.Args {
		if arg == "-filter_complex" && i+1 < len(inv.Args) {
			return inv.Args[i+1]
		}
	}
	t.Fatal("no -filter_complex argument")
	return ""
}
