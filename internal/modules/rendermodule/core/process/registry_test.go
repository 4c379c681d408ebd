package process

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry(hclog.NewNullLogger(), RegistryConfig{})

	require.NoError(t, r.Register(101, "render-L1-A"))
	require.NoError(t, r.Register(102, "render-L1-A"))
	require.NoError(t, r.Register(201, "master-normal"))

	assert.Error(t, r.Register(101, "other"))
	assert.Error(t, r.Register(0, "job"))
	assert.Error(t, r.Register(5, ""))

	assert.Len(t, r.GetProcessesByJob("render-L1-A"), 2)
	assert.Len(t, r.GetAllProcesses(), 3)

	require.NoError(t, r.Unregister(101))
	assert.Error(t, r.Unregister(101))
	assert.Len(t, r.GetProcessesByJob("render-L1-A"), 1)

	require.NoError(t, r.Unregister(102))
	assert.Empty(t, r.GetProcessesByJob("render-L1-A"))
	assert.Error(t, r.StopJob("render-L1-A"))
}

func TestRegistryCleanupRemovesDeadProcesses(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())

	r := NewRegistry(hclog.NewNullLogger(), RegistryConfig{MaxProcessAge: time.Hour})
	require.NoError(t, r.Register(pid, "render-L1-A"))

	assert.Equal(t, 0, r.CleanupStale())
	assert.Empty(t, r.GetAllProcesses())
}

func TestRegistryStatsAndShutdown(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	cmd := exec.Command("/bin/sh", "-c", "exec sleep 30")
	require.NoError(t, cmd.Start())
	waited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(waited)
	}()

	r := NewRegistry(hclog.NewNullLogger(), RegistryConfig{KillGrace: 200 * time.Millisecond})
	require.NoError(t, r.Register(cmd.Process.Pid, "blend-L1-screen"))

	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "blend-L1-screen", stats[0].JobID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	assert.Empty(t, r.GetAllProcesses())

	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("process was not terminated")
	}
}
