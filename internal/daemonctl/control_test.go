package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inkwell/internal/daemonctl"
	"inkwell/internal/testsupport"
)

func writePID(t *testing.T, path string, pid int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644))
}

func exitedPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

func TestReadPID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := daemonctl.ReadPID(cfg.PIDPath())
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(cfg.PIDPath(), []byte("garbage"), 0o644))
	_, err = daemonctl.ReadPID(cfg.PIDPath())
	require.Error(t, err)

	writePID(t, cfg.PIDPath(), 4242)
	pid, err := daemonctl.ReadPID(cfg.PIDPath())
	require.NoError(t, err)
	require.Equal(t, 4242, pid)
}

func TestProcessInfoRemovesStalePIDFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	alive, pid, err := daemonctl.ProcessInfo(cfg)
	require.NoError(t, err)
	require.False(t, alive)
	require.Zero(t, pid)

	writePID(t, cfg.PIDPath(), exitedPID(t))
	alive, _, err = daemonctl.ProcessInfo(cfg)
	require.NoError(t, err)
	require.False(t, alive)
	_, statErr := os.Stat(cfg.PIDPath())
	require.True(t, os.IsNotExist(statErr), "stale pid file should be removed")

	writePID(t, cfg.PIDPath(), os.Getpid())
	alive, pid, err = daemonctl.ProcessInfo(cfg)
	require.NoError(t, err)
	require.True(t, alive)
	require.Equal(t, os.Getpid(), pid)
}

func TestStopAndTerminateSignalsProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	writePID(t, cfg.PIDPath(), cmd.Process.Pid)
	result, err := daemonctl.StopAndTerminate(context.Background(), cfg, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, cmd.Process.Pid, result.PID)
	require.False(t, result.ForcedKill)

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestStopAndTerminateWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := daemonctl.StopAndTerminate(context.Background(), cfg, time.Second)
	require.True(t, errors.Is(err, daemonctl.ErrDaemonNotRunning))
}

func TestStopAndTerminateRefusesSelf(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	writePID(t, cfg.PIDPath(), os.Getpid())
	_, err := daemonctl.StopAndTerminate(context.Background(), cfg, time.Second)
	require.ErrorContains(t, err, "refusing")
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewBook(t, store, "Salt Roads", 3)
	require.NoError(t, store.Close())

	snap, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, snap.Online)
	require.Equal(t, 1, snap.Status.Books["concept_pending"])
	require.Equal(t, "sqlite", snap.Status.WorkQueueBackend)

	var daemonCheck daemonctl.Check
	for _, c := range snap.Checks {
		if c.Name == "daemon" {
			daemonCheck = c
		}
	}
	require.Equal(t, "warn", daemonCheck.Severity)
}
