package daemonrun

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"inkwell/internal/logs"
	"inkwell/internal/testsupport"
)

func TestRunWritesPIDAndShutsDownOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, cfg, Options{LogLevel: "info"})
	}()

	pidPath := cfg.PIDPath()
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(pidPath)
		if err == nil {
			if pid, _ := strconv.Atoi(strings.TrimSpace(string(data))); pid != os.Getpid() {
				t.Fatalf("pid file holds %q, want %d", data, os.Getpid())
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pid file never appeared: %v", err)
		}
		time.Sleep(25 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, stat err = %v", err)
	}

	res, err := logs.Tail(context.Background(), cfg.LogPath(), logs.TailOptions{
		Offset: -1,
		Limit:  50,
		Filter: logs.Filter{Search: "configuration snapshot"},
	})
	if err != nil {
		t.Fatalf("tail log: %v", err)
	}
	if len(res.Lines) != 1 {
		t.Fatalf("expected one snapshot line in %s, got %#v", cfg.LogPath(), res.Lines)
	}
	if entry, ok := logs.ParseEntry(res.Lines[0]); !ok || entry.Fields["workqueue_backend"] != "sqlite" {
		t.Fatalf("unexpected snapshot entry: %+v", entry)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}
