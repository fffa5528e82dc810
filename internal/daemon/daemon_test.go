package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"inkwell/internal/api"
	"inkwell/internal/apiclient"
	"inkwell/internal/config"
	"inkwell/internal/daemon"
	"inkwell/internal/logging"
	"inkwell/internal/notifications"
	"inkwell/internal/services"
	"inkwell/internal/services/llm"
	"inkwell/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	rt, err := daemon.BuildRuntime(context.Background(), cfg, logging.NewNop(), daemon.RuntimeOptions{
		Generator: &llm.Fake{},
		Notifier:  &notifications.Recorder{},
	})
	if err != nil {
		t.Fatalf("BuildRuntime: %v", err)
	}
	d, err := daemon.New(cfg, rt, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.WorkQueueBackend != "sqlite" {
		t.Fatalf("unexpected backend %q", status.WorkQueueBackend)
	}
	if !status.Workflow.Running {
		t.Fatal("expected workflow to report running")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	time.Sleep(50 * time.Millisecond)
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected lock contention to block the second daemon")
	}
	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release failed: %v", err)
	}
}

func TestDaemonServesStatusOverHTTP(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	addr := d.APIAddress()
	if addr == "" {
		t.Fatal("expected API listener address")
	}
	resp, err := http.Get("http://" + addr + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAPIClientAgainstDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	client, err := apiclient.New(d.APIAddress(), "")
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	book, err := client.CreateBook(ctx, api.CreateBookRequest{Title: "The Quiet Harbor", TargetChapterCount: 4})
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if book.Status != "concept_pending" {
		t.Fatalf("unexpected status %q", book.Status)
	}

	_, err = client.FireBookEvent(ctx, book.ID, "approve_for_export", 0)
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition across HTTP, got %v", err)
	}

	_, err = client.FireBookEvent(ctx, book.ID, "start_keyword_research", book.Version+5)
	if !errors.Is(err, services.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict across HTTP, got %v", err)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.Books["concept_pending"] != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}
