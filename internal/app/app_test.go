package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dashcap/internal/capture"
	"dashcap/internal/jobs"
	"dashcap/internal/render"
)

func writeTestFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// NewApp sets zerolog globals, so these tests do not run in parallel.
func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	dash := filepath.Join(dir, "dashboards.json")
	writeTestFile(t, dash, `{"sales": {"name": "Sales", "url": "https://dash.example/sales", "list_name": "Morning"}}`)
	cfgPath := filepath.Join(dir, "config.yaml")
	writeTestFile(t, cfgPath, `
logging:
  level: error
scheduler:
  enabled: false
  timezone: UTC
catalog:
  dashboards_file: `+dash+`
  lists_file: `+filepath.Join(dir, "lists.json")+`
archive:
  dir: `+filepath.Join(dir, "shots")+`
storage:
  driver: sqlite
  path: `+filepath.Join(dir, "dashcap.db")+`
`)
	a, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	return a
}

func TestNewAppWiresComponents(t *testing.T) {
	a := newTestApp(t)
	defer func() {
		if err := a.Stop(context.Background(), StopOneShot); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	}()

	if got := a.Catalog().List("morning"); len(got) != 1 || got[0].ID != "sales" {
		t.Fatalf("List(morning) = %+v", got)
	}

	ctx := context.Background()
	def, err := a.Jobs().Create(ctx, jobs.Input{
		Name:       "daily sales",
		TargetIDs:  []string{"sales"},
		Recurrence: jobs.Daily,
		Anchor:     jobs.Anchor{TimeOfDay: "08:00"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if def.NextDue == nil || !def.NextDue.After(time.Now()) {
		t.Fatalf("NextDue = %v, want a future instant", def.NextDue)
	}
	got, err := a.Jobs().List(ctx)
	if err != nil || len(got) != 1 || got[0].ID != def.ID {
		t.Fatalf("List() = %+v, %v", got, err)
	}
}

func TestCaptureOnceRejectsUnknownTargets(t *testing.T) {
	a := newTestApp(t)
	defer a.Stop(context.Background(), StopOneShot)

	_, err := a.CaptureOnce(context.Background(), []string{"nope", " "}, "", false, render.TimeRange{})
	if !errors.Is(err, capture.ErrNoTargets) {
		t.Fatalf("CaptureOnce() error = %v, want ErrNoTargets", err)
	}
	if _, err := a.CaptureOnce(context.Background(), []string{"sales"}, "", false, render.TimeRange{Preset: "yesterday-ish"}); err == nil {
		t.Fatalf("CaptureOnce() with bad time range succeeded")
	}
}

func TestStartStop(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-a.Done():
		t.Fatalf("app stopped right after Start: %v", a.Err())
	default:
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	<-a.Done()
}
