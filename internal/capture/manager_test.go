package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"dashcap/internal/render"
	"dashcap/pkg/logx"
)

type mapCatalog map[string]Target

func (c mapCatalog) Target(id string) (Target, bool) {
	t, ok := c[id]
	return t, ok
}

func (c mapCatalog) List(name string) []Target {
	var out []Target
	for _, id := range []string{"a", "b", "c"} {
		t, ok := c[id]
		if !ok {
			continue
		}
		for _, l := range t.Lists {
			if l == name {
				out = append(out, t)
			}
		}
	}
	return out
}

type staticSessions struct {
	sess *render.Session
	err  error
}

func (s staticSessions) ActiveSession(context.Context) (*render.Session, error) { return s.sess, s.err }

func testCatalog() mapCatalog {
	return mapCatalog{
		"a": {ID: "a", Name: "Alpha", URL: "https://d/a", Lists: []string{"ops"}},
		"b": {ID: "b", Name: "Beta", URL: "https://d/b", Lists: []string{"ops"}},
		"c": {ID: "c", Name: "Gamma", URL: "https://d/c"},
	}
}

func waitDone(t *testing.T, m *Manager, id string) BatchStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := m.Status(id)
		if err != nil {
			t.Fatalf("Status(%s) error = %v", id, err)
		}
		if !st.Pending() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("batch %s did not finish", id)
	return BatchStatus{}
}

func TestManagerTriggerManual(t *testing.T) {
	t.Parallel()

	var gotSess *render.Session
	r := render.Func(func(_ context.Context, _ string, sess *render.Session, _ render.TimeRange) ([]byte, error) {
		gotSess = sess
		return []byte("png"), nil
	})
	orch := newOrch(Options{Concurrency: 1}, r, nil, &memWriter{})
	want := &render.Session{Username: "viewer", Password: "pw"}
	m := NewManager(orch, testCatalog(), staticSessions{sess: want}, 0, logx.Nop())

	id, err := m.TriggerManual([]string{"a", "zzz", " c "}, false, render.TimeRange{})
	if err != nil {
		t.Fatalf("TriggerManual() error = %v", err)
	}
	st := waitDone(t, m, id)

	if st.State != BatchCompleted || st.Source != "manual" {
		t.Fatalf("status = %+v", st)
	}
	if len(st.UnknownTargets) != 1 || st.UnknownTargets[0] != "zzz" {
		t.Fatalf("UnknownTargets = %v, want [zzz]", st.UnknownTargets)
	}
	if st.Counts.Total != 2 || st.Counts.Success != 2 {
		t.Fatalf("Counts = %+v", st.Counts)
	}
	if st.Outcomes[0].TargetID != "a" || st.Outcomes[1].TargetID != "c" {
		t.Fatalf("outcome order = %s,%s", st.Outcomes[0].TargetID, st.Outcomes[1].TargetID)
	}
	if gotSess != want {
		t.Fatalf("renderer session = %v, want %v", gotSess, want)
	}
}

func TestManagerRejectsEmptySelection(t *testing.T) {
	t.Parallel()

	m := NewManager(newOrch(Options{}, nil, nil, &memWriter{}), testCatalog(), nil, 0, logx.Nop())
	if _, err := m.TriggerManual([]string{"nope"}, false, render.TimeRange{}); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("TriggerManual() error = %v, want ErrNoTargets", err)
	}
	if _, err := m.TriggerList("missing", false, render.TimeRange{}); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("TriggerList() error = %v, want ErrNoTargets", err)
	}
	if _, err := m.Status("nope"); !errors.Is(err, ErrUnknownBatch) {
		t.Fatalf("Status() error = %v, want ErrUnknownBatch", err)
	}
}

func TestManagerRejectsInvalidTimeRange(t *testing.T) {
	t.Parallel()

	m := NewManager(newOrch(Options{}, nil, nil, &memWriter{}), testCatalog(), nil, 0, logx.Nop())
	if _, err := m.TriggerManual([]string{"a"}, false, render.TimeRange{Preset: "last_century"}); err == nil {
		t.Fatalf("TriggerManual() with unknown preset succeeded")
	}
}

func TestManagerTriggerList(t *testing.T) {
	t.Parallel()

	r := render.Func(func(context.Context, string, *render.Session, render.TimeRange) ([]byte, error) {
		return []byte("png"), nil
	})
	m := NewManager(newOrch(Options{}, r, nil, &memWriter{}), testCatalog(), nil, 0, logx.Nop())
	id, err := m.TriggerList("ops", false, render.TimeRange{})
	if err != nil {
		t.Fatalf("TriggerList() error = %v", err)
	}
	st := waitDone(t, m, id)
	if st.Source != "list:ops" || st.Counts.Success != 2 {
		t.Fatalf("status = %+v", st)
	}
}

func TestManagerSessionErrorRendersAnonymously(t *testing.T) {
	t.Parallel()

	sessions := make(chan *render.Session, 1)
	r := render.Func(func(_ context.Context, _ string, sess *render.Session, _ render.TimeRange) ([]byte, error) {
		sessions <- sess
		return []byte("png"), nil
	})
	m := NewManager(newOrch(Options{}, r, nil, &memWriter{}), testCatalog(), staticSessions{err: errors.New("vault sealed")}, 0, logx.Nop())
	id, err := m.TriggerManual([]string{"a"}, false, render.TimeRange{})
	if err != nil {
		t.Fatalf("TriggerManual() error = %v", err)
	}
	if st := waitDone(t, m, id); st.Counts.Success != 1 {
		t.Fatalf("status = %+v", st)
	}
	if sess := <-sessions; sess != nil {
		t.Fatalf("session = %+v, want nil", sess)
	}
}

func TestManagerCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 3)
	r := render.Func(func(ctx context.Context, _ string, _ *render.Session, _ render.TimeRange) ([]byte, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	orch := newOrch(Options{Concurrency: 1, Timeout: time.Minute}, r, nil, &memWriter{})
	m := NewManager(orch, testCatalog(), nil, 0, logx.Nop())

	id, err := m.TriggerManual([]string{"a", "b", "c"}, false, render.TimeRange{})
	if err != nil {
		t.Fatalf("TriggerManual() error = %v", err)
	}
	if st, _ := m.Status(id); st.State != BatchRunning {
		t.Fatalf("state = %s, want running", st.State)
	}
	<-started
	if err := m.Cancel(id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	st := waitDone(t, m, id)
	if st.State != BatchCancelled || st.Counts.Cancelled != 3 {
		t.Fatalf("status = %+v", st)
	}
	if orch.Gate().InFlight() != 0 {
		t.Fatalf("slots still held")
	}
}

func TestManagerLateCancelKeepsCompleted(t *testing.T) {
	t.Parallel()

	var m *Manager
	ids := make(chan string, 1)
	// the cancel arrives while the only target is already producing its image
	r := render.Func(func(context.Context, string, *render.Session, render.TimeRange) ([]byte, error) {
		if err := m.Cancel(<-ids); err != nil {
			return nil, err
		}
		return []byte("png"), nil
	})
	m = NewManager(newOrch(Options{Timeout: time.Minute}, r, nil, &memWriter{}), testCatalog(), nil, 0, logx.Nop())
	id, err := m.TriggerManual([]string{"a"}, false, render.TimeRange{})
	if err != nil {
		t.Fatalf("TriggerManual() error = %v", err)
	}
	ids <- id

	st := waitDone(t, m, id)
	if st.State != BatchCompleted || st.Counts.Success != 1 {
		t.Fatalf("status = %+v, want completed with one success", st)
	}
}

func TestFinalState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		outs []Outcome
		want BatchState
	}{
		{"empty", nil, BatchCompleted},
		{"failures only", []Outcome{{Status: StatusTimeout}, {Status: StatusRenderError}}, BatchCompleted},
		{"one cancelled", []Outcome{{Status: StatusSuccess}, {Status: StatusCancelled}}, BatchCancelled},
	}
	for _, tt := range tests {
		if got := finalState(tt.outs); got != tt.want {
			t.Fatalf("%s: finalState() = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestManagerStop(t *testing.T) {
	t.Parallel()

	r := render.Func(func(ctx context.Context, _ string, _ *render.Session, _ render.TimeRange) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	m := NewManager(newOrch(Options{Timeout: time.Minute}, r, nil, &memWriter{}), testCatalog(), nil, 0, logx.Nop())
	if _, err := m.TriggerManual([]string{"a"}, false, render.TimeRange{}); err != nil {
		t.Fatalf("TriggerManual() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := m.TriggerManual([]string{"a"}, false, render.TimeRange{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("TriggerManual() after Stop error = %v, want ErrStopped", err)
	}
}

func TestManagerEvictsFinishedBatches(t *testing.T) {
	t.Parallel()

	r := render.Func(func(context.Context, string, *render.Session, render.TimeRange) ([]byte, error) {
		return []byte("png"), nil
	})
	m := NewManager(newOrch(Options{}, r, nil, &memWriter{}), testCatalog(), nil, 2, logx.Nop())

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := m.TriggerManual([]string{"a"}, false, render.TimeRange{})
		if err != nil {
			t.Fatalf("TriggerManual() error = %v", err)
		}
		waitDone(t, m, id)
		ids = append(ids, id)
	}
	if _, err := m.Status(ids[0]); !errors.Is(err, ErrUnknownBatch) {
		t.Fatalf("oldest batch still tracked: %v", err)
	}
	if got := len(m.List()); got != 2 {
		t.Fatalf("len(List()) = %d, want 2", got)
	}
}
