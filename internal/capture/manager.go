package capture

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dashcap/internal/render"
	"dashcap/pkg/logx"
)

type BatchState string

const (
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
	BatchCancelled BatchState = "cancelled"
)

// BatchStatus is a point-in-time view of a manual batch. Outcomes keep input
// order; targets still in flight show StatusPending.
type BatchStatus struct {
	ID             string     `json:"id"`
	Source         string     `json:"source"`
	State          BatchState `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     time.Time  `json:"finished_at,omitzero"`
	UnknownTargets []string   `json:"unknown_targets,omitempty"`
	Counts         Counts     `json:"counts"`
	Outcomes       []Outcome  `json:"outcomes"`
}

// Pending reports whether the batch is still running.
func (s BatchStatus) Pending() bool { return s.State == BatchRunning }

type batch struct {
	mu     sync.Mutex
	status BatchStatus
	cancel context.CancelFunc
}

func (b *batch) snapshot() BatchStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.status
	s.Outcomes = append([]Outcome(nil), b.status.Outcomes...)
	s.UnknownTargets = append([]string(nil), b.status.UnknownTargets...)
	s.Counts = Summarize(s.Outcomes)
	return s
}

// Manager runs manual captures asynchronously and keeps their status for lookup.
type Manager struct {
	orch     *Orchestrator
	catalog  Catalog
	sessions SessionSource
	log      logx.Logger
	keep     int

	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	batches map[string]*batch
	order   []string
}

// NewManager keeps the status of the last keep batches (default 50).
func NewManager(orch *Orchestrator, catalog Catalog, sessions SessionSource, keep int, log logx.Logger) *Manager {
	if keep <= 0 {
		keep = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		orch:     orch,
		catalog:  catalog,
		sessions: sessions,
		log:      log,
		keep:     keep,
		baseCtx:  ctx,
		stopAll:  cancel,
		batches:  map[string]*batch{},
	}
}

// TriggerManual starts a batch over targetIDs and returns its id immediately.
// Unknown ids are recorded on the batch status and skipped.
func (m *Manager) TriggerManual(targetIDs []string, watermark bool, tr render.TimeRange) (string, error) {
	var (
		targets []Target
		unknown []string
	)
	for _, id := range targetIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if t, ok := m.catalog.Target(id); ok {
			targets = append(targets, t)
		} else {
			unknown = append(unknown, id)
		}
	}
	return m.start("manual", targets, unknown, watermark, tr)
}

// TriggerList captures every target tagged with list name.
func (m *Manager) TriggerList(name string, watermark bool, tr render.TimeRange) (string, error) {
	targets := m.catalog.List(name)
	if len(targets) == 0 {
		return "", fmt.Errorf("%w: list %q is empty or unknown", ErrNoTargets, name)
	}
	return m.start("list:"+name, targets, nil, watermark, tr)
}

func (m *Manager) start(source string, targets []Target, unknown []string, watermark bool, tr render.TimeRange) (string, error) {
	if len(targets) == 0 {
		return "", fmt.Errorf("%w (unknown: %s)", ErrNoTargets, strings.Join(unknown, ","))
	}
	if err := tr.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(m.baseCtx)
	b := &batch{cancel: cancel}
	b.status = BatchStatus{
		ID:             id,
		Source:         source,
		State:          BatchRunning,
		CreatedAt:      time.Now(),
		UnknownTargets: unknown,
		Outcomes:       make([]Outcome, len(targets)),
	}
	for i, t := range targets {
		b.status.Outcomes[i] = Outcome{TargetID: t.ID, TargetName: t.Name, Status: StatusPending}
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		cancel()
		return "", ErrStopped
	}
	m.batches[id] = b
	m.order = append(m.order, id)
	m.evictLocked()
	m.wg.Add(1)
	m.mu.Unlock()

	if len(unknown) > 0 {
		m.log.Warn("manual capture skipped unknown targets", logx.String("batch", id), logx.Strings("unknown", unknown))
	}

	go func() {
		defer m.wg.Done()
		defer cancel()

		sess := m.session(ctx, id)
		outs := m.orch.RunBatch(ctx, Request{
			BatchID:   id,
			Source:    source,
			Targets:   targets,
			Watermark: watermark,
			TimeRange: tr,
			Session:   sess,
			Observer: func(i int, oc Outcome) {
				b.mu.Lock()
				b.status.Outcomes[i] = oc
				b.mu.Unlock()
			},
		})

		b.mu.Lock()
		b.status.State = finalState(outs)
		b.status.FinishedAt = time.Now()
		b.mu.Unlock()
	}()
	return id, nil
}

// finalState is cancelled only when a target was actually cut short; a cancel
// that lands after every target settled leaves the batch completed.
func finalState(outs []Outcome) BatchState {
	for _, oc := range outs {
		if oc.Status == StatusCancelled {
			return BatchCancelled
		}
	}
	return BatchCompleted
}

func (m *Manager) session(ctx context.Context, batchID string) *render.Session {
	if m.sessions == nil {
		return nil
	}
	sess, err := m.sessions.ActiveSession(ctx)
	if err != nil {
		m.log.Warn("no session; rendering anonymously", logx.String("batch", batchID), logx.Err(err))
		return nil
	}
	return sess
}

// evictLocked drops the oldest finished batches beyond keep.
func (m *Manager) evictLocked() {
	for len(m.order) > m.keep {
		evicted := false
		for i, id := range m.order {
			b := m.batches[id]
			b.mu.Lock()
			running := b.status.State == BatchRunning
			b.mu.Unlock()
			if running {
				continue
			}
			delete(m.batches, id)
			m.order = append(m.order[:i], m.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

// Status returns the current view of batch id.
func (m *Manager) Status(id string) (BatchStatus, error) {
	m.mu.Lock()
	b := m.batches[id]
	m.mu.Unlock()
	if b == nil {
		return BatchStatus{}, fmt.Errorf("%w: %s", ErrUnknownBatch, id)
	}
	return b.snapshot(), nil
}

// Cancel stops batch id. Already finished batches are left as they are.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	b := m.batches[id]
	m.mu.Unlock()
	if b == nil {
		return fmt.Errorf("%w: %s", ErrUnknownBatch, id)
	}
	b.cancel()
	return nil
}

// List returns known batches, newest first.
func (m *Manager) List() []BatchStatus {
	m.mu.Lock()
	bs := make([]*batch, 0, len(m.batches))
	for _, b := range m.batches {
		bs = append(bs, b)
	}
	m.mu.Unlock()

	out := make([]BatchStatus, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Stop cancels running batches and waits for them, bounded by ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.stopAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
