package jobs

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// MemoryStore keeps jobs in process memory. It backs the "memory" storage
// driver and tests.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[string]Definition
	fires []FireRecord
	seq   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]Definition{}}
}

func (m *MemoryStore) ListJobs(ctx context.Context) ([]Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Definition, 0, len(m.jobs))
	for _, d := range m.jobs {
		out = append(out, Clone(d))
	}
	SortDefinitions(out)
	return out, nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.jobs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return Clone(d), nil
}

func (m *MemoryStore) CreateJob(ctx context.Context, def Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[def.ID]; ok {
		return fmt.Errorf("jobs: id %s exists", def.ID)
	}
	m.jobs[def.ID] = Clone(def)
	return nil
}

func (m *MemoryStore) UpdateJob(ctx context.Context, id string, fn func(*Definition) error) (Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := Clone(cur)
	if err := fn(&next); err != nil {
		return Definition{}, err
	}
	next.ID = id
	m.jobs[id] = Clone(next)
	return next, nil
}

func (m *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) AppendFire(ctx context.Context, rec FireRecord) (FireRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	rec.Seq = m.seq
	rec.UnknownTargets = append([]string(nil), rec.UnknownTargets...)
	m.fires = InsertFire(m.fires, rec)
	return rec, nil
}

func (m *MemoryStore) ListFires(ctx context.Context, jobID string, limit int) ([]FireRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FireRecord
	for i := len(m.fires) - 1; i >= 0; i-- {
		if jobID != "" && m.fires[i].JobID != jobID {
			continue
		}
		out = append(out, m.fires[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// Clone deep-copies d so stores never share slices or pointers with callers.
func Clone(d Definition) Definition {
	d.TargetIDs = append([]string(nil), d.TargetIDs...)
	d.LastFired = clonePtr(d.LastFired)
	d.NextDue = clonePtr(d.NextDue)
	d.TimeRange.From = clonePtr(d.TimeRange.From)
	d.TimeRange.To = clonePtr(d.TimeRange.To)
	return d
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// InsertFire adds rec to fires, which are kept ascending by fire time then
// Seq. A long fire that finishes after a later, shorter one still lands
// before it.
func InsertFire(fires []FireRecord, rec FireRecord) []FireRecord {
	i := sort.Search(len(fires), func(i int) bool { return fireBefore(rec, fires[i]) })
	return slices.Insert(fires, i, rec)
}

// SortFires orders fires ascending by fire time then Seq.
func SortFires(fires []FireRecord) {
	sort.SliceStable(fires, func(i, j int) bool { return fireBefore(fires[i], fires[j]) })
}

func fireBefore(a, b FireRecord) bool {
	if !a.FiredAt.Equal(b.FiredAt) {
		return a.FiredAt.Before(b.FiredAt)
	}
	return a.Seq < b.Seq
}

// SortDefinitions orders by creation time, then id.
func SortDefinitions(defs []Definition) {
	sort.Slice(defs, func(i, j int) bool {
		if !defs[i].CreatedAt.Equal(defs[j].CreatedAt) {
			return defs[i].CreatedAt.Before(defs[j].CreatedAt)
		}
		return defs[i].ID < defs[j].ID
	})
}
