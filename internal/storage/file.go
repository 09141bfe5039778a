package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dashcap/internal/jobs"
	"dashcap/pkg/logx"
)

// fileStore keeps the job set in memory and persists it as files.
//
// Files:
//   - <prefix>.jobs.json   (snapshot, rewritten via tmp + rename on every change)
//   - <prefix>.fires.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	firesFile    *os.File

	jobs  map[string]jobs.Definition
	fires []jobs.FireRecord
	seq   int64
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".jobs.json",
		jobs:         map[string]jobs.Definition{},
	}
	if err := s.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("load %s: %w", s.snapshotPath, err)
	}
	firesPath := prefix + ".fires.jsonl"
	if err := s.replayFires(firesPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay %s: %w", firesPath, err)
	}
	f, err := os.OpenFile(firesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.firesFile = f
	log.Info("file store opened",
		logx.String("prefix", prefix),
		logx.Int("jobs", len(s.jobs)),
		logx.Int("fires", len(s.fires)),
	)
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var defs []jobs.Definition
	if err := json.Unmarshal(b, &defs); err != nil {
		return err
	}
	for _, d := range defs {
		s.jobs[d.ID] = d
	}
	return nil
}

func (s *fileStore) replayFires(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var rec jobs.FireRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// a torn last line after a crash
			s.log.Warn("skipping undecodable fire record", logx.Err(err))
			continue
		}
		s.fires = append(s.fires, rec)
		s.seq = max(s.seq, rec.Seq)
	}
	// the journal is in completion order
	jobs.SortFires(s.fires)
	return sc.Err()
}

// flushLocked rewrites the snapshot atomically.
func (s *fileStore) flushLocked() error {
	defs := make([]jobs.Definition, 0, len(s.jobs))
	for _, d := range s.jobs {
		defs = append(defs, d)
	}
	jobs.SortDefinitions(defs)
	b, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firesFile == nil {
		return nil
	}
	err := s.firesFile.Close()
	s.firesFile = nil
	return err
}

func (s *fileStore) ListJobs(ctx context.Context) ([]jobs.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]jobs.Definition, 0, len(s.jobs))
	for _, d := range s.jobs {
		out = append(out, jobs.Clone(d))
	}
	jobs.SortDefinitions(out)
	return out, nil
}

func (s *fileStore) GetJob(ctx context.Context, id string) (jobs.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.jobs[id]
	if !ok {
		return jobs.Definition{}, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	return jobs.Clone(d), nil
}

func (s *fileStore) CreateJob(ctx context.Context, def jobs.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firesFile == nil {
		return ErrClosed
	}
	if _, ok := s.jobs[def.ID]; ok {
		return fmt.Errorf("storage: job %s exists", def.ID)
	}
	s.jobs[def.ID] = jobs.Clone(def)
	if err := s.flushLocked(); err != nil {
		delete(s.jobs, def.ID)
		return err
	}
	return nil
}

func (s *fileStore) UpdateJob(ctx context.Context, id string, fn func(*jobs.Definition) error) (jobs.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firesFile == nil {
		return jobs.Definition{}, ErrClosed
	}
	cur, ok := s.jobs[id]
	if !ok {
		return jobs.Definition{}, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	next := jobs.Clone(cur)
	if err := fn(&next); err != nil {
		return jobs.Definition{}, err
	}
	next.ID = id
	s.jobs[id] = jobs.Clone(next)
	if err := s.flushLocked(); err != nil {
		s.jobs[id] = cur
		return jobs.Definition{}, err
	}
	return next, nil
}

func (s *fileStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firesFile == nil {
		return ErrClosed
	}
	cur, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	delete(s.jobs, id)
	if err := s.flushLocked(); err != nil {
		s.jobs[id] = cur
		return err
	}
	return nil
}

func (s *fileStore) AppendFire(ctx context.Context, rec jobs.FireRecord) (jobs.FireRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firesFile == nil {
		return jobs.FireRecord{}, ErrClosed
	}
	rec.Seq = s.seq + 1
	if err := json.NewEncoder(s.firesFile).Encode(rec); err != nil {
		return jobs.FireRecord{}, err
	}
	s.seq = rec.Seq
	s.fires = jobs.InsertFire(s.fires, rec)
	return rec, nil
}

func (s *fileStore) ListFires(ctx context.Context, jobID string, limit int) ([]jobs.FireRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []jobs.FireRecord
	for i := len(s.fires) - 1; i >= 0; i-- {
		if jobID != "" && s.fires[i].JobID != jobID {
			continue
		}
		out = append(out, s.fires[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
