// Package archive lays out capture artifacts on disk and prunes old ones.
//
// Layout:
//
//	<root>/<YYYY-MM-DD>/<name>_<YYYYmmdd_HHMMSS>_<8 hex>.png   live captures
//	<root>/archive/<YYYY-MM-DD>/...                            rotated days
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"dashcap/pkg/logx"
)

const (
	dayLayout    = "2006-01-02"
	stampLayout  = "20060102_150405"
	archiveDir   = "archive"
	fallbackName = "unnamed"
)

type Options struct {
	Root string
	// ArchiveAfter moves live day folders older than this many days into archive/.
	ArchiveAfter int
	// Retention deletes archived day folders older than this many days.
	Retention int
	Location  *time.Location
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Root) == "" {
		o.Root = "./screenshots"
	}
	if o.ArchiveAfter <= 0 {
		o.ArchiveAfter = 1
	}
	if o.Retention <= 0 {
		o.Retention = 7
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Store writes artifacts. Safe for concurrent use.
type Store struct {
	opts Options
	log  logx.Logger
}

func New(opts Options, log logx.Logger) *Store {
	return &Store{opts: opts.withDefaults(), log: log}
}

func (s *Store) Root() string { return s.opts.Root }

// Save writes data under today's folder and returns the file path.
func (s *Store) Save(name string, data []byte, at time.Time) (string, error) {
	at = at.In(s.opts.Location)
	dir := filepath.Join(s.opts.Root, at.Format(dayLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: mkdir: %w", err)
	}
	path := filepath.Join(dir, FileName(name, at))

	// write-then-rename so readers never see a partial image
	tmp, err := os.CreateTemp(dir, ".capture-*")
	if err != nil {
		return "", fmt.Errorf("archive: create: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: rename: %w", err)
	}
	return path, nil
}

// FileName builds <sanitized>_<YYYYmmdd_HHMMSS>_<8 hex>.png.
func FileName(name string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return Sanitize(name) + "_" + at.Format(stampLayout) + "_" + suffix + ".png"
}

// Sanitize replaces characters that are unsafe in file names.
func Sanitize(name string) string {
	r := strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", `"`, "_",
		"/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
	)
	out := strings.Trim(r.Replace(name), " .")
	if out == "" {
		return fallbackName
	}
	return out
}

// PruneResult counts what Prune touched.
type PruneResult struct {
	Archived int
	Deleted  int
}

// Prune rotates old live days into archive/ and removes expired archived days.
// Folders whose names are not dates are left alone.
func (s *Store) Prune(now time.Time) (PruneResult, error) {
	var res PruneResult
	today := truncateDay(now.In(s.opts.Location))
	archiveRoot := filepath.Join(s.opts.Root, archiveDir)

	days, err := s.dayDirs(s.opts.Root)
	if err != nil {
		return res, err
	}
	var errs []error
	for name, day := range days {
		if today.Sub(day) < time.Duration(s.opts.ArchiveAfter)*24*time.Hour {
			continue
		}
		if err := os.MkdirAll(archiveRoot, 0o755); err != nil {
			return res, fmt.Errorf("archive: mkdir: %w", err)
		}
		dst := filepath.Join(archiveRoot, name)
		if _, err := os.Stat(dst); err == nil {
			errs = append(errs, fmt.Errorf("archive: %s already archived", name))
			continue
		}
		if err := os.Rename(filepath.Join(s.opts.Root, name), dst); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Archived++
	}

	archived, err := s.dayDirs(archiveRoot)
	if err != nil {
		return res, err
	}
	for name, day := range archived {
		if today.Sub(day) <= time.Duration(s.opts.Retention)*24*time.Hour {
			continue
		}
		if err := os.RemoveAll(filepath.Join(archiveRoot, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Deleted++
	}

	if res.Archived > 0 || res.Deleted > 0 {
		s.log.Info("archive pruned", logx.Int("archived", res.Archived), logx.Int("deleted", res.Deleted))
	}
	return res, errors.Join(errs...)
}

func (s *Store) dayDirs(dir string) (map[string]time.Time, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", dir, err)
	}
	out := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		day, err := time.ParseInLocation(dayLayout, e.Name(), s.opts.Location)
		if err != nil {
			continue
		}
		out[e.Name()] = day
	}
	return out, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
