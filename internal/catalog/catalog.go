// Package catalog serves the read-only dashboard registry.
//
// Dashboards live in a JSON object keyed by id:
//
//	{"<id>": {"name": "...", "url": "...", "list_name": "...", "active": true}}
//
// and lists in a sibling object keyed by list id. Files are re-read when their
// modification time changes; a broken file keeps the last good snapshot.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"dashcap/internal/capture"
	"dashcap/pkg/logx"
)

type dashboardEntry struct {
	Name     string  `json:"name"`
	URL      string  `json:"url"`
	ListName *string `json:"list_name"`
	Active   *bool   `json:"active"`
}

type listEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
}

// List is a named dashboard group.
type List struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type snapshot struct {
	targets map[string]capture.Target
	order   []string
	lists   []List
}

// FileCatalog implements capture.Catalog over dashboards.json and lists.json.
type FileCatalog struct {
	dashboardsPath string
	listsPath      string
	log            logx.Logger

	mu        sync.Mutex
	snap      snapshot
	dashMod   time.Time
	listsMod  time.Time
	dashSize  int64
	listsSize int64
}

// Open loads both files. A missing file is an empty catalog; a malformed one
// is an error.
func Open(dashboardsPath, listsPath string, log logx.Logger) (*FileCatalog, error) {
	if strings.TrimSpace(dashboardsPath) == "" {
		dashboardsPath = "dashboards.json"
	}
	if strings.TrimSpace(listsPath) == "" {
		listsPath = "lists.json"
	}
	c := &FileCatalog{dashboardsPath: dashboardsPath, listsPath: listsPath, log: log}
	if err := c.reload(true); err != nil {
		return nil, err
	}
	return c, nil
}

// Target returns an active dashboard by id.
func (c *FileCatalog) Target(id string) (capture.Target, bool) {
	s := c.current()
	t, ok := s.targets[id]
	return t, ok
}

// List returns the active dashboards tagged with list name (case-insensitive),
// sorted by dashboard name.
func (c *FileCatalog) List(name string) []capture.Target {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	s := c.current()
	var out []capture.Target
	for _, id := range s.order {
		t := s.targets[id]
		for _, l := range t.Lists {
			if strings.EqualFold(l, name) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// All returns every active dashboard sorted by name.
func (c *FileCatalog) All() []capture.Target {
	s := c.current()
	out := make([]capture.Target, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.targets[id])
	}
	return out
}

// Lists returns the active lists sorted by name.
func (c *FileCatalog) Lists() []List {
	s := c.current()
	return append([]List(nil), s.lists...)
}

func (c *FileCatalog) current() snapshot {
	if err := c.reload(false); err != nil {
		c.log.Warn("catalog reload failed; serving previous snapshot", logx.Err(err))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *FileCatalog) reload(force bool) error {
	dashMod, dashSize := statFile(c.dashboardsPath)
	listsMod, listsSize := statFile(c.listsPath)

	c.mu.Lock()
	unchanged := dashMod.Equal(c.dashMod) && dashSize == c.dashSize &&
		listsMod.Equal(c.listsMod) && listsSize == c.listsSize
	c.mu.Unlock()
	if unchanged && !force {
		return nil
	}

	dashboards := map[string]dashboardEntry{}
	lists := map[string]listEntry{}
	err := readJSON(c.dashboardsPath, &dashboards)
	if err == nil {
		err = readJSON(c.listsPath, &lists)
	}

	c.mu.Lock()
	// a bad file is reported once per change, not on every lookup
	c.dashMod, c.dashSize = dashMod, dashSize
	c.listsMod, c.listsSize = listsMod, listsSize
	if err != nil {
		c.mu.Unlock()
		return err
	}
	snap := build(dashboards, lists)
	c.snap = snap
	c.mu.Unlock()

	c.log.Debug("catalog loaded", logx.Int("dashboards", len(snap.targets)), logx.Int("lists", len(snap.lists)))
	return nil
}

func build(dashboards map[string]dashboardEntry, lists map[string]listEntry) snapshot {
	s := snapshot{targets: make(map[string]capture.Target, len(dashboards))}
	for id, d := range dashboards {
		if d.Active != nil && !*d.Active {
			continue
		}
		url := strings.TrimSpace(d.URL)
		if url == "" {
			continue
		}
		t := capture.Target{ID: id, Name: strings.TrimSpace(d.Name), URL: url}
		if t.Name == "" {
			t.Name = id
		}
		if d.ListName != nil && strings.TrimSpace(*d.ListName) != "" {
			t.Lists = []string{strings.TrimSpace(*d.ListName)}
		}
		s.targets[id] = t
		s.order = append(s.order, id)
	}
	sort.Slice(s.order, func(i, j int) bool {
		a, b := s.targets[s.order[i]], s.targets[s.order[j]]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})

	for id, l := range lists {
		if l.Active != nil && !*l.Active {
			continue
		}
		s.lists = append(s.lists, List{ID: id, Name: strings.TrimSpace(l.Name), Description: l.Description})
	}
	sort.Slice(s.lists, func(i, j int) bool { return s.lists[i].Name < s.lists[j].Name })
	return s
}

func statFile(path string) (time.Time, int64) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, -1
	}
	return fi.ModTime(), fi.Size()
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("catalog: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return nil
}
