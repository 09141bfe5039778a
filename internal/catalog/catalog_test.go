package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dashcap/pkg/logx"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCatalogResolve(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dash := filepath.Join(dir, "dashboards.json")
	lists := filepath.Join(dir, "lists.json")
	writeFile(t, dash, `{
		"d1": {"name": "Zeta", "url": "https://s/d1", "list_name": "Ops", "active": true},
		"d2": {"name": "Alpha", "url": "https://s/d2", "list_name": "ops"},
		"d3": {"name": "Off", "url": "https://s/d3", "active": false},
		"d4": {"name": "NoURL", "url": " "}
	}`)
	writeFile(t, lists, `{"l1": {"name": "Ops", "description": "on-call"}, "l2": {"name": "Old", "active": false}}`)

	c, err := Open(dash, lists, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if tgt, ok := c.Target("d1"); !ok || tgt.URL != "https://s/d1" || tgt.Lists[0] != "Ops" {
		t.Fatalf("Target(d1) = %+v, %v", tgt, ok)
	}
	for _, id := range []string{"d3", "d4", "missing"} {
		if _, ok := c.Target(id); ok {
			t.Fatalf("Target(%s) resolved, want unknown", id)
		}
	}

	ops := c.List("OPS")
	if len(ops) != 2 || ops[0].ID != "d2" || ops[1].ID != "d1" {
		t.Fatalf("List(OPS) = %+v", ops)
	}
	if got := c.List(""); got != nil {
		t.Fatalf("List(\"\") = %+v", got)
	}
	if all := c.All(); len(all) != 2 {
		t.Fatalf("All() = %+v", all)
	}
	if ls := c.Lists(); len(ls) != 1 || ls[0].Name != "Ops" {
		t.Fatalf("Lists() = %+v", ls)
	}
}

func TestCatalogMissingFilesAreEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json"), logx.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(c.All()) != 0 || len(c.Lists()) != 0 {
		t.Fatalf("expected empty catalog")
	}
}

func TestCatalogMalformedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dash := filepath.Join(dir, "dashboards.json")
	writeFile(t, dash, `{"d1": `)
	if _, err := Open(dash, filepath.Join(dir, "lists.json"), logx.Nop()); err == nil {
		t.Fatalf("Open() with malformed file succeeded")
	}
}

func TestCatalogReloadsOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dash := filepath.Join(dir, "dashboards.json")
	writeFile(t, dash, `{"d1": {"name": "One", "url": "https://s/1"}}`)
	c, err := Open(dash, filepath.Join(dir, "lists.json"), logx.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	writeFile(t, dash, `{"d1": {"name": "One", "url": "https://s/1"}, "d2": {"name": "Two", "url": "https://s/2"}}`)
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(dash, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, ok := c.Target("d2"); !ok {
		t.Fatalf("Target(d2) not visible after file change")
	}

	// broken edit keeps the previous snapshot
	writeFile(t, dash, `not json`)
	later := future.Add(time.Minute)
	if err := os.Chtimes(dash, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, ok := c.Target("d2"); !ok {
		t.Fatalf("Target(d2) lost after malformed edit")
	}
}
