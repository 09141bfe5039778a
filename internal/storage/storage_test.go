package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dashcap/internal/capture"
	"dashcap/internal/jobs"
	"dashcap/pkg/logx"
)

var t0 = time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC)

func testConfig(t *testing.T, driver string) Config {
	t.Helper()
	switch driver {
	case "file":
		return Config{Driver: driver, Path: filepath.Join(t.TempDir(), "state", "dashcap.json")}
	case "sqlite":
		return Config{Driver: driver, Path: filepath.Join(t.TempDir(), "dashcap.db")}
	}
	return Config{Driver: driver}
}

func job(id, name string, created time.Time) jobs.Definition {
	next := created.Add(time.Hour)
	return jobs.Definition{
		ID:         id,
		Name:       name,
		Recurrence: jobs.Daily,
		Anchor:     jobs.Anchor{TimeOfDay: next.Format("15:04")},
		TargetIDs:  []string{"a", "b"},
		Active:     true,
		NextDue:    &next,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"memory", "file", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, err := Open(testConfig(t, name), logx.Nop())
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer st.Close()

			if err := st.CreateJob(ctx, job("j2", "second", t0.Add(time.Minute))); err != nil {
				t.Fatalf("CreateJob() error = %v", err)
			}
			if err := st.CreateJob(ctx, job("j1", "first", t0)); err != nil {
				t.Fatalf("CreateJob() error = %v", err)
			}
			if err := st.CreateJob(ctx, job("j1", "dup", t0)); err == nil {
				t.Fatalf("CreateJob(duplicate id) succeeded")
			}

			all, err := st.ListJobs(ctx)
			if err != nil || len(all) != 2 || all[0].ID != "j1" || all[1].ID != "j2" {
				t.Fatalf("ListJobs() = %+v, %v", all, err)
			}

			got, err := st.GetJob(ctx, "j1")
			if err != nil {
				t.Fatalf("GetJob() error = %v", err)
			}
			if got.Name != "first" || len(got.TargetIDs) != 2 || got.NextDue == nil || !got.NextDue.Equal(t0.Add(time.Hour)) {
				t.Fatalf("GetJob() = %+v", got)
			}
			if _, err := st.GetJob(ctx, "nope"); !errors.Is(err, jobs.ErrNotFound) {
				t.Fatalf("GetJob(missing) error = %v, want ErrNotFound", err)
			}

			upd, err := st.UpdateJob(ctx, "j1", func(d *jobs.Definition) error {
				d.RunCount++
				d.Active = false
				d.NextDue = nil
				return nil
			})
			if err != nil || upd.RunCount != 1 || upd.Active {
				t.Fatalf("UpdateJob() = %+v, %v", upd, err)
			}
			boom := errors.New("abort")
			if _, err := st.UpdateJob(ctx, "j1", func(d *jobs.Definition) error {
				d.Name = "changed"
				return boom
			}); !errors.Is(err, boom) {
				t.Fatalf("UpdateJob(abort) error = %v", err)
			}
			if got, _ := st.GetJob(ctx, "j1"); got.Name != "first" || got.RunCount != 1 || got.NextDue != nil {
				t.Fatalf("aborted update leaked: %+v", got)
			}
			if _, err := st.UpdateJob(ctx, "nope", func(*jobs.Definition) error { return nil }); !errors.Is(err, jobs.ErrNotFound) {
				t.Fatalf("UpdateJob(missing) error = %v", err)
			}

			for i, id := range []string{"j1", "j2", "j1"} {
				rec, err := st.AppendFire(ctx, jobs.FireRecord{
					JobID:          id,
					FiredAt:        t0.Add(time.Duration(i) * time.Hour),
					Counts:         capture.Counts{Total: 2, Success: 1, Timeout: 1},
					UnknownTargets: []string{"gone"},
					Status:         jobs.FirePartial,
				})
				if err != nil {
					t.Fatalf("AppendFire() error = %v", err)
				}
				if rec.Seq != int64(i+1) {
					t.Fatalf("Seq = %d, want %d", rec.Seq, i+1)
				}
			}
			fires, err := st.ListFires(ctx, "j1", 0)
			if err != nil || len(fires) != 2 || fires[0].Seq != 3 || fires[1].Seq != 1 {
				t.Fatalf("ListFires(j1) = %+v, %v", fires, err)
			}
			if fires[0].Counts.Timeout != 1 || len(fires[0].UnknownTargets) != 1 {
				t.Fatalf("fire record = %+v", fires[0])
			}
			if latest, _ := st.ListFires(ctx, "", 1); len(latest) != 1 || latest[0].Seq != 3 {
				t.Fatalf("ListFires(all, 1) = %+v", latest)
			}

			if err := st.DeleteJob(ctx, "j2"); err != nil {
				t.Fatalf("DeleteJob() error = %v", err)
			}
			if err := st.DeleteJob(ctx, "j2"); !errors.Is(err, jobs.ErrNotFound) {
				t.Fatalf("DeleteJob(again) error = %v", err)
			}
		})
	}
}

func TestFiresOrderedByFireTime(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"memory", "file", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t, name)
			ctx := context.Background()
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			// the 09:00 fire ran long and completed after the 09:01 one
			for _, rec := range []jobs.FireRecord{
				{JobID: "a", FiredAt: t0.Add(time.Minute), Status: jobs.FireCompleted},
				{JobID: "a", FiredAt: t0, Status: jobs.FirePartial},
				{JobID: "b", FiredAt: t0.Add(30 * time.Second), Status: jobs.FireCompleted},
			} {
				if _, err := st.AppendFire(ctx, rec); err != nil {
					t.Fatalf("AppendFire() error = %v", err)
				}
			}

			check := func(st jobs.Store) {
				t.Helper()
				got, err := st.ListFires(ctx, "a", 0)
				if err != nil || len(got) != 2 {
					t.Fatalf("ListFires(a) = %+v, %v", got, err)
				}
				if !got[0].FiredAt.Equal(t0.Add(time.Minute)) || !got[1].FiredAt.Equal(t0) {
					t.Fatalf("ListFires(a) fired at %v, %v, want %v first", got[0].FiredAt, got[1].FiredAt, t0.Add(time.Minute))
				}
				all, err := st.ListFires(ctx, "", 0)
				if err != nil || len(all) != 3 {
					t.Fatalf("ListFires(all) = %+v, %v", all, err)
				}
				if all[0].JobID != "a" || all[1].JobID != "b" || all[2].Status != jobs.FirePartial {
					t.Fatalf("ListFires(all) = %+v", all)
				}
				if latest, _ := st.ListFires(ctx, "", 1); len(latest) != 1 || !latest[0].FiredAt.Equal(t0.Add(time.Minute)) {
					t.Fatalf("ListFires(all, 1) = %+v", latest)
				}
			}
			check(st)
			if err := st.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if name == "memory" {
				return
			}

			st, err = Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen error = %v", err)
			}
			defer st.Close()
			check(st)
		})
	}
}

func TestDurableDriversSurviveReopen(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"file", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t, name)
			ctx := context.Background()
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if err := st.CreateJob(ctx, job("keep", "kept", t0)); err != nil {
				t.Fatalf("CreateJob() error = %v", err)
			}
			if _, err := st.AppendFire(ctx, jobs.FireRecord{JobID: "keep", FiredAt: t0, Status: jobs.FireCompleted}); err != nil {
				t.Fatalf("AppendFire() error = %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			st, err = Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen error = %v", err)
			}
			defer st.Close()
			if got, err := st.GetJob(ctx, "keep"); err != nil || got.Name != "kept" {
				t.Fatalf("GetJob() after reopen = %+v, %v", got, err)
			}
			rec, err := st.AppendFire(ctx, jobs.FireRecord{JobID: "keep", FiredAt: t0.Add(time.Hour), Status: jobs.FireError})
			if err != nil || rec.Seq != 2 {
				t.Fatalf("AppendFire() after reopen = %+v, %v", rec, err)
			}
		})
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	t.Parallel()

	for _, cfg := range []Config{
		{Driver: "postgres"},
		{Driver: "file"},
		{Driver: "sqlite"},
	} {
		if _, err := Open(cfg, logx.Nop()); err == nil {
			t.Fatalf("Open(%+v) succeeded", cfg)
		}
	}
}
