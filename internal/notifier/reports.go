package notifier

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"dashcap/internal/capture"
	"dashcap/internal/eventbus"
	"dashcap/internal/jobs"
	"dashcap/internal/task/engine"
	"dashcap/pkg/logx"
)

// Run turns bus events into notifications until ctx is done.
func (s *Service) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m, ok := s.messageFor(ev)
			if !ok {
				continue
			}
			if err := s.Notify(ctx, m); err != nil && !errors.Is(err, ErrDisabled) {
				s.log.Debug("report not queued", logx.String("kind", m.Kind), logx.Err(err))
			}
		}
	}
}

func (s *Service) messageFor(ev eventbus.Event) (Message, bool) {
	cfg := s.config()
	switch ev.Type {
	case eventbus.BatchFinished:
		rep, ok := ev.Data.(capture.Report)
		if !ok {
			return Message{}, false
		}
		if cfg.OnlyFailures && rep.Counts.Failed() == 0 {
			return Message{}, false
		}
		m := Message{Kind: "batch", Text: FormatReport(rep)}
		if cfg.SendPhotos {
			m.Photos = photosFor(rep, cfg.MaxPhotos)
		}
		return m, true
	case eventbus.JobFireFailed:
		rec, ok := ev.Data.(jobs.FireRecord)
		if !ok {
			return Message{}, false
		}
		return Message{Kind: "alert", Text: fmt.Sprintf(
			"⚠️ Job %q ran (batch %s) but its results were not saved; it may fire again.",
			rec.JobName, shortID(rec.BatchID))}, true
	case eventbus.TaskDropped:
		tev, ok := ev.Data.(engine.TaskEvent)
		if !ok || tev.Name != "job.fire" {
			return Message{}, false
		}
		return Message{Kind: "alert", Text: fmt.Sprintf(
			"⚠️ A scheduled fire of job %s was dropped: %s", tev.Key, tev.Error)}, true
	}
	return Message{}, false
}

// FormatReport renders a finished batch as a short plain-text summary.
func FormatReport(rep capture.Report) string {
	c := rep.Counts
	var b strings.Builder
	icon := "✅"
	switch {
	case c.Total == 0 || c.Success == 0:
		icon = "❌"
	case c.Failed() > 0:
		icon = "⚠️"
	}
	fmt.Fprintf(&b, "%s Capture %s: %d/%d ok", icon, sourceLabel(rep.Source), c.Success, c.Total)
	if c.Timeout > 0 {
		fmt.Fprintf(&b, ", %d timeout", c.Timeout)
	}
	if c.RenderError > 0 {
		fmt.Fprintf(&b, ", %d error", c.RenderError)
	}
	if c.Cancelled > 0 {
		fmt.Fprintf(&b, ", %d cancelled", c.Cancelled)
	}
	if !rep.FinishedAt.IsZero() && !rep.StartedAt.IsZero() {
		fmt.Fprintf(&b, " in %s", rep.FinishedAt.Sub(rep.StartedAt).Round(100*time.Millisecond))
	}
	for _, o := range rep.Outcomes {
		if o.Status == capture.StatusSuccess {
			if o.Warning != "" {
				fmt.Fprintf(&b, "\n• %s: %s", targetLabel(o), o.Warning)
			}
			continue
		}
		fmt.Fprintf(&b, "\n• %s: %s", targetLabel(o), o.Status)
		if o.Error != "" {
			b.WriteString(" (" + truncate(o.Error, 200) + ")")
		}
	}
	return truncate(b.String(), 3500)
}

func photosFor(rep capture.Report, limit int) []Photo {
	var out []Photo
	for _, o := range rep.Outcomes {
		if o.Status != capture.StatusSuccess || o.ArtifactPath == "" {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, Photo{Path: o.ArtifactPath, Caption: targetLabel(o)})
	}
	return out
}

func sourceLabel(src string) string {
	if name, ok := strings.CutPrefix(src, "job:"); ok {
		return fmt.Sprintf("job %q", name)
	}
	if src == "" {
		return "batch"
	}
	return src
}

func targetLabel(o capture.Outcome) string {
	if o.TargetName != "" {
		return o.TargetName
	}
	if o.TargetID != "" {
		return o.TargetID
	}
	return filepath.Base(o.ArtifactPath)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
