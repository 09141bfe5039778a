// Package capture renders batches of dashboard targets into image artifacts.
//
// RunBatch fans a Request out over a bounded set of workers, and a process-wide
// gate caps concurrent renders across every batch. Each target yields exactly
// one Outcome, in input order, and no target's failure affects its siblings.
package capture

import (
	"context"
	"errors"
	"time"

	"dashcap/internal/render"
)

type Status string

const (
	StatusSuccess     Status = "success"
	StatusTimeout     Status = "timeout"
	StatusRenderError Status = "render_error"
	StatusCancelled   Status = "cancelled"
	// StatusPending only appears in in-flight batch status views.
	StatusPending Status = "pending"
)

var (
	ErrNoTargets    = errors.New("capture: no targets")
	ErrUnknownBatch = errors.New("capture: unknown batch")
	ErrStopped      = errors.New("capture: manager stopped")
)

// Target is a capturable dashboard.
type Target struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	URL   string   `json:"url"`
	Lists []string `json:"lists,omitempty"`
}

// Request describes one batch. It must not be modified after RunBatch starts.
type Request struct {
	BatchID   string
	Source    string
	Targets   []Target
	Watermark bool
	TimeRange render.TimeRange
	// Concurrency caps in-flight renders for this batch; <=0 uses the default.
	Concurrency int
	// Timeout bounds each render attempt; <=0 uses the default.
	Timeout time.Duration
	// Session is passed to the renderer as-is; nil renders anonymously.
	Session *render.Session
	// Observer, when set, is called once per target as its outcome settles.
	Observer func(index int, o Outcome)
}

// Outcome is the settled result for one target.
type Outcome struct {
	TargetID     string        `json:"target_id"`
	TargetName   string        `json:"target_name"`
	Status       Status        `json:"status"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	Error        string        `json:"error,omitempty"`
	Warning      string        `json:"warning,omitempty"`
	Attempts     int           `json:"attempts"`
	StartedAt    time.Time     `json:"started_at"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Counts tallies outcomes by status.
type Counts struct {
	Total       int `json:"total"`
	Success     int `json:"success"`
	Timeout     int `json:"timeout"`
	RenderError int `json:"render_error"`
	Cancelled   int `json:"cancelled"`
}

func Summarize(outs []Outcome) Counts {
	c := Counts{Total: len(outs)}
	for _, o := range outs {
		switch o.Status {
		case StatusSuccess:
			c.Success++
		case StatusTimeout:
			c.Timeout++
		case StatusRenderError:
			c.RenderError++
		case StatusCancelled:
			c.Cancelled++
		}
	}
	return c
}

// Failed reports how many outcomes were not successful.
func (c Counts) Failed() int { return c.Timeout + c.RenderError + c.Cancelled }

// Report is published on the event bus when a batch finishes.
type Report struct {
	BatchID    string    `json:"batch_id"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Counts     Counts    `json:"counts"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Annotator stamps a label onto encoded PNG bytes. On failure it returns the
// input bytes and a non-fatal error.
type Annotator interface {
	Label(capturedAt time.Time, name string) string
	AnnotatePNG(raw []byte, label string) ([]byte, error)
}

// ArtifactWriter persists image bytes and returns their location.
type ArtifactWriter interface {
	Save(name string, data []byte, at time.Time) (string, error)
}

// Catalog resolves target ids and list names.
type Catalog interface {
	Target(id string) (Target, bool)
	List(name string) []Target
}

// SessionSource yields the current renderer session; nil means none is configured.
type SessionSource interface {
	ActiveSession(ctx context.Context) (*render.Session, error)
}
