// Package jobs owns scheduled capture jobs: their definitions, recurrence
// math, the evaluation loop that fires due jobs through the capture
// orchestrator, and the fire history.
package jobs

import (
	"context"
	"errors"
	"time"

	"dashcap/internal/capture"
	"dashcap/internal/render"
)

type Recurrence string

const (
	Once    Recurrence = "once"
	Daily   Recurrence = "daily"
	Weekly  Recurrence = "weekly"
	Monthly Recurrence = "monthly"
)

// FireStatus summarizes a fire: every target succeeded, some did, or none did.
type FireStatus string

const (
	FireCompleted FireStatus = "completed"
	FirePartial   FireStatus = "partial"
	FireError     FireStatus = "error"
)

var (
	ErrNotFound      = errors.New("jobs: not found")
	ErrInvalid       = errors.New("jobs: invalid job")
	ErrDuplicateName = errors.New("jobs: name already in use")
	ErrExhausted     = errors.New("jobs: one-time job already past")
	ErrAlreadyFiring = errors.New("jobs: fire already in progress")
	// ErrUnknownTarget is logged and counted on the fire record; it never fails a fire.
	ErrUnknownTarget = errors.New("jobs: unknown target")
	// ErrPersistence wraps store failures after a batch ran. The fire record
	// and outcomes are still returned alongside it.
	ErrPersistence = errors.New("jobs: persistence failed")
)

// Anchor pins a recurrence to the calendar. At is used by once jobs; the
// others use TimeOfDay ("HH:MM") plus Weekday (weekly) or DayOfMonth (monthly).
// Days past the end of a short month clamp to its last day.
type Anchor struct {
	At         time.Time    `json:"at,omitzero"`
	TimeOfDay  string       `json:"time_of_day,omitempty" validate:"omitempty,hhmm"`
	Weekday    time.Weekday `json:"weekday,omitempty" validate:"gte=0,lte=6"`
	DayOfMonth int          `json:"day_of_month,omitempty" validate:"gte=0,lte=31"`
}

// Definition is a persisted job.
type Definition struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Recurrence Recurrence       `json:"recurrence"`
	Anchor     Anchor           `json:"anchor"`
	TargetIDs  []string         `json:"target_ids"`
	Watermark  bool             `json:"watermark"`
	TimeRange  render.TimeRange `json:"time_range,omitzero"`
	Active     bool             `json:"active"`
	LastFired  *time.Time       `json:"last_fired,omitempty"`
	NextDue    *time.Time       `json:"next_due,omitempty"`
	RunCount   int              `json:"run_count"`
	LastStatus FireStatus       `json:"last_status,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Exhausted reports whether a one-time job has nothing left to fire.
func (d Definition) Exhausted() bool {
	return d.Recurrence == Once && !d.Active && d.NextDue == nil && d.RunCount > 0
}

// FireRecord is the append-only log entry for one fire.
type FireRecord struct {
	Seq            int64          `json:"seq"`
	JobID          string         `json:"job_id"`
	JobName        string         `json:"job_name"`
	FiredAt        time.Time      `json:"fired_at"`
	BatchID        string         `json:"batch_id"`
	Counts         capture.Counts `json:"counts"`
	UnknownTargets []string       `json:"unknown_targets,omitempty"`
	Status         FireStatus     `json:"status"`
	Duration       time.Duration  `json:"duration"`
	Error          string         `json:"error,omitempty"`
}

// Input is the payload for Create.
type Input struct {
	Name       string           `json:"name" validate:"required,max=120"`
	Recurrence Recurrence       `json:"recurrence" validate:"required,oneof=once daily weekly monthly"`
	Anchor     Anchor           `json:"anchor"`
	TargetIDs  []string         `json:"target_ids" validate:"required,min=1,dive,required"`
	Watermark  bool             `json:"watermark"`
	TimeRange  render.TimeRange `json:"time_range,omitzero"`
	// Active defaults to true.
	Active *bool `json:"active,omitempty"`
}

// Patch updates selected fields; nil fields are left unchanged.
type Patch struct {
	Name       *string           `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Recurrence *Recurrence       `json:"recurrence,omitempty" validate:"omitempty,oneof=once daily weekly monthly"`
	Anchor     *Anchor           `json:"anchor,omitempty"`
	TargetIDs  []string          `json:"target_ids,omitempty" validate:"omitempty,min=1,dive,required"`
	Watermark  *bool             `json:"watermark,omitempty"`
	TimeRange  *render.TimeRange `json:"time_range,omitempty"`
}

// Upcoming names the next job due.
type Upcoming struct {
	JobID string    `json:"job_id"`
	Name  string    `json:"name"`
	At    time.Time `json:"at"`
}

// Stats summarizes the job set.
type Stats struct {
	Total        int                `json:"total"`
	Active       int                `json:"active"`
	Inactive     int                `json:"inactive"`
	Exhausted    int                `json:"exhausted"`
	ByRecurrence map[Recurrence]int `json:"by_recurrence"`
	TotalRuns    int                `json:"total_runs"`
	Next         *Upcoming          `json:"next,omitempty"`
}

// Store persists definitions and fire history.
//
// UpdateJob must apply fn atomically against the current stored value; fn
// may return an error to abort without writing.
type Store interface {
	ListJobs(ctx context.Context) ([]Definition, error)
	GetJob(ctx context.Context, id string) (Definition, error)
	CreateJob(ctx context.Context, def Definition) error
	UpdateJob(ctx context.Context, id string, fn func(*Definition) error) (Definition, error)
	DeleteJob(ctx context.Context, id string) error
	// AppendFire stores rec and returns it with Seq assigned.
	AppendFire(ctx context.Context, rec FireRecord) (FireRecord, error)
	// ListFires returns the latest fire time first (Seq breaks ties); empty jobID lists every job. limit <= 0 means all.
	ListFires(ctx context.Context, jobID string, limit int) ([]FireRecord, error)
	Close() error
}

// Runner executes capture batches.
type Runner interface {
	RunBatch(ctx context.Context, req capture.Request) []capture.Outcome
}

func statusFor(c capture.Counts) FireStatus {
	switch {
	case c.Total > 0 && c.Success == c.Total:
		return FireCompleted
	case c.Success > 0:
		return FirePartial
	default:
		return FireError
	}
}
