package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"dashcap/internal/capture"
	"dashcap/internal/eventbus"
	"dashcap/pkg/logx"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, _, err := ParseTimeOfDay(fl.Field().String())
		return err == nil
	})
	return v
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// List returns every job ordered by creation time.
func (s *Service) List(ctx context.Context) ([]Definition, error) {
	return s.store.ListJobs(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (Definition, error) {
	return s.store.GetJob(ctx, id)
}

// Create validates in and stores a new job with its first NextDue.
// A once job whose time is not in the future is rejected.
func (s *Service) Create(ctx context.Context, in Input) (Definition, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.TargetIDs = cleanIDs(in.TargetIDs)
	if err := s.check(in); err != nil {
		return Definition{}, err
	}
	if err := ValidateRule(in.Recurrence, in.Anchor); err != nil {
		return Definition{}, err
	}
	if err := in.TimeRange.Validate(); err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	now := s.now()
	def := Definition{
		ID:         uuid.NewString(),
		Name:       in.Name,
		Recurrence: in.Recurrence,
		Anchor:     in.Anchor,
		TargetIDs:  in.TargetIDs,
		Watermark:  in.Watermark,
		TimeRange:  in.TimeRange,
		Active:     in.Active == nil || *in.Active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	next, err := NextAfter(def.Recurrence, def.Anchor, now, s.opts.Location)
	if err != nil {
		return Definition{}, err
	}
	if next == nil {
		return Definition{}, fmt.Errorf("%w: %s is not in the future", ErrExhausted, def.Anchor.At.Format(time.RFC3339))
	}
	def.NextDue = next

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ensureUniqueName(ctx, def.Name, ""); err != nil {
		return Definition{}, err
	}
	if err := s.store.CreateJob(ctx, def); err != nil {
		return Definition{}, err
	}
	s.changed("created", def)
	return def, nil
}

// Update applies p. Schedule changes recompute NextDue for active jobs.
func (s *Service) Update(ctx context.Context, id string, p Patch) (Definition, error) {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		p.Name = &name
	}
	if p.TargetIDs != nil {
		p.TargetIDs = cleanIDs(p.TargetIDs)
	}
	if err := s.check(p); err != nil {
		return Definition{}, err
	}
	if p.TimeRange != nil {
		if err := p.TimeRange.Validate(); err != nil {
			return Definition{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if p.Name != nil {
		if err := s.ensureUniqueName(ctx, *p.Name, id); err != nil {
			return Definition{}, err
		}
	}
	now := s.now()
	def, err := s.store.UpdateJob(ctx, id, func(d *Definition) error {
		if p.Name != nil {
			d.Name = *p.Name
		}
		if p.TargetIDs != nil {
			d.TargetIDs = p.TargetIDs
		}
		if p.Watermark != nil {
			d.Watermark = *p.Watermark
		}
		if p.TimeRange != nil {
			d.TimeRange = *p.TimeRange
		}
		reschedule := false
		if p.Recurrence != nil {
			d.Recurrence = *p.Recurrence
			reschedule = true
		}
		if p.Anchor != nil {
			d.Anchor = *p.Anchor
			reschedule = true
		}
		if reschedule {
			if err := ValidateRule(d.Recurrence, d.Anchor); err != nil {
				return err
			}
			next, err := NextAfter(d.Recurrence, d.Anchor, now, s.opts.Location)
			if err != nil {
				return err
			}
			if next == nil && d.Active {
				return fmt.Errorf("%w: %s is not in the future", ErrExhausted, d.Anchor.At.Format(time.RFC3339))
			}
			d.NextDue = next
		}
		d.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Definition{}, err
	}
	s.changed("updated", def)
	return def, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.changed("deleted", Definition{ID: id})
	return nil
}

// Toggle flips Active. Activation recomputes NextDue from now; deactivation
// keeps it so the schedule is visible while paused. A once job whose time has
// passed cannot be re-activated.
func (s *Service) Toggle(ctx context.Context, id string) (Definition, error) {
	now := s.now()
	def, err := s.store.UpdateJob(ctx, id, func(d *Definition) error {
		if d.Active {
			d.Active = false
			d.UpdatedAt = now
			return nil
		}
		next, err := NextAfter(d.Recurrence, d.Anchor, now, s.opts.Location)
		if err != nil {
			return err
		}
		if next == nil {
			return fmt.Errorf("%w: %s", ErrExhausted, d.ID)
		}
		d.Active = true
		d.NextDue = next
		d.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Definition{}, err
	}
	s.changed("toggled", def)
	return def, nil
}

// History returns the newest fire records of job id (all jobs if id is empty).
func (s *Service) History(ctx context.Context, id string, limit int) ([]FireRecord, error) {
	if id != "" {
		if _, err := s.store.GetJob(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return s.store.ListFires(ctx, id, limit)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	defs, err := s.store.ListJobs(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(defs), ByRecurrence: map[Recurrence]int{}}
	for _, d := range defs {
		st.ByRecurrence[d.Recurrence]++
		st.TotalRuns += d.RunCount
		switch {
		case d.Active:
			st.Active++
		case d.Exhausted():
			st.Exhausted++
		default:
			st.Inactive++
		}
		if d.Active && d.NextDue != nil && (st.Next == nil || d.NextDue.Before(st.Next.At)) {
			st.Next = &Upcoming{JobID: d.ID, Name: d.Name, At: *d.NextDue}
		}
	}
	return st, nil
}

// RunNow fires job id immediately regardless of its schedule. The job then
// advances as after any fire.
func (s *Service) RunNow(ctx context.Context, id string) (FireRecord, []capture.Outcome, error) {
	def, err := s.store.GetJob(ctx, id)
	if err != nil {
		return FireRecord{}, nil, err
	}
	return s.Fire(ctx, def, s.now())
}

// CleanupExhausted deletes one-time jobs that already fired and whose last
// fire is older than the retention window.
func (s *Service) CleanupExhausted(ctx context.Context, now time.Time) (int, error) {
	defs, err := s.store.ListJobs(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-s.opts.ExhaustedRetention)
	removed := 0
	var errs []error
	for _, d := range defs {
		if !d.Exhausted() || d.LastFired == nil || d.LastFired.After(cutoff) {
			continue
		}
		if err := s.Delete(ctx, d.ID); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("removed exhausted jobs", logx.Int("count", removed))
	}
	return removed, errors.Join(errs...)
}

func (s *Service) ensureUniqueName(ctx context.Context, name, selfID string) error {
	defs, err := s.store.ListJobs(ctx)
	if err != nil {
		return err
	}
	for _, d := range defs {
		if d.ID != selfID && strings.EqualFold(d.Name, name) {
			return fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}
	return nil
}

// JobChange is the payload of eventbus.JobChanged.
type JobChange struct {
	Action string     `json:"action"`
	Job    Definition `json:"job"`
}

func (s *Service) changed(action string, def Definition) {
	s.log.Debug("job "+action, logx.String("job", def.ID), logx.String("name", def.Name))
	s.bus.Publish(eventbus.Event{Type: eventbus.JobChanged, Data: JobChange{Action: action, Job: def}})
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
