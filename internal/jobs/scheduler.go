package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"dashcap/internal/archive"
	"dashcap/internal/capture"
	"dashcap/internal/eventbus"
	"dashcap/internal/render"
	"dashcap/internal/task/engine"
	"dashcap/pkg/logx"
)

const (
	enqueueWarnThrottle = 5 * time.Second
	persistTimeout      = 10 * time.Second
)

// Options controls the evaluation loop.
//
// Defaults: CheckInterval 30s, PruneSchedule "@daily", ExhaustedRetention 30 days,
// Location time.Local.
type Options struct {
	Location           *time.Location
	CheckInterval      time.Duration
	PruneSchedule      string
	ExhaustedRetention time.Duration
	// FireTimeout bounds one whole fire; 0 leaves it to the per-target timeouts.
	FireTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 30 * time.Second
	}
	if strings.TrimSpace(o.PruneSchedule) == "" {
		o.PruneSchedule = "@daily"
	}
	if o.ExhaustedRetention <= 0 {
		o.ExhaustedRetention = 30 * 24 * time.Hour
	}
	return o
}

// ArtifactPruner applies artifact retention.
type ArtifactPruner interface {
	Prune(now time.Time) (archive.PruneResult, error)
}

// Deps are the collaborators of a Service. Engine and Pruner may be nil: fires
// then run inline on the loop goroutine and pruning only cleans jobs.
type Deps struct {
	Store    Store
	Catalog  capture.Catalog
	Sessions capture.SessionSource
	Runner   Runner
	Engine   *engine.Service
	Pruner   ArtifactPruner
}

// Service is the job scheduler and the job management API.
type Service struct {
	opts     Options
	store    Store
	catalog  capture.Catalog
	sessions capture.SessionSource
	runner   Runner
	engine   *engine.Service
	pruner   ArtifactPruner
	log      logx.Logger
	bus      eventbus.Bus
	validate *validator.Validate
	now      func() time.Time

	// serializes name uniqueness checks with writes
	writeMu sync.Mutex

	fireMu sync.Mutex
	firing map[string]struct{}

	cronMu sync.Mutex
	c      *cron.Cron
	stop   context.CancelFunc

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

func New(opts Options, deps Deps, log logx.Logger, bus eventbus.Bus) *Service {
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		opts:        opts.withDefaults(),
		store:       deps.Store,
		catalog:     deps.Catalog,
		sessions:    deps.Sessions,
		runner:      deps.Runner,
		engine:      deps.Engine,
		pruner:      deps.Pruner,
		log:         log,
		bus:         bus,
		validate:    newValidator(),
		now:         time.Now,
		firing:      map[string]struct{}{},
		lastEnqWarn: map[string]time.Time{},
	}
}

// Start runs the evaluation loop on its own cron instance and evaluates once
// immediately so missed slots catch up.
func (s *Service) Start(ctx context.Context) error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.c != nil {
		return nil
	}
	loopCtx, stop := context.WithCancel(ctx)
	c := cron.New(cron.WithLocation(s.opts.Location))
	if _, err := c.AddFunc("@every "+s.opts.CheckInterval.String(), func() { s.Tick(loopCtx) }); err != nil {
		stop()
		return fmt.Errorf("jobs: schedule evaluation: %w", err)
	}
	if _, err := c.AddFunc(s.opts.PruneSchedule, func() { s.schedulePrune(loopCtx) }); err != nil {
		stop()
		return fmt.Errorf("jobs: prune schedule %q: %w", s.opts.PruneSchedule, err)
	}
	s.c, s.stop = c, stop
	c.Start()
	go s.Tick(loopCtx)

	s.log.Info("scheduler started",
		logx.String("tz", s.opts.Location.String()),
		logx.Duration("check_interval", s.opts.CheckInterval),
		logx.String("prune", s.opts.PruneSchedule),
	)
	return nil
}

// Stop halts the loop and waits for running cron callbacks, bounded by ctx.
// In-flight fires on the engine are cancelled through the loop context.
func (s *Service) Stop(ctx context.Context) {
	s.cronMu.Lock()
	c, stop := s.c, s.stop
	s.c, s.stop = nil, nil
	s.cronMu.Unlock()
	if c == nil {
		return
	}
	stop()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Service) Running() bool {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	return s.c != nil
}

// Tick evaluates due jobs at the current time and dispatches their fires.
func (s *Service) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	due, err := s.EvaluateDue(ctx, s.now())
	if err != nil {
		s.log.Error("evaluate due jobs failed", logx.Err(err))
		return
	}
	for _, def := range due {
		s.dispatch(ctx, def)
	}
}

// EvaluateDue returns active jobs whose NextDue is at or before now. It does not
// modify anything, so repeated calls with the same now return the same set.
func (s *Service) EvaluateDue(ctx context.Context, now time.Time) ([]Definition, error) {
	defs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	var due []Definition
	for _, d := range defs {
		if !d.Active || d.NextDue == nil {
			continue
		}
		if !d.NextDue.After(now) {
			due = append(due, d)
		}
	}
	return due, nil
}

func (s *Service) dispatch(ctx context.Context, def Definition) {
	if s.engine == nil || !s.engine.Enabled() {
		fctx := ctx
		if s.opts.FireTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, s.opts.FireTimeout)
			defer cancel()
		}
		if err := s.fireDue(fctx, def.ID); err != nil {
			s.log.Error("job fire failed", logx.String("job", def.ID), logx.Err(err))
		}
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:    "job.fire",
		Key:     def.ID,
		Timeout: s.opts.FireTimeout,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: -1},
		Run: func(taskCtx context.Context) error {
			// the engine context outlives Stop; tie the fire to the loop too
			fctx, cancel := context.WithCancel(taskCtx)
			defer cancel()
			stopLink := context.AfterFunc(ctx, cancel)
			defer stopLink()
			return s.fireDue(fctx, def.ID)
		},
	})
	s.reportEnqueueError(def, err)
}

func (s *Service) reportEnqueueError(def Definition, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("job fire already queued", logx.String("job", def.ID))
		return
	}
	now := s.now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[def.ID]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[def.ID] = now
	s.enqMu.Unlock()
	s.log.Warn("job fire not enqueued", logx.String("job", def.ID), logx.String("name", def.Name), logx.Err(err))
}

func (s *Service) tryLock(id string) (func(), bool) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()
	if _, busy := s.firing[id]; busy {
		return nil, false
	}
	s.firing[id] = struct{}{}
	return func() {
		s.fireMu.Lock()
		delete(s.firing, id)
		s.fireMu.Unlock()
	}, true
}

// fireDue re-reads the job and fires it only if it is still active and due.
// A job fired by another path since evaluation is skipped.
func (s *Service) fireDue(ctx context.Context, id string) error {
	unlock, ok := s.tryLock(id)
	if !ok {
		return nil
	}
	defer unlock()

	now := s.now()
	def, err := s.store.GetJob(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return engine.NoRetry(err)
	}
	if !def.Active || def.NextDue == nil || def.NextDue.After(now) {
		s.log.Debug("job no longer due", logx.String("job", id))
		return nil
	}
	_, _, err = s.doFire(ctx, def, now)
	return engine.NoRetry(err)
}

// Fire runs def now: it resolves targets, runs the batch, appends the fire
// record and advances the job. At most one fire per job id runs at a time.
//
// A persistence failure is returned wrapped in ErrPersistence together with
// the record and outcomes.
func (s *Service) Fire(ctx context.Context, def Definition, now time.Time) (FireRecord, []capture.Outcome, error) {
	unlock, ok := s.tryLock(def.ID)
	if !ok {
		return FireRecord{}, nil, fmt.Errorf("%w: %s", ErrAlreadyFiring, def.ID)
	}
	defer unlock()
	return s.doFire(ctx, def, now)
}

func (s *Service) doFire(ctx context.Context, def Definition, now time.Time) (FireRecord, []capture.Outcome, error) {
	log := s.log.With(logx.String("job", def.ID), logx.String("name", def.Name))

	var (
		targets []capture.Target
		unknown []string
	)
	for _, id := range def.TargetIDs {
		if t, ok := s.catalog.Target(id); ok {
			targets = append(targets, t)
		} else {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		log.Warn("skipping targets", logx.Err(ErrUnknownTarget), logx.Strings("unknown", unknown))
	}
	if len(targets) == 0 {
		log.Warn("job has no resolvable targets; recording an empty fire")
	}

	batchID := uuid.NewString()
	started := time.Now()
	outcomes := s.runner.RunBatch(ctx, capture.Request{
		BatchID:   batchID,
		Source:    "job:" + def.Name,
		Targets:   targets,
		Watermark: def.Watermark,
		TimeRange: def.TimeRange,
		Session:   s.session(ctx, log),
	})
	counts := capture.Summarize(outcomes)

	rec := FireRecord{
		JobID:          def.ID,
		JobName:        def.Name,
		FiredAt:        now,
		BatchID:        batchID,
		Counts:         counts,
		UnknownTargets: unknown,
		Status:         statusFor(counts),
		Duration:       time.Since(started),
	}
	if counts.Cancelled > 0 && ctx.Err() != nil {
		rec.Error = "fire cancelled: " + ctx.Err().Error()
	}

	// results are recorded even if the fire was cancelled mid-batch
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	var errs []error
	if stored, err := s.store.AppendFire(pctx, rec); err != nil {
		errs = append(errs, fmt.Errorf("append fire record: %w", err))
	} else {
		rec = stored
	}
	_, err := s.store.UpdateJob(pctx, def.ID, func(d *Definition) error {
		return s.advance(d, now, rec.Status)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		errs = append(errs, fmt.Errorf("update job: %w", err))
	}

	if len(errs) > 0 {
		perr := fmt.Errorf("%w: %w", ErrPersistence, errors.Join(errs...))
		log.Error("fire results not persisted", logx.Err(perr))
		s.bus.Publish(eventbus.Event{Type: eventbus.JobFireFailed, Data: rec})
		return rec, outcomes, perr
	}

	log.Info("job fired",
		logx.String("batch", batchID),
		logx.String("status", string(rec.Status)),
		logx.Int("success", counts.Success),
		logx.Int("failed", counts.Failed()),
		logx.Int("unknown", len(unknown)),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.JobFired, Data: rec})
	return rec, outcomes, nil
}

// advance applies the post-fire transition to d.
func (s *Service) advance(d *Definition, now time.Time, status FireStatus) error {
	fired := now
	d.LastFired = &fired
	d.RunCount++
	d.LastStatus = status
	d.UpdatedAt = s.now()
	if d.Recurrence == Once {
		d.Active = false
		d.NextDue = nil
		return nil
	}
	next, err := NextAfter(d.Recurrence, d.Anchor, now, s.opts.Location)
	if err != nil {
		// an unschedulable job must not stay due forever
		d.Active = false
		d.NextDue = nil
		return nil
	}
	d.NextDue = next
	return nil
}

func (s *Service) session(ctx context.Context, log logx.Logger) *render.Session {
	if s.sessions == nil {
		return nil
	}
	sess, err := s.sessions.ActiveSession(ctx)
	if err != nil {
		log.Warn("no session; rendering anonymously", logx.Err(err))
		return nil
	}
	return sess
}

func (s *Service) schedulePrune(ctx context.Context) {
	run := func(c context.Context) error {
		_, err := s.Prune(c, s.now())
		return err
	}
	if s.engine == nil || !s.engine.Enabled() {
		if err := run(ctx); err != nil {
			s.log.Warn("prune failed", logx.Err(err))
		}
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name: "archive.prune",
		Opt:  engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: 2},
		Run:  run,
	})
	if err != nil && !errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Warn("prune not enqueued", logx.Err(err))
	}
}

// PruneReport is what Prune removed.
type PruneReport struct {
	Archive     archive.PruneResult `json:"archive"`
	JobsRemoved int                 `json:"jobs_removed"`
}

// Prune applies artifact retention and removes exhausted one-time jobs past
// the retention window.
func (s *Service) Prune(ctx context.Context, now time.Time) (PruneReport, error) {
	var (
		rep  PruneReport
		errs []error
	)
	if s.pruner != nil {
		res, err := s.pruner.Prune(now)
		rep.Archive = res
		if err != nil {
			errs = append(errs, err)
		}
	}
	n, err := s.CleanupExhausted(ctx, now)
	rep.JobsRemoved = n
	if err != nil {
		errs = append(errs, err)
	}
	s.log.Info("prune finished",
		logx.Int("archived", rep.Archive.Archived),
		logx.Int("deleted", rep.Archive.Deleted),
		logx.Int("jobs_removed", rep.JobsRemoved),
	)
	return rep, errors.Join(errs...)
}
