package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"dashcap/internal/eventbus"
	"dashcap/internal/render"
	"dashcap/pkg/logx"
)

// Options holds orchestrator defaults.
//
// Defaults: Concurrency 3, MaxRenders 3, Timeout 30s, Attempts 1,
// RetryBase 1s, RetryMaxDelay 15s, RatePerSec 0 (unpaced).
type Options struct {
	Concurrency   int
	MaxRenders    int
	Timeout       time.Duration
	Attempts      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RatePerSec    float64
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.MaxRenders <= 0 {
		o.MaxRenders = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 1
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	return o
}

// Orchestrator runs capture batches. One Orchestrator is shared by manual and
// scheduled captures so its Gate is the process-wide renderer ceiling.
type Orchestrator struct {
	opts     Options
	renderer render.Renderer
	annot    Annotator
	writer   ArtifactWriter
	log      logx.Logger
	bus      eventbus.Bus
	gate     *Gate
	limiter  *rate.Limiter
	now      func() time.Time
}

// NewOrchestrator wires the pipeline. annot may be nil, in which case
// watermark requests are ignored.
func NewOrchestrator(opts Options, r render.Renderer, annot Annotator, w ArtifactWriter, log logx.Logger, bus eventbus.Bus) *Orchestrator {
	opts = opts.withDefaults()
	if bus == nil {
		bus = eventbus.Nop()
	}
	o := &Orchestrator{
		opts:     opts,
		renderer: r,
		annot:    annot,
		writer:   w,
		log:      log,
		bus:      bus,
		gate:     NewGate(opts.MaxRenders),
		now:      time.Now,
	}
	if opts.RatePerSec > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return o
}

func (o *Orchestrator) Gate() *Gate { return o.gate }

// RunBatch captures every target of req and returns one Outcome per target in
// input order. It returns only after every started capture has settled and
// released its slot. Cancelling ctx reports unfinished targets as cancelled.
func (o *Orchestrator) RunBatch(ctx context.Context, req Request) []Outcome {
	n := len(req.Targets)
	out := make([]Outcome, n)
	if n == 0 {
		return out
	}
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	limit := req.Concurrency
	if limit <= 0 {
		limit = o.opts.Concurrency
	}
	limit = min(limit, n)
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.opts.Timeout
	}

	log := o.log.With(logx.String("batch", req.BatchID), logx.String("source", req.Source))
	started := o.now()
	log.Info("batch started", logx.Int("targets", n), logx.Int("concurrency", limit))
	o.bus.Publish(eventbus.Event{Type: eventbus.BatchStarted, Data: req.BatchID})

	settle := func(i int, oc Outcome) {
		out[i] = oc
		if req.Observer != nil {
			req.Observer(i, oc)
		}
	}

	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < limit; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				settle(i, o.captureOne(ctx, log, &req, i, timeout))
			}
		}()
	}

	fed := 0
feed:
	for ; fed < n; fed++ {
		select {
		case next <- fed:
		case <-ctx.Done():
			break feed
		}
	}
	close(next)
	wg.Wait()

	for i := fed; i < n; i++ {
		t := req.Targets[i]
		settle(i, Outcome{
			TargetID:   t.ID,
			TargetName: t.Name,
			Status:     StatusCancelled,
			Error:      "batch cancelled before start",
		})
	}

	rep := Report{
		BatchID:    req.BatchID,
		Source:     req.Source,
		StartedAt:  started,
		FinishedAt: o.now(),
		Counts:     Summarize(out),
		Outcomes:   append([]Outcome(nil), out...),
	}
	log.Info("batch finished",
		logx.Int("success", rep.Counts.Success),
		logx.Int("timeout", rep.Counts.Timeout),
		logx.Int("render_error", rep.Counts.RenderError),
		logx.Int("cancelled", rep.Counts.Cancelled),
		logx.Duration("elapsed", rep.FinishedAt.Sub(started)),
	)
	o.bus.Publish(eventbus.Event{Type: eventbus.BatchFinished, Data: rep})
	return out
}

// captureOne runs the acquire, render, watermark, persist, release sequence for one target.
func (o *Orchestrator) captureOne(ctx context.Context, log logx.Logger, req *Request, i int, timeout time.Duration) (oc Outcome) {
	t := req.Targets[i]
	oc = Outcome{TargetID: t.ID, TargetName: t.Name, StartedAt: o.now()}
	defer func() { oc.Elapsed = o.now().Sub(oc.StartedAt) }()
	log = log.With(logx.String("target", t.ID))

	cancelled := func() Outcome {
		oc.Status = StatusCancelled
		oc.Error = "batch cancelled"
		return oc
	}

	if err := o.gate.Acquire(ctx); err != nil {
		return cancelled()
	}
	defer o.gate.Release()

	var data []byte
	for attempt := 1; ; attempt++ {
		oc.Attempts = attempt
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return cancelled()
			}
		}
		var err error
		data, err = o.renderAttempt(ctx, t, req, timeout)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return cancelled()
		}
		oc.Status, oc.Error = classify(err, timeout)
		log.Warn("capture attempt failed",
			logx.Int("attempt", attempt),
			logx.String("status", string(oc.Status)),
			logx.Err(err),
		)
		if attempt >= o.opts.Attempts || errors.Is(err, render.ErrLoginFailed) {
			return oc
		}
		select {
		case <-ctx.Done():
			return cancelled()
		case <-time.After(backoffDelay(o.opts.RetryBase, o.opts.RetryMaxDelay, attempt)):
		}
	}

	capturedAt := o.now()
	if req.Watermark && o.annot != nil {
		annotated, err := o.annot.AnnotatePNG(data, o.annot.Label(capturedAt, t.Name))
		if err != nil {
			oc.Warning = err.Error()
			log.Warn("watermark skipped", logx.Err(err))
		}
		data = annotated
	}

	path, err := o.writer.Save(t.Name, data, capturedAt)
	if err != nil {
		oc.Status = StatusRenderError
		oc.Error = fmt.Sprintf("save artifact: %v", err)
		log.Error("artifact save failed", logx.Err(err))
		return oc
	}
	oc.Status, oc.Error, oc.ArtifactPath = StatusSuccess, "", path
	log.Debug("capture stored", logx.String("path", path), logx.Int("bytes", len(data)))
	return oc
}

func (o *Orchestrator) renderAttempt(ctx context.Context, t Target, req *Request, timeout time.Duration) (data []byte, err error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("renderer panic: %v", r)
		}
	}()
	data, err = o.renderer.Render(actx, t.URL, req.Session, req.TimeRange)
	// a renderer that ignored the deadline still timed out
	if err == nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return nil, render.ErrTimeout
	}
	if err == nil && len(data) == 0 {
		err = render.ErrEmptyImage
	}
	return data, err
}

func classify(err error, timeout time.Duration) (Status, string) {
	if errors.Is(err, render.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout, fmt.Sprintf("timed out after %s", timeout)
	}
	return StatusRenderError, err.Error()
}
