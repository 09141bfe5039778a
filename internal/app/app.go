package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dashcap/internal/archive"
	"dashcap/internal/capture"
	"dashcap/internal/catalog"
	"dashcap/internal/config"
	"dashcap/internal/credentials"
	"dashcap/internal/eventbus"
	"dashcap/internal/jobs"
	"dashcap/internal/notifier"
	"dashcap/internal/render"
	rtsup "dashcap/internal/runtime/supervisor"
	"dashcap/internal/storage"
	"dashcap/internal/task/engine"
	"dashcap/internal/watermark"
	"dashcap/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    jobs.Store
	catalog  *catalog.FileCatalog
	sessions *credentials.EnvProvider
	renderer *render.ChromeRenderer

	orch     *capture.Orchestrator
	captures *capture.Manager
	engine   *engine.Service
	jobs     *jobs.Service
	notif    *notifier.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedOpts, err := mapSchedulerOptions(cfg)
	if err != nil {
		return nil, err
	}
	capOpts, err := mapCaptureOptions(cfg)
	if err != nil {
		return nil, err
	}
	chromeOpts, err := mapChromeOptions(cfg)
	if err != nil {
		return nil, err
	}
	wmOpts, err := mapWatermarkOptions(cfg)
	if err != nil {
		return nil, err
	}
	archOpts, err := mapArchiveOptions(cfg, schedOpts.Location)
	if err != nil {
		return nil, err
	}
	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, tgCfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(cfg.Catalog.DashboardsFile, cfg.Catalog.ListsFile, log.With(logx.String("comp", "catalog")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	wm, err := watermark.New(wmOpts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sessions := credentials.NewEnvProvider(mapCredentials(cfg))
	chrome := render.NewChrome(chromeOpts, log.With(logx.String("comp", "renderer")))
	arch := archive.New(archOpts, log.With(logx.String("comp", "archive")))

	orch := capture.NewOrchestrator(capOpts, chrome, wm, arch, log.With(logx.String("comp", "capture")), bus)
	captures := capture.NewManager(orch, cat, sessions, cfg.Capture.BatchHistory, log.With(logx.String("comp", "captures")))

	engSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	jobSvc := jobs.New(schedOpts, jobs.Deps{
		Store:    store,
		Catalog:  cat,
		Sessions: sessions,
		Runner:   orch,
		Engine:   engSvc,
		Pruner:   arch,
	}, log.With(logx.String("comp", "scheduler")), bus)

	var sender notifier.Sender
	if ncfg.Enabled {
		tg, err := notifier.NewTelegramSender(tgCfg)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("notifier: %w", err)
		}
		sender = tg
	}
	notif := notifier.New(ncfg, sender, log.With(logx.String("comp", "notifier")), bus)
	logSvc.SetForwarder(notif)

	log.Info("app configured",
		logx.String("storage", storeCfg.Driver),
		logx.Int("targets", len(cat.All())),
		logx.Int("lists", len(cat.Lists())),
		logx.String("timezone", schedOpts.Location.String()),
	)

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		catalog:  cat,
		sessions: sessions,
		renderer: chrome,
		orch:     orch,
		captures: captures,
		engine:   engSvc,
		jobs:     jobSvc,
		notif:    notif,
	}, nil
}

func (a *App) Jobs() *jobs.Service           { return a.jobs }
func (a *App) Captures() *capture.Manager    { return a.captures }
func (a *App) Catalog() *catalog.FileCatalog { return a.catalog }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// CaptureOnce runs a single batch in the foreground and returns its outcomes
// in target order. Either ids or list selects the targets.
func (a *App) CaptureOnce(ctx context.Context, ids []string, list string, wm bool, tr render.TimeRange) ([]capture.Outcome, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	var (
		targets []capture.Target
		source  = "manual"
	)
	if list != "" {
		targets = a.catalog.List(list)
		source = "list:" + list
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		t, ok := a.catalog.Target(id)
		if !ok {
			a.log.Warn("unknown dashboard skipped", logx.String("target", id))
			continue
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil, capture.ErrNoTargets
	}

	sess, err := a.sessions.ActiveSession(ctx)
	if err != nil {
		a.log.Warn("no active session; rendering anonymously", logx.Err(err))
		sess = nil
	}
	outs := a.orch.RunBatch(ctx, capture.Request{
		BatchID:   uuid.NewString(),
		Source:    source,
		Targets:   targets,
		Watermark: wm,
		TimeRange: tr,
		Session:   sess,
	})
	return outs, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	cfg := a.cfgm.Get()

	// engine first: the scheduler dispatches into it
	a.engine.Start(a.sup.Context())
	if cfg.Scheduler.Enabled {
		if err := a.jobs.Start(a.sup.Context()); err != nil {
			return err
		}
	} else {
		a.log.Info("scheduler disabled; jobs fire only via RunNow")
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	a.sup.Go("notifier.reports", func(c context.Context) error {
		return a.notif.Run(c, a.bus)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Bool("scheduler", cfg.Scheduler.Enabled), logx.Bool("notifier", a.notif.Enabled()))
	return nil
}

// restartOnly are sections that are wired at construction time.
var restartOnly = map[string]bool{
	"storage":     true,
	"catalog":     true,
	"credentials": true,
	"renderer":    true,
	"capture":     true,
	"watermark":   true,
	"archive":     true,
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if restartOnly[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogging(newCfg))

	if engCfg, err := mapTaskEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(c, engCfg)
	}

	a.applyScheduler(c, oldCfg, newCfg)
	a.applyNotifier(c, newCfg)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyScheduler(c context.Context, oldCfg, newCfg *config.Config) {
	was, now := a.jobs.Running(), newCfg.Scheduler.Enabled

	oldSched, newSched := oldCfg.Scheduler, newCfg.Scheduler
	oldSched.Enabled, newSched.Enabled = false, false
	if oldSched != newSched {
		a.log.Warn("scheduler options changed; restart required for changes to take effect")
	}

	switch {
	case was && !now:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.jobs.Stop(stopCtx)
		cancel()
	case !was && now:
		a.log.Info("scheduler enabled via config")
		if err := a.jobs.Start(a.sup.Context()); err != nil {
			a.log.Error("scheduler start failed", logx.Err(err))
		}
	}
}

func (a *App) applyNotifier(c context.Context, newCfg *config.Config) {
	ncfg, tgCfg, err := mapNotifierConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	prev := a.notif.Enabled()
	if ncfg.Enabled {
		tg, err := notifier.NewTelegramSender(tgCfg)
		if err != nil {
			a.log.Warn("notifier sender rejected; keeping previous", logx.Err(err))
			return
		}
		a.notif.SetSender(tg)
	}
	a.notif.Apply(ncfg)

	switch {
	case prev && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prev && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(a.sup.Context())
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeResources()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// run a shutdown step with an upper bound so one component can't stall the whole stop
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		// never extend the caller's deadline
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// scheduler first so nothing new is dispatched, then in-flight captures
	step("scheduler", 3*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	step("captures", 5*time.Second, a.captures.Stop)
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("renderer", 2*time.Second, func(context.Context) error { return a.renderer.Close() })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

// closeResources is the Stop path for an app that never started, e.g. after a
// one-shot capture.
func (a *App) closeResources() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := errors.Join(
		a.captures.Stop(stopCtx),
		a.renderer.Close(),
		a.store.Close(),
	)
	return errors.Join(err, a.logs.Close())
}
