// Package engine fans a collection run out over concurrent capture workers
// and merges what they bring back.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/feedharvest/config"
	"github.com/use-agent/feedharvest/models"
	"github.com/use-agent/feedharvest/storage"
	"golang.org/x/sync/errgroup"
)

// saveTimeout bounds persisting a result set after the run context ends.
const saveTimeout = 2 * time.Minute

// WorkerFunc runs one capture worker to completion.
type WorkerFunc func(ctx context.Context, spec models.WorkerSpec) ([]models.VideoItem, error)

// ProxySource hands out the base proxy credential. InitProxy is retried
// on admission while the credential is still missing.
type ProxySource interface {
	InitProxy(ctx context.Context) error
	Proxy() (models.ProxyAssignment, error)
}

// proxyInitTimeout bounds the secret fetch made while admitting a run.
const proxyInitTimeout = 15 * time.Second

// Notifier is told about every finished run.
type Notifier interface {
	NotifyRun(outcome models.RunOutcome)
}

// Options tunes fan-out.
type Options struct {
	MaxConcurrency  int
	ConcurrencyUnit int
	DefaultRegion   string
	StaggerEvery    int
	StaggerDelay    time.Duration
	WorkerTimeout   time.Duration
}

// OptionsFrom derives Options from the collector configuration.
func OptionsFrom(c config.CollectorConfig) Options {
	return Options{
		MaxConcurrency:  c.MaxConcurrency,
		ConcurrencyUnit: c.ConcurrencyUnit,
		DefaultRegion:   c.DefaultRegion,
		StaggerEvery:    c.StaggerEvery,
		StaggerDelay:    c.StaggerDelay,
		WorkerTimeout:   c.WorkerTimeout,
	}
}

// Orchestrator runs at most one collection at a time. It is safe for
// concurrent use.
type Orchestrator struct {
	opts     Options
	proxies  ProxySource
	store    storage.Store
	work     WorkerFunc
	notifier Notifier
	lock     RunLock
	now      func() time.Time

	mu      sync.Mutex
	current *models.CollectionRun
	cancel  context.CancelFunc
	last    *models.RunOutcome
}

// New creates an Orchestrator.
func New(opts Options, proxies ProxySource, store storage.Store, work WorkerFunc) *Orchestrator {
	if opts.ConcurrencyUnit < 1 {
		opts.ConcurrencyUnit = 1
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Orchestrator{
		opts:    opts,
		proxies: proxies,
		store:   store,
		work:    work,
		now:     time.Now,
	}
}

// SetNotifier registers a completion notifier.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

// pending is an admitted run that has not executed yet.
type pending struct {
	run     models.CollectionRun
	proxy   models.ProxyAssignment
	ctx     context.Context
	release func()
}

// admit takes the run lock, resolves the proxy and registers the run.
// Only Busy and NotInitialized are returned; on error nothing is held.
func (o *Orchestrator) admit(parent context.Context, req models.RunRequest) (*pending, error) {
	unlock, ok := o.lock.TryAcquire()
	if !ok {
		return nil, models.NewScrapeError(models.ErrCodeBusy, "a collection is already in progress", nil)
	}

	base, err := o.proxies.Proxy()
	if models.HasCode(err, models.ErrCodeNotInitialized) {
		initCtx, cancelInit := context.WithTimeout(parent, proxyInitTimeout)
		err = o.proxies.InitProxy(initCtx)
		cancelInit()
		if err == nil {
			base, err = o.proxies.Proxy()
		}
	}
	if err != nil {
		unlock()
		return nil, err
	}

	concurrency := req.Concurrency
	if concurrency > o.opts.MaxConcurrency {
		slog.Error("requested concurrency above limit, clamping",
			"requested", concurrency,
			"max", o.opts.MaxConcurrency,
		)
		concurrency = o.opts.MaxConcurrency
	}
	if concurrency < 1 {
		concurrency = 1
	}
	region := req.ProxyRegion
	if region == "" {
		region = o.opts.DefaultRegion
	}

	start := o.now()
	run := models.CollectionRun{
		ID:           uuid.NewString(),
		TargetCount:  req.TargetCount,
		Concurrency:  concurrency,
		ProxyRegion:  region,
		SentinelUser: req.SentinelUser,
		StartTime:    start,
		Key:          models.ResultKey(req.SentinelUser, start),
	}

	ctx, cancel := context.WithCancel(parent)
	o.mu.Lock()
	o.current = &run
	o.cancel = cancel
	o.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			o.mu.Lock()
			o.current = nil
			o.cancel = nil
			o.mu.Unlock()
			unlock()
		})
	}

	return &pending{
		run:     run,
		proxy:   base.WithRegion(region),
		ctx:     ctx,
		release: release,
	}, nil
}

// Start admits a run and executes it in the background. It returns as soon
// as the run is accepted.
func (o *Orchestrator) Start(req models.RunRequest) (*models.CollectionRun, error) {
	p, err := o.admit(context.Background(), req)
	if err != nil {
		return nil, err
	}
	go func() {
		defer p.release()
		o.execute(p)
	}()
	run := p.run
	return &run, nil
}

// Run admits a run and blocks until it is finished and stored. A storage
// failure is returned alongside the outcome.
func (o *Orchestrator) Run(ctx context.Context, req models.RunRequest) (*models.RunOutcome, error) {
	p, err := o.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	defer p.release()

	outcome := o.execute(p)
	if outcome.SaveError != "" {
		return outcome, models.NewScrapeError(models.ErrCodeStorage, outcome.SaveError, nil)
	}
	return outcome, nil
}

// Cancel asks the active run to stop. Workers finish their teardown and the
// partial result is still stored. It reports whether a run was active.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	slog.Info("collection cancel requested", "run", o.current.ID)
	o.cancel()
	return true
}

// Busy reports whether a run is active.
func (o *Orchestrator) Busy() bool {
	return o.lock.Busy()
}

// Current returns the active run, or nil.
func (o *Orchestrator) Current() *models.CollectionRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	run := *o.current
	return &run
}

// LastOutcome returns the most recent finished run, or nil.
func (o *Orchestrator) LastOutcome() *models.RunOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	out := *o.last
	return &out
}

// execute fans out, merges and stores. The per-worker target divides by the
// configured unit, not by the number of launched workers, and keeps the
// fraction.
func (o *Orchestrator) execute(p *pending) *models.RunOutcome {
	run := p.run
	log := slog.With("run", run.ID, "sentinel", run.SentinelUser)
	started := time.Now()

	// ── 1. Per-worker target ─────────────────────────────────────────
	perWorker := float64(run.TargetCount) / float64(o.opts.ConcurrencyUnit)
	log.Info("collection started",
		"target", run.TargetCount,
		"workers", run.Concurrency,
		"per_worker_target", perWorker,
		"region", run.ProxyRegion,
		"key", run.Key,
	)

	// ── 2. Fan out ───────────────────────────────────────────────────
	results := make([][]models.VideoItem, run.Concurrency)
	var failures atomic.Int32
	var g errgroup.Group
	for i := 0; i < run.Concurrency; i++ {
		spec := models.WorkerSpec{
			Index:        i,
			Target:       perWorker,
			SentinelUser: run.SentinelUser,
			Proxy:        p.proxy,
		}
		g.Go(func() error {
			if o.staggered(i) {
				select {
				case <-time.After(o.opts.StaggerDelay):
				case <-p.ctx.Done():
				}
			}
			items, err := o.runWorker(p.ctx, spec)
			if err != nil {
				failures.Add(1)
				log.Error("worker failed, continuing with empty result", "worker", i, "error", err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	// ── 3. Merge ─────────────────────────────────────────────────────
	captured := 0
	for _, r := range results {
		captured += len(r)
	}
	merged := Merge(results...)

	outcome := &models.RunOutcome{
		Run:             run,
		Launched:        run.Concurrency,
		PerWorkerTarget: perWorker,
		Captured:        captured,
		Unique:          len(merged),
		WorkerFailures:  int(failures.Load()),
	}

	// ── 4. Save ──────────────────────────────────────────────────────
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), saveTimeout)
	defer cancel()
	if err := o.store.Save(saveCtx, merged, run.Key); err != nil {
		outcome.SaveError = err.Error()
		log.Error("failed to store result set", "key", run.Key, "error", err)
	} else {
		outcome.Saved = true
	}

	// ── 5. Report ────────────────────────────────────────────────────
	outcome.Elapsed = time.Since(started)
	log.Info("collection finished",
		"captured", captured,
		"unique", len(merged),
		"worker_failures", outcome.WorkerFailures,
		"elapsed_minutes", fmt.Sprintf("%.2f", outcome.Elapsed.Minutes()),
		"saved", outcome.Saved,
	)

	o.mu.Lock()
	last := *outcome
	o.last = &last
	o.mu.Unlock()

	if o.notifier != nil {
		o.notifier.NotifyRun(*outcome)
	}
	return outcome
}

func (o *Orchestrator) staggered(i int) bool {
	return o.opts.StaggerEvery > 0 && o.opts.StaggerDelay > 0 && (i+1)%o.opts.StaggerEvery == 0
}

// runWorker calls the worker under its own deadline and turns panics into
// errors so one broken browser cannot take the run down.
func (o *Orchestrator) runWorker(ctx context.Context, spec models.WorkerSpec) (items []models.VideoItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panicked", "worker", spec.Index, "panic", r, "stack", string(debug.Stack()))
			items = nil
			err = models.NewScrapeError(models.ErrCodeWorker, fmt.Sprintf("worker %d panicked: %v", spec.Index, r), nil)
		}
	}()

	if o.opts.WorkerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.WorkerTimeout)
		defer cancel()
	}

	items, err = o.work(ctx, spec)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeWorker, fmt.Sprintf("worker %d", spec.Index), err)
	}
	return items, nil
}
