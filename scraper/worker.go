package scraper

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/use-agent/feedharvest/config"
	"github.com/use-agent/feedharvest/models"
)

const (
	// finalizeTimeout bounds state capture and browser shutdown.
	finalizeTimeout = 30 * time.Second

	// captureDrainLimit bounds the wait for in-flight responses at teardown.
	captureDrainLimit = 2 * time.Second
)

// StateStore persists browser session state per sentinel user.
type StateStore interface {
	LoadState(name string) (*models.SessionState, error)
	SaveState(name string, state *models.SessionState) error
}

// WorkerConfig holds the knobs of a single capture loop.
type WorkerConfig struct {
	Headless          bool
	MaxScrolls        int
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
	NavigationSettle  time.Duration
	ScrollPause       time.Duration
	ScrollBackoff     time.Duration
}

// NewWorkerConfig derives a WorkerConfig from the service configuration.
func NewWorkerConfig(b config.BrowserConfig, c config.CollectorConfig) WorkerConfig {
	return WorkerConfig{
		Headless:          b.Headless,
		MaxScrolls:        c.MaxScrolls,
		ActionTimeout:     c.ActionTimeout,
		NavigationTimeout: c.NavigationTimeout,
		NavigationSettle:  c.NavigationSettle,
		ScrollPause:       c.ScrollPause,
		ScrollBackoff:     c.ScrollBackoff,
	}
}

// Worker runs one browser session against the feed until it holds at least
// spec.Target items or runs out of scroll attempts.
//
// A Worker is single use.
type Worker struct {
	spec    models.WorkerSpec
	cfg     WorkerConfig
	browser Browser
	states  StateStore
	log     *slog.Logger

	// jitter returns a random duration in [0, max). Replaced in tests.
	jitter func(max time.Duration) time.Duration

	state   atomic.Int32
	scrolls atomic.Int32
}

// NewWorker creates a worker for spec.
func NewWorker(spec models.WorkerSpec, cfg WorkerConfig, browser Browser, states StateStore) *Worker {
	return &Worker{
		spec:    spec,
		cfg:     cfg,
		browser: browser,
		states:  states,
		log:     slog.With("worker", spec.Index, "sentinel", spec.SentinelUser),
		jitter:  randomDuration,
	}
}

func randomDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// State returns the current lifecycle phase.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Scrolls returns how many scroll iterations have been attempted.
func (w *Worker) Scrolls() int {
	return int(w.scrolls.Load())
}

func (w *Worker) enter(s State) {
	w.state.Store(int32(s))
	w.log.Debug("worker state", "state", s.String())
}

// Collect runs the worker to completion and returns every captured,
// filtered item. The result may exceed the target because whole pages are
// kept.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Short circuit        – nothing to collect, no browser
//  2. Launch               – proxy, stored session state, stealth
//  3. DEFER: finalize      – drain, persist session state, close browser
//  4. Listen               – MUST be attached before navigation
//  5. Navigate + settle
//  6. Identity check       – logged only
//  7. Scroll loop          – until target, cap, or cancellation
func (w *Worker) Collect(ctx context.Context) (items []models.VideoItem, err error) {
	// ── 1. Short circuit ─────────────────────────────────────────────
	if w.spec.Target <= 0 {
		w.enter(StateClosed)
		w.log.Info("nothing to collect, skipping browser")
		return []models.VideoItem{}, nil
	}

	// ── 2. Launch ────────────────────────────────────────────────────
	w.enter(StateLaunching)
	state, loadErr := w.states.LoadState(w.spec.SentinelUser)
	if loadErr != nil {
		w.log.Warn("failed to load session state, starting fresh", "error", loadErr)
		state = nil
	}
	if state == nil {
		w.log.Info("no stored session state for sentinel user")
	}

	sess, err := w.browser.Launch(ctx, LaunchOptions{
		Headless: w.cfg.Headless,
		Proxy:    w.spec.Proxy,
		State:    state,
	})
	if err != nil {
		w.enter(StateClosed)
		return nil, categorizeError(err, "failed to launch browser")
	}

	c := newCapture(w.log)
	listenCtx, stopListening := context.WithCancel(ctx)

	// ── 3. CRITICAL DEFER: runs on success, error, cancellation and panic.
	// Batches still in flight at teardown are part of the result.
	defer func() {
		w.finalize(sess, c, stopListening)
		if err == nil {
			items = c.items
			w.log.Info("worker finished",
				"collected", len(items),
				"target", w.spec.Target,
				"scrolls", w.Scrolls(),
			)
		}
	}()

	// ── 4. Listen ────────────────────────────────────────────────────
	w.enter(StateListening)
	go c.run(sess.Listen(listenCtx, FeedItemListPath))

	// ── 5. Navigate + settle ─────────────────────────────────────────
	navCtx, cancelNav := context.WithTimeout(ctx, w.cfg.NavigationTimeout)
	navErr := sess.Navigate(navCtx, FeedURL)
	cancelNav()
	if navErr != nil {
		return nil, categorizeError(navErr, "navigation to feed failed")
	}
	c.pause(ctx, w.cfg.NavigationSettle)

	// ── 6. Identity check ────────────────────────────────────────────
	w.verifyIdentity(ctx, sess)

	// ── 7. Scroll loop ───────────────────────────────────────────────
	w.enter(StateScrolling)
	w.scrollLoop(ctx, sess, c)

	return nil, nil
}

// scrollLoop clicks the load-more control until the target is met, the cap
// is reached or ctx ends. A cap without the target is a normal outcome.
func (w *Worker) scrollLoop(ctx context.Context, sess Session, c *capture) {
	for i := 0; i < w.cfg.MaxScrolls && c.below(w.spec.Target); i++ {
		if ctx.Err() != nil {
			w.log.Info("worker canceled, stopping scroll loop", "scrolls", w.Scrolls())
			return
		}
		w.scrolls.Add(1)

		if err := w.scroll(ctx, sess); err != nil {
			w.log.Warn("scroll failed, backing off", "iteration", i+1, "error", err)
			c.pause(ctx, w.jitter(w.cfg.ScrollBackoff))
			continue
		}
		c.pause(ctx, w.jitter(w.cfg.ScrollPause))
	}
	if c.below(w.spec.Target) && ctx.Err() == nil {
		w.log.Info("scroll cap reached before target",
			"collected", len(c.items),
			"target", w.spec.Target,
		)
	}
}

func (w *Worker) scroll(ctx context.Context, sess Session) error {
	actCtx, cancel := context.WithTimeout(ctx, w.cfg.ActionTimeout)
	defer cancel()
	if err := sess.Click(actCtx, LoadMoreSelector); err != nil {
		return models.NewScrapeError(models.ErrCodeTransientScroll, "load-more control unavailable", err)
	}
	return nil
}

// verifyIdentity checks that the session is logged in as the sentinel user.
func (w *Worker) verifyIdentity(ctx context.Context, sess Session) bool {
	actCtx, cancel := context.WithTimeout(ctx, w.cfg.ActionTimeout)
	defer cancel()

	href, err := sess.Attribute(actCtx, ProfileLinkSelector, "href")
	if err != nil {
		w.log.Warn("could not verify identity", "error", err)
		return false
	}
	if !strings.Contains(href, w.spec.SentinelUser) {
		w.log.Warn("session is not logged in as the sentinel user", "profile", href)
		return false
	}
	w.log.Info("identity verified")
	return true
}

// finalize tears the session down. It uses a detached context so a
// canceled run still persists its session state.
func (w *Worker) finalize(sess Session, c *capture, stopListening context.CancelFunc) {
	w.enter(StateFinalizing)
	stopListening()
	c.finish(captureDrainLimit)

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	state, err := sess.CaptureState(ctx)
	switch {
	case err != nil:
		w.log.Warn("failed to capture session state", "error", err)
	default:
		if err := w.states.SaveState(w.spec.SentinelUser, state); err != nil {
			w.log.Error("failed to persist session state", "error", err)
		} else {
			w.log.Info("session state saved", "cookies", len(state.Cookies))
		}
	}

	if err := sess.Close(); err != nil {
		w.log.Warn("failed to close browser", "error", err)
	}
	w.enter(StateClosed)
}
