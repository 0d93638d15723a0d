// Package tracker owns the tracking pipeline: configuration, session state,
// record building, the request queue and its delivery scheduler.
//
// A Tracker is constructed once per process and initialized once; every
// host-facing method is safe for concurrent use and never blocks on the
// network.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/szibis/apptrack/internal/config"
	"github.com/szibis/apptrack/internal/device"
	"github.com/szibis/apptrack/internal/exporter"
	"github.com/szibis/apptrack/internal/logging"
	"github.com/szibis/apptrack/internal/param"
	"github.com/szibis/apptrack/internal/plugin"
	"github.com/szibis/apptrack/internal/prefs"
	"github.com/szibis/apptrack/internal/queue"
	"github.com/szibis/apptrack/internal/request"
	"github.com/szibis/apptrack/internal/sampling"
	"github.com/szibis/apptrack/internal/scheduler"
)

var (
	// ErrNotInitialized is returned by session operations before Init or
	// after the tracker was stopped.
	ErrNotInitialized = errors.New("tracker is not initialized")
	// ErrNoActiveSession is returned by SessionEnded without a started screen.
	ErrNoActiveSession = errors.New("no active screen session")
	// ErrNoSender is returned by Init when Options.Sender is nil.
	ErrNoSender = errors.New("no delivery sender configured")
)

// Options are the collaborators of a Tracker.
type Options struct {
	// Store keeps per-device state. Nil selects an in-memory store.
	Store prefs.Store
	// Sender delivers queued records. Required.
	Sender exporter.Sender
	// Device supplies device facts. Nil selects an empty static provider.
	Device device.Provider
	// Fetcher downloads remote configuration. Nil selects HTTPFetcher.
	Fetcher config.Fetcher
	// DataDir holds the request queue backing file. Empty disables
	// persistence.
	DataDir string
	// Plugins run after the built-in plugins enabled by configuration.
	Plugins []plugin.Plugin
}

// Tracker is the pipeline owner.
type Tracker struct {
	opts    Options
	builder *request.Builder
	now     func() time.Time

	mu          sync.Mutex
	initialized bool
	stopped     bool

	cfg      *config.Configuration
	resolver *config.Resolver
	queue    *queue.RequestStore
	sched    *scheduler.Scheduler
	plugins  *plugin.Registry

	everID     string
	optedOut   bool
	sampledOut bool

	screenCount     int
	screen          string
	restored        bool
	backgroundSince time.Time

	globals    *param.Params
	internal   *param.Params
	custom     map[string]string
	autoCustom map[string]string

	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// New returns an uninitialized tracker.
func New(opts Options) *Tracker {
	if opts.Store == nil {
		opts.Store = prefs.NewMemory()
	}
	if opts.Device == nil {
		opts.Device = &device.Static{}
	}
	if opts.Fetcher == nil {
		opts.Fetcher = &config.HTTPFetcher{Client: &http.Client{}}
	}
	return &Tracker{
		opts:       opts,
		builder:    request.NewBuilder(),
		now:        time.Now,
		globals:    param.New(),
		internal:   param.New(),
		custom:     make(map[string]string),
		autoCustom: make(map[string]string),
	}
}

// Init resolves the configuration from the bundled document and starts the
// delivery scheduler. Only the first call does anything; later calls return
// nil. Configuration problems are returned and leave the tracker
// uninitialized.
func (t *Tracker) Init(ctx context.Context, bundled []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		return nil
	}
	if t.opts.Sender == nil {
		return ErrNoSender
	}

	resolver := config.NewResolver(t.opts.Store, t.opts.Fetcher)
	cfg, err := resolver.Resolve(ctx, bundled)
	if err != nil {
		return fmt.Errorf("failed to resolve tracking configuration: %w", err)
	}

	q, err := queue.New(queue.Config{Path: t.opts.DataDir, MaxRequests: cfg.MaxRequests})
	if err != nil {
		return fmt.Errorf("failed to create request queue: %w", err)
	}
	sched, err := scheduler.New(scheduler.Config{Interval: cfg.SendInterval()}, q, t.opts.Sender,
		scheduler.WithAfterFlush(t.afterFlush))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	t.cfg = cfg
	t.resolver = resolver
	t.queue = q
	t.sched = sched

	t.initOptOut()
	t.initEverID()
	t.sampledOut = !sampling.Cached(t.opts.Store, t.everID, cfg.Sampling)
	t.initInternalParams()
	t.initAutoCustomParams()
	t.initPlugins()

	bgCtx, cancel := context.WithCancel(context.Background())
	t.bgCancel = cancel
	if cfg.AutoTrack.AdvertiserID {
		t.bg.Add(1)
		go t.fetchAdvertisingID(bgCtx)
	}

	sched.Start()
	t.initialized = true
	activeScreens.Set(0)

	logging.Info("tracking initialized", logging.F(
		"track_id", cfg.TrackID,
		"config_version", cfg.Version,
		"max_requests", cfg.MaxRequests,
		"send_delay", cfg.SendDelay,
		"opted_out", t.optedOut,
		"sampled_out", t.sampledOut,
		"plugins", t.plugins.Len(),
	))
	return nil
}

func (t *Tracker) initOptOut() {
	v, _, err := prefs.GetBool(t.opts.Store, prefs.KeyOptedOut)
	if err != nil {
		logging.Warn("failed to read opt-out flag", logging.F("error", err.Error()))
	}
	t.optedOut = v
}

func (t *Tracker) initEverID() {
	id, err := device.EverID(t.opts.Store)
	if err != nil {
		logging.Warn("ever id not persisted", logging.F("error", err.Error()))
	}
	t.everID = id
}

func (t *Tracker) initInternalParams() {
	t.internal.SetName(param.ForceNewSession, "1")
	first, err := device.FirstStart(t.opts.Store)
	if err != nil {
		logging.Warn("failed to track first start", logging.F("error", err.Error()))
	}
	t.internal.SetName(param.AppFirstStart, flag(first))
}

func (t *Tracker) initPlugins() {
	t.plugins = plugin.NewRegistry()
	for _, p := range plugin.Builtin(t.cfg.PluginEnabled) {
		t.plugins.Register(p)
	}
	for _, p := range t.opts.Plugins {
		t.plugins.Register(p)
	}
}

func (t *Tracker) fetchAdvertisingID(ctx context.Context) {
	defer t.bg.Done()

	id, limited, err := t.opts.Device.AdvertisingID(ctx)
	if err != nil {
		logging.Info("advertising id unavailable", logging.F("error", err.Error()))
		return
	}
	t.mu.Lock()
	t.autoCustom[customAdvertiserID] = id
	t.autoCustom[customAdvertisingOptOut] = fmt.Sprint(limited)
	t.mu.Unlock()
	logging.Debug("advertising id collected")
}

// afterFlush re-persists whatever is still queued once no screen is active,
// so the backing file never holds records that were already delivered.
func (t *Tracker) afterFlush(_ int, _ error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialized && !t.stopped && t.screenCount == 0 {
		t.queue.Persist()
	}
}

// Shutdown stops tracking: the scheduler halts, queued records are
// discarded and the screen counter resets. A delivery still in flight when
// ctx ends is abandoned. The tracker cannot be used afterwards.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if !t.initialized || t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.queue.Clear()
	t.screenCount = 0
	activeScreens.Set(0)
	t.bgCancel()
	sched := t.sched
	t.mu.Unlock()

	logging.Info("tracking stopped")
	return t.drain(ctx, sched)
}

// Close stops the scheduler like Shutdown but keeps undelivered records:
// they are written to the backing file for the next process.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.initialized || t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.bgCancel()
	sched := t.sched
	t.mu.Unlock()

	err := t.drain(ctx, sched)
	t.queue.Persist()
	logging.Info("tracking closed", logging.F("queued", t.queue.Len()))
	return err
}

func (t *Tracker) drain(ctx context.Context, sched *scheduler.Scheduler) error {
	if err := sched.Stop(ctx); err != nil {
		return fmt.Errorf("waiting for in-flight delivery: %w", err)
	}
	if err := waitContext(ctx, t.bg.Wait); err != nil {
		return fmt.Errorf("waiting for background tasks: %w", err)
	}
	if err := waitContext(ctx, t.resolver.Wait); err != nil {
		return fmt.Errorf("waiting for configuration fetch: %w", err)
	}
	return nil
}

func waitContext(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetOptOut switches tracking off or on for this device and persists the
// choice. Opting out discards every queued record.
func (t *Tracker) SetOptOut(optOut bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized || t.stopped {
		return ErrNotInitialized
	}
	if t.optedOut == optOut {
		return nil
	}
	t.optedOut = optOut
	if err := prefs.SetBool(t.opts.Store, prefs.KeyOptedOut, optOut); err != nil {
		logging.Warn("failed to persist opt-out flag", logging.F("error", err.Error()))
	}
	if optOut {
		t.queue.Clear()
		t.queue.Persist()
	}
	logging.Info("opt-out changed", logging.F("opted_out", optOut))
	return nil
}

// OptedOut reports whether the device opted out of tracking.
func (t *Tracker) OptedOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.optedOut
}

// SampledOut reports whether sampling excluded this device.
func (t *Tracker) SampledOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampledOut
}

// EverID returns the durable device identifier.
func (t *Tracker) EverID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.everID
}

// Configuration returns the active configuration, or nil before Init. The
// result must not be modified.
func (t *Tracker) Configuration() *config.Configuration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// QueueLen returns the number of records waiting for delivery.
func (t *Tracker) QueueLen() int {
	t.mu.Lock()
	q := t.queue
	t.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.Len()
}

// Ready reports whether the tracker is running with room in its queue.
func (t *Tracker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized && !t.stopped && !t.queue.Full()
}

// Flush asks the scheduler for an immediate delivery attempt and reports
// whether one was started.
func (t *Tracker) Flush() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized || t.stopped {
		return false
	}
	return t.sched.Trigger()
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
