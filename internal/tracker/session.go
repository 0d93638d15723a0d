package tracker

import (
	"time"

	"github.com/szibis/apptrack/internal/logging"
	"github.com/szibis/apptrack/internal/param"
	"github.com/szibis/apptrack/internal/request"
)

// SessionStarted records that screen came to the foreground. The first
// active screen reloads records persisted by an earlier process and kicks
// off a delivery. Screens configured for auto-tracking are tracked here.
func (t *Tracker) SessionStarted(screen string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized || t.stopped {
		return ErrNotInitialized
	}
	t.screenCount++
	t.screen = screen
	activeScreens.Set(float64(t.screenCount))

	if t.screenCount == 1 {
		t.onFirstScreen()
	}
	if t.cfg.ScreenAutoTracked(screen) {
		t.trackLocked(param.New())
	}
	return nil
}

func (t *Tracker) onFirstScreen() {
	if !t.restored {
		t.restored = true
		if n := t.queue.Restore(); n > 0 {
			logging.Info("restored queued records from previous run", logging.F("records", n))
		}
	} else {
		// Returning from background: memory already holds what was written.
		t.queue.Discard()
		if t.sessionExpired() {
			t.internal.SetName(param.ForceNewSession, "1")
		}
	}
	t.backgroundSince = time.Time{}
	t.sched.Trigger()
}

func (t *Tracker) sessionExpired() bool {
	limit := time.Duration(t.cfg.ResendOnStartEventTime) * time.Second
	return limit > 0 && !t.backgroundSince.IsZero() && t.now().Sub(t.backgroundSince) >= limit
}

// SessionEnded records that the current screen left the foreground.
// Custom parameters are cleared. When the last screen ends, a delivery is
// triggered and the queue is persisted.
func (t *Tracker) SessionEnded() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized || t.stopped {
		return ErrNotInitialized
	}
	if t.screenCount == 0 {
		return ErrNoActiveSession
	}
	t.screenCount--
	activeScreens.Set(float64(t.screenCount))
	clear(t.custom)

	if t.screenCount == 0 {
		t.backgroundSince = t.now()
		t.sched.Trigger()
		t.queue.Persist()
	}
	return nil
}

// CurrentScreen returns the name of the most recently started screen.
func (t *Tracker) CurrentScreen() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.screen
}

// Track records an event on the current screen. Calls before Init or
// without an active screen are logged and ignored. Params carrying an
// action name produce an action record.
func (t *Tracker) Track(params *param.Params) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.ready() {
		return
	}
	if params == nil {
		params = param.New()
	}
	t.trackLocked(params)
}

// TrackAction records a user action. Params must carry an action name.
func (t *Tracker) TrackAction(params *param.Params) {
	if !params.Contains(param.Named(param.ActionName)) {
		logging.Warn("action tracked without an action name, ignored")
		recordsTotal.WithLabelValues(outcomeInvalid).Inc()
		return
	}
	t.Track(params)
}

// AutoTrackScreen tracks the current screen if its configuration, or the
// global auto-track flag, asks for it.
func (t *Tracker) AutoTrackScreen() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.ready() {
		return
	}
	if t.cfg.ScreenAutoTracked(t.screen) {
		t.trackLocked(param.New())
	}
}

func (t *Tracker) ready() bool {
	if !t.initialized || t.stopped {
		logging.Warn("tracking is not initialized, event ignored")
		recordsTotal.WithLabelValues(outcomeIgnored).Inc()
		return false
	}
	if t.screenCount == 0 {
		logging.Warn("no active screen, call SessionStarted first; event ignored")
		recordsTotal.WithLabelValues(outcomeIgnored).Inc()
		return false
	}
	return true
}

// trackLocked builds one record, runs the plugin hooks around the enqueue
// gate and resets the one-shot flags. Caller holds t.mu.
func (t *Tracker) trackLocked(params *param.Params) {
	facts := t.opts.Device.Snapshot()
	t.refreshDynamicCustomParams(facts)

	rec, err := t.builder.Build(request.BuildInput{
		Call:     params,
		Screen:   t.screen,
		Facts:    facts,
		EverID:   t.everID,
		Globals:  t.globals,
		Config:   t.cfg,
		Internal: t.internal,
		Custom:   t.customTable(),
	})
	if err != nil {
		logging.Error("failed to build record", logging.F("error", err.Error()))
		return
	}

	t.plugins.Before(rec)
	switch {
	case t.optedOut:
		recordsTotal.WithLabelValues(outcomeOptedOut).Inc()
	case t.sampledOut:
		recordsTotal.WithLabelValues(outcomeSampledOut).Inc()
	default:
		t.queue.Enqueue(rec.URL())
		recordsTotal.WithLabelValues(outcomeEnqueued).Inc()
		logging.Debug("record queued", logging.F("url", rec.URL()))
	}
	t.plugins.After(rec)

	t.internal.SetName(param.ForceNewSession, "0")
	t.internal.SetName(param.AppFirstStart, "0")
	if _, ok := t.autoCustom[customAppUpdated]; ok {
		t.autoCustom[customAppUpdated] = "0"
	}
}
