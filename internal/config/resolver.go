package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/apptrack/internal/logging"
	"github.com/szibis/apptrack/internal/prefs"
)

// minBundledSize rejects empty or template-stub bundled documents.
const minBundledSize = 32

// ErrPlaceholderConfig means the bundled configuration was never filled in.
var ErrPlaceholderConfig = errors.New("bundled configuration is missing or still a placeholder")

var configSourceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "apptrack_config_source_total",
	Help: "Configuration resolutions by selected source (bundled, cached) and remote fetch outcome",
}, []string{"source"})

func init() {
	prometheus.MustRegister(configSourceTotal)
}

// Resolver picks the active configuration from the bundled document, the
// cached document in the preference store and a remote download.
type Resolver struct {
	store   prefs.Store
	fetcher Fetcher

	wg sync.WaitGroup
}

// NewResolver creates a resolver. fetcher may be nil, in which case remote
// configuration is never downloaded.
func NewResolver(store prefs.Store, fetcher Fetcher) *Resolver {
	return &Resolver{store: store, fetcher: fetcher}
}

// Resolve returns the configuration for this run.
//
// The bundled document must parse and validate, otherwise the error is
// fatal. When it enables remote configuration, a cached document with a
// strictly greater version replaces it, and a background download is started
// whose result (if newer still) is cached for the next run only.
func (r *Resolver) Resolve(ctx context.Context, bundled []byte) (*Configuration, error) {
	active, err := ParseBundled(bundled)
	if err != nil {
		return nil, err
	}
	source := "bundled"

	if active.RemoteConfig.Enabled {
		if cached := r.cached(active.Version); cached != nil {
			active = cached
			source = "cached"
		}
		r.startFetch(ctx, active)
	}

	configSourceTotal.WithLabelValues(source).Inc()
	logging.Info("tracking configuration initialized", logging.F(
		"source", source,
		"version", active.Version,
		"track_id", active.TrackID,
		"track_domain", active.TrackDomain,
		"send_delay", active.SendDelay,
		"screens", len(active.Screens),
	))
	return active, nil
}

// Wait blocks until the background download started by Resolve finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

// ParseBundled parses and validates the bundled document.
func ParseBundled(data []byte) (*Configuration, error) {
	if len(bytes.TrimSpace(data)) < minBundledSize {
		return nil, ErrPlaceholderConfig
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid bundled configuration: %w", err)
	}
	if cfg.TrackID == PlaceholderTrackID {
		return nil, ErrPlaceholderConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// cached returns the stored document if it is valid and newer than version.
func (r *Resolver) cached(version int) *Configuration {
	if r.store == nil {
		return nil
	}
	raw, ok, err := r.store.Get(prefs.KeyTrackingConfig)
	if err != nil {
		logging.Warn("failed to read cached configuration", logging.F("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	cfg, err := parseCandidate([]byte(raw))
	if err != nil {
		logging.Warn("ignoring cached configuration", logging.F("error", err.Error()))
		return nil
	}
	if cfg.Version <= version {
		logging.Debug("cached configuration is not newer", logging.F(
			"cached_version", cfg.Version,
			"active_version", version,
		))
		return nil
	}
	return cfg
}

func (r *Resolver) startFetch(ctx context.Context, active *Configuration) {
	if r.fetcher == nil {
		return
	}
	// Detached from the caller's cancellation: Init returns immediately,
	// the download is bounded by its own timeout.
	ctx = context.WithoutCancel(ctx)
	timeout := time.Duration(active.RemoteConfig.Timeout)
	url := active.RemoteConfig.URL
	version := active.Version

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		r.refresh(fctx, url, version)
	}()
}

// refresh downloads the remote document and caches it when newer. Every
// failure is logged and swallowed.
func (r *Resolver) refresh(ctx context.Context, url string, version int) {
	raw, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		configSourceTotal.WithLabelValues("remote_failed").Inc()
		logging.Warn("remote configuration download failed", logging.F("url", url, "error", err.Error()))
		return
	}
	cfg, err := parseCandidate(raw)
	if err != nil {
		configSourceTotal.WithLabelValues("remote_invalid").Inc()
		logging.Warn("remote configuration rejected", logging.F("url", url, "error", err.Error()))
		return
	}
	if cfg.Version <= version {
		configSourceTotal.WithLabelValues("remote_not_newer").Inc()
		logging.Info("remote configuration is not newer", logging.F(
			"remote_version", cfg.Version,
			"active_version", version,
		))
		return
	}
	if r.store == nil {
		return
	}
	if err := r.store.Set(prefs.KeyTrackingConfig, string(raw)); err != nil {
		logging.Error("failed to cache remote configuration", logging.F("error", err.Error()))
		return
	}
	configSourceTotal.WithLabelValues("remote_cached").Inc()
	logging.Info("newer remote configuration cached for next start", logging.F(
		"remote_version", cfg.Version,
		"active_version", version,
	))
}

func parseCandidate(raw []byte) (*Configuration, error) {
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
