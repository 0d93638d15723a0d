// Command apptrack drives the tracking pipeline from a JSON-lines event
// script and exposes its metrics and health probes.
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/szibis/apptrack/internal/compression"
	"github.com/szibis/apptrack/internal/config"
	"github.com/szibis/apptrack/internal/device"
	"github.com/szibis/apptrack/internal/exporter"
	"github.com/szibis/apptrack/internal/health"
	"github.com/szibis/apptrack/internal/logging"
	"github.com/szibis/apptrack/internal/prefs"
	"github.com/szibis/apptrack/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		logging.Fatal("invalid command line", logging.F("error", err.Error()))
	}

	if cfg.ShowHelp {
		config.PrintUsage()
		os.Exit(0)
	}

	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}

	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetEnabled(cfg.LoggingEnabled)
	logging.SetResource(map[string]string{
		"service.name":    "apptrack",
		"service.version": config.Version(),
	})

	if cfg.MemoryLimitRatio > 0 {
		limit, err := memlimit.SetGoMemLimitWithOpts(
			memlimit.WithRatio(cfg.MemoryLimitRatio),
			memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
		)
		if err != nil {
			logging.Warn("failed to set memory limit", logging.F("error", err.Error()))
		} else {
			logging.Info("memory limit set", logging.F("limit_bytes", limit, "ratio", cfg.MemoryLimitRatio))
		}
	}

	os.Exit(run(cfg))
}

func run(cfg *config.AppConfig) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bundled, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		logging.Error("failed to read tracking configuration", logging.F("error", err.Error(), "path", cfg.ConfigFile))
		return 1
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logging.Error("failed to create data directory", logging.F("error", err.Error(), "path", cfg.DataDir))
		return 1
	}

	store, err := prefs.Open(cfg.PrefsBackend, prefsPath(cfg))
	if err != nil {
		logging.Error("failed to open preference store", logging.F("error", err.Error(), "backend", cfg.PrefsBackend))
		return 1
	}
	defer store.Close()

	in, err := openEvents(cfg.EventsFile)
	if err != nil {
		logging.Error("failed to open event script", logging.F("error", err.Error(), "path", cfg.EventsFile))
		return 1
	}
	defer in.Close()

	dev := device.NewHostProvider(cfg.AppVersionName, cfg.AppVersionCode)
	sender, err := newSender(cfg, dev.Snapshot().UserAgent)
	if err != nil {
		logging.Error("failed to create sender", logging.F("error", err.Error()))
		return 1
	}
	defer sender.Close()

	tr := tracker.New(tracker.Options{
		Store:   store,
		Sender:  sender,
		Device:  dev,
		DataDir: cfg.DataDir,
	})
	if err := tr.Init(ctx, bundled); err != nil {
		logging.Error("failed to initialize tracking", logging.F("error", err.Error(), "path", cfg.ConfigFile))
		return 1
	}

	checker := health.New()
	checker.RegisterReadiness("tracker", health.PipelineCheck(tr))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	if cfg.StatsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		checker.Register(mux)
		srv := &http.Server{Addr: cfg.StatsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logging.Info("stats endpoint started", logging.F("addr", cfg.StatsAddr, "path", "/metrics"))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	type outcome struct {
		res replayResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := replay(gctx, in, tr)
		done <- outcome{res, err}
	}()

	logging.Info("apptrack started", logging.F(
		"config", cfg.ConfigFile,
		"data_dir", cfg.DataDir,
		"prefs_backend", cfg.PrefsBackend,
		"transport_mode", cfg.TransportMode,
		"stats_addr", cfg.StatsAddr,
	))

	code := 0
	var res replayResult
	select {
	case o := <-done:
		res = o.res
		if o.err != nil && !errors.Is(o.err, context.Canceled) {
			logging.Error("event script failed", logging.F("error", o.err.Error(), "events", o.res.Events))
			code = 1
		} else {
			logging.Info("event script finished", logging.F("events", o.res.Events))
		}
	case <-gctx.Done():
		logging.Info("shutting down")
	}

	checker.SetShuttingDown()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if res.Shutdown {
		err = tr.Shutdown(sctx)
	} else {
		err = tr.Close(sctx)
	}
	if err != nil {
		logging.Warn("tracker did not stop cleanly", logging.F("error", err.Error()))
	}

	cancelRun()
	if err := g.Wait(); err != nil {
		logging.Error("stats server error", logging.F("error", err.Error()))
		code = 1
	}

	logging.Info("shutdown complete")
	return code
}

func prefsPath(cfg *config.AppConfig) string {
	switch cfg.PrefsBackend {
	case "sqlite":
		return filepath.Join(cfg.DataDir, "prefs.db")
	case "memory":
		return ""
	default:
		return filepath.Join(cfg.DataDir, "prefs.json")
	}
}

func newSender(cfg *config.AppConfig, userAgent string) (*exporter.HTTPSender, error) {
	mode, err := exporter.ParseMode(cfg.TransportMode)
	if err != nil {
		return nil, err
	}
	ct, err := compression.ParseType(cfg.TransportCompression)
	if err != nil {
		return nil, err
	}
	return exporter.NewHTTPSender(exporter.Config{
		Mode:        mode,
		Timeout:     cfg.TransportTimeout,
		UserAgent:   userAgent,
		Compression: compression.Config{Type: ct},
		HTTPClient:  exporter.HTTPClientConfig{ForceAttemptHTTP2: cfg.TransportForceHTTP2},
	})
}

func openEvents(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}
