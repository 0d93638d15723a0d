package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// version is set at build time via ldflags
var version = "dev"

// Version returns the build version string.
func Version() string { return version }

// AppConfig holds the driver binary settings.
type AppConfig struct {
	// ConfigFile is the bundled tracking configuration document.
	ConfigFile string
	// DataDir holds the preference store and the queue backing file.
	DataDir      string
	PrefsBackend string
	// EventsFile is a JSON-lines event script; "-" or empty reads stdin.
	EventsFile string
	StatsAddr  string

	// AppVersionName and AppVersionCode describe the host application.
	AppVersionName string
	AppVersionCode int

	TransportMode        string
	TransportCompression string
	TransportTimeout     time.Duration
	TransportForceHTTP2  bool

	MemoryLimitRatio float64
	LogLevel         string
	LoggingEnabled   bool

	ShowHelp    bool
	ShowVersion bool
}

// DefaultAppConfig returns the default driver configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		ConfigFile:           "apptrack.yaml",
		DataDir:              "./data",
		PrefsBackend:         "file",
		EventsFile:           "-",
		StatsAddr:            ":9090",
		AppVersionName:       version,
		AppVersionCode:       1,
		TransportMode:        "get",
		TransportCompression: "none",
		TransportTimeout:     30 * time.Second,
		MemoryLimitRatio:     0.9,
		LogLevel:             "info",
		LoggingEnabled:       true,
	}
}

// ParseFlags parses command line arguments (without the program name).
func ParseFlags(args []string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	fs := flag.NewFlagSet("apptrack", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Path to the bundled tracking configuration (YAML)")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for preferences and the persisted request queue")
	fs.StringVar(&cfg.PrefsBackend, "prefs-backend", cfg.PrefsBackend, "Preference store backend: file, sqlite, memory")
	fs.StringVar(&cfg.EventsFile, "events", cfg.EventsFile, "JSON-lines event script to replay (- for stdin)")
	fs.StringVar(&cfg.StatsAddr, "stats-addr", cfg.StatsAddr, "Metrics and health HTTP endpoint address (empty disables)")
	fs.StringVar(&cfg.AppVersionName, "app-version", cfg.AppVersionName, "Host application version name")
	fs.IntVar(&cfg.AppVersionCode, "app-version-code", cfg.AppVersionCode, "Host application version code")

	fs.StringVar(&cfg.TransportMode, "transport-mode", cfg.TransportMode, "Delivery mode: get (one request per record) or batch")
	fs.StringVar(&cfg.TransportCompression, "transport-compression", cfg.TransportCompression, "Batch body compression: none, gzip, zstd, snappy, lz4")
	fs.DurationVar(&cfg.TransportTimeout, "transport-timeout", cfg.TransportTimeout, "Delivery request timeout")
	fs.BoolVar(&cfg.TransportForceHTTP2, "transport-force-http2", cfg.TransportForceHTTP2, "Force HTTP/2 for the delivery client")

	fs.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", cfg.MemoryLimitRatio, "GOMEMLIMIT as a ratio of the container memory limit (0 disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Minimum log level: debug, info, warn, error")
	fs.BoolVar(&cfg.LoggingEnabled, "logging", cfg.LoggingEnabled, "Enable pipeline logging")

	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help message")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version (shorthand)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the driver settings.
func (c *AppConfig) Validate() error {
	var errs []string

	switch c.PrefsBackend {
	case "file", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Sprintf("prefs-backend must be file, sqlite or memory, got %q", c.PrefsBackend))
	}
	switch c.TransportMode {
	case "get", "batch":
	default:
		errs = append(errs, fmt.Sprintf("transport-mode must be get or batch, got %q", c.TransportMode))
	}
	switch c.TransportCompression {
	case "none", "gzip", "zstd", "snappy", "lz4":
	default:
		errs = append(errs, fmt.Sprintf("transport-compression must be none, gzip, zstd, snappy or lz4, got %q", c.TransportCompression))
	}
	if c.TransportTimeout <= 0 {
		errs = append(errs, "transport-timeout must be positive")
	}
	if c.AppVersionCode < 0 {
		errs = append(errs, fmt.Sprintf("app-version-code must not be negative, got %d", c.AppVersionCode))
	}
	if c.MemoryLimitRatio < 0 || c.MemoryLimitRatio > 1 {
		errs = append(errs, fmt.Sprintf("memory-limit-ratio must be between 0 and 1, got %v", c.MemoryLimitRatio))
	}
	if c.DataDir == "" && c.PrefsBackend != "memory" {
		errs = append(errs, "data-dir must be set unless prefs-backend is memory")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// PrintUsage prints the help message.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `apptrack - client-side tracking pipeline driver

USAGE:
    apptrack [OPTIONS]

DESCRIPTION:
    Loads a bundled tracking configuration, replays a JSON-lines script of
    lifecycle and tracking events through the pipeline and delivers the
    resulting records to the configured collector.

OPTIONS:
    -config <path>                 Bundled tracking configuration (default: "apptrack.yaml")
    -data-dir <dir>                Preferences and queue directory (default: "./data")
    -prefs-backend <name>          file, sqlite or memory (default: "file")
    -events <path>                 Event script, - for stdin (default: "-")
    -stats-addr <addr>             /metrics, /live and /ready address (default: ":9090")
    -app-version <name>            Host application version name (default: build version)
    -app-version-code <n>          Host application version code (default: 1)

    -transport-mode <mode>         get or batch (default: "get")
    -transport-compression <alg>   none, gzip, zstd, snappy, lz4 (default: "none")
    -transport-timeout <dur>       Delivery request timeout (default: 30s)
    -transport-force-http2         Force HTTP/2 for the delivery client

    -memory-limit-ratio <ratio>    GOMEMLIMIT ratio of container memory (default: 0.9)
    -log-level <level>             debug, info, warn, error (default: "info")
    -logging                       Enable pipeline logging (default: true)

    -h, -help                      Show this help message
    -v, -version                   Show version
`)
}

// PrintVersion prints the version.
func PrintVersion() {
	fmt.Printf("apptrack version %s\n", version)
}
