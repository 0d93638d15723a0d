// Package exporter delivers queued tracking records to the collector.
package exporter

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/apptrack/internal/compression"
	"github.com/szibis/apptrack/internal/logging"
	"golang.org/x/net/http2"
)

var (
	deliveryRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apptrack_delivery_requests_total",
		Help: "Total number of HTTP requests sent to the collector by mode",
	}, []string{"mode"})

	deliveryRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apptrack_delivery_records_total",
		Help: "Total number of records confirmed delivered",
	})

	deliveryErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apptrack_delivery_errors_total",
		Help: "Total number of delivery errors by error type",
	}, []string{"error_type"})

	deliveryBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apptrack_delivery_bytes_total",
		Help: "Total batch body bytes sent by compression",
	}, []string{"compression"})
)

func init() {
	prometheus.MustRegister(deliveryRequestsTotal)
	prometheus.MustRegister(deliveryRecordsTotal)
	prometheus.MustRegister(deliveryErrorsTotal)
	prometheus.MustRegister(deliveryBytesTotal)
}

// Sender hands a batch of delivery strings to the collector. It returns how
// many leading entries were confirmed delivered; err is nil only when the
// whole batch was.
type Sender interface {
	Send(ctx context.Context, batch []string) (delivered int, err error)
}

// Mode selects how a batch travels over HTTP.
type Mode string

const (
	// ModeGet issues one GET per record URL, in order.
	ModeGet Mode = "get"
	// ModeBatch POSTs all record URLs, newline separated, in one request.
	ModeBatch Mode = "batch"
)

// ParseMode parses a delivery mode string.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "get":
		return ModeGet, nil
	case "batch":
		return ModeBatch, nil
	default:
		return "", fmt.Errorf("unsupported delivery mode: %s", s)
	}
}

// HTTPClientConfig holds HTTP client connection pool settings.
type HTTPClientConfig struct {
	// MaxIdleConns controls the maximum number of idle (keep-alive) connections
	// across all hosts. Zero selects 100.
	MaxIdleConns int
	// MaxIdleConnsPerHost controls the maximum idle (keep-alive) connections
	// to keep per-host. Zero selects 100.
	MaxIdleConnsPerHost int
	// IdleConnTimeout is the maximum amount of time an idle connection will
	// remain idle before closing itself. Zero selects 90s.
	IdleConnTimeout time.Duration
	// DisableKeepAlives, if true, disables HTTP keep-alives.
	DisableKeepAlives bool
	// ForceAttemptHTTP2 enables HTTP/2 even without a custom TLS config.
	ForceAttemptHTTP2 bool
	// HTTP2ReadIdleTimeout is the timeout after which a health check using ping
	// frame will be carried out if no frame is received on the connection.
	HTTP2ReadIdleTimeout time.Duration
	// HTTP2PingTimeout is the timeout after which the connection will be closed
	// if a response to Ping is not received.
	HTTP2PingTimeout time.Duration
}

// Config holds the HTTP sender configuration.
type Config struct {
	Mode Mode
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// UserAgent is sent on every request when set.
	UserAgent string
	// Compression applies to batch mode bodies only.
	Compression compression.Config
	HTTPClient  HTTPClientConfig
}

// HTTPSender implements Sender over HTTP.
type HTTPSender struct {
	mode        Mode
	userAgent   string
	compression compression.Config
	client      *http.Client
}

// NewHTTPSender creates a sender with a pooled HTTP client.
func NewHTTPSender(cfg Config) (*HTTPSender, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeGet
	}
	if cfg.Mode != ModeGet && cfg.Mode != ModeBatch {
		return nil, fmt.Errorf("unsupported delivery mode: %s", cfg.Mode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     cfg.HTTPClient.ForceAttemptHTTP2,
		MaxIdleConns:          cfg.HTTPClient.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.HTTPClient.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.HTTPClient.IdleConnTimeout,
		DisableKeepAlives:     cfg.HTTPClient.DisableKeepAlives,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	// Apply default values if not set
	if transport.MaxIdleConns == 0 {
		transport.MaxIdleConns = 100
	}
	if transport.MaxIdleConnsPerHost == 0 {
		transport.MaxIdleConnsPerHost = 100
	}
	if transport.IdleConnTimeout == 0 {
		transport.IdleConnTimeout = 90 * time.Second
	}

	if cfg.HTTPClient.ForceAttemptHTTP2 {
		http2Transport, err := http2.ConfigureTransports(transport)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP/2: %w", err)
		}
		if cfg.HTTPClient.HTTP2ReadIdleTimeout > 0 {
			http2Transport.ReadIdleTimeout = cfg.HTTPClient.HTTP2ReadIdleTimeout
		}
		if cfg.HTTPClient.HTTP2PingTimeout > 0 {
			http2Transport.PingTimeout = cfg.HTTPClient.HTTP2PingTimeout
		}
	}

	return &HTTPSender{
		mode:        cfg.Mode,
		userAgent:   cfg.UserAgent,
		compression: cfg.Compression,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}, nil
}

// Mode returns the configured delivery mode.
func (s *HTTPSender) Mode() Mode { return s.mode }

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, batch []string) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	var (
		delivered int
		err       error
	)
	if s.mode == ModeBatch {
		delivered, err = s.sendBatch(ctx, batch)
	} else {
		delivered, err = s.sendEach(ctx, batch)
	}
	deliveryRecordsTotal.Add(float64(delivered))
	return delivered, err
}

// sendEach issues one GET per entry and stops at the first failure so the
// confirmed prefix stays contiguous.
func (s *HTTPSender) sendEach(ctx context.Context, batch []string) (int, error) {
	for i, target := range batch {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			// A malformed entry can never succeed; report it as a client error.
			return i, s.fail(&ExportError{Err: fmt.Errorf("invalid record url: %w", err), Type: ErrorTypeClientError, URL: target})
		}
		if err := s.do(req, string(ModeGet)); err != nil {
			return i, err
		}
	}
	return len(batch), nil
}

func (s *HTTPSender) sendBatch(ctx context.Context, batch []string) (int, error) {
	endpoint, err := batchEndpoint(batch[0])
	if err != nil {
		return 0, s.fail(&ExportError{Err: err, Type: ErrorTypeClientError, URL: batch[0]})
	}

	body := []byte(strings.Join(batch, "\n"))
	body, err = compression.Compress(body, s.compression)
	if err != nil {
		return 0, fmt.Errorf("failed to compress batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if encoding := s.compression.Type.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	if err := s.do(req, string(ModeBatch)); err != nil {
		return 0, err
	}
	label := string(s.compression.Type)
	if label == "" {
		label = string(compression.TypeNone)
	}
	deliveryBytesTotal.WithLabelValues(label).Add(float64(len(body)))
	return len(batch), nil
}

func (s *HTTPSender) do(req *http.Request, mode string) error {
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	deliveryRequestsTotal.WithLabelValues(mode).Inc()

	resp, err := s.client.Do(req)
	if err != nil {
		return s.fail(&ExportError{
			Err:  fmt.Errorf("failed to send request: %w", err),
			Type: classifyError(err),
			URL:  req.URL.String(),
		})
	}
	defer resp.Body.Close()

	// Read and discard body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return s.fail(&ExportError{
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
			Type:       classifyHTTPStatusCode(resp.StatusCode),
			StatusCode: resp.StatusCode,
			URL:        req.URL.String(),
		})
	}
	return nil
}

func (s *HTTPSender) fail(e *ExportError) error {
	deliveryErrorsTotal.WithLabelValues(string(e.Type)).Inc()
	logging.Warn("delivery failed", logging.F(
		"error_type", string(e.Type),
		"status_code", e.StatusCode,
		"retryable", e.IsRetryable(),
		"error", e.Error(),
	))
	return e
}

// Close releases idle connections.
func (s *HTTPSender) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// batchEndpoint derives {domain}/{trackId}/batch from a record URL of the
// form {domain}/{trackId}/wt?....
func batchEndpoint(record string) (string, error) {
	u, err := url.Parse(record)
	if err != nil {
		return "", fmt.Errorf("invalid record url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid record url %q", record)
	}
	u.Path = path.Join(path.Dir(u.Path), "batch")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
