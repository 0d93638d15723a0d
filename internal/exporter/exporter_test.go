package exporter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/szibis/apptrack/internal/compression"
	"go.uber.org/goleak"
)

type recorder struct {
	mu       sync.Mutex
	paths    []string
	bodies   []string
	encoding []string
	agents   []string
	failFrom int // 1-based request number from which to answer status
	status   int
	count    int
}

func (r *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.count++
		n := r.count
		r.paths = append(r.paths, req.URL.RequestURI())
		r.encoding = append(r.encoding, req.Header.Get("Content-Encoding"))
		r.agents = append(r.agents, req.Header.Get("User-Agent"))
		body, _ := io.ReadAll(req.Body)
		if typ := compression.ParseContentEncoding(req.Header.Get("Content-Encoding")); typ != compression.TypeNone {
			var err error
			body, err = compression.Decompress(body, typ)
			if err != nil {
				t.Errorf("server failed to decompress body: %v", err)
			}
		}
		r.bodies = append(r.bodies, string(body))
		failFrom, status := r.failFrom, r.status
		r.mu.Unlock()

		if failFrom > 0 && n >= failFrom {
			w.WriteHeader(status)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func newSender(t *testing.T, cfg Config) *HTTPSender {
	t.Helper()
	s, err := NewHTTPSender(cfg)
	if err != nil {
		t.Fatalf("NewHTTPSender() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func records(base string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = base + "/111/wt?p=400,Screen" + string(rune('A'+i)) + ",0,1x1,32,0,1,0,0,0&eid=e1"
	}
	return out
}

func TestSendGetAll(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	s := newSender(t, Config{UserAgent: "apptrack-test/1"})
	batch := records(srv.URL, 3)

	delivered, err := s.Send(context.Background(), batch)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if delivered != 3 {
		t.Errorf("delivered = %d, want 3", delivered)
	}
	for i, p := range rec.paths {
		if want := strings.TrimPrefix(batch[i], srv.URL); p != want {
			t.Errorf("request %d = %q, want %q", i, p, want)
		}
		if rec.agents[i] != "apptrack-test/1" {
			t.Errorf("request %d user agent = %q", i, rec.agents[i])
		}
	}
}

func TestSendGetStopsAtFirstFailure(t *testing.T) {
	rec := &recorder{failFrom: 2, status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	s := newSender(t, Config{})
	before := testutil.ToFloat64(deliveryErrorsTotal.WithLabelValues(string(ErrorTypeServerError)))

	delivered, err := s.Send(context.Background(), records(srv.URL, 4))
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
	var ee *ExportError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExportError, got %v", err)
	}
	if ee.StatusCode != http.StatusServiceUnavailable || ee.Type != ErrorTypeServerError || !ee.IsRetryable() {
		t.Errorf("ExportError = %+v", ee)
	}
	if rec.count != 2 {
		t.Errorf("requests = %d, want 2", rec.count)
	}
	if got := testutil.ToFloat64(deliveryErrorsTotal.WithLabelValues(string(ErrorTypeServerError))) - before; got != 1 {
		t.Errorf("server errors = %v, want 1", got)
	}
}

func TestSendBatchModes(t *testing.T) {
	for _, typ := range []compression.Type{compression.TypeNone, compression.TypeGzip, compression.TypeZstd, compression.TypeSnappy, compression.TypeLZ4} {
		t.Run(string(typ), func(t *testing.T) {
			rec := &recorder{}
			srv := httptest.NewServer(rec.handler(t))
			defer srv.Close()

			s := newSender(t, Config{Mode: ModeBatch, Compression: compression.Config{Type: typ}})
			batch := records(srv.URL, 5)

			delivered, err := s.Send(context.Background(), batch)
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if delivered != 5 {
				t.Errorf("delivered = %d, want 5", delivered)
			}
			if rec.count != 1 {
				t.Fatalf("requests = %d, want 1", rec.count)
			}
			if rec.paths[0] != "/111/batch" {
				t.Errorf("batch path = %q", rec.paths[0])
			}
			if rec.encoding[0] != typ.ContentEncoding() {
				t.Errorf("Content-Encoding = %q, want %q", rec.encoding[0], typ.ContentEncoding())
			}
			if rec.bodies[0] != strings.Join(batch, "\n") {
				t.Errorf("body = %q", rec.bodies[0])
			}
		})
	}
}

func TestSendBatchFailureDeliversNothing(t *testing.T) {
	rec := &recorder{failFrom: 1, status: http.StatusBadRequest}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	s := newSender(t, Config{Mode: ModeBatch})
	delivered, err := s.Send(context.Background(), records(srv.URL, 3))
	if delivered != 0 {
		t.Errorf("delivered = %d, want 0", delivered)
	}
	var ee *ExportError
	if !errors.As(err, &ee) || ee.Type != ErrorTypeClientError || ee.IsRetryable() {
		t.Errorf("expected non-retryable client error, got %v", err)
	}
}

func TestSendEmptyBatch(t *testing.T) {
	s := newSender(t, Config{})
	if n, err := s.Send(context.Background(), nil); n != 0 || err != nil {
		t.Errorf("Send(nil) = %d, %v", n, err)
	}
}

func TestSendNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := newSender(t, Config{})
	_, err := s.Send(context.Background(), records(url, 1))
	var ee *ExportError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExportError, got %v", err)
	}
	if ee.Type != ErrorTypeNetwork {
		t.Errorf("Type = %s, want network", ee.Type)
	}
	if !IsRetryable(err) {
		t.Error("network errors should be retryable")
	}
}

func TestSendTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s := newSender(t, Config{Timeout: 50 * time.Millisecond})
	_, err := s.Send(context.Background(), records(srv.URL, 1))
	var ee *ExportError
	if !errors.As(err, &ee) || ee.Type != ErrorTypeTimeout {
		t.Errorf("expected timeout ExportError, got %v", err)
	}
}

func TestSendMalformedRecord(t *testing.T) {
	s := newSender(t, Config{})
	delivered, err := s.Send(context.Background(), []string{"::not a url"})
	if delivered != 0 || err == nil {
		t.Errorf("Send() = %d, %v", delivered, err)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeGet, false},
		{"GET", ModeGet, false},
		{"batch", ModeBatch, false},
		{"stream", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := NewHTTPSender(Config{Mode: "stream"}); err == nil {
		t.Error("NewHTTPSender accepted an unknown mode")
	}
}

func TestBatchEndpoint(t *testing.T) {
	got, err := batchEndpoint("https://collector.example.com/123,456/wt?p=400,Main&eid=1#frag")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://collector.example.com/123,456/batch" {
		t.Errorf("batchEndpoint = %q", got)
	}
	if _, err := batchEndpoint("/relative/wt?p=1"); err == nil {
		t.Error("expected error for relative url")
	}
}

func TestClassifyHTTPStatusCode(t *testing.T) {
	tests := map[int]ErrorType{
		400: ErrorTypeClientError,
		404: ErrorTypeClientError,
		429: ErrorTypeRateLimit,
		500: ErrorTypeServerError,
		503: ErrorTypeServerError,
		302: ErrorTypeUnknown,
	}
	for code, want := range tests {
		if got := classifyHTTPStatusCode(code); got != want {
			t.Errorf("classifyHTTPStatusCode(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorType
	}{
		{nil, ErrorTypeUnknown},
		{context.DeadlineExceeded, ErrorTypeTimeout},
		{errors.New("dial tcp: connection refused"), ErrorTypeNetwork},
		{errors.New("i/o timeout"), ErrorTypeTimeout},
		{errors.New("something odd"), ErrorTypeUnknown},
	}
	for _, tt := range tests {
		if got := classifyError(tt.err); got != tt.want {
			t.Errorf("classifyError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestHTTP2Transport(t *testing.T) {
	s := newSender(t, Config{HTTPClient: HTTPClientConfig{
		ForceAttemptHTTP2:    true,
		HTTP2ReadIdleTimeout: time.Second,
		HTTP2PingTimeout:     time.Second,
	}})
	if s.client.Transport == nil {
		t.Fatal("transport not configured")
	}
}

func TestLeakCheck_HTTPSender(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(t))

	s, err := NewHTTPSender(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Send(context.Background(), records(srv.URL, 2)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	s.Close()
	srv.Close()
}
