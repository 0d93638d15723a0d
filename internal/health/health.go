// Package health serves the liveness and readiness probes of the tracking
// driver.
package health

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the JSON body returned by health endpoints.
type Response struct {
	Status     Status                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
	Timestamp  string                    `json:"timestamp"`
}

// CheckFunc returns nil if the component is healthy, or an error describing the issue.
type CheckFunc func() error

// Checker provides liveness and readiness probes.
type Checker struct {
	mu              sync.RWMutex
	readinessChecks map[string]CheckFunc
	shuttingDown    atomic.Bool
}

// New creates a new health Checker.
func New() *Checker {
	return &Checker{
		readinessChecks: make(map[string]CheckFunc),
	}
}

// RegisterReadiness registers a named readiness check, run on each /ready
// request.
func (c *Checker) RegisterReadiness(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readinessChecks[name] = check
}

// SetShuttingDown makes both probes report down.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

// Pipeline is the view of the tracker the readiness probe needs.
type Pipeline interface {
	Ready() bool
	QueueLen() int
}

// ErrPipelineNotReady is reported while the tracker is uninitialized,
// stopped, or its queue is full.
var ErrPipelineNotReady = errors.New("tracking pipeline not ready")

// PipelineCheck reports the tracker down unless it is running with room
// left in its request queue.
func PipelineCheck(p Pipeline) CheckFunc {
	return func() error {
		if !p.Ready() {
			return fmt.Errorf("%w (queued records: %d)", ErrPipelineNotReady, p.QueueLen())
		}
		return nil
	}
}

// Register mounts /live and /ready on mux.
func (c *Checker) Register(mux *http.ServeMux) {
	mux.Handle("/live", c.LiveHandler())
	mux.Handle("/ready", c.ReadyHandler())
}

// LiveHandler returns the /live handler: up while the process runs and is
// not shutting down.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			writeShuttingDown(w)
			return
		}
		writeJSON(w, http.StatusOK, Response{Status: StatusUp, Timestamp: now()})
	}
}

// ReadyHandler returns the /ready handler. Any failing check yields 503.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			writeShuttingDown(w)
			return
		}

		c.mu.RLock()
		checks := maps.Clone(c.readinessChecks)
		c.mu.RUnlock()

		overall := StatusUp
		components := make(map[string]ComponentCheck, len(checks))
		for name, check := range checks {
			if err := check(); err != nil {
				overall = StatusDown
				components[name] = ComponentCheck{Status: StatusDown, Message: err.Error()}
			} else {
				components[name] = ComponentCheck{Status: StatusUp}
			}
		}

		code := http.StatusOK
		if overall == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, Response{Status: overall, Components: components, Timestamp: now()})
	}
}

func writeShuttingDown(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, Response{
		Status:    StatusDown,
		Timestamp: now(),
		Components: map[string]ComponentCheck{
			"process": {Status: StatusDown, Message: "shutting down"},
		},
	})
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
