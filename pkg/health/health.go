// Package health exposes liveness and readiness probes for processes
// serving an index. Components register Check functions; readiness
// aggregates them, reporting down if any check fails.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status is the probe result of a component or of the process overall.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// ComponentHealth is one check's result.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Check probes one component, typically by opening an index reader.
type Check func(ctx context.Context) ComponentHealth

// Checker aggregates registered checks into one readiness report.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewChecker returns an empty Checker.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]Check)}
}

// Register adds a named check. Re-registering a name replaces it.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// report is the readiness response body.
type report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

func (c *Checker) run(ctx context.Context) report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rep := report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(c.checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for name, check := range c.checks {
		start := time.Now()
		res := check(ctx)
		res.Latency = time.Since(start).Round(time.Millisecond).String()
		rep.Components[name] = res
		if res.Status == StatusDown {
			rep.Status = StatusDown
		}
	}
	return rep
}

// LiveHandler answers liveness probes: the process is running.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers readiness probes by running every check.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		rep := c.run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if rep.Status != StatusUp {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(rep)
	}
}
