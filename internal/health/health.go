// Package health provides health check functionality
package health

import (
	"sync"
	"time"
)

// Status represents overall system health
type Status struct {
	Status        string           `json:"status"` // ok, degraded
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
}

// Check represents a component health check
type Check struct {
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// CheckFunc probes one component's current health
type CheckFunc func() (healthy bool, message string)

// Checker tracks health of system components. Components register a probe
// once; every status request re-evaluates the probes.
type Checker struct {
	mu        sync.RWMutex
	version   string
	startTime time.Time
	probes    map[string]CheckFunc
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:   version,
		startTime: time.Now(),
		probes:    make(map[string]CheckFunc),
	}
}

// Register adds a component probe
func (c *Checker) Register(name string, probe CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// GetStatus evaluates all probes and returns the overall health status
func (c *Checker) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	status := "ok"
	components := make(map[string]Check, len(c.probes))

	for name, probe := range c.probes {
		healthy, message := probe()
		components[name] = Check{
			Healthy:   healthy,
			Message:   message,
			LastCheck: now,
		}
		if !healthy {
			status = "degraded"
		}
	}

	return Status{
		Status:        status,
		Version:       c.version,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Components:    components,
	}
}

// IsHealthy returns true if all components are healthy
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, probe := range c.probes {
		if healthy, _ := probe(); !healthy {
			return false
		}
	}
	return true
}
