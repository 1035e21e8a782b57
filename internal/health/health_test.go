package health

import (
	"sync/atomic"
	"testing"
)

func TestChecker_Basic(t *testing.T) {
	checker := NewChecker("1.0.0")

	status := checker.GetStatus()
	if status.Status != "ok" {
		t.Errorf("expected ok with no probes, got %s", status.Status)
	}
	if status.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", status.Version)
	}
	if !checker.IsHealthy() {
		t.Error("checker with no probes should be healthy")
	}
}

func TestChecker_HealthyProbes(t *testing.T) {
	checker := NewChecker("test")

	checker.Register("source", func() (bool, string) { return true, "" })
	checker.Register("uplink", func() (bool, string) { return true, "connected" })

	status := checker.GetStatus()
	if status.Status != "ok" {
		t.Errorf("expected ok, got %s", status.Status)
	}
	if len(status.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(status.Components))
	}
	if !status.Components["source"].Healthy {
		t.Error("source component should be healthy")
	}
	if status.Components["uplink"].Message != "connected" {
		t.Errorf("unexpected message %q", status.Components["uplink"].Message)
	}
}

func TestChecker_DegradedOnFailure(t *testing.T) {
	checker := NewChecker("test")

	checker.Register("source", func() (bool, string) { return true, "" })
	checker.Register("uplink", func() (bool, string) { return false, "disconnected" })

	status := checker.GetStatus()
	if status.Status != "degraded" {
		t.Errorf("expected degraded, got %s", status.Status)
	}
	if checker.IsHealthy() {
		t.Error("checker with failing probe should not be healthy")
	}
	if status.Components["uplink"].Message != "disconnected" {
		t.Errorf("unexpected message %q", status.Components["uplink"].Message)
	}
}

func TestChecker_ProbesReevaluated(t *testing.T) {
	checker := NewChecker("test")

	var healthy atomic.Bool
	healthy.Store(true)
	checker.Register("source", func() (bool, string) { return healthy.Load(), "" })

	if got := checker.GetStatus().Status; got != "ok" {
		t.Fatalf("expected ok, got %s", got)
	}

	// The probe reflects live state, not a snapshot at registration
	healthy.Store(false)
	if got := checker.GetStatus().Status; got != "degraded" {
		t.Errorf("expected degraded after state change, got %s", got)
	}

	healthy.Store(true)
	if !checker.IsHealthy() {
		t.Error("expected recovery after state change")
	}
}

func TestChecker_ReRegisterReplacesProbe(t *testing.T) {
	checker := NewChecker("test")

	checker.Register("source", func() (bool, string) { return false, "old" })
	checker.Register("source", func() (bool, string) { return true, "" })

	if !checker.IsHealthy() {
		t.Error("re-registered probe should replace the old one")
	}
	if len(checker.GetStatus().Components) != 1 {
		t.Error("expected a single component after re-registration")
	}
}
