package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_PartialOverridesDefaults(t *testing.T) {
	p := writeTuning(t, "tick_rate_hz: 30\nsend_rate_hz: 15\ndispatch_rate_hz: 10\nbrush:\n  radius: 3\n")
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.TickRateHz != 30 || got.SendRateHz != 15 || got.DispatchRateHz != 10 {
		t.Fatalf("rates=%d/%d/%d want 30/15/10", got.TickRateHz, got.SendRateHz, got.DispatchRateHz)
	}
	if got.Brush.Radius != 3 || got.Brush.Strength != Defaults().Brush.Strength {
		t.Fatalf("brush=%+v", got.Brush)
	}
	if got.TicksPer(got.SendRateHz) != 2 || got.TicksPer(got.DispatchRateHz) != 3 {
		t.Fatalf("ticks per send=%d dispatch=%d", got.TicksPer(got.SendRateHz), got.TicksPer(got.DispatchRateHz))
	}
}

func TestLoad_SchemaRejectsUnknownAndBadTypes(t *testing.T) {
	if _, err := Load(writeTuning(t, "tick_rate_hz: 60\nsay_max: 3\n")); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
	if _, err := Load(writeTuning(t, "grid_dims: [1, 2]\n")); err == nil {
		t.Fatalf("expected short grid_dims to be rejected")
	}
	if _, err := Load(writeTuning(t, "tick_rate_hz: fast\n")); err == nil {
		t.Fatalf("expected non-integer rate to be rejected")
	}
}

func TestLoad_SemanticChecks(t *testing.T) {
	_, err := Load(writeTuning(t, "tick_rate_hz: 20\nsend_rate_hz: 30\ndispatch_rate_hz: 10\n"))
	if err == nil || !strings.Contains(err.Error(), "send_rate_hz") {
		t.Fatalf("err=%v want send_rate_hz complaint", err)
	}
}

func TestLoad_RepoConfig(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("configs/tuning.yaml: %v", err)
	}
	if got.Reconcile.RevertRingDepth != 20 {
		t.Fatalf("revert_ring_depth=%d want=20", got.Reconcile.RevertRingDepth)
	}
}
