package alert

import (
	"testing"
	"time"

	"github.com/maskguard/maskguard/pkg/models"
)

func testViolations() map[models.Label]bool {
	return map[models.Label]bool{
		models.LabelNoMask:        true,
		models.LabelMaskIncorrect: true,
	}
}

func TestGateCooldownWindow(t *testing.T) {
	g := NewGate(10*time.Second, testViolations())
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"first sight alerts", t0, true},
		{"within cooldown suppressed", t0.Add(5 * time.Second), false},
		{"after cooldown alerts again", t0.Add(11 * time.Second), true},
		{"window restarts from last alert", t0.Add(15 * time.Second), false},
		{"exactly at cooldown boundary alerts", t0.Add(21 * time.Second), true},
	}

	for _, tt := range tests {
		if got := g.ShouldAlert("track_1", models.LabelNoMask, tt.at); got != tt.want {
			t.Errorf("%s: ShouldAlert = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGateNonViolationNeverAlerts(t *testing.T) {
	g := NewGate(time.Second, testViolations())
	now := time.Now()

	if g.ShouldAlert("track_1", models.LabelMaskOn, now) {
		t.Error("MASK_ON must never alert")
	}
	// A suppressed label must not consume or create cooldown state either.
	if !g.ShouldAlert("track_1", models.LabelNoMask, now) {
		t.Error("first NO_MASK sighting should alert regardless of earlier MASK_ON checks")
	}
}

func TestGateTracksAndLabelsIndependent(t *testing.T) {
	g := NewGate(10*time.Second, testViolations())
	now := time.Now()

	if !g.ShouldAlert("track_1", models.LabelNoMask, now) {
		t.Fatal("track_1 first sighting should alert")
	}
	if !g.ShouldAlert("track_2", models.LabelNoMask, now) {
		t.Error("track_2 must have its own cooldown window")
	}
	if !g.ShouldAlert("track_1", models.LabelMaskIncorrect, now) {
		t.Error("a different label on the same track must have its own window")
	}
	if g.ShouldAlert("track_1", models.LabelNoMask, now.Add(time.Second)) {
		t.Error("track_1 NO_MASK should still be in cooldown")
	}
}

func TestGateEmptyTrackAlwaysAlerts(t *testing.T) {
	g := NewGate(time.Hour, testViolations())
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !g.ShouldAlert("", models.LabelNoMask, now) {
			t.Fatal("detections without identity must always alert")
		}
	}
}

func TestGateForgetResetsTrack(t *testing.T) {
	g := NewGate(time.Hour, testViolations())
	now := time.Now()

	g.ShouldAlert("track_1", models.LabelNoMask, now)
	if g.ShouldAlert("track_1", models.LabelNoMask, now.Add(time.Minute)) {
		t.Fatal("second sighting within cooldown should be suppressed")
	}

	g.Forget([]string{"track_1"})
	if !g.ShouldAlert("track_1", models.LabelNoMask, now.Add(2*time.Minute)) {
		t.Error("forgotten track should alert on first sight again")
	}
}

func TestGateSetCooldown(t *testing.T) {
	g := NewGate(time.Hour, testViolations())
	now := time.Now()

	g.ShouldAlert("track_1", models.LabelNoMask, now)
	g.SetCooldown(time.Second)
	if g.Cooldown() != time.Second {
		t.Fatalf("Cooldown = %v, want 1s", g.Cooldown())
	}
	if !g.ShouldAlert("track_1", models.LabelNoMask, now.Add(2*time.Second)) {
		t.Error("shortened cooldown should apply to the existing record")
	}
}
