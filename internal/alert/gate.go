package alert

import (
	"sync"
	"time"

	"github.com/maskguard/maskguard/pkg/models"
)

// Gate enforces the per-(track, label) alert cooldown for one stream. A
// violation alerts on first sight and then again only after the cooldown has
// elapsed. Non-violation labels never alert and never touch the table.
type Gate struct {
	mu         sync.Mutex
	cooldown   time.Duration
	violations map[models.Label]bool
	lastAlert  map[string]time.Time // keyed by trackID + "|" + label
}

// NewGate creates a gate with the given cooldown and violation label set.
func NewGate(cooldown time.Duration, violations map[models.Label]bool) *Gate {
	v := make(map[models.Label]bool, len(violations))
	for k, ok := range violations {
		if ok {
			v[k] = true
		}
	}
	return &Gate{
		cooldown:   cooldown,
		violations: v,
		lastAlert:  make(map[string]time.Time),
	}
}

// IsViolation reports whether the label is alert-worthy at all.
func (g *Gate) IsViolation(label models.Label) bool {
	return g.violations[label]
}

// ShouldAlert decides whether this observation constitutes a new alert, and
// if so records now as the last alert time for the (track, label) pair.
// A detection without a track identity is always alert-worthy: without
// identity there is nothing to deduplicate against.
func (g *Gate) ShouldAlert(trackID string, label models.Label, now time.Time) bool {
	if !g.violations[label] {
		return false
	}
	if trackID == "" {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := trackID + "|" + string(label)
	last, seen := g.lastAlert[key]
	if seen && now.Sub(last) < g.cooldown {
		return false
	}
	g.lastAlert[key] = now
	return true
}

// SetCooldown atomically replaces the cooldown duration. It takes effect on
// the next ShouldAlert call.
func (g *Gate) SetCooldown(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldown = d
}

// Cooldown returns the current cooldown duration.
func (g *Gate) Cooldown() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldown
}

// Forget drops cooldown state for evicted tracks. Re-appearing faces get a
// fresh track ID anyway, so their history is unreachable after eviction.
func (g *Gate) Forget(trackIDs []string) {
	if len(trackIDs) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range trackIDs {
		prefix := id + "|"
		for key := range g.lastAlert {
			if len(key) > len(prefix) && key[:len(prefix)] == prefix {
				delete(g.lastAlert, key)
			}
		}
	}
}
