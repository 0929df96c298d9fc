package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/pingsantohq/linkbench/internal/metrics"
)

const defaultStaleAfter = time.Minute

// Checker decides whether a run is still making progress.
type Checker struct {
	metrics    *metrics.Store
	staleAfter time.Duration

	mu        sync.RWMutex
	startedAt time.Time
}

// NewChecker constructs a readiness checker bound to the provided metrics
// store. staleAfter is the longest a single trial may reasonably take.
func NewChecker(store *metrics.Store, staleAfter time.Duration) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Checker{
		metrics:    store,
		staleAfter: staleAfter,
	}
}

// StaleAfter derives the stall threshold from a run's timing: one
// observation, a termination grace per role, the cooldown, and slack.
func StaleAfter(observation, grace, cooldown time.Duration) time.Duration {
	return 2*(observation+2*grace+cooldown) + 5*time.Second
}

// ObserveRunStart records when the first trial was due.
func (c *Checker) ObserveRunStart(ts time.Time) {
	c.mu.Lock()
	c.startedAt = ts
	c.mu.Unlock()
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 2)

	c.mu.RLock()
	startedAt := c.startedAt
	staleAfter := c.staleAfter
	c.mu.RUnlock()

	var snap metrics.Snapshot
	if c.metrics != nil {
		snap = c.metrics.Snapshot()
	}

	switch {
	case startedAt.IsZero():
		reasons = append(reasons, "run not started")
	case snap.LastTrialCompleted.IsZero():
		if waited := now.Sub(startedAt); waited > staleAfter {
			reasons = append(reasons, fmt.Sprintf("first trial overdue (%s)", waited.Round(time.Second)))
		}
	default:
		if idle := now.Sub(snap.LastTrialCompleted); idle > staleAfter {
			reasons = append(reasons, fmt.Sprintf("trials stalled (%s since last)", idle.Round(time.Second)))
		}
	}

	if snap.ForcedKills > 0 {
		reasons = append(reasons, fmt.Sprintf("link program ignored termination %d times", snap.ForcedKills))
	}

	if len(reasons) > 0 {
		return false, reasons
	}
	return true, nil
}
