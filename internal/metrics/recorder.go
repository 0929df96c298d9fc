package metrics

import (
	"time"

	"github.com/pingsantohq/linkbench/pkg/types"
)

// TrialRecorder receives the outcome of each completed trial.
type TrialRecorder interface {
	ObserveTrial(counts types.Counts, elapsed time.Duration)
	IncForcedKills()
}

type NoopTrialRecorder struct{}

func (NoopTrialRecorder) ObserveTrial(types.Counts, time.Duration) {}
func (NoopTrialRecorder) IncForcedKills()                         {}
