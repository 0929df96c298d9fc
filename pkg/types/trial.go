package types

// Counts holds the marker tallies extracted from captured link output.
type Counts struct {
	Sent      uint64 `json:"sent"`
	Received  uint64 `json:"received"`
	CRCErrors uint64 `json:"crc_errors"`
}

// TrialResult is one report row. Parameters is nil for stress runs and
// Duration is only rendered for them.
type TrialResult struct {
	Parameters *Parameters `json:"parameters,omitempty"`
	Counts
	Duration float64 `json:"duration_seconds,omitempty"`
}
