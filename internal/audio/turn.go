package audio

import "time"

// TurnPolicy decides when the caller's silence constitutes a turn boundary.
//
// FixedThreshold is the normative policy. The interface exists so a smarter
// policy (one that tolerates mid-sentence hesitation) can be plugged in
// without touching the pipeline.
type TurnPolicy interface {
	// BoundaryReached reports whether silence of the given duration ends the
	// caller's turn under the agent-configured threshold.
	BoundaryReached(silence, threshold time.Duration) bool
}

// FixedThreshold ends the turn exactly when silence meets the threshold.
type FixedThreshold struct{}

func (FixedThreshold) BoundaryReached(silence, threshold time.Duration) bool {
	return silence >= threshold
}
