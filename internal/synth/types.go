package synth

import "context"

// BatchItem is one request inside a voice-grouped backend call
type BatchItem struct {
	RequestID string            `json:"request_id"`
	Text      string            `json:"text"`
	Params    map[string]string `json:"params,omitempty"`
}

// ItemResult is the backend's per-item outcome. Err is non-nil when the
// backend failed this item individually while the call as a whole succeeded.
type ItemResult struct {
	RequestID  string
	Audio      []byte // Raw PCM audio (16-bit signed, little-endian)
	SampleRate int    // Sample rate in Hz
	Err        error
}

// Backend is the contract for a batch synthesis engine. A single call
// synthesizes every item with one voice embedding; failure of the call as a
// whole means failure of every item in it.
type Backend interface {
	// SynthesizeBatch synthesizes all items with the given voice embedding.
	// Must be safe to call concurrently for different voice groups.
	SynthesizeBatch(ctx context.Context, voiceID string, embedding []byte, items []BatchItem) ([]ItemResult, error)

	// ReportsProgress indicates whether the backend emits per-item progress.
	// Callers must check this instead of probing for optional behavior.
	ReportsProgress() bool

	// Healthy probes the backend for readiness
	Healthy(ctx context.Context) (bool, error)
}
