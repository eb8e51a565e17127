package voice

import "context"

// Metadata describes a loaded voice embedding
type Metadata struct {
	SampleRate int   // Native sample rate of the voice
	Dimensions int   // Embedding vector dimensions
	SizeBytes  int64 // Payload size in memory
}

// Loader resolves a voice id to its embedding payload. Implementations may
// have internal fallback tiers; callers only see success or failure.
type Loader interface {
	Load(ctx context.Context, voiceID string) ([]byte, Metadata, error)
}
