package synth

import (
	"context"
	"sync"
)

// MockBackend is a scriptable backend for tests. By default it returns one
// second of silence per item at 24kHz; SynthesizeFunc overrides the whole
// call when set.
type MockBackend struct {
	SynthesizeFunc func(ctx context.Context, voiceID string, embedding []byte, items []BatchItem) ([]ItemResult, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one SynthesizeBatch invocation
type MockCall struct {
	VoiceID string
	Items   []BatchItem
}

// NewMockBackend creates a mock synthesis backend
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (m *MockBackend) SynthesizeBatch(ctx context.Context, voiceID string, embedding []byte, items []BatchItem) ([]ItemResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{VoiceID: voiceID, Items: items})
	m.mu.Unlock()

	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, voiceID, embedding, items)
	}

	results := make([]ItemResult, 0, len(items))
	for _, item := range items {
		results = append(results, ItemResult{
			RequestID:  item.RequestID,
			Audio:      make([]byte, 48000), // 1s of 16-bit silence at 24kHz
			SampleRate: 24000,
		})
	}
	return results, nil
}

func (m *MockBackend) ReportsProgress() bool {
	return false
}

func (m *MockBackend) Healthy(ctx context.Context) (bool, error) {
	return true, nil
}

// Calls returns a copy of the recorded invocations
func (m *MockBackend) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}
