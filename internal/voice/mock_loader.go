package voice

import (
	"context"
	"fmt"
	"sync"
)

// MockLoader is a scriptable loader for tests. Unknown voices fail unless
// AllowAll is set; LoadFunc overrides everything when present.
type MockLoader struct {
	LoadFunc func(ctx context.Context, voiceID string) ([]byte, Metadata, error)
	AllowAll bool
	Voices   map[string][]byte

	mu        sync.Mutex
	loadCount map[string]int
}

// NewMockLoader creates a mock loader seeded with the given voices
func NewMockLoader(voices map[string][]byte) *MockLoader {
	return &MockLoader{
		Voices:    voices,
		loadCount: make(map[string]int),
	}
}

func (m *MockLoader) Load(ctx context.Context, voiceID string) ([]byte, Metadata, error) {
	m.mu.Lock()
	if m.loadCount == nil {
		m.loadCount = make(map[string]int)
	}
	m.loadCount[voiceID]++
	m.mu.Unlock()

	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, voiceID)
	}

	if data, ok := m.Voices[voiceID]; ok {
		return data, Metadata{SampleRate: 24000, Dimensions: len(data) / 4, SizeBytes: int64(len(data))}, nil
	}
	if m.AllowAll {
		data := make([]byte, 256)
		return data, Metadata{SampleRate: 24000, Dimensions: 64, SizeBytes: 256}, nil
	}
	return nil, Metadata{}, fmt.Errorf("voice %q unavailable", voiceID)
}

// LoadCount returns how many times a voice id has been loaded
func (m *MockLoader) LoadCount(voiceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCount[voiceID]
}
