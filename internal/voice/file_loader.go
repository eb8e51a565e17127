package voice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Embedding files are float32 vectors; used to derive dimensions from size
const float32Bytes = 4

// Candidate extensions tried in order for each voice id
var embeddingExtensions = []string{".bin", ".pt", ".npz"}

// FileLoader loads voice embeddings from a directory. Each voice id maps to
// a file named <voiceID>.<ext>; extensions are tried in a fixed fallback
// order so converted and original formats can coexist.
type FileLoader struct {
	dir string
}

// NewFileLoader creates a filesystem voice loader rooted at dir
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{dir: dir}
}

// Load reads the embedding payload for a voice id
func (l *FileLoader) Load(ctx context.Context, voiceID string) ([]byte, Metadata, error) {
	if err := validateVoiceID(voiceID); err != nil {
		return nil, Metadata{}, err
	}

	var lastErr error
	for _, ext := range embeddingExtensions {
		select {
		case <-ctx.Done():
			return nil, Metadata{}, ctx.Err()
		default:
		}

		path := filepath.Join(l.dir, voiceID+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		if len(data) == 0 {
			lastErr = fmt.Errorf("embedding file %s is empty", path)
			continue
		}

		meta := Metadata{
			SampleRate: 24000,
			Dimensions: len(data) / float32Bytes,
			SizeBytes:  int64(len(data)),
		}
		return data, meta, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no embedding file found")
	}
	return nil, Metadata{}, fmt.Errorf("voice %q unavailable: %w", voiceID, lastErr)
}

// validateVoiceID rejects ids that would escape the voice directory
func validateVoiceID(voiceID string) error {
	if voiceID == "" {
		return fmt.Errorf("voice id is empty")
	}
	if voiceID == "." || voiceID == ".." ||
		strings.ContainsAny(voiceID, `/\`) || voiceID != filepath.Base(voiceID) {
		return fmt.Errorf("invalid voice id %q", voiceID)
	}
	return nil
}
