package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/litetts/synthcore/internal/resilience"
)

// HTTPBackend implements Backend against a synthesis engine exposed over
// HTTP. Calls are guarded by a circuit breaker so a dead engine fails fast
// instead of stacking up timeouts.
type HTTPBackend struct {
	url        string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
}

// batchRequest is the JSON payload for one voice-grouped synthesis call
type batchRequest struct {
	VoiceID   string      `json:"voice_id"`
	Embedding string      `json:"embedding"` // base64
	Items     []BatchItem `json:"items"`
}

// batchResponse mirrors the engine's per-item results
type batchResponse struct {
	Results []struct {
		RequestID  string `json:"request_id"`
		Audio      string `json:"audio,omitempty"` // base64 PCM
		SampleRate int    `json:"sample_rate,omitempty"`
		Error      string `json:"error,omitempty"`
	} `json:"results"`
}

// NewHTTPBackend creates an HTTP synthesis backend client
func NewHTTPBackend(url string, timeout time.Duration, breaker *resilience.CircuitBreaker) *HTTPBackend {
	return &HTTPBackend{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		retry:      resilience.DefaultRetryConfig(),
	}
}

// SynthesizeBatch sends one voice group to the engine and maps the results
// back by request id
func (b *HTTPBackend) SynthesizeBatch(ctx context.Context, voiceID string, embedding []byte, items []BatchItem) ([]ItemResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("empty batch for voice %s", voiceID)
	}

	var results []ItemResult
	call := func() error {
		var err error
		results, err = b.synthesize(ctx, voiceID, embedding, items)
		return err
	}
	if b.breaker != nil {
		inner := call
		call = func() error { return b.breaker.Call(inner) }
	}

	// Transient failures are retried with backoff; each attempt still counts
	// against the breaker, and an open breaker stops the retry loop
	if err := resilience.Retry(ctx, b.retry, resilience.IsTransient, call); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *HTTPBackend) synthesize(ctx context.Context, voiceID string, embedding []byte, items []BatchItem) ([]ItemResult, error) {
	reqBody := batchRequest{
		VoiceID:   voiceID,
		Embedding: base64.StdEncoding.EncodeToString(embedding),
		Items:     items,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call synthesis engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("synthesis engine returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	results := make([]ItemResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		item := ItemResult{
			RequestID:  r.RequestID,
			SampleRate: r.SampleRate,
		}
		if r.Error != "" {
			item.Err = fmt.Errorf("synthesis failed: %s", r.Error)
		} else {
			audio, err := base64.StdEncoding.DecodeString(r.Audio)
			if err != nil {
				item.Err = fmt.Errorf("failed to decode audio: %w", err)
			} else {
				item.Audio = audio
			}
		}
		results = append(results, item)
	}

	return results, nil
}

// ReportsProgress is false for the HTTP backend; results arrive only when
// the whole group is done
func (b *HTTPBackend) ReportsProgress() bool {
	return false
}

// Healthy probes the engine with a HEAD request
func (b *HTTPBackend) Healthy(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.url, nil)
	if err != nil {
		return false, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError, nil
}
