package scheduler

import (
	"time"
)

// Category classifies a request by text length
type Category int

const (
	CategoryShort Category = iota
	CategoryMedium
	CategoryLong
	CategoryExtraLong // dispatched immediately, never queued
)

// queuedCategories are the categories that own a batch queue
var queuedCategories = []Category{CategoryShort, CategoryMedium, CategoryLong}

func (c Category) String() string {
	switch c {
	case CategoryShort:
		return "short"
	case CategoryMedium:
		return "medium"
	case CategoryLong:
		return "long"
	case CategoryExtraLong:
		return "extra_long"
	default:
		return "unknown"
	}
}

// SubmitRequest is the input an outer layer hands to Admit
type SubmitRequest struct {
	Text     string
	VoiceID  string
	Params   map[string]string
	Priority int
}

// Request is an admitted synthesis request waiting for dispatch
type Request struct {
	ID         string
	Text       string
	VoiceID    string
	Params     map[string]string
	AdmittedAt time.Time
	TextLen    int
	Category   Category
	Priority   int

	handle *Handle
}

// Result is the successful outcome of one request
type Result struct {
	RequestID  string
	Audio      []byte // Raw PCM audio (16-bit signed, little-endian)
	SampleRate int
	Duration   time.Duration
}
