package audio

import (
	"fmt"
	"time"
)

// Synthesized speech at a normal speaking rate lands near 15 characters per
// second; used only as the RTF denominator before real audio exists.
const charsPerSecond = 15.0

// EstimateDuration predicts the spoken duration of a text from its length.
// Texts below one second are floored so the RTF denominator never vanishes.
func EstimateDuration(textLen int) time.Duration {
	if textLen <= 0 {
		return 0
	}
	seconds := float64(textLen) / charsPerSecond
	if seconds < 1.0 {
		seconds = 1.0
	}
	return time.Duration(seconds * float64(time.Second))
}

// PCMDuration returns the exact duration of a buffer of 16-bit mono PCM
// audio at the given sample rate
func PCMDuration(pcmData []byte, sampleRate int) (time.Duration, error) {
	if sampleRate <= 0 {
		return 0, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if len(pcmData)%2 != 0 {
		return 0, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := len(pcmData) / 2
	seconds := float64(samples) / float64(sampleRate)
	return time.Duration(seconds * float64(time.Second)), nil
}
