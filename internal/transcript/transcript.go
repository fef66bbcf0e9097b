// Package transcript holds recognized words with their timing and the
// lookups run against them during playback.
package transcript

import "strings"

// NoHighlight is returned by Highlight when no word covers the position.
const NoHighlight = -1

// Word is a single recognized word. Offsets are seconds from the start of
// the recording.
type Word struct {
	Index      int     `json:"index"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Result is one complete transcription. A Result is never modified after it
// is built; updates produce a new Result.
type Result struct {
	Words    []Word `json:"words"`
	FullText string `json:"fullText"`
}

// NewResult builds a Result from words in time order. Indices are assigned
// by position, end offsets are clamped to be no earlier than start, and
// confidence is clamped to [0, 1]. An empty fullText is derived from the
// word texts.
func NewResult(words []Word, fullText string) *Result {
	out := make([]Word, len(words))
	texts := make([]string, 0, len(words))
	for i, w := range words {
		w.Index = i
		if w.End < w.Start {
			w.End = w.Start
		}
		w.Confidence = min(max(w.Confidence, 0), 1)
		out[i] = w
		texts = append(texts, w.Text)
	}
	if fullText == "" {
		fullText = strings.Join(texts, " ")
	}
	return &Result{Words: out, FullText: fullText}
}

// Len returns the number of words, treating a nil Result as empty.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Words)
}

// Highlight returns the index of the first word whose span contains t
// (start <= t <= end), or NoHighlight.
func Highlight(t float64, words []Word) int {
	for i, w := range words {
		if t >= w.Start && t <= w.End {
			return i
		}
	}
	return NoHighlight
}
