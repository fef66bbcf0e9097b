package transcript

import "testing"

func helloWorld() []Word {
	return []Word{
		{Text: "hello", Start: 0.0, End: 0.4, Confidence: 0.9},
		{Text: "world", Start: 0.5, End: 0.9, Confidence: 0.8},
	}
}

func TestHighlight(t *testing.T) {
	t.Parallel()

	words := helloWorld()
	tests := []struct {
		name string
		t    float64
		want int
	}{
		{"start of first word", 0.0, 0},
		{"inside first word", 0.2, 0},
		{"end of first word inclusive", 0.4, 0},
		{"gap between words", 0.45, NoHighlight},
		{"inside second word", 0.6, 1},
		{"end of second word inclusive", 0.9, 1},
		{"after last word", 1.0, NoHighlight},
		{"negative position", -0.1, NoHighlight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Highlight(tt.t, words); got != tt.want {
				t.Errorf("Highlight(%v) = %d, want %d", tt.t, got, tt.want)
			}
		})
	}
}

func TestHighlightEarliestMatchWinsOnOverlap(t *testing.T) {
	t.Parallel()

	words := []Word{
		{Text: "a", Start: 0.0, End: 1.0},
		{Text: "b", Start: 0.5, End: 1.5},
		{Text: "c", Start: 0.5, End: 0.7},
	}
	if got := Highlight(0.6, words); got != 0 {
		t.Errorf("Highlight(0.6) = %d, want 0", got)
	}
	if got := Highlight(1.2, words); got != 1 {
		t.Errorf("Highlight(1.2) = %d, want 1", got)
	}
}

func TestHighlightEmpty(t *testing.T) {
	t.Parallel()

	if got := Highlight(0.3, nil); got != NoHighlight {
		t.Errorf("Highlight on empty = %d, want %d", got, NoHighlight)
	}
}

func TestHighlightDeterministic(t *testing.T) {
	t.Parallel()

	words := helloWorld()
	for _, pos := range []float64{0, 0.1, 0.45, 0.5, 0.77, 2} {
		first := Highlight(pos, words)
		for i := 0; i < 10; i++ {
			if got := Highlight(pos, words); got != first {
				t.Fatalf("Highlight(%v) changed between calls: %d then %d", pos, first, got)
			}
		}
	}
}

func TestNewResult(t *testing.T) {
	t.Parallel()

	r := NewResult([]Word{
		{Index: 7, Text: "hello", Start: 0.0, End: 0.4, Confidence: 1.4},
		{Index: 3, Text: "world", Start: 0.5, End: 0.2, Confidence: -1},
	}, "")

	if r.FullText != "hello world" {
		t.Errorf("FullText = %q, want %q", r.FullText, "hello world")
	}
	if r.Words[0].Index != 0 || r.Words[1].Index != 1 {
		t.Errorf("indices = %d,%d, want 0,1", r.Words[0].Index, r.Words[1].Index)
	}
	if r.Words[1].End != 0.5 {
		t.Errorf("End = %v, want clamped to 0.5", r.Words[1].End)
	}
	if r.Words[0].Confidence != 1 || r.Words[1].Confidence != 0 {
		t.Errorf("confidence = %v,%v, want 1,0", r.Words[0].Confidence, r.Words[1].Confidence)
	}
}

func TestNewResultKeepsFullText(t *testing.T) {
	t.Parallel()

	r := NewResult(helloWorld(), "Hello, world.")
	if r.FullText != "Hello, world." {
		t.Errorf("FullText = %q", r.FullText)
	}
}

func TestNewResultCopiesWords(t *testing.T) {
	t.Parallel()

	words := helloWorld()
	r := NewResult(words, "")
	words[0].Text = "changed"
	if r.Words[0].Text != "hello" {
		t.Errorf("Result shares storage with caller slice")
	}
}

func TestResultLenNil(t *testing.T) {
	t.Parallel()

	var r *Result
	if r.Len() != 0 {
		t.Errorf("nil Len() = %d, want 0", r.Len())
	}
}
