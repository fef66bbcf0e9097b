package vosk

import (
	"strings"

	"github.com/chaz8081/gostt-replay/internal/transcript"
)

type configMessage struct {
	Config struct {
		SampleRate uint32 `json:"sample_rate"`
		Words      int    `json:"words"`
	} `json:"config"`
}

type wordResult struct {
	Conf  float64 `json:"conf"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

// message is either a partial hypothesis or a finalized utterance (Text
// present).
type message struct {
	Partial       string       `json:"partial"`
	PartialResult []wordResult `json:"partial_result"`
	Result        []wordResult `json:"result"`
	Text          *string      `json:"text"`
}

// accumulator joins finalized utterances with the current partial.
type accumulator struct {
	final       []transcript.Word
	finalText   []string
	partial     []transcript.Word
	partialText string
}

// apply folds msg in and reports whether the transcript changed.
func (a *accumulator) apply(msg message) bool {
	if msg.Text != nil {
		a.final = append(a.final, toWords(msg.Result)...)
		if text := strings.TrimSpace(*msg.Text); text != "" {
			a.finalText = append(a.finalText, text)
		}
		changed := len(msg.Result) > 0 || a.partialText != ""
		a.partial, a.partialText = nil, ""
		return changed
	}

	text := strings.TrimSpace(msg.Partial)
	if text == a.partialText {
		return false
	}
	a.partialText = text
	if len(msg.PartialResult) > 0 {
		a.partial = toWords(msg.PartialResult)
	} else {
		a.partial = untimedWords(text, a.lastEnd())
	}
	return true
}

func (a *accumulator) snapshot() *transcript.Result {
	words := make([]transcript.Word, 0, len(a.final)+len(a.partial))
	words = append(words, a.final...)
	words = append(words, a.partial...)

	texts := append([]string(nil), a.finalText...)
	if a.partialText != "" {
		texts = append(texts, a.partialText)
	}
	return transcript.NewResult(words, strings.Join(texts, " "))
}

func (a *accumulator) lastEnd() float64 {
	if n := len(a.final); n > 0 {
		return a.final[n-1].End
	}
	return 0
}

func toWords(results []wordResult) []transcript.Word {
	words := make([]transcript.Word, len(results))
	for i, r := range results {
		words[i] = transcript.Word{Text: r.Word, Start: r.Start, End: r.End, Confidence: r.Conf}
	}
	return words
}

// untimedWords covers servers that send partial text without word timings.
func untimedWords(text string, at float64) []transcript.Word {
	fields := strings.Fields(text)
	words := make([]transcript.Word, len(fields))
	for i, f := range fields {
		words[i] = transcript.Word{Text: f, Start: at, End: at}
	}
	return words
}
