package vosk

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, raw string) message {
	t.Helper()
	var msg message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return msg
}

func TestAccumulator(t *testing.T) {
	t.Parallel()

	var acc accumulator
	if acc.apply(decode(t, `{"partial":""}`)) {
		t.Error("empty partial reported a change")
	}

	if !acc.apply(decode(t, `{"partial":"hello"}`)) {
		t.Fatal("partial not applied")
	}
	snap := acc.snapshot()
	if snap.FullText != "hello" || snap.Len() != 1 || snap.Words[0].Start != 0 {
		t.Errorf("untimed partial = %+v", snap)
	}
	if acc.apply(decode(t, `{"partial":"hello"}`)) {
		t.Error("repeated partial reported a change")
	}

	if !acc.apply(decode(t, `{"result":[{"conf":1,"start":0,"end":0.4,"word":"hello"}],"text":"hello"}`)) {
		t.Fatal("result not applied")
	}
	acc.apply(decode(t, `{"partial":"world","partial_result":[{"conf":0.5,"start":0.5,"end":0.9,"word":"world"}]}`))

	snap = acc.snapshot()
	if snap.FullText != "hello world" {
		t.Errorf("FullText = %q", snap.FullText)
	}
	if snap.Len() != 2 || snap.Words[1].Index != 1 || snap.Words[1].Confidence != 0.5 {
		t.Errorf("words = %+v", snap.Words)
	}

	acc.apply(decode(t, `{"result":[{"conf":1,"start":0.5,"end":0.9,"word":"world"}],"text":"world"}`))
	first := acc.snapshot()
	second := acc.snapshot()
	if first == second {
		t.Error("snapshot reused a Result")
	}
	if first.Len() != 2 || first.FullText != "hello world" {
		t.Errorf("final = %+v", first)
	}
}

func TestAccumulatorUntimedPartialFollowsFinal(t *testing.T) {
	t.Parallel()

	var acc accumulator
	acc.apply(decode(t, `{"result":[{"conf":1,"start":0,"end":0.4,"word":"hello"}],"text":"hello"}`))
	acc.apply(decode(t, `{"partial":"there"}`))

	w := acc.snapshot().Words[1]
	if w.Start != 0.4 || w.End != 0.4 {
		t.Errorf("untimed word at %v-%v, want 0.4", w.Start, w.End)
	}
}
