package frame

import "testing"

func digits(s string) [DigitCount]byte {
	var d [DigitCount]byte
	copy(d[:], s)
	return d
}

func TestFeedSingleFrameWholeChunk(t *testing.T) {
	var p Parser
	events := p.Feed([]byte("123456789\n"), nil)
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Kind != EventValidDigits {
		t.Fatalf("Kind = %v, want EventValidDigits", events[0].Kind)
	}
	if events[0].Digits != digits("123456789") {
		t.Errorf("Digits = %q, want 123456789", events[0].Digits)
	}
}

func TestFeedMultipleFramesOneChunk(t *testing.T) {
	var p Parser
	events := p.Feed([]byte("111111111\n222222222\n"), nil)
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Digits != digits("111111111") || events[1].Digits != digits("222222222") {
		t.Errorf("unexpected digits: %+v", events)
	}
}

func TestFeedTerminate(t *testing.T) {
	var p Parser
	events := p.Feed([]byte("terminate\n"), nil)
	if len(events) != 1 || events[0].Kind != EventTerminate {
		t.Fatalf("events = %+v, want one EventTerminate", events)
	}
}

// TestFeedByteAtATime verifies framing is correct no matter how input is
// chunked, including the pathological case of one byte per Feed call
// (spec.md §9(c)).
func TestFeedByteAtATime(t *testing.T) {
	input := []byte("123456789\nterminate\n987654321\n")
	var p Parser
	var got []Event
	for i := 0; i < len(input); i++ {
		got = p.Feed(input[i:i+1], got)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3: %+v", len(got), got)
	}
	if got[0].Kind != EventValidDigits || got[0].Digits != digits("123456789") {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[1].Kind != EventTerminate {
		t.Errorf("event 1 = %+v, want EventTerminate", got[1])
	}
	if got[2].Kind != EventValidDigits || got[2].Digits != digits("987654321") {
		t.Errorf("event 2 = %+v", got[2])
	}
}

// TestFeedSplitAcrossArbitraryBoundaries checks a frame split across two
// Feed calls at every possible byte offset.
func TestFeedSplitAcrossArbitraryBoundaries(t *testing.T) {
	frameBytes := []byte("555555555\n")
	for split := 1; split < len(frameBytes); split++ {
		var p Parser
		var got []Event
		got = p.Feed(frameBytes[:split], got)
		if len(got) != 0 {
			t.Fatalf("split=%d: got events before frame completed: %+v", split, got)
		}
		got = p.Feed(frameBytes[split:], got)
		if len(got) != 1 || got[0].Kind != EventValidDigits || got[0].Digits != digits("555555555") {
			t.Fatalf("split=%d: got = %+v", split, got)
		}
	}
}

func TestFeedRejectsNonDigitPayload(t *testing.T) {
	var p Parser
	events := p.Feed([]byte("12345678x\n"), nil)
	if len(events) != 1 || events[0].Kind != EventInvalid {
		t.Fatalf("events = %+v, want one EventInvalid", events)
	}
}

func TestFeedRejectsMissingTerminator(t *testing.T) {
	var p Parser
	events := p.Feed([]byte("123456789x"), nil)
	if len(events) != 1 || events[0].Kind != EventInvalid {
		t.Fatalf("events = %+v, want one EventInvalid", events)
	}
}

func TestFeedHaltsAfterInvalid(t *testing.T) {
	var p Parser
	events := p.Feed([]byte("1234567890123456789\n"), nil)
	if len(events) != 1 || events[0].Kind != EventInvalid {
		t.Fatalf("events = %+v, want one EventInvalid", events)
	}
	if !p.Halted() {
		t.Fatal("Halted() = false after invalid frame")
	}

	more := p.Feed([]byte("111111111\n"), events)
	if len(more) != len(events) {
		t.Fatalf("Feed after halt appended events: %+v", more)
	}
}

func TestReset(t *testing.T) {
	var p Parser
	p.Feed([]byte("123456789x"), nil) // halts, leaves nothing carried
	p.Reset()
	if p.Halted() {
		t.Fatal("Halted() = true after Reset")
	}
	events := p.Feed([]byte("111111111\n"), nil)
	if len(events) != 1 || events[0].Kind != EventValidDigits {
		t.Fatalf("events after Reset = %+v", events)
	}
}
