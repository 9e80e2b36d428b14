// Package frame implements the per-connection, stateful fixed-width frame
// parser described in spec.md §4.5.
//
// There is no teacher or pack precedent for this exact strict-10-octet
// framing (most retrieval-pack framers are length-prefixed or delimiter
// scanning with backtracking), so this is original engineering built
// directly from spec.md §4.5's algorithm description and the edge cases in
// §9(a)/(c); its shape — a carry buffer plus an event-emitting Feed call —
// follows the same "stateful handler fed arbitrary byte chunks" idiom as
// the socket readers in other_examples (e.g. HydraDNS's udp_server.go and
// moby's mdlayher/socket conn.go), adapted to TCP's stream semantics.
package frame

import "bytes"

const (
	// Width is the fixed frame width: 9 payload octets + 1 LF, per
	// spec.md §3.
	Width = 10
	// DigitCount is the number of ASCII digit octets in a ValidDigits frame.
	DigitCount = 9
)

var terminateFrame = [Width]byte{'t', 'e', 'r', 'm', 'i', 'n', 'a', 't', 'e', '\n'}

// EventKind identifies which of the three frame events occurred.
type EventKind int

const (
	// EventValidDigits carries a 9-digit payload.
	EventValidDigits EventKind = iota
	// EventTerminate is the literal "terminate\n" frame.
	EventTerminate
	// EventInvalid is any frame that is neither of the above; parsing
	// halts for the connection after this event (spec.md §4.5, §9(a)).
	EventInvalid
)

// Event is one classified frame.
type Event struct {
	Kind   EventKind
	Digits [DigitCount]byte // valid only when Kind == EventValidDigits
}

// Parser holds one connection's carry buffer: 0–9 leftover octets from a
// previous Feed call that didn't complete a 10-octet frame (spec.md §3,
// "Connection state"). The zero value is ready to use.
type Parser struct {
	carry    [Width]byte
	carryLen int
	halted   bool
}

// Feed classifies as many frames as possible out of the input, appending
// events to dst (which may be nil) and returning the extended slice. Once
// an EventInvalid has been emitted, Feed is a no-op on every subsequent
// call (spec.md §4.5: "halt further parsing for this connection") and
// returns dst unchanged.
//
// An LF among the octets of a not-yet-complete frame ends a line shorter
// than Width, so Feed emits EventInvalid for it at once instead of carrying
// it until more input arrives.
//
// Feed never allocates beyond growing dst, and never buffers more than
// DigitCount octets between calls.
func (p *Parser) Feed(input []byte, dst []Event) []Event {
	if p.halted {
		return dst
	}

	i := 0

	if p.carryLen > 0 {
		n := copy(p.carry[p.carryLen:Width], input)
		p.carryLen += n
		i = n
		if p.carryLen < Width {
			if bytes.IndexByte(p.carry[:p.carryLen], '\n') >= 0 {
				p.halted = true
				p.carryLen = 0
				dst = append(dst, Event{Kind: EventInvalid})
			}
			return dst
		}
		dst = append(dst, classify(p.carry))
		if dst[len(dst)-1].Kind == EventInvalid {
			p.halted = true
			p.carryLen = 0
			return dst
		}
		p.carryLen = 0
	}

	for len(input)-i >= Width {
		var w [Width]byte
		copy(w[:], input[i:i+Width])
		ev := classify(w)
		dst = append(dst, ev)
		i += Width
		if ev.Kind == EventInvalid {
			p.halted = true
			return dst
		}
	}

	if remaining := len(input) - i; remaining > 0 {
		p.carryLen = copy(p.carry[:], input[i:])
		if bytes.IndexByte(p.carry[:p.carryLen], '\n') >= 0 {
			p.halted = true
			p.carryLen = 0
			dst = append(dst, Event{Kind: EventInvalid})
		}
	}

	return dst
}

// Halted reports whether an invalid frame has been seen and parsing has
// stopped for this connection.
func (p *Parser) Halted() bool { return p.halted }

// Reset releases the carry buffer deterministically, for use on every
// connection exit path (spec.md §3).
func (p *Parser) Reset() {
	p.carryLen = 0
	p.halted = false
}

func classify(w [Width]byte) Event {
	if w == terminateFrame {
		return Event{Kind: EventTerminate}
	}
	if w[Width-1] != '\n' {
		return Event{Kind: EventInvalid}
	}
	var digits [DigitCount]byte
	for i := 0; i < DigitCount; i++ {
		if w[i] < '0' || w[i] > '9' {
			return Event{Kind: EventInvalid}
		}
		digits[i] = w[i]
	}
	return Event{Kind: EventValidDigits, Digits: digits}
}
