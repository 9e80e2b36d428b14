// Package ring implements the bounded multi-producer/single-consumer slot
// array described in spec.md §3 and §4.3 — the handoff between the many
// connection handlers (C6) and the single journal consumer (C2).
//
// The sequence-number claim/publish protocol is grounded on
// JoshuaSkootsky-wait-free-write-buffer's SPSC ring (cache-line padded
// slots, atomic sequence numbers, mask-based indexing for power-of-two
// capacities) generalized from single-producer to multi-producer by giving
// slot claims their own atomic counter (an atomic fetch-and-add, matching the
// claim-then-publish split used by the disruptor-style ring buffers in the
// retrieval pack, e.g. other_examples' rishavpaul order-matching-engine
// disruptor ring_buffer.go and drgolem-ringbuffer). gsoultan-Hermod's own
// pkg/buffer/ring_buffer.go is a channel wrapper with no slot reuse or
// batch-boundary concept; it does not give C2 the "claim a batch, process
// it, then update statistics once" semantics spec.md §4.2 requires, so it
// is not the base here — Hermod's role is the surrounding server, not this
// data structure.
package ring

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const cacheLinePad = 64

// FrameSize is the payload width of one ring slot: 9 ASCII digits, per
// spec.md §3 ("each holding exactly 9 octets").
const FrameSize = 9

type slot struct {
	sequence atomic.Uint64
	_        [cacheLinePad - 8]byte
	data     [FrameSize]byte
}

// WaitStrategy controls how the consumer in ClaimBatch spins, parks or
// yields while no slot is published. See spec.md §4.2. Producers waiting in
// Claim on a full ring always yield with runtime.Gosched, whatever the
// strategy.
type WaitStrategy int

const (
	// WaitBlock parks on a condition variable. Lowest idle CPU, the
	// default per spec.md §4.2.
	WaitBlock WaitStrategy = iota
	// WaitSleep parks for a short fixed duration.
	WaitSleep
	// WaitYield hints the scheduler to run another goroutine.
	WaitYield
	// WaitBusy spins without yielding.
	WaitBusy
)

const sleepIdle = 50 * time.Microsecond

// Ring is a bounded MPSC slot array. Producers claim a slot (blocking if
// the ring is full — the backpressure mechanism from disk to network per
// spec.md §4.3), copy their 9-byte payload in, and publish. The consumer
// claims a contiguous batch of published slots at a time.
type Ring struct {
	slots []slot
	mask  uint64

	strategy WaitStrategy

	writeCursor atomic.Uint64 // next sequence to hand out to a producer
	_           [cacheLinePad - 8]byte

	// readCursor is updated exclusively by the single consumer goroutine,
	// but read by producers checking for a full ring, so it is an atomic
	// even though there is only ever one writer.
	readCursor atomic.Uint64

	// claimEnd is the exclusive end of the batch last returned by
	// ClaimBatch. Consumer-only; readCursor catches up to it on the next
	// ClaimBatch call, once that batch has been processed.
	claimEnd uint64

	mu   sync.Mutex
	cond *sync.Cond

	stopped atomic.Bool
}

// New creates a Ring with the given capacity, which must be a power of two
// (spec.md §3 defaults it to 1,048,576).
func New(capacity int, strategy WaitStrategy) *Ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("ring: capacity must be a power of two")
	}
	r := &Ring{
		slots:    make([]slot, capacity),
		mask:     uint64(capacity - 1),
		strategy: strategy,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Stop marks the ring closed. After Stop, Claim becomes a no-op (per
// spec.md §4.3, "write becomes a no-op and returns immediately"); slots
// already claimed before Stop must still be published so the consumer can
// drain them, which is why Stop does not touch in-flight claims. Idempotent.
func (r *Ring) Stop() {
	if r.stopped.CompareAndSwap(false, true) {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	}
}

// Stopped reports whether Stop has been called.
func (r *Ring) Stopped() bool {
	return r.stopped.Load()
}

// Claim reserves the next slot and returns a pointer to it along with its
// sequence number, blocking if the ring is full. Returns ok=false only if
// the ring was stopped before a slot could be claimed.
//
// Producers must call Publish on the returned sequence after copying their
// payload into the slot's Data(), even if Stop was called in the meantime
// (spec.md §4.3: "in-flight claimed slots must still be published so the
// consumer can drain cleanly").
func (r *Ring) Claim() (seq uint64, ok bool) {
	if r.stopped.Load() {
		return 0, false
	}
	seq = r.writeCursor.Add(1) - 1
	capacity := r.mask + 1

	// Block until the slot `capacity` positions behind this one has been
	// consumed, i.e. the ring isn't full. The consumer's readCursor trails
	// writeCursor by at most `capacity`. A claim already handed out is
	// always honored to completion, even after Stop — the consumer drains
	// to empty before exiting (spec.md §4.8 step 4) — so this loop does not
	// check stopped.
	for seq-r.consumedSeq() >= capacity {
		runtime.Gosched()
	}
	return seq, true
}

// Write is the Journal Producer API (C3, spec.md §4.3): copies a 9-byte
// frame into the next ring slot, blocking only if the ring is full, and
// is a no-op once the ring has been stopped before a slot was claimed.
// Safe for concurrent use by many producers; producers never allocate.
func (r *Ring) Write(frame [FrameSize]byte) {
	seq, ok := r.Claim()
	if !ok {
		return
	}
	*r.Data(seq) = frame
	r.Publish(seq)
}

// Data returns the slot payload for a claimed sequence number, for the
// producer to copy into and the consumer to read from.
func (r *Ring) Data(seq uint64) *[FrameSize]byte {
	return &r.slots[seq&r.mask].data
}

// Publish makes a claimed slot visible to the consumer.
func (r *Ring) Publish(seq uint64) {
	r.slots[seq&r.mask].sequence.Store(seq + 1)
	if r.strategy == WaitBlock {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	}
}

// consumedSeq returns readCursor, one past the last sequence number the
// consumer has finished processing. Safe to call from producers: it only ever increases and
// a stale read just means a producer waits one extra scheduling quantum.
func (r *Ring) consumedSeq() uint64 {
	return r.readCursor.Load()
}

// Batch is a contiguous run of published slots ready for the consumer to
// process, bounded by the ring's producer high-water mark at claim time
// (spec.md §2, glossary "Batch").
type Batch struct {
	r      *Ring
	start  uint64
	end    uint64 // exclusive
}

// Len returns the number of slots in the batch.
func (b Batch) Len() int { return int(b.end - b.start) }

// Frame returns the i'th frame's 9-byte payload in the batch.
func (b Batch) Frame(i int) *[FrameSize]byte {
	return b.r.Data(b.start + uint64(i))
}

// ClaimBatch blocks (per the ring's wait strategy) until at least one slot
// has been published, then returns every contiguously-published slot since
// the last call. Returns ok=false once the ring is stopped and fully
// drained. The slots of a returned batch stay reserved for the consumer
// until its next ClaimBatch call, so producers cannot overwrite them while
// they are being processed.
func (r *Ring) ClaimBatch() (Batch, bool) {
	cur := r.claimEnd
	r.readCursor.Store(cur)
	for {
		high := r.highWaterMark(cur)
		if high > cur {
			r.claimEnd = high
			return Batch{r: r, start: cur, end: high}, true
		}
		if r.stopped.Load() {
			return Batch{}, false
		}
		r.idle()
	}
}

// highWaterMark scans forward from readCursor for the longest run of
// slots whose sequence marker shows them published, i.e. sequence ==
// index+1. This mirrors the consumer-side scan in
// JoshuaSkootsky-wait-free-write-buffer's Read/ReadWithGap, generalized to
// return a run length instead of one element at a time.
func (r *Ring) highWaterMark(from uint64) uint64 {
	i := from
	for {
		s := &r.slots[i&r.mask]
		if s.sequence.Load() != i+1 {
			return i
		}
		i++
		// A claimed-but-not-yet-published slot anywhere in the ring bounds
		// the scan; since capacity is finite this loop terminates within
		// one lap even under sustained producer pressure.
		if i-from > r.mask+1 {
			return i
		}
	}
}

func (r *Ring) idle() {
	switch r.strategy {
	case WaitBusy:
		// spin
	case WaitYield:
		runtime.Gosched()
	case WaitSleep:
		time.Sleep(sleepIdle)
	default: // WaitBlock
		r.mu.Lock()
		cur := r.readCursor.Load()
		if r.highWaterMark(cur) == cur && !r.stopped.Load() {
			r.cond.Wait()
		}
		r.mu.Unlock()
	}
}
