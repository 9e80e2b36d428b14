// Package stats implements the periodic throughput reporter described in
// spec.md §4.4: two pairs of 64-bit counters, a 10-second fixed-rate
// stdout heartbeat, and (as an [EXPANSION] in SPEC_FULL.md §4.4) the same
// counters mirrored onto Prometheus counters for an optional scrape
// endpoint.
//
// The promauto registration pattern is grounded on gsoultan-Hermod's
// pkg/engine/metrics.go. spec.md §4.4 calls for the period pair to be
// read-and-reset as one atomic unit, so Add and tick share a mutex over
// the pair rather than swapping each counter independently.
package stats

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reporter tracks period and lifetime received/duplicate counts and emits
// one stdout line per period, per spec.md §4.4.
type Reporter struct {
	periodMu         sync.Mutex
	periodReceived   uint64
	periodDuplicates uint64

	totalReceived   atomic.Uint64
	totalDuplicates atomic.Uint64

	out      io.Writer
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}

	metrics *metrics
}

type metrics struct {
	received   prometheus.Counter
	duplicates prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		received: factory.NewCounter(prometheus.CounterOpts{
			Name: "digitserver_received_total",
			Help: "Total digit-line messages received by the journal consumer.",
		}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "digitserver_duplicates_total",
			Help: "Total digit-line messages that were duplicates of an already-seen value.",
		}),
	}
}

// New creates a Reporter writing heartbeat lines to out every interval.
// reg may be nil to disable Prometheus metric registration (the default,
// matching spec.md §6: metrics are an optional add-on, not required).
func New(out io.Writer, interval time.Duration, reg prometheus.Registerer) *Reporter {
	r := &Reporter{
		out:      out,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if reg != nil {
		r.metrics = newMetrics(reg)
	}
	return r
}

// Add folds a completed batch's counts into the period totals. Called only
// from the journal consumer (C2), per spec.md §4.4. Add races with the
// timer goroutine's periodic read-and-reset, so both share periodMu —
// a separate Swap per counter would let one tick observe this batch's
// received count and the next tick observe its duplicates count,
// violating the §3 invariant that duplicates never exceed received.
func (r *Reporter) Add(received, duplicates uint64) {
	r.periodMu.Lock()
	r.periodReceived += received
	r.periodDuplicates += duplicates
	r.periodMu.Unlock()
}

// Start launches the fixed-rate reporting timer. The first tick fires at
// t=interval, not at startup (spec.md §4.4). Start returns immediately;
// call Stop to halt the timer before process exit.
func (r *Reporter) Start() {
	go r.run()
}

func (r *Reporter) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reporter) tick() {
	r.periodMu.Lock()
	received := r.periodReceived
	duplicates := r.periodDuplicates
	r.periodReceived = 0
	r.periodDuplicates = 0
	r.periodMu.Unlock()

	r.totalReceived.Add(received)
	r.totalDuplicates.Add(duplicates)

	if r.metrics != nil {
		r.metrics.received.Add(float64(received))
		r.metrics.duplicates.Add(float64(duplicates))
	}

	fmt.Fprintf(r.out, "received %d numbers, %d duplicates\n", received, duplicates)
}

// Stop halts the timer. Per spec.md §4.8 step 5, no final partial-period
// line is emitted on stop.
func (r *Reporter) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// Totals returns the received/duplicate counts folded in by every tick so
// far, for tests and for logging at shutdown. Counts added since the last
// tick are not included.
func (r *Reporter) Totals() (received, duplicates uint64) {
	return r.totalReceived.Load(), r.totalDuplicates.Load()
}
