// Package server owns the C8 lifecycle: wiring the dedup filter, ring,
// journal writer, stats reporter, and acceptor together, and driving the
// seven-step startup and seven-step shutdown sequences from spec.md §4.8.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/user/digitserver/internal/config"
	"github.com/user/digitserver/internal/dedup"
	"github.com/user/digitserver/internal/journal"
	"github.com/user/digitserver/internal/ring"
	"github.com/user/digitserver/internal/stats"
)

// metricsShutdownGrace bounds how long Stop waits for the optional metrics
// HTTP server to finish in-flight scrapes before moving on.
const metricsShutdownGrace = 2 * time.Second

// Server owns every long-lived component described in spec.md §2 (C1-C8)
// above the connection level, and drives them through startup and
// shutdown together.
type Server struct {
	cfg config.Config
	log zerolog.Logger

	filter   *dedup.Filter
	buf      *ring.Ring
	journal  *journal.Writer
	reporter *stats.Reporter
	acceptor *acceptor
	listener net.Listener

	metricsSrv *http.Server

	stopped  atomic.Bool
	stopDone chan struct{} // closed once Stop's shutdown sequence finishes

	journalDone chan struct{}
}

// New constructs a Server from a resolved configuration. It performs no
// I/O; Run does the seven-step startup.
func New(cfg config.Config, log zerolog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		log:         log,
		stopDone:    make(chan struct{}),
		journalDone: make(chan struct{}),
	}
}

func toRingStrategy(w config.WaitStrategy) ring.WaitStrategy {
	switch w {
	case config.WaitSleep:
		return ring.WaitSleep
	case config.WaitYield:
		return ring.WaitYield
	case config.WaitBusy:
		return ring.WaitBusy
	default:
		return ring.WaitBlock
	}
}

// Run executes the seven-step startup sequence from spec.md §4.8, then
// blocks serving connections until Stop is called (typically from a
// signal handler in cmd/digitserver), then waits for Stop's seven-step
// shutdown sequence to finish before returning.
func (s *Server) Run() error {
	// Step 1: allocate the dedup bitmap — one allocation for the server's
	// lifetime (spec.md §4.1, §4.8 step 1).
	s.filter = dedup.New()

	// Step 2: allocate the producer/consumer ring (spec.md §4.8 step 2).
	s.buf = ring.New(s.cfg.RingCapacity, toRingStrategy(s.cfg.JournalWaitStrategy))

	// Step 3: truncate/recreate the journal file (spec.md §4.8 step 3).
	var reg prometheus.Registerer
	if s.cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
	}
	s.reporter = stats.New(os.Stdout, config.StatsInterval, reg)

	w, err := journal.OpenWithBufferSize(s.cfg.JournalPath(), s.buf, s.filter, s.reporter, s.log, s.cfg.JournalBufferSize)
	if err != nil {
		return fmt.Errorf("server: opening journal: %w", err)
	}
	s.journal = w

	// Step 4: start the stats reporter's fixed-rate timer (spec.md §4.8
	// step 4, §4.4).
	s.reporter.Start()

	// Step 5: start the single journal-consumer goroutine (spec.md §4.8
	// step 5).
	go func() {
		defer close(s.journalDone)
		s.journal.Run()
	}()

	// Step 6: bind the listener and start the acceptor under the
	// concurrency gate (spec.md §4.8 step 6, §4.7).
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("server: listening on port %d: %w", s.cfg.Port, err)
	}
	s.listener = ln
	s.acceptor = newAcceptor(ln, s.cfg.WorkerPoolSize, s.buf, s.log, s.Stop)

	if reg != nil {
		s.metricsSrv = startMetricsServer(s.cfg.MetricsAddr, reg, s.log)
	}

	s.log.Info().Int("port", s.cfg.Port).Str("journal", s.cfg.JournalPath()).Msg("digitserver started")

	// Step 7: the caller installs the signal handler (spec.md §4.8 step
	// 7); Run itself just serves until Stop flips the flag.
	s.acceptor.run()

	<-s.stopDone
	return nil
}

// Stop executes the seven-step shutdown sequence from spec.md §4.8.
// Idempotent: safe to call from a signal handler and from a client's
// "terminate" frame racing each other; a call that finds shutdown already
// under way waits for it to finish.
func (s *Server) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		<-s.stopDone
		return
	}
	defer close(s.stopDone)

	// Step 1: stop accepting new connections.
	if s.listener != nil {
		s.listener.Close()
	}

	// Step 2: wait for in-flight connection handlers to return, releasing
	// their carry buffers (spec.md §4.8 step 2, §4.6).
	if s.acceptor != nil {
		s.acceptor.wait()
	}

	// Step 3: signal the ring closed so the journal consumer drains to
	// empty and returns (spec.md §4.8 step 3).
	s.buf.Stop()
	<-s.journalDone

	// Step 4: flush and close the journal file (spec.md §4.8 step 4).
	if err := s.journal.Close(); err != nil {
		s.log.Error().Err(err).Msg("error closing journal on shutdown")
	}

	// Step 5: stop the stats reporter's timer; no final partial-period
	// line is emitted (spec.md §4.8 step 5, §4.4).
	s.reporter.Stop()

	// Step 6: release the dedup bitmap (spec.md §4.8 step 6). The
	// allocation is reclaimed by the garbage collector once Server drops
	// its reference; there is no external resource to close.
	s.filter = nil

	// Step 7: stop the optional metrics endpoint and log final totals.
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownGrace)
		defer cancel()
		_ = s.metricsSrv.Shutdown(ctx)
	}
	received, duplicates := s.reporter.Totals()
	s.log.Info().Uint64("received", received).Uint64("duplicates", duplicates).Msg("digitserver stopped")
}

// Stopped reports whether Stop has begun or completed.
func (s *Server) Stopped() bool {
	return s.stopped.Load()
}

func startMetricsServer(addr string, reg *prometheus.Registry, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics endpoint started")
	return srv
}
