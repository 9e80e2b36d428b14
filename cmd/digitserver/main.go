// Command digitserver runs the TCP ingestion server described in
// spec.md: it accepts fixed-width digit frames on a TCP port, deduplicates
// them against a dense bitmap, journals unique values to disk, and reports
// throughput once every ten seconds.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/user/digitserver/internal/config"
	"github.com/user/digitserver/internal/logging"
	"github.com/user/digitserver/internal/server"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "digitserver: %v\n", err)
		os.Exit(1)
	}

	// Single-threaded mode (spec.md §6, "single_threaded_event_loop")
	// confines every goroutine to one OS thread. Go's scheduler already
	// runs the acceptor, connection handlers, journal consumer and stats
	// timer as cooperatively-scheduled goroutines rather than dedicated OS
	// threads, so this is the permitted "cooperative tasks on an I/O
	// runtime" form spec.md §4.7 allows; it changes only scheduling
	// latency, never the observable protocol.
	if cfg.SingleThreadedEventLoop {
		runtime.GOMAXPROCS(1)
	}

	log := logging.New(cfg.LogLevel)
	srv := server.New(cfg, log)

	// Graceful shutdown: SIGINT/SIGTERM trigger the same Stop() that a
	// client's "terminate" frame does (spec.md §4.8 step 7).
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		srv.Stop()
	}()

	if err := srv.Run(); err != nil {
		log.Error().Err(err).Msg("digitserver exited with error")
		os.Exit(1)
	}
}
