// Acceptor and concurrency gate (C7, spec.md §4.7): binds the listener,
// and bounds the number of simultaneously-reading connection handlers to
// the configured worker pool size (default 5) using a weighted semaphore —
// see SPEC_FULL.md §4.7 for why the semaphore form was chosen over a
// fixed set of pre-started worker goroutines.
package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/user/digitserver/internal/ring"
)

type acceptor struct {
	listener net.Listener
	gate     *semaphore.Weighted
	ring     *ring.Ring
	log      zerolog.Logger

	onTerminate func()

	wg sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

func newAcceptor(ln net.Listener, poolSize int, r *ring.Ring, log zerolog.Logger, onTerminate func()) *acceptor {
	return &acceptor{
		listener:    ln,
		gate:        semaphore.NewWeighted(int64(poolSize)),
		ring:        r,
		log:         log,
		onTerminate: onTerminate,
		conns:       make(map[net.Conn]struct{}),
	}
}

// run accepts connections until the listener is closed (which Stop does),
// dispatching each to its own handler goroutine only once the concurrency
// gate admits it. Additional connecting clients sit in the kernel's accept
// backlog — not rejected, just delayed (spec.md §4.7) — because Accept
// itself is not gated, only dispatch-into-handling is.
func (a *acceptor) run() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			a.log.Warn().Err(err).Msg("accept error")
			continue
		}

		tuneConn(conn)

		if err := a.gate.Acquire(context.Background(), 1); err != nil {
			conn.Close()
			continue
		}

		a.trackConn(conn)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer a.gate.Release(1)
			defer a.untrackConn(conn)
			c := &connection{
				conn:        conn,
				ring:        a.ring,
				log:         a.log,
				onTerminate: a.onTerminate,
			}
			c.serve()
		}()
	}
}

func (a *acceptor) trackConn(conn net.Conn) {
	a.connsMu.Lock()
	a.conns[conn] = struct{}{}
	a.connsMu.Unlock()
}

func (a *acceptor) untrackConn(conn net.Conn) {
	a.connsMu.Lock()
	delete(a.conns, conn)
	a.connsMu.Unlock()
}

// closeOpenConns force-closes every connection still being served. A
// handler blocked in a socket read has no way to observe the stop flag on
// its own (spec.md §5, "suspension points"); the shutdown sequence must
// close its socket out from under it to unblock the read and let it exit
// (spec.md §4.8 step 3, "close worker read loops").
func (a *acceptor) closeOpenConns() {
	a.connsMu.Lock()
	conns := make([]net.Conn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	a.connsMu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// wait force-closes every open connection, then blocks until every
// in-flight handler has returned, releasing its carry buffer (spec.md
// §4.8 step 3).
func (a *acceptor) wait() {
	a.closeOpenConns()
	a.wg.Wait()
}

// tuneConn applies the tuning contract spec.md §4.7 exposes to C8:
// TCP_NODELAY, and receive/send buffer hints.
func tuneConn(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	_ = tc.SetReadBuffer(16 * 1024)
	_ = tc.SetWriteBuffer(16 * 1024)
}
