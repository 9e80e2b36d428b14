// Connection handler (C6): reads bytes off one accepted socket, feeds them
// to the frame parser (C5), and dispatches events per spec.md §4.6's state
// table. Grounded in shape on the "read loop dispatches to a stateful
// per-connection parser" idiom in other_examples' HydraDNS udp_server.go
// and moby's mdlayher/socket conn.go, adapted from UDP datagrams to a TCP
// byte stream with a carry buffer.
package server

import (
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/user/digitserver/internal/frame"
	"github.com/user/digitserver/internal/ring"
)

// recvBufferSize is the per-read chunk size. spec.md §4.7 asks for a
// receive buffer hint of at least 16 KiB.
const recvBufferSize = 16 * 1024

// connection owns one accepted socket for its lifetime (spec.md §3,
// "Connection state").
type connection struct {
	conn        net.Conn
	parser      frame.Parser
	ring        *ring.Ring
	log         zerolog.Logger
	onTerminate func()
}

// serve runs the read loop until EOF, a protocol error, or a Terminate
// event, releasing the parser's carry buffer on every exit path (spec.md
// §4.6).
func (c *connection) serve() {
	defer c.conn.Close()
	defer c.parser.Reset()

	buf := make([]byte, recvBufferSize)
	var events []frame.Event

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			events = c.parser.Feed(buf[:n], events[:0])
			for _, ev := range events {
				switch ev.Kind {
				case frame.EventValidDigits:
					c.ring.Write(ev.Digits)
				case frame.EventTerminate:
					c.log.Info().Str("remote", c.conn.RemoteAddr().String()).Msg("terminate received")
					// Run asynchronously: onTerminate triggers a shutdown that
					// waits for this very connection handler to return (spec.md
					// §4.8 step 2), so it cannot be called inline on this goroutine.
					go c.onTerminate()
					return
				case frame.EventInvalid:
					c.log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("invalid frame, closing connection")
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Warn().Err(err).Str("remote", c.conn.RemoteAddr().String()).Msg("connection read error")
			}
			return
		}
	}
}
