package proxy

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/tunnelgate/tunnelgate/internal/metrics"
)

const (
	wsConnectTimeout = 5 * time.Second
	wsIdleTimeout    = 5 * time.Minute
	wsMaxTransfer    = 100 * 1024 * 1024
	wsCopyChunk      = 8192
)

var upgrader = websocket.Upgrader{
	// Origin checking belongs to the tunneled application, not the
	// gateway: this is a byte-level bridge, not a same-origin service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Stats reports how many bytes crossed the bridge in each direction.
type Stats struct {
	BytesUp   int64
	BytesDown int64
}

// WebSocketError is the closed set of failures Bridge can report.
type WebSocketError struct {
	Kind WebSocketErrorKind
	Err  error
}

func (e *WebSocketError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *WebSocketError) Unwrap() error { return e.Err }

type WebSocketErrorKind int

const (
	WSErrConnectTimeout WebSocketErrorKind = iota
	WSErrConnect
	WSErrUpgrade
)

func (k WebSocketErrorKind) String() string {
	switch k {
	case WSErrConnectTimeout:
		return "timed out connecting to tunnel for websocket"
	case WSErrConnect:
		return "failed to connect to tunnel for websocket"
	case WSErrUpgrade:
		return "failed to upgrade client connection"
	default:
		return "unknown websocket error"
	}
}

// BridgeUpgrade completes the client's WebSocket upgrade handshake,
// dials bindAddr, and bridges raw bytes between the two connections
// until both directions have finished (each ends on close, the idle
// timeout or the transfer cap).
// The upgrade handshake is framing only: once established, traffic is
// bridged byte-for-byte rather than re-parsed as WebSocket frames,
// since the tunneled application speaks WebSocket to the client
// directly over the SSH-forwarded connection.
func BridgeUpgrade(ctx context.Context, bindAddr string, w http.ResponseWriter, r *http.Request, log zerolog.Logger) (*Stats, *WebSocketError) {
	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, &WebSocketError{Kind: WSErrUpgrade, Err: err}
	}
	defer clientConn.Close()

	dialCtx, cancel := context.WithTimeout(ctx, wsConnectTimeout)
	defer cancel()
	dialer := net.Dialer{}
	tunnelConn, err := dialer.DialContext(dialCtx, "tcp", bindAddr)
	if err != nil {
		return nil, &WebSocketError{Kind: WSErrConnect, Err: err}
	}
	defer tunnelConn.Close()

	return bridge(clientConn.NetConn(), tunnelConn, log), nil
}

func bridge(client, tunnelConn net.Conn, log zerolog.Logger) *Stats {
	var bytesUp, bytesDown int64

	var wg conc.WaitGroup
	wg.Go(func() {
		bytesUp = copyWithIdleTimeout(tunnelConn, client, log, "upstream")
	})
	wg.Go(func() {
		bytesDown = copyWithIdleTimeout(client, tunnelConn, log, "downstream")
	})
	wg.Wait()

	metrics.WebSocketBytes.WithLabelValues("up").Observe(float64(bytesUp))
	metrics.WebSocketBytes.WithLabelValues("down").Observe(float64(bytesDown))

	log.Debug().Int64("bytes_up", bytesUp).Int64("bytes_down", bytesDown).Msg("websocket bridge session ended")

	return &Stats{BytesUp: bytesUp, BytesDown: bytesDown}
}

// copyWithIdleTimeout copies from src to dst until a 0-byte read,
// a transport error, the idle deadline lapses, or the transfer cap is
// exceeded. Each direction runs independently: one side ending does
// not stop the other, since WebSocket is full-duplex and a half-close
// is legal.
func copyWithIdleTimeout(dst, src net.Conn, log zerolog.Logger, direction string) int64 {
	return copyWithIdleTimeoutUsing(dst, src, log, direction, wsIdleTimeout)
}

func copyWithIdleTimeoutUsing(dst, src net.Conn, log zerolog.Logger, direction string, idleTimeout time.Duration) int64 {
	var total int64
	buf := make([]byte, wsCopyChunk)

	for {
		if err := src.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return total
		}

		n, err := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > wsMaxTransfer {
				log.Debug().Str("direction", direction).Msg("websocket transfer limit reached")
				return total
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total
			}
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				log.Debug().Str("direction", direction).Msg("websocket idle timeout")
			}
			return total
		}
	}
}
