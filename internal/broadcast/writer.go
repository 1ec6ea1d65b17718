package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/picorelay/internal/metrics"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongWait          = 60 * time.Second
	messageBufferSize = 16
)

// clientWriter owns every write to one viewer socket: queued event frames,
// keepalive pings and the final close frame. Viewers only receive, so a
// viewer stays as long as it answers pings.
type clientWriter struct {
	conn   *websocket.Conn
	clock  clockwork.Clock
	queue  chan []byte
	quit   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func newClientWriter(conn *websocket.Conn, clock clockwork.Clock, bufferSize int) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		clock:  clock,
		queue:  make(chan []byte, bufferSize),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	// the server read loop observes the deadline; pongs push it out
	cw.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		cw.extendReadDeadline()
		return nil
	})

	go cw.run()
	return cw
}

// enqueue queues frames without blocking. It returns how many were queued
// and false if the buffer filled up.
func (cw *clientWriter) enqueue(frames [][]byte) (int, bool) {
	for i, f := range frames {
		select {
		case cw.queue <- f:
		default:
			return i, false
		}
	}
	return len(frames), true
}

func (cw *clientWriter) run() {
	defer close(cw.exited)

	ping := cw.clock.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case f := <-cw.queue:
			start := cw.clock.Now()
			if err := cw.write(websocket.TextMessage, f); err != nil {
				cw.drop("event", err)
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(cw.clock.Since(start).Seconds())
		case <-ping.Chan():
			if err := cw.write(websocket.PingMessage, nil); err != nil {
				metrics.WebSocketPingFailures.Inc()
				cw.drop("ping", err)
				return
			}
		case <-cw.quit:
			return
		}
	}
}

func (cw *clientWriter) write(messageType int, payload []byte) error {
	_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
	return cw.conn.WriteMessage(messageType, payload)
}

// drop closes the socket after a failed write, which ends the server read
// loop and with it the registration.
func (cw *clientWriter) drop(op string, err error) {
	select {
	case <-cw.quit:
		return // stopping; the close caused the error
	default:
	}
	metrics.WebSocketWriteFailures.WithLabelValues(op).Inc()
	slog.Debug("Viewer write failed, closing socket", "op", op, "error", err)
	_ = cw.conn.Close()
}

func (cw *clientWriter) stop() {
	cw.once.Do(func() {
		close(cw.quit)
		_ = cw.conn.Close()
	})
	<-cw.exited
}

// stopGraceful waits for run to exit, then writes a close frame with reason.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.once.Do(func() {
		close(cw.quit)
		<-cw.exited

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = cw.write(websocket.CloseMessage, msg)
		_ = cw.conn.Close()
	})
}

func (cw *clientWriter) extendReadDeadline() {
	_ = cw.conn.SetReadDeadline(cw.clock.Now().Add(pongWait))
}
