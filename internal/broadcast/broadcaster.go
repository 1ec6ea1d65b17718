package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/picorelay/internal/domain"
	"github.com/pscheid92/picorelay/internal/metrics"
	"github.com/pscheid92/picorelay/internal/platform/channels"
)

const (
	commandTimeout   = 5 * time.Second
	stopTimeout      = 10 * time.Second
	commandQueueSize = 256
	depthInterval    = 1 * time.Second
)

const (
	eventKindTick     = "tick"
	eventKindSnapshot = "snapshot"
	eventKindReply    = "reply"
)

// ErrNotRegistered is returned by Send for a connection that already left.
var ErrNotRegistered = errors.New("connection not registered")

type broadcasterCmd interface{ isBroadcasterCmd() }

type baseBroadcasterCmd struct{}

func (baseBroadcasterCmd) isBroadcasterCmd() {}

type registerCmd struct {
	baseBroadcasterCmd
	connection   *websocket.Conn
	errorChannel chan error
}

type unregisterCmd struct {
	baseBroadcasterCmd
	connection *websocket.Conn
}

type sendCmd struct {
	baseBroadcasterCmd
	connection   *websocket.Conn
	frame        []byte
	errorChannel chan error
}

type getClientCountCmd struct {
	baseBroadcasterCmd
	replyChannel chan int
}

type stopCmd struct {
	baseBroadcasterCmd
}

// Broadcaster owns the viewer set and the periodic fan-out.
type Broadcaster struct {
	cmdCh        chan broadcasterCmd
	clock        clockwork.Clock
	clients      map[*websocket.Conn]*clientWriter
	source       domain.ReadingSource
	table        channels.Table
	done         chan struct{}
	stopTimeout  time.Duration
	maxClients   int
	tickInterval time.Duration
	bufferSize   int
}

// NewBroadcaster starts the actor. source is read on every tick; table
// names the push event for each channel. maxClients caps the viewer set.
func NewBroadcaster(source domain.ReadingSource, table channels.Table, clock clockwork.Clock, maxClients int, tickInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		cmdCh:        make(chan broadcasterCmd, commandQueueSize),
		clock:        clock,
		clients:      make(map[*websocket.Conn]*clientWriter),
		source:       source,
		table:        table,
		done:         make(chan struct{}),
		stopTimeout:  stopTimeout,
		maxClients:   maxClients,
		tickInterval: tickInterval,
		// room for a few ticks plus the snapshot before a viewer counts as slow
		bufferSize: messageBufferSize * max(1, len(table)),
	}
	go b.run()
	return b
}

// Register adds a viewer. The current snapshot of set channels is queued
// to it before it joins the tick fan-out, so no tick can interleave.
func (b *Broadcaster) Register(conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	b.cmdCh <- registerCmd{connection: conn, errorChannel: errCh}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a viewer and closes its writer.
func (b *Broadcaster) Unregister(conn *websocket.Conn) {
	b.cmdCh <- unregisterCmd{connection: conn}
}

// Send queues one event for a single viewer. Command responses go through
// here so the writer goroutine stays the only writer on the socket.
func (b *Broadcaster) Send(conn *websocket.Conn, event domain.Event) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Name, err)
	}

	errCh := make(chan error, 1)
	b.cmdCh <- sendCmd{connection: conn, frame: frame, errorChannel: errCh}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("send command timed out after %v", commandTimeout)
	}
}

// ClientCount returns the number of registered viewers, or -1 on timeout.
func (b *Broadcaster) ClientCount() int {
	replyCh := make(chan int, 1)
	b.cmdCh <- getClientCountCmd{replyChannel: replyCh}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop sends close frames to every viewer and waits for the actor to exit.
func (b *Broadcaster) Stop() {
	b.cmdCh <- stopCmd{}

	timeout := b.clock.NewTimer(b.stopTimeout)
	defer timeout.Stop()

	select {
	case <-b.done:
		slog.Info("Broadcaster stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Broadcaster stop timeout exceeded, forcing exit", "timeout", b.stopTimeout)
		metrics.BroadcasterStopTimeoutsTotal.Inc()
		slog.Error("Broadcaster goroutine may have leaked", "clients", len(b.clients))
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcaster panic recovered", "panic", r)
			metrics.BroadcasterPanicsTotal.Inc()
			b.closeAllClients("broadcaster panic")
		}
	}()

	ticker := b.clock.NewTicker(b.tickInterval)
	defer ticker.Stop()

	depthTicker := b.clock.NewTicker(depthInterval)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(b.cmdCh)
			metrics.BroadcasterCommandChannelDepth.Set(float64(depth))
			if depth > cap(b.cmdCh)*4/5 {
				slog.Warn("Command channel near capacity", "depth", depth, "capacity", cap(b.cmdCh))
			}

		case cmd := <-b.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				b.handleRegister(c)
			case unregisterCmd:
				b.handleUnregister(c.connection)
			case sendCmd:
				b.handleSend(c)
			case getClientCountCmd:
				c.replyChannel <- len(b.clients)
			case stopCmd:
				b.handleStop()
				return
			default:
				slog.Warn("Broadcaster received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}

		case <-ticker.Chan():
			b.handleTick()
		}
	}
}

func (b *Broadcaster) handleRegister(c registerCmd) {
	if len(b.clients) >= b.maxClients {
		slog.Warn("Rejecting client: max clients reached", "max_clients", b.maxClients)
		_ = c.connection.Close()
		c.errorChannel <- fmt.Errorf("max clients (%d) reached", b.maxClients)
		return
	}

	cw := newClientWriter(c.connection, b.clock, b.bufferSize)

	// Only channels that have a value; viewers render the rest as "no data
	// yet" until the next tick.
	queued := 0
	for _, cr := range b.source.Snapshot() {
		if !cr.Reading.Set {
			continue
		}
		frame, err := b.encode(cr)
		if err != nil {
			slog.Error("Failed to encode snapshot event", "channel", cr.Channel, "error", err)
			continue
		}
		cw.queue <- frame
		queued++
	}
	metrics.BroadcasterEventsTotal.WithLabelValues(eventKindSnapshot).Add(float64(queued))

	b.clients[c.connection] = cw
	metrics.BroadcasterConnectedClients.Set(float64(len(b.clients)))

	slog.Debug("Client registered", "snapshot_events", queued, "total_clients", len(b.clients))
	c.errorChannel <- nil
}

func (b *Broadcaster) handleUnregister(conn *websocket.Conn) {
	cw, exists := b.clients[conn]
	if !exists {
		return
	}

	cw.stop()
	delete(b.clients, conn)
	metrics.BroadcasterConnectedClients.Set(float64(len(b.clients)))

	slog.Debug("Client unregistered", "remaining_clients", len(b.clients))
}

func (b *Broadcaster) handleSend(c sendCmd) {
	cw, exists := b.clients[c.connection]
	if !exists {
		c.errorChannel <- ErrNotRegistered
		return
	}

	if _, ok := cw.enqueue([][]byte{c.frame}); !ok {
		slog.Warn("Disconnecting slow client on reply")
		metrics.BroadcasterSlowClientsEvicted.Inc()
		b.handleUnregister(c.connection)
		c.errorChannel <- errors.New("client send buffer full")
		return
	}
	metrics.BroadcasterEventsTotal.WithLabelValues(eventKindReply).Inc()
	c.errorChannel <- nil
}

// handleTick pushes every channel, unset ones included, to every viewer.
// Values that did not change are sent again.
func (b *Broadcaster) handleTick() {
	tickStart := b.clock.Now()
	defer func() {
		metrics.BroadcasterTickDuration.Observe(b.clock.Since(tickStart).Seconds())
	}()

	if len(b.clients) == 0 {
		return
	}

	snapshot := b.source.Snapshot()
	frames := make([][]byte, 0, len(snapshot))
	for _, cr := range snapshot {
		frame, err := b.encode(cr)
		if err != nil {
			slog.Error("Failed to encode broadcast event", "channel", cr.Channel, "error", err)
			continue
		}
		frames = append(frames, frame)
	}

	var slow []*websocket.Conn
	sent := 0
	for conn, writer := range b.clients {
		n, ok := writer.enqueue(frames)
		sent += n
		if !ok {
			slow = append(slow, conn)
		}
	}
	metrics.BroadcasterEventsTotal.WithLabelValues(eventKindTick).Add(float64(sent))

	for _, conn := range slow {
		slog.Warn("Disconnecting slow client")
		metrics.BroadcasterSlowClientsEvicted.Inc()
		b.handleUnregister(conn)
	}
}

func (b *Broadcaster) encode(cr domain.ChannelReading) ([]byte, error) {
	name, ok := b.table.Event(cr.Channel)
	if !ok {
		return nil, fmt.Errorf("no event for channel %q", cr.Channel)
	}

	var data any
	if cr.Reading.Set {
		data = cr.Reading.Value
	}
	return json.Marshal(domain.Event{Name: name, Data: data})
}

func (b *Broadcaster) handleStop() {
	total := len(b.clients)
	slog.Info("Broadcaster shutting down", "total_clients", total)
	b.closeAllClients("Server shutting down")
	slog.Info("Broadcaster shutdown complete", "disconnected_clients", total)
}

func (b *Broadcaster) closeAllClients(reason string) {
	for conn, cw := range b.clients {
		cw.stopGraceful(reason)
		delete(b.clients, conn)
	}
	metrics.BroadcasterConnectedClients.Set(0)
}
