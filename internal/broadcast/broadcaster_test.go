package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/picorelay/internal/domain"
	"github.com/pscheid92/picorelay/internal/platform/channels"
	"github.com/pscheid92/picorelay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// actorTickers is the number of tickers the actor goroutine holds.
const actorTickers = 2

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(func() { srv.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}

// testBroadcaster starts a broadcaster on a fake clock anchored at the real
// time, so socket deadlines derived from it stay in the future.
func testBroadcaster(t *testing.T, maxClients int) (*Broadcaster, *store.Store, *clockwork.FakeClock) {
	t.Helper()
	table := channels.Default()
	st := store.New(table.Channels())
	clock := clockwork.NewFakeClockAt(time.Now())

	b := NewBroadcaster(st, table, clock, maxClients, time.Second)
	t.Cleanup(b.Stop)
	blockUntil(t, clock, actorTickers)
	return b, st, clock
}

func register(t *testing.T, b *Broadcaster, clock *clockwork.FakeClock, clients int) *ws.Conn {
	t.Helper()
	server, client := newTestConnPair(t)
	require.NoError(t, b.Register(server))
	// each writer adds a ping ticker
	blockUntil(t, clock, actorTickers+clients)
	return client
}

func blockUntil(t *testing.T, clock *clockwork.FakeClock, waiters int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, waiters))
}

func readFrame(t *testing.T, conn *ws.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var f frame
	require.NoError(t, json.Unmarshal(msg, &f))
	return f
}

func readTick(t *testing.T, conn *ws.Conn) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for range channels.Default() {
		f := readFrame(t, conn)
		out[f.Event] = string(f.Data)
	}
	return out
}

func TestBroadcaster_TickIncludesUnsetChannels(t *testing.T) {
	b, st, clock := testBroadcaster(t, 10)
	client := register(t, b, clock, 1)

	st.Set(domain.ChannelDistance, "17")
	clock.Advance(time.Second)

	got := readTick(t, client)
	assert.Equal(t, map[string]string{
		"temp":       "null",
		"humidity":   "null",
		"ultrasonic": `"17"`,
		"light":      "null",
	}, got)
}

func TestBroadcaster_TickOrderFollowsTable(t *testing.T) {
	b, _, clock := testBroadcaster(t, 10)
	client := register(t, b, clock, 1)

	clock.Advance(time.Second)

	for _, binding := range channels.Default() {
		assert.Equal(t, binding.Event, readFrame(t, client).Event)
	}
}

func TestBroadcaster_SnapshotOnRegister(t *testing.T) {
	b, st, clock := testBroadcaster(t, 10)
	st.Set(domain.ChannelTemperature, "23.5")
	st.Set(domain.ChannelLight, "")

	client := register(t, b, clock, 1)

	// only set channels, before any tick; an empty payload is still set
	first := readFrame(t, client)
	second := readFrame(t, client)
	assert.Equal(t, frame{Event: "temp", Data: json.RawMessage(`"23.5"`)}, first)
	assert.Equal(t, frame{Event: "light", Data: json.RawMessage(`""`)}, second)

	clock.Advance(time.Second)
	tick := readTick(t, client)
	assert.Equal(t, `"23.5"`, tick["temp"])
	assert.Equal(t, "null", tick["humidity"])
}

func TestBroadcaster_SnapshotEmptyStoreSendsNothing(t *testing.T) {
	b, _, clock := testBroadcaster(t, 10)
	client := register(t, b, clock, 1)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := client.ReadMessage()
	assert.Error(t, err, "no frames expected before the first tick")
}

func TestBroadcaster_BurstCoalescedToLatest(t *testing.T) {
	b, st, clock := testBroadcaster(t, 10)
	client := register(t, b, clock, 1)

	st.Set(domain.ChannelTemperature, "23.5")
	st.Set(domain.ChannelTemperature, "24.1")
	clock.Advance(time.Second)

	assert.Equal(t, `"24.1"`, readTick(t, client)["temp"])
}

func TestBroadcaster_UnchangedValueRepeated(t *testing.T) {
	b, st, clock := testBroadcaster(t, 10)
	client := register(t, b, clock, 1)
	st.Set(domain.ChannelHumidity, "41")

	clock.Advance(time.Second)
	first := readTick(t, client)
	clock.Advance(time.Second)
	second := readTick(t, client)

	assert.Equal(t, first, second)
	assert.Equal(t, `"41"`, second["humidity"])
}

func TestBroadcaster_MultipleClients(t *testing.T) {
	b, st, clock := testBroadcaster(t, 10)
	c1 := register(t, b, clock, 1)
	c2 := register(t, b, clock, 2)
	assert.Equal(t, 2, b.ClientCount())

	st.Set(domain.ChannelTemperature, "20")
	clock.Advance(time.Second)

	assert.Equal(t, `"20"`, readTick(t, c1)["temp"])
	assert.Equal(t, `"20"`, readTick(t, c2)["temp"])
}

func TestBroadcaster_MaxClients(t *testing.T) {
	b, _, clock := testBroadcaster(t, 1)
	register(t, b, clock, 1)

	server, _ := newTestConnPair(t)
	err := b.Register(server)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max clients")
	assert.Equal(t, 1, b.ClientCount())
}

func TestBroadcaster_Unregister(t *testing.T) {
	b, _, clock := testBroadcaster(t, 10)
	server, _ := newTestConnPair(t)
	require.NoError(t, b.Register(server))
	blockUntil(t, clock, actorTickers+1)

	b.Unregister(server)

	assert.Equal(t, 0, b.ClientCount())
	// unknown connections are ignored
	b.Unregister(server)
	assert.Equal(t, 0, b.ClientCount())
}

func TestBroadcaster_SendReachesOnlyTarget(t *testing.T) {
	b, _, clock := testBroadcaster(t, 10)
	server1, client1 := newTestConnPair(t)
	require.NoError(t, b.Register(server1))
	server2, client2 := newTestConnPair(t)
	require.NoError(t, b.Register(server2))
	blockUntil(t, clock, actorTickers+2)

	err := b.Send(server1, domain.Event{Name: domain.EventPictureTaken, Data: map[string]any{"success": true, "message": "Picture taken!"}})
	require.NoError(t, err)

	got := readFrame(t, client1)
	assert.Equal(t, domain.EventPictureTaken, got.Event)
	assert.JSONEq(t, `{"success":true,"message":"Picture taken!"}`, string(got.Data))

	require.NoError(t, client2.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = client2.ReadMessage()
	assert.Error(t, err, "other viewers must not see the reply")
}

func TestBroadcaster_SendUnregistered(t *testing.T) {
	b, _, _ := testBroadcaster(t, 10)
	server, _ := newTestConnPair(t)

	err := b.Send(server, domain.Event{Name: domain.EventOLEDAck})
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestBroadcaster_NoClientsNoPanic(t *testing.T) {
	_, st, clock := testBroadcaster(t, 10)
	st.Set(domain.ChannelTemperature, "1")
	clock.Advance(5 * time.Second)
}

func TestBroadcaster_StopSendsCloseFrame(t *testing.T) {
	table := channels.Default()
	clock := clockwork.NewFakeClockAt(time.Now())
	b := NewBroadcaster(store.New(table.Channels()), table, clock, 10, time.Second)

	server, client := newTestConnPair(t)
	require.NoError(t, b.Register(server))

	b.Stop()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseNormalClosure, closeErr.Code)
	assert.Contains(t, closeErr.Text, "shutting down")
}

func TestBroadcaster_StopIdempotent(t *testing.T) {
	table := channels.Default()
	b := NewBroadcaster(store.New(table.Channels()), table, clockwork.NewRealClock(), 10, time.Second)

	b.Stop()
	b.Stop()
}
