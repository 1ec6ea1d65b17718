package main

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/picorelay/internal/domain"
	"github.com/pscheid92/picorelay/internal/platform/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableBroker has nothing listening; connects are refused at once.
const unreachableBroker = "tcp://127.0.0.1:1"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "capture.sh")
	require.NoError(t, os.WriteFile(script, []byte("echo captured\n"), 0o600))

	return &config.Config{
		AppEnv:                  "test",
		MQTTURL:                 unreachableBroker,
		MQTTClientID:            "picorelay-test",
		MQTTConnectTimeout:      100 * time.Millisecond,
		MQTTReconnectInterval:   time.Second,
		MQTTStartupWait:         200 * time.Millisecond,
		MQTTSubscribeAttempts:   1,
		DisplayTopic:            "display",
		OLEDTopic:               "pico/oled",
		BroadcastInterval:       time.Hour,
		MaxWebSocketConnections: 10,
		MaxConnectionsPerIP:     10,
		ConnectionRate:          100,
		ConnectionBurst:         100,
		PythonBin:               "sh",
		CaptureScript:           script,
		AnalyzeScript:           script,
		WorkerDir:               dir,
		AudioDir:                dir,
		AudioURLPath:            "/audio/output.wav",
	}
}

func startApp(t *testing.T) (*app, string) {
	t.Helper()
	a, err := newApp(testConfig(t), clockwork.NewRealClock())
	require.NoError(t, err, "a missing broker must not fail startup")
	t.Cleanup(a.stop)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = a.server.Serve(l) }()

	return a, l.Addr().String()
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestNewApp_StartsWithoutBroker(t *testing.T) {
	a, addr := startApp(t)

	assert.False(t, a.subscriber.Connected())

	status, body := getJSON(t, "http://"+addr+"/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "mqtt", body["failed_check"])

	status, _ = getJSON(t, "http://"+addr+"/health/live")
	assert.Equal(t, http.StatusOK, status)
}

func TestNewApp_WorkersRunWhileBrokerDown(t *testing.T) {
	_, addr := startApp(t)

	status, body := getJSON(t, "http://"+addr+"/take-photo")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "captured\n", body["output"])
}

func TestNewApp_PushChannelServesSnapshotWhileBrokerDown(t *testing.T) {
	a, addr := startApp(t)
	require.NoError(t, a.readings.Set(domain.ChannelTemperature, "22.0"))

	conn, _, err := ws.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"temp","data":"22.0"}`, string(msg))
}

func TestNewApp_PublishFailsFastWhileBrokerDown(t *testing.T) {
	_, addr := startApp(t)

	resp, err := http.Post("http://"+addr+"/update-text", "application/json", strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "publish", body["type"])
}

func TestNewApp_BadChannelFileFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.ChannelsFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := newApp(cfg, clockwork.NewRealClock())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel table")
}
