package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/picorelay/internal/broadcast"
	"github.com/pscheid92/picorelay/internal/command"
	"github.com/pscheid92/picorelay/internal/platform/channels"
	"github.com/pscheid92/picorelay/internal/platform/config"
	"github.com/pscheid92/picorelay/internal/store"
	"github.com/pscheid92/picorelay/internal/worker"
	"github.com/stretchr/testify/require"
)

// --- Fakes ---

type publishCall struct {
	topic   string
	payload string
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, topic, payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{topic: topic, payload: payload})
	return p.err
}

func (p *fakePublisher) Calls() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishCall(nil), p.calls...)
}

type fakeRunner struct {
	mu     sync.Mutex
	result worker.Result
	err    error
	runs   []worker.Invocation
	ctxs   []context.Context

	// when set, Run signals started and blocks until release is closed
	started chan struct{}
	release chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, inv worker.Invocation) (worker.Result, error) {
	r.mu.Lock()
	r.runs = append(r.runs, inv)
	r.ctxs = append(r.ctxs, ctx)
	started, release := r.started, r.release
	r.mu.Unlock()

	if release != nil {
		close(started)
		<-release
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return worker.Result{ExitCode: -1}, err
	}
	return r.result, r.err
}

func (r *fakeRunner) Contexts() []context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]context.Context(nil), r.ctxs...)
}

func (r *fakeRunner) Runs() []worker.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]worker.Invocation(nil), r.runs...)
}

// --- Test harness ---

type testEnv struct {
	server    *Server
	http      *httptest.Server
	store     *store.Store
	publisher *fakePublisher
	runner    *fakeRunner
	audioDir  string
}

type testOption func(*config.Config, *[]HealthCheck)

func withConnectionCaps(global, perIP int) testOption {
	return func(cfg *config.Config, _ *[]HealthCheck) {
		cfg.MaxWebSocketConnections = global
		cfg.MaxConnectionsPerIP = perIP
	}
}

func withHealthChecks(checks ...HealthCheck) testOption {
	return func(_ *config.Config, hc *[]HealthCheck) {
		*hc = checks
	}
}

func newTestEnv(t *testing.T, opts ...testOption) *testEnv {
	t.Helper()

	audioDir := t.TempDir()
	cfg := &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		DisplayTopic:            "display",
		OLEDTopic:               "pico/oled",
		BroadcastInterval:       time.Hour,
		MaxWebSocketConnections: 10,
		MaxConnectionsPerIP:     10,
		ConnectionRate:          100,
		ConnectionBurst:         100,
		PythonBin:               "python3",
		CaptureScript:           "capture.py",
		AnalyzeScript:           "analyze.py",
		AudioDir:                audioDir,
		AudioURLPath:            "/audio/output.wav",
	}
	var checks []HealthCheck
	for _, opt := range opts {
		opt(cfg, &checks)
	}

	clock := clockwork.NewRealClock()
	table := channels.Default()
	st := store.New(table.Channels())

	hub := broadcast.NewBroadcaster(st, table, clock, cfg.MaxWebSocketConnections, cfg.BroadcastInterval)
	t.Cleanup(hub.Stop)

	pub := &fakePublisher{}
	runner := &fakeRunner{}
	orch := command.NewOrchestrator(command.Config{
		DisplayTopic:  cfg.DisplayTopic,
		OLEDTopic:     cfg.OLEDTopic,
		PythonBin:     cfg.PythonBin,
		CaptureScript: cfg.CaptureScript,
		AnalyzeScript: cfg.AnalyzeScript,
		AudioURLPath:  cfg.AudioURLPath,
	}, pub, runner, clock)

	srv := NewServer(cfg, hub, orch, clock, checks)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testEnv{
		server:    srv,
		http:      ts,
		store:     st,
		publisher: pub,
		runner:    runner,
		audioDir:  audioDir,
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}
