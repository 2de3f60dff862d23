package realtime_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/cadence/internal/generation"
	"github.com/kiranshivaraju/cadence/internal/realtime"
	"github.com/kiranshivaraju/cadence/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastTiming = generation.Timing{TickInterval: 2 * time.Millisecond, TotalDuration: 40 * time.Millisecond}

// --- recording starter ---

type fakeStarter struct {
	mu        sync.Mutex
	started   []models.StartGeneration
	cancelled []string
	sinks     []generation.Sink
}

func (f *fakeStarter) Start(owner, id, prompt string, sink generation.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		return generation.ErrInvalidStart
	}
	f.started = append(f.started, models.StartGeneration{ID: id, Prompt: prompt})
	f.sinks = append(f.sinks, sink)
	return nil
}

func (f *fakeStarter) CancelOwner(owner string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, owner)
	return 0
}

func (f *fakeStarter) startedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func (f *fakeStarter) cancelledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

// --- helpers ---

type updates struct {
	mu   sync.Mutex
	list []models.GenerationUpdate
}

func (u *updates) add(x models.GenerationUpdate) {
	u.mu.Lock()
	u.list = append(u.list, x)
	u.mu.Unlock()
}

func (u *updates) snapshot() []models.GenerationUpdate {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]models.GenerationUpdate(nil), u.list...)
}

func (u *updates) terminal(id string) (models.GenerationUpdate, bool) {
	for _, x := range u.snapshot() {
		if x.ID == id && x.Status.Terminal() {
			return x, true
		}
	}
	return models.GenerationUpdate{}, false
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func runClient(t *testing.T, c *realtime.Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, c.WaitConnected(waitCtx))
}

func newHubServer(t *testing.T, starter realtime.Starter, opts ...realtime.HubOption) (*realtime.Hub, *httptest.Server) {
	t.Helper()
	hub := realtime.NewHub(starter, opts...)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

// --- tests ---

func TestClientAndHub_StreamsGenerationToCompletion(t *testing.T) {
	registry := generation.NewRegistry(fastTiming)
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })
	_, srv := newHubServer(t, registry)

	got := &updates{}
	client := realtime.NewClient(wsURL(srv), realtime.WithUpdateHandler(got.add))
	runClient(t, client)

	require.NoError(t, client.StartGeneration("gen_1", "a calm piano piece"))

	require.Eventually(t, func() bool {
		_, ok := got.terminal("gen_1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	final, _ := got.terminal("gen_1")
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, "/audio/generated-gen_1.mp3", final.AudioURL)
	assert.Equal(t, "A Calm Piano Piece", final.Title)

	last := -1
	for _, u := range got.snapshot() {
		assert.GreaterOrEqual(t, u.Progress, last, "progress went backwards")
		last = u.Progress
	}
}

func TestClientAndHub_FailedPrompt(t *testing.T) {
	registry := generation.NewRegistry(fastTiming, generation.WithFaults(generation.DefaultFaults()))
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })
	_, srv := newHubServer(t, registry)

	got := &updates{}
	client := realtime.NewClient(wsURL(srv), realtime.WithUpdateHandler(got.add))
	runClient(t, client)

	require.NoError(t, client.StartGeneration("gen_2", "this should have failed"))

	require.Eventually(t, func() bool {
		_, ok := got.terminal("gen_2")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	final, _ := got.terminal("gen_2")
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, 40, final.Progress)
	assert.NotEmpty(t, final.Error)
	assert.Empty(t, final.AudioURL)
}

func TestHub_DisconnectCancelsOwnedRuns(t *testing.T) {
	starter := &fakeStarter{}
	_, srv := newHubServer(t, starter)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(mustEnvelope(t, models.EventStartGeneration, models.StartGeneration{ID: "gen_1", Prompt: "x"})))
	require.Eventually(t, func() bool { return starter.startedCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool { return starter.cancelledCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHub_DisconnectStopsRegistryRuns(t *testing.T) {
	slow := generation.Timing{TickInterval: 10 * time.Millisecond, TotalDuration: 10 * time.Second}
	registry := generation.NewRegistry(slow)
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })
	_, srv := newHubServer(t, registry)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(mustEnvelope(t, models.EventStartGeneration, models.StartGeneration{ID: "gen_1", Prompt: "x"})))
	require.Eventually(t, func() bool { return registry.IsActive("gen_1") }, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool { return registry.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_IgnoresMalformedFrames(t *testing.T) {
	starter := &fakeStarter{}
	hub, srv := newHubServer(t, starter)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, ws.WriteJSON(mustEnvelope(t, "mystery-event", map[string]string{"a": "b"})))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"start-generation","data":"nope"}`)))
	require.NoError(t, ws.WriteJSON(mustEnvelope(t, models.EventStartGeneration, models.StartGeneration{Prompt: "no id"})))
	require.NoError(t, ws.WriteJSON(mustEnvelope(t, models.EventStartGeneration, models.StartGeneration{ID: "gen_ok", Prompt: "fine"})))

	require.Eventually(t, func() bool { return starter.startedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.Connections())
}

func TestHub_SinkDeliversInOrder(t *testing.T) {
	starter := &fakeStarter{}
	_, srv := newHubServer(t, starter)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteJSON(mustEnvelope(t, models.EventStartGeneration, models.StartGeneration{ID: "gen_1", Prompt: "x"})))
	require.Eventually(t, func() bool { return starter.startedCount() == 1 }, time.Second, 5*time.Millisecond)

	starter.mu.Lock()
	sink := starter.sinks[0]
	starter.mu.Unlock()
	for p := 0; p <= 50; p += 10 {
		require.NoError(t, sink.Send(context.Background(), models.GenerationUpdate{ID: "gen_1", Status: models.StatusGenerating, Progress: p}))
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for p := 0; p <= 50; p += 10 {
		var env models.Envelope
		require.NoError(t, ws.ReadJSON(&env))
		assert.Equal(t, models.EventGenerationUpdate, env.Event)
		assert.Contains(t, string(env.Data), `"progress":`)
	}
}

func TestHub_SinkFailsAfterDisconnect(t *testing.T) {
	starter := &fakeStarter{}
	_, srv := newHubServer(t, starter)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(mustEnvelope(t, models.EventStartGeneration, models.StartGeneration{ID: "gen_1", Prompt: "x"})))
	require.Eventually(t, func() bool { return starter.startedCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return starter.cancelledCount() == 1 }, time.Second, 5*time.Millisecond)

	starter.mu.Lock()
	sink := starter.sinks[0]
	starter.mu.Unlock()
	err = sink.Send(context.Background(), models.GenerationUpdate{ID: "gen_1"})
	assert.ErrorIs(t, err, realtime.ErrConnectionClosed)
}

func TestHub_RejectsDisallowedOrigin(t *testing.T) {
	_, srv := newHubServer(t, &fakeStarter{}, realtime.WithAllowedOrigins([]string{"http://localhost:3000"}))

	header := http.Header{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": {"http://localhost:3000"}}
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)
	_ = ws.Close()
}

func TestClient_StartGenerationWhileDisconnected(t *testing.T) {
	client := realtime.NewClient("ws://127.0.0.1:1/socket")
	assert.False(t, client.IsConnected())
	assert.ErrorIs(t, client.StartGeneration("gen_1", "x"), realtime.ErrDisconnected)
}

func TestClient_ReconnectsAndFiresOnConnect(t *testing.T) {
	var accepted atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the first connection straight away; hold the second open.
		if accepted.Add(1) == 1 {
			_ = ws.Close()
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var connects atomic.Int32
	client := realtime.NewClient(wsURL(srv),
		realtime.WithBackoff(time.Millisecond, 10*time.Millisecond),
		realtime.WithOnConnect(func() { connects.Add(1) }),
	)
	runClient(t, client)

	require.Eventually(t, func() bool { return connects.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)
}

func TestClient_RetriesUntilServerAppears(t *testing.T) {
	var ready atomic.Bool
	registry := generation.NewRegistry(fastTiming)
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })
	hub := realtime.NewHub(registry)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		hub.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	client := realtime.NewClient(wsURL(srv), realtime.WithBackoff(time.Millisecond, 5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = client.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(20 * time.Millisecond)
	assert.False(t, client.IsConnected())

	ready.Store(true)
	require.Eventually(t, client.IsConnected, 2*time.Second, 5*time.Millisecond)
}

func TestClient_RunReturnsOnCancel(t *testing.T) {
	_, srv := newHubServer(t, &fakeStarter{})
	client := realtime.NewClient(wsURL(srv))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- client.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, client.WaitConnected(waitCtx))

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, client.IsConnected())
}

func mustEnvelope(t *testing.T, event string, payload any) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(event, payload)
	require.NoError(t, err)
	return env
}
