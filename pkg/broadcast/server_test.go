package broadcast

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/UiS-Subsea/rov-bridge/pkg/command"
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

type fakeModes struct {
	mu    sync.Mutex
	modes []string
}

func (f *fakeModes) SetMode(mode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, mode)
	return nil
}

func (f *fakeModes) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.modes) == 0 {
		return ""
	}
	return f.modes[len(f.modes)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func startTestServer(t *testing.T, cfg Config) (*Server, string, *fiber.App) {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	server := NewServer(cfg, log.NewNopLogger())
	server.Start(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go app.Listener(ln)
	return server, "ws://" + ln.Addr().String() + server.cfg.Path, app
}

func TestObserverReceivesBacklogAndBroadcasts(t *testing.T) {
	server, url, app := startTestServer(t, Config{})
	defer app.Shutdown()

	if err := server.Broadcast([]map[string]string{{"Type": "first"}}, true); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	server.Broadcast([]map[string]string{{"Type": "second"}}, true)

	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	for _, want := range []string{`[{"Type":"first"}]`, `[{"Type":"second"}]`} {
		_, msg, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		if string(msg) != want {
			t.Errorf("Expected %s, got %s", want, msg)
		}
	}
	if server.Stats().Backlog != 0 {
		t.Errorf("Expected backlog to be flushed")
	}

	server.BroadcastRaw([]byte(`[{"Type":"COMTEMP","Com_temp":21}]`), false)
	_, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if string(msg) != `[{"Type":"COMTEMP","Com_temp":21}]` {
		t.Errorf("Unexpected broadcast %s", msg)
	}
}

func TestObserverMessagesReachQueueAndModes(t *testing.T) {
	server, url, app := startTestServer(t, Config{})
	defer app.Shutdown()

	queue := command.NewQueue()
	modes := &fakeModes{}
	RegisterCommandHandlers(server, queue, modes)

	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	client.WriteMessage(gorilla.TextMessage, []byte(`{"tilt":5}`))
	client.WriteMessage(gorilla.TextMessage, []byte(`{"reg_mode_setting":[0,1.5]}`))
	client.WriteMessage(gorilla.TextMessage, []byte(`{"Mode":"AUTO"}`))
	client.WriteMessage(gorilla.TextMessage, []byte(`{"unknown_key":1}`))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	env, ok := queue.Dequeue(ctx)
	if !ok {
		t.Fatalf("Expected tilt envelope")
	}
	if f, ok := env.Get(command.KindTilt); !ok || f.Value(0) != 5 {
		t.Errorf("Expected tilt [5], got %+v", env.Fields)
	}

	env, ok = queue.Dequeue(ctx)
	if !ok {
		t.Fatalf("Expected reg_mode_setting envelope")
	}
	if f, ok := env.Get(command.KindRegModeSetting); !ok || len(f.Floats) != 2 || f.Floats[1] != 1.5 {
		t.Errorf("Expected reg_mode_setting [0 1.5], got %+v", env.Fields)
	}

	waitFor(t, "mode switch", func() bool { return modes.last() == "AUTO" })
	waitFor(t, "unhandled key", func() bool { return server.Stats().Unhandled == 1 })
}

func TestShutdownClosesObservers(t *testing.T) {
	server, url, app := startTestServer(t, Config{CloseTimeout: 500 * time.Millisecond})
	defer app.Shutdown()

	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()
	waitFor(t, "observer registration", func() bool { return server.Registry().Len() == 1 })

	// The client must be reading to answer the close handshake.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	if err := server.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected graceful shutdown, got %v", err)
	}

	select {
	case err := <-readErr:
		if !gorilla.IsCloseError(err, gorilla.CloseGoingAway) {
			t.Errorf("Expected going-away close, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Client did not observe close")
	}
	waitFor(t, "registry drained", func() bool { return server.Registry().Len() == 0 })

	// New observers are turned away once shut down.
	late, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err == nil {
		defer late.Close()
		late.SetReadDeadline(time.Now().Add(3 * time.Second))
		if _, _, err := late.ReadMessage(); !gorilla.IsCloseError(err, gorilla.CloseGoingAway) {
			t.Errorf("Expected late observer to be closed, got %v", err)
		}
	}
	if server.Registry().Len() != 0 {
		t.Errorf("Expected no members after shutdown")
	}
}

func TestShutdownForceClosesUnresponsiveObservers(t *testing.T) {
	registry := NewClientRegistry()
	server := &Server{
		cfg:      Config{Path: DefaultPath, CloseTimeout: 50 * time.Millisecond},
		registry: registry,
		logger:   log.NewNopLogger(),
		handlers: make(map[string]MessageHandler),
	}
	conn := &fakeConn{}
	if _, err := registry.Add(conn); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := server.Shutdown(context.Background()); err == nil {
		t.Errorf("Expected error reporting force-closed observer")
	}
	if conn.controls != 1 || conn.closed != 1 {
		t.Errorf("Expected one close frame and one abort, got %d and %d", conn.controls, conn.closed)
	}
	if registry.Len() != 0 || server.Stats().ForceClosed != 1 {
		t.Errorf("Expected member removed by force, stats %+v", server.Stats())
	}

	// Second call is a no-op.
	if err := server.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected repeated Shutdown to be a no-op, got %v", err)
	}
}
