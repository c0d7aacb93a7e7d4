package zeromq

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/UiS-Subsea/rov-bridge/pkg/command"
	"github.com/UiS-Subsea/rov-bridge/pkg/config"
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
	"github.com/pebbe/zmq4"
)

func ipcEndpoint(t *testing.T, name string) string {
	t.Helper()
	return "ipc://" + filepath.Join(t.TempDir(), name)
}

func TestDispatcherRoutesKnownKeys(t *testing.T) {
	d := NewMessageDispatcher(log.NewNopLogger())
	var got []string
	d.RegisterHandler("a", HandlerFunc(func(v json.RawMessage) error {
		got = append(got, "a:"+string(v))
		return nil
	}))
	d.RegisterHandler("b", HandlerFunc(func(json.RawMessage) error {
		return errors.New("boom")
	}))

	err := d.Dispatch([]byte(`{"b":2,"a":[1],"c":3}`))
	if err == nil {
		t.Fatalf("Expected handler error to surface")
	}
	if len(got) != 1 || got[0] != "a:[1]" {
		t.Errorf("Unexpected handler calls %v", got)
	}

	if err := d.Dispatch([]byte(`{"other":[1,2,3,4]}`)); !errors.Is(err, ErrUnknownMessageType) {
		t.Errorf("Expected ErrUnknownMessageType, got %v", err)
	}
	if err := d.Dispatch([]byte(`[1,2]`)); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Expected ErrInvalidMessage, got %v", err)
	}
}

func TestAutonomHandler(t *testing.T) {
	q := command.NewQueue()
	h := NewAutonomHandler(q, log.NewNopLogger())

	if err := h.HandleMessage(json.RawMessage(`[10,-20,30,5,99]`)); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	env, ok := q.Dequeue(context.Background())
	if !ok {
		t.Fatalf("Expected an envelope")
	}
	f, ok := env.Get(command.KindAutonomData)
	if !ok || len(f.Ints) != 4 || f.Ints[0] != 10 || f.Ints[1] != -20 || f.Ints[3] != 5 {
		t.Errorf("Unexpected autonom field %+v", f)
	}

	if err := h.HandleMessage(json.RawMessage(`[1,2,3]`)); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Expected short array to be rejected, got %v", err)
	}
	if err := h.HandleMessage(json.RawMessage(`"left"`)); !errors.Is(err, command.ErrInvalidValue) {
		t.Errorf("Expected string to be rejected, got %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Expected rejected messages to enqueue nothing")
	}

	q.Close()
	if err := h.HandleMessage(json.RawMessage(`[1,2,3,4]`)); !errors.Is(err, command.ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestServiceReceivesFromPushSocket(t *testing.T) {
	addr := ipcEndpoint(t, "autonom.ipc")
	logger := log.NewNopLogger()
	svc, err := NewZeroMQService(config.ZeroMQConfig{AutonomBindAddress: addr, PollTimeoutMs: 20}, logger)
	if err != nil {
		t.Fatalf("NewZeroMQService failed: %v", err)
	}
	if svc.HasPublisher() {
		t.Errorf("Expected no publisher without an address")
	}
	if err := svc.PublishMessage("telemetry.X", nil); !errors.Is(err, ErrServiceClosed) {
		t.Errorf("Expected ErrServiceClosed without publisher, got %v", err)
	}

	q := command.NewQueue()
	RegisterAutonomHandler(svc, q, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	push, err := zmq4.NewSocket(zmq4.PUSH)
	if err != nil {
		t.Fatalf("Failed to create PUSH socket: %v", err)
	}
	defer push.Close()
	push.SetLinger(0)
	if err := push.Connect(addr); err != nil {
		t.Fatalf("Failed to connect PUSH socket: %v", err)
	}

	for _, msg := range []string{`{"unknown":[1]}`, `not json`, `{"autonom_data":[1.4,2,3,4]}`} {
		if _, err := push.Send(msg, 0); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dcancel()
	env, ok := q.Dequeue(dctx)
	if !ok {
		t.Fatalf("Timed out waiting for autonom command")
	}
	if f, _ := env.Get(command.KindAutonomData); f.Value(0) != 1 || f.Value(3) != 4 {
		t.Errorf("Unexpected autonom field %+v", f)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil from Run, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	received, failed := svc.Stats()
	if received != 3 || failed != 2 {
		t.Errorf("Expected 3 received and 2 failed, got %d and %d", received, failed)
	}
	svc.Close()
	svc.Close()
}

func TestServicePublishesTelemetry(t *testing.T) {
	pubAddr := ipcEndpoint(t, "telemetry.ipc")
	svc, err := NewZeroMQService(config.ZeroMQConfig{
		AutonomBindAddress:      ipcEndpoint(t, "autonom.ipc"),
		TelemetryPublishAddress: pubAddr,
	}, log.NewNopLogger())
	if err != nil {
		t.Fatalf("NewZeroMQService failed: %v", err)
	}
	defer svc.Close()

	sub, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		t.Fatalf("Failed to create SUB socket: %v", err)
	}
	defer sub.Close()
	sub.SetLinger(0)
	sub.SetRcvtimeo(100 * time.Millisecond)
	if err := sub.Connect(pubAddr); err != nil {
		t.Fatalf("Failed to connect SUB socket: %v", err)
	}
	if err := sub.SetSubscribe("telemetry."); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	// PUB drops messages until the subscription has propagated.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := svc.PublishMessage("telemetry.COMTEMP", []byte(`{"Type":"COMTEMP","Com_temp":21}`)); err != nil {
			t.Fatalf("PublishMessage failed: %v", err)
		}
		topic, err := sub.Recv(0)
		if err != nil {
			continue
		}
		body, err := sub.RecvBytes(0)
		if err != nil {
			t.Fatalf("Failed to receive body: %v", err)
		}
		if topic != "telemetry.COMTEMP" || string(body) != `{"Type":"COMTEMP","Com_temp":21}` {
			t.Errorf("Unexpected message %s %s", topic, body)
		}
		return
	}
	t.Fatalf("Timed out waiting for published telemetry")
}
