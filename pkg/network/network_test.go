package network

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

var testHeartbeat = []byte(`"*"heartbeat"*"`)

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

// readUntil reads from conn until buf contains want.
func readUntil(t *testing.T, conn net.Conn, want []byte) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got []byte
	buf := make([]byte, 256)
	for !bytes.Contains(got, want) {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("Read failed while waiting for %q (got %q): %v", want, got, err)
		}
		got = append(got, buf[:n]...)
	}
	return got
}

func TestClientHeartbeatSendAndRead(t *testing.T) {
	vehicle, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer vehicle.Close()

	inbound := make(chan Chunk, 4)
	client := NewClient(ClientConfig{
		Address:           vehicle.Addr().String(),
		RetryDelay:        50 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		Heartbeat:         testHeartbeat,
	}, inbound, log.NewNopLogger())

	if err := client.Send([]byte("early")); err != ErrNotConnected {
		t.Errorf("Expected ErrNotConnected before connecting, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	conn, err := vehicle.Accept()
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	defer conn.Close()

	readUntil(t, conn, testHeartbeat)
	waitFor(t, "client connected", client.IsConnected)

	frame := []byte(`"*"[98,[5,0,0,0,0,0,0,0]]"*"`)
	if err := client.Send(frame); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	readUntil(t, conn, frame)

	if _, err := conn.Write([]byte(`"*"{"145":[20]}"*"`)); err != nil {
		t.Fatalf("Vehicle write failed: %v", err)
	}
	select {
	case chunk := <-inbound:
		if !bytes.Contains(chunk.Data, []byte("145")) || chunk.Stream == 0 {
			t.Errorf("Unexpected inbound chunk %+v", chunk)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("No inbound chunk from client connection")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil from Run on cancel, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if client.IsConnected() {
		t.Errorf("Expected client to be disconnected after cancel")
	}
}

func TestClientReconnectsAfterPeerClose(t *testing.T) {
	vehicle, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer vehicle.Close()

	client := NewClient(ClientConfig{
		Address:           vehicle.Addr().String(),
		RetryDelay:        20 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		Heartbeat:         testHeartbeat,
	}, nil, log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	first, err := vehicle.Accept()
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	readUntil(t, first, testHeartbeat)
	first.Close()

	second, err := vehicle.Accept()
	if err != nil {
		t.Fatalf("Second accept failed: %v", err)
	}
	defer second.Close()
	readUntil(t, second, testHeartbeat)
	waitFor(t, "client reconnected", client.IsConnected)
}

func TestClientRetriesUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	client := NewClient(ClientConfig{Address: addr, RetryDelay: 10 * time.Millisecond}, nil, log.NewNopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := client.Run(ctx); err != nil {
		t.Errorf("Expected nil from Run, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run took %v to notice cancellation", elapsed)
	}
	if client.IsConnected() {
		t.Errorf("Expected client never to connect")
	}
}

func TestServerPushesChunksAndReplacesConnection(t *testing.T) {
	inbound := make(chan Chunk, 8)
	server := NewServer(ServerConfig{ListenAddress: "127.0.0.1:0"}, inbound, log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	if err := server.Listen(ctx); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	first, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer first.Close()
	waitFor(t, "server connected", server.IsConnected)

	payload := []byte(`"*"{"129":[1,2,3,4,5,6,7,8]}"*"`)
	if _, err := first.Write(payload); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	var got []byte
	var firstStream uint64
	for len(got) < len(payload) {
		select {
		case chunk := <-inbound:
			if firstStream == 0 {
				firstStream = chunk.Stream
			} else if chunk.Stream != firstStream {
				t.Fatalf("Chunks of one connection changed stream %d -> %d", firstStream, chunk.Stream)
			}
			got = append(got, chunk.Data...)
		case <-time.After(3 * time.Second):
			t.Fatalf("Timed out waiting for inbound bytes, got %q", got)
		}
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Expected %q, got %q", payload, got)
	}

	second, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Second dial failed: %v", err)
	}
	defer second.Close()
	waitFor(t, "second accept", func() bool { return server.Accepted() == 2 })

	// The first connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := first.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("Expected EOF on replaced connection, got %v", err)
	}
	if !server.IsConnected() {
		t.Errorf("Expected server to stay connected through the newer connection")
	}
	select {
	case chunk := <-inbound:
		if !chunk.EOF || chunk.Stream != firstStream || len(chunk.Data) != 0 {
			t.Errorf("Expected end of stream %d, got %+v", firstStream, chunk)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("No end of stream for the replaced connection")
	}

	if _, err := second.Write([]byte(`"*"`)); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}
	select {
	case chunk := <-inbound:
		if chunk.Stream == firstStream || chunk.EOF {
			t.Errorf("Expected data on a new stream, got %+v", chunk)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("No data from the second connection")
	}

	second.Close()
	waitFor(t, "server disconnected", func() bool { return !server.IsConnected() })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil from Serve, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}
