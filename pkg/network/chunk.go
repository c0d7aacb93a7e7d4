package network

import (
	"context"
	"sync/atomic"
)

// Chunk is one read from a vehicle connection. Stream identifies the
// connection and is unique across the client and server roles. The last
// chunk of every connection has EOF set and carries no data.
type Chunk struct {
	Stream uint64
	Data   []byte
	EOF    bool
}

var lastStream atomic.Uint64

func nextStream() uint64 {
	return lastStream.Add(1)
}

// sendEOF tells the consumer that stream has ended. It gives up only when
// ctx is cancelled, in which case the consumer is shutting down anyway.
func sendEOF(ctx context.Context, inbound chan<- Chunk, stream uint64) {
	if inbound == nil {
		return
	}
	select {
	case inbound <- Chunk{Stream: stream, EOF: true}:
	case <-ctx.Done():
	}
}
