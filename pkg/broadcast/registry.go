// Package broadcast fans telemetry out to observer WebSocket clients and
// routes observer messages back into the command queue.
package broadcast

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	deadlock "github.com/sasha-s/go-deadlock"
)

// ErrRegistryClosed is returned by Add after Close.
var ErrRegistryClosed = errors.New("client registry is closed")

// WebSocket message types, matching RFC 6455 opcodes.
const (
	TextMessage  = 1
	CloseMessage = 8
)

// Conn is the part of a WebSocket connection the registry writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Member is one registered observer.
type Member struct {
	ID   uuid.UUID
	conn Conn

	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

func (m *Member) write(msg []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.WriteMessage(TextMessage, msg)
}

// Finish marks the member's receive loop as ended.
func (m *Member) Finish() {
	m.doneOnce.Do(func() { close(m.done) })
}

// Done is closed once the member's receive loop has ended.
func (m *Member) Done() <-chan struct{} {
	return m.done
}

// ClientRegistry is the live observer set plus the backlog of messages
// kept while nobody is connected. A member is present only while open.
type ClientRegistry struct {
	mu      deadlock.Mutex
	members map[uuid.UUID]*Member
	backlog [][]byte
	closed  bool
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{members: make(map[uuid.UUID]*Member)}
}

// Add registers conn and flushes the backlog to it in order before any
// later broadcast can reach it. The backlog is cleared even when a flush
// write fails, in which case the member is removed again.
func (r *ClientRegistry) Add(conn Conn) (*Member, error) {
	m := &Member{ID: uuid.New(), conn: conn, done: make(chan struct{})}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	pending := r.backlog
	r.backlog = nil
	m.writeMu.Lock()
	r.members[m.ID] = m
	r.mu.Unlock()

	var flushErr error
	for _, msg := range pending {
		if flushErr = m.conn.WriteMessage(TextMessage, msg); flushErr != nil {
			break
		}
	}
	m.writeMu.Unlock()

	if flushErr != nil {
		r.Remove(m.ID)
		return nil, flushErr
	}
	return m, nil
}

// Remove drops the member with id. It reports true only for the call that
// actually removed it, so concurrent removals are harmless.
func (r *ClientRegistry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	return true
}

// Broadcast writes msg to every member. With ensureDelivery and no members
// the message is appended to the backlog instead. Members whose write fails
// are removed and closed. It returns the number of successful writes.
func (r *ClientRegistry) Broadcast(msg []byte, ensureDelivery bool) int {
	r.mu.Lock()
	if len(r.members) == 0 {
		if ensureDelivery && !r.closed {
			r.backlog = append(r.backlog, msg)
		}
		r.mu.Unlock()
		return 0
	}
	targets := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		targets = append(targets, m)
	}
	r.mu.Unlock()

	delivered := 0
	for _, m := range targets {
		if err := m.write(msg); err != nil {
			if r.Remove(m.ID) {
				m.conn.Close()
			}
			continue
		}
		delivered++
	}
	return delivered
}

// Len returns the number of registered members.
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// BacklogLen returns the number of messages waiting for a first client.
func (r *ClientRegistry) BacklogLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.backlog)
}

// Close rejects further Adds and returns the members registered at that
// moment. Members stay registered until their receive loops remove them.
func (r *ClientRegistry) Close() []*Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	members := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	return members
}
