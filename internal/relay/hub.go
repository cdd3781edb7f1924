package relay

import (
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
	"github.com/sirupsen/logrus"
)

const (
	flushTimeout = time.Second
	sendQueue    = 256
	writeTimeout = 10 * time.Second
)

// member is one joined connection. Envelopes for it go through a buffered
// queue drained by a single writer goroutine.
type member struct {
	conn     signaling.Conn
	done     chan struct{}
	peerID   string
	room     string
	username string

	mu     sync.Mutex
	closed bool
	send   chan protocol.Envelope
}

func newMember(conn signaling.Conn, peerID, username, room string, logger *logrus.Logger) *member {
	m := &member{
		conn:     conn,
		done:     make(chan struct{}),
		peerID:   peerID,
		room:     room,
		send:     make(chan protocol.Envelope, sendQueue),
		username: username,
	}

	go func() {
		defer close(m.done)
		for env := range m.send {
			if err := conn.WriteEnvelope(env, time.Now().Add(writeTimeout)); err != nil {
				logger.Debugf("Failed to write %s to %s: %v", env.Kind, peerID, err)
				return
			}
		}
	}()
	return m
}

// enqueue queues env without blocking. A full or closed queue drops it.
func (m *member) enqueue(env protocol.Envelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	select {
	case m.send <- env:
		return true
	default:
		return false
	}
}

// close stops the writer after it flushed what is queued.
func (m *member) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.send)
	m.mu.Unlock()

	select {
	case <-m.done:
	case <-time.After(flushTimeout):
	}
}

type hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*member
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[string]*member)}
}

func (h *hub) add(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[m.room] == nil {
		h.rooms[m.room] = make(map[string]*member)
	}
	h.rooms[m.room][m.peerID] = m
}

func (h *hub) remove(m *member) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[m.room]
	if !ok || members[m.peerID] != m {
		return false
	}
	delete(members, m.peerID)
	if len(members) == 0 {
		delete(h.rooms, m.room)
	}
	return true
}

func (h *hub) get(room, peerID string) *member {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[room][peerID]
}

func (h *hub) others(room, peerID string) []*member {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*member, 0, len(h.rooms[room]))
	for id, m := range h.rooms[room] {
		if id != peerID {
			out = append(out, m)
		}
	}
	return out
}

func (h *hub) all() []*member {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*member
	for _, members := range h.rooms {
		for _, m := range members {
			out = append(out, m)
		}
	}
	return out
}
