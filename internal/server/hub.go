package server

import (
	"sync"

	"github.com/orderdeck/orderdeck/internal/events"
	"github.com/orderdeck/orderdeck/internal/model"
)

// frame is one rendered wire message queued for a connection's write loop.
type frame struct {
	eventID string
	body    []byte // JSON message: {"type":...,"data":...,"timestamp":...}
}

// streamConn pairs a registered connection with its delivery channel. The
// write loop in the SSE handler owns the connection; the hub only holds a
// non-owning index for fan-out.
type streamConn struct {
	info *model.Connection
	ch   chan frame
	done chan struct{}

	closeOnce sync.Once
}

// close signals the connection's write loop to stop. Safe to call more than
// once.
func (c *streamConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// hub is the connection registry plus the fan-out half of the stream
// multiplexer. All registry mutations go through the mutex; fan-out holds the
// read lock only.
type hub struct {
	roleFilter RoleFilter

	mu    sync.RWMutex
	conns map[string]*streamConn
}

func newHub(roleFilter RoleFilter) *hub {
	return &hub{
		roleFilter: roleFilter,
		conns:      make(map[string]*streamConn),
	}
}

// register adds a connection to the registry and returns its stream handle.
func (h *hub) register(info *model.Connection) *streamConn {
	c := &streamConn{
		info: info,
		ch:   make(chan frame, 64),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[info.ConnectionID] = c
	h.mu.Unlock()
	return c
}

// unregister removes a connection and signals its write loop. Idempotent:
// unknown IDs are a no-op, so teardown after a write failure never errors.
func (h *hub) unregister(connectionID string) {
	h.mu.Lock()
	c, ok := h.conns[connectionID]
	if ok {
		delete(h.conns, connectionID)
	}
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// fanOut delivers one envelope to every registered connection that passes the
// permission filter. The message body is rendered once and shared. A slow
// consumer has the frame dropped rather than blocking delivery to others; a
// dead consumer is torn down by its own write loop, never from here.
func (h *hub) fanOut(env *events.Envelope) {
	body, err := renderEventMessage(env)
	if err != nil {
		return
	}
	f := frame{eventID: env.EventID, body: body}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if !canReceive(c.info, env, h.roleFilter) {
			continue
		}
		select {
		case c.ch <- f:
		case <-c.done:
		default:
			// Drop if the client is slow; durable rows cover the gap.
		}
	}
}

// closeAll signals every registered connection to shut down and empties the
// registry. Used during process shutdown so clients get an explicit close.
func (h *hub) closeAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*streamConn)
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// len returns the number of open connections.
func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// registered reports whether a connection ID is currently in the registry.
func (h *hub) registered(connectionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[connectionID]
	return ok
}
