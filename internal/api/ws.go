package api

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"fileconv/internal/task"
)

const wsWriteTimeout = 5 * time.Second

// removedVersion outranks every record version; nothing is sent after a removal.
const removedVersion uint64 = math.MaxUint64

type removedMessage struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}

// subscriber serializes writes; gorilla connections allow one writer at a time.
// Messages carry the record version and anything not newer than the last one
// sent is dropped, so a client never steps back to an older state.
type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
	sent bool
	last uint64
}

func (s *subscriber) send(v any, version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent && version <= s.last {
		return nil
	}
	s.sent, s.last = true, version
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}

// Hub fans task and batch events out to websocket subscribers keyed by id.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*subscriber]struct{}
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Publish converts a manager event to its wire form and broadcasts it.
func (h *Hub) Publish(ev task.Event) {
	if !h.hasSubscribers(ev.ID) {
		return
	}
	switch {
	case ev.Removed:
		h.broadcast(ev.ID, removedMessage{ID: ev.ID, Removed: true}, removedVersion)
	case ev.Batch != nil:
		h.broadcast(ev.ID, toBatchResponse(*ev.Batch), ev.Batch.Version)
	case ev.Task != nil:
		h.broadcast(ev.ID, toTaskResponse(*ev.Task), ev.Task.Version)
	}
}

// Serve upgrades the request and streams updates for id until the client
// goes away. snapshot is taken after subscribing so nothing is missed; it is
// dropped if a newer event already went out.
func (h *Hub) Serve(c *gin.Context, id string, snapshot func() (any, uint64, bool)) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("id", id).Msg("websocket upgrade failed")
		return
	}
	sub := &subscriber{conn: conn}
	h.subscribe(id, sub)
	defer func() {
		h.unsubscribe(id, sub)
		_ = conn.Close()
	}()

	current, version, ok := snapshot()
	if !ok {
		_ = sub.send(removedMessage{ID: id, Removed: true}, removedVersion)
		return
	}
	if err := sub.send(current, version); err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) subscribe(id string, sub *subscriber) {
	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[*subscriber]struct{})
	}
	h.subs[id][sub] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(id string, sub *subscriber) {
	h.mu.Lock()
	delete(h.subs[id], sub)
	if len(h.subs[id]) == 0 {
		delete(h.subs, id)
	}
	h.mu.Unlock()
}

func (h *Hub) hasSubscribers(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[id]) > 0
}

func (h *Hub) broadcast(id string, msg any, version uint64) {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs[id]))
	for s := range h.subs[id] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if err := s.send(msg, version); err != nil {
			h.unsubscribe(id, s)
			_ = s.conn.Close()
		}
	}
}
