// Package ws implements the WebSocket adapter: it fans out broadcast.Event
// notifications from the Queue Engine to connected clients in real time.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/imq-dev/imq/internal/port/broadcast"
)

const subscriberCapacity = 64

// subscriber is a single registered receiver: either a WebSocket connection
// or a programmatic caller holding a broadcast.Subscription.
type subscriber struct {
	ch     chan broadcast.Event
	filter func(broadcast.Event) bool

	mu    sync.Mutex
	lossy bool
}

func (s *subscriber) matches(e broadcast.Event) bool {
	return s.filter == nil || s.filter(e)
}

// send is non-blocking: a full channel means a slow subscriber, so the
// oldest pending event is dropped to make room and the subscriber is
// marked lossy rather than ever blocking the broadcaster.
func (s *subscriber) send(e broadcast.Event) {
	select {
	case s.ch <- e:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- e:
	default:
	}
	s.mu.Lock()
	s.lossy = true
	s.mu.Unlock()
}

func (s *subscriber) isLossy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lossy
}

// Hub fans out events to all registered subscribers and serves the
// WebSocket upgrade endpoint. It implements broadcast.Broadcaster.
type Hub struct {
	mu          sync.RWMutex
	subs        map[*subscriber]struct{}
	allowOrigin string
}

var _ broadcast.Broadcaster = (*Hub)(nil)

// NewHub creates a WebSocket hub. A non-empty allowOrigin is used as the
// accepted origin pattern; an empty one keeps coder/websocket's default,
// which accepts only origins matching the request host.
func NewHub(allowOrigin string) *Hub {
	return &Hub{
		subs:        make(map[*subscriber]struct{}),
		allowOrigin: allowOrigin,
	}
}

// Subscribe registers a new subscriber. filter may be nil to match everything.
func (h *Hub) Subscribe(filter func(broadcast.Event) bool) *broadcast.Subscription {
	s := &subscriber{
		ch:     make(chan broadcast.Event, subscriberCapacity),
		filter: filter,
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	return &broadcast.Subscription{
		Events: s.ch,
		Lossy:  s.isLossy,
		Cancel: func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
		},
	}
}

// BroadcastEvent sends a typed event to every subscriber whose filter matches.
func (h *Hub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	e := broadcast.Event{Type: eventType, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.matches(e) {
			s.send(e)
		}
	}
}

// ConnectionCount returns the number of active subscribers (WebSocket or otherwise).
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// HandleWS upgrades the connection and streams every broadcast event to it
// as JSON until the client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if h.allowOrigin != "" {
		opts.OriginPatterns = []string{h.allowOrigin}
	}

	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.Subscribe(nil)
	defer sub.Cancel()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Read loop detects client disconnects; IMQ's protocol is server→client
	// only, so any received frame is discarded.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("websocket disconnected", "remote", r.RemoteAddr)
			return
		case e, ok := <-sub.Events:
			if !ok {
				return
			}
			msg := wireMessage{Type: e.Type, Payload: e.Payload, Lossy: sub.Lossy()}
			data, err := json.Marshal(msg)
			if err != nil {
				slog.Error("websocket marshal failed", "error", err)
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// wireMessage is the on-the-wire envelope for every WS message.
type wireMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
	Lossy   bool   `json:"lossy,omitempty"`
}
