// Package realtime is the room-based publish/subscribe channel shared by the
// front-desk kiosks and the classroom consoles.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fernandonovaluz/escola-backend/internal/metrics"
)

const (
	clientBuffer   = 64
	outboundBuffer = 256
	eventTimeout   = 10 * time.Second

	relayRetryMin = 500 * time.Millisecond
	relayRetryMax = 30 * time.Second
)

var ErrInvalidRoom = errors.New("invalid class id")

// Handler processes an inbound client event. A returned error is reported
// back to that client only.
type Handler func(ctx context.Context, c *Client, data json.RawMessage) error

// Hub tracks connected clients and their rooms. Publishing never blocks: a
// client whose buffer is full misses the frame.
type Hub struct {
	id string

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	hmu      sync.RWMutex
	handlers map[string]Handler

	broker   Broker
	outbound chan Envelope

	retryMin  time.Duration
	retryMax  time.Duration
	keepalive keepalive
}

// NewHub creates a hub. broker may be nil when a single instance serves all clients.
func NewHub(broker Broker) *Hub {
	return &Hub{
		id:        uuid.NewString(),
		clients:   make(map[*Client]struct{}),
		rooms:     make(map[string]map[*Client]struct{}),
		handlers:  make(map[string]Handler),
		broker:    broker,
		outbound:  make(chan Envelope, outboundBuffer),
		retryMin:  relayRetryMin,
		retryMax:  relayRetryMax,
		keepalive: keepalive{pongWait: pongWait, pingPeriod: pingPeriod},
	}
}

// ID identifies this hub on the broker.
func (h *Hub) ID() string { return h.id }

// Handle registers fn for inbound events named event.
func (h *Hub) Handle(event string, fn Handler) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	h.handlers[event] = fn
}

// Publish sends evt to every member of room, here and on other instances.
func (h *Hub) Publish(room string, evt Event) {
	if room == "" {
		slog.Warn("realtime: publish without room", "event", evt.Name)
		return
	}
	h.publish(room, evt)
}

// Broadcast sends evt to every connected client.
func (h *Hub) Broadcast(evt Event) {
	h.publish("", evt)
}

func (h *Hub) publish(room string, evt Event) {
	frame, err := encode(evt)
	if err != nil {
		slog.Error("realtime: encode event", "event", evt.Name, "error", err)
		return
	}
	h.deliver(room, frame)

	if h.broker == nil {
		return
	}
	select {
	case h.outbound <- Envelope{Origin: h.id, Room: room, Frame: frame}:
	default:
		metricsDropped("outbound")
	}
}

func (h *Hub) deliver(room string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.clients
	if room != "" {
		targets = h.rooms[room]
	}
	for c := range targets {
		c.enqueue(frame)
	}
}

// Run relays envelopes to and from the broker until ctx ends. A failed or
// closed subscription is retried with exponential backoff; outbound frames
// keep flowing to the broker meanwhile.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		<-ctx.Done()
		return nil
	}
	backoff := h.retryMin
	for {
		subscribed, err := h.relay(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			backoff = h.retryMin
		}
		slog.Warn("realtime: broker relay interrupted, retrying", "error", err, "backoff", backoff)
		if !h.forwardFor(ctx, backoff) {
			return nil
		}
		backoff = min(backoff*2, h.retryMax)
	}
}

// relay runs one subscription. subscribed reports whether it got that far.
func (h *Hub) relay(ctx context.Context) (subscribed bool, err error) {
	incoming, err := h.broker.Subscribe(ctx)
	if err != nil {
		return false, fmt.Errorf("realtime subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case env := <-h.outbound:
			h.forward(ctx, env)
		case env, ok := <-incoming:
			if !ok {
				return true, errors.New("realtime broker subscription closed")
			}
			if env.Origin == h.id {
				continue
			}
			h.deliver(env.Room, env.Frame)
		}
	}
}

// forwardFor keeps publishing outbound envelopes for d. It reports false
// once ctx ends.
func (h *Hub) forwardFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case env := <-h.outbound:
			h.forward(ctx, env)
		case <-timer.C:
			return true
		}
	}
}

func (h *Hub) forward(ctx context.Context, env Envelope) {
	if err := h.broker.Publish(ctx, env); err != nil {
		slog.Warn("realtime: broker publish failed", "room", env.Room, "error", err)
	}
}

// RoomSize reports how many local clients joined room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Clients reports how many clients are connected locally.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
		h.unregister(c)
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeClients.Inc()
	slog.Debug("realtime: client connected", "client", c.id)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	close(c.send)
	metrics.RealtimeClients.Dec()
	slog.Debug("realtime: client disconnected", "client", c.id)
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

// dispatch handles one inbound frame from c.
func (h *Hub) dispatch(ctx context.Context, c *Client, frame []byte) {
	var msg inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		slog.Debug("realtime: malformed frame", "client", c.id, "error", err)
		return
	}

	switch msg.Event {
	case EventJoinClass:
		classID, err := parseClassID(msg.Data)
		if err != nil {
			c.Send(Event{Name: EventError, Data: errorPayload(msg.Event, "Turma inválida.")})
			return
		}
		room := ClassRoom(classID)
		h.join(c, room)
		c.Send(Event{Name: EventJoined, Data: map[string]string{"sala": room}})
		slog.Info("realtime: teacher console joined class room", "client", c.id, "room", room)
	case EventJoinFrontDesk:
		h.join(c, FrontDeskRoom)
		c.Send(Event{Name: EventJoined, Data: map[string]string{"sala": FrontDeskRoom}})
		slog.Info("realtime: kiosk joined front desk room", "client", c.id)
	default:
		h.hmu.RLock()
		fn, ok := h.handlers[msg.Event]
		h.hmu.RUnlock()
		if !ok {
			slog.Debug("realtime: unhandled event", "client", c.id, "event", msg.Event)
			return
		}
		evCtx, cancel := context.WithTimeout(ctx, eventTimeout)
		defer cancel()
		if err := fn(evCtx, c, msg.Data); err != nil {
			c.Send(Event{Name: EventError, Data: errorPayload(msg.Event, publicMessage(err))})
		}
	}
}

func errorPayload(event, message string) map[string]string {
	return map[string]string{"evento": event, "erro": message}
}

// parseClassID accepts the class id as a JSON number or string.
func parseClassID(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if id, err := n.Int64(); err == nil && id > 0 {
			return id, nil
		}
		return 0, ErrInvalidRoom
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, ErrInvalidRoom
	}
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidRoom
	}
	return id, nil
}

func metricsDropped(stage string) {
	metrics.RealtimeDropped.WithLabelValues(stage).Inc()
}
