package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// attach registers a connectionless client whose frames stay in its buffer.
func attach(h *Hub) *Client {
	c := &Client{id: "test", hub: h, send: make(chan []byte, clientBuffer)}
	h.register(c)
	return c
}

func drain(c *Client) []Event {
	var out []Event
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return out
			}
			var raw struct {
				Name string          `json:"event"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(frame, &raw); err != nil {
				panic(err)
			}
			out = append(out, Event{Name: raw.Name, Data: raw.Data})
		default:
			return out
		}
	}
}

func names(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Name)
	}
	return out
}

func TestDispatchJoinsClassRoom(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		room    string
		wantErr bool
	}{
		{name: "numeric_id", frame: `{"event":"entrar_sala","data":5}`, room: "turma_5"},
		{name: "string_id", frame: `{"event":"entrar_sala","data":"7"}`, room: "turma_7"},
		{name: "front_desk", frame: `{"event":"entrar_portaria"}`, room: FrontDeskRoom},
		{name: "invalid_id", frame: `{"event":"entrar_sala","data":"abc"}`, wantErr: true},
		{name: "negative_id", frame: `{"event":"entrar_sala","data":-1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(nil)
			c := attach(h)
			h.dispatch(context.Background(), c, []byte(tt.frame))

			got := names(drain(c))
			if tt.wantErr {
				if len(got) != 1 || got[0] != EventError {
					t.Fatalf("expected an error reply, got %v", got)
				}
				return
			}
			if len(got) != 1 || got[0] != EventJoined {
				t.Fatalf("expected join confirmation, got %v", got)
			}
			if h.RoomSize(tt.room) != 1 {
				t.Fatalf("expected client in %s", tt.room)
			}
		})
	}
}

func TestPublishReachesOnlyRoomMembers(t *testing.T) {
	h := NewHub(nil)
	class5, class7, desk := attach(h), attach(h), attach(h)
	h.join(class5, ClassRoom(5))
	h.join(class7, ClassRoom(7))
	h.join(desk, FrontDeskRoom)

	h.Publish(ClassRoom(5), Event{Name: EventClassUpdate, Data: map[string]string{"nome": "Ana"}})

	if got := names(drain(class5)); len(got) != 1 || got[0] != EventClassUpdate {
		t.Fatalf("class 5 expected one update, got %v", got)
	}
	if got := drain(class7); len(got) != 0 {
		t.Fatalf("class 7 should not receive class 5 traffic, got %v", names(got))
	}
	if got := drain(desk); len(got) != 0 {
		t.Fatalf("front desk should not receive class traffic, got %v", names(got))
	}
}

func TestBroadcastReachesEveryone(t *testing.T) {
	h := NewHub(nil)
	a, b := attach(h), attach(h)
	h.join(a, ClassRoom(1))

	h.Broadcast(Event{Name: EventPlanSaved})

	if len(drain(a)) != 1 || len(drain(b)) != 1 {
		t.Fatalf("expected both clients to receive the broadcast")
	}
}

func TestPublishToEmptyRoomIsANoop(t *testing.T) {
	h := NewHub(nil)
	c := attach(h)
	h.Publish(ClassRoom(99), Event{Name: EventReleaseRequest})
	h.Publish("", Event{Name: EventReleaseRequest})
	if got := drain(c); len(got) != 0 {
		t.Fatalf("expected nothing delivered, got %v", names(got))
	}
}

func TestFullClientBufferDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil)
	c := attach(h)
	h.join(c, FrontDeskRoom)

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBuffer+10; i++ {
			h.Publish(FrontDeskRoom, Event{Name: EventReleaseOutcome})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow client")
	}
	if got := len(drain(c)); got != clientBuffer {
		t.Fatalf("expected %d buffered frames, got %d", clientBuffer, got)
	}
}

func TestUnregisterLeavesRooms(t *testing.T) {
	h := NewHub(nil)
	c := attach(h)
	h.join(c, ClassRoom(3))
	h.unregister(c)
	h.unregister(c)

	if h.RoomSize(ClassRoom(3)) != 0 || h.Clients() != 0 {
		t.Fatalf("expected client removed from hub")
	}
	h.Publish(ClassRoom(3), Event{Name: EventClassUpdate})
	c.Send(Event{Name: EventError})
}

type publicErr string

func (e publicErr) Error() string  { return string(e) }
func (e publicErr) Public() string { return string(e) }

func TestHandlerErrorsAreReportedToSender(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{name: "public_message", err: publicErr("Nenhuma solicitação pendente."), wantMsg: "Nenhuma solicitação pendente."},
		{name: "internal_error_is_opaque", err: errors.New("pq: connection refused"), wantMsg: internalErrorMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(nil)
			sender, other := attach(h), attach(h)
			var got json.RawMessage
			h.Handle(EventReleaseDecision, func(_ context.Context, _ *Client, data json.RawMessage) error {
				got = data
				return tt.err
			})

			h.dispatch(context.Background(), sender, []byte(`{"event":"resposta_liberacao","data":{"aluno_id":1,"status":"liberado"}}`))

			if string(got) != `{"aluno_id":1,"status":"liberado"}` {
				t.Fatalf("handler received %s", got)
			}
			events := drain(sender)
			if len(events) != 1 || events[0].Name != EventError {
				t.Fatalf("expected one error reply, got %v", names(events))
			}
			var payload map[string]string
			if err := json.Unmarshal(events[0].Data.(json.RawMessage), &payload); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			if payload["erro"] != tt.wantMsg {
				t.Fatalf("expected %q, got %q", tt.wantMsg, payload["erro"])
			}
			if len(drain(other)) != 0 {
				t.Fatalf("error reply leaked to another client")
			}
		})
	}
}

func TestUnknownEventsAreIgnored(t *testing.T) {
	h := NewHub(nil)
	c := attach(h)
	h.dispatch(context.Background(), c, []byte(`{"event":"desconhecido"}`))
	h.dispatch(context.Background(), c, []byte(`not json`))
	if got := drain(c); len(got) != 0 {
		t.Fatalf("expected no replies, got %v", names(got))
	}
}

func TestHubsRelayThroughBroker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewInMemory(16)
	first, second := NewHub(broker), NewHub(broker)
	go func() { _ = first.Run(ctx) }()
	go func() { _ = second.Run(ctx) }()

	local := attach(first)
	remote := attach(second)
	first.join(local, ClassRoom(5))
	second.join(remote, ClassRoom(5))

	// both hubs must be subscribed before publishing
	deadline := time.Now().Add(2 * time.Second)
	for {
		broker.mu.Lock()
		n := len(broker.subs)
		broker.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("hubs never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	first.Publish(ClassRoom(5), Event{Name: EventReleaseRequest})

	var got []Event
	deadline = time.Now().Add(2 * time.Second)
	for len(got) == 0 && time.Now().Before(deadline) {
		got = append(got, drain(remote)...)
		time.Sleep(5 * time.Millisecond)
	}
	if len(got) != 1 || got[0].Name != EventReleaseRequest {
		t.Fatalf("remote hub expected relayed request, got %v", names(got))
	}

	// the origin hub ignores its own envelope, so no duplicate locally
	time.Sleep(50 * time.Millisecond)
	if n := len(drain(local)); n != 1 {
		t.Fatalf("local client expected exactly one frame, got %d", n)
	}
}

// flakyBroker refuses the first failures subscriptions.
type flakyBroker struct {
	*InMemory
	mu       sync.Mutex
	failures int
	attempts int
}

func (b *flakyBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	b.mu.Lock()
	b.attempts++
	refuse := b.attempts <= b.failures
	b.mu.Unlock()
	if refuse {
		return nil, errors.New("redis unavailable")
	}
	return b.InMemory.Subscribe(ctx)
}

func (b *flakyBroker) tries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func TestRunRetriesFailedSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := &flakyBroker{InMemory: NewInMemory(16), failures: 2}
	recovering := NewHub(broker)
	recovering.retryMin, recovering.retryMax = time.Millisecond, 5*time.Millisecond
	steady := NewHub(broker.InMemory)
	go func() { _ = recovering.Run(ctx) }()
	go func() { _ = steady.Run(ctx) }()

	eventually(t, "both hubs to subscribe", func() bool { return broker.Subscribers() == 2 })
	if n := broker.tries(); n != 3 {
		t.Fatalf("expected two refused attempts and one success, got %d attempts", n)
	}

	member := attach(recovering)
	recovering.join(member, FrontDeskRoom)
	steady.Publish(FrontDeskRoom, Event{Name: EventReleaseOutcome})

	var got []Event
	eventually(t, "relayed frame", func() bool {
		got = append(got, drain(member)...)
		return len(got) > 0
	})
	if got[0].Name != EventReleaseOutcome {
		t.Fatalf("unexpected relayed events %v", names(got))
	}
}

func TestRunForwardsWhileResubscribing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := &flakyBroker{InMemory: NewInMemory(16), failures: 1 << 30}
	cut := NewHub(broker)
	cut.retryMin, cut.retryMax = time.Millisecond, 5*time.Millisecond
	steady := NewHub(broker.InMemory)
	go func() { _ = cut.Run(ctx) }()
	go func() { _ = steady.Run(ctx) }()
	eventually(t, "steady hub to subscribe", func() bool { return broker.Subscribers() == 1 })
	eventually(t, "the cut hub to keep retrying", func() bool { return broker.tries() > 2 })

	member := attach(steady)
	steady.join(member, ClassRoom(3))
	cut.Publish(ClassRoom(3), Event{Name: EventReleaseRequest})

	var got []Event
	eventually(t, "forwarded frame", func() bool {
		got = append(got, drain(member)...)
		return len(got) > 0
	})
	if got[0].Name != EventReleaseRequest {
		t.Fatalf("unexpected forwarded events %v", names(got))
	}
}
