package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func serve(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(frame)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebsocketDecisionReachesFrontDesk(t *testing.T) {
	h := NewHub(nil)
	h.Handle(EventReleaseDecision, func(_ context.Context, _ *Client, data json.RawMessage) error {
		var d struct {
			StudentID int64  `json:"aluno_id"`
			Status    string `json:"status"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		h.Publish(FrontDeskRoom, Event{Name: EventReleaseOutcome, Data: map[string]any{
			"aluno_id": d.StudentID, "status": d.Status, "registrado": true,
		}})
		return nil
	})
	srv := serve(t, h)

	kiosk := dial(t, srv)
	send(t, kiosk, `{"event":"entrar_portaria"}`)
	if got := receive(t, kiosk); got != `{"event":"sala_conectada","data":{"sala":"canal_portaria"}}` {
		t.Fatalf("unexpected join reply %s", got)
	}

	teacher := dial(t, srv)
	send(t, teacher, `{"event":"entrar_sala","data":"7"}`)
	if got := receive(t, teacher); got != `{"event":"sala_conectada","data":{"sala":"turma_7"}}` {
		t.Fatalf("unexpected join reply %s", got)
	}

	send(t, teacher, `{"event":"resposta_liberacao","data":{"aluno_id":2,"status":"liberado"}}`)
	if got := receive(t, kiosk); got != `{"event":"status_liberacao","data":{"aluno_id":2,"registrado":true,"status":"liberado"}}` {
		t.Fatalf("unexpected outcome frame %s", got)
	}

	send(t, teacher, `{"event":"resposta_liberacao","data":"liberado"}`)
	if got := receive(t, teacher); got != `{"event":"erro","data":{"erro":"Erro interno no servidor.","evento":"resposta_liberacao"}}` {
		t.Fatalf("unexpected error frame %s", got)
	}

	_ = kiosk.Close()
	eventually(t, "kiosk to leave the front desk", func() bool {
		return h.RoomSize(FrontDeskRoom) == 0 && h.Clients() == 1
	})
	if h.RoomSize(ClassRoom(7)) != 1 {
		t.Fatalf("teacher should still be in the class room")
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	h := NewHub(nil)
	conn := dial(t, serve(t, h))
	eventually(t, "client to register", func() bool { return h.Clients() == 1 })

	h.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the connection to be closed")
	}
	if h.Clients() != 0 {
		t.Fatalf("expected no clients after close, got %d", h.Clients())
	}
}

func TestSilentPeerIsDroppedAfterPongWait(t *testing.T) {
	h := NewHub(nil)
	h.keepalive = keepalive{pongWait: 300 * time.Millisecond, pingPeriod: 50 * time.Millisecond}
	srv := serve(t, h)

	// the dialer answers pings only while something reads the connection
	live := dial(t, srv)
	go func() {
		for {
			if _, _, err := live.ReadMessage(); err != nil {
				return
			}
		}
	}()
	_ = dial(t, srv)

	eventually(t, "both clients to register", func() bool { return h.Clients() == 2 })
	eventually(t, "the silent client to be dropped", func() bool { return h.Clients() == 1 })

	time.Sleep(500 * time.Millisecond)
	if h.Clients() != 1 {
		t.Fatalf("a peer answering pings must stay connected, clients=%d", h.Clients())
	}
}
