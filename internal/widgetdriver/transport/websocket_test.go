package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/transport"
)

func newTestServer(t *testing.T) (*websocket.Conn, *transport.WebSocket) {
	t.Helper()
	connCh := make(chan *transport.WebSocket, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := transport.Upgrade(w, r)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		connCh <- ws
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/widget"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case server := <-connCh:
		t.Cleanup(func() { server.Close() })
		return client, server
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server-side upgrade")
		return nil, nil
	}
}

func TestWebSocket_SendDeliversFrameToClient(t *testing.T) {
	client, server := newTestServer(t)

	if err := server.Send(context.Background(), []byte(`{"hello":"widget"}`)); err != nil {
		t.Fatalf("unexpected error sending frame: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client failed to read frame: %v", err)
	}
	if string(data) != `{"hello":"widget"}` {
		t.Fatalf("unexpected frame at client: %s", data)
	}
}

func TestWebSocket_IncomingReceivesClientFrames(t *testing.T) {
	connCh := make(chan *transport.WebSocket, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := transport.Upgrade(w, r)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		connCh <- ws
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/widget"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	defer client.Close()

	var serverSide *transport.WebSocket
	select {
	case serverSide = <-connCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server-side upgrade")
	}
	defer serverSide.Close()

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"action":"send_event"}`)); err != nil {
		t.Fatalf("failed to write client frame: %v", err)
	}

	select {
	case frame := <-serverSide.Incoming():
		if string(frame) != `{"action":"send_event"}` {
			t.Fatalf("unexpected frame: %s", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for incoming frame")
	}
}

func TestWebSocket_CloseIsIdempotent(t *testing.T) {
	_, server := newTestServer(t)

	if err := server.Close(); err != nil {
		t.Fatalf("unexpected error on first close: %v", err)
	}
	if err := server.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
}
