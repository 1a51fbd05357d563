package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vadim/consync/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestEmitWhenDisconnected(t *testing.T) {
	c := New("ws://localhost:0", discardLogger())

	err := c.Emit(context.Background(), transport.EventSendMessage, struct{}{})
	if !errors.Is(err, errNotConnected) {
		t.Fatalf("error = %v, want errNotConnected", err)
	}
	if c.Connected() {
		t.Fatalf("client reports connected before Start")
	}
}

func TestConnectAndDispatch(t *testing.T) {
	frames := make(chan []byte, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		// Push one event to the client.
		frame, _ := json.Marshal(envelope{
			Event:   transport.EventNewMessage,
			Payload: json.RawMessage(`{"conversationId":"c1"}`),
		})
		if err := conn.Write(r.Context(), websocket.MessageText, frame); err != nil {
			return
		}

		// Then collect one frame emitted by the client.
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		frames <- data

		// Hold the connection open until the client goes away.
		conn.Read(r.Context())
	}))
	defer server.Close()

	c := New(wsURL(server), discardLogger(), WithReconnectBackoff(10*time.Millisecond, 50*time.Millisecond))

	connected := make(chan struct{}, 1)
	received := make(chan json.RawMessage, 1)
	c.On(transport.EventConnect, func(json.RawMessage) { connected <- struct{}{} })
	c.On(transport.EventNewMessage, func(raw json.RawMessage) { received <- raw })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer c.Close(context.Background())

	select {
	case <-connected:
	case <-ctx.Done():
		t.Fatalf("connect event never fired")
	}
	if !c.Connected() {
		t.Fatalf("client reports disconnected after dial")
	}

	select {
	case raw := <-received:
		var p struct {
			ConversationID string `json:"conversationId"`
		}
		if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID != "c1" {
			t.Fatalf("payload = %s, err = %v", raw, err)
		}
	case <-ctx.Done():
		t.Fatalf("event was never dispatched")
	}

	if err := c.Emit(ctx, transport.EventSendMessage, transport.SendMessagePayload{ConversationID: "c1", Content: "hi", TempID: "t1"}); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	select {
	case data := <-frames:
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decoding emitted frame: %v", err)
		}
		if env.Event != transport.EventSendMessage {
			t.Fatalf("emitted event = %s", env.Event)
		}
		var p transport.SendMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.TempID != "t1" {
			t.Fatalf("emitted payload = %s, err = %v", env.Payload, err)
		}
	case <-ctx.Done():
		t.Fatalf("server never received the emitted frame")
	}
}

func TestDisconnectEventOnServerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "bye")
	}))
	defer server.Close()

	c := New(wsURL(server), discardLogger(), WithReconnectBackoff(time.Hour, time.Hour))

	disconnected := make(chan struct{}, 1)
	c.On(transport.EventDisconnect, func(json.RawMessage) { disconnected <- struct{}{} })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-disconnected:
	case <-ctx.Done():
		t.Fatalf("disconnect event never fired")
	}
	if c.Connected() {
		t.Fatalf("client still reports connected after server close")
	}

	// Emits while down fail fast instead of queueing.
	if err := c.Emit(context.Background(), transport.EventSendMessage, struct{}{}); !errors.Is(err, errNotConnected) {
		t.Fatalf("error = %v, want errNotConnected", err)
	}

	cancel()
	c.Close(context.Background())
}

func TestHandlerReplaceAndRemove(t *testing.T) {
	c := New("ws://localhost:0", discardLogger())

	var got string
	c.On("ev", func(json.RawMessage) { got = "first" })
	c.On("ev", func(json.RawMessage) { got = "second" })
	c.dispatch("ev", nil)
	if got != "second" {
		t.Fatalf("last registration should win, got %q", got)
	}

	c.Off("ev")
	got = ""
	c.dispatch("ev", nil)
	if got != "" {
		t.Fatalf("removed handler was still invoked")
	}
}
