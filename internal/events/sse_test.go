package events_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"snowbridge/internal/backend"
	"snowbridge/internal/events"
)

func testCreds() backend.StaticCredentials {
	return backend.StaticCredentials{ID: "token-id", Token: "token-secret"}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSSEReceiverDeliversEvents(t *testing.T) {
	t.Parallel()

	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "token-id", r.Header.Get("x-mcd-id"))
		assert.Equal(t, "token-secret", r.Header.Get("x-mcd-token"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, ": stream open\n\n")
		io.WriteString(w, "data: {\"type\":\"welcome\"}\n\n")
		io.WriteString(w, "event: message\ndata: {\"operation_id\":\"op-1\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	recv := events.NewSSEReceiver(srv.URL, testCreds(), discardLogger())
	recv.Start(context.Background(), events.Handlers{
		Event: func(_ context.Context, data json.RawMessage) { received <- string(data) },
	})
	defer recv.Stop()

	for _, want := range []string{`{"type":"welcome"}`, `{"operation_id":"op-1"}`} {
		select {
		case got := <-received:
			assert.JSONEq(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func TestSSEReceiverReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	var conns atomic.Int32
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if n == 1 {
			// Drop the first connection before any event.
			return
		}
		io.WriteString(w, "data: {\"operation_id\":\"op-after-retry\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	recv := events.NewSSEReceiver(srv.URL, testCreds(), discardLogger())
	recv.Start(context.Background(), events.Handlers{
		Event: func(_ context.Context, data json.RawMessage) { received <- string(data) },
	})
	defer recv.Stop()

	select {
	case got := <-received:
		assert.JSONEq(t, `{"operation_id":"op-after-retry"}`, got)
	case <-time.After(10 * time.Second):
		t.Fatal("no event after reconnect")
	}
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestSSEReceiverStopClosesStream(t *testing.T) {
	t.Parallel()

	connected := make(chan struct{})
	disconnected := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	recv := events.NewSSEReceiver(srv.URL, testCreds(), discardLogger())
	recv.Start(context.Background(), events.Handlers{
		Connected:    func() { close(connected) },
		Disconnected: func() { close(disconnected) },
	})

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never connected")
	}

	recv.Stop()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not close the stream on Stop")
	}
}
