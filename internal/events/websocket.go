package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"snowbridge/internal/backend"
)

// Websocket keepalive parameters. The server is expected to answer pings;
// a missed pong lets the read deadline expire and forces a reconnect.
const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocketReceiver consumes the orchestrator event stream over a
// websocket at {base}/stream/ws.
type WebSocketReceiver struct {
	url   string
	creds CredentialsProvider
	dial  *websocket.Dialer
	log   *slog.Logger

	guard loopGuard
}

var _ Receiver = (*WebSocketReceiver)(nil)

// NewWebSocketReceiver creates a receiver dialing the websocket stream
// endpoint under baseURL.
func NewWebSocketReceiver(baseURL string, creds CredentialsProvider, log *slog.Logger) *WebSocketReceiver {
	return &WebSocketReceiver{
		url:   websocketURL(baseURL),
		creds: creds,
		dial:  websocket.DefaultDialer,
		log:   log,
	}
}

// websocketURL rewrites the backend base URL to the stream endpoint with a
// websocket scheme.
func websocketURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return strings.TrimRight(baseURL, "/") + "/stream/ws"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/stream/ws"
	return u.String()
}

// Start begins consuming the stream in the background.
func (r *WebSocketReceiver) Start(ctx context.Context, h Handlers) {
	loopCtx, cancel := context.WithCancel(ctx)
	loopID := r.guard.begin(cancel)
	go runReceiveLoop(loopCtx, &r.guard, loopID, r.log, func() error {
		return r.consume(loopCtx, loopID, h)
	})
}

// Stop invalidates the consume loop and closes the open connection.
func (r *WebSocketReceiver) Stop() {
	r.guard.end()
}

func (r *WebSocketReceiver) consume(ctx context.Context, loopID string, h Handlers) error {
	creds := r.creds.Credentials()
	header := http.Header{}
	header.Set(backend.HeaderID, creds.ID)
	header.Set(backend.HeaderToken, creds.Token)
	r.log.Info("connecting to event stream", "url", r.url, "token_id", creds.ID)

	conn, resp, err := r.dial.DialContext(ctx, r.url, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if !r.guard.current(loopID) {
			return nil
		}
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close()

	if h.Connected != nil {
		h.Connected()
	}
	if h.Disconnected != nil {
		defer h.Disconnected()
	}

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// The read below does not notice a canceled context on its own; the
	// watcher closes the connection to unblock it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go r.ping(ctx, conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !r.guard.current(loopID) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event stream read: %w", err)
		}
		if !r.guard.current(loopID) {
			return nil
		}
		if h.Event != nil {
			h.Event(ctx, json.RawMessage(data))
		}
	}
}

func (r *WebSocketReceiver) ping(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				r.log.Debug("ping not delivered", "error", err)
				return
			}
		}
	}
}
