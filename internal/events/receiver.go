// Package events receives operations pushed by the orchestrator. A receiver
// holds the stream connection (SSE by default, websocket as an alternative),
// the client filters stream bookkeeping and watches the heartbeat, and the
// router turns operation events into dispatcher and runner work. Acks for
// slow operations are sent by the ack scheduler.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"snowbridge/internal/backend"
)

// Receiver kinds selectable through configuration.
const (
	ReceiverSSE       = "sse"
	ReceiverWebSocket = "websocket"
)

// CredentialsProvider yields the auth headers for the stream connection.
// Implemented by backend.FileCredentials.
type CredentialsProvider interface {
	Credentials() backend.Credentials
}

var _ CredentialsProvider = (*backend.FileCredentials)(nil)

// Reconnect backoff for a lost stream connection.
const (
	reconnectInitialDelay = 2 * time.Second
	reconnectMaxDelay     = 240 * time.Second
)

// Handlers are the callbacks a receiver drives. Event carries the raw JSON
// body of one stream event; Connected and Disconnected frame each
// connection attempt that got as far as an open stream.
type Handlers struct {
	Event        func(ctx context.Context, data json.RawMessage)
	Connected    func()
	Disconnected func()
}

// Receiver produces events received from the orchestrator. Start returns
// immediately; events are delivered from a background loop until Stop.
type Receiver interface {
	Start(ctx context.Context, h Handlers)
	Stop()
}

// loopGuard tracks the active consume loop of a receiver. A superseded loop
// can take a while to notice it lost the connection, so a plain running flag
// is not enough: each loop carries an id and checks it is still the current
// one before touching handlers or reconnecting.
type loopGuard struct {
	mu     sync.Mutex
	loopID string
	cancel context.CancelFunc
}

func (g *loopGuard) begin(cancel context.CancelFunc) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := uuid.NewString()
	g.loopID = id
	g.cancel = cancel
	return id
}

func (g *loopGuard) end() {
	g.mu.Lock()
	cancel := g.cancel
	g.loopID = ""
	g.cancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (g *loopGuard) current(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loopID == id
}

// runReceiveLoop drives consume until the loop is superseded or the context
// ends. Connection errors retry forever with doubling backoff; a stream that
// ends cleanly reconnects without delay.
func runReceiveLoop(ctx context.Context, g *loopGuard, loopID string, log *slog.Logger, consume func() error) {
	for g.current(loopID) && ctx.Err() == nil {
		err := retry.Call(retry.CallArgs{
			Func: consume,
			IsFatalError: func(err error) bool {
				return !g.current(loopID) || ctx.Err() != nil
			},
			NotifyFunc: func(err error, attempt int) {
				log.Warn("event stream connection lost", "attempt", attempt, "error", err)
			},
			Attempts:    -1,
			Delay:       reconnectInitialDelay,
			MaxDelay:    reconnectMaxDelay,
			BackoffFunc: retry.DoubleDelay,
			Clock:       clock.WallClock,
			Stop:        ctx.Done(),
		})
		if err != nil {
			log.Debug("receive loop ended", "error", err)
		}
	}
	log.Info("event stream receiver stopped")
}

// NewReceiver builds the receiver for the configured stream kind. Unknown
// kinds fall back to SSE.
func NewReceiver(kind, baseURL string, creds CredentialsProvider, log *slog.Logger) Receiver {
	if kind == ReceiverWebSocket {
		return NewWebSocketReceiver(baseURL, creds, log)
	}
	return NewSSEReceiver(baseURL, creds, log)
}
