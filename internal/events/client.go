package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"snowbridge/internal/domain"
)

// ReceiverFactory builds a fresh receiver. The client calls it again on
// every forced reconnect instead of reusing a possibly wedged receiver.
type ReceiverFactory func() Receiver

// ClientOptions overrides the defaults for NewClient.
type ClientOptions struct {
	HeartbeatTimeout time.Duration
	Logger           *slog.Logger
}

// Client consumes the event stream and hands operation events to the
// handler. Two stream bookkeeping event types stay here: the welcome
// message sent after a connect and the periodic heartbeat, which feeds the
// heartbeat monitor. A missing heartbeat tears the receiver down and builds
// a fresh one through the factory.
type Client struct {
	factory ReceiverFactory
	handler func(ctx context.Context, data json.RawMessage)
	log     *slog.Logger
	hb      *HeartbeatMonitor

	mu       sync.Mutex
	receiver Receiver
	ctx      context.Context
	stopped  bool
}

// NewClient creates a stream client delivering operation events to handler.
func NewClient(factory ReceiverFactory, handler func(context.Context, json.RawMessage), opts *ClientOptions) *Client {
	c := &Client{
		factory: factory,
		handler: handler,
		log:     slog.Default(),
	}
	timeout := DefaultHeartbeatTimeout
	if opts != nil {
		if opts.Logger != nil {
			c.log = opts.Logger
		}
		if opts.HeartbeatTimeout > 0 {
			timeout = opts.HeartbeatTimeout
		}
	}
	c.hb = NewHeartbeatMonitor(timeout, c.reconnect, c.log)
	return c
}

// Start connects the receiver and begins watching the heartbeat.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.receiver = c.factory()
	receiver := c.receiver
	c.mu.Unlock()

	receiver.Start(ctx, c.handlers())
	c.hb.Start()
}

// Stop disconnects the receiver and stops the heartbeat monitor.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	receiver := c.receiver
	c.mu.Unlock()

	c.hb.Stop()
	if receiver != nil {
		receiver.Stop()
	}
}

func (c *Client) handlers() Handlers {
	return Handlers{Event: c.eventReceived}
}

// reconnect replaces the receiver wholesale; the old consume loop may be
// wedged on a half-dead connection.
func (c *Client) reconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	old := c.receiver
	c.receiver = c.factory()
	receiver := c.receiver
	ctx := c.ctx
	c.mu.Unlock()

	c.log.Info("reconnecting event stream")
	if old != nil {
		old.Stop()
	}
	receiver.Start(ctx, c.handlers())
}

func (c *Client) eventReceived(ctx context.Context, data json.RawMessage) {
	var meta struct {
		Type      string          `json:"type"`
		Ts        json.RawMessage `json:"ts"`
		Heartbeat json.RawMessage `json:"heartbeat"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		c.log.Error("discarding unparseable event", "error", err)
		return
	}
	switch meta.Type {
	case domain.EventTypeHeartbeat:
		c.log.Info("heartbeat", "ts", tsValue(meta.Heartbeat, meta.Ts))
		c.hb.Beat()
	case domain.EventTypeWelcome:
		c.log.Info("stream welcome", "ts", tsValue(meta.Ts, meta.Heartbeat))
	default:
		c.handler(ctx, data)
	}
}

func tsValue(values ...json.RawMessage) string {
	for _, v := range values {
		if len(v) > 0 {
			return string(v)
		}
	}
	return ""
}
