package app

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"snowbridge/internal/dispatch"
	"snowbridge/internal/events"
	"snowbridge/internal/metrics"
)

// ackingSink wraps the result sink so a delivered result settles the
// operation's pending ack and feeds the push counters.
type ackingSink struct {
	sink      dispatch.ResultSink
	acks      *events.AckScheduler
	collector *metrics.Collector
}

func (s ackingSink) PushResult(ctx context.Context, operationID string, result json.RawMessage) error {
	err := s.sink.PushResult(ctx, operationID, result)
	s.collector.ResultPushed(err == nil)
	if err != nil {
		return err
	}
	s.acks.OperationCompleted(operationID)
	return nil
}

// countedAcks counts acks that actually reached the orchestrator.
type countedAcks struct {
	sink      events.AckSink
	collector *metrics.Collector
}

func (s countedAcks) AckOperation(ctx context.Context, operationID string) error {
	if err := s.sink.AckOperation(ctx, operationID); err != nil {
		return err
	}
	s.collector.AckSent()
	return nil
}

var (
	_ dispatch.ResultSink = ackingSink{}
	_ events.AckSink      = countedAcks{}
)

// receiverFactory builds stream receivers and counts every build after the
// first as a reconnect.
func (a *App) receiverFactory() events.ReceiverFactory {
	var connected atomic.Bool
	return func() events.Receiver {
		if !connected.CompareAndSwap(false, true) {
			a.Collector.StreamReconnected()
		}
		return events.NewReceiver(a.cfg.EventsTransport, a.cfg.BackendURL, a.creds, a.log)
	}
}

// handleStreamEvent is the operation handler wired into the stream client.
func (a *App) handleStreamEvent(ctx context.Context, data json.RawMessage) {
	a.Collector.OperationReceived()
	a.router.HandleEvent(ctx, data)
}
