package events_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowbridge/internal/events"
)

type fakeAckSink struct {
	ackFn func(ctx context.Context, operationID string) error
}

func (s *fakeAckSink) AckOperation(ctx context.Context, operationID string) error {
	if s.ackFn == nil {
		panic("unexpected AckOperation call")
	}
	return s.ackFn(ctx, operationID)
}

func TestAckSchedulerAcksAfterDelay(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var acked []string
	sink := &fakeAckSink{ackFn: func(_ context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		acked = append(acked, id)
		return nil
	}}

	s := events.NewAckScheduler(sink, 30*time.Millisecond, 10*time.Millisecond, slog.New(slog.DiscardHandler))
	s.Start(context.Background())
	defer s.Stop()

	s.Schedule("op-1")
	require.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(acked) == 1 && acked[0] == "op-1"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, s.Pending())
}

func TestAckSchedulerSkipsCompletedOperations(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var acked []string
	sink := &fakeAckSink{ackFn: func(_ context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		acked = append(acked, id)
		return nil
	}}

	s := events.NewAckScheduler(sink, 30*time.Millisecond, 10*time.Millisecond, slog.New(slog.DiscardHandler))
	s.Start(context.Background())
	defer s.Stop()

	s.Schedule("op-done")
	s.Schedule("op-pending")
	s.OperationCompleted("op-done")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(acked) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"op-pending"}, acked)
}

func TestAckSchedulerDeduplicatesSchedules(t *testing.T) {
	t.Parallel()

	s := events.NewAckScheduler(&fakeAckSink{}, time.Hour, time.Hour, slog.New(slog.DiscardHandler))
	s.Schedule("op-1")
	s.Schedule("op-1")
	assert.Equal(t, 1, s.Pending())

	s.OperationCompleted("op-1")
	s.OperationCompleted("op-1")
	assert.Zero(t, s.Pending())
}
