package events

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"snowbridge/internal/backend"
)

// Ack timing. An ack tells the orchestrator the operation arrived and is
// still being worked on, so it holds off redelivery. Operations that finish
// inside the delay never ack.
const (
	DefaultAckDelay  = 45 * time.Second
	ackCheckInterval = 10 * time.Second
)

// AckSink delivers acks. Implemented by backend.Client.
type AckSink interface {
	AckOperation(ctx context.Context, operationID string) error
}

var _ AckSink = (*backend.Client)(nil)

// pendingAck is one scheduled ack ordered by due time.
type pendingAck struct {
	at time.Time
	id string
}

type ackQueue []pendingAck

func (q ackQueue) Len() int           { return len(q) }
func (q ackQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q ackQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *ackQueue) Push(x any) { *q = append(*q, x.(pendingAck)) }

func (q *ackQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// AckScheduler acks each received operation after a delay unless the
// operation completed first. Completions only remove the pending marker;
// the matching heap entry is skipped when it surfaces.
type AckScheduler struct {
	sink  AckSink
	delay time.Duration
	check time.Duration
	log   *slog.Logger

	mu      sync.Mutex
	queue   ackQueue
	pending map[string]struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

// NewAckScheduler creates a scheduler. Non-positive delays select the
// defaults.
func NewAckScheduler(sink AckSink, delay, check time.Duration, log *slog.Logger) *AckScheduler {
	if delay <= 0 {
		delay = DefaultAckDelay
	}
	if check <= 0 {
		check = ackCheckInterval
	}
	return &AckScheduler{
		sink:    sink,
		delay:   delay,
		check:   check,
		log:     log,
		pending: make(map[string]struct{}),
		stop:    make(chan struct{}),
	}
}

// Start launches the background check.
func (s *AckScheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop ends the background check. Safe to call more than once.
func (s *AckScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Schedule queues an ack for the operation after the configured delay.
// Scheduling an already pending operation is a no-op.
func (s *AckScheduler) Schedule(operationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[operationID]; ok {
		return
	}
	s.pending[operationID] = struct{}{}
	heap.Push(&s.queue, pendingAck{at: time.Now().Add(s.delay), id: operationID})
}

// OperationCompleted cancels the pending ack for the operation. Safe to
// call for operations that were never scheduled.
func (s *AckScheduler) OperationCompleted(operationID string) {
	s.mu.Lock()
	delete(s.pending, operationID)
	s.mu.Unlock()
}

// Pending returns the number of operations with an ack still scheduled.
func (s *AckScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *AckScheduler) run(ctx context.Context) {
	s.log.Info("ack scheduler started")
	ticker := time.NewTicker(s.check)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			s.log.Info("ack scheduler stopped")
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

func (s *AckScheduler) flush(ctx context.Context) {
	now := time.Now()
	var due []string
	s.mu.Lock()
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		entry := heap.Pop(&s.queue).(pendingAck)
		if _, ok := s.pending[entry.id]; !ok {
			continue
		}
		delete(s.pending, entry.id)
		due = append(due, entry.id)
	}
	s.mu.Unlock()

	for _, id := range due {
		s.log.Info("sending ack", "operation_id", id)
		if err := s.sink.AckOperation(ctx, id); err != nil {
			s.log.Error("ack not delivered", "operation_id", id, "error", err)
		}
	}
}
