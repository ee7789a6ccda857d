package events

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultHeartbeatTimeout is how long the stream may stay silent before the
// connection is considered dead. The server sends a heartbeat every minute.
const DefaultHeartbeatTimeout = 120 * time.Second

// HeartbeatMonitor calls onMissing when no heartbeat arrives within the
// timeout. The check runs at half the timeout, so a dead connection is
// noticed after one and a half timeouts at worst.
type HeartbeatMonitor struct {
	timeout   time.Duration
	onMissing func()
	log       *slog.Logger

	mu   sync.Mutex
	last time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewHeartbeatMonitor creates a monitor. A timeout of zero or less selects
// the default.
func NewHeartbeatMonitor(timeout time.Duration, onMissing func(), log *slog.Logger) *HeartbeatMonitor {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &HeartbeatMonitor{
		timeout:   timeout,
		onMissing: onMissing,
		log:       log,
		last:      time.Now(),
		stop:      make(chan struct{}),
	}
}

// Start launches the background check.
func (m *HeartbeatMonitor) Start() {
	go m.run()
}

// Stop ends the background check. Safe to call more than once.
func (m *HeartbeatMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Beat records a received heartbeat.
func (m *HeartbeatMonitor) Beat() {
	m.mu.Lock()
	m.last = time.Now()
	m.mu.Unlock()
}

func (m *HeartbeatMonitor) run() {
	m.log.Info("heartbeat monitor started")
	ticker := time.NewTicker(m.timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			m.log.Info("heartbeat monitor stopped")
			return
		case <-ticker.C:
			m.mu.Lock()
			elapsed := time.Since(m.last)
			m.mu.Unlock()
			if elapsed > m.timeout {
				m.log.Error("heartbeat timeout", "elapsed", elapsed)
				m.onMissing()
			}
		}
	}
}
