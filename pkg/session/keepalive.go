package session

import (
	"sync"
	"time"
)

// livenessWindowFactor derives the dead-man window from the heartbeat
// interval: no pong within interval * 2.5 means the connection is
// dead even if the transport still reports itself open.
const livenessWindowFactor = 2.5

// livenessMonitor periodically pings the gateway and watches the time
// since the last pong. It runs only while the session is connected.
type livenessMonitor struct {
	interval time.Duration
	window   time.Duration

	// sendPing sends a ping envelope. Send failures are left to the
	// window check; a dead connection stops producing pongs.
	sendPing func() error

	// onDead is called at most once when the window is exceeded. The
	// monitor terminates itself after firing.
	onDead func()

	mu       sync.Mutex
	lastPong time.Time
	running  bool
	stopCh   chan struct{}
}

func newLivenessMonitor(interval time.Duration, sendPing func() error, onDead func()) *livenessMonitor {
	return &livenessMonitor{
		interval: interval,
		window:   time.Duration(float64(interval) * livenessWindowFactor),
		sendPing: sendPing,
		onDead:   onDead,
	}
}

// Start begins the monitoring loop. The returned channel is closed
// when the loop exits.
func (m *livenessMonitor) Start() <-chan struct{} {
	done := make(chan struct{})

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		close(done)
		return done
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.lastPong = time.Now()
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.loop()
	}()
	return done
}

// Stop stops the monitoring loop. Idempotent, and safe to call from
// within the onDead callback.
func (m *livenessMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
}

// PongReceived resets the dead-man window.
func (m *livenessMonitor) PongReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPong = time.Now()
}

// sincePong returns the elapsed time since the last pong.
func (m *livenessMonitor) sincePong() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastPong)
}

func (m *livenessMonitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Initial ping so the server sees liveness traffic immediately.
	_ = m.sendPing()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.sincePong() > m.window {
				// The monitor must not keep running against a
				// connection it just declared dead.
				m.Stop()
				m.onDead()
				return
			}
			_ = m.sendPing()
		}
	}
}
