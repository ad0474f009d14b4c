package session

import (
	"context"
	"time"

	"github.com/pulsegate/pulsegate-go/pkg/connection"
	"github.com/pulsegate/pulsegate-go/pkg/wire"
)

// reconnectConnectTimeout bounds a single reconnection dial.
const reconnectConnectTimeout = 30 * time.Second

// reconnectLoop re-establishes a lost connection with exponential
// backoff and replays the subscription set. At most one instance runs
// per session; handleConnectionLoss guards the spawn. The context is
// the one current when the loss was handled; Disconnect and Close
// cancel it.
func (s *Session) reconnectLoop(ctx context.Context) {
	defer s.tasks.Done()

	max := s.config.MaxReconnectAttempts
	var lastErr error

	for attempt := 0; attempt < max; attempt++ {
		delay := s.backoff.DelayFor(attempt)
		s.log().Info("reconnecting",
			"attempt", attempt+1, "max_attempts", max, "delay", delay)

		select {
		case <-ctx.Done():
			// Disconnect or Close took over; they own the state.
			s.mu.Lock()
			s.reconnecting = false
			s.mu.Unlock()
			return
		case <-time.After(delay):
		}

		lastErr = s.reconnectAttempt(ctx)
		if lastErr == nil {
			s.log().Info("reconnected", "attempts", attempt+1)
			return
		}
		s.log().Warn("reconnect attempt failed",
			"attempt", attempt+1, "error", lastErr)
	}

	// Terminal failure: the session stays disconnected and the
	// exhaustion is surfaced through the callbacks. Any connection a
	// failed attempt left behind is released here so a stale loss
	// report cannot restart reconnection.
	exhausted := &ReconnectExhaustedError{Attempts: max, LastErr: lastErr}

	s.mu.Lock()
	s.reconnecting = false
	conn := s.conn
	s.conn = nil
	lm := s.liveness
	s.liveness = nil
	from := s.state
	if !s.closed {
		s.state = connection.StateDisconnected
	}
	to := s.state
	cb := s.onReconnectFailed
	s.mu.Unlock()

	if lm != nil {
		lm.Stop()
	}
	if conn != nil {
		_ = conn.Close()
	}

	s.log().Error("reconnection exhausted", "attempts", max, "error", lastErr)
	if from != to {
		s.notifyState(from, to, exhausted.Error())
	}
	if cb != nil {
		cb(exhausted)
	}
}

// reconnectAttempt performs one reconnection attempt: breaker check,
// dial, and subscription replay. On success the reconnecting flag is
// cleared.
func (s *Session) reconnectAttempt(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.reconnecting = false
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == connection.StateConnected {
		// Someone else connected while we were backing off.
		s.reconnecting = false
		s.mu.Unlock()
		return nil
	}
	if !s.breaker.CanAttempt() {
		// Fail fast without a network round-trip.
		retry := s.breaker.RemainingCooldown()
		s.mu.Unlock()
		return &CircuitOpenError{RetryAfter: retry}
	}
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, reconnectConnectTimeout)
	err := s.establish(dialCtx)
	cancel()
	if err != nil {
		return err
	}

	if err := s.replaySubscriptions(); err != nil {
		return err
	}

	// Declare success and verify the connection survived the replay
	// in one critical section: a loss report that landed while the
	// flag was still set was swallowed on the assumption this loop
	// would retry, so it must not exit successfully without a live
	// connection.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.reconnecting = false
		return ErrSessionClosed
	}
	if s.conn == nil || s.state != connection.StateConnected {
		return &ConnectionError{Op: "resubscribe", Cause: ErrNotConnected}
	}
	s.reconnecting = false
	return nil
}

// replaySubscriptions re-issues the entire subscription set in one
// batch, then requests replay from the last-seen position for every
// channel that has one (best effort).
func (s *Session) replaySubscriptions() error {
	s.mu.Lock()

	if len(s.subs) == 0 {
		s.mu.Unlock()
		return nil
	}

	channels := make([]string, 0, len(s.subs))
	for ch := range s.subs {
		channels = append(channels, ch)
	}
	replayFrom := make(map[string]string, len(s.positions))
	for ch := range s.subs {
		if pos, ok := s.positions[ch]; ok {
			replayFrom[ch] = pos
		}
	}

	env, err := wire.NewEnvelope(wire.TypeSubscribe, wire.SubscribePayload{
		Channels: channels,
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.sendLocked(env, ""); err != nil {
		conn := s.conn
		s.mu.Unlock()
		// The fresh connection is already broken; fold it into the
		// normal loss path (the loop stays in charge) and retry.
		if conn != nil {
			s.handleConnectionLoss(conn, err)
		}
		return err
	}
	s.mu.Unlock()

	s.log().Info("subscriptions replayed", "channels", len(channels))

	// Position-based replay requests ride behind the resubscribe.
	for ch, pos := range replayFrom {
		if err := s.Replay(ch, pos, 0); err != nil {
			s.log().Warn("replay request failed", "channel", ch, "error", err)
			break
		}
	}
	return nil
}
