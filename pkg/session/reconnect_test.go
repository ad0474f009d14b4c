package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/pulsegate-go/pkg/connection"
	"github.com/pulsegate/pulsegate-go/pkg/wire"
)

func TestReconnect(t *testing.T) {
	t.Run("RecoversAfterFailures", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AutoReconnect = true
		cfg.MaxReconnectAttempts = 3

		dialer := &stubDialer{}
		s := newTestSession(t, cfg, dialer)
		require.NoError(t, s.Connect(context.Background()))

		states := make(chan connection.State, 16)
		s.OnStateChange(func(_, to connection.State) { states <- to })

		require.NoError(t, s.Subscribe([]string{"org:acme:orders", "org:acme:alerts"}, nil))

		first := dialer.lastConn()
		first.push(t, eventEnvelope(t, "order.created", "org:acme:orders", "500-3", nil))
		require.Eventually(t, func() bool {
			pos, ok := s.LastPosition("org:acme:orders")
			return ok && pos == "500-3"
		}, 2*time.Second, 5*time.Millisecond)

		// Two failed dials, then the gateway comes back.
		dialer.failNext(2)
		first.breakWith(errConnBroken)

		require.Eventually(t, func() bool {
			return s.State() == connection.StateConnected && dialer.dialCount() == 4
		}, 5*time.Second, 10*time.Millisecond)

		sawReconnecting := false
		for done := false; !done; {
			select {
			case st := <-states:
				if st == connection.StateReconnecting {
					sawReconnecting = true
				}
			default:
				done = true
			}
		}
		assert.True(t, sawReconnecting, "expected a reconnecting transition")

		// The fresh connection carries the full subscription set plus a
		// position-based replay request.
		second := dialer.lastConn()
		require.NotSame(t, first, second)

		require.Eventually(t, func() bool {
			return len(second.sentOfType(t, wire.TypeSubscribe)) == 1
		}, 2*time.Second, 10*time.Millisecond)

		var sub wire.SubscribePayload
		require.NoError(t, second.sentOfType(t, wire.TypeSubscribe)[0].DecodePayload(&sub))
		assert.ElementsMatch(t, []string{"org:acme:orders", "org:acme:alerts"}, sub.Channels)

		require.Eventually(t, func() bool {
			return len(second.sentOfType(t, wire.TypeReplay)) == 1
		}, 2*time.Second, 10*time.Millisecond)

		var replay wire.ReplayPayload
		require.NoError(t, second.sentOfType(t, wire.TypeReplay)[0].DecodePayload(&replay))
		assert.Equal(t, "org:acme:orders", replay.Channel)
		assert.Equal(t, "500-3", replay.SinceID)

		assert.Equal(t, []string{"org:acme:alerts", "org:acme:orders"}, s.Subscriptions())
	})

	t.Run("DeadConnectionsFromDialer", func(t *testing.T) {
		// The dialer starts handing out connections that are already
		// broken: the read loop reports the loss before (or while)
		// the resubscribe batch goes out. Every attempt must fail
		// cleanly and the loop must exhaust, never dereferencing a
		// torn-down connection.
		cfg := testConfig(t)
		cfg.AutoReconnect = true
		cfg.MaxReconnectAttempts = 2

		dialer := &stubDialer{}
		s := newTestSession(t, cfg, dialer)
		require.NoError(t, s.Connect(context.Background()))
		require.NoError(t, s.Subscribe([]string{"org:acme:orders"}, nil))

		failed := make(chan *ReconnectExhaustedError, 1)
		s.OnReconnectFailed(func(err *ReconnectExhaustedError) { failed <- err })

		dialer.handOutDeadConns()
		dialer.lastConn().breakWith(errConnBroken)

		select {
		case err := <-failed:
			assert.Equal(t, 2, err.Attempts)
			assert.Error(t, err.LastErr)
		case <-time.After(5 * time.Second):
			t.Fatal("exhaustion callback not fired")
		}

		assert.Equal(t, connection.StateDisconnected, s.State())
		assert.Equal(t, 3, dialer.dialCount(), "1 initial + 2 reconnect dials")
	})

	t.Run("ResubscribeSendFailureRetries", func(t *testing.T) {
		// The freshly dialed connection dies on the resubscribe send.
		// The loss report lands while the orchestrator is still
		// running, so it is swallowed; the attempt must report
		// failure and the same loop must retry until a connection
		// survives the replay — not exit in StateReconnecting with no
		// orchestrator behind it.
		cfg := testConfig(t)
		cfg.AutoReconnect = true
		cfg.MaxReconnectAttempts = 3

		dialer := &stubDialer{}
		s := newTestSession(t, cfg, dialer)
		require.NoError(t, s.Connect(context.Background()))
		require.NoError(t, s.Subscribe([]string{"org:acme:orders"}, nil))

		dialer.breakSendOnNextConns(1)
		dialer.lastConn().breakWith(errConnBroken)

		require.Eventually(t, func() bool {
			return s.State() == connection.StateConnected && dialer.dialCount() == 3
		}, 5*time.Second, 10*time.Millisecond)

		assert.Equal(t, []string{"org:acme:orders"}, s.Subscriptions())

		third := dialer.lastConn()
		require.Eventually(t, func() bool {
			return len(third.sentOfType(t, wire.TypeSubscribe)) == 1
		}, 2*time.Second, 10*time.Millisecond)

		// The session is fully operational, not wedged.
		require.NoError(t, s.Publish("org:acme:orders", "order.created", "x", nil))
	})

	t.Run("ExhaustsAfterMaxAttempts", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AutoReconnect = true
		cfg.MaxReconnectAttempts = 2

		dialer := &stubDialer{}
		s := newTestSession(t, cfg, dialer)
		require.NoError(t, s.Connect(context.Background()))

		failed := make(chan *ReconnectExhaustedError, 1)
		s.OnReconnectFailed(func(err *ReconnectExhaustedError) { failed <- err })

		dialer.failNext(1000)
		dialer.lastConn().breakWith(errConnBroken)

		select {
		case err := <-failed:
			assert.Equal(t, 2, err.Attempts)
			assert.Error(t, err.LastErr)
		case <-time.After(5 * time.Second):
			t.Fatal("exhaustion callback not fired")
		}

		assert.Equal(t, connection.StateDisconnected, s.State())
		assert.Equal(t, 3, dialer.dialCount(), "1 initial + 2 reconnect attempts")

		// The loop is done; nothing keeps dialing.
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 3, dialer.dialCount())
	})

	t.Run("CloseDuringBackoff", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AutoReconnect = true
		cfg.Backoff.Base = time.Minute
		cfg.Backoff.Max = time.Minute

		dialer := &stubDialer{}
		s := newTestSession(t, cfg, dialer)
		require.NoError(t, s.Connect(context.Background()))

		dialer.lastConn().breakWith(errConnBroken)

		require.Eventually(t, func() bool {
			return s.State() == connection.StateReconnecting
		}, 2*time.Second, 5*time.Millisecond)

		// Close cancels the pending backoff; it must not wait a minute.
		done := make(chan struct{})
		go func() {
			_ = s.Close()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Close blocked on reconnect backoff")
		}

		assert.Equal(t, connection.StateDisconnected, s.State())
		assert.Equal(t, 1, dialer.dialCount())
	})

	t.Run("BreakerGatesAttempts", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AutoReconnect = true
		cfg.MaxReconnectAttempts = 5
		cfg.Breaker.FailureThreshold = 2
		cfg.Breaker.Cooldown = time.Hour

		dialer := &stubDialer{}
		s := newTestSession(t, cfg, dialer)
		require.NoError(t, s.Connect(context.Background()))

		failed := make(chan *ReconnectExhaustedError, 1)
		s.OnReconnectFailed(func(err *ReconnectExhaustedError) { failed <- err })

		dialer.failNext(1000)
		dialer.lastConn().breakWith(errConnBroken)

		select {
		case err := <-failed:
			// Two real dials open the breaker; the remaining attempts
			// are denied without touching the network.
			var oerr *CircuitOpenError
			assert.ErrorAs(t, err.LastErr, &oerr)
		case <-time.After(5 * time.Second):
			t.Fatal("exhaustion callback not fired")
		}

		assert.Equal(t, 3, dialer.dialCount(), "1 initial + 2 dials before the breaker opened")
	})
}
