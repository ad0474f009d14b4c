package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegate/pulsegate-go/pkg/connection"
	"github.com/pulsegate/pulsegate-go/pkg/token"
	"github.com/pulsegate/pulsegate-go/pkg/trace"
	"github.com/pulsegate/pulsegate-go/pkg/transport"
	"github.com/pulsegate/pulsegate-go/pkg/version"
	"github.com/pulsegate/pulsegate-go/pkg/wire"
)

// ChannelPrefix returns the channel name prefix for a tenant. Every
// channel a session touches must carry its tenant's prefix.
func ChannelPrefix(tenant string) string {
	return "org:" + tenant + ":"
}

// PublishOptions tunes a single Publish call.
type PublishOptions struct {
	// CorrelationID correlates the event with a request. Generated
	// when empty.
	CorrelationID string

	// DeliveryGuarantee is "at_least_once" or "at_most_once".
	DeliveryGuarantee string

	// PartitionKey routes the event to a stream partition.
	PartitionKey string
}

// tracerBox wraps the trace sink so it can live in an atomic pointer.
type tracerBox struct {
	l trace.Logger
}

// Session is a stateful client session with the PulseGate gateway.
//
// All exported methods are safe for concurrent use. Close must not be
// called from inside an event handler: it waits for the read loop,
// and the read loop is what runs handlers.
type Session struct {
	config Config
	id     string
	tenant string

	dialer transport.Dialer
	logger atomic.Pointer[slog.Logger]
	tracer atomic.Pointer[tracerBox]

	// traceFile is owned by the session when Debug+TracePath are set.
	traceFile *trace.FileLogger

	breaker  *connection.Breaker
	backoff  *connection.Backoff
	registry *registry

	// ctx cancels the reconnect loop. Disconnect and Close cancel
	// it; Connect replaces a cancelled one. Guarded by mu.
	ctx    context.Context
	cancel context.CancelFunc

	// tasks tracks the read loop, liveness monitor, and reconnect
	// loop so Close can join them.
	tasks sync.WaitGroup

	mu           sync.Mutex
	state        connection.State
	conn         transport.Conn
	liveness     *livenessMonitor
	subs         map[string]struct{}
	positions    map[string]string
	reconnecting bool
	closed       bool

	onStateChange     func(from, to connection.State)
	onReconnectFailed func(err *ReconnectExhaustedError)
}

// New creates a session for the given config. The tenant identifier
// is extracted from the auth token here and never changes afterwards.
func New(cfg Config) (*Session, error) {
	return NewWithDialer(cfg, nil)
}

// NewWithDialer creates a session using a custom transport dialer.
// A nil dialer selects the websocket transport.
func NewWithDialer(cfg Config, dialer transport.Dialer) (*Session, error) {
	cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	tenant, err := token.TenantID(cfg.Token)
	if err != nil {
		return nil, &ValidationError{Reason: "token must carry a tenant identifier: " + err.Error()}
	}

	if dialer == nil {
		dialer = transport.NewWebsocketDialer(transport.WebsocketConfig{
			MaxMessageSize: int64(cfg.MaxPayloadBytes) * 2,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		config:    cfg,
		id:        uuid.NewString(),
		tenant:    tenant,
		dialer:    dialer,
		breaker:   connection.NewBreakerWithConfig(cfg.Breaker),
		backoff:   connection.NewBackoffWithConfig(cfg.Backoff),
		ctx:       ctx,
		cancel:    cancel,
		state:     connection.StateDisconnected,
		subs:      make(map[string]struct{}),
		positions: make(map[string]string),
	}

	logger := slog.Default().With("tenant", tenant)
	s.logger.Store(logger)

	s.registry = newRegistry(func(eventType string, err error) {
		s.log().Error("event handler failed", "event_type", eventType, "error", err)
		s.trace().Log(trace.NewErrorEvent(s.id, s.tenant, "dispatch", err))
	})

	if err := s.initTracer(logger); err != nil {
		cancel()
		return nil, err
	}

	logger.Info("session initialized", "client_type", cfg.ClientType)
	return s, nil
}

// initTracer wires the trace sink from the Debug/TracePath config.
func (s *Session) initTracer(logger *slog.Logger) error {
	if !s.config.Debug {
		s.tracer.Store(&tracerBox{l: trace.NoopLogger{}})
		return nil
	}

	sinks := []trace.Logger{trace.NewSlogAdapter(logger)}
	if s.config.TracePath != "" {
		fl, err := trace.NewFileLogger(s.config.TracePath)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		s.traceFile = fl
		sinks = append(sinks, fl)
	}
	s.tracer.Store(&tracerBox{l: trace.NewMultiLogger(sinks...)})
	return nil
}

func (s *Session) log() *slog.Logger { return s.logger.Load() }

func (s *Session) trace() trace.Logger { return s.tracer.Load().l }

// SetLogger replaces the session logger. The Debug trace sink keeps
// the logger it was built with; install a new sink via SetTraceLogger
// if the traces should follow.
func (s *Session) SetLogger(logger *slog.Logger) {
	s.logger.Store(logger.With("tenant", s.tenant))
}

// SetTraceLogger replaces the protocol trace sink.
func (s *Session) SetTraceLogger(l trace.Logger) {
	if l == nil {
		l = trace.NoopLogger{}
	}
	s.tracer.Store(&tracerBox{l: l})
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// TenantID returns the tenant extracted from the auth token.
func (s *Session) TenantID() string { return s.tenant }

// State returns the current connection state.
func (s *Session) State() connection.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected returns true while the session is connected.
func (s *Session) IsConnected() bool {
	return s.State() == connection.StateConnected
}

// Subscriptions returns a sorted copy of the active subscription set.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.subs))
	for ch := range s.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// LastPosition returns the last-seen stream position for a channel.
func (s *Session) LastPosition(channel string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[channel]
	return pos, ok
}

// OnStateChange sets a callback for connection state transitions.
// Set callbacks before Connect.
func (s *Session) OnStateChange(fn func(from, to connection.State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnReconnectFailed sets a callback fired when the reconnect loop
// exhausts its attempts. This is the terminal-failure signal: the
// call that triggered reconnection has long returned.
func (s *Session) OnReconnectFailed(fn func(err *ReconnectExhaustedError)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnectFailed = fn
}

// On registers a handler for an event type and returns its id.
func (s *Session) On(eventType string, h Handler) HandlerID {
	return s.registry.add(eventType, h)
}

// Off unregisters a single handler by id.
func (s *Session) Off(eventType string, id HandlerID) {
	s.registry.remove(eventType, id)
}

// OffAll unregisters every handler for an event type.
func (s *Session) OffAll(eventType string) {
	s.registry.removeAll(eventType)
}

// Connect establishes the gateway connection. It is a no-op when
// already connected, connecting, or reconnecting. The circuit breaker
// may deny the attempt; the returned CircuitOpenError carries the
// remaining cooldown.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch s.state {
	case connection.StateConnected, connection.StateConnecting, connection.StateReconnecting:
		s.mu.Unlock()
		return nil
	}
	if !s.breaker.CanAttempt() {
		retry := s.breaker.RemainingCooldown()
		s.mu.Unlock()
		return &CircuitOpenError{RetryAfter: retry}
	}
	// A previous Disconnect cancelled the task context; background
	// tasks for this connection need a live one.
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	from := s.state
	s.state = connection.StateConnecting
	s.mu.Unlock()
	s.notifyState(from, connection.StateConnecting, "")

	if err := s.establish(ctx); err != nil {
		s.mu.Lock()
		prev := s.state
		if !s.closed {
			s.state = connection.StateDisconnected
		}
		now := s.state
		s.mu.Unlock()
		if prev != now {
			s.notifyState(prev, now, "connect failed")
		}
		return err
	}

	// A session that disconnected and reconnected by hand still holds
	// its subscription set; the gateway does not. Best effort: a send
	// failure here goes through the normal loss path.
	if err := s.replaySubscriptions(); err != nil {
		s.log().Warn("resubscribe after connect failed", "error", err)
	}
	return nil
}

// establish dials the gateway and installs the connection. The caller
// must have placed the session in Connecting or Reconnecting state
// and checked the circuit breaker.
func (s *Session) establish(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.config.Token)
	header.Set("User-Agent", version.UserAgent(s.config.ClientType))

	conn, err := s.dialer.Dial(ctx, s.config.URL, header)
	if err != nil {
		s.breaker.RecordFailure()
		s.log().Error("connect failed", "url", s.config.URL, "error", err)
		return &ConnectionError{Op: "dial", Cause: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		// Disconnect (or the caller) gave up while the dial was in
		// flight; do not install the connection.
		s.mu.Unlock()
		_ = conn.Close()
		return &ConnectionError{Op: "dial", Cause: err}
	}

	from := s.state
	s.conn = conn
	s.state = connection.StateConnected
	s.breaker.RecordSuccess()

	s.tasks.Add(1)
	go s.readLoop(conn)

	if s.config.HeartbeatInterval > 0 {
		lm := newLivenessMonitor(
			s.config.HeartbeatInterval,
			func() error { return s.sendPing(conn) },
			func() { s.handleConnectionLoss(conn, ErrLivenessTimeout) },
		)
		s.liveness = lm
		done := lm.Start()
		s.tasks.Add(1)
		go func() {
			defer s.tasks.Done()
			<-done
		}()
	}
	s.mu.Unlock()

	s.log().Info("connected", "url", s.config.URL)
	s.notifyState(from, connection.StateConnected, "")
	return nil
}

// Disconnect drops the gateway connection: the liveness monitor, the
// read loop, and any in-flight reconnect loop are cancelled and
// joined before it returns. Unlike Close, the session stays usable
// and Connect may be called again. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	from := s.state
	if from == connection.StateDisconnected && !s.reconnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = connection.StateDisconnected
	conn := s.conn
	s.conn = nil
	lm := s.liveness
	s.liveness = nil
	cancel := s.cancel
	s.mu.Unlock()

	s.teardown(cancel, lm, conn)

	if from != connection.StateDisconnected {
		s.notifyState(from, connection.StateDisconnected, "disconnected")
	}
	s.log().Info("disconnected")
	return nil
}

// Close tears the session down for good: both background tasks and
// the connection are stopped and joined before it returns. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	from := s.state
	s.state = connection.StateDisconnected
	conn := s.conn
	s.conn = nil
	lm := s.liveness
	s.liveness = nil
	cancel := s.cancel
	s.mu.Unlock()

	s.teardown(cancel, lm, conn)

	if s.traceFile != nil {
		_ = s.traceFile.Close()
	}

	if from != connection.StateDisconnected {
		s.notifyState(from, connection.StateDisconnected, "session closed")
	}
	s.log().Info("session closed")
	return nil
}

// teardown cancels the reconnect loop, stops the liveness monitor,
// unblocks the read loop, and joins them all. Never called with s.mu
// held.
func (s *Session) teardown(cancel context.CancelFunc, lm *livenessMonitor, conn transport.Conn) {
	cancel()
	if lm != nil {
		lm.Stop()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.tasks.Wait()
}

// Subscribe subscribes to the given channels. Channels are added to
// the subscription set only after the request was sent successfully.
func (s *Session) Subscribe(channels []string, opts *wire.SubscribeOptions) error {
	if len(channels) == 0 {
		return &ValidationError{Reason: "no channels given"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireConnectedLocked(); err != nil {
		return err
	}

	added := 0
	for _, ch := range channels {
		if _, ok := s.subs[ch]; !ok {
			added++
		}
	}
	if len(s.subs)+added > s.config.MaxChannels {
		return &ValidationError{Reason: fmt.Sprintf(
			"subscription limit exceeded: %d active + %d new > %d",
			len(s.subs), added, s.config.MaxChannels)}
	}

	for _, ch := range channels {
		if err := s.validateChannel(ch); err != nil {
			return err
		}
	}

	env, err := wire.NewEnvelope(wire.TypeSubscribe, wire.SubscribePayload{
		Channels: channels,
		Options:  opts,
	})
	if err != nil {
		return err
	}
	if err := s.sendLocked(env, ""); err != nil {
		return err
	}

	for _, ch := range channels {
		s.subs[ch] = struct{}{}
	}
	s.log().Info("subscribed", "channels", channels)
	return nil
}

// Unsubscribe removes subscriptions. Channels leave the subscription
// set only after the request was sent successfully.
func (s *Session) Unsubscribe(channels []string) error {
	if len(channels) == 0 {
		return &ValidationError{Reason: "no channels given"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireConnectedLocked(); err != nil {
		return err
	}
	for _, ch := range channels {
		if err := s.validateChannel(ch); err != nil {
			return err
		}
	}

	env, err := wire.NewEnvelope(wire.TypeUnsubscribe, wire.SubscribePayload{
		Channels: channels,
	})
	if err != nil {
		return err
	}
	if err := s.sendLocked(env, ""); err != nil {
		return err
	}

	for _, ch := range channels {
		delete(s.subs, ch)
	}
	s.log().Info("unsubscribed", "channels", channels)
	return nil
}

// Publish sends an event to a channel. The serialized payload must
// not exceed the configured byte ceiling.
func (s *Session) Publish(channel, eventType string, payload any, opts *PublishOptions) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return &ValidationError{Reason: "payload not serializable: " + err.Error()}
	}
	if len(raw) > s.config.MaxPayloadBytes {
		return &PayloadTooLargeError{Size: len(raw), Limit: s.config.MaxPayloadBytes}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireConnectedLocked(); err != nil {
		return err
	}
	if err := s.validateChannel(channel); err != nil {
		return err
	}

	correlationID := ""
	var wireOpts *wire.PublishOptions
	if opts != nil {
		correlationID = opts.CorrelationID
		if opts.DeliveryGuarantee != "" || opts.PartitionKey != "" {
			wireOpts = &wire.PublishOptions{
				DeliveryGuarantee: opts.DeliveryGuarantee,
				PartitionKey:      opts.PartitionKey,
			}
		}
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	event := wire.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
		Metadata: map[string]string{
			wire.MetaCorrelationID: correlationID,
			wire.MetaTenantID:      s.tenant,
			wire.MetaChannel:       channel,
		},
	}

	env, err := wire.NewEnvelope(wire.TypePublish, wire.PublishPayload{
		Channel: channel,
		Event:   event,
		Options: wireOpts,
	})
	if err != nil {
		return err
	}
	if err := s.sendLocked(env, channel); err != nil {
		return err
	}

	s.log().Debug("published", "event_type", eventType, "channel", channel)
	return nil
}

// Replay requests historic events from a channel. A non-positive
// count asks for the default of 100 events.
func (s *Session) Replay(channel, sinceID string, count int) error {
	if count <= 0 {
		count = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireConnectedLocked(); err != nil {
		return err
	}
	if err := s.validateChannel(channel); err != nil {
		return err
	}

	env, err := wire.NewEnvelope(wire.TypeReplay, wire.ReplayPayload{
		Channel: channel,
		SinceID: sinceID,
		Count:   count,
	})
	if err != nil {
		return err
	}
	if err := s.sendLocked(env, channel); err != nil {
		return err
	}

	s.log().Info("replay requested", "channel", channel, "since", sinceID, "count", count)
	return nil
}

// requireConnectedLocked checks the session can perform a channel
// operation. Caller holds s.mu.
func (s *Session) requireConnectedLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.state != connection.StateConnected || s.conn == nil {
		return ErrNotConnected
	}
	return nil
}

// validateChannel checks the channel belongs to the session's tenant.
func (s *Session) validateChannel(channel string) error {
	if !strings.HasPrefix(channel, ChannelPrefix(s.tenant)) {
		return &TenantIsolationError{Channel: channel, Tenant: s.tenant}
	}
	return nil
}

// sendLocked encodes and sends an envelope on the current connection.
// Caller holds s.mu. The connection may have been torn down by a
// concurrent loss report since the caller's last check.
func (s *Session) sendLocked(env *wire.Envelope, channel string) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := s.conn.Send(data); err != nil {
		return &ConnectionError{Op: "send", Cause: err}
	}
	s.trace().Log(trace.NewEnvelopeEvent(
		s.id, s.tenant, trace.DirectionOut, env.Type, env.ID, channel, len(data)))
	return nil
}

// sendPing sends a ping envelope on the given connection, bypassing
// the session lock so the liveness monitor never blocks on it.
func (s *Session) sendPing(conn transport.Conn) error {
	env, err := wire.NewEnvelope(wire.TypePing, nil)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := conn.Send(data); err != nil {
		return err
	}
	s.trace().Log(trace.NewEnvelopeEvent(
		s.id, s.tenant, trace.DirectionOut, wire.TypePing, env.ID, "", len(data)))
	return nil
}

// readLoop receives frames until the connection breaks, then hands
// off to connection-loss handling. One read loop runs per connection.
func (s *Session) readLoop(conn transport.Conn) {
	defer s.tasks.Done()

	for {
		data, err := conn.Receive()
		if err != nil {
			s.handleConnectionLoss(conn, err)
			return
		}
		s.handleFrame(data)
	}
}

// handleFrame decodes and routes one inbound frame. Parse failures
// are logged and never terminate the read loop.
func (s *Session) handleFrame(data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		s.log().Warn("dropping malformed frame", "error", err)
		s.trace().Log(trace.NewErrorEvent(s.id, s.tenant, "decode", err))
		return
	}

	channel := ""
	defer func() {
		s.trace().Log(trace.NewEnvelopeEvent(
			s.id, s.tenant, trace.DirectionIn, env.Type, env.ID, channel, len(data)))
	}()

	switch env.Type {
	case wire.TypeEvent:
		var event wire.Event
		if err := env.DecodePayload(&event); err != nil {
			s.log().Warn("dropping malformed event payload", "error", err)
			return
		}
		channel = event.Channel()
		if ch, pos := event.Channel(), event.StreamEntryID(); ch != "" && pos != "" {
			s.mu.Lock()
			s.positions[ch] = pos
			s.mu.Unlock()
		}
		s.registry.dispatch(event)

	case wire.TypePong:
		s.mu.Lock()
		lm := s.liveness
		s.mu.Unlock()
		if lm != nil {
			lm.PongReceived()
		}

	case wire.TypeAck:
		var payload wire.AckPayload
		if err := env.DecodePayload(&payload); err == nil && payload.ProtocolVersion != "" {
			s.checkProtocolVersion(payload.ProtocolVersion)
		}
		s.log().Debug("ack received", "id", env.ID)

	case wire.TypeError:
		var payload wire.ErrorPayload
		if err := env.DecodePayload(&payload); err != nil {
			s.log().Error("gateway error (unparseable payload)", "id", env.ID)
			return
		}
		s.log().Error("gateway error",
			"code", payload.Error.Code, "message", payload.Error.Message)

	default:
		s.log().Debug("ignoring envelope", "type", env.Type)
	}
}

// checkProtocolVersion compares the gateway's advertised protocol
// version against the one this library implements. A major-version
// mismatch is logged; the session keeps running on a best-effort
// basis.
func (s *Session) checkProtocolVersion(advertised string) {
	theirs, err := version.Parse(advertised)
	if err != nil {
		s.log().Warn("gateway sent malformed protocol version", "version", advertised)
		return
	}
	mine, _ := version.Parse(version.Protocol)
	if !mine.Compatible(theirs) {
		s.log().Warn("gateway protocol version incompatible",
			"gateway", theirs.String(), "client", mine.String())
	}
}

// handleConnectionLoss reacts to the read loop ending or the liveness
// monitor declaring death. Loss reports from a connection that is no
// longer current are ignored, so at most one reconnect loop is ever
// spawned per loss.
func (s *Session) handleConnectionLoss(failed transport.Conn, cause error) {
	s.mu.Lock()
	if s.closed || s.conn != failed {
		s.mu.Unlock()
		return
	}

	s.conn = nil
	if s.liveness != nil {
		s.liveness.Stop()
		s.liveness = nil
	}
	_ = failed.Close()

	from := s.state
	var to connection.State
	switch {
	case s.config.AutoReconnect && !s.reconnecting:
		s.reconnecting = true
		to = connection.StateReconnecting
		s.tasks.Add(1)
		go s.reconnectLoop(s.ctx)
	case s.reconnecting:
		to = connection.StateReconnecting
	default:
		to = connection.StateDisconnected
	}
	s.state = to
	s.mu.Unlock()

	s.log().Warn("connection lost", "cause", cause)
	if from != to {
		s.notifyState(from, to, cause.Error())
	}
}

// notifyState logs, traces, and reports a state transition. Never
// called with s.mu held.
func (s *Session) notifyState(from, to connection.State, reason string) {
	s.log().Debug("state change", "from", from, "to", to, "reason", reason)
	s.trace().Log(trace.NewStateEvent(s.id, s.tenant, from.String(), to.String(), reason))

	s.mu.Lock()
	cb := s.onStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(from, to)
	}
}
