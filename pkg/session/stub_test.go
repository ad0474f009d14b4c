package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pulsegate/pulsegate-go/pkg/transport"
	"github.com/pulsegate/pulsegate-go/pkg/wire"
)

// errConnBroken simulates an unexpected transport failure.
var errConnBroken = errors.New("stub: connection broken")

// syncBuffer collects log output from the session's background
// goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// stubConn is an in-memory transport connection driven by the test.
type stubConn struct {
	mu        sync.Mutex
	sent      [][]byte
	breakSend bool

	inbound chan []byte
	broken  chan struct{}
	brkErr  error

	breakOnce sync.Once
}

func newStubConn() *stubConn {
	return &stubConn{
		inbound: make(chan []byte, 64),
		broken:  make(chan struct{}),
	}
}

func (c *stubConn) Send(data []byte) error {
	select {
	case <-c.broken:
		return errConnBroken
	default:
	}

	c.mu.Lock()
	if c.breakSend {
		c.breakSend = false
		c.mu.Unlock()
		c.breakWith(errConnBroken)
		return errConnBroken
	}
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *stubConn) Receive() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.broken:
		return nil, c.brkErr
	}
}

func (c *stubConn) Close() error {
	c.breakWith(errors.New("stub: closed"))
	return nil
}

// breakWith terminates the connection with the given receive error.
func (c *stubConn) breakWith(err error) {
	c.breakOnce.Do(func() {
		c.brkErr = err
		close(c.broken)
	})
}

// push delivers an envelope to the session's read loop.
func (c *stubConn) push(t *testing.T, env *wire.Envelope) {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	c.pushRaw(data)
}

func (c *stubConn) pushRaw(data []byte) {
	c.inbound <- data
}

// sentEnvelopes decodes everything the session has sent so far.
func (c *stubConn) sentEnvelopes(t *testing.T) []*wire.Envelope {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	envs := make([]*wire.Envelope, 0, len(c.sent))
	for _, data := range c.sent {
		env, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("decode sent frame: %v", err)
		}
		envs = append(envs, env)
	}
	return envs
}

// sentOfType returns the sent envelopes of one type.
func (c *stubConn) sentOfType(t *testing.T, envType string) []*wire.Envelope {
	t.Helper()

	var out []*wire.Envelope
	for _, env := range c.sentEnvelopes(t) {
		if env.Type == envType {
			out = append(out, env)
		}
	}
	return out
}

// stubDialer scripts dial outcomes: the first failBefore dials fail,
// later ones produce fresh stubConns. deadConns hands out connections
// that are already broken; breakSendConns hands out connections whose
// first send fails and breaks them.
type stubDialer struct {
	mu             sync.Mutex
	conns          []*stubConn
	dials          int
	failBefore     int
	alwaysFail     bool
	deadConns      bool
	breakSendConns int
}

func (d *stubDialer) Dial(_ context.Context, _ string, _ http.Header) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.alwaysFail || d.dials <= d.failBefore {
		return nil, errors.New("stub: dial refused")
	}

	c := newStubConn()
	if d.deadConns {
		c.breakWith(errConnBroken)
	}
	if d.breakSendConns > 0 {
		d.breakSendConns--
		c.breakSend = true
	}
	d.conns = append(d.conns, c)
	return c, nil
}

// handOutDeadConns makes every subsequent dial succeed but return a
// connection that is already broken.
func (d *stubDialer) handOutDeadConns() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deadConns = true
}

// breakSendOnNextConns makes the next n dialed connections fail and
// break on their first send.
func (d *stubDialer) breakSendOnNextConns(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakSendConns = n
}

// failNext makes the next n dials fail, regardless of how many dials
// have already happened.
func (d *stubDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failBefore = d.dials + n
}

func (d *stubDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *stubDialer) lastConn() *stubConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// testToken mints a token carrying the given tenant claim.
func testToken(t *testing.T, tenant string) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":            "user-1",
		"organizationId": tenant,
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// testConfig builds a config suitable for fast tests: liveness
// disabled, tiny deterministic backoff, reconnection off unless the
// test turns it on.
func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.URL = "ws://gateway.test/ws"
	cfg.Token = testToken(t, "acme")
	cfg.AutoReconnect = false
	cfg.HeartbeatInterval = -1
	cfg.Backoff.Base = time.Millisecond
	cfg.Backoff.Max = 2 * time.Millisecond
	return cfg
}

// newTestSession builds a session wired to a stub dialer.
func newTestSession(t *testing.T, cfg Config, dialer *stubDialer) *Session {
	t.Helper()

	s, err := NewWithDialer(cfg, dialer)
	if err != nil {
		t.Fatalf("NewWithDialer: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// eventEnvelope builds an inbound event envelope.
func eventEnvelope(t *testing.T, eventType, channel, streamID string, payload any) *wire.Envelope {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	meta := map[string]string{}
	if channel != "" {
		meta[wire.MetaChannel] = channel
	}
	if streamID != "" {
		meta[wire.MetaStreamEntryID] = streamID
	}

	env, err := wire.NewEnvelope(wire.TypeEvent, wire.Event{
		ID:        "evt-1",
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
		Metadata:  meta,
	})
	if err != nil {
		t.Fatalf("build event envelope: %v", err)
	}
	return env
}
