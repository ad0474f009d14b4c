package trace

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestEncodeDecodeEvent(t *testing.T) {
	event := NewEnvelopeEvent("sess-1", "acme", DirectionOut, "publish", "env-1", "org:acme:orders", 128)

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}

	if decoded.SessionID != "sess-1" || decoded.Tenant != "acme" {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Category != CategoryEnvelope || decoded.Direction != DirectionOut {
		t.Errorf("category/direction = %v/%v", decoded.Category, decoded.Direction)
	}
	if decoded.Envelope == nil || decoded.Envelope.Type != "publish" || decoded.Envelope.Size != 128 {
		t.Errorf("envelope = %+v", decoded.Envelope)
	}
	if decoded.Timestamp.IsZero() {
		t.Error("timestamp lost in round trip")
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.trace")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	logger.Log(NewStateEvent("sess-1", "acme", "DISCONNECTED", "CONNECTING", ""))
	logger.Log(NewEnvelopeEvent("sess-1", "acme", DirectionOut, "subscribe", "env-1", "org:acme:orders", 90))
	logger.Log(NewErrorEvent("sess-1", "acme", "dispatch", errors.New("handler failed")))

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Logging after close is a silent no-op.
	logger.Log(NewStateEvent("sess-1", "acme", "CONNECTED", "DISCONNECTED", "closed"))

	reader, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	events, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}

	if events[0].StateChange == nil || events[0].StateChange.To != "CONNECTING" {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Envelope == nil || events[1].Envelope.Channel != "org:acme:orders" {
		t.Errorf("event 1 = %+v", events[1])
	}
	if events[2].Error == nil || events[2].Error.Op != "dispatch" {
		t.Errorf("event 2 = %+v", events[2])
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.trace")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				logger.Log(NewEnvelopeEvent("sess-1", "acme", DirectionIn, "event", "", "", 10))
			}
		}()
	}
	wg.Wait()

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reader, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	events, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != 200 {
		t.Errorf("len(events) = %d, want 200", len(events))
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	adapter := NewSlogAdapter(logger)

	adapter.Log(NewEnvelopeEvent("sess-1", "acme", DirectionOut, "ping", "env-9", "", 40))
	out := buf.String()
	for _, want := range []string{"env_type=ping", "direction=OUT", "session_id=sess-1"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}

	buf.Reset()
	adapter.Log(NewErrorEvent("sess-1", "acme", "read", errors.New("boom")))
	if !bytes.Contains(buf.Bytes(), []byte("level=ERROR")) {
		t.Errorf("error event not logged at error level: %s", buf.String())
	}
}

func TestMultiLogger(t *testing.T) {
	var mu sync.Mutex
	var got []Event

	sink := loggerFunc(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	multi := NewMultiLogger(sink, NoopLogger{}, sink)
	multi.Log(Event{Timestamp: time.Now(), SessionID: "s", Category: CategoryState})

	if len(got) != 2 {
		t.Errorf("len(got) = %d, want 2", len(got))
	}
}

type loggerFunc func(Event)

func (f loggerFunc) Log(e Event) { f(e) }
