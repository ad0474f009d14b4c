package wire

import (
	"encoding/json"
	"testing"
)

func TestEnvelope(t *testing.T) {
	t.Run("NewEnvelope", func(t *testing.T) {
		env, err := NewEnvelope(TypeSubscribe, SubscribePayload{
			Channels: []string{"org:acme:orders"},
		})
		if err != nil {
			t.Fatalf("NewEnvelope: %v", err)
		}

		if env.ID == "" {
			t.Error("expected generated id")
		}
		if env.Type != TypeSubscribe {
			t.Errorf("Type = %q, want subscribe", env.Type)
		}
		if env.Timestamp == 0 {
			t.Error("expected non-zero timestamp")
		}
	})

	t.Run("NilPayload", func(t *testing.T) {
		env, err := NewEnvelope(TypePing, nil)
		if err != nil {
			t.Fatalf("NewEnvelope: %v", err)
		}
		if string(env.Payload) != "{}" {
			t.Errorf("Payload = %s, want {}", env.Payload)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		env, err := NewEnvelope(TypeReplay, ReplayPayload{
			Channel: "org:acme:orders",
			SinceID: "1724-0",
			Count:   100,
		})
		if err != nil {
			t.Fatalf("NewEnvelope: %v", err)
		}

		data, err := env.Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}

		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if decoded.ID != env.ID || decoded.Type != env.Type {
			t.Errorf("decoded envelope %+v does not match original", decoded)
		}

		var payload ReplayPayload
		if err := decoded.DecodePayload(&payload); err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		if payload.Channel != "org:acme:orders" || payload.SinceID != "1724-0" || payload.Count != 100 {
			t.Errorf("payload = %+v", payload)
		}
	})

	t.Run("DecodeRejectsMissingType", func(t *testing.T) {
		if _, err := Decode([]byte(`{"id":"x","payload":{}}`)); err == nil {
			t.Error("expected error for envelope without type")
		}
	})

	t.Run("DecodeRejectsGarbage", func(t *testing.T) {
		if _, err := Decode([]byte(`not json`)); err == nil {
			t.Error("expected error for malformed frame")
		}
	})
}

func TestEvent(t *testing.T) {
	raw := []byte(`{
		"id": "evt-1",
		"type": "order.created",
		"payload": {"total": 42},
		"timestamp": 1724660000000,
		"metadata": {
			"channel": "org:acme:orders",
			"stream_entry_id": "1724660000000-0"
		}
	}`)

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}

	if ev.Channel() != "org:acme:orders" {
		t.Errorf("Channel() = %q", ev.Channel())
	}
	if ev.StreamEntryID() != "1724660000000-0" {
		t.Errorf("StreamEntryID() = %q", ev.StreamEntryID())
	}

	// Absent metadata reads as empty, not a panic.
	var bare Event
	if bare.Channel() != "" || bare.StreamEntryID() != "" {
		t.Error("expected empty metadata accessors on bare event")
	}
}
