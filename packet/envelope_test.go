package packet

import (
	"testing"
)

func TestNewPacketIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewPacketID()
		if seen[id] {
			t.Fatalf("duplicate packet id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestMarshalDecodeRequest(t *testing.T) {
	raw, err := Marshal("abc123", TypeRequest, RequestData{
		Route:     "ping",
		Arguments: map[string]any{"n": float64(1)},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.PacketID != "abc123" {
		t.Fatalf("expected packet_id abc123, got %s", env.PacketID)
	}
	if env.Type != TypeRequest {
		t.Fatalf("expected type request, got %s", env.Type)
	}

	rd, err := DecodeRequest(env)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if rd.Route != "ping" {
		t.Fatalf("expected route ping, got %s", rd.Route)
	}
	if rd.Arguments["n"] != float64(1) {
		t.Fatalf("expected argument n=1, got %v", rd.Arguments["n"])
	}
}

func TestDecodeUnknownType(t *testing.T) {
	raw := []byte(`{"packet_id":"x","type":"not_a_real_type","data":{}}`)
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode should not fail on an unknown type value: %v", err)
	}
	if env.Type != "not_a_real_type" {
		t.Fatalf("expected the unknown type to decode verbatim, got %s", env.Type)
	}
}

func TestIdentifyRoundTrip(t *testing.T) {
	key := "s3cr3t"
	raw, err := Marshal("IDENTIFY", TypeIdentify, IdentifyData{
		OverrideKey:      &key,
		ClientIdentifier: "one",
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	id, err := DecodeIdentify(env)
	if err != nil {
		t.Fatalf("DecodeIdentify failed: %v", err)
	}
	if id.ClientIdentifier != "one" {
		t.Fatalf("expected client_identifier one, got %s", id.ClientIdentifier)
	}
	if id.OverrideKey == nil || *id.OverrideKey != "s3cr3t" {
		t.Fatalf("expected override_key s3cr3t, got %v", id.OverrideKey)
	}
}
