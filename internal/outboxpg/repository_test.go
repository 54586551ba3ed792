package outboxpg

import (
	"encoding/json"
	"testing"
)

func TestNew_DefaultTable(t *testing.T) {
	repo := New(nil, "")
	if repo.table != "outbox_messages" {
		t.Errorf("expected default table outbox_messages, got %s", repo.table)
	}
}

func TestNew_CustomTable(t *testing.T) {
	repo := New(nil, "custom_outbox")
	if repo.table != "custom_outbox" {
		t.Errorf("expected custom_outbox, got %s", repo.table)
	}
}

func TestMarshalMetadata_Nil(t *testing.T) {
	b, err := marshalMetadata(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "{}" {
		t.Errorf("expected empty object for nil metadata, got %s", b)
	}
}

func TestMarshalMetadata_RoundTrip(t *testing.T) {
	in := map[string]any{"delay": float64(500), "routing_key": "orders.created"}
	b, err := marshalMetadata(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out["routing_key"] != "orders.created" {
		t.Errorf("expected routing_key to round-trip, got %v", out["routing_key"])
	}
}
