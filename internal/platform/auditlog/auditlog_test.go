package auditlog

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	event := Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        "alice",
		Action:       "model_import.create",
		ResourceType: "model_import",
		ResourceID:   "42",
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	event.Actor = " "
	if err := event.Validate(); err == nil {
		t.Fatalf("expected blank actor to be rejected")
	}
}

func TestComputeIntegritySHA256IsStable(t *testing.T) {
	event := Event{
		OccurredAt:   time.Unix(1700000000, 0).UTC(),
		Actor:        "alice",
		Action:       "model_import.transition",
		ResourceType: "model_import",
		ResourceID:   "7",
		RequestID:    "rid-1",
		IP:           net.ParseIP("10.0.0.9"),
		UserAgent:    "curl/8.0",
	}
	payload := []byte(`{"from":"created","to":"import_requested"}`)

	first, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	second, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if first != second {
		t.Fatalf("integrity not stable: %q vs %q", first, second)
	}
	if len(first) != 64 || strings.ToLower(first) != first {
		t.Fatalf("expected lowercase hex sha256, got %q", first)
	}

	event.Action = "model_import.delete"
	changed, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if changed == first {
		t.Fatalf("integrity should change with the event")
	}
}

func TestNullIfBlank(t *testing.T) {
	if nullIfBlank("  ").Valid {
		t.Fatalf("blank value should map to NULL")
	}
	got := nullIfBlank(" rid-9 ")
	if !got.Valid || got.String != "rid-9" {
		t.Fatalf("got %+v, want trimmed valid string", got)
	}
}
