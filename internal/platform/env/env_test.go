package env

import (
	"testing"
	"time"
)

func TestStringDefault(t *testing.T) {
	if got := String("MODEL_IMPORT_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestIntParses(t *testing.T) {
	t.Setenv("MODEL_IMPORT_TEST_INT", "42")
	got, err := Int("MODEL_IMPORT_TEST_INT", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntRejectsGarbage(t *testing.T) {
	t.Setenv("MODEL_IMPORT_TEST_INT", "forty-two")
	if _, err := Int("MODEL_IMPORT_TEST_INT", 7); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestInt64Parses(t *testing.T) {
	t.Setenv("MODEL_IMPORT_TEST_INT64", "65536")
	got, err := Int64("MODEL_IMPORT_TEST_INT64", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 65536 {
		t.Fatalf("expected 65536, got %d", got)
	}
}

func TestDurationDefault(t *testing.T) {
	got, err := Duration("MODEL_IMPORT_TEST_UNSET", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5*time.Second {
		t.Fatalf("expected 5s, got %s", got)
	}
}
