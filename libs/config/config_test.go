package config

import (
	"testing"
	"time"
)

func TestMinutes(t *testing.T) {
	t.Setenv("TEST_SLOT_MINUTES", "45")
	d, err := Minutes("TEST_SLOT_MINUTES", 30)
	if err != nil {
		t.Fatalf("Minutes failed: %v", err)
	}
	if d != 45*time.Minute {
		t.Fatalf("expected 45m, got %s", d)
	}

	t.Setenv("TEST_SLOT_MINUTES", "")
	d, err = Minutes("TEST_SLOT_MINUTES", 30)
	if err != nil {
		t.Fatalf("Minutes fallback failed: %v", err)
	}
	if d != 30*time.Minute {
		t.Fatalf("expected fallback 30m, got %s", d)
	}

	t.Setenv("TEST_SLOT_MINUTES", "-5")
	if _, err := Minutes("TEST_SLOT_MINUTES", 30); err == nil {
		t.Fatal("expected error for non-positive minutes")
	}
}

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8085")
	p, err := Port("TEST_PORT", "8080")
	if err != nil {
		t.Fatalf("Port failed: %v", err)
	}
	if p != "8085" {
		t.Fatalf("expected 8085, got %s", p)
	}

	t.Setenv("TEST_PORT", "not-a-port")
	if _, err := Port("TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for invalid port")
	}
}
