package observability

import (
	"bytes"
	"strings"
	"testing"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer RecoverPanic(logger, "cookie probe")
		panic("nil map")
	}()

	entry := decodeEntry(t, &buf)
	if entry["panic"] != "nil map" {
		t.Errorf("Expected panic field, got %v", entry["panic"])
	}
	if entry["context"] != "cookie probe" {
		t.Errorf("Expected context field, got %v", entry["context"])
	}
	if !strings.Contains(entry["stack"].(string), "TestRecoverPanic") {
		t.Error("Expected stack trace to mention the test")
	}
}

func TestMustRecover(t *testing.T) {
	if err := MustRecover(nil); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
	if err := MustRecover("boom"); err == nil || err.Error() != "panic: boom" {
		t.Errorf("Unexpected error %v", err)
	}
}
