package logger

import "testing"

func TestRedactsSensitiveKeys(t *testing.T) {
	log, logs := Observed()
	log.Info("request", "authorization", "Bearer abc", "imageData", "data:image/png;base64,AAAA", "path", "/history")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["authorization"] != "[REDACTED]" {
		t.Fatalf("authorization not redacted: %v", fields["authorization"])
	}
	if fields["imageData"] != "[REDACTED]" {
		t.Fatalf("imageData not redacted: %v", fields["imageData"])
	}
	if fields["path"] != "/history" {
		t.Fatalf("path should pass through, got %v", fields["path"])
	}
}

func TestWithKeepsFields(t *testing.T) {
	log, logs := Observed()
	log.With("owner", "u1").Warn("slow")
	if got := logs.All()[0].ContextMap()["owner"]; got != "u1" {
		t.Fatalf("expected owner field, got %v", got)
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"production", "development", ""} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.Debug("ok")
	}
}
