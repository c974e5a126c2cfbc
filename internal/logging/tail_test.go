package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLogFixture(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loom.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestTailWarningsFiltersByLevel(t *testing.T) {
	path := writeLogFixture(t, []string{
		`{"timestamp":"2026-08-01T10:00:00Z","level":"info","message":"session opened"}`,
		`{"timestamp":"2026-08-01T10:00:01Z","level":"warn","message":"slow response","elapsed":"2.1s"}`,
		`{"timestamp":"2026-08-01T10:00:02Z","level":"error","message":"send failed","status":502}`,
		`{"timestamp":"2026-08-01T10:00:03Z","level":"debug","message":"retry scheduled"}`,
	})

	events, err := TailWarnings(path, 10)
	if err != nil {
		t.Fatalf("TailWarnings: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Message != "slow response" || events[1].Message != "send failed" {
		t.Fatalf("wrong events: %+v", events)
	}
	if events[0].Fields["elapsed"] != "2.1s" {
		t.Fatalf("extra field lost: %+v", events[0].Fields)
	}
}

func TestTailWarningsSkipsGarbageLines(t *testing.T) {
	path := writeLogFixture(t, []string{
		`not json at all`,
		``,
		`{"timestamp":"2026-08-01T10:00:02Z","level":"error","message":"send failed"}`,
		`{"truncated`,
	})

	events, err := TailWarnings(path, 10)
	if err != nil {
		t.Fatalf("TailWarnings: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestTailWarningsKeepsNewestAtLimit(t *testing.T) {
	lines := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		lines = append(lines, `{"level":"warn","message":"event `+string(rune('a'+i%26))+`"}`)
	}
	path := writeLogFixture(t, lines)

	events, err := TailWarnings(path, 5)
	if err != nil {
		t.Fatalf("TailWarnings: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	if got, want := events[4].Message, "event "+string(rune('a'+29%26)); got != want {
		t.Fatalf("last event = %q, want %q", got, want)
	}
}

func TestTailWarningsMissingFile(t *testing.T) {
	_, err := TailWarnings(filepath.Join(t.TempDir(), "nope.log"), 5)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFormatEvent(t *testing.T) {
	got := FormatEvent(Event{
		Timestamp: "2026-08-01T10:00:02Z",
		Level:     "error",
		Message:   "send\nfailed",
		Fields:    map[string]any{"status": float64(502), "session": "7"},
	})
	want := "2026-08-01T10:00:02Z [ERROR] send failed (session=7, status=502)"
	if got != want {
		t.Fatalf("FormatEvent = %q, want %q", got, want)
	}
}

func TestFormatEventBareMessage(t *testing.T) {
	if got := FormatEvent(Event{Message: "hello"}); got != "hello" {
		t.Fatalf("FormatEvent = %q, want %q", got, "hello")
	}
}
