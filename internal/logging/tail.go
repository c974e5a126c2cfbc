package logging

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
)

// Event is one decoded line of the JSON log file. Structured fields
// beyond the standard keys end up in Fields.
type Event struct {
	Timestamp string
	Level     string
	Message   string
	Fields    map[string]any
}

func (e *Event) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Timestamp, _ = raw["timestamp"].(string)
	e.Level, _ = raw["level"].(string)
	e.Message, _ = raw["message"].(string)
	delete(raw, "timestamp")
	delete(raw, "level")
	delete(raw, "message")
	delete(raw, "caller")
	delete(raw, "logger")
	delete(raw, "stacktrace")
	if len(raw) > 0 {
		e.Fields = raw
	}
	return nil
}

// TailWarnings returns the most recent warn and error events from the
// log file at path, oldest first. Lines that are not valid JSON are
// skipped so a partially written tail does not break the read.
func TailWarnings(path string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 40
	}
	if limit > 500 {
		limit = 500
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var events []Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev Event
		if err := sonic.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}

		lvl := strings.ToLower(strings.TrimSpace(ev.Level))
		if lvl != "warn" && lvl != "error" {
			continue
		}

		events = append(events, ev)
		if len(events) > limit*5 {
			events = events[len(events)-limit*2:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// FormatEvent renders an event as a single display line.
func FormatEvent(ev Event) string {
	parts := []string{}
	if ts := strings.TrimSpace(ev.Timestamp); ts != "" {
		parts = append(parts, ts)
	}
	if lvl := strings.TrimSpace(ev.Level); lvl != "" {
		parts = append(parts, "["+strings.ToUpper(lvl)+"]")
	}
	if msg := strings.TrimSpace(ev.Message); msg != "" {
		parts = append(parts, msg)
	}

	if len(ev.Fields) > 0 {
		keys := make([]string, 0, len(ev.Fields))
		for k := range ev.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]string, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, fmt.Sprintf("%s=%v", k, ev.Fields[k]))
		}
		parts = append(parts, "("+strings.Join(kv, ", ")+")")
	}

	line := strings.Join(parts, " ")
	line = strings.ReplaceAll(line, "\r", " ")
	line = strings.ReplaceAll(line, "\n", " ")
	return strings.Join(strings.Fields(line), " ")
}
