package app

import (
	"sort"
	"strings"
	"time"

	"chatloom/internal/rpc"
)

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Session is one conversation thread from the server directory.
type Session struct {
	ID           rpc.ID
	Name         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	RequestCount int
}

// DisplayName returns the session title, falling back to the id.
func (s Session) DisplayName() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	return strings.TrimSpace("Session " + s.ID.String())
}

// Message is one transcript entry. Entries without a server id are
// pending: applied locally, not yet confirmed.
type Message struct {
	ID      rpc.ID
	Role    Role
	Content string
	SentAt  time.Time
}

// Pending reports whether the entry still lacks a server id.
func (m Message) Pending() bool { return !m.ID.Valid() }

// UnknownSource labels chunks whose origin file the index lost.
const UnknownSource = "unknown"

// DocChunk is one indexed slice of an uploaded document.
type DocChunk struct {
	Content      string
	SourceFile   string
	SectionTitle string
}

// Library groups indexed chunks by the file they came from. Iteration
// order is up to the caller; SourceFiles gives a stable listing.
type Library map[string][]DocChunk

// SourceFiles returns the grouped file names sorted for display, with
// the unknown bucket last.
func (l Library) SourceFiles() []string {
	names := make([]string, 0, len(l))
	unknown := false
	for name := range l {
		if name == UnknownSource {
			unknown = true
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if unknown {
		names = append(names, UnknownSource)
	}
	return names
}

// sessionFromRow converts a directory row, parsing server timestamps
// leniently. Unparseable times stay zero.
func sessionFromRow(row rpc.SessionRow) Session {
	return Session{
		ID:           row.ID,
		Name:         row.Name,
		CreatedAt:    parseServerTime(row.CreatedAt),
		UpdatedAt:    parseServerTime(row.UpdatedAt),
		RequestCount: row.RequestCount,
	}
}

// messageFromWire converts a server transcript entry. User turns pass
// through; every other role displays as assistant. Synthetic system
// entries exist only locally.
func messageFromWire(w rpc.WireMessage) Message {
	role := RoleAssistant
	if w.Role == string(RoleUser) {
		role = RoleUser
	}
	return Message{
		ID:      w.ID,
		Role:    role,
		Content: w.Content,
		SentAt:  parseServerTime(w.CreatedAt),
	}
}

// chunkFromRow converts an index row, resolving the source file through
// the fallback chain: direct field, metadata filename, metadata source,
// then the unknown bucket.
func chunkFromRow(row rpc.DocRow) DocChunk {
	chunk := DocChunk{Content: row.Content, SourceFile: row.Filename}
	if row.Metadata != nil {
		chunk.SectionTitle = row.Metadata.SectionTitle
		if chunk.SourceFile == "" {
			chunk.SourceFile = row.Metadata.Filename
		}
		if chunk.SourceFile == "" {
			chunk.SourceFile = row.Metadata.Source
		}
	}
	if chunk.SourceFile == "" {
		chunk.SourceFile = UnknownSource
	}
	return chunk
}

// serverTimeFormats covers the backend's timezone-aware and naive forms.
var serverTimeFormats = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseServerTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range serverTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
