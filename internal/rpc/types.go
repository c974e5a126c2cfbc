package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is an opaque server-assigned identifier. The backend emits numeric
// ids today but nothing in the client depends on that; ID accepts a JSON
// number or string and marshals back in the form it arrived in. The zero
// value means "absent".
type ID struct {
	raw     string
	numeric bool
}

// IDFromInt builds a numeric ID. Used by tests and the CLI.
func IDFromInt(n int64) ID {
	return ID{raw: strconv.FormatInt(n, 10), numeric: true}
}

// ParseID builds an ID from user input. All-digit input is treated as
// numeric so it round-trips the way the server issued it.
func ParseID(s string) ID {
	if s == "" {
		return ID{}
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ID{raw: s, numeric: true}
	}
	return ID{raw: s}
}

// Valid reports whether the ID carries a value.
func (id ID) Valid() bool { return id.raw != "" }

// String returns the identifier text, "" when absent.
func (id ID) String() string { return id.raw }

// Equal compares identifier values, ignoring whether they arrived as
// numbers or strings.
func (id ID) Equal(other ID) bool { return id.raw == other.raw }

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.Valid() {
		return []byte("null"), nil
	}
	if id.numeric {
		return []byte(id.raw), nil
	}
	return json.Marshal(id.raw)
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ID{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID{raw: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID{raw: n.String(), numeric: true}
	return nil
}

// APIError is a non-2xx response from the service.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

// wireError is the body shape the service uses for failures.
type wireError struct {
	Detail string `json:"detail"`
}

// Health is the GET /health response.
type Health struct {
	Status string `json:"status"`
}

// SessionRow is one directory entry from GET /sessions.
type SessionRow struct {
	ID           ID     `json:"id"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	RequestCount int    `json:"request_count"`
}

// SessionCreated is the POST /session response.
type SessionCreated struct {
	SessionID ID     `json:"session_id"`
	CreatedAt string `json:"created_at"`
}

// SessionDeleted is the DELETE /session/{id} response.
type SessionDeleted struct {
	OK               bool `json:"ok"`
	DeletedSessionID ID   `json:"deleted_session_id"`
}

// WireMessage is a transcript entry as the service serializes it.
type WireMessage struct {
	ID        ID     `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// History is the GET /session/{id}/history response.
type History struct {
	SessionID ID            `json:"session_id"`
	Messages  []WireMessage `json:"messages"`
}

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID ID     `json:"session_id"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ChatEnvelope is the polymorphic chat response. A turn carries either a
// single reply or a batch of messages; an edit may carry neither. The
// caller resolves which variant applies, exactly once.
type ChatEnvelope struct {
	Reply     *WireMessage  `json:"reply"`
	Messages  []WireMessage `json:"messages"`
	SessionID ID            `json:"session_id"`
}

// factsPayload tolerates both {"facts": [...]} and a bare array. Any
// other parseable shape decodes to an empty list.
type factsPayload struct {
	Facts []string
}

func (p *factsPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	p.Facts = nil
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, &p.Facts)
	}
	var wrapped struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	p.Facts = wrapped.Facts
	return nil
}

// FactAdded is the POST /memory response. Added=false with a Reason is a
// domain rejection, not a transport failure.
type FactAdded struct {
	Added  bool   `json:"added"`
	Reason string `json:"reason"`
}

// FactEdited is the PATCH /memory response.
type FactEdited struct {
	Edited bool   `json:"edited"`
	Reason string `json:"reason"`
}

// FactDeleted is the DELETE /memory response.
type FactDeleted struct {
	Deleted bool   `json:"deleted"`
	Reason  string `json:"reason"`
}

// DocMetadata is the optional per-chunk metadata block.
type DocMetadata struct {
	Filename     string `json:"filename"`
	Source       string `json:"source"`
	SectionTitle string `json:"section_title"`
	ChunkIndex   int    `json:"chunk_index"`
}

// DocRow is one indexed chunk from GET /docs.
type DocRow struct {
	Content  string       `json:"content"`
	Filename string       `json:"filename"`
	Metadata *DocMetadata `json:"metadata"`
}

type docsPayload struct {
	Docs []DocRow `json:"docs"`
}

// UploadResult is the POST /docs/upload response.
type UploadResult struct {
	Added    bool `json:"added"`
	Chunks   int  `json:"chunks"`
	Sections int  `json:"sections"`
}

// DocDeleted is the DELETE /docs/{filename} response. The service has
// answered with two shapes over time; either flag counts as success.
type DocDeleted struct {
	Deleted  bool   `json:"deleted"`
	OK       bool   `json:"ok"`
	Filename string `json:"filename"`
}

// Accepted reports whether the service acknowledged the delete.
func (d DocDeleted) Accepted() bool { return d.Deleted || d.OK }
