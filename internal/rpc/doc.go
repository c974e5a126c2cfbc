// Package rpc implements the typed HTTP client for the loom backend:
// sessions, chat turns, memory facts, and document indexing.
//
// All calls take a context, pass through a client-side rate limiter, and
// retry transient failures with exponential backoff. Non-2xx responses
// become *APIError values carrying the decoded detail message.
package rpc
