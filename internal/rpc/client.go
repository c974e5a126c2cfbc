package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chatloom/internal/logging"
)

const (
	defaultBaseURL   = "http://localhost:8000"
	defaultTimeout   = 30 * time.Second
	defaultRetryMax  = 3
	defaultPerMinute = 20
	defaultUserAgent = "loom"
)

// Options configures a Client. Zero values fall back to defaults.
// RetryMax < 0 disables retries.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RetryMax  int
	PerMinute int // client-side request budget, matches the server window
	UserAgent string
	Logger    *logging.Logger
}

// Client talks to the loom backend. Safe for concurrent use.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	log     *logging.Logger
}

// New builds a Client with retrying transport and rate limiting.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryMax == 0 {
		opts.RetryMax = defaultRetryMax
	} else if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.PerMinute <= 0 {
		opts.PerMinute = defaultPerMinute
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = nil

	c := &Client{
		// Burst of 1 keeps any rolling window at or under the budget.
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.PerMinute)), 1),
		log:     opts.Logger,
	}

	c.http = resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient}).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	c.http.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		req.SetHeader("X-Request-ID", uuid.NewString())
		return nil
	})
	c.http.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.log.Debug("rpc call",
			zap.String("method", resp.Request.Method),
			zap.String("url", resp.Request.URL),
			zap.Int("status", resp.StatusCode()),
			zap.Duration("elapsed", resp.Time()))
		return nil
	})

	return c
}

// execute runs one request through the limiter and normalizes failures.
func (c *Client) execute(ctx context.Context, method, path string, build func(*resty.Request)) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	req := c.http.R().SetContext(ctx)
	if build != nil {
		build(req)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return c.apiError(resp)
	}
	return nil
}

func (c *Client) apiError(resp *resty.Response) error {
	apiErr := &APIError{Status: resp.StatusCode()}
	var w wireError
	if err := sonic.Unmarshal(resp.Body(), &w); err == nil && w.Detail != "" {
		apiErr.Detail = w.Detail
	} else if body := strings.TrimSpace(string(resp.Body())); body != "" {
		apiErr.Detail = truncate(body, 200)
	}
	return apiErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// IsRateLimited reports whether the service pushed back with a 429.
func IsRateLimited(err error) bool { return IsStatus(err, http.StatusTooManyRequests) }

// IsNotFound reports whether the service answered 404.
func IsNotFound(err error) bool { return IsStatus(err, http.StatusNotFound) }

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.execute(ctx, http.MethodGet, "/health", func(r *resty.Request) {
		r.SetResult(&out)
	})
	return out, err
}

// CreateSession allocates a fresh session on the server.
func (c *Client) CreateSession(ctx context.Context) (SessionCreated, error) {
	var out SessionCreated
	err := c.execute(ctx, http.MethodPost, "/session", func(r *resty.Request) {
		r.SetResult(&out)
	})
	return out, err
}

// ListSessions fetches the session directory, most recently updated first.
func (c *Client) ListSessions(ctx context.Context) ([]SessionRow, error) {
	var out []SessionRow
	err := c.execute(ctx, http.MethodGet, "/sessions", func(r *resty.Request) {
		r.SetResult(&out)
	})
	return out, err
}

// RenameSession sets a session's display name and returns the updated row.
func (c *Client) RenameSession(ctx context.Context, id ID, name string) (SessionRow, error) {
	var out SessionRow
	if !id.Valid() {
		return out, errors.New("rename session: missing id")
	}
	err := c.execute(ctx, http.MethodPatch, "/session/{id}", func(r *resty.Request) {
		r.SetPathParam("id", id.String())
		r.SetBody(map[string]string{"name": name})
		r.SetResult(&out)
	})
	return out, err
}

// DeleteSession removes a session and its transcript.
func (c *Client) DeleteSession(ctx context.Context, id ID) (SessionDeleted, error) {
	var out SessionDeleted
	if !id.Valid() {
		return out, errors.New("delete session: missing id")
	}
	err := c.execute(ctx, http.MethodDelete, "/session/{id}", func(r *resty.Request) {
		r.SetPathParam("id", id.String())
		r.SetResult(&out)
	})
	return out, err
}

// History fetches the server-side transcript for a session.
func (c *Client) History(ctx context.Context, id ID) (History, error) {
	var out History
	if !id.Valid() {
		return out, errors.New("history: missing id")
	}
	err := c.execute(ctx, http.MethodGet, "/session/{id}/history", func(r *resty.Request) {
		r.SetPathParam("id", id.String())
		r.SetResult(&out)
	})
	return out, err
}

// Chat submits one user turn.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatEnvelope, error) {
	var out ChatEnvelope
	if !req.SessionID.Valid() {
		return out, errors.New("chat: missing session id")
	}
	err := c.execute(ctx, http.MethodPost, "/chat", func(r *resty.Request) {
		r.SetBody(req)
		r.SetResult(&out)
	})
	return out, err
}

// EditMessage rewrites a stored message and may regenerate a reply.
func (c *Client) EditMessage(ctx context.Context, id ID, content string) (ChatEnvelope, error) {
	var out ChatEnvelope
	if !id.Valid() {
		return out, errors.New("edit message: missing id")
	}
	err := c.execute(ctx, http.MethodPatch, "/message/{id}", func(r *resty.Request) {
		r.SetPathParam("id", id.String())
		r.SetBody(map[string]string{"content": content})
		r.SetResult(&out)
	})
	return out, err
}

// ContinueChat asks the assistant to keep going without new user input.
func (c *Client) ContinueChat(ctx context.Context, sessionID ID) (ChatEnvelope, error) {
	var out ChatEnvelope
	if !sessionID.Valid() {
		return out, errors.New("continue: missing session id")
	}
	err := c.execute(ctx, http.MethodPost, "/chat/continue", func(r *resty.Request) {
		r.SetBody(struct {
			SessionID ID `json:"session_id"`
		}{sessionID})
		r.SetResult(&out)
	})
	return out, err
}

// ListFacts fetches remembered facts. Unexpected but parseable shapes
// come back as an empty list.
func (c *Client) ListFacts(ctx context.Context) ([]string, error) {
	var out factsPayload
	err := c.execute(ctx, http.MethodGet, "/memory", func(r *resty.Request) {
		r.SetResult(&out)
	})
	return out.Facts, err
}

// AddFact stores a new fact.
func (c *Client) AddFact(ctx context.Context, text string) (FactAdded, error) {
	var out FactAdded
	err := c.execute(ctx, http.MethodPost, "/memory", func(r *resty.Request) {
		r.SetBody(map[string]string{"text": text})
		r.SetResult(&out)
	})
	return out, err
}

// EditFact rewrites a fact, addressed by its current text.
func (c *Client) EditFact(ctx context.Context, oldText, newText string) (FactEdited, error) {
	var out FactEdited
	err := c.execute(ctx, http.MethodPatch, "/memory", func(r *resty.Request) {
		r.SetBody(map[string]string{"old_text": oldText, "new_text": newText})
		r.SetResult(&out)
	})
	return out, err
}

// DeleteFact removes a fact, addressed by its text.
func (c *Client) DeleteFact(ctx context.Context, text string) (FactDeleted, error) {
	var out FactDeleted
	err := c.execute(ctx, http.MethodDelete, "/memory", func(r *resty.Request) {
		r.SetQueryParam("text", text)
		r.SetResult(&out)
	})
	return out, err
}

// ListDocs fetches every indexed document chunk.
func (c *Client) ListDocs(ctx context.Context) ([]DocRow, error) {
	var out docsPayload
	err := c.execute(ctx, http.MethodGet, "/docs", func(r *resty.Request) {
		r.SetResult(&out)
	})
	return out.Docs, err
}

// UploadDoc streams a file to the indexer.
func (c *Client) UploadDoc(ctx context.Context, filename string, src io.Reader) (UploadResult, error) {
	var out UploadResult
	if strings.TrimSpace(filename) == "" {
		return out, errors.New("upload: missing filename")
	}
	err := c.execute(ctx, http.MethodPost, "/docs/upload", func(r *resty.Request) {
		r.SetFileReader("file", filename, src)
		r.SetResult(&out)
	})
	return out, err
}

// DeleteDoc removes every chunk indexed from the given file.
func (c *Client) DeleteDoc(ctx context.Context, filename string) (DocDeleted, error) {
	var out DocDeleted
	if strings.TrimSpace(filename) == "" {
		return out, errors.New("delete doc: missing filename")
	}
	err := c.execute(ctx, http.MethodDelete, "/docs/{filename}", func(r *resty.Request) {
		r.SetPathParam("filename", filename)
		r.SetResult(&out)
	})
	return out, err
}
