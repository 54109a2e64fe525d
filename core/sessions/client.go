package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
)

var ErrNotFound = errors.New("session not found")

type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	ID        string    `json:"session_id"`
	ProjectID string    `json:"project_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// Client talks to the session store backing the interaction channel. The
// store keeps the authoritative conversation history, which is what makes
// resynchronization after a dropped connection possible.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type createRequest struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id"`
}

// Create registers a new session for the given project. Session ids are
// minted client-side as ULIDs so a session can be addressed before the
// store has acknowledged it.
func (c *Client) Create(ctx context.Context, projectID string) (Session, error) {
	ctx, span := tracer.Start(ctx, "create session")
	defer span.End()

	id := ulid.Make().String()
	body, err := json.Marshal(createRequest{SessionID: id, ProjectID: projectID})
	if err != nil {
		return Session{}, fmt.Errorf("failed to encode session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var session Session
	if err := c.do(ctx, req, &session); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Session{}, err
	}

	logger.InfoContext(ctx, "Created session", "session_id", session.ID, "project_id", projectID)
	return session, nil
}

// Get fetches a session together with its full message history.
func (c *Client) Get(ctx context.Context, id string) (Session, error) {
	ctx, span := tracer.Start(ctx, "fetch session")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return Session{}, fmt.Errorf("failed to build session request: %w", err)
	}

	var session Session
	if err := c.do(ctx, req, &session); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Session{}, err
	}

	return session, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("failed to build session request: %w", err)
	}

	return c.do(ctx, req, nil)
}

func (c *Client) ListByProject(ctx context.Context, projectID string) ([]Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/sessions?project_id="+url.QueryEscape(projectID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}

	var listed []Session
	if err := c.do(ctx, req, &listed); err != nil {
		return nil, err
	}

	return listed, nil
}

func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session store request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("session store returned %d: %s", resp.StatusCode, detail)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode session store response: %w", err)
	}

	return nil
}
