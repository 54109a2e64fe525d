package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateMintsULIDAndPostsProject(t *testing.T) {
	var received createRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(Session{ID: received.SessionID, ProjectID: received.ProjectID})
	}))
	defer ts.Close()

	session, err := NewClient(ts.URL).Create(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	if len(received.SessionID) != 26 {
		t.Fatalf("expected 26-char ulid session id, got %q", received.SessionID)
	}
	if session.ID != received.SessionID {
		t.Fatalf("expected session id %q, got %q", received.SessionID, session.ID)
	}
	if session.ProjectID != "proj-1" {
		t.Fatalf("expected project id proj-1, got %q", session.ProjectID)
	}
}

func TestGetReturnsMessageHistory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/abc" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Session{
			ID: "abc",
			Messages: []Message{
				{ID: "m1", Role: "user", Content: "hello"},
				{ID: "m2", Role: "assistant", Content: "hi there"},
			},
		})
	}))
	defer ts.Close()

	session, err := NewClient(ts.URL).Get(context.Background(), "abc")
	if err != nil {
		t.Fatalf("failed to fetch session: %v", err)
	}

	if len(session.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(session.Messages))
	}
	if session.Messages[1].Content != "hi there" {
		t.Fatalf("unexpected second message: %+v", session.Messages[1])
	}
}

func TestGetMissingSessionReturnsErrNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByProjectFiltersByQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("project_id"); got != "proj-7" {
			t.Errorf("expected project_id=proj-7, got %q", got)
		}
		json.NewEncoder(w).Encode([]Session{{ID: "s1", ProjectID: "proj-7"}})
	}))
	defer ts.Close()

	listed, err := NewClient(ts.URL).ListByProject(context.Background(), "proj-7")
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "s1" {
		t.Fatalf("unexpected sessions: %+v", listed)
	}
}
