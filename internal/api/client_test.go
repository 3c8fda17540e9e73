package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"storyline/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.URL, "ws 1")
	c.APIKey = "key"
	return c
}

func TestGetDecodesData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/v0/workspaces/ws%201/stories" {
			t.Errorf("path = %s", r.URL.EscapedPath())
		}
		if r.URL.Query().Get("team_id") != "T1" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("X-Api-Key") != "key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []domain.Story{{ID: "1", Title: "a"}}})
	})
	env, err := c.ListStories(context.Background(), domain.StoryFilter{TeamID: "T1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if env.Err() != nil || len(env.Data) != 1 || env.Data[0].Title != "a" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestHTTPErrorIsEnvelopeNotGoError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":"not_found","message":"story not found"}}`)
	})
	env, err := c.GetStory(context.Background(), "42")
	if err != nil {
		t.Fatalf("4xx must not be a Go error: %v", err)
	}
	if env.Error == nil || env.Error.Code != "not_found" || env.Error.Status != 404 {
		t.Fatalf("unexpected error envelope %+v", env.Error)
	}
	if env.Err() == nil {
		t.Fatal("Err() should surface the application error")
	}
}

func TestNonEnvelopeErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	env, err := c.ArchiveStories(context.Background(), []string{"1"})
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if env.Error == nil || env.Error.Code != "internal_error" || env.Error.Status != http.StatusBadGateway {
		t.Fatalf("unexpected error %+v", env.Error)
	}
}

func TestErrorInsideSuccessfulResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":{"message":"quota exceeded"}}`)
	})
	env, err := c.CreateStory(context.Background(), domain.CreateStory{Title: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Err() == nil || env.Error.Message != "quota exceeded" {
		t.Fatalf("expected application error, got %+v", env)
	}
}

func TestTransportFailureIsGoError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := New(url, "ws")
	if _, err := c.GetStory(context.Background(), "1"); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestBulkDeleteSendsIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		var body domain.IDs
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": body})
	})
	env, err := c.BulkDeleteStories(context.Background(), []string{"1", "2"})
	if err != nil || len(env.Data.IDs) != 2 {
		t.Fatalf("bulk delete: %+v %v", env, err)
	}
}

func TestBearerTokenWins(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" || r.Header.Get("X-Api-Key") != "" {
			t.Errorf("headers = %v", r.Header)
		}
		_, _ = io.WriteString(w, `{"data":{"status":"ok"}}`)
	})
	c.BearerToken = "tok"
	env, err := c.Health(context.Background())
	if err != nil || env.Data.Status != "ok" {
		t.Fatalf("health: %+v %v", env, err)
	}
}
