package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"storyline/internal/api"
	"storyline/internal/config"
	"storyline/internal/db"
	"storyline/internal/domain"
	"storyline/internal/engine"
	"storyline/internal/migrate"
)

const (
	testWorkspace = "ws-1"
	testSecret    = "test-secret"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	cfg := config.Default(testWorkspace)
	conn, err := db.Open(filepath.Join(t.TempDir(), db.DefaultName))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, nil)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret, DevAuth: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

// login returns a client authenticated through the dev login endpoint.
func (s *testServer) login(t *testing.T, userID, workspaceID string) *api.Client {
	t.Helper()
	c := api.New(s.URL, workspaceID)
	env, err := c.DevLogin(context.Background(), userID, workspaceID)
	if err != nil {
		t.Fatalf("dev login: %v", err)
	}
	if env.Error != nil || env.Data.Token == "" {
		t.Fatalf("dev login failed: %+v", env.Error)
	}
	c.BearerToken = env.Data.Token
	return c
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
	var env struct {
		Data HealthResponse `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Data.Status != "ok" {
		t.Fatalf("health body %s: %v", data, err)
	}
}

func TestMissingCredentialsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/workspaces/"+testWorkspace+"/stories", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, data)
	}
	var env api.Envelope[any]
	if err := json.Unmarshal(data, &env); err != nil || env.Error == nil || env.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error envelope %s: %v", data, err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/workspaces/"+testWorkspace+"/stories", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized || !strings.Contains(string(data), "invalid_credentials") {
		t.Fatalf("expected invalid_credentials, got %d %s", res.StatusCode, data)
	}
}

func TestForeignWorkspaceForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := srv.login(t, "alice", testWorkspace)
	c.WorkspaceID = "ws-2"
	env, err := c.ListStories(context.Background(), domain.StoryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if env.Error == nil || env.Error.Status != http.StatusForbidden || env.Error.Code != "forbidden" {
		t.Fatalf("expected forbidden envelope, got %+v", env.Error)
	}
}

func TestStoryLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	c := srv.login(t, "alice", testWorkspace)

	created, err := c.CreateStory(ctx, domain.CreateStory{Title: "Ship it", TeamID: "team-a", StatusID: "todo"})
	if err != nil || created.Error != nil {
		t.Fatalf("create: %v %+v", err, created.Error)
	}
	story := created.Data
	if story.SequenceID != 1 || story.CreatedBy != "alice" || story.WorkspaceID != testWorkspace {
		t.Fatalf("created story = %+v", story.Story)
	}

	sub, err := c.CreateStory(ctx, domain.CreateStory{Title: "Sub", TeamID: "team-a", StatusID: "todo", ParentID: &story.ID})
	if err != nil || sub.Error != nil {
		t.Fatalf("create sub-story: %v %+v", err, sub.Error)
	}

	list, err := c.ListStories(ctx, domain.StoryFilter{TeamID: "team-a"})
	if err != nil || list.Error != nil {
		t.Fatalf("list: %v %+v", err, list.Error)
	}
	if len(list.Data) != 1 || len(list.Data[0].SubStories) != 1 {
		t.Fatalf("expected one story with a nested sub-story, got %+v", list.Data)
	}

	grouped, err := c.GroupedStories(ctx, domain.StoryFilter{}, domain.GroupByStatus, 10)
	if err != nil || grouped.Error != nil {
		t.Fatalf("grouped: %v %+v", err, grouped.Error)
	}
	if len(grouped.Data) != 1 || grouped.Data[0].Key != "todo" || grouped.Data[0].TotalCount != 1 {
		t.Fatalf("grouped = %+v", grouped.Data)
	}

	title := "Ship it now"
	updated, err := c.UpdateStory(ctx, story.ID, domain.StoryUpdate{Title: &title})
	if err != nil || updated.Error != nil || updated.Data.Title != title {
		t.Fatalf("update: %v %+v %q", err, updated.Error, updated.Data.Title)
	}

	deleted, err := c.DeleteStory(ctx, story.ID)
	if err != nil || deleted.Error != nil || deleted.Data.DeletedAt == nil {
		t.Fatalf("delete: %v %+v", err, deleted.Error)
	}
	list, _ = c.ListStories(ctx, domain.StoryFilter{})
	if len(list.Data) != 0 {
		t.Fatalf("expected deleted story hidden, got %d", len(list.Data))
	}

	restored, err := c.RestoreStories(ctx, []string{story.ID})
	if err != nil || restored.Error != nil || len(restored.Data.IDs) != 1 {
		t.Fatalf("restore: %v %+v", err, restored.Error)
	}
	got, err := c.GetStory(ctx, story.ID)
	if err != nil || got.Error != nil {
		t.Fatalf("get: %v %+v", err, got.Error)
	}
	if got.Data.DeletedAt != nil || len(got.Data.SubStories) != 1 {
		t.Fatalf("restored story = %+v", got.Data)
	}

	evts, err := c.ListEvents(ctx, "story", story.ID, 10)
	if err != nil || evts.Error != nil {
		t.Fatalf("events: %v %+v", err, evts.Error)
	}
	if len(evts.Data) != 4 || evts.Data[0].Type != "story.restored" {
		t.Fatalf("events = %+v", evts.Data)
	}
}

func TestErrorEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	c := srv.login(t, "alice", testWorkspace)

	missing, err := c.GetStory(ctx, "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if missing.Error == nil || missing.Error.Status != http.StatusNotFound || missing.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %+v", missing.Error)
	}

	invalid, err := c.CreateStory(ctx, domain.CreateStory{Title: "  ", TeamID: "team-a", StatusID: "todo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if invalid.Error == nil || invalid.Error.Status != http.StatusUnprocessableEntity || invalid.Error.Details["field"] != "title" {
		t.Fatalf("expected validation_failed on title, got %+v", invalid.Error)
	}

	parent, _ := c.CreateStory(ctx, domain.CreateStory{Title: "parent", TeamID: "team-a", StatusID: "todo"})
	child, _ := c.CreateStory(ctx, domain.CreateStory{Title: "child", TeamID: "team-a", StatusID: "todo", ParentID: &parent.Data.ID})
	deep, err := c.CreateStory(ctx, domain.CreateStory{Title: "deep", TeamID: "team-a", StatusID: "todo", ParentID: &child.Data.ID})
	if err != nil {
		t.Fatalf("create deep: %v", err)
	}
	if deep.Error == nil || deep.Error.Status != http.StatusBadRequest {
		t.Fatalf("expected bad_request for a third level, got %+v", deep.Error)
	}

	bulk, err := c.BulkDeleteStories(ctx, []string{parent.Data.ID, "missing"})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if bulk.Error == nil || bulk.Error.Status != http.StatusNotFound {
		t.Fatalf("expected bulk delete with unknown id to fail, got %+v", bulk.Error)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	_, secret, err := srv.Engine.CreateAPIKey(ctx, engine.Scope{WorkspaceID: testWorkspace, ActorID: "bot"}, "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	c := api.New(srv.URL, testWorkspace)
	c.APIKey = secret
	created, err := c.CreateStory(ctx, domain.CreateStory{Title: "From CI", TeamID: "team-a", StatusID: "todo"})
	if err != nil || created.Error != nil {
		t.Fatalf("create with api key: %v %+v", err, created.Error)
	}
	if created.Data.CreatedBy != "bot" {
		t.Fatalf("created_by = %q", created.Data.CreatedBy)
	}
}

func TestObjectivesAndKeyResults(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	c := srv.login(t, "alice", testWorkspace)

	status, err := c.CreateObjectiveStatus(ctx, domain.CreateObjectiveStatus{Name: "On track", Category: "active"})
	if err != nil || status.Error != nil {
		t.Fatalf("create status: %v %+v", err, status.Error)
	}
	obj, err := c.CreateObjective(ctx, domain.CreateObjective{Name: "Grow", StatusID: &status.Data.ID})
	if err != nil || obj.Error != nil {
		t.Fatalf("create objective: %v %+v", err, obj.Error)
	}
	kr, err := c.CreateKeyResult(ctx, domain.CreateKeyResult{
		ObjectiveID: obj.Data.ID, Name: "Revenue", MeasurementType: domain.MeasureNumber, StartValue: 0, CurrentValue: 0, TargetValue: 200,
	})
	if err != nil || kr.Error != nil {
		t.Fatalf("create key result: %v %+v", err, kr.Error)
	}
	current := 50.0
	updated, err := c.UpdateKeyResult(ctx, kr.Data.ID, domain.KeyResultUpdate{CurrentValue: &current})
	if err != nil || updated.Error != nil {
		t.Fatalf("update key result: %v %+v", err, updated.Error)
	}
	if updated.Data.Progress() != 25 {
		t.Fatalf("progress = %d", updated.Data.Progress())
	}

	list, err := c.ListObjectives(ctx, api.ObjectiveFilter{StatusID: status.Data.ID})
	if err != nil || list.Error != nil {
		t.Fatalf("list objectives: %v %+v", err, list.Error)
	}
	if len(list.Data) != 1 || len(list.Data[0].KeyResults) != 1 || list.Data[0].Progress() != 25 {
		t.Fatalf("objectives = %+v", list.Data)
	}

	linked, _ := c.CreateStory(ctx, domain.CreateStory{Title: "linked", TeamID: "team-a", StatusID: "todo", ObjectiveID: &obj.Data.ID})
	if del, err := c.DeleteObjective(ctx, obj.Data.ID); err != nil || del.Error != nil {
		t.Fatalf("delete objective: %v %+v", err, del)
	}
	got, _ := c.GetStory(ctx, linked.Data.ID)
	if got.Data.ObjectiveID != nil {
		t.Fatalf("expected story unlinked from deleted objective")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "storyline_http_requests_total") {
		t.Fatalf("expected http request counter in metrics output")
	}
}

func TestWebhookDispatcherForwardsEvents(t *testing.T) {
	var mu sync.Mutex
	var got []webhookEvent
	var headers []http.Header
	receiver := http.NewServeMux()
	receiver.HandleFunc("/hook", func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hookSrv := &http.Server{Handler: receiver}
	go hookSrv.Serve(ln)
	defer hookSrv.Shutdown(context.Background())

	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	sc := engine.Scope{WorkspaceID: testWorkspace, ActorID: "alice"}
	if _, err := srv.Engine.CreateStory(ctx, sc, domain.CreateStory{Title: "before", TeamID: "t", StatusID: "todo"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	hooks := []config.WebhookConfig{{
		URL:    "http://" + ln.Addr().String() + "/hook",
		Events: []string{"story.created"},
		Secret: "s3cret",
	}}
	d := NewWebhookDispatcher(srv.Engine, hooks, nil)
	d.Prime(ctx)

	s, err := srv.Engine.CreateStory(ctx, sc, domain.CreateStory{Title: "after", TeamID: "t", StatusID: "todo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := srv.Engine.DeleteStory(ctx, sc, s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	if got[0].Type != "story.created" || got[0].EntityID != s.ID || got[0].WorkspaceID != testWorkspace {
		t.Fatalf("delivered event = %+v", got[0])
	}
	if headers[0].Get("X-Storyline-Event") != "story.created" || headers[0].Get("X-Storyline-Secret") != "s3cret" {
		t.Fatalf("delivery headers = %v", headers[0])
	}
}

func TestOpenAPIDocumentServedConcurrently(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const readers = 8
	bodies := make([][]byte, readers)
	errs := make([]error, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}()
	}
	wg.Wait()
	for i := 0; i < readers; i++ {
		if errs[i] != nil {
			t.Fatalf("reader %d: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("reader %d got a different document", i)
		}
	}
	var doc struct {
		Paths      map[string]json.RawMessage `json:"paths"`
		Components struct {
			SecuritySchemes map[string]json.RawMessage `json:"securitySchemes"`
		} `json:"components"`
	}
	if err := json.Unmarshal(bodies[0], &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if _, ok := doc.Paths["/v0/workspaces/{workspace_id}/stories"]; !ok {
		t.Fatalf("stories path missing from %d paths", len(doc.Paths))
	}
	if _, ok := doc.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Fatalf("bearer scheme missing: %s", bodies[0][:min(len(bodies[0]), 200)])
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/v0/openapi.json") {
		t.Fatalf("docs page %d: %s", res.StatusCode, data)
	}
}
