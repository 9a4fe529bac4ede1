package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func withTestClient(t *testing.T, ts *testServer) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

func TestDigestCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /digests": `{"id":"d-123","status":"formatting","item_count":4}`,
	})
	withTestClient(t, ts)

	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs([]string{"digest", "morning", "--project", "p-1"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("digest command: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/digests" {
		t.Errorf("request = %s %s, want POST /digests", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want bearer token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["type"] != "morning" {
		t.Errorf("body.type = %v, want morning", body["type"])
	}
	projects, _ := body["project_ids"].([]any)
	if len(projects) != 1 || projects[0] != "p-1" {
		t.Errorf("body.project_ids = %v, want [p-1]", body["project_ids"])
	}
}

func TestDigestCommandDefaultsToOnDemand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /digests": `{"id":"d-124","status":"sent","item_count":0}`,
	})
	withTestClient(t, ts)

	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs([]string{"digest"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("digest command: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["type"] != "on_demand" {
		t.Errorf("body.type = %v, want on_demand", body["type"])
	}
}

func TestSourcesListCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /sources": `[{"id":"s-1","type":"jira","name":"Team Jira","active":true,"last_synced_at":null}]`,
	})
	withTestClient(t, ts)

	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs([]string{"sources", "list"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("sources list: %v", err)
	}

	if len(ts.requests) != 1 || ts.requests[0].Path != "/sources" {
		t.Fatalf("requests = %+v, want one GET /sources", ts.requests)
	}
}

func TestSourcesValidateCommandRejected(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sources/s-1/validate": `{"valid":false,"error":"bad token"}`,
	})
	withTestClient(t, ts)

	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs([]string{"sources", "validate", "s-1"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for rejected credentials")
	}
}

func TestSettingsRoundTripCommands(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /settings/digest_language": `{"key":"digest_language","value":"ru"}`,
		"GET /settings/digest_language": `{"key":"digest_language","value":"ru"}`,
	})
	withTestClient(t, ts)

	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs([]string{"settings", "set", "digest_language", "ru"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("settings set: %v", err)
	}

	rootCmd.SetArgs([]string{"settings", "get", "digest_language"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("settings get: %v", err)
	}

	if len(ts.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(ts.requests))
	}
	if ts.requests[0].Method != "PUT" || ts.requests[1].Method != "GET" {
		t.Errorf("methods = %s/%s, want PUT then GET", ts.requests[0].Method, ts.requests[1].Method)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["value"] != "ru" {
		t.Errorf("body.value = %q, want ru", body["value"])
	}
}

func TestColorizeRespectsNoColor(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorGreen, "hi"); got != "hi" {
		t.Errorf("colorize with noColor=true = %q, want plain text", got)
	}

	noColor = false
	if got := colorize(colorGreen, "hi"); got == "hi" {
		t.Errorf("colorize with noColor=false should add ANSI codes")
	}
}
