package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/validio/validio-go/pkg/api"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, "test-key", "1.2.3", WithLogger(zerolog.Nop()))
}

func TestNew(t *testing.T) {
	c := New("https://api.example.com/", "test-key", "0.1.0")

	if c.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", c.BaseURL)
	}
	if c.HTTPClient == nil || c.HTTPClient.Timeout != DefaultTimeout {
		t.Fatal("HTTPClient should use the default timeout")
	}
}

func TestDoRequest_SetsHeaders(t *testing.T) {
	var captured *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r
		_, _ = w.Write([]byte(`{"items":[]}`))
	})

	if _, err := c.ListChannels(context.Background()); err != nil {
		t.Fatalf("ListChannels() error: %v", err)
	}

	if got := captured.Header.Get("Authorization"); got != "Bearer test-key" {
		t.Errorf("Authorization header = %q", got)
	}
	if got := captured.Header.Get("Accept"); got != "application/json" {
		t.Errorf("Accept header = %q", got)
	}
	if got := captured.Header.Get("User-Agent"); got != "validio-go/1.2.3" {
		t.Errorf("User-Agent header = %q", got)
	}
	if captured.URL.Path != "/api/v1/channels" {
		t.Errorf("path = %q", captured.URL.Path)
	}
}

func TestListPaths(t *testing.T) {
	tests := []struct {
		name string
		call func(c *Client) error
		want string
	}{
		{"credentials", func(c *Client) error {
			_, err := c.ListCredentials(context.Background(), "analytics")
			return err
		}, "/api/v1/namespaces/analytics/credentials"},
		{"sources", func(c *Client) error {
			_, err := c.ListSources(context.Background(), "analytics")
			return err
		}, "/api/v1/namespaces/analytics/sources"},
		{"segmentations", func(c *Client) error {
			_, err := c.ListSegmentations(context.Background(), "analytics")
			return err
		}, "/api/v1/namespaces/analytics/segmentations"},
		{"windows", func(c *Client) error {
			_, err := c.ListWindows(context.Background(), "analytics")
			return err
		}, "/api/v1/namespaces/analytics/windows"},
		{"validators", func(c *Client) error {
			_, err := c.ListValidators(context.Background(), "src-1", "analytics")
			return err
		}, "/api/v1/namespaces/analytics/sources/src-1/validators"},
		{"notification rules", func(c *Client) error {
			_, err := c.ListNotificationRules(context.Background())
			return err
		}, "/api/v1/notification-rules"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path string
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				_, _ = w.Write([]byte(`{"items":[]}`))
			})
			if err := tt.call(c); err != nil {
				t.Fatalf("call error: %v", err)
			}
			if path != tt.want {
				t.Errorf("path = %q, want %q", path, tt.want)
			}
		})
	}
}

func TestListSources_Decodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"id":"src-1","resourceName":"orders","resourceNamespace":"analytics","__typename":"PostgreSqlSource","credential":"pg","jtdSchema":{"properties":{}}}]}`))
	})

	recs, err := c.ListSources(context.Background(), "analytics")
	if err != nil {
		t.Fatalf("ListSources() error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 source, got %d", len(recs))
	}
	if recs[0].ID != "src-1" || recs[0].ResourceName != "orders" || recs[0].CredentialName != "pg" {
		t.Errorf("unexpected record %+v", recs[0])
	}
	if string(recs[0].JTDSchema) != `{"properties":{}}` {
		t.Errorf("JTDSchema = %s", recs[0].JTDSchema)
	}
}

func TestCreate(t *testing.T) {
	var method, path string
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"win-1"}`))
	})

	rec := &api.WindowRecord{
		Meta:       api.Meta{ResourceName: "daily", ResourceNamespace: "analytics", Typename: "GlobalWindow"},
		SourceName: "orders",
		SourceID:   "src-1",
	}
	id, err := c.Create(context.Background(), api.Mutation{Kind: api.KindWindow, Record: rec})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if id != "win-1" {
		t.Errorf("id = %q, want win-1", id)
	}
	if method != http.MethodPost || path != "/api/v1/windows" {
		t.Errorf("request = %s %s", method, path)
	}
	if body["resourceName"] != "daily" || body["sourceId"] != "src-1" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestCreate_MissingID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.Create(context.Background(), api.Mutation{Kind: api.KindChannel, Record: &api.ChannelRecord{}})
	if err == nil {
		t.Fatal("Create() should fail without an id")
	}
}

func TestUpdateAndDelete(t *testing.T) {
	var requests []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	if err := c.Update(ctx, "nr-1", api.Mutation{Kind: api.KindNotificationRule, Record: &api.NotificationRuleRecord{}}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if err := c.Delete(ctx, api.KindSource, "src-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	want := []string{"PUT /api/v1/notification-rules/nr-1", "DELETE /api/v1/sources/src-1"}
	if strings.Join(requests, ",") != strings.Join(want, ",") {
		t.Errorf("requests = %v, want %v", requests, want)
	}
}

func TestInferSchema(t *testing.T) {
	var req api.SchemaInferenceRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		_, _ = w.Write([]byte(`{"jtdSchema":{"properties":{"id":{"type":"string"}}}}`))
	})

	schema, err := c.InferSchema(context.Background(), api.SchemaInferenceRequest{
		SourceTypename: "PostgreSqlSource",
		CredentialID:   "cred-1",
	})
	if err != nil {
		t.Fatalf("InferSchema() error: %v", err)
	}
	if req.CredentialID != "cred-1" || req.SourceTypename != "PostgreSqlSource" {
		t.Errorf("unexpected request %+v", req)
	}
	if !strings.Contains(string(schema), `"id"`) {
		t.Errorf("schema = %s", schema)
	}
}

func TestHandleResponse_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	})

	_, err := c.ListSources(context.Background(), "analytics")
	var httpErr *api.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *api.HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", httpErr.StatusCode)
	}
	if got := err.Error(); got != `API error (status 429): {"error":"slow down"}` {
		t.Errorf("error = %q", got)
	}
}

func TestDelete_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	err := c.Delete(context.Background(), api.KindWindow, "missing")
	if !api.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}
