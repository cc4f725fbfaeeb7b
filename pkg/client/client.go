package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/telemetry"
)

// DefaultTimeout is the HTTP timeout used when none is configured.
const DefaultTimeout = 30 * time.Second

const apiPrefix = "/api/v1"

// Client talks to the Validio REST API. It implements api.Client.
type Client struct {
	BaseURL    string
	APIKey     string
	Version    string
	HTTPClient *http.Client

	logger zerolog.Logger
}

var _ api.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithLogger sets the logger. The global zerolog logger is used otherwise.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// New creates a client for the API at baseURL.
func New(baseURL, apiKey, version string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Version: version,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: log.Logger.With().Str("component", "api-client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest performs an authenticated request. Request bodies are never
// logged since they may carry secrets.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "validio-go/"+c.Version)

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Msg("Making API request")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		telemetry.RecordAPICall(ctx, method, "error", time.Since(start))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	telemetry.RecordAPICall(ctx, method, strconv.Itoa(resp.StatusCode), time.Since(start))

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Received API response")

	return resp, nil
}

// handleResponse decodes a 2xx body into target. Other statuses are
// returned as *api.HTTPError.
func (c *Client) handleResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status_code", resp.StatusCode).Msg("API error response")
		return &api.HTTPError{StatusCode: resp.StatusCode, Body: body}
	}

	if target != nil && len(body) > 0 {
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, body, target any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return c.handleResponse(resp, target)
}

// listResponse is the envelope of every list endpoint.
type listResponse[T any] struct {
	Items []T `json:"items"`
}

func list[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var out listResponse[T]
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func namespacePath(namespace, collection string) string {
	return fmt.Sprintf("%s/namespaces/%s/%s", apiPrefix, url.PathEscape(namespace), collection)
}

func (c *Client) ListCredentials(ctx context.Context, namespace string) ([]api.CredentialRecord, error) {
	return list[api.CredentialRecord](ctx, c, namespacePath(namespace, api.KindCredential.Plural()))
}

func (c *Client) ListChannels(ctx context.Context) ([]api.ChannelRecord, error) {
	return list[api.ChannelRecord](ctx, c, apiPrefix+"/"+api.KindChannel.Plural())
}

func (c *Client) ListSources(ctx context.Context, namespace string) ([]api.SourceRecord, error) {
	return list[api.SourceRecord](ctx, c, namespacePath(namespace, api.KindSource.Plural()))
}

func (c *Client) ListSegmentations(ctx context.Context, namespace string) ([]api.SegmentationRecord, error) {
	return list[api.SegmentationRecord](ctx, c, namespacePath(namespace, api.KindSegmentation.Plural()))
}

func (c *Client) ListWindows(ctx context.Context, namespace string) ([]api.WindowRecord, error) {
	return list[api.WindowRecord](ctx, c, namespacePath(namespace, api.KindWindow.Plural()))
}

func (c *Client) ListValidators(ctx context.Context, sourceID, namespace string) ([]api.ValidatorRecord, error) {
	path := namespacePath(namespace, api.KindSource.Plural()) + "/" + url.PathEscape(sourceID) + "/" + api.KindValidator.Plural()
	return list[api.ValidatorRecord](ctx, c, path)
}

func (c *Client) ListNotificationRules(ctx context.Context) ([]api.NotificationRuleRecord, error) {
	return list[api.NotificationRuleRecord](ctx, c, apiPrefix+"/"+api.KindNotificationRule.Plural())
}

// InferSchema returns the JTD schema inferred for a source that does not exist yet.
func (c *Client) InferSchema(ctx context.Context, req api.SchemaInferenceRequest) (json.RawMessage, error) {
	var out struct {
		Schema json.RawMessage `json:"jtdSchema"`
	}
	if err := c.call(ctx, http.MethodPost, apiPrefix+"/schema-inference", req, &out); err != nil {
		return nil, err
	}
	if len(out.Schema) == 0 {
		return nil, fmt.Errorf("schema inference for %s returned no schema", req.SourceTypename)
	}
	return out.Schema, nil
}

// Create posts m.Record and returns the id assigned by the server.
func (c *Client) Create(ctx context.Context, m api.Mutation) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, apiPrefix+"/"+m.Kind.Plural(), m.Record, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("create %s returned no id", m.Kind)
	}
	return out.ID, nil
}

func (c *Client) Update(ctx context.Context, id string, m api.Mutation) error {
	return c.call(ctx, http.MethodPut, resourcePath(m.Kind, id), m.Record, nil)
}

func (c *Client) Delete(ctx context.Context, kind api.Kind, id string) error {
	return c.call(ctx, http.MethodDelete, resourcePath(kind, id), nil, nil)
}

func resourcePath(kind api.Kind, id string) string {
	return apiPrefix + "/" + kind.Plural() + "/" + url.PathEscape(id)
}
