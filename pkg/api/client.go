package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Client is the contract the reconciliation engine consumes. Reads are
// namespace-filtered where the server supports it; ListChannels and
// ListNotificationRules return every namespace.
type Client interface {
	ListCredentials(ctx context.Context, namespace string) ([]CredentialRecord, error)
	ListChannels(ctx context.Context) ([]ChannelRecord, error)
	ListSources(ctx context.Context, namespace string) ([]SourceRecord, error)
	ListSegmentations(ctx context.Context, namespace string) ([]SegmentationRecord, error)
	ListWindows(ctx context.Context, namespace string) ([]WindowRecord, error)
	ListValidators(ctx context.Context, sourceID, namespace string) ([]ValidatorRecord, error)
	ListNotificationRules(ctx context.Context) ([]NotificationRuleRecord, error)

	InferSchema(ctx context.Context, req SchemaInferenceRequest) (json.RawMessage, error)

	// Create returns the server-assigned id.
	Create(ctx context.Context, m Mutation) (string, error)
	Update(ctx context.Context, id string, m Mutation) error
	Delete(ctx context.Context, kind Kind, id string) error
}

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, string(e.Body))
}

// JSON decodes the response body. Non-JSON bodies are returned as a string.
func (e *HTTPError) JSON() any {
	var v any
	if err := json.Unmarshal(e.Body, &v); err != nil {
		return string(e.Body)
	}
	return v
}

// IsNotFound reports whether err is an HTTPError with status 404.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}
