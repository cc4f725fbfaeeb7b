package engine

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/resources"
)

// Redacted replaces secret values in sanitized errors.
const Redacted = "[REDACTED]"

// redactedError carries a sanitized message. The original error is
// dropped because its text may contain secrets; only a sanitized copy of
// an HTTPError is kept in the chain.
type redactedError struct {
	msg  string
	http *api.HTTPError
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error {
	if e.http == nil {
		return nil
	}
	return e.http
}

// SanitizeCredentialError removes every known secret value of cred from
// err. HTTP errors stay inspectable through errors.As with a redacted body.
func SanitizeCredentialError(err error, cred *resources.Credential) error {
	if err == nil {
		return nil
	}

	secrets := secretValues(cred)
	if len(secrets) == 0 {
		return err
	}

	out := &redactedError{msg: redact(err.Error(), secrets)}
	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) {
		out.http = &api.HTTPError{
			StatusCode: httpErr.StatusCode,
			Body:       []byte(redact(string(httpErr.Body), secrets)),
		}
	}
	return out
}

// secretValues returns the plaintext and JSON-escaped forms of the set
// secrets of cred, longest first.
func secretValues(cred *resources.Credential) []string {
	var values []string
	for _, s := range cred.Secrets() {
		if !s.IsSet() || s.Reveal() == "" {
			continue
		}
		values = append(values, s.Reveal())
		if b, err := json.Marshal(s.Reveal()); err == nil {
			if escaped := strings.Trim(string(b), `"`); escaped != s.Reveal() {
				values = append(values, escaped)
			}
		}
	}
	// Longer values first so that a secret containing another is fully replaced.
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	return values
}

func redact(s string, secrets []string) string {
	for _, secret := range secrets {
		s = strings.ReplaceAll(s, secret, Redacted)
	}
	return s
}
