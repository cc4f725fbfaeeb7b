package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/validio/validio-go/pkg/telemetry"
)

// DefaultSettingsFile is read when no settings path is given.
const DefaultSettingsFile = "validio.yaml"

// Environment variables overriding settings.
const (
	EnvAPIKey    = "VALIDIO_API_KEY"
	EnvEndpoint  = "VALIDIO_ENDPOINT"
	EnvNamespace = "VALIDIO_NAMESPACE"
)

// Settings configures the CLI: where the API lives, which namespace is
// reconciled and where run history is kept.
type Settings struct {
	// Endpoint is the base URL of the API (e.g., "https://app.validio.io").
	Endpoint string `yaml:"endpoint" json:"endpoint" validate:"required,url"`

	// APIKey authenticates requests. Usually supplied through VALIDIO_API_KEY.
	APIKey string `yaml:"api_key,omitempty" json:"api_key" validate:"required"`

	// Namespace is reconciled unless the manifest names another.
	Namespace string `yaml:"namespace" json:"namespace" validate:"required,resource_name"`

	// Timeout bounds each API request.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout" validate:"gte=0"`

	// StatePath is the SQLite database holding run history.
	StatePath string `yaml:"state_path" json:"state_path" validate:"required"`

	Lease     LeaseSettings     `yaml:"lease,omitempty" json:"lease"`
	Policy    PolicySettings    `yaml:"policy,omitempty" json:"policy"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty" json:"telemetry"`
}

// LeaseSettings selects the namespace lease backend.
type LeaseSettings struct {
	// RedisAddr enables the redis lease when set (e.g., "localhost:6379").
	RedisAddr string `yaml:"redis_addr,omitempty" json:"redis_addr" validate:"omitempty,hostname_port"`

	// TTL is how long a lease is held without renewal.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl" validate:"gte=0"`
}

// PolicySettings configures the guardrails evaluated before apply.
type PolicySettings struct {
	Disabled bool `yaml:"disabled,omitempty" json:"disabled"`

	// Paths lists extra policy files or directories.
	Paths []string `yaml:"paths,omitempty" json:"paths"`

	// Disable turns off policies by name, built-in or loaded.
	Disable []string `yaml:"disable,omitempty" json:"disable"`

	// MaxDeletes is the large-delete threshold. Zero keeps the default.
	MaxDeletes int `yaml:"max_deletes,omitempty" json:"max_deletes" validate:"gte=0"`
}

// DefaultSettings returns settings with defaults for every optional field.
func DefaultSettings() *Settings {
	return &Settings{
		Endpoint:  "https://app.validio.io",
		Namespace: "default",
		Timeout:   30 * time.Second,
		StatePath: ".validio/state.db",
		Lease:     LeaseSettings{TTL: time.Minute},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadSettings reads settings from path. An empty path reads
// DefaultSettingsFile when it exists and falls back to defaults
// otherwise. Environment variables override file values.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	file := path
	if file == "" {
		file = DefaultSettingsFile
	}
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := s.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", file, err)
		}
	case path == "" && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read settings %s: %w", file, err)
	}

	s.applyEnv(os.LookupEnv)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		s.APIKey = v
	}
	if v, ok := lookup(EnvEndpoint); ok && v != "" {
		s.Endpoint = v
	}
	if v, ok := lookup(EnvNamespace); ok && v != "" {
		s.Namespace = v
	}
}

// Validate checks the settings. The API key is reported by field name only.
func (s *Settings) Validate() error {
	if err := newValidator().Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate settings: %w", err)
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			ve := ValidationError{
				Path:    strings.TrimPrefix(fe.Namespace(), "Settings."),
				Message: fieldErrorMessage(fe),
			}
			if fe.Field() == "api_key" {
				ve.Message = fmt.Sprintf("is required (set %s)", EnvAPIKey)
			}
			msgs = append(msgs, ve.String())
		}
		return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
	}

	if s.Telemetry != nil {
		if err := s.Telemetry.Validate(); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
	}
	return nil
}

// LeaseTTL returns the configured lease TTL or one minute.
func (s *Settings) LeaseTTL() time.Duration {
	if s.Lease.TTL > 0 {
		return s.Lease.TTL
	}
	return time.Minute
}
