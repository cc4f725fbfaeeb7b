package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the telemetry section of the validio settings file.
type Config struct {
	ServiceName    string `yaml:"service_name,omitempty" validate:"required"`
	ServiceVersion string `yaml:"service_version,omitempty" validate:"required"`
	Environment    string `yaml:"environment,omitempty"`

	Logging LoggingConfig `yaml:"logging,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`

	// ResourceAttributes are added to the trace resource.
	ResourceAttributes map[string]string `yaml:"resource_attributes,omitempty"`
}

// LoggingConfig configures the run logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format,omitempty" validate:"oneof=console json"`

	// Output is stdout, stderr or a file path. Defaults to stderr.
	Output string `yaml:"output,omitempty"`

	EnableCaller bool `yaml:"enable_caller,omitempty"`

	// Sampling keeps SamplingInitial messages per second, then every
	// SamplingThereafter-th.
	EnableSampling     bool `yaml:"enable_sampling,omitempty"`
	SamplingInitial    int  `yaml:"sampling_initial,omitempty" validate:"gte=0"`
	SamplingThereafter int  `yaml:"sampling_thereafter,omitempty" validate:"gte=0"`
}

// TracingConfig configures run, phase and mutation spans.
type TracingConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter is otlp (gRPC), stdout (pretty JSON on stderr) or none.
	Exporter string `yaml:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint string `yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
	Insecure bool   `yaml:"insecure,omitempty"`

	// Headers are sent with every OTLP export, e.g. for authentication.
	Headers map[string]string `yaml:"headers,omitempty"`

	SamplingRate       float64       `yaml:"sampling_rate,omitempty" validate:"gte=0,lte=1"`
	MaxExportBatchSize int           `yaml:"max_export_batch_size,omitempty" validate:"gte=0"`
	ExportTimeout      time.Duration `yaml:"export_timeout,omitempty"`
}

// MetricsConfig configures Prometheus metrics. A CLI run is usually too
// short to be scraped, so metrics can also be pushed to a Pushgateway when
// the run completes.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`

	// ListenAddress serves Path for scraping while the process runs.
	// Empty disables the server.
	ListenAddress string `yaml:"listen_address,omitempty" validate:"omitempty,hostname_port"`
	Path          string `yaml:"path,omitempty" validate:"omitempty,startswith=/"`

	// PushURL is the Pushgateway receiving the metrics on shutdown.
	PushURL string `yaml:"push_url,omitempty" validate:"omitempty,url"`
	PushJob string `yaml:"push_job,omitempty"`

	Namespace string `yaml:"namespace,omitempty"`

	// DefaultHistogramBuckets are latency buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"default_histogram_buckets,omitempty"`
}

// DefaultConfig returns the settings used when the settings file has no
// telemetry section. Tracing and metrics are off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "validio",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
		},
		Tracing: TracingConfig{
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			PushJob:       "validio",
			Namespace:     "validio",
			DefaultHistogramBuckets: []float64{
				0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
			},
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration. Errors name the offending yaml path,
// e.g. "telemetry.logging.level".
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q check (got %v)", yamlPath(fe.StructNamespace()), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid telemetry config: %s", strings.Join(msgs, "; "))
}

// yamlPath turns "Config.Logging.Level" into "telemetry.logging.level".
func yamlPath(ns string) string {
	parts := strings.Split(ns, ".")
	parts[0] = "telemetry"
	for i := 1; i < len(parts); i++ {
		parts[i] = snake(parts[i])
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var (
		b    strings.Builder
		prev rune
	)
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			if prev >= 'a' && prev <= 'z' {
				b.WriteByte('_')
			}
			prev = r
			r += 'a' - 'A'
		} else {
			prev = r
		}
		b.WriteRune(r)
	}
	return b.String()
}
