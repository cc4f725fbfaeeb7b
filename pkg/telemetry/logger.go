package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// redactedText replaces registered secret values in log output.
const redactedText = "[REDACTED]"

// NewLogger builds the logger described by cfg. Every line passes through
// redactor before it reaches the sink. The returned closer releases a log
// file and is a no-op for stdout and stderr.
func NewLogger(cfg LoggingConfig, redactor *Redactor) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var (
		sink   io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "", "stderr":
		sink = os.Stderr
	case "stdout":
		sink = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		sink, closer = f, f
	}

	if redactor != nil {
		sink = redactor.Writer(sink)
	}
	if cfg.Format == "console" {
		sink = zerolog.ConsoleWriter{Out: sink, TimeFormat: time.Kitchen}
	}

	zctx := zerolog.New(sink).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	logger := zctx.Logger()

	if cfg.EnableSampling {
		logger = logger.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}

	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// LoggerFrom returns the logger attached to ctx, or the global logger.
func LoggerFrom(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return log.Logger
}

// Redactor scrubs known secret values from log output. Secrets are
// registered once they have been resolved from the environment.
type Redactor struct {
	mu       sync.RWMutex
	values   map[string]struct{}
	replacer *strings.Replacer
}

// NewRedactor returns a Redactor without any registered values.
func NewRedactor() *Redactor {
	return &Redactor{values: make(map[string]struct{})}
}

// Add registers secret values. Empty values are ignored.
func (r *Redactor) Add(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, form := range encodings(v) {
			if _, ok := r.values[form]; !ok {
				r.values[form] = struct{}{}
				changed = true
			}
		}
	}
	if changed {
		r.rebuild()
	}
}

// encodings returns v as written raw and as written inside a JSON string.
func encodings(v string) []string {
	forms := []string{v}
	if b, err := json.Marshal(v); err == nil {
		if quoted := string(b[1 : len(b)-1]); quoted != v {
			forms = append(forms, quoted)
		}
	}
	return forms
}

// rebuild replaces longer values first so a secret containing another is
// not left partially visible.
func (r *Redactor) rebuild() {
	sorted := make([]string, 0, len(r.values))
	for v := range r.values {
		sorted = append(sorted, v)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})

	pairs := make([]string, 0, 2*len(sorted))
	for _, v := range sorted {
		pairs = append(pairs, v, redactedText)
	}
	r.replacer = strings.NewReplacer(pairs...)
}

// Redact returns s with every registered value replaced.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.replacer == nil {
		return s
	}
	return r.replacer.Replace(s)
}

// Writer wraps w so every write is redacted.
func (r *Redactor) Writer(w io.Writer) io.Writer {
	return &redactWriter{r: r, w: w}
}

type redactWriter struct {
	r *Redactor
	w io.Writer
}

// Write reports len(p) on success since callers do not know about the
// rewritten length.
func (rw *redactWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(rw.w, rw.r.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
