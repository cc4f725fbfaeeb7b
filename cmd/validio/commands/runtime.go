package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/client"
	"github.com/validio/validio-go/pkg/config"
	"github.com/validio/validio-go/pkg/engine"
	"github.com/validio/validio-go/pkg/lease"
	"github.com/validio/validio-go/pkg/policy"
	"github.com/validio/validio-go/pkg/resources"
	"github.com/validio/validio-go/pkg/stores"
	"github.com/validio/validio-go/pkg/telemetry"
)

// cliVersion is sent in the User-Agent header.
var cliVersion = "dev"

// newAPIClient builds the API client from settings. Tests replace it.
var newAPIClient = func(s *config.Settings) api.Client {
	return client.New(s.Endpoint, s.APIKey, cliVersion,
		client.WithTimeout(s.Timeout),
		client.WithLogger(log.Logger),
	)
}

// runtime holds everything a command needs to talk to the API and record runs.
type runtime struct {
	settings  *config.Settings
	client    api.Client
	store     *stores.SQLiteStore
	locker    lease.Locker
	policy    *policy.Engine
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	closers   []func() error
}

// newRuntime loads settings and opens the run store, the lease backend and
// the policy engine. The returned context carries telemetry.
func newRuntime(ctx context.Context) (context.Context, *runtime, error) {
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return ctx, nil, err
	}

	rt := &runtime{settings: settings, logger: log.Logger}

	if settings.Telemetry != nil {
		tel, err := telemetry.NewTelemetry(settings.Telemetry)
		if err != nil {
			return ctx, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		if err := tel.Start(); err != nil {
			return ctx, nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
		rt.telemetry = tel
		rt.logger = tel.Logger
		rt.closers = append(rt.closers, func() error { return tel.Shutdown(context.Background()) })
		ctx = tel.WithContext(ctx)
	}

	store, err := openStore(ctx, settings.StatePath)
	if err != nil {
		rt.Close()
		return ctx, nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	if addr := settings.Lease.RedisAddr; addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			rt.Close()
			return ctx, nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
		}
		rt.locker = lease.NewRedisLease(rdb, "validio:lease:")
		rt.closers = append(rt.closers, rdb.Close)
	} else {
		rt.locker = lease.NewLocalLease()
	}

	if !settings.Policy.Disabled {
		pe, err := newPolicyEngine(ctx, rt.logger, settings.Policy)
		if err != nil {
			rt.Close()
			return ctx, nil, err
		}
		rt.policy = pe
	}

	rt.client = newAPIClient(settings)
	return ctx, rt, nil
}

func newPolicyEngine(ctx context.Context, logger zerolog.Logger, ps config.PolicySettings) (*policy.Engine, error) {
	opts := []policy.Option{policy.WithUser(actor())}
	if ps.MaxDeletes > 0 {
		limits := policy.DefaultLimits()
		limits.MaxDeletes = ps.MaxDeletes
		opts = append(opts, policy.WithLimits(limits))
	}

	pe, err := policy.NewEngine(logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(ps.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, ps.Paths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	for _, name := range ps.Disable {
		if err := pe.DisablePolicy(name); err != nil {
			return nil, fmt.Errorf("invalid settings: policy.disable: %w", err)
		}
	}
	return pe, nil
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	rt.closers = nil
}

// reconciler builds a Reconciler reporting mutations to obs.
func (rt *runtime) reconciler(obs engine.Observer) *engine.Reconciler {
	r := &engine.Reconciler{
		Client:   rt.client,
		Store:    rt.store,
		Locker:   rt.locker,
		LeaseTTL: rt.settings.LeaseTTL(),
		Options:  []engine.Option{engine.WithLogger(rt.logger)},
	}
	if rt.policy != nil {
		r.Policy = rt.policy
	}
	if obs != nil {
		r.Options = append(r.Options, engine.WithObserver(obs))
	}
	return r
}

// namespaceFor resolves the namespace: flag, then manifest, then settings.
func (rt *runtime) namespaceFor(m *config.Manifest) string {
	switch {
	case namespace != "":
		return namespace
	case m != nil && m.Namespace != "":
		return m.Namespace
	default:
		return rt.settings.Namespace
	}
}

// protect registers the resolved secrets of desired with the log redactor.
func (rt *runtime) protect(ctx context.Context, desired *resources.DiffContext) {
	for _, r := range desired.All() {
		holder, ok := r.(resources.SecretHolder)
		if !ok {
			continue
		}
		for _, s := range holder.Secrets() {
			if s.IsSet() {
				telemetry.RedactSecrets(ctx, s.Reveal())
			}
		}
	}
}

// loadDesired reads a manifest and builds the desired state.
func loadDesired(path string) (*config.Manifest, *resources.DiffContext, error) {
	m, err := config.LoadManifest(path)
	if err != nil {
		return nil, nil, err
	}
	dc, err := m.ToDiffContext()
	if err != nil {
		return nil, nil, err
	}
	return m, dc, nil
}
