// Package bootstrap wires configuration into a running engine.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lfgkeeper/internal/admission"
	"lfgkeeper/internal/artifacts"
	"lfgkeeper/internal/cache"
	"lfgkeeper/internal/catalog"
	"lfgkeeper/internal/cleanup"
	"lfgkeeper/internal/config"
	"lfgkeeper/internal/database"
	"lfgkeeper/internal/featureflags"
	"lfgkeeper/internal/gateway"
	"lfgkeeper/internal/ledger"
	"lfgkeeper/internal/lifecycle"
	"lfgkeeper/internal/notifications"
	"lfgkeeper/internal/reconcile"
	"lfgkeeper/internal/repository"
	"lfgkeeper/internal/service"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// ApplySchema runs the configured schema policy after connecting.
	ApplySchema bool
	// ConnectTimeout bounds the total time spent retrying the database.
	ConnectTimeout time.Duration
}

// Runtime holds every long-lived collaborator of the engine.
type Runtime struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Catalog   *catalog.Catalog
	Flags     *featureflags.Manager
	Requests  repository.RequestRepository
	Admission *admission.Controller
	Transport gateway.Transport
	Tracker   *artifacts.Tracker
	Ledger    *ledger.Ledger
	Machine   *lifecycle.Machine
	Service   *service.RequestService
	Sweeper   *cleanup.Sweeper
	Reconcile *reconcile.Worker
	Events    notifications.Subscription
	Publisher notifications.Publisher
}

// ConnectDB opens the database, retrying with exponential backoff while it comes up.
func ConnectDB(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = timeout

	var db *gorm.DB
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		conn, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: opts.ApplySchema})
		if err != nil {
			return err
		}
		db = conn
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		slog.WarnContext(ctx, "database not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("next", next),
			slog.String("error", err.Error()))
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed after %d attempts: %w", attempt, err)
	}
	return db, nil
}

// InitRuntime connects to the database and Redis and builds the engine. Without Redis the
// admission store and deletion events fall back to in-process implementations.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	db, err := ConnectDB(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(cfg.DomainCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load domain catalog: %w", err)
	}

	return Build(cfg, db, cache.InitRedis(ctx, cfg.RedisURL), cat, nil), nil
}

// Build assembles the engine from already-open connections. rdb may be nil. A nil
// transport selects the gateway from GATEWAY_URL.
func Build(cfg *config.Config, db *gorm.DB, rdb *redis.Client, cat *catalog.Catalog, transport gateway.Transport) *Runtime {
	rt := &Runtime{
		Config:  cfg,
		DB:      db,
		Redis:   rdb,
		Catalog: cat,
		Flags:   featureflags.NewManager(cfg.FeatureFlags),
	}

	rt.Requests = repository.NewRequestRepository(db)
	rt.Machine = lifecycle.NewMachine(rt.Requests)

	var reservations admission.Store
	if rdb != nil {
		reservations = admission.NewRedisStore(rdb)
		notifier := notifications.NewNotifier(rdb)
		rt.Events, rt.Publisher = notifier, notifier
	} else {
		slog.Warn("running without redis: reservations and deletion events are process-local")
		reservations = admission.NewMemoryStore()
		bus := notifications.NewBus()
		rt.Events, rt.Publisher = bus, bus
	}
	rt.Admission = admission.NewController(reservations, rt.Requests, cfg.ReservationTTL())

	if transport == nil {
		transport = newTransport(cfg)
	}
	rt.Transport = transport

	rt.Ledger = ledger.New(repository.NewFailureRepository(db), nil)
	rt.Tracker = artifacts.NewTracker(transport, cat, rt.Ledger, artifacts.WithTimeout(cfg.ExternalTimeout()))
	rt.Ledger.SetRemover(rt.Tracker)

	rt.Service = service.NewRequestService(rt.Requests, rt.Machine, rt.Admission, rt.Tracker, cat, service.RequestServiceOptions{
		Limit:           cfg.AdmissionLimit,
		PendingLifetime: cfg.PendingLifetime(),
	})
	rt.Sweeper = cleanup.NewSweeper(rt.Requests, rt.Machine, rt.Tracker, rt.Ledger, rt.Flags, cleanup.Policy{
		ArchiveAfter: time.Duration(cfg.ArchiveDays) * 24 * time.Hour,
		DeleteAfter:  time.Duration(cfg.DeleteDays) * 24 * time.Hour,
	})
	rt.Reconcile = reconcile.NewWorker(rt.Requests, rt.Tracker, rt.Flags, cfg.ReconcileDebounce())
	return rt
}

func newTransport(cfg *config.Config) gateway.Transport {
	if cfg.GatewayURL == "" {
		slog.Warn("GATEWAY_URL not set, artifacts are kept in memory")
		return gateway.NewMemoryTransport()
	}
	return gateway.NewBreaker(gateway.NewHTTPTransport(gateway.HTTPOptions{
		BaseURL: cfg.GatewayURL,
		Token:   cfg.GatewayToken,
	}), gateway.BreakerSettings{Name: "chat-gateway"})
}

// Scheduler registers the periodic jobs from config. An empty cron expression disables a job.
func (rt *Runtime) Scheduler() (*cleanup.Scheduler, error) {
	s := cleanup.NewScheduler()
	jobs := []struct {
		name string
		spec string
		job  cleanup.Job
	}{
		{"cleanup", rt.Config.CleanupCron, func(ctx context.Context) error {
			res, err := rt.Sweeper.RunCleanup(ctx, cleanup.Options{})
			if err != nil {
				return err
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("cleanup finished with %d errors", len(res.Errors))
			}
			return nil
		}},
		{"ledger_retry", rt.Config.RetryCron, func(ctx context.Context) error {
			_, err := rt.Ledger.RetryPending(ctx, rt.Config.RetryBatchSize)
			return err
		}},
		{"reservation_sweep", rt.Config.ReservationSweepCron, func(ctx context.Context) error {
			_, err := rt.Admission.Sweep(ctx)
			return err
		}},
		{"ledger_purge", rt.Config.LedgerPurgeCron, func(ctx context.Context) error {
			_, err := rt.Ledger.PurgeResolved(ctx, rt.Config.LedgerGrace())
			return err
		}},
	}
	for _, j := range jobs {
		if err := s.Add(j.name, j.spec, j.job); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close releases connections. It is safe to call on a partially built runtime.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.DB != nil {
		if sqlDB, err := rt.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
