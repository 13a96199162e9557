package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lfgkeeper/internal/server"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// NewServer builds the HTTP server over the runtime.
func (rt *Runtime) NewServer() *server.Server {
	return server.NewServer(server.Deps{
		Config:   rt.Config,
		DB:       rt.DB,
		Redis:    rt.Redis,
		Requests: rt.Service,
		Sweeper:  rt.Sweeper,
		Ledger:   rt.Ledger,
		Flags:    rt.Flags,
		Events:   rt.Publisher,
	})
}

// Run serves the API, the periodic jobs and the deletion subscriber until ctx is done
// or one of them fails.
func (rt *Runtime) Run(ctx context.Context) error {
	sched, err := rt.Scheduler()
	if err != nil {
		return err
	}
	srv := rt.NewServer()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := rt.Reconcile.Start(ctx, rt.Events); err != nil {
			return fmt.Errorf("subscribe to deletion events: %w", err)
		}
		<-ctx.Done()
		rt.Reconcile.Wait()
		return nil
	})

	g.Go(func() error {
		return sched.Run(ctx)
	})

	g.Go(func() error {
		if err := srv.Listen(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
