package appbootstrap

import (
	"context"
	"time"

	"incident-engine/core/utils"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// Serve runs the HTTP server and background workers until ctx is cancelled or
// the server fails, then shuts everything down.
func (rt *Runtime) Serve(ctx context.Context, logger *utils.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range rt.workers {
		w.StartWithContext(gctx)
	}
	g.Go(rt.Server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if logger != nil {
			logger.Printf("shutting down")
		}
		for _, w := range rt.workers {
			if err := w.StopWithContext(shutdownCtx); err != nil && logger != nil {
				logger.Errorf("worker stop: %v", err)
			}
		}
		return rt.Server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
