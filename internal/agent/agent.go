package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Agent runs the detection loop, the sync process and the optional
// metrics listener together
type Agent struct {
	loop        *Loop
	syncer      *Syncer
	metricsAddr string
	gatherer    prometheus.Gatherer
	closers     []func() error
	logger      *slog.Logger
}

// New wires an agent from its parts. closers run in reverse order on Close.
func New(loop *Loop, syncer *Syncer, metricsAddr string, gatherer prometheus.Gatherer, logger *slog.Logger, closers ...func() error) *Agent {
	return &Agent{
		loop:        loop,
		syncer:      syncer,
		metricsAddr: metricsAddr,
		gatherer:    gatherer,
		closers:     closers,
		logger:      logger.With("component", "agent"),
	}
}

// Run blocks until ctx is cancelled or a component fails
func (a *Agent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.loop.Run(ctx)
	})
	g.Go(func() error {
		a.syncer.Start(ctx)
		return nil
	})

	if a.metricsAddr != "" && a.gatherer != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
		srv := &http.Server{
			Addr:              a.metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			a.logger.Info("metrics listener started", "addr", a.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				// Counting continues without metrics
				a.logger.Error("metrics listener failed", "addr", a.metricsAddr, "error", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Close releases every hardware handle handed to New
func (a *Agent) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("errors while releasing hardware", "error", err)
		return err
	}
	return nil
}
