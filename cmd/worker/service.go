package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/billsync/internal/reconcile"
	"github.com/angelmondragon/billsync/pkg/logger"
)

const metricsShutdownTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type eventWorker interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger      *logger.Logger
	Worker      eventWorker
	Queue       *reconcile.Queue
	Reconciler  *reconcile.Service
	Gatherer    prometheus.Gatherer
	MetricsAddr string
	// Dependencies are pinged in order before any processing starts.
	Dependencies []namedPinger
}

type namedPinger struct {
	name string
	ping func(context.Context) error
}

func dependency(name string, p pinger) namedPinger {
	return namedPinger{name: name, ping: p.Ping}
}

// Service runs the event worker pool next to the on-demand reconciliation
// consumer and exposes worker metrics.
type Service struct {
	logg         *logger.Logger
	worker       eventWorker
	queue        *reconcile.Queue
	reconciler   *reconcile.Service
	gatherer     prometheus.Gatherer
	metricsAddr  string
	dependencies []namedPinger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Worker == nil {
		return nil, errors.New("event worker is required")
	}
	if params.Queue != nil && params.Reconciler == nil {
		return nil, errors.New("reconciler is required when a queue is wired")
	}
	return &Service{
		logg:         params.Logger,
		worker:       params.Worker,
		queue:        params.Queue,
		reconciler:   params.Reconciler,
		gatherer:     params.Gatherer,
		metricsAddr:  params.MetricsAddr,
		dependencies: params.Dependencies,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.dependencies {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until ctx is canceled or a component fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.worker.Run(gctx)
	})
	if s.queue != nil {
		g.Go(func() error {
			return s.queue.Run(gctx, s.reconciler)
		})
	}
	if s.gatherer != nil && s.metricsAddr != "" {
		server := &http.Server{
			Addr:              s.metricsAddr,
			Handler:           promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), metricsShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	}
	if err != nil {
		s.logg.Error(ctx, "worker stopped unexpectedly", err)
	}
	return err
}
