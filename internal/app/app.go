// Package app wires configuration, the Contentstack client, the page fetcher and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"site/internal/asyncdata"
	"site/internal/config"
	"site/internal/contentstack"
	"site/internal/pages"
	"site/internal/web"
)

const shutdownTimeout = 10 * time.Second

// Option configures an App.
type Option func(*options)

type options struct {
	transport contentstack.Transport
	listener  net.Listener
	signals   []os.Signal
}

// WithTransport replaces the transport selected by configuration.
func WithTransport(transport contentstack.Transport) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// WithListener serves on an existing listener instead of binding the configured address.
func WithListener(listener net.Listener) Option {
	return func(o *options) {
		o.listener = listener
	}
}

// WithSignals sets the OS signals that trigger shutdown. No signals disables signal handling.
func WithSignals(signals ...os.Signal) Option {
	return func(o *options) {
		o.signals = signals
	}
}

type App struct {
	cfg     config.Config
	logger  *zap.Logger
	fetcher *pages.Fetcher
	handler http.Handler

	listener net.Listener
	signals  []os.Signal
}

func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := options{signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM}}
	for _, opt := range opts {
		opt(&o)
	}

	dedupe, err := asyncdata.ParseDedupePolicy(cfg.Dedupe)
	if err != nil {
		return nil, fmt.Errorf("dedupe policy: %w", err)
	}

	transport := o.transport
	if transport == nil {
		transport, err = NewTransport(cfg.Contentstack)
		if err != nil {
			return nil, err
		}
	}

	stack := contentstack.NewStack(transport, contentstack.WithLocale(cfg.Contentstack.Locale))
	store := asyncdata.NewStore[*pages.Page](
		asyncdata.WithLogger(logger.Named("asyncdata")),
		asyncdata.WithDedupe(dedupe),
	)
	fetcher := pages.NewFetcher(stack, store)

	policies := web.DefaultCachePolicies()
	if cfg.CacheLive != "" {
		policies.Live = cfg.CacheLive
	}
	handler, err := web.New(web.Config{
		Pages:         fetcher,
		Logger:        logger.Named("web"),
		CachePolicies: policies,
	})
	if err != nil {
		return nil, fmt.Errorf("handler setup: %w", err)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		fetcher:  fetcher,
		handler:  handler,
		listener: o.listener,
		signals:  o.signals,
	}, nil
}

// NewTransport builds the Contentstack transport named by cfg.Transport.
func NewTransport(cfg config.ContentstackConfig) (contentstack.Transport, error) {
	switch cfg.Transport {
	case config.TransportREST, "":
		return contentstack.NewDeliveryTransport(contentstack.DeliveryConfig{
			Credentials: cfg.Credentials(),
			Region:      cfg.ParsedRegion(),
			Host:        cfg.Host,
			Timeout:     cfg.Timeout,
		}), nil
	case config.TransportGraphQL:
		return contentstack.NewGraphQLTransport(contentstack.GraphQLConfig{
			Credentials: cfg.Credentials(),
			Region:      cfg.ParsedRegion(),
			Host:        cfg.Host,
			Timeout:     cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown contentstack transport %q", cfg.Transport)
	}
}

func (a *App) Fetcher() *pages.Fetcher {
	return a.fetcher
}

func (a *App) Handler() http.Handler {
	return a.handler
}

// Serve runs the HTTP server until ctx is cancelled or a shutdown signal arrives.
func (a *App) Serve(ctx context.Context) error {
	listener := a.listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", a.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", a.cfg.ListenAddr, err)
		}
	}

	httpServer := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("configuration loaded",
		zap.String("listen_addr", listener.Addr().String()),
		zap.String("region", string(a.cfg.Contentstack.ParsedRegion())),
		zap.String("transport", a.cfg.Contentstack.Transport),
		zap.String("environment", a.cfg.Contentstack.Environment),
		zap.String("dedupe", a.cfg.Dedupe),
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting HTTP server", zap.String("address", listener.Addr().String()))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		if len(a.signals) > 0 {
			signal.Notify(quit, a.signals...)
			defer signal.Stop(quit)
		}

		select {
		case sig := <-quit:
			a.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		case <-gCtx.Done():
			a.logger.Info("context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		a.logger.Error("application error", zap.Error(err))
		return err
	}

	a.logger.Info("server stopped")
	return nil
}
