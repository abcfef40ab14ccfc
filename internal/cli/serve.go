package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/clock"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/gesture"
	apihttp "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port    string
	APIBase string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cart and checkout API",
		Long: `Serve the session API under /api/v1. Each X-Session-ID gets its own cart,
restored from the configured slot backend and kept in line with the stock API.

Example:
  storefront serve --port 8080 --api http://localhost:8081
  STORE_BACKEND=sqlite SQLITE_PATH=./carts.db storefront serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Port, "port", "", "listen port, overrides HTTP_PORT")
	cmd.Flags().StringVar(&opts.APIBase, "api", "", "stock/coupon/order API base URL, overrides API_BASE_URL")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	if opts.Port != "" {
		cfg.HTTP.Port = opts.Port
	}
	if opts.APIBase != "" {
		cfg.API.BaseURL = opts.APIBase
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repo, err := repository.Open(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error().Err(err).Msg("error closing slot repository")
		}
	}()
	log.Info().Str("backend", cfg.Store.Backend).Bool("redis_cache", cfg.Store.RedisCache).Msg("slot repository ready")

	api := catalog.NewClient(catalog.Config{
		BaseURL:          cfg.API.BaseURL,
		Timeout:          cfg.API.Timeout,
		BreakerTimeout:   cfg.API.BreakerTimeout,
		FailureThreshold: cfg.API.FailureThreshold,
	}, log)

	deps := session.Deps{API: api, Repo: repo, Metrics: m, Clock: clock.Real{}, Log: log}

	// The publisher outlives the sessions so their final events are flushed.
	pubCtx, stopPublisher := context.WithCancel(context.Background())
	defer stopPublisher()
	pubDone := make(chan struct{})
	var publisher *events.Publisher
	if cfg.Kafka.Enabled() {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, m, log)
		deps.Publisher = publisher
		go func() {
			defer close(pubDone)
			publisher.Run(pubCtx)
		}()
	} else {
		close(pubDone)
	}

	sessions := session.NewManager(sessionConfig(cfg), deps, cfg.Session.IdleTimeout)

	srv := &http.Server{
		Addr: ":" + cfg.HTTP.Port,
		Handler: apihttp.NewRouter(sessions, reg, apihttp.RouterConfig{
			RequestTimeout:     cfg.HTTP.RequestTimeout,
			MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
		}, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.HTTP.Port).Str("api", cfg.API.BaseURL).Msg("storefront starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sessions.Run(gctx, cfg.Session.SweepInterval)
		return nil
	})

	if cfg.Kafka.Enabled() {
		consumer := events.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ConsumerGroup, sessions, log)
		g.Go(func() error {
			consumer.Run(gctx)
			consumer.Close()
			return nil
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	sessions.Close()
	stopPublisher()
	<-pubDone
	if publisher != nil {
		if closeErr := publisher.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("error closing audit publisher")
		}
	}

	log.Info().Msg("server exited")
	return err
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Gesture: gesture.Config{
			HoldDuration:  cfg.Gesture.HoldDuration,
			Cooldown:      cfg.Gesture.Cooldown,
			ConfirmDelay:  cfg.Gesture.ConfirmDelay,
			ResetDelay:    cfg.Gesture.ResetDelay,
			FrameInterval: cfg.Gesture.FrameInterval,
		},
		ReconcileConcurrency: cfg.Reconcile.Concurrency,
		ReconcileTimeout:     cfg.Reconcile.Timeout,
		SubmitTimeout:        cfg.Session.SubmitTimeout,
	}
}
