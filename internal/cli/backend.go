package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/inventory"
	"github.com/spf13/cobra"
)

// BackendOptions holds flags for the backend command.
type BackendOptions struct {
	*RootOptions
	Port     string
	SeedFile string
}

// NewBackendCommand creates the backend command.
func NewBackendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Serve an in-memory stock, coupon and order API",
		Long: `Serve the three endpoints the engine consumes from an in-memory catalog:

  GET  /products/id/{id}   stock, with per-variant figures
  POST /coupons/validate   coupon book lookup
  POST /orders             stock deduction, idempotent by key

Example:
  storefront backend --port 8081 --seed ./catalog.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackend(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Port, "port", "", "listen port, overrides BACKEND_PORT")
	cmd.Flags().StringVar(&opts.SeedFile, "seed", "", "YAML catalog seed, defaults to the built-in catalog")

	return cmd
}

func runBackend(ctx context.Context, opts *BackendOptions) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	if opts.Port != "" {
		cfg.Backend.Port = opts.Port
	}
	if opts.SeedFile != "" {
		cfg.Backend.SeedFile = opts.SeedFile
	}

	seed, err := inventory.LoadSeed(cfg.Backend.SeedFile)
	if err != nil {
		return err
	}
	store := inventory.NewMemoryStore()
	seed.Apply(store)

	srv := &http.Server{
		Addr:         ":" + cfg.Backend.Port,
		Handler:      inventory.NewHandler(store, log).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Backend.Port).Int("products", len(seed.Products)).Msg("backend starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down backend...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
