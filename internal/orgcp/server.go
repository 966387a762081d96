package orgcp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/registryhq/orgcp/internal/logging"
	"github.com/registryhq/orgcp/internal/notice"
	"github.com/registryhq/orgcp/internal/orgs"
	"github.com/registryhq/orgcp/internal/reconciler"
	"github.com/registryhq/orgcp/pkg/billing"
	"github.com/registryhq/orgcp/pkg/directory"
	"github.com/registryhq/orgcp/pkg/sponsor"
)

// Run starts the control plane HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "orgcp",
	})

	log.Info().Str("version", version).Msg("Starting organization control plane")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	notices, err := notice.NewStore(cfg.NoticesDir(), cfg.NoticeTTL)
	if err != nil {
		return fmt.Errorf("open notice store: %w", err)
	}
	defer notices.Close()

	directoryClient, err := directory.NewClient(directory.ClientConfig{
		BaseURL: cfg.DirectoryURL,
		Timeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		return fmt.Errorf("init directory client: %w", err)
	}
	billingClient, err := billing.NewClient(billing.ClientConfig{
		BaseURL: cfg.BillingURL,
		Timeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		return fmt.Errorf("init billing client: %w", err)
	}
	sponsorClient, err := sponsor.NewClient(sponsor.ClientConfig{
		BaseURL: cfg.SponsorURL,
		Timeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		return fmt.Errorf("init sponsor client: %w", err)
	}

	rec := reconciler.New(reconciler.Config{
		Directory: directoryClient,
		Billing:   billingClient,
		Sponsor:   sponsorClient,
		Plan:      cfg.Plan,
		Pricing:   orgs.Pricing{PerSeat: cfg.SeatPrice, MinSeats: cfg.MinSeats},
	})

	mux := http.NewServeMux()
	RegisterRoutes(mux, Deps{
		Handlers: NewHandlers(rec, directoryClient, billingClient, notices),
		Resolver: directoryClient,
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		log.Info().Str("addr", addr).Msg("Control plane listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Control plane stopped")
	return nil
}
