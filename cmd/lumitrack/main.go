package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adapthttp "lumitrack/internal/adapter/http"
	"lumitrack/internal/adapter/memory"
	"lumitrack/internal/adapter/postgres"
	"lumitrack/internal/app"
	"lumitrack/internal/config"
	"lumitrack/internal/domain"
	"lumitrack/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		users     domain.UserRepository
		sessions  domain.SessionRepository
		telemetry domain.TelemetryRepository
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("db open")
		}
		defer func() { _ = db.Close() }()
		users, sessions, telemetry = db, postgres.NewSessionRepo(db), db
		log.Info().Msg("using postgres store")
	} else {
		db := memory.New()
		users, sessions, telemetry = db, db.NewSessionRepo(), db
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
	}

	credSvc := app.NewCredentialService(users, sessions, cfg.BcryptCost)
	sessionSvc := app.NewSessionService(credSvc, sessions, cfg.IdleTimeout, log)
	ingestSvc := app.NewIngestService(telemetry, log)
	exportSvc := app.NewExportService(telemetry)

	if err := bootstrapUser(ctx, credSvc, cfg.Bootstrap); err != nil {
		log.Fatal().Err(err).Msg("bootstrap user")
	}

	var oidc *adapthttp.OIDC
	if cfg.OIDC.Enabled {
		oidc, err = adapthttp.NewOIDC(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID, cfg.OIDC.ClientSecret, cfg.OIDC.RedirectURL)
		if err != nil {
			log.Fatal().Err(err).Msg("oidc discovery")
		}
		log.Info().Str("issuer", cfg.OIDC.Issuer).Msg("sso enabled")
	}

	go sessionSvc.RunSweeper(ctx, cfg.SweepInterval)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           adapthttp.New(sessionSvc, credSvc, ingestSvc, exportSvc, oidc, log, cfg.MaxUploadBytes).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}
}

// bootstrapUser seeds the configured initial account when the user table is
// empty, so a fresh deployment can log in at all.
func bootstrapUser(ctx context.Context, creds *app.CredentialService, bc config.BootstrapConfig) error {
	if bc.Username == "" {
		return nil
	}
	n, err := creds.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = creds.CreateUser(ctx, bc.Username, bc.Password)
	if err != nil && errors.Is(err, domain.ErrConflict) {
		return nil
	}
	return err
}
