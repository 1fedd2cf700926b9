// Command spotify-playtime runs the Spotify play-history tracker: a web
// endpoint for OAuth sign-in plus one background polling worker per
// registered user.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/eklykti/go-spotify-playtime/internal/auth"
	"github.com/eklykti/go-spotify-playtime/internal/config"
	"github.com/eklykti/go-spotify-playtime/internal/db"
	"github.com/eklykti/go-spotify-playtime/internal/secrets"
	"github.com/eklykti/go-spotify-playtime/internal/spotify"
	"github.com/eklykti/go-spotify-playtime/internal/web"
	"github.com/eklykti/go-spotify-playtime/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	box, err := secrets.NewBox(cfg.TokenKey)
	if err != nil {
		return fmt.Errorf("creating token cipher: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.New(ctx, cfg.DatabaseURL, box)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	logger.Info().Msg("connected to database")

	api := spotify.NewClient()

	registry := worker.NewRegistry(worker.RegistryConfig{
		API:       api,
		Counter:   api,
		Ledger:    database.History(),
		Store:     database.Credentials(),
		Refresher: auth.NewRefresher(cfg.ClientID, cfg.ClientSecret),
		Interval:  cfg.PollInterval,
		Logger:    logger,
	})
	defer registry.Close()

	// Rebuild workers for every stored credential; users that were paused
	// before the restart come back paused.
	creds, err := database.Credentials().List(ctx)
	if err != nil {
		return fmt.Errorf("loading stored credentials: %w", err)
	}
	for i := range creds {
		registry.AddWorker(&creds[i])
	}
	logger.Info().Int("workers", len(creds)).Msg("reloaded workers from store")

	server, err := web.NewServer(web.ServerConfig{
		Addr:        cfg.Addr,
		Auth:        auth.NewAuthenticator(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL),
		API:         api,
		Registry:    registry,
		Credentials: database.Credentials(),
		JWTSecret:   []byte(cfg.JWTSecret),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return server.Run()
}
