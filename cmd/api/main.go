package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"orbit/api/internal/account"
	"orbit/api/internal/app"
	"orbit/api/internal/config"
	"orbit/api/internal/email"
	"orbit/api/internal/export"
	"orbit/api/internal/identity"
	"orbit/api/internal/purge"
	"orbit/api/internal/realtime"
	"orbit/api/internal/search"
	"orbit/api/internal/session"
	"orbit/api/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	// Redis backs refresh sessions and the realtime fan-out. Without it the
	// api still runs: sessions fall back to Postgres, realtime is disabled.
	var (
		redisClient *redis.Client
		sessions    app.SessionStore = dataStore
		emitter     *realtime.Emitter
		relay       *realtime.Relay
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Printf("WARNING: redis unreachable, realtime disabled and sessions on postgres: %v", err)
			redisClient = nil
		}
	}
	if redisClient != nil {
		defer redisClient.Close()
		sessions = session.NewRedisStoreWithClient(redisClient)
		emitter = realtime.NewEmitter(redisClient)
		relay = realtime.NewRelay(redisClient, func(*http.Request) bool { return true })
		defer relay.Close()
	}

	pglike := search.NewPgLike(dataStore)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pglike)
	searchService.ReindexAllFromPG(ctx)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	resolver := identity.NewResolver(dataStore)
	accounts := account.NewService(dataStore, mailer)
	exporter := export.NewService(dataStore)

	service := app.NewService(dataStore, sessions, resolver, accounts, searchService, exporter, emitter, mailer, app.Config{
		TokenSecret: cfg.TokenSecret,
		AccessTTL:   cfg.AccessTTL,
		RefreshTTL:  cfg.RefreshTTL,
		BaseURL:     cfg.BaseURL,
	})

	sweeper := purge.NewSweeper(dataStore, cfg.IdentityTTL, cfg.PurgeGrace, cfg.SweepInterval)
	go sweeper.Run(ctx)

	httpServer := app.NewHTTPServer(service, relay, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No global write deadline: board streams are long-lived websockets.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Orbit API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
