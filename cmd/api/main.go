package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkwell/api/internal/app"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/store"
	"inkwell/api/internal/upload"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var captcha authpw.CaptchaVerifier
	if cfg.TurnstileEnabled {
		captcha = authpw.NewTurnstile(cfg.TurnstileSecretKey)
	}
	authService := authpw.NewService(dataStore, captcha)

	pgfts := search.NewPgFTS(db)
	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		log.Printf("search: meilisearch enabled at %s", cfg.MeiliURL)
	}
	searchService := search.NewService(meili, pgfts)
	if meili != nil {
		go func() {
			// Give the health loop a beat to probe before reindexing.
			time.Sleep(2 * time.Second)
			searchService.ReindexAllFromPG(ctx)
		}()
	}

	var service *app.Service
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("redis unavailable, storing refresh sessions in postgres: %v", err)
			service = app.New(cfg, dataStore, authService, searchService)
		} else {
			defer redisStore.Close()
			log.Printf("sessions: redis enabled")
			service = app.NewWithSessionStore(cfg, dataStore, redisStore, authService, searchService)
		}
	} else {
		service = app.New(cfg, dataStore, authService, searchService)
	}

	if cfg.MinioEndpoint != "" {
		images, err := upload.New(ctx, upload.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.ImagePublicURL,
		})
		if err != nil {
			log.Printf("object storage unavailable, image uploads disabled: %v", err)
		} else {
			service.SetImageStore(images)
			log.Printf("uploads: object storage enabled, bucket %s", cfg.MinioBucket)
		}
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("api listening on %s", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	case <-ctx.Done():
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}
