package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rimuz-hub/Tether-Middleman/internal/app"
	"github.com/rimuz-hub/Tether-Middleman/internal/archive"
	"github.com/rimuz-hub/Tether-Middleman/internal/config"
	"github.com/rimuz-hub/Tether-Middleman/internal/export"
	"github.com/rimuz-hub/Tether-Middleman/internal/ledger"
	"github.com/rimuz-hub/Tether-Middleman/internal/provisioner"
	"github.com/rimuz-hub/Tether-Middleman/internal/search"
	"github.com/rimuz-hub/Tether-Middleman/internal/store"
	"github.com/rimuz-hub/Tether-Middleman/internal/ticket"
)

type ticketStore interface {
	ticket.Store
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var (
		tickets ticketStore
		pgfts   *search.PgFTS
	)
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		tickets = store.NewPostgresStore(db)
		pgfts = search.NewPgFTS(db)
		log.Printf("Using PostgreSQL ticket storage")

	case strings.TrimSpace(cfg.RedisURL) != "":
		redisStore, err := store.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		tickets = redisStore
		log.Printf("Using Redis ticket storage")

	default:
		if err := os.MkdirAll(filepath.Dir(cfg.StateFile), 0o755); err != nil {
			log.Fatalf("failed to create state dir: %v", err)
		}
		tickets = store.NewFileStore(cfg.StateFile)
		log.Printf("Using file ticket storage at %s", cfg.StateFile)
	}
	defer tickets.Close()

	var gateway interface {
		ResolveIdentity(ctx context.Context, identity string) error
		CreatePrivateChannel(ctx context.Context, name string, visibleTo []string) (string, error)
		SetChannelName(ctx context.Context, channelID, name string) error
		RestrictWrite(ctx context.Context, channelID string, allow []string) error
		DeleteChannel(ctx context.Context, channelID string) error
	}
	if strings.TrimSpace(cfg.GatewayURL) != "" {
		gateway = provisioner.NewGateway(cfg.GatewayURL, cfg.GuildID, cfg.GatewayToken, cfg.ProvisionTimeout)
		log.Printf("Using platform gateway at %s", cfg.GatewayURL)
	} else {
		gateway = provisioner.NewStatic()
		log.Printf("Using static in-memory provisioner")
	}

	manager, err := ticket.NewManager(ctx, tickets, gateway, ticket.Options{
		ProvisionTimeout: cfg.ProvisionTimeout,
	})
	if err != nil {
		log.Fatalf("ticket table load failed: %v", err)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	defer searchService.Close()
	searchService.ReindexAllFromPG(ctx)

	var ledgerService *ledger.Service
	if strings.TrimSpace(cfg.LedgerDir) != "" {
		if err := os.MkdirAll(cfg.LedgerDir, 0o755); err != nil {
			log.Fatalf("failed to create ledger dir: %v", err)
		}
		ledgerService = ledger.New(cfg.LedgerDir)
	}

	var archiveService *archive.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiveService, err = archive.New(ctx, archive.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
	}

	service := app.NewService(manager, gateway, searchService, ledgerService, export.NewService(), archiveService, tickets, app.Options{
		JWTSecret:       cfg.JWTSecret,
		OperatorKeyHash: cfg.OperatorKeyHash,
		SessionTTL:      cfg.SessionTTL,
		DeleteGrace:     cfg.DeleteGrace,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Middleman API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		log.Printf("ticket table flush error: %v", err)
	}
}
