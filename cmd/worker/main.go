// Package main is the entry point for the partnerpay background worker.
// It periodically reconciles vendor bill payments onto payout batches and
// recomputes payout state for unclaimed ledger entries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"partnerpay/internal/domain/invoices"
	"partnerpay/internal/domain/ledger"
	"partnerpay/internal/domain/partners"
	"partnerpay/internal/domain/payout"
	"partnerpay/internal/domain/policy"
	"partnerpay/internal/infrastructure/storage/postgres"
	"partnerpay/internal/infrastructure/storage/postgres/auth_repo"
	"partnerpay/internal/infrastructure/storage/postgres/document_repo"
	"partnerpay/internal/infrastructure/storage/postgres/ledger_repo"
	"partnerpay/internal/infrastructure/storage/postgres/partner_repo"
	"partnerpay/pkg/logger"
	"partnerpay/pkg/sequence"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting partnerpay worker")

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool)

	seq := sequence.NewWithProvider(func(ctx context.Context) sequence.Querier {
		return txManager.GetQuerier(ctx)
	})

	audit, err := postgres.NewAuditService(txManager)
	if err != nil {
		log.Fatalw("failed to initialize audit service", "error", err)
	}

	partnerRepo := partner_repo.NewPartnerRepo(txManager)
	invoiceRepo := document_repo.NewInvoiceRepo(txManager)
	batchRepo := document_repo.NewBatchRepo(txManager)
	entryRepo := ledger_repo.NewEntryRepo(txManager)
	tokenRepo := auth_repo.NewTokenRepo(txManager)

	var holdPolicy ledger.HoldPolicy
	if expr := getEnv("HOLD_POLICY_EXPR", ""); expr != "" {
		compiled, err := policy.Compile(expr)
		if err != nil {
			log.Fatalw("failed to compile hold policy", "expr", expr, "error", err)
		}
		holdPolicy = compiled
	}

	partnerService := partners.NewService(partnerRepo, seq, txManager, audit)
	ledgerService := ledger.NewService(entryRepo, partnerService, invoiceRepo, holdPolicy, txManager)
	invoiceService := invoices.NewService(
		invoiceRepo, nil, partnerService, ledgerService, seq, txManager, audit, invoices.Config{})

	payoutService := payout.NewService(
		batchRepo, entryRepo, ledgerService, partnerService, invoiceService,
		nil, seq, txManager, audit, payout.Config{})

	interval := getEnvDuration("WORKER_INTERVAL", time.Minute)
	tokenCleanupInterval := getEnvDuration("TOKEN_CLEANUP_INTERVAL", time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				payoutService.SweepSyncPaidStatus(ctx)
				payoutService.SweepRecomputeUnclaimed(ctx)
			}
		}
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(tokenCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := tokenRepo.CleanupExpiredTokens(ctx)
				if err != nil {
					log.Warnw("token cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					log.Infow("expired refresh tokens removed", "count", n)
				}
			}
		}
	}()

	log.Infow("worker running", "interval", interval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
