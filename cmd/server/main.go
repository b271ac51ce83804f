// Package main is the entry point for the partnerpay API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"partnerpay/internal/domain/attribution"
	"partnerpay/internal/domain/auth"
	"partnerpay/internal/domain/invoices"
	"partnerpay/internal/domain/ledger"
	"partnerpay/internal/domain/orders"
	"partnerpay/internal/domain/partners"
	"partnerpay/internal/domain/payout"
	"partnerpay/internal/domain/policy"
	v1 "partnerpay/internal/infrastructure/http/v1"
	"partnerpay/internal/infrastructure/storage/postgres"
	"partnerpay/internal/infrastructure/storage/postgres/auth_repo"
	"partnerpay/internal/infrastructure/storage/postgres/document_repo"
	"partnerpay/internal/infrastructure/storage/postgres/ledger_repo"
	"partnerpay/internal/infrastructure/storage/postgres/partner_repo"
	"partnerpay/pkg/logger"
	"partnerpay/pkg/sequence"
)

const version = "1.0.0"

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

	ctx := context.Background()
	log.Info("starting partnerpay server")

	// --- Database ---
	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	txManager := postgres.NewTxManager(pool)

	seq := sequence.NewWithProvider(func(ctx context.Context) sequence.Querier {
		return txManager.GetQuerier(ctx)
	})

	audit, err := postgres.NewAuditService(txManager)
	if err != nil {
		log.Fatalw("failed to initialize audit service", "error", err)
	}

	attachments, err := postgres.NewAttachmentStore(txManager)
	if err != nil {
		log.Fatalw("failed to initialize attachment store", "error", err)
	}

	// --- Repositories ---
	partnerRepo := partner_repo.NewPartnerRepo(txManager)
	referralRepo := partner_repo.NewReferralRepo(txManager)
	orderRepo := document_repo.NewSalesOrderRepo(txManager)
	invoiceRepo := document_repo.NewInvoiceRepo(txManager)
	batchRepo := document_repo.NewBatchRepo(txManager)
	entryRepo := ledger_repo.NewEntryRepo(txManager)
	userRepo := auth_repo.NewUserRepo(txManager)
	tokenRepo := auth_repo.NewTokenRepo(txManager)

	// --- Hold policy (optional) ---
	var holdPolicy ledger.HoldPolicy
	if expr := getEnv("HOLD_POLICY_EXPR", ""); expr != "" {
		compiled, err := policy.Compile(expr)
		if err != nil {
			log.Fatalw("failed to compile hold policy", "expr", expr, "error", err)
		}
		holdPolicy = compiled
		log.Infow("hold policy active", "expr", expr)
	}

	// --- Services ---
	partnerService := partners.NewService(partnerRepo, seq, txManager, audit)
	resolver := attribution.NewResolver(partnerRepo, referralRepo)

	ledgerService := ledger.NewService(entryRepo, partnerService, invoiceRepo, holdPolicy, txManager)

	invoiceService := invoices.NewService(
		invoiceRepo,
		resolver,
		partnerService,
		ledgerService,
		seq,
		txManager,
		audit,
		invoices.Config{
			AutoBillPerInvoice: getEnv("AUTO_BILL_PER_INVOICE", "false") == "true",
		},
	)

	orderService := orders.NewService(orderRepo, resolver, invoiceService, seq, txManager, audit)

	payoutService := payout.NewService(
		batchRepo,
		entryRepo,
		ledgerService,
		partnerService,
		invoiceService,
		attachments,
		seq,
		txManager,
		audit,
		payout.Config{
			PayableAccount:    getEnv("PAYOUT_PAYABLE_ACCOUNT", ""),
			PurchaseJournal:   getEnv("PAYOUT_PURCHASE_JOURNAL", ""),
			CommissionProduct: getEnv("PAYOUT_COMMISSION_PRODUCT", ""),
		},
	)

	// --- Auth ---
	jwtService := auth.NewJWTService(auth.DefaultJWTConfig(mustEnv("JWT_SECRET")))
	authService := auth.NewService(userRepo, tokenRepo, txManager, jwtService, auth.DefaultServiceConfig())

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:           pool.Unwrap(),
		Logger:         log,
		JWTValidator:   jwtService,
		Version:        version,
		AuthService:    authService,
		PartnerService: partnerService,
		Resolver:       resolver,
		OrderService:   orderService,
		InvoiceService: invoiceService,
		LedgerService:  ledgerService,
		PayoutService:  payoutService,
	})

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
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
