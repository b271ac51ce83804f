// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	appctx "partnerpay/internal/core/context"
	"partnerpay/internal/domain/attribution"
	"partnerpay/internal/domain/auth"
	"partnerpay/internal/domain/invoices"
	"partnerpay/internal/domain/ledger"
	"partnerpay/internal/domain/orders"
	"partnerpay/internal/domain/partners"
	"partnerpay/internal/domain/payout"
	"partnerpay/internal/infrastructure/http/v1/handlers"
	"partnerpay/internal/infrastructure/http/v1/middleware"
	"partnerpay/pkg/logger"
)

// RouterConfig holds the wired services the API exposes.
type RouterConfig struct {
	// Pool is the database connection pool (used by health checks)
	Pool *pgxpool.Pool

	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// Version string reported by /health/info
	Version string

	AuthService    *auth.Service
	PartnerService *partners.Service
	Resolver       *attribution.Resolver
	OrderService   *orders.Service
	InvoiceService *invoices.Service
	LedgerService  *ledger.Service
	PayoutService  *payout.Service
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(cfg.Pool, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	api := router.Group("/api/v1")
	{
		registerAuthRoutes(api, cfg)

		protected := api.Group("")
		protected.Use(middleware.Auth(cfg.JWTValidator))

		registerPartnerRoutes(protected, cfg)
		registerReferralRoutes(api, cfg)
		registerOrderRoutes(protected, cfg)
		registerInvoiceRoutes(protected, cfg)
		registerLedgerRoutes(protected, cfg)
		registerPayoutRoutes(protected, cfg)
	}

	return router
}

// registerAuthRoutes registers authentication endpoints.
func registerAuthRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	if cfg.AuthService == nil {
		return
	}

	baseHandler := handlers.NewBaseHandler()
	authHandler := handlers.NewAuthHandler(baseHandler, cfg.AuthService)

	publicAuth := rg.Group("/auth")

	protectedAuth := rg.Group("/auth")
	protectedAuth.Use(middleware.Auth(cfg.JWTValidator))

	authHandler.RegisterRoutes(publicAuth, protectedAuth)
}

// registerPartnerRoutes registers partner directory endpoints. Approval,
// KYC and verification transitions are manager operations.
func registerPartnerRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	baseHandler := handlers.NewBaseHandler()
	handler := handlers.NewPartnerHandler(baseHandler, cfg.PartnerService)

	manager := middleware.RequireRole(appctx.RoleSalesManager, appctx.RoleAdmin)

	group := rg.Group("/partners")
	group.GET("", handler.List)
	group.POST("", handler.Create)
	group.GET("/:id", handler.Get)
	group.PUT("/:id", handler.Update)
	group.POST("/:id/approve", manager, handler.Approve)
	group.POST("/:id/reset-to-draft", manager, handler.ResetToDraft)
	group.POST("/:id/kyc-status", manager, handler.SetKYCStatus)
	group.POST("/:id/block", manager, handler.Block)
	group.POST("/:id/unblock", manager, handler.Unblock)
	group.POST("/:id/bank-verified", manager, handler.SetBankVerified)
	group.POST("/:id/company-verified", manager, handler.SetCompanyVerified)
	group.POST("/:id/vat-verified", manager, handler.SetVATVerified)
}

// registerReferralRoutes registers referral capture. Capture is public:
// it is driven by landing pages before any user is authenticated.
func registerReferralRoutes(public *gin.RouterGroup, cfg RouterConfig) {
	baseHandler := handlers.NewBaseHandler()
	handler := handlers.NewReferralHandler(baseHandler, cfg.Resolver)

	public.POST("/referrals/capture", handler.Capture)
}

// registerOrderRoutes registers sales order endpoints.
func registerOrderRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	baseHandler := handlers.NewBaseHandler()
	handler := handlers.NewSalesOrderHandler(baseHandler, cfg.OrderService)

	group := rg.Group("/sales-orders")
	group.GET("", handler.List)
	group.POST("", handler.Create)
	group.GET("/:id", handler.Get)
	group.PUT("/:id", handler.Update)
	group.POST("/:id/attribution", handler.SetAttribution)
	group.POST("/:id/confirm", handler.Confirm)
	group.POST("/:id/lock-attribution", handler.LockAttribution)
	group.POST("/:id/unlock-attribution", handler.UnlockAttribution)
	group.POST("/:id/convert", handler.ConvertToInvoice)
}

// registerInvoiceRoutes registers invoice document endpoints.
func registerInvoiceRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	baseHandler := handlers.NewBaseHandler()
	handler := handlers.NewInvoiceHandler(baseHandler, cfg.InvoiceService)

	group := rg.Group("/invoices")
	group.GET("", handler.List)
	group.POST("", handler.Create)
	group.GET("/:id", handler.Get)
	group.PUT("/:id", handler.Update)
	group.POST("/:id/post", handler.Post)
	group.POST("/:id/mark-paid", handler.MarkPaid)
	group.POST("/:id/mark-bill-paid", handler.MarkBillPaid)
}

// registerLedgerRoutes registers ledger endpoints. Entries are read-only
// over HTTP except for the manager-gated state recompute.
func registerLedgerRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	baseHandler := handlers.NewBaseHandler()
	handler := handlers.NewLedgerHandler(baseHandler, cfg.LedgerService)

	manager := middleware.RequireRole(appctx.RoleSalesManager, appctx.RoleAdmin)

	group := rg.Group("/ledger/entries")
	group.GET("", handler.List)
	group.GET("/:id", handler.Get)
	group.POST("/:id/recompute", manager, handler.Recompute)
}

// registerPayoutRoutes registers payout batch endpoints. The batch flow is
// a manager operation end to end.
func registerPayoutRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	baseHandler := handlers.NewBaseHandler()
	handler := handlers.NewBatchHandler(baseHandler, cfg.PayoutService)

	manager := middleware.RequireRole(appctx.RoleSalesManager, appctx.RoleAdmin)

	group := rg.Group("/payout-batches")
	group.Use(manager)
	group.GET("", handler.List)
	group.POST("", handler.Create)
	group.GET("/:id", handler.Get)
	group.GET("/:id/entries", handler.Entries)
	group.POST("/:id/load-payables", handler.LoadPayables)
	group.POST("/:id/generate-bills", handler.GenerateVendorBills)
	group.POST("/:id/sync-paid", handler.SyncPaidStatus)
}
