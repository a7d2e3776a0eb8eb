package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/ledgerd/internal/audit"
	auditdomain "github.com/smallbiznis/ledgerd/internal/audit/domain"
	"github.com/smallbiznis/ledgerd/internal/billingcycle"
	billingcycledomain "github.com/smallbiznis/ledgerd/internal/billingcycle/domain"
	"github.com/smallbiznis/ledgerd/internal/config"
	"github.com/smallbiznis/ledgerd/internal/customer"
	customerdomain "github.com/smallbiznis/ledgerd/internal/customer/domain"
	"github.com/smallbiznis/ledgerd/internal/fxrate"
	fxratedomain "github.com/smallbiznis/ledgerd/internal/fxrate/domain"
	"github.com/smallbiznis/ledgerd/internal/invoice"
	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	"github.com/smallbiznis/ledgerd/internal/ledger"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	"github.com/smallbiznis/ledgerd/internal/observability"
	obslogger "github.com/smallbiznis/ledgerd/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ledgerd/internal/observability/metrics"
	obstracing "github.com/smallbiznis/ledgerd/internal/observability/tracing"
	"github.com/smallbiznis/ledgerd/internal/reporting"
	reportingdomain "github.com/smallbiznis/ledgerd/internal/reporting/domain"
	"github.com/smallbiznis/ledgerd/internal/wallet"
	walletdomain "github.com/smallbiznis/ledgerd/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	customer.Module,
	ledger.Module,
	wallet.Module,
	fxrate.Module,
	invoice.Module,
	billingcycle.Module,
	reporting.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())
	r.Use(AuditActorMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	customerSvc     customerdomain.Service
	ledgerSvc       ledgerdomain.Service
	walletSvc       walletdomain.Service
	fxSvc           fxratedomain.Service
	invoiceSvc      invoicedomain.Service
	billingCycleSvc billingcycledomain.Service
	reportingSvc    reportingdomain.Service
	auditSvc        auditdomain.Service
	log             *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	CustomerSvc     customerdomain.Service
	LedgerSvc       ledgerdomain.Service
	WalletSvc       walletdomain.Service
	FxSvc           fxratedomain.Service
	InvoiceSvc      invoicedomain.Service
	BillingCycleSvc billingcycledomain.Service
	ReportingSvc    reportingdomain.Service
	AuditSvc        auditdomain.Service
	Log             *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		customerSvc:     p.CustomerSvc,
		ledgerSvc:       p.LedgerSvc,
		walletSvc:       p.WalletSvc,
		fxSvc:           p.FxSvc,
		invoiceSvc:      p.InvoiceSvc,
		billingCycleSvc: p.BillingCycleSvc,
		reportingSvc:    p.ReportingSvc,
		auditSvc:        p.AuditSvc,
		log:             p.Log.Named("http.server"),
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	// -------- Customers --------
	api.GET("/customers", s.ListCustomers)
	api.POST("/customers", s.CreateCustomer)
	api.GET("/customers/:id", s.GetCustomerByID)
	api.POST("/customers/:id/provision", s.ProvisionCustomer)
	api.GET("/customers/:id/billing_account", s.GetCustomerBillingAccount)
	api.GET("/customers/:id/wallet", s.GetCustomerWallet)
	api.GET("/customers/:id/statement", s.GetStatement)

	// -------- Ledger --------
	api.GET("/billing_accounts/:id", s.GetBillingAccount)
	api.GET("/billing_accounts/:id/balance", s.GetBalance)
	api.POST("/billing_accounts/:id/entries", s.PostEntry)
	api.GET("/entries", s.ListEntries)
	api.GET("/entries/:id", s.GetEntry)

	// -------- Wallets --------
	api.GET("/wallets/:id", s.GetWallet)
	api.GET("/wallets/:id/transactions", s.ListWalletTransactions)
	api.POST("/wallets/:id/credit", s.CreditWallet)
	api.POST("/wallets/:id/debit", s.DebitWallet)
	api.POST("/wallets/:id/attempt_credits", s.CreditWalletForAttempt)

	// -------- FX --------
	api.GET("/fx_rates", s.ListFxRates)
	api.POST("/fx_rates", s.SetFxRate)
	api.GET("/fx_rates/resolve", s.ResolveFxRate)
	api.POST("/fx_rates/convert", s.ConvertAmount)

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.POST("/invoices", s.CreateInvoice)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.POST("/invoices/:id/status", s.UpdateInvoiceStatus)
	api.POST("/invoices/:id/post", s.PostInvoiceToLedger)
	api.POST("/invoices/:id/orders", s.LinkInvoiceOrder)
	api.DELETE("/orders/:id/invoice_links", s.DetachOrder)
	api.POST("/overdue_sweeps", s.SweepOverdueInvoices)
	api.POST("/consolidated_invoices", s.ConsolidateInvoices)
	api.GET("/consolidated_invoices/:id", s.GetConsolidatedInvoice)

	// -------- Billing cycle --------
	api.GET("/billing_config", s.GetBillingConfig)
	api.PUT("/billing_config", s.UpdateBillingConfig)

	// -------- Reports --------
	api.GET("/reports/revenue", s.GetRevenueSummary)
	api.GET("/reports/revenue/table", s.GetRevenueTable)

	// -------- Audit --------
	api.GET("/audit_logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
