package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/gstflow/gstflow/internal/audit"
	auditdomain "github.com/gstflow/gstflow/internal/audit/domain"
	"github.com/gstflow/gstflow/internal/config"
	"github.com/gstflow/gstflow/internal/customer"
	customerdomain "github.com/gstflow/gstflow/internal/customer/domain"
	"github.com/gstflow/gstflow/internal/invoice"
	invoicedomain "github.com/gstflow/gstflow/internal/invoice/domain"
	obslogger "github.com/gstflow/gstflow/internal/observability/logger"
	obsmetrics "github.com/gstflow/gstflow/internal/observability/metrics"
	obstracing "github.com/gstflow/gstflow/internal/observability/tracing"
	"github.com/gstflow/gstflow/internal/payment"
	paymentdomain "github.com/gstflow/gstflow/internal/payment/domain"
	"github.com/gstflow/gstflow/internal/scheduler"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	customer.Module,
	invoice.Module,
	payment.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware())
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	genID       *snowflake.Node
	auditSvc    auditdomain.Service
	customerSvc customerdomain.Service
	invoiceSvc  invoicedomain.Service
	paymentSvc  paymentdomain.Service
	scheduler   *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	GenID       *snowflake.Node
	AuditSvc    auditdomain.Service
	CustomerSvc customerdomain.Service
	InvoiceSvc  invoicedomain.Service
	PaymentSvc  paymentdomain.Service
	Scheduler   *scheduler.Scheduler
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		genID:       p.GenID,
		auditSvc:    p.AuditSvc,
		customerSvc: p.CustomerSvc,
		invoiceSvc:  p.InvoiceSvc,
		paymentSvc:  p.PaymentSvc,
		scheduler:   p.Scheduler,
	}

	svc.registerAPIRoutes()
	svc.registerCronRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.OrgContext())

	invoices := api.Group("/invoices")
	invoices.POST("", s.CreateInvoice)
	invoices.GET("", s.ListInvoices)
	invoices.GET("/:id", s.GetInvoiceByID)
	invoices.POST("/:id/recurring/pause", s.PauseRecurring)
	invoices.POST("/:id/recurring/resume", s.ResumeRecurring)
	invoices.GET("/:id/recurring/future-dates", s.FutureDates)
	invoices.POST("/:id/generate", s.GenerateRecurringInvoice)

	customers := api.Group("/customers")
	customers.POST("", s.CreateCustomer)
	customers.GET("", s.ListCustomers)
	customers.GET("/:id", s.GetCustomerByID)

	payments := api.Group("/payments")
	payments.POST("", s.RecordPayment)
	payments.GET("", s.ListPayments)

	api.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerCronRoutes() {
	cron := s.engine.Group("/api/cron", s.CronAuth())

	cron.POST("/recurring-invoices", s.TriggerRecurringInvoices)
	cron.GET("/recurring-invoices", s.RecurringInvoiceStats)
}
