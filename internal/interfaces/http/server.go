// Package http provides the HTTP adapter over the reconciliation and
// document-processing services. Handlers translate requests into service
// calls; no business rules live here.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/event"
	"github.com/ledgerline/reconcile/internal/importer"
	"github.com/ledgerline/reconcile/internal/job"
	"github.com/ledgerline/reconcile/internal/reconcile"
	"github.com/ledgerline/reconcile/internal/repository"
	"github.com/ledgerline/reconcile/internal/storage"
	"github.com/ledgerline/reconcile/internal/workflow"
)

// OrgHeader is the request header carrying the tenant identifier
const OrgHeader = "X-Organization-ID"

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PresignTTL   time.Duration
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	logger     *zap.Logger

	engine   *reconcile.Engine
	tracker  *job.Tracker
	flows    *workflow.Engine
	bus      *event.Bus
	store    storage.Store
	importer *importer.Importer

	invoices        *repository.InvoiceRepository
	payments        *repository.PaymentRepository
	reconciliations *repository.ReconciliationRepository
	exceptions      *repository.ExceptionRepository
}

// NewServer creates the HTTP server and wires its routes
func NewServer(
	config ServerConfig,
	engine *reconcile.Engine,
	tracker *job.Tracker,
	flows *workflow.Engine,
	bus *event.Bus,
	store storage.Store,
	imp *importer.Importer,
	invoices *repository.InvoiceRepository,
	payments *repository.PaymentRepository,
	reconciliations *repository.ReconciliationRepository,
	exceptions *repository.ExceptionRepository,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:          config,
		router:          gin.New(),
		logger:          logger,
		engine:          engine,
		tracker:         tracker,
		flows:           flows,
		bus:             bus,
		store:           store,
		importer:        imp,
		invoices:        invoices,
		payments:        payments,
		reconciliations: reconciliations,
		exceptions:      exceptions,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(corsMiddleware())
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+OrgHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// orgMiddleware requires the tenant header on every API route
func orgMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		org := c.GetHeader(OrgHeader)
		if org == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   fmt.Sprintf("%s header is required", OrgHeader),
			})
			return
		}
		c.Set("organization_id", org)
		c.Next()
	}
}

func orgID(c *gin.Context) string {
	return c.GetString("organization_id")
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/files/*key", s.handleFileDownload)

	api := s.router.Group("/api/v1")
	api.Use(orgMiddleware())
	{
		invoices := api.Group("/invoices")
		{
			invoices.POST("", s.handleCreateInvoice)
			invoices.GET("", s.handleListInvoices)
			invoices.GET("/:id", s.handleGetInvoice)
			invoices.PATCH("/:id/status", s.handleUpdateInvoiceStatus)
			invoices.POST("/import", s.handleImportInvoices)
			invoices.POST("/import/xlsx", s.handleImportInvoicesXLSX)
		}

		payments := api.Group("/payments")
		{
			payments.POST("", s.handleCreatePayment)
			payments.GET("", s.handleListPayments)
			payments.GET("/:id", s.handleGetPayment)
			payments.PATCH("/:id/status", s.handleUpdatePaymentStatus)
			payments.POST("/import", s.handleImportPayments)
			payments.POST("/import/xlsx", s.handleImportPaymentsXLSX)
		}

		recs := api.Group("/reconciliations")
		{
			recs.POST("", s.handleCreateReconciliation)
			recs.GET("", s.handleListReconciliations)
			recs.GET("/:id", s.handleGetReconciliation)
			recs.PATCH("/:id/status", s.handleUpdateReconciliationStatus)
			recs.POST("/auto", s.handleAutoReconcile)
			recs.GET("/suggestions", s.handleSuggestions)
		}

		excs := api.Group("/exceptions")
		{
			excs.GET("", s.handleListExceptions)
			excs.GET("/:id", s.handleGetException)
			excs.PATCH("/:id/status", s.handleUpdateExceptionStatus)
			excs.POST("/identify", s.handleIdentifyExceptions)
		}

		docs := api.Group("/documents")
		{
			docs.POST("", s.handleUploadDocument)
		}

		jobs := api.Group("/jobs")
		{
			jobs.GET("", s.handleListJobs)
			jobs.GET("/events", s.handleJobEvents)
			jobs.GET("/:id", s.handleGetJob)
			jobs.POST("/:id/retry", s.handleRetryJob)
		}

		api.GET("/workflows", s.handleListWorkflows)
		api.GET("/dashboard/stats", s.handleDashboardStats)
	}
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests
func (s *Server) Router() http.Handler {
	return s.router
}
