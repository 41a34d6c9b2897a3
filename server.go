package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/middlewares"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const defaultPort = "8080"

var tracer = otel.Tracer("shop-ledger")

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// apiServer holds what the handlers need besides the global DB.
type apiServer struct {
	logger    *logrus.Logger
	publisher workflow.JobPublisher
	ready     func() bool
}

func (s *apiServer) db(c *gin.Context) *gorm.DB {
	return config.GetDB().WithContext(c.Request.Context())
}

func (s *apiServer) pubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := s.logger

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "pubSubHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "server.go", "pubSubHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "pubsub.reconciliation",
			trace.WithAttributes(attribute.String("message_id", msg.Message.ID)))
		defer span.End()

		result, err := workflow.HandleReconciliationMessage(ctx, config.GetDB(), logger, msg.Message.Data, msg.Message.ID)
		if err != nil {
			span.RecordError(err)
			if workflow.IsPermanentJobError(err) {
				config.LogError(logger, "server.go", "pubSubHandler", "Dropping job", string(msg.Message.Data), err)
				c.Status(http.StatusNoContent)
				return
			}
			logger.WithFields(logrus.Fields{
				"field":      "pubSubHandler",
				"message_id": msg.Message.ID,
			}).Error("pubsub processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}
		logger.WithFields(logrus.Fields{
			"field":          "pubSubHandler",
			"message_id":     msg.Message.ID,
			"tenant_id":      result.TenantId,
			"kind":           result.Kind,
			"correlation_id": result.CorrelationId,
			"findings":       result.Findings,
		}).Info("pubsub job processed")
		c.Status(http.StatusNoContent)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.WithFields(logrus.Fields{
				"path":   c.FullPath(),
				"method": c.Request.Method,
				"status": c.Writer.Status(),
			}).Error(c.Errors.String())
		}
	}
}

func corsConfigFromEnv() cors.Config {
	corsConfig := cors.DefaultConfig()
	// Production requires an explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "X-User-Id", "X-User-Name", "X-Correlation-Id")
	corsConfig.AddExposeHeaders("Content-Length", "X-Correlation-Id", "X-Cache")
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

func newRouter(s *apiServer, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationId())
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if !s.ready() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.Use(cors.New(corsConfigFromEnv()))
	for _, mw := range extra {
		r.Use(mw)
	}
	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(s.logger))
	r.Use(gin.Recovery())

	r.POST("/pubsub", s.pubSubHandler())

	api := r.Group("/api/tenants/:tenant_id", middlewares.TenantScope())
	api.POST("/movements", s.recordMovementHandler)
	api.POST("/sales", s.postSaleHandler)
	api.POST("/purchases", s.postPurchaseHandler)
	api.GET("/products/:product_id/stock", s.productStockHandler)
	api.GET("/products/:product_id/average-cost", s.averageCostHandler)
	api.GET("/products/:product_id/history", s.stockHistoryHandler)
	api.GET("/products/:product_id/diagnostic", s.periodDiagnosticHandler)
	api.GET("/stock/low", s.lowStockHandler)
	api.GET("/stock/statistics", s.stockStatisticsHandler)

	api.POST("/bank-transactions", s.recordBankTransactionHandler)
	api.GET("/bank-transactions", s.listBankTransactionsHandler)
	api.PUT("/bank-transactions/:id", s.updateBankTransactionHandler)
	api.DELETE("/bank-transactions/:id", s.deleteBankTransactionHandler)
	api.GET("/bank/balance", s.bankBalanceHandler)
	api.GET("/accounts", s.listAccountsHandler)
	api.POST("/fixed-assets", s.createFixedAssetHandler)

	api.POST("/reconciliation/jobs", s.enqueueReconciliationJobHandler)
	api.GET("/reconciliation/reports", s.listReconciliationReportsHandler)
	api.GET("/reconciliation/exports", s.reconciliationExportHandler)

	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	var extra []gin.HandlerFunc
	rateLimit, err := middlewares.RateLimitFromEnv()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "rate_limit"}).Fatal(err.Error())
	}
	if rateLimit != nil {
		extra = append(extra, rateLimit)
	}

	s := &apiServer{
		logger:    logger,
		publisher: config.PubSubJobPublisher{},
		ready: func() bool {
			return config.GetDB() != nil && config.GetRedisDB() != nil
		},
	}
	// Start the HTTP server ASAP; until DB/Redis are ready app endpoints return 503.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(s, extra...),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running it as a separate job instead.
	if !config.SkipMigrations() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	if config.ReconciliationSchedulerEnabled() {
		scheduler := workflow.NewReconciliationScheduler(db, s.publisher, logger)
		go func() {
			if err := scheduler.Run(schedulerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithFields(logrus.Fields{"field": "scheduler"}).Error("reconciliation scheduler stopped: " + err.Error())
			}
		}()
	}

	logger.WithFields(logrus.Fields{
		"port":   port,
		"driver": config.DatabaseDriver(),
	}).Info("server started")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background work first so nothing new starts while draining.
	cancelScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
