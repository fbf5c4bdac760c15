// Package httpapi serves the compliance service over JSON/HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/fuelledger/pkg/compliance"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultAllowedOrigin  = "http://localhost:5173"
	shutdownTimeout       = 5 * time.Second
)

// ComplianceService is the slice of compliance.Service the HTTP layer depends on.
type ComplianceService interface {
	CreatePool(ctx context.Context, year compliance.Year, members []compliance.PoolMemberInput) (compliance.PoolResult, error)
	Pool(ctx context.Context, poolID string) (compliance.Pool, error)
	BankSurplus(ctx context.Context, shipID compliance.ShipID, year compliance.Year, amount compliance.PositiveAmount) (compliance.BankEntry, error)
	ApplyBankedSurplus(ctx context.Context, shipID compliance.ShipID, year compliance.Year, amount compliance.PositiveAmount) (compliance.ApplyResult, error)
	BankingRecords(ctx context.Context, shipID compliance.ShipID, year compliance.Year) ([]compliance.BankEntry, error)
	Routes(ctx context.Context, filter compliance.RouteFilter) ([]compliance.Route, error)
	SetBaseline(ctx context.Context, id string) (compliance.Route, error)
	RouteComparison(ctx context.Context) ([]compliance.RouteComparison, error)
	ComplianceBalance(ctx context.Context, shipID compliance.ShipID, year compliance.Year) (compliance.Balance, error)
	AdjustedBalance(ctx context.Context, shipID compliance.ShipID, year compliance.Year) (compliance.AdjustedBalance, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter wires middleware and routes around service.
func NewRouter(service ComplianceService, options Options) *gin.Engine {
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = defaultRequestTimeout
	}
	if len(options.AllowedOrigins) == 0 {
		options.AllowedOrigins = []string{defaultAllowedOrigin}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(options.Logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins: options.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Origin", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := &httpHandler{
		service: service,
		logger:  options.Logger,
		timeout: options.RequestTimeout,
	}

	api := router.Group("/api")
	api.POST("/pools", handler.handleCreatePool)
	api.GET("/pools/:id", handler.handleGetPool)

	banking := api.Group("/banking")
	banking.POST("/bank", handler.handleBank)
	banking.POST("/apply", handler.handleApply)
	banking.GET("/records", handler.handleRecords)

	routes := api.Group("/routes")
	routes.GET("", handler.handleListRoutes)
	routes.GET("/comparison", handler.handleComparison)
	routes.POST("/:id/baseline", handler.handleSetBaseline)

	balances := api.Group("/compliance")
	balances.GET("/cb", handler.handleComplianceBalance)
	balances.GET("/adjusted-cb", handler.handleAdjustedBalance)

	return router
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		path := ctx.Request.URL.Path
		query := ctx.Request.URL.RawQuery

		ctx.Next()

		logger.Info("API request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", ctx.ClientIP()),
		)
	}
}
