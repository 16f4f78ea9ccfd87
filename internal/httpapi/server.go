// Package httpapi exposes the market core over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/berth/internal/config"
	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	shutdownTimeout  = 5 * time.Second
	historyLimit     = 20
)

// Catalog is the read and write surface of the authoritative store.
type Catalog interface {
	market.BidStore
	market.AvailabilitySource
	ListListings(ctx context.Context, statuses ...market.ListingStatus) ([]market.Listing, error)
	ListClaims(ctx context.Context, userID market.UserID, limit int) ([]market.Claim, error)
}

// Wallet is the balance provider plus the surface shown to users.
type Wallet interface {
	market.BalanceProvider
	Balance(ctx context.Context, userID market.UserID) (int64, error)
	TopUp(ctx context.Context, userID market.UserID, amount market.AmountMinor, reference string) (market.BalanceReceipt, error)
	Entries(ctx context.Context, userID market.UserID, limit int) ([]market.BalanceLine, error)
}

// Services bundles the collaborators of the HTTP handlers.
type Services struct {
	Catalog      Catalog
	Wallet       Wallet
	Ledger       *market.AuctionLedger
	Reservations *market.Reservations
	Availability *market.Availability
	Gatherer     prometheus.Gatherer
}

// Handler serves the market API.
type Handler struct {
	logger   *zap.Logger
	cfg      config.Config
	services Services
	nowFn    func() time.Time
}

// NewHandler validates the services and builds a Handler.
func NewHandler(cfg config.Config, services Services, logger *zap.Logger, now func() time.Time) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("httpapi: %w", err)
	}
	if services.Catalog == nil || services.Wallet == nil {
		return nil, fmt.Errorf("httpapi: catalog and wallet are required")
	}
	if services.Ledger == nil || services.Reservations == nil || services.Availability == nil {
		return nil, fmt.Errorf("httpapi: market services are required")
	}
	if services.Gatherer == nil {
		services.Gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Handler{logger: logger, cfg: cfg, services: services, nowFn: now}, nil
}

// NewSessionValidator builds the session cookie validator for cfg.
func NewSessionValidator(cfg config.Config) (*sessionvalidator.Validator, error) {
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	return validator, nil
}

// NewRouter wires the routes. Everything under /api requires a session.
func NewRouter(cfg config.Config, handler *Handler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(handler.services.Gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/listings", handler.handleListListings)
	api.GET("/listings/:listingID", handler.handleGetListing)
	api.GET("/listings/:listingID/bids", handler.handleBidHistory)
	api.POST("/listings/:listingID/bids", handler.handlePlaceBid)
	api.GET("/listings/:listingID/rules", handler.handleRules)
	api.GET("/listings/:listingID/dates", handler.handleDates)
	api.GET("/listings/:listingID/calendar", handler.handleCalendar)
	api.GET("/listings/:listingID/slots", handler.handleSlots)
	api.POST("/reservations", handler.handleReserve)
	api.GET("/reservations", handler.handleListClaims)
	api.GET("/balance", handler.handleBalance)
	api.POST("/balance/topups", handler.handleTopUp)

	return router
}

// Run serves router on cfg.ListenAddr until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, router http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: shutdownTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
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

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
