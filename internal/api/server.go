// Package api exposes the price monitor over HTTP: searching the
// marketplace, tracking products, and reading histories, statistics,
// alerts, and exports back out of the ledger.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/alert"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/analyzer"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/api/middleware"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/config"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/ledger"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/model"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/notify"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/ratelimit"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/source"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server wires the product source, ledger, and notifier behind the HTTP
// routes. The narrow interfaces below are what handlers actually need, so
// tests can swap in mocks.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	router   *gin.Engine
	store    LedgerStore
	src      ProductSource
	notifier notify.Notifier

	ledger *ledger.Ledger
	rdb    *redis.Client
}

type ProductSource interface {
	Search(ctx context.Context, query string, limit int) ([]source.RawProduct, error)
}

type LedgerStore interface {
	Record(ctx context.Context, raw source.RawProduct) error
	Product(ctx context.Context, id string) (model.Product, bool, error)
	History(ctx context.Context, id string) ([]model.PriceObservation, error)
	Products(ctx context.Context) ([]ledger.ProductSummary, error)
	Latest(ctx context.Context, limit int) ([]ledger.ObservationRow, error)
	Histories(ctx context.Context) ([]ledger.ProductHistory, error)
	Totals(ctx context.Context) (ledger.Totals, error)
	Reset(ctx context.Context) error
}

// NewServer opens the ledger, connects redis when configured, picks the
// product source per config, and registers the routes.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := ledger.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	var rdb *redis.Client
	var limiter *ratelimit.RateLimiter
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		if cfg.App.RateLimit > 0 && cfg.App.RateBurst > 0 {
			limiter = ratelimit.NewRedisRateLimiter(rdb, logger, "", cfg.App.RateLimit, cfg.App.RateBurst)
			logger.Info("rate limiter enabled",
				slog.Float64("rate", cfg.App.RateLimit),
				slog.Float64("burst", cfg.App.RateBurst))
		}
	}

	src, err := buildSource(ctx, cfg, limiter, logger)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		src = source.NewCachedSource(src, rdb, cfg.App.CacheTTL, logger)
		logger.Info("search cache enabled", slog.Duration("ttl", cfg.App.CacheTTL))
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		router:   r,
		store:    store,
		src:      src,
		notifier: notify.NewEmailNotifier(&cfg.Email, logger),
		ledger:   store,
		rdb:      rdb,
	}
	s.registerRoutes()
	return s, nil
}

func buildSource(ctx context.Context, cfg *config.Config, limiter *ratelimit.RateLimiter, logger *slog.Logger) (source.Source, error) {
	switch cfg.Scraper.Mode {
	case "", "html":
		return source.NewScraperSource(cfg.Scraper.BaseURL, cfg.Scraper.UserAgent, cfg.Scraper.Timeout, limiter, logger), nil
	case "api":
		return source.NewAPISource(cfg.Scraper.APIBaseURL, cfg.Scraper.Timeout, logger), nil
	case "browser":
		return source.NewBrowserSource(ctx, cfg.Scraper.BaseURL, cfg.Scraper.BinPath, cfg.Scraper.UserAgent, cfg.Scraper.Headless, limiter, logger)
	default:
		return nil, fmt.Errorf("unknown scraper mode %q", cfg.Scraper.Mode)
	}
}

// Router returns the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run starts listening on the configured address.
func (s *Server) Run() error {
	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Close releases the ledger, redis, and browser resources.
func (s *Server) Close() error {
	var firstErr error
	if closer, ok := s.src.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			firstErr = err
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	s.router.GET("/search", s.handleSearch)
	s.router.POST("/products", s.handleTrack)
	s.router.GET("/products", s.handleListProducts)
	s.router.POST("/products/:id/refresh", s.handleRefresh)
	s.router.GET("/products/:id/history", s.handleHistory)
	s.router.GET("/products/:id/stats", s.handleStats)
	s.router.GET("/products/:id/export", s.handleExport)
	s.router.GET("/observations/recent", s.handleRecent)
	s.router.GET("/alerts", s.handleAlerts)
	s.router.GET("/summary", s.handleSummary)
	s.router.POST("/reset", s.handleReset)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.store.Totals(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleSearch queries the product source without recording anything.
// A failing source degrades to an empty result set with a warning.
//
// GET /search?q=&limit=
func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}
	limit := s.queryInt(c, "limit", s.cfg.App.SearchLimit)

	results, err := s.src.Search(c.Request.Context(), query, limit)
	if err != nil {
		s.logger.Warn("product source failed",
			slog.String("query", query),
			slog.String("error", err.Error()))
		c.JSON(http.StatusOK, gin.H{
			"results": []source.RawProduct{},
			"warning": "product source unavailable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleTrack records one observation, registering the product on first
// sight, then checks for a price-drop notification.
//
// POST /products
func (s *Server) handleTrack(c *gin.Context) {
	var raw source.RawProduct
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.Record(c.Request.Context(), raw); err != nil {
		if errors.Is(err, ledger.ErrInvalidRecord) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("record observation failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record failed"})
		return
	}

	s.notifyIfDropped(c.Request.Context(), raw.ID)
	c.JSON(http.StatusCreated, gin.H{"id": raw.ID, "tracked": true})
}

// handleRefresh re-searches the stored title and records the matching
// result's current price.
//
// POST /products/:id/refresh
func (s *Server) handleRefresh(c *gin.Context) {
	id := c.Param("id")
	product, found, err := s.store.Product(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("load product failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load product failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}

	results, err := s.src.Search(c.Request.Context(), product.Title, s.cfg.App.SearchLimit)
	if err != nil {
		s.logger.Warn("refresh source failed",
			slog.String("product_id", id),
			slog.String("error", err.Error()))
		c.JSON(http.StatusOK, gin.H{"refreshed": false, "warning": "product source unavailable"})
		return
	}

	for _, r := range results {
		if r.ID != id {
			continue
		}
		if err := s.store.Record(c.Request.Context(), r); err != nil {
			s.logger.Error("record refreshed price failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "record failed"})
			return
		}
		s.notifyIfDropped(c.Request.Context(), id)
		c.JSON(http.StatusOK, gin.H{"refreshed": true, "price": r.Price})
		return
	}

	c.JSON(http.StatusOK, gin.H{"refreshed": false, "warning": "product no longer in search results"})
}

// GET /products
func (s *Server) handleListProducts(c *gin.Context) {
	products, err := s.store.Products(c.Request.Context())
	if err != nil {
		s.logger.Error("list products failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list products failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

// GET /products/:id/history
func (s *Server) handleHistory(c *gin.Context) {
	history, err := s.store.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("load history failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load history failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history, "count": len(history)})
}

// GET /products/:id/stats
func (s *Server) handleStats(c *gin.Context) {
	id := c.Param("id")
	_, found, err := s.store.Product(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("load product failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load product failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}

	history, err := s.store.History(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("load history failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load history failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":          analyzer.Statistics(history),
		"recommendation": analyzer.Recommend(history),
	})
}

// GET /observations/recent?limit=
func (s *Server) handleRecent(c *gin.Context) {
	limit := s.queryInt(c, "limit", s.cfg.App.RecentLimit)
	rows, err := s.store.Latest(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("load recent observations failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load recent observations failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"observations": rows, "count": len(rows)})
}

// GET /alerts?threshold=
func (s *Server) handleAlerts(c *gin.Context) {
	threshold := s.cfg.App.AlertThreshold
	if v := c.Query("threshold"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threshold"})
			return
		}
		threshold = parsed
	}

	histories, err := s.store.Histories(c.Request.Context())
	if err != nil {
		s.logger.Error("load histories failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load histories failed"})
		return
	}

	alerts := alert.Detect(histories, threshold)
	c.JSON(http.StatusOK, gin.H{
		"alerts":    alerts,
		"count":     len(alerts),
		"threshold": threshold,
	})
}

// handleExport streams one product's history as a CSV or JSON attachment.
//
// GET /products/:id/export?format=csv|json
func (s *Server) handleExport(c *gin.Context) {
	id := c.Param("id")
	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "json" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or json"})
		return
	}

	_, found, err := s.store.Product(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("load product failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load product failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}

	history, err := s.store.History(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("load history failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load history failed"})
		return
	}

	filename := fmt.Sprintf("history_%s.%s", id, format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if format == "json" {
		c.Header("Content-Type", "application/json")
		err = ledger.WriteJSON(c.Writer, history)
	} else {
		c.Header("Content-Type", "text/csv")
		err = ledger.WriteCSV(c.Writer, history)
	}
	if err != nil {
		s.logger.Error("export failed",
			slog.String("product_id", id),
			slog.String("format", format),
			slog.String("error", err.Error()))
	}
}

// GET /summary
func (s *Server) handleSummary(c *gin.Context) {
	totals, err := s.store.Totals(c.Request.Context())
	if err != nil {
		s.logger.Error("load totals failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load totals failed"})
		return
	}
	c.JSON(http.StatusOK, totals)
}

// POST /reset
func (s *Server) handleReset(c *gin.Context) {
	if err := s.store.Reset(c.Request.Context()); err != nil {
		s.logger.Error("reset failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
		return
	}
	s.logger.Info("store reset")
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// notifyIfDropped checks the product's last two observations after a write
// and mails an alert when the drop meets the configured threshold.
// Notification failures are logged, never surfaced to the request.
func (s *Server) notifyIfDropped(ctx context.Context, productID string) {
	if s.notifier == nil {
		return
	}
	product, found, err := s.store.Product(ctx, productID)
	if err != nil || !found {
		return
	}
	history, err := s.store.History(ctx, productID)
	if err != nil {
		return
	}

	h := ledger.ProductHistory{Product: product, Observations: history}
	a, ok := alert.Check(h, s.cfg.App.AlertThreshold)
	if !ok {
		return
	}
	if err := s.notifier.Send(ctx, a); err != nil {
		s.logger.Error("price drop notification failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()))
	}
}

func (s *Server) queryInt(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
