package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/metrics"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/ratelimit"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	browserInitTimeout = 30 * time.Second
	pageLoadTimeout    = 60 * time.Second
)

// BrowserSource renders listing pages in a headless browser before parsing
// them, for when the static HTML response is bot-walled.
type BrowserSource struct {
	browser   *rod.Browser
	baseURL   string
	userAgent string
	limiter   *ratelimit.RateLimiter
	logger    *slog.Logger
}

// NewBrowserSource launches a browser instance. binPath empty downloads
// rod's default browser. Call Close when done.
func NewBrowserSource(ctx context.Context, baseURL, binPath, userAgent string, headless bool, limiter *ratelimit.RateLimiter, logger *slog.Logger) (*BrowserSource, error) {
	initCtx, cancel := context.WithTimeout(ctx, browserInitTimeout)
	defer cancel()

	bin := binPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	l := launcher.New().
		Headless(headless).
		Bin(bin).
		NoSandbox(true).
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true").
		Set("remote-allow-origins", "*").
		Set("disk-cache-size", "1").
		Set("media-cache-size", "1").
		Set("disable-application-cache", "true")

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(initCtx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	logger.Info("browser started", slog.String("bin", bin))

	if baseURL == "" {
		baseURL = "https://listado.mercadolibre.com.ar"
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &BrowserSource{
		browser:   browser,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		limiter:   limiter,
		logger:    logger,
	}, nil
}

func (s *BrowserSource) Search(ctx context.Context, query string, limit int) ([]RawProduct, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	url := ListingURL(s.baseURL, query)
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("browser", "error").Inc()
		return nil, fmt.Errorf("%w: create page: %v", ErrUnavailable, err)
	}
	defer func() { _ = page.Close() }()

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return nil, fmt.Errorf("apply stealth script: %w", err)
	}
	page = page.Timeout(pageLoadTimeout)
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.userAgent}); err != nil {
		s.logger.Warn("set user agent failed", slog.String("error", err.Error()))
	}

	// Skip images and fonts; we only need the listing markup.
	blocked := proto.NetworkSetBlockedURLs{Urls: []string{
		"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
		"*.woff", "*.woff2", "*.ttf",
	}}
	if err := blocked.Call(page); err != nil {
		s.logger.Warn("set blocked urls failed", slog.String("error", err.Error()))
	}

	if err := page.Navigate(url); err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("browser", "error").Inc()
		return nil, fmt.Errorf("%w: navigate: %v", ErrUnavailable, err)
	}
	if err := page.WaitLoad(); err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("browser", "error").Inc()
		return nil, fmt.Errorf("%w: wait load: %v", ErrUnavailable, err)
	}
	if _, err := page.Timeout(5 * time.Second).Element("li.ui-search-layout__item"); err != nil {
		// Empty result pages render without cards; return no products
		// rather than an error.
		s.logger.Info("no listing cards rendered",
			slog.String("query", query),
			slog.String("url", url))
		metrics.SearchRequestsTotal.WithLabelValues("browser", "empty").Inc()
		return []RawProduct{}, nil
	}

	html, err := page.HTML()
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("browser", "error").Inc()
		return nil, fmt.Errorf("%w: page html: %v", ErrUnavailable, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse rendered html: %w", err)
	}

	products := ParseListing(doc, limit)
	metrics.SearchRequestsTotal.WithLabelValues("browser", "success").Inc()
	s.logger.Info("listing rendered and parsed",
		slog.String("query", query),
		slog.Int("count", len(products)))
	return products, nil
}

// Close shuts the underlying browser down.
func (s *BrowserSource) Close() error {
	if s.browser == nil {
		return nil
	}
	return s.browser.Close()
}
