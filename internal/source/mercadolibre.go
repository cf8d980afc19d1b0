package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/metrics"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/ratelimit"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36"

// productIDRe matches MercadoLibre item ids like MLA123456 or MLA-123456.
var productIDRe = regexp.MustCompile(`(ML[A-Z])-?(\d+)`)

// ScraperSource searches by fetching and parsing the public listing HTML.
type ScraperSource struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *ratelimit.RateLimiter
	logger    *slog.Logger
}

// NewScraperSource builds a listing scraper. limiter may be nil; timeout
// zero falls back to 15s.
func NewScraperSource(baseURL, userAgent string, timeout time.Duration, limiter *ratelimit.RateLimiter, logger *slog.Logger) *ScraperSource {
	if baseURL == "" {
		baseURL = "https://listado.mercadolibre.com.ar"
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ScraperSource{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		logger:    logger,
	}
}

func (s *ScraperSource) Search(ctx context.Context, query string, limit int) ([]RawProduct, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	url := ListingURL(s.baseURL, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept-Language", "es-AR,es;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("html", "error").Inc()
		return nil, fmt.Errorf("%w: fetch listing: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.SearchRequestsTotal.WithLabelValues("html", strconv.Itoa(resp.StatusCode)).Inc()
		return nil, fmt.Errorf("%w: listing returned status %d", ErrUnavailable, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("html", "parse_error").Inc()
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	products := ParseListing(doc, limit)
	metrics.SearchRequestsTotal.WithLabelValues("html", "success").Inc()
	if s.logger != nil {
		s.logger.Info("listing scraped",
			slog.String("query", query),
			slog.Int("count", len(products)))
	}
	return products, nil
}

// ListingURL turns a free-text query into the listing page URL; spaces
// become dashes, matching the site's canonical search paths.
func ListingURL(baseURL, query string) string {
	slug := strings.Join(strings.Fields(strings.TrimSpace(query)), "-")
	return baseURL + "/" + slug
}

// ParseListing extracts products from a search results document. Cards
// missing a title or price are skipped.
func ParseListing(doc *goquery.Document, limit int) []RawProduct {
	if limit <= 0 {
		limit = 10
	}
	products := make([]RawProduct, 0, limit)
	now := time.Now()

	doc.Find("li.ui-search-layout__item").EachWithBreak(func(_ int, card *goquery.Selection) bool {
		title := strings.TrimSpace(card.Find("h2.ui-search-item__title").First().Text())
		if title == "" {
			// Newer listing markup puts the title on the link itself.
			title = strings.TrimSpace(card.Find("a.ui-search-link").First().AttrOr("title", ""))
		}
		if title == "" {
			return true
		}

		priceText := card.Find("span.andes-money-amount__fraction").First().Text()
		price, ok := CleanPrice(priceText)
		if !ok {
			return true
		}

		url := card.Find("a.ui-search-link").First().AttrOr("href", "")
		seller := strings.TrimSpace(card.Find("span.ui-search-item__group__element").First().Text())
		shippingText := strings.ToLower(card.Find("p.ui-search-item__shipping").First().Text())
		thumbnail := card.Find("img").First().AttrOr("data-src", "")
		if thumbnail == "" {
			thumbnail = card.Find("img").First().AttrOr("src", "")
		}

		products = append(products, RawProduct{
			ID:           ExtractProductID(url),
			Title:        title,
			Price:        price,
			URL:          url,
			Thumbnail:    thumbnail,
			Seller:       seller,
			FreeShipping: strings.Contains(shippingText, "gratis"),
			ScrapedAt:    now,
		})
		return len(products) < limit
	})

	return products
}

// CleanPrice parses a listing price like "1.234.567" where dots separate
// thousands. Returns false for empty or non-numeric text.
func CleanPrice(text string) (float64, bool) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return 0, false
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || price < 0 {
		return 0, false
	}
	return price, true
}

// ExtractProductID pulls the marketplace item id out of a listing URL.
// URLs without one get a stable uuid derived from the URL so re-scrapes of
// the same listing map to the same product.
func ExtractProductID(url string) string {
	if m := productIDRe.FindStringSubmatch(url); m != nil {
		return m[1] + m[2]
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String()
}
