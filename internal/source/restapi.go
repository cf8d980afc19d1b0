package source

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/metrics"

	"github.com/go-resty/resty/v2"
)

// APISource searches through the official marketplace REST API instead of
// scraping listing pages.
type APISource struct {
	client *resty.Client
	site   string
	logger *slog.Logger
}

type apiSearchResponse struct {
	Results []apiResult `json:"results"`
}

type apiResult struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Permalink string  `json:"permalink"`
	Thumbnail string  `json:"thumbnail"`
	Seller    struct {
		Nickname string `json:"nickname"`
	} `json:"seller"`
	Shipping struct {
		FreeShipping bool `json:"free_shipping"`
	} `json:"shipping"`
}

// NewAPISource builds a client against baseURL (default the public
// mercadolibre API) for the MLA site.
func NewAPISource(baseURL string, timeout time.Duration, logger *slog.Logger) *APISource {
	if baseURL == "" {
		baseURL = "https://api.mercadolibre.com"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &APISource{client: client, site: "MLA", logger: logger}
}

func (s *APISource) Search(ctx context.Context, query string, limit int) ([]RawProduct, error) {
	if limit <= 0 {
		limit = 10
	}

	var body apiSearchResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":     query,
			"limit": strconv.Itoa(limit),
		}).
		SetResult(&body).
		Get("/sites/" + s.site + "/search")
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("api", "error").Inc()
		return nil, fmt.Errorf("%w: api search: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		metrics.SearchRequestsTotal.WithLabelValues("api", strconv.Itoa(resp.StatusCode())).Inc()
		return nil, fmt.Errorf("%w: api returned status %d", ErrUnavailable, resp.StatusCode())
	}

	now := time.Now()
	products := make([]RawProduct, 0, len(body.Results))
	for _, r := range body.Results {
		if r.ID == "" || r.Title == "" {
			continue
		}
		products = append(products, RawProduct{
			ID:           r.ID,
			Title:        r.Title,
			Price:        r.Price,
			URL:          r.Permalink,
			Thumbnail:    r.Thumbnail,
			Seller:       r.Seller.Nickname,
			FreeShipping: r.Shipping.FreeShipping,
			ScrapedAt:    now,
		})
		if len(products) >= limit {
			break
		}
	}

	metrics.SearchRequestsTotal.WithLabelValues("api", "success").Inc()
	if s.logger != nil {
		s.logger.Info("api search completed",
			slog.String("query", query),
			slog.Int("count", len(products)))
	}
	return products, nil
}
