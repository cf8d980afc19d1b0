package source

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a transport-level search failure (network error,
// timeout, blocked or unparseable page). Callers are expected to degrade to
// an empty result list instead of failing the request.
var ErrUnavailable = errors.New("product source unavailable")

// RawProduct is one listing observation as returned by a Source.
//
// ID, Title and Price are required for tracking; the remaining fields are
// optional. A zero ScrapedAt means "now" to the ledger.
type RawProduct struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Price        float64   `json:"price"`
	URL          string    `json:"url,omitempty"`
	Thumbnail    string    `json:"thumbnail,omitempty"`
	Seller       string    `json:"seller,omitempty"`
	FreeShipping bool      `json:"free_shipping,omitempty"`
	ScrapedAt    time.Time `json:"scraped_at,omitempty"`
}

// Source searches a listing site for products matching a query.
//
// Implementations are interchangeable (static HTML scrape, rendered browser
// page, official API) and are selected by configuration. A Source never
// writes anywhere; it only produces candidate observations.
type Source interface {
	Search(ctx context.Context, query string, limit int) ([]RawProduct, error)
}
