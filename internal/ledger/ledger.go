// Package ledger persists products and their price observations in a
// file-backed sqlite store. Observations are append-only; product identity
// is first-write-wins.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/model"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/metrics"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/source"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

var ErrInvalidRecord = errors.New("invalid price record")

// Ledger wraps the gorm handle. All methods are safe for concurrent use;
// sqlite serializes writers underneath.
type Ledger struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite database at path and migrates
// the schema. Use ":memory:" for tests.
func Open(path string) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&model.Product{}, &model.PriceObservation{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying sqlite connection.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record validates raw and appends one observation, registering the product
// on first sight. The product row and the observation are written in a
// single transaction; a validation failure writes nothing.
func (l *Ledger) Record(ctx context.Context, raw source.RawProduct) error {
	if strings.TrimSpace(raw.ID) == "" {
		metrics.RecordFailuresTotal.WithLabelValues("missing_id").Inc()
		return fmt.Errorf("%w: missing product id", ErrInvalidRecord)
	}
	if strings.TrimSpace(raw.Title) == "" {
		metrics.RecordFailuresTotal.WithLabelValues("missing_title").Inc()
		return fmt.Errorf("%w: missing title", ErrInvalidRecord)
	}
	if raw.Price < 0 {
		metrics.RecordFailuresTotal.WithLabelValues("negative_price").Inc()
		return fmt.Errorf("%w: negative price %.2f", ErrInvalidRecord, raw.Price)
	}

	scrapedAt := raw.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}
	seller := raw.Seller
	if seller == "" {
		seller = "Unknown"
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product := model.Product{
			ID:        raw.ID,
			Title:     raw.Title,
			URL:       raw.URL,
			FirstSeen: scrapedAt,
		}
		// First write wins: a product seen before keeps its original
		// title, url and first_seen.
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&product).Error; err != nil {
			return fmt.Errorf("upsert product: %w", err)
		}

		obs := model.PriceObservation{
			ProductID:    raw.ID,
			Price:        raw.Price,
			Seller:       seller,
			FreeShipping: raw.FreeShipping,
			ScrapedAt:    scrapedAt,
		}
		if err := tx.Create(&obs).Error; err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidRecord) {
			metrics.RecordFailuresTotal.WithLabelValues("storage").Inc()
		}
		return err
	}

	metrics.ObservationsRecordedTotal.Inc()
	return nil
}

// Product loads one product by id. found is false for unknown ids.
func (l *Ledger) Product(ctx context.Context, id string) (model.Product, bool, error) {
	var p model.Product
	err := l.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Product{}, false, nil
	}
	if err != nil {
		return model.Product{}, false, fmt.Errorf("load product: %w", err)
	}
	return p, true, nil
}

// History returns every observation for the product, oldest first. An
// unknown product yields an empty slice, not an error.
func (l *Ledger) History(ctx context.Context, productID string) ([]model.PriceObservation, error) {
	var obs []model.PriceObservation
	err := l.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("scraped_at ASC, id ASC").
		Find(&obs).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return obs, nil
}

// ProductSummary is one tracked product with price aggregates over its
// observations. Products without observations report zero aggregates.
type ProductSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	FirstSeen  time.Time `json:"first_seen"`
	PriceCount int64     `json:"price_count"`
	MinPrice   float64   `json:"min_price"`
	MaxPrice   float64   `json:"max_price"`
	AvgPrice   float64   `json:"avg_price"`
}

// Products lists every tracked product with aggregates, newest first.
func (l *Ledger) Products(ctx context.Context) ([]ProductSummary, error) {
	var rows []ProductSummary
	err := l.db.WithContext(ctx).
		Model(&model.Product{}).
		Select(`products.id, products.title, products.url, products.first_seen,
			COUNT(price_observations.id) AS price_count,
			COALESCE(MIN(price_observations.price), 0) AS min_price,
			COALESCE(MAX(price_observations.price), 0) AS max_price,
			COALESCE(AVG(price_observations.price), 0) AS avg_price`).
		Joins("LEFT JOIN price_observations ON price_observations.product_id = products.id").
		Group("products.id").
		Order("products.first_seen DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return rows, nil
}

// ObservationRow is one recent observation joined with its product title.
type ObservationRow struct {
	ProductID    string    `json:"product_id"`
	Title        string    `json:"title"`
	Price        float64   `json:"price"`
	Seller       string    `json:"seller"`
	FreeShipping bool      `json:"free_shipping"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// Latest returns the newest observations across all products.
func (l *Ledger) Latest(ctx context.Context, limit int) ([]ObservationRow, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []ObservationRow
	err := l.db.WithContext(ctx).
		Model(&model.PriceObservation{}).
		Select(`price_observations.product_id, products.title,
			price_observations.price, price_observations.seller,
			price_observations.free_shipping, price_observations.scraped_at`).
		Joins("JOIN products ON products.id = price_observations.product_id").
		Order("price_observations.scraped_at DESC, price_observations.id DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load recent observations: %w", err)
	}
	return rows, nil
}

// ProductHistory pairs a product with its full ascending observation list.
type ProductHistory struct {
	Product      model.Product
	Observations []model.PriceObservation
}

// Histories loads every product together with its observations, the input
// the alert detector scans.
func (l *Ledger) Histories(ctx context.Context) ([]ProductHistory, error) {
	var products []model.Product
	if err := l.db.WithContext(ctx).Order("first_seen DESC").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	var obs []model.PriceObservation
	err := l.db.WithContext(ctx).
		Order("scraped_at ASC, id ASC").
		Find(&obs).Error
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}

	byProduct := make(map[string][]model.PriceObservation, len(products))
	for _, o := range obs {
		byProduct[o.ProductID] = append(byProduct[o.ProductID], o)
	}

	histories := make([]ProductHistory, 0, len(products))
	for _, p := range products {
		histories = append(histories, ProductHistory{
			Product:      p,
			Observations: byProduct[p.ID],
		})
	}
	return histories, nil
}

// Totals summarizes the whole store.
type Totals struct {
	Products     int64      `json:"products"`
	Observations int64      `json:"observations"`
	FirstRecord  *time.Time `json:"first_record,omitempty"`
	LastRecord   *time.Time `json:"last_record,omitempty"`
}

// Totals counts products and observations and reports the span of recorded
// timestamps. Empty store yields zero counts and nil timestamps.
func (l *Ledger) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	if err := l.db.WithContext(ctx).Model(&model.Product{}).Count(&t.Products).Error; err != nil {
		return Totals{}, fmt.Errorf("count products: %w", err)
	}
	if err := l.db.WithContext(ctx).Model(&model.PriceObservation{}).Count(&t.Observations).Error; err != nil {
		return Totals{}, fmt.Errorf("count observations: %w", err)
	}
	if t.Observations > 0 {
		// sqlite reports aggregate expressions without a declared type,
		// so MIN/MAX over scraped_at can not scan into time.Time.
		// Fetch the boundary rows instead.
		var first, last model.PriceObservation
		err := l.db.WithContext(ctx).
			Order("scraped_at ASC, id ASC").
			First(&first).Error
		if err != nil {
			return Totals{}, fmt.Errorf("first observation: %w", err)
		}
		err = l.db.WithContext(ctx).
			Order("scraped_at DESC, id DESC").
			First(&last).Error
		if err != nil {
			return Totals{}, fmt.Errorf("last observation: %w", err)
		}
		t.FirstRecord = &first.ScrapedAt
		t.LastRecord = &last.ScrapedAt
	}
	return t, nil
}

// Reset deletes every product and observation in one transaction.
func (l *Ledger) Reset(ctx context.Context) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.PriceObservation{}).Error; err != nil {
			return fmt.Errorf("delete observations: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&model.Product{}).Error; err != nil {
			return fmt.Errorf("delete products: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}
