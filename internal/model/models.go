package model

import (
	"time"
)

// Product is one tracked marketplace listing.
//
// The ID is the identifier assigned by the listing source (e.g. MLA-123456
// for MercadoLibre). Title and URL are captured when the product is first
// recorded and are never overwritten by later observations.
type Product struct {
	ID        string    `gorm:"primaryKey;type:varchar(191)"` // source-assigned listing id
	Title     string    `gorm:"not null"`                     // display title, first-seen value
	URL       string    // listing page link, may be empty
	FirstSeen time.Time `gorm:"index"` // when the product was first recorded
}

// PriceObservation is one timestamped price reading for a product.
//
// Observations are append-only: rows are never updated or deleted outside an
// explicit full reset. The current price of a product is the price of its
// observation with the greatest ScrapedAt.
type PriceObservation struct {
	ID           uint      `gorm:"primaryKey"`
	ProductID    string    `gorm:"type:varchar(191);index;not null"` // references products.id
	Price        float64   `gorm:"not null"`
	Seller       string    `gorm:"default:Unknown"`
	FreeShipping bool      `gorm:"default:false"`
	ScrapedAt    time.Time `gorm:"index"`
}
