// Package alert scans product histories for recent price drops.
package alert

import (
	"sort"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/ledger"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/metrics"
)

// DefaultThresholdPercent is the drop percentage that triggers an alert
// when the caller does not supply one.
const DefaultThresholdPercent = 15.0

// Alert reports that a product's newest observation dropped at least the
// threshold percentage below the one before it.
type Alert struct {
	ProductID     string  `json:"product_id"`
	Title         string  `json:"title"`
	URL           string  `json:"url,omitempty"`
	PreviousPrice float64 `json:"previous_price"`
	CurrentPrice  float64 `json:"current_price"`
	DropPercent   float64 `json:"drop_percent"`
}

// Detect compares the last two observations of each history. Products with
// fewer than two observations or a non-positive previous price are skipped.
// Results are ordered by drop size, largest first.
func Detect(histories []ledger.ProductHistory, thresholdPercent float64) []Alert {
	if thresholdPercent <= 0 {
		thresholdPercent = DefaultThresholdPercent
	}

	alerts := make([]Alert, 0)
	for _, h := range histories {
		obs := h.Observations
		if len(obs) < 2 {
			continue
		}
		previous := obs[len(obs)-2]
		current := obs[len(obs)-1]
		if previous.Price <= 0 {
			continue
		}

		drop := (previous.Price - current.Price) / previous.Price * 100
		if drop < thresholdPercent {
			continue
		}

		alerts = append(alerts, Alert{
			ProductID:     h.Product.ID,
			Title:         h.Product.Title,
			URL:           h.Product.URL,
			PreviousPrice: previous.Price,
			CurrentPrice:  current.Price,
			DropPercent:   drop,
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].DropPercent > alerts[j].DropPercent
	})
	if len(alerts) > 0 {
		metrics.AlertsDetectedTotal.Add(float64(len(alerts)))
	}
	return alerts
}

// Check evaluates a single history against the threshold, for the
// post-record notification path. ok is false when no alert fires.
func Check(h ledger.ProductHistory, thresholdPercent float64) (Alert, bool) {
	alerts := Detect([]ledger.ProductHistory{h}, thresholdPercent)
	if len(alerts) == 0 {
		return Alert{}, false
	}
	return alerts[0], true
}
