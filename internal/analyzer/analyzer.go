// Package analyzer computes descriptive statistics and a buy-timing
// recommendation over a product's price history. All functions are pure;
// callers pass observation slices loaded from the ledger.
package analyzer

import (
	"math"
	"sort"
	"time"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/model"
)

// Stats describes a price history. Count 0 means no observations; PctChange
// is 0 when fewer than two points exist or the first price is zero.
type Stats struct {
	Count     int       `json:"count"`
	Current   float64   `json:"current"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Mean      float64   `json:"mean"`
	Median    float64   `json:"median"`
	StdDev    float64   `json:"std_dev"`
	PctChange float64   `json:"pct_change"`
	First     time.Time `json:"first"`
	Last      time.Time `json:"last"`
}

// minObservations is the history depth required before a recommendation
// carries a score.
const minObservations = 7

// Recommendation scores how good the current price looks against history.
// Score 5 is near the historical minimum, 1 is well above average. Score 0
// with the insufficient-history label means the history is too short.
type Recommendation struct {
	Score       int     `json:"score"`
	Label       string  `json:"label"`
	PctBelowAvg float64 `json:"pct_below_avg"`
	PctAboveMin float64 `json:"pct_above_min"`
}

// Statistics computes Stats over obs. The input is never mutated; a copy is
// sorted by scraped_at so callers can pass histories in any order.
func Statistics(obs []model.PriceObservation) Stats {
	if len(obs) == 0 {
		return Stats{}
	}

	sorted := make([]model.PriceObservation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ScrapedAt.Before(sorted[j].ScrapedAt)
	})

	prices := make([]float64, len(sorted))
	sum := 0.0
	min, max := sorted[0].Price, sorted[0].Price
	for i, o := range sorted {
		prices[i] = o.Price
		sum += o.Price
		if o.Price < min {
			min = o.Price
		}
		if o.Price > max {
			max = o.Price
		}
	}
	mean := sum / float64(len(prices))

	s := Stats{
		Count:   len(sorted),
		Current: sorted[len(sorted)-1].Price,
		Min:     min,
		Max:     max,
		Mean:    mean,
		Median:  median(prices),
		StdDev:  sampleStdDev(prices, mean),
		First:   sorted[0].ScrapedAt,
		Last:    sorted[len(sorted)-1].ScrapedAt,
	}

	if len(sorted) >= 2 && sorted[0].Price != 0 {
		s.PctChange = (s.Current - sorted[0].Price) / sorted[0].Price * 100
	}
	return s
}

// Recommend scores the current price against the product's history.
func Recommend(obs []model.PriceObservation) Recommendation {
	if len(obs) < minObservations {
		return Recommendation{Score: 0, Label: "insufficient history"}
	}

	s := Statistics(obs)
	rec := Recommendation{}
	if s.Mean != 0 {
		rec.PctBelowAvg = (s.Mean - s.Current) / s.Mean * 100
	}
	if s.Min != 0 {
		rec.PctAboveMin = (s.Current - s.Min) / s.Min * 100
	}

	switch {
	case s.Current <= s.Min*1.05:
		rec.Score = 5
		rec.Label = "excellent price, near historical minimum"
	case s.Current <= s.Mean*0.95:
		rec.Score = 4
		rec.Label = "good price, below average"
	case s.Current <= s.Mean*1.05:
		rec.Score = 3
		rec.Label = "average price"
	case s.Current <= s.Mean*1.15:
		rec.Score = 2
		rec.Label = "above average, consider waiting"
	default:
		rec.Score = 1
		rec.Label = "high price, wait for a drop"
	}
	return rec
}

// median expects prices already extracted in chronological order; it sorts
// its own copy by value.
func median(prices []float64) float64 {
	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// sampleStdDev returns the sample standard deviation (n-1 denominator),
// 0 for fewer than two points.
func sampleStdDev(prices []float64, mean float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	var ss float64
	for _, p := range prices {
		d := p - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(prices)-1))
}
