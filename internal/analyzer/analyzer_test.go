package analyzer

import (
	"math"
	"testing"
	"time"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/model"
)

func obsAt(price float64, offset time.Duration) model.PriceObservation {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return model.PriceObservation{Price: price, ScrapedAt: base.Add(offset)}
}

func fixture(prices ...float64) []model.PriceObservation {
	obs := make([]model.PriceObservation, len(prices))
	for i, p := range prices {
		obs[i] = obsAt(p, time.Duration(i)*time.Hour)
	}
	return obs
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestStatistics_EmptyHistory(t *testing.T) {
	s := Statistics(nil)
	if s.Count != 0 || s.Current != 0 || s.PctChange != 0 {
		t.Fatalf("expected zero stats, got %+v", s)
	}
}

func TestStatistics_SingleObservation(t *testing.T) {
	s := Statistics(fixture(100))
	if s.Count != 1 || s.Current != 100 || s.Min != 100 || s.Max != 100 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.Median != 100 || s.StdDev != 0 || s.PctChange != 0 {
		t.Fatalf("unexpected derived stats: %+v", s)
	}
}

func TestStatistics_Basic(t *testing.T) {
	s := Statistics(fixture(100, 200, 300, 400))
	if s.Count != 4 || s.Current != 400 || s.Min != 100 || s.Max != 400 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if !closeTo(s.Mean, 250) {
		t.Fatalf("mean = %v, want 250", s.Mean)
	}
	if !closeTo(s.Median, 250) {
		t.Fatalf("median = %v, want 250", s.Median)
	}
	// sample stddev of {100,200,300,400}
	if !closeTo(s.StdDev, math.Sqrt(50000.0/3.0)) {
		t.Fatalf("stddev = %v", s.StdDev)
	}
	if !closeTo(s.PctChange, 300) {
		t.Fatalf("pct change = %v, want 300", s.PctChange)
	}
}

func TestStatistics_OddMedian(t *testing.T) {
	s := Statistics(fixture(300, 100, 200))
	if !closeTo(s.Median, 200) {
		t.Fatalf("median = %v, want 200", s.Median)
	}
	// Sorted by time, not value: current is the last observation.
	if s.Current != 200 {
		t.Fatalf("current = %v, want 200", s.Current)
	}
}

func TestStatistics_PctChangeZeroFirstPrice(t *testing.T) {
	s := Statistics(fixture(0, 150))
	if s.PctChange != 0 {
		t.Fatalf("expected pct change 0 with zero first price, got %v", s.PctChange)
	}
}

func TestStatistics_DoesNotMutateInput(t *testing.T) {
	obs := []model.PriceObservation{
		obsAt(300, 2*time.Hour),
		obsAt(100, 0),
		obsAt(200, time.Hour),
	}
	Statistics(obs)
	if obs[0].Price != 300 || obs[1].Price != 100 || obs[2].Price != 200 {
		t.Fatalf("input mutated: %+v", obs)
	}
}

func TestRecommend_InsufficientHistory(t *testing.T) {
	rec := Recommend(fixture(100, 90, 80, 70, 60, 50))
	if rec.Score != 0 {
		t.Fatalf("expected score 0, got %d", rec.Score)
	}
	if rec.Label != "insufficient history" {
		t.Fatalf("unexpected label %q", rec.Label)
	}
}

func TestRecommend_ScoreLadder(t *testing.T) {
	// Six fixed points; the seventh (current) price selects the band.
	cases := []struct {
		name    string
		history []float64
		score   int
	}{
		{
			// current 100 = min, within min*1.05
			name:    "excellent near min",
			history: []float64{100, 200, 200, 200, 200, 200, 100},
			score:   5,
		},
		{
			// min 100, mean = (100+200*5+150)/7 = 178.57; current 150
			// > 105 (min band), <= 169.6 (mean*0.95)
			name:    "good below average",
			history: []float64{100, 200, 200, 200, 200, 200, 150},
			score:   4,
		},
		{
			// min 100, mean = (100+200*5+180)/7 = 182.86; current 180
			// > 173.7 (mean*0.95), <= 192 (mean*1.05)
			name:    "average",
			history: []float64{100, 200, 200, 200, 200, 200, 180},
			score:   3,
		},
		{
			// min 100, mean = (100+200*5+215)/7 = 187.86; current 215
			// > 197.25 (mean*1.05), <= 216.04 (mean*1.15)
			name:    "above average",
			history: []float64{100, 200, 200, 200, 200, 200, 215},
			score:   2,
		},
		{
			// min 100, mean = (100+200*5+400)/7 = 214.29; current 400
			// > 246.4 (mean*1.15)
			name:    "high price",
			history: []float64{100, 200, 200, 200, 200, 200, 400},
			score:   1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := Recommend(fixture(tc.history...))
			if rec.Score != tc.score {
				t.Fatalf("score = %d, want %d (rec=%+v)", rec.Score, tc.score, rec)
			}
			if rec.Label == "" {
				t.Fatalf("missing label")
			}
		})
	}
}

func TestRecommend_ContextPercentages(t *testing.T) {
	rec := Recommend(fixture(100, 200, 200, 200, 200, 200, 150))
	// mean = 178.571..., current 150 → 16% below avg; min 100 → 50% above min
	if !closeTo(rec.PctBelowAvg, (1250.0/7.0-150)/(1250.0/7.0)*100) {
		t.Fatalf("pct below avg = %v", rec.PctBelowAvg)
	}
	if !closeTo(rec.PctAboveMin, 50) {
		t.Fatalf("pct above min = %v, want 50", rec.PctAboveMin)
	}
}

func TestRecommend_AllZeroPrices(t *testing.T) {
	rec := Recommend(fixture(0, 0, 0, 0, 0, 0, 0))
	// Divisions guarded; 0 <= 0*1.05 so this lands in the top band.
	if rec.Score != 5 {
		t.Fatalf("score = %d, want 5", rec.Score)
	}
	if rec.PctBelowAvg != 0 || rec.PctAboveMin != 0 {
		t.Fatalf("expected guarded percentages, got %+v", rec)
	}
}
