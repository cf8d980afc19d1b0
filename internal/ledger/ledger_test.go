package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/source"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() {
		if err := l.Close(); err != nil {
			t.Errorf("close ledger: %v", err)
		}
	})
	return l
}

func mustRecord(t *testing.T, l *Ledger, raw source.RawProduct) {
	t.Helper()
	if err := l.Record(context.Background(), raw); err != nil {
		t.Fatalf("record %s: %v", raw.ID, err)
	}
}

func TestLedger_RecordAppendsObservations(t *testing.T) {
	l := newTestLedger(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, price := range []float64{1000, 950, 900} {
		mustRecord(t, l, source.RawProduct{
			ID:        "MLA123",
			Title:     "Auriculares inalámbricos",
			Price:     price,
			ScrapedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}

	history, err := l.History(context.Background(), "MLA123")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].ScrapedAt.Before(history[i-1].ScrapedAt) {
			t.Fatalf("history out of order at %d: %v before %v",
				i, history[i].ScrapedAt, history[i-1].ScrapedAt)
		}
	}
	if history[0].Price != 1000 || history[2].Price != 900 {
		t.Fatalf("unexpected prices: first=%.0f last=%.0f", history[0].Price, history[2].Price)
	}
}

func TestLedger_OutOfOrderInsertsReadSorted(t *testing.T) {
	l := newTestLedger(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// A backfill arrives after newer observations were already recorded.
	for _, hours := range []int{3, 0, 2, 1} {
		mustRecord(t, l, source.RawProduct{
			ID:        "MLA500",
			Title:     "Notebook gamer",
			Price:     float64(900 - 10*hours),
			ScrapedAt: base.Add(time.Duration(hours) * time.Hour),
		})
	}

	history, err := l.History(context.Background(), "MLA500")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 observations, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].ScrapedAt.Before(history[i-1].ScrapedAt) {
			t.Fatalf("history out of order at %d: %v before %v",
				i, history[i].ScrapedAt, history[i-1].ScrapedAt)
		}
	}
	if history[0].Price != 900 || history[3].Price != 870 {
		t.Fatalf("unexpected boundary prices: first=%.0f last=%.0f",
			history[0].Price, history[3].Price)
	}

	// Histories feeds the drop detector, so its order matters too.
	histories, err := l.Histories(context.Background())
	if err != nil {
		t.Fatalf("histories: %v", err)
	}
	if len(histories) != 1 {
		t.Fatalf("expected 1 product history, got %d", len(histories))
	}
	obs := histories[0].Observations
	if len(obs) != 4 || obs[len(obs)-1].Price != 870 {
		t.Fatalf("histories not sorted by scraped_at: %+v", obs)
	}
}

func TestLedger_FirstWriteWinsIdentity(t *testing.T) {
	l := newTestLedger(t)
	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mustRecord(t, l, source.RawProduct{
		ID: "MLA9", Title: "Original title", URL: "https://example.com/a",
		Price: 100, ScrapedAt: first,
	})
	mustRecord(t, l, source.RawProduct{
		ID: "MLA9", Title: "Renamed listing", URL: "https://example.com/b",
		Price: 90, ScrapedAt: first.Add(time.Hour),
	})

	products, err := l.Products(context.Background())
	if err != nil {
		t.Fatalf("products: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	p := products[0]
	if p.Title != "Original title" || p.URL != "https://example.com/a" {
		t.Fatalf("identity changed: title=%q url=%q", p.Title, p.URL)
	}
	if !p.FirstSeen.Equal(first) {
		t.Fatalf("first_seen changed: %v", p.FirstSeen)
	}
	if p.PriceCount != 2 {
		t.Fatalf("expected 2 observations counted, got %d", p.PriceCount)
	}
}

func TestLedger_RecordDefaults(t *testing.T) {
	l := newTestLedger(t)
	before := time.Now()

	mustRecord(t, l, source.RawProduct{ID: "MLA77", Title: "Sin vendedor", Price: 55})

	history, err := l.History(context.Background(), "MLA77")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(history))
	}
	obs := history[0]
	if obs.Seller != "Unknown" {
		t.Fatalf("expected seller Unknown, got %q", obs.Seller)
	}
	if obs.ScrapedAt.Before(before.Add(-time.Second)) {
		t.Fatalf("scraped_at not defaulted to now: %v", obs.ScrapedAt)
	}
}

func TestLedger_RecordRejectsInvalid(t *testing.T) {
	l := newTestLedger(t)

	cases := []struct {
		name string
		raw  source.RawProduct
	}{
		{"missing id", source.RawProduct{Title: "x", Price: 1}},
		{"missing title", source.RawProduct{ID: "MLA1", Price: 1}},
		{"blank title", source.RawProduct{ID: "MLA1", Title: "   ", Price: 1}},
		{"negative price", source.RawProduct{ID: "MLA1", Title: "x", Price: -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := l.Record(context.Background(), tc.raw)
			if !errors.Is(err, ErrInvalidRecord) {
				t.Fatalf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}

	totals, err := l.Totals(context.Background())
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.Products != 0 || totals.Observations != 0 {
		t.Fatalf("invalid records wrote rows: %+v", totals)
	}
}

func TestLedger_ZeroPriceAccepted(t *testing.T) {
	l := newTestLedger(t)
	mustRecord(t, l, source.RawProduct{ID: "MLA0", Title: "Gratis", Price: 0})

	history, err := l.History(context.Background(), "MLA0")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Price != 0 {
		t.Fatalf("zero-price observation not stored: %+v", history)
	}
}

func TestLedger_HistoryUnknownProductEmpty(t *testing.T) {
	l := newTestLedger(t)
	history, err := l.History(context.Background(), "MLA-nope")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d rows", len(history))
	}
}

func TestLedger_ProductsAggregatesAndOrder(t *testing.T) {
	l := newTestLedger(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mustRecord(t, l, source.RawProduct{ID: "MLA-old", Title: "Older", Price: 100, ScrapedAt: base})
	for i, price := range []float64{200, 100, 300} {
		mustRecord(t, l, source.RawProduct{
			ID: "MLA-new", Title: "Newer", Price: price,
			ScrapedAt: base.Add(24*time.Hour + time.Duration(i)*time.Minute),
		})
	}

	products, err := l.Products(context.Background())
	if err != nil {
		t.Fatalf("products: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if products[0].ID != "MLA-new" {
		t.Fatalf("expected newest product first, got %s", products[0].ID)
	}
	p := products[0]
	if p.PriceCount != 3 || p.MinPrice != 100 || p.MaxPrice != 300 || p.AvgPrice != 200 {
		t.Fatalf("unexpected aggregates: %+v", p)
	}
}

func TestLedger_Latest(t *testing.T) {
	l := newTestLedger(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		mustRecord(t, l, source.RawProduct{
			ID: "MLA-a", Title: "Producto A", Price: float64(100 + i),
			ScrapedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	rows, err := l.Latest(context.Background(), 3)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Price != 104 {
		t.Fatalf("expected newest observation first, got price %.0f", rows[0].Price)
	}
	if rows[0].Title != "Producto A" {
		t.Fatalf("expected joined title, got %q", rows[0].Title)
	}
}

func TestLedger_Histories(t *testing.T) {
	l := newTestLedger(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mustRecord(t, l, source.RawProduct{ID: "MLA-a", Title: "A", Price: 100, ScrapedAt: base})
	mustRecord(t, l, source.RawProduct{ID: "MLA-a", Title: "A", Price: 80, ScrapedAt: base.Add(time.Hour)})
	mustRecord(t, l, source.RawProduct{ID: "MLA-b", Title: "B", Price: 50, ScrapedAt: base.Add(2 * time.Hour)})

	histories, err := l.Histories(context.Background())
	if err != nil {
		t.Fatalf("histories: %v", err)
	}
	if len(histories) != 2 {
		t.Fatalf("expected 2 products, got %d", len(histories))
	}
	for _, h := range histories {
		switch h.Product.ID {
		case "MLA-a":
			if len(h.Observations) != 2 || h.Observations[0].Price != 100 {
				t.Fatalf("unexpected MLA-a history: %+v", h.Observations)
			}
		case "MLA-b":
			if len(h.Observations) != 1 {
				t.Fatalf("unexpected MLA-b history: %+v", h.Observations)
			}
		default:
			t.Fatalf("unexpected product %s", h.Product.ID)
		}
	}
}

func TestLedger_TotalsAndReset(t *testing.T) {
	l := newTestLedger(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mustRecord(t, l, source.RawProduct{ID: "MLA-a", Title: "A", Price: 100, ScrapedAt: base})
	mustRecord(t, l, source.RawProduct{ID: "MLA-a", Title: "A", Price: 90, ScrapedAt: base.Add(time.Hour)})
	mustRecord(t, l, source.RawProduct{ID: "MLA-b", Title: "B", Price: 50, ScrapedAt: base.Add(2 * time.Hour)})

	totals, err := l.Totals(context.Background())
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.Products != 2 || totals.Observations != 3 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if totals.FirstRecord == nil || totals.LastRecord == nil {
		t.Fatalf("expected record bounds, got %+v", totals)
	}
	if !totals.FirstRecord.Equal(base) || !totals.LastRecord.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("wrong bounds: first=%v last=%v", totals.FirstRecord, totals.LastRecord)
	}

	if err := l.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	totals, err = l.Totals(context.Background())
	if err != nil {
		t.Fatalf("totals after reset: %v", err)
	}
	if totals.Products != 0 || totals.Observations != 0 {
		t.Fatalf("reset left rows behind: %+v", totals)
	}
	if totals.FirstRecord != nil {
		t.Fatalf("expected nil bounds after reset")
	}

	// The store stays usable after a reset.
	mustRecord(t, l, source.RawProduct{ID: "MLA-c", Title: "C", Price: 10})
	totals, err = l.Totals(context.Background())
	if err != nil {
		t.Fatalf("totals after re-record: %v", err)
	}
	if totals.Products != 1 || totals.Observations != 1 {
		t.Fatalf("store unusable after reset: %+v", totals)
	}
}
