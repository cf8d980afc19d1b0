package ledger

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/model"
)

type exportRow struct {
	Price        float64 `json:"price"`
	Seller       string  `json:"seller"`
	FreeShipping bool    `json:"free_shipping"`
	ScrapedAt    string  `json:"scraped_at"`
}

// WriteJSON streams a product history as a JSON array, oldest first.
// Timestamps are RFC3339.
func WriteJSON(w io.Writer, history []model.PriceObservation) error {
	rows := make([]exportRow, 0, len(history))
	for _, obs := range history {
		rows = append(rows, exportRow{
			Price:        obs.Price,
			Seller:       obs.Seller,
			FreeShipping: obs.FreeShipping,
			ScrapedAt:    obs.ScrapedAt.Format(time.RFC3339),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode history json: %w", err)
	}
	return nil
}

// WriteCSV streams a product history as CSV with a header row. Fields
// mirror WriteJSON so the two exports carry the same data.
func WriteCSV(w io.Writer, history []model.PriceObservation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"price", "seller", "free_shipping", "scraped_at"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, obs := range history {
		record := []string{
			strconv.FormatFloat(obs.Price, 'f', -1, 64),
			obs.Seller,
			strconv.FormatBool(obs.FreeShipping),
			obs.ScrapedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
