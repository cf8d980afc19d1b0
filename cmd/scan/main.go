// Command scan runs one search-and-report cycle from the terminal: search
// the marketplace, optionally record every result in the ledger, then print
// the tracked products and any price-drop alerts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/alert"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/config"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/ledger"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/logger"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/ratelimit"
	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/source"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		query      = flag.String("query", "", "search query (required)")
		limit      = flag.Int("limit", 0, "max results (default from config)")
		track      = flag.Bool("track", false, "record every result in the ledger")
		threshold  = flag.Float64("threshold", 0, "alert drop percent (default from config)")
		configPath = flag.String("config", "", "config file path")
	)
	flag.Parse()

	if *query == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.LoadOrDefault()
	}
	if *limit <= 0 {
		*limit = cfg.App.SearchLimit
	}
	if *threshold <= 0 {
		*threshold = cfg.App.AlertThreshold
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := ledger.Open(cfg.SQLite.Path)
	if err != nil {
		appLogger.Error("open ledger failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	src := buildSource(ctx, cfg, appLogger)
	if closer, ok := src.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	results, err := src.Search(ctx, *query, *limit)
	if err != nil {
		appLogger.Warn("product source failed", slog.String("error", err.Error()))
		fmt.Println("no results")
		results = nil
	}

	if len(results) > 0 {
		fmt.Printf("Results for %q:\n", *query)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPRICE\tSELLER\tTITLE")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\n", r.ID, r.Price, r.Seller, r.Title)
		}
		w.Flush()
	}

	if *track {
		recorded := 0
		for _, r := range results {
			if err := store.Record(ctx, r); err != nil {
				appLogger.Warn("record failed",
					slog.String("product_id", r.ID),
					slog.String("error", err.Error()))
				continue
			}
			recorded++
		}
		fmt.Printf("\nRecorded %d observations.\n", recorded)
	}

	printReport(ctx, store, *threshold, appLogger)
}

func buildSource(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) source.Source {
	var limiter *ratelimit.RateLimiter
	var rdb *redis.Client
	if cfg.Redis.Addr != "" && cfg.App.RateLimit > 0 && cfg.App.RateBurst > 0 {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		limiter = ratelimit.NewRedisRateLimiter(rdb, appLogger, "", cfg.App.RateLimit, cfg.App.RateBurst)
	}

	switch cfg.Scraper.Mode {
	case "api":
		return source.NewAPISource(cfg.Scraper.APIBaseURL, cfg.Scraper.Timeout, appLogger)
	case "browser":
		src, err := source.NewBrowserSource(ctx, cfg.Scraper.BaseURL, cfg.Scraper.BinPath,
			cfg.Scraper.UserAgent, cfg.Scraper.Headless, limiter, appLogger)
		if err != nil {
			appLogger.Warn("browser source unavailable, falling back to html",
				slog.String("error", err.Error()))
			return source.NewScraperSource(cfg.Scraper.BaseURL, cfg.Scraper.UserAgent,
				cfg.Scraper.Timeout, limiter, appLogger)
		}
		return src
	default:
		return source.NewScraperSource(cfg.Scraper.BaseURL, cfg.Scraper.UserAgent,
			cfg.Scraper.Timeout, limiter, appLogger)
	}
}

func printReport(ctx context.Context, store *ledger.Ledger, threshold float64, appLogger *slog.Logger) {
	products, err := store.Products(ctx)
	if err != nil {
		appLogger.Error("list products failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if len(products) == 0 {
		fmt.Println("\nNo tracked products.")
		return
	}

	fmt.Printf("\nTracked products (%d):\n", len(products))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOBS\tMIN\tMAX\tAVG\tTITLE")
	for _, p := range products {
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%s\n",
			p.ID, p.PriceCount, p.MinPrice, p.MaxPrice, p.AvgPrice, p.Title)
	}
	w.Flush()

	histories, err := store.Histories(ctx)
	if err != nil {
		appLogger.Error("load histories failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	alerts := alert.Detect(histories, threshold)
	if len(alerts) == 0 {
		fmt.Printf("\nNo price drops at or above %.1f%%.\n", threshold)
		return
	}

	fmt.Printf("\nPrice drops (threshold %.1f%%):\n", threshold)
	for _, a := range alerts {
		fmt.Printf("  %s: %.2f -> %.2f (-%.1f%%) %s\n",
			a.Title, a.PreviousPrice, a.CurrentPrice, a.DropPercent, a.URL)
	}
}
