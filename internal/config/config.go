package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig     `json:"app"`
	SQLite  SQLiteConfig  `json:"sqlite"`
	Redis   RedisConfig   `json:"redis"`
	Scraper ScraperConfig `json:"scraper"`
	Email   EmailConfig   `json:"email"`
}

// AppConfig base application settings.
type AppConfig struct {
	Env            string        `json:"env"`             // local / prod
	LogLevel       string        `json:"log_level"`       // debug / info / warn / error
	HTTPAddr       string        `json:"http_addr"`       // API listen address
	SearchLimit    int           `json:"search_limit"`    // default result count per search
	RecentLimit    int           `json:"recent_limit"`    // default size of the recent-observations view
	AlertThreshold float64       `json:"alert_threshold"` // price-drop percent that triggers an alert
	RateLimit      float64       `json:"rate_limit"`      // scrape rate (requests/s), 0 disables
	RateBurst      float64       `json:"rate_burst"`      // scrape burst size
	CacheTTL       time.Duration `json:"cache_ttl"`       // search-result cache lifetime (e.g. "5m")
}

// SQLiteConfig storage settings.
type SQLiteConfig struct {
	Path string `json:"path"` // database file path
}

// RedisConfig cache settings. An empty Addr disables the search cache and
// the scrape rate limiter.
type RedisConfig struct {
	Addr     string `json:"addr"` // host:port
	Password string `json:"password"`
}

// ScraperConfig product-source settings.
type ScraperConfig struct {
	Mode       string        `json:"mode"`         // html / api / browser
	BaseURL    string        `json:"base_url"`     // HTML listing base URL
	APIBaseURL string        `json:"api_base_url"` // official search API base URL
	UserAgent  string        `json:"user_agent"`
	Timeout    time.Duration `json:"timeout"`  // per-request bound (e.g. "10s")
	BinPath    string        `json:"bin_path"` // browser binary, browser mode only
	Headless   bool          `json:"headless"` // browser mode only
}

// EmailConfig price-drop notification settings. Leaving SMTPHost empty
// disables outgoing mail.
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	ToEmail   string `json:"to_email"`
}

// Load reads configuration from a JSON file.
//
// When the file does not exist the defaults are used; in both cases
// environment variables override the loaded values.
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault loads configuration and falls back to defaults on error.
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save writes the configuration to a JSON file.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// getDefaultConfig returns the built-in defaults.
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:            "local",
			LogLevel:       "info",
			HTTPAddr:       ":8081",
			SearchLimit:    10,
			RecentLimit:    10,
			AlertThreshold: 15,
			RateLimit:      0.5, // one request every two seconds
			RateBurst:      1,
			CacheTTL:       5 * time.Minute,
		},
		SQLite: SQLiteConfig{
			Path: "data/prices.db",
		},
		Redis: RedisConfig{
			Addr:     "",
			Password: "",
		},
		Scraper: ScraperConfig{
			Mode:       "html",
			BaseURL:    "https://listado.mercadolibre.com.ar",
			APIBaseURL: "https://api.mercadolibre.com",
			UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			Timeout:    10 * time.Second,
			BinPath:    "",
			Headless:   true,
		},
		Email: EmailConfig{
			SMTPHost:  "",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
			ToEmail:   "",
		},
	}
}

// applyDefaults fills unset fields with default values.
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.SearchLimit <= 0 {
		cfg.App.SearchLimit = defaults.App.SearchLimit
	}
	if cfg.App.RecentLimit <= 0 {
		cfg.App.RecentLimit = defaults.App.RecentLimit
	}
	if cfg.App.AlertThreshold <= 0 {
		cfg.App.AlertThreshold = defaults.App.AlertThreshold
	}
	if cfg.App.RateBurst <= 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.CacheTTL == 0 {
		cfg.App.CacheTTL = defaults.App.CacheTTL
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = defaults.SQLite.Path
	}
	if cfg.Scraper.Mode == "" {
		cfg.Scraper.Mode = defaults.Scraper.Mode
	}
	if cfg.Scraper.BaseURL == "" {
		cfg.Scraper.BaseURL = defaults.Scraper.BaseURL
	}
	if cfg.Scraper.APIBaseURL == "" {
		cfg.Scraper.APIBaseURL = defaults.Scraper.APIBaseURL
	}
	if cfg.Scraper.UserAgent == "" {
		cfg.Scraper.UserAgent = defaults.Scraper.UserAgent
	}
	if cfg.Scraper.Timeout == 0 {
		cfg.Scraper.Timeout = defaults.Scraper.Timeout
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("sqlite_path", "SQLITE_PATH")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_SEARCH_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.SearchLimit = i
		}
	}
	if v := os.Getenv("APP_RECENT_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.RecentLimit = i
		}
	}
	if v := os.Getenv("APP_ALERT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.AlertThreshold = f
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	if v := os.Getenv("APP_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.CacheTTL = d
		}
	}

	if v := viper.GetString("sqlite_path"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SCRAPER_MODE"); v != "" {
		cfg.Scraper.Mode = v
	}
	if v := os.Getenv("SCRAPER_BASE_URL"); v != "" {
		cfg.Scraper.BaseURL = v
	}
	if v := os.Getenv("SCRAPER_API_BASE_URL"); v != "" {
		cfg.Scraper.APIBaseURL = v
	}
	if v := os.Getenv("SCRAPER_USER_AGENT"); v != "" {
		cfg.Scraper.UserAgent = v
	}
	if v := os.Getenv("SCRAPER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scraper.Timeout = d
		}
	}
	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Scraper.BinPath = v
	}
	if v := os.Getenv("SCRAPER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Scraper.Headless = b
		}
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("SMTP_TO"); v != "" {
		cfg.Email.ToEmail = v
	}
}

// UnmarshalJSON parses duration fields given as strings ("10s", "5m").
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		CacheTTL string `json:"cache_ttl"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.CacheTTL != "" {
		duration, err := time.ParseDuration(aux.CacheTTL)
		if err != nil {
			return fmt.Errorf("invalid cache_ttl format: %w", err)
		}
		a.CacheTTL = duration
	}

	return nil
}

// MarshalJSON renders duration fields as strings.
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		CacheTTL string `json:"cache_ttl"`
		*Alias
	}{
		CacheTTL: a.CacheTTL.String(),
		Alias:    (*Alias)(&a),
	})
}

// UnmarshalJSON parses the scraper timeout given as a string.
func (s *ScraperConfig) UnmarshalJSON(data []byte) error {
	type Alias ScraperConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timeout != "" {
		duration, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout format: %w", err)
		}
		s.Timeout = duration
	}

	return nil
}

// MarshalJSON renders the scraper timeout as a string.
func (s ScraperConfig) MarshalJSON() ([]byte, error) {
	type Alias ScraperConfig
	return json.Marshal(&struct {
		Timeout string `json:"timeout"`
		*Alias
	}{
		Timeout: s.Timeout.String(),
		Alias:   (*Alias)(&s),
	})
}
