package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/dex_autotag/internal/netutil"
	"github.com/joho/godotenv"
)

// Config holds all settings for one auto-tag run.
type Config struct {
	// Input
	ContactsFile string
	IDField      string

	// Target application
	LoginURL          string
	DetailURLTemplate string
	TriggerTag        string
	TriggerText       string
	IndicatorSelector string

	// Wait policy
	IndicatorTimeoutMS       int
	IndicatorAppearTimeoutMS int
	TriggerTimeoutMS         int
	SettleDelayMS            int

	// Browser
	Engine     string
	Headless   bool
	CDPAddress string
	CDPPort    int
	ProfileDir string

	// Operator surface
	ControlAddr             string
	ControlPortCandidates   []string
	ControlPortAutoFallback bool

	// Outputs
	JournalDir string
	NotifyURL  string
	UIConfig   string
	LogLevel   string
	LogFile    string
}

// Load reads configuration from environment variables and an optional .env
// file, then applies the UI contract file if one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		ContactsFile:             getEnvOrDefault("AUTOTAG_CONTACTS_FILE", "./dex_contacts.csv"),
		IDField:                  getEnvOrDefault("AUTOTAG_ID_FIELD", "id"),
		LoginURL:                 getEnvOrDefault("AUTOTAG_LOGIN_URL", "https://getdex.com/login"),
		DetailURLTemplate:        getEnvOrDefault("AUTOTAG_DETAIL_URL_TEMPLATE", "https://getdex.com/contacts/details/{id}"),
		TriggerTag:               getEnvOrDefault("AUTOTAG_TRIGGER_TAG", "a"),
		TriggerText:              getEnvOrDefault("AUTOTAG_TRIGGER_TEXT", "AI Auto-tag"),
		IndicatorSelector:        getEnvOrDefault("AUTOTAG_INDICATOR_SELECTOR", "svg.fa-spinner-third.mr-1"),
		IndicatorTimeoutMS:       getEnvIntOrDefault("AUTOTAG_INDICATOR_TIMEOUT_MS", 30000),
		IndicatorAppearTimeoutMS: getEnvIntOrDefault("AUTOTAG_INDICATOR_APPEAR_TIMEOUT_MS", 0),
		TriggerTimeoutMS:         getEnvIntOrDefault("AUTOTAG_TRIGGER_TIMEOUT_MS", 0),
		SettleDelayMS:            getEnvIntOrDefault("AUTOTAG_SETTLE_DELAY_MS", 1000),
		Engine:                   strings.ToLower(getEnvOrDefault("AUTOTAG_ENGINE", "chromedp")),
		Headless:                 getEnvBoolOrDefault("AUTOTAG_HEADLESS", false),
		CDPAddress:               getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:                  getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9230),
		ProfileDir:               getEnvOrDefault("AUTOTAG_PROFILE_DIR", "./browser_profile"),
		ControlAddr:              getEnvOrDefault("AUTOTAG_CONTROL_ADDR", "127.0.0.1:8199"),
		ControlPortCandidates:    getEnvListOrDefault("AUTOTAG_CONTROL_PORT_CANDIDATES", []string{"127.0.0.1:8200", "127.0.0.1:8201"}),
		ControlPortAutoFallback:  getEnvBoolOrDefault("AUTOTAG_CONTROL_PORT_AUTO_FALLBACK", true),
		JournalDir:               getEnvOrDefault("AUTOTAG_JOURNAL_DIR", "./runs"),
		NotifyURL:                os.Getenv("AUTOTAG_NOTIFY_URL"),
		UIConfig:                 getEnvOrDefault("AUTOTAG_UI_CONFIG", "./config/ui.yaml"),
		LogLevel:                 strings.ToLower(getEnvOrDefault("AUTOTAG_LOG_LEVEL", "info")),
		LogFile:                  getEnvOrDefault("AUTOTAG_LOG_FILE", "logs/autotagger.log"),
	}
	// Explicitly blank values switch optional outputs off.
	if v, ok := os.LookupEnv("AUTOTAG_CONTROL_ADDR"); ok && strings.TrimSpace(v) == "" {
		cfg.ControlAddr = ""
	}
	if v, ok := os.LookupEnv("AUTOTAG_JOURNAL_DIR"); ok && strings.TrimSpace(v) == "" {
		cfg.JournalDir = ""
	}

	ui, err := LoadUIContract(cfg.UIConfig)
	switch {
	case err == nil:
		ui.Apply(cfg)
		slog.Debug("ui contract applied", "path", cfg.UIConfig)
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("no ui contract file, using defaults", "path", cfg.UIConfig)
	default:
		return nil, err
	}

	if cfg.TriggerTimeoutMS < 0 {
		cfg.TriggerTimeoutMS = 0
	}
	if cfg.IndicatorAppearTimeoutMS < 0 {
		cfg.IndicatorAppearTimeoutMS = 0
	}
	if cfg.SettleDelayMS < 0 {
		cfg.SettleDelayMS = 0
	}
	return cfg, nil
}

// Validate rejects settings the run cannot work with.
func (c *Config) Validate() error {
	switch c.Engine {
	case "chromedp", "playwright":
	default:
		return fmt.Errorf("AUTOTAG_ENGINE must be chromedp or playwright, got %q", c.Engine)
	}
	if strings.TrimSpace(c.IDField) == "" {
		return fmt.Errorf("AUTOTAG_ID_FIELD is required")
	}
	if !strings.Contains(c.DetailURLTemplate, "{id}") {
		return fmt.Errorf("detail url template %q has no {id} placeholder", c.DetailURLTemplate)
	}
	if c.IndicatorTimeoutMS <= 0 {
		return fmt.Errorf("AUTOTAG_INDICATOR_TIMEOUT_MS must be positive, got %d", c.IndicatorTimeoutMS)
	}
	if strings.TrimSpace(c.TriggerText) == "" {
		return fmt.Errorf("trigger text is required")
	}
	if strings.TrimSpace(c.IndicatorSelector) == "" {
		return fmt.Errorf("indicator selector is required")
	}
	return nil
}

func (c *Config) IndicatorTimeout() time.Duration {
	return time.Duration(c.IndicatorTimeoutMS) * time.Millisecond
}

func (c *Config) IndicatorAppearTimeout() time.Duration {
	return time.Duration(c.IndicatorAppearTimeoutMS) * time.Millisecond
}

func (c *Config) TriggerTimeout() time.Duration {
	return time.Duration(c.TriggerTimeoutMS) * time.Millisecond
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
		slog.Warn("ignoring non-integer env value", "key", key, "value", val)
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
		slog.Warn("ignoring non-boolean env value", "key", key, "value", val)
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		return netutil.ParseAddrList(val)
	}
	return defaultVal
}
