package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fortuna/flowscrape/internal/browser"
	"github.com/fortuna/flowscrape/internal/crawl"
	"github.com/fortuna/flowscrape/internal/runstate"
)

// Config is the runtime configuration, read from the environment.
type Config struct {
	BaseURL   string
	Email     string
	Password  string
	Headless  bool
	Incognito bool
	ChromeBin string
	UserAgent string

	OutDir     string
	EventsFile string
	Resume     bool
	ResumeFile string
	AutoSave   int
	Dedup      bool

	LimitEvents     int
	MaxPages        int
	PerEventTimeout time.Duration
	MaxRuntime      time.Duration
	PaginationMode  crawl.Mode
	MaxScrolls      int
	ScrollWait      time.Duration
	PanelAttempts   int
	Debug           bool

	ThrottleEvent     time.Duration
	ThrottlePageMin   time.Duration
	ThrottlePageMax   time.Duration
	ThrottleToggleMin time.Duration
	ThrottleToggleMax time.Duration

	RESTPort    string
	WSPort      string
	RedisURL    string
	DatabaseDSN string

	LogLevel  string
	LogFormat string
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}

	mode, err := crawl.ParseMode(getEnv("PAGINATION_MODE", "auto"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		BaseURL:   strings.TrimRight(getEnv("FLOW_BASE_URL", "https://www.flowagility.com"), "/"),
		Email:     os.Getenv("FLOW_EMAIL"),
		Password:  os.Getenv("FLOW_PASS"),
		Headless:  getEnvBool("HEADLESS", true),
		Incognito: getEnvBool("INCOGNITO", true),
		ChromeBin: os.Getenv("CHROME_BIN"),
		UserAgent: getEnv("CHROME_UA", browser.DefaultUserAgent),

		OutDir:     getEnv("OUT_DIR", "./output"),
		EventsFile: os.Getenv("EVENTS_FILE"),
		Resume:     getEnvBool("RESUME", true),
		ResumeFile: os.Getenv("RESUME_FILE"),
		AutoSave:   getEnvInt("AUTO_SAVE_EVERY", 10),
		Dedup:      getEnvBool("DEDUP_BY_DORSAL", false),

		LimitEvents:     getEnvInt("LIMIT_EVENTS", 0),
		MaxPages:        getEnvInt("MAX_PAGES", 0),
		PerEventTimeout: getEnvSeconds("PER_EVENT_MAX_S", 240*time.Second),
		MaxRuntime:      time.Duration(getEnvInt("MAX_RUNTIME_MIN", 0)) * time.Minute,
		PaginationMode:  mode,
		MaxScrolls:      getEnvInt("MAX_SCROLLS", 15),
		ScrollWait:      getEnvSeconds("SCROLL_WAIT_S", 3*time.Second),
		PanelAttempts:   getEnvInt("PANEL_MAX_ATTEMPTS", 6),
		Debug:           getEnvBool("DEBUG_PARTICIPANTS", false),

		ThrottleEvent:     getEnvSeconds("THROTTLE_EVENT_S", 3*time.Second),
		ThrottlePageMin:   getEnvSeconds("THROTTLE_PAGE_MIN_S", 1200*time.Millisecond),
		ThrottlePageMax:   getEnvSeconds("THROTTLE_PAGE_MAX_S", 2500*time.Millisecond),
		ThrottleToggleMin: getEnvSeconds("THROTTLE_TOGGLE_MIN_S", 900*time.Millisecond),
		ThrottleToggleMax: getEnvSeconds("THROTTLE_TOGGLE_MAX_S", 2200*time.Millisecond),

		RESTPort:    getEnv("REST_PORT", "8080"),
		WSPort:      getEnv("WS_PORT", "8081"),
		RedisURL:    os.Getenv("REDIS_URL"),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the crawl cannot run with.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("FLOW_BASE_URL must not be empty")
	}
	if c.OutDir == "" {
		return errors.New("OUT_DIR must not be empty")
	}
	if (c.Email == "") != (c.Password == "") {
		return errors.New("FLOW_EMAIL and FLOW_PASS must be set together")
	}
	if c.ThrottlePageMax < c.ThrottlePageMin {
		return fmt.Errorf("THROTTLE_PAGE_MAX_S (%s) is below THROTTLE_PAGE_MIN_S (%s)", c.ThrottlePageMax, c.ThrottlePageMin)
	}
	if c.ThrottleToggleMax < c.ThrottleToggleMin {
		return fmt.Errorf("THROTTLE_TOGGLE_MAX_S (%s) is below THROTTLE_TOGGLE_MIN_S (%s)", c.ThrottleToggleMax, c.ThrottleToggleMin)
	}
	if c.LimitEvents < 0 || c.MaxPages < 0 || c.MaxRuntime < 0 || c.PerEventTimeout < 0 {
		return errors.New("limits must not be negative")
	}
	return nil
}

// SetPaginationMode parses and applies a pagination mode name.
func (c *Config) SetPaginationMode(s string) error {
	mode, err := crawl.ParseMode(s)
	if err != nil {
		return err
	}
	c.PaginationMode = mode
	return nil
}

// HasCredentials reports whether the crawler can sign in again on its own.
func (c Config) HasCredentials() bool {
	return c.Email != "" && c.Password != ""
}

// BrowserOptions builds the chromedp client settings.
func (c Config) BrowserOptions(logger *zap.Logger) browser.Options {
	return browser.Options{
		Headless:  c.Headless,
		Incognito: c.Incognito,
		UserAgent: c.UserAgent,
		ExecPath:  c.ChromeBin,
		BaseURL:   c.BaseURL,
		Email:     c.Email,
		Password:  c.Password,
		Logger:    logger,
	}
}

// StoreOptions builds the run-state settings.
func (c Config) StoreOptions(logger *zap.Logger) runstate.Options {
	return runstate.Options{
		Dir:           c.OutDir,
		ResumeFile:    c.ResumeFile,
		Resume:        c.Resume,
		EveryN:        c.AutoSave,
		DedupByDorsal: c.Dedup,
		Logger:        logger,
	}
}

// CrawlOptions builds the crawler settings on top of the package defaults.
func (c Config) CrawlOptions() crawl.Options {
	act := crawl.DefaultActivatorOptions()
	if c.PanelAttempts > 0 {
		act.MaxAttempts = c.PanelAttempts
	}

	pag := crawl.DefaultPaginatorOptions()
	pag.Mode = c.PaginationMode
	pag.MaxPages = c.MaxPages
	if c.MaxScrolls > 0 {
		pag.MaxScrolls = c.MaxScrolls
	}
	if c.ScrollWait > 0 {
		pag.ScrollWait = c.ScrollWait
	}

	return crawl.Options{
		PerEventTimeout: c.PerEventTimeout,
		Throttle: crawl.Throttle{
			Event:     c.ThrottleEvent,
			PageMin:   c.ThrottlePageMin,
			PageMax:   c.ThrottlePageMax,
			ToggleMin: c.ThrottleToggleMin,
			ToggleMax: c.ThrottleToggleMax,
		},
		DebugCapture: c.Debug,
		DebugDir:     c.OutDir,
		Activator:    act,
		Paginator:    pag,
	}
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}

	var zc zap.Config
	if strings.EqualFold(format, "console") {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

// getEnvSeconds reads a possibly fractional number of seconds.
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && f >= 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	return defaultValue
}
