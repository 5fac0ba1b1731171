package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDriver     string
	DBDir        string
	PostgresDSN  string
	PostgresMax  int
	SitesFile    string
	FeedDir      string
	RawMailDir   string
	OutputDir    string
	LogMode      string
	Debug        bool
	DebugDataDir string

	SinkBufferSize int
	SiteWorkers    int

	HTTPTimeoutMs    int
	HTTPRateLimitRPS float64
	FetchBudget      time.Duration
	CredRefresh      time.Duration
	EmptyPageRetries int
	PageDelayMax     time.Duration

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	ListenerProvider    string
	ListenerLabel       string
	ListenerIntervalSec int
	ListenerFetchMax    int
	ListenerImportAll   bool
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBDriver:     strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBDir:        getEnv("DB_DIR", filepath.Join(cwd, "data", "sites")),
		PostgresDSN:  getEnv("PG_DSN", ""),
		PostgresMax:  getEnvInt("PG_MAX_CONNS", 4),
		SitesFile:    getEnv("SITES_FILE", filepath.Join(cwd, "sites.yaml")),
		FeedDir:      getEnv("FEED_DIR", filepath.Join(cwd, "data", "ftp")),
		RawMailDir:   getEnv("MAIL_RAW_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:    getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),
		LogMode:      getEnv("LOG_MODE", "dev"),
		Debug:        getEnvBool("DEBUG", false),
		DebugDataDir: getEnv("DEBUG_DATA_DIR", filepath.Join(cwd, "testdata", "feeds")),

		SinkBufferSize: getEnvInt("SINK_BUFFER_SIZE", 1000),
		SiteWorkers:    getEnvInt("SITE_WORKERS", 4),

		HTTPTimeoutMs:    getEnvInt("HTTP_TIMEOUT_MS", 60000),
		HTTPRateLimitRPS: getEnvFloat("HTTP_RATE_LIMIT_RPS", 2),
		FetchBudget:      getEnvDuration("FETCH_BUDGET", 30*time.Minute),
		CredRefresh:      getEnvDuration("CRED_REFRESH", 240*time.Second),
		EmptyPageRetries: getEnvInt("EMPTY_PAGE_RETRIES", 2),
		PageDelayMax:     getEnvDuration("PAGE_DELAY_MAX", 2500*time.Millisecond),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		ListenerProvider:    getEnv("LISTENER_PROVIDER", "imap"),
		ListenerLabel:       getEnv("LISTENER_LABEL", "INBOX"),
		ListenerIntervalSec: getEnvInt("LISTENER_INTERVAL_SEC", 3600),
		ListenerFetchMax:    getEnvInt("LISTENER_FETCH_MAX", 20),
		ListenerImportAll:   getEnvBool("LISTENER_IMPORT_ALL", true),
	}

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// SiteDBPath is the sqlite file holding one site's inventory.
func (c Config) SiteDBPath(site string) string {
	return filepath.Join(c.DBDir, site+".db")
}

// MailDBPath is the sqlite file indexing mailed feeds for every site.
func (c Config) MailDBPath() string {
	return filepath.Join(c.DBDir, "mail.db")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	return parseBool(getEnv(key, ""), fallback)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(raw string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" || value == "t" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" || value == "f" {
		return false
	}
	return fallback
}
