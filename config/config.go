package config

import (
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment
// variables. It is built once at startup and treated as read-only.
type Config struct {
	DatabaseURL      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	BaseURL           string
	Area              string
	CategoryCodesPath string
	ScrapeCategories  []string

	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	FetchMode      string
	UserAgent      string
	ChromeBin      string

	CSVOutputPath  string
	RedisURL       string
	ScrapeSchedule string
	MinPrice       int
	LogLevel       string
}

// Fetch modes.
const (
	FetchHTTP    = "http"
	FetchBrowser = "browser"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	baseURL := strings.TrimRight(getEnv("MERCHANT_BASE_URL", "https://littlerock.craigslist.org"), "/")

	return &Config{
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "merchant"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "merchant"),
		PostgresDB:       getEnv("POSTGRES_DB", "merchant"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		BaseURL:           baseURL,
		Area:              getEnv("MERCHANT_AREA", areaFromBaseURL(baseURL)),
		CategoryCodesPath: getEnv("CATEGORY_CODES_PATH", "./categories.yaml"),
		ScrapeCategories:  getEnvList("SCRAPE_CATEGORIES"),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		FetchMode:      strings.ToLower(getEnv("FETCH_MODE", FetchHTTP)),
		UserAgent:      getEnv("USER_AGENT", defaultUserAgent),
		ChromeBin:      getEnv("CHROME_BIN", ""),

		CSVOutputPath:  getEnv("CSV_OUTPUT_PATH", ""),
		RedisURL:       getEnv("REDIS_URL", ""),
		ScrapeSchedule: getEnv("SCRAPE_SCHEDULE", "@every 6h"),
		MinPrice:       getEnvInt("MIN_PRICE", 20),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

// DSN returns the PostgreSQL connection string. DATABASE_URL wins over the
// individual POSTGRES_* settings.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// areaFromBaseURL takes the first host label, e.g. "littlerock" for
// https://littlerock.craigslist.org.
func areaFromBaseURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := u.Hostname()
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return host
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
