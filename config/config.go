package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Pagination and politeness. PageSize is the source's limit= parameter;
	// Cooldown is the deliberate delay between consecutive page requests.
	PageSize       int
	MaxRetries     int
	BaseBackoff    time.Duration
	Cooldown       time.Duration
	LongSleepEvery int
	LongSleep      time.Duration
	RequestTimeout time.Duration

	// FailureBudget is the number of consecutive failed pages tolerated
	// before the whole run aborts.
	FailureBudget int

	// StrictParse aborts a page when listing elements are present but none
	// of them parse. Default is to log and move on.
	StrictParse bool

	SearchURL      string
	FreguesiasFile string
	ProgressFile   string
	CSVOutputPath  string
	UserAgent      string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "imoveis_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		PageSize:       getEnvInt("PAGE_SIZE", 72),
		MaxRetries:     getEnvInt("MAX_RETRIES", 4),
		BaseBackoff:    getEnvDuration("BASE_BACKOFF_MS", 2000),
		Cooldown:       getEnvDuration("COOLDOWN_MS", 3000),
		LongSleepEvery: getEnvInt("LONG_SLEEP_EVERY", 100),
		LongSleep:      getEnvDuration("LONG_SLEEP_MS", 180000),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT_MS", 20000),

		FailureBudget: getEnvInt("FAILURE_BUDGET", 3),
		StrictParse:   getEnvBool("STRICT_PARSE", false),

		SearchURL:      getEnv("SEARCH_URL", "https://www.imovirtual.com/pt/resultados/comprar/apartamento"),
		FreguesiasFile: getEnv("FREGUESIAS_FILE", ""),
		ProgressFile:   getEnv("PROGRESS_FILE", "./progress.json"),
		CSVOutputPath:  getEnv("CSV_OUTPUT_PATH", ""),
		UserAgent: getEnv("USER_AGENT",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
				"(KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
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

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads a millisecond value from the environment.
func getEnvDuration(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMs)) * time.Millisecond
}
