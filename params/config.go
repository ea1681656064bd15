package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type API struct {
	Addr        string
	CORSOrigins []string // empty = reflect any origin (credentials allowed)
}

type Storage struct {
	DBPath string
}

type Logging struct {
	File  string
	Level string
}

type Accounts struct {
	// StartingBalance is credited to every new cookie identity.
	StartingBalance decimal.Decimal
}

type Simulation struct {
	Enabled   bool
	Interval  time.Duration
	Symbols   []string
	MinSpread decimal.Decimal
	MaxSpread decimal.Decimal
	MinQty    int64
	MaxQty    int64
}

type Quotes struct {
	URL string
	TTL time.Duration
}

type Events struct {
	KafkaBrokers []string // empty disables the kafka sink
	KafkaTopic   string
	JournalPath  string // empty disables the JSON-lines journal
}

type Config struct {
	API        API
	Storage    Storage
	Logging    Logging
	Accounts   Accounts
	Simulation Simulation
	Quotes     Quotes
	Events     Events
}

func Default() Config {
	return Config{
		API: API{
			Addr: ":3001",
		},
		Storage: Storage{
			DBPath: "data/papertrade.db",
		},
		Logging: Logging{
			File:  "data/papertrade.log",
			Level: "info",
		},
		Accounts: Accounts{
			StartingBalance: decimal.NewFromInt(100000),
		},
		Simulation: Simulation{
			Enabled:   false,
			Interval:  5 * time.Second,
			Symbols:   []string{"NVDA"},
			MinSpread: decimal.RequireFromString("0.2"),
			MaxSpread: decimal.RequireFromString("1.5"),
			MinQty:    1,
			MaxQty:    20,
		},
		Quotes: Quotes{
			URL: "https://query1.finance.yahoo.com",
			TTL: 2 * time.Second,
		},
		Events: Events{
			KafkaTopic: "papertrade.events",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Missing .env is fine
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	cfg.Storage.DBPath = getEnv("DB_PATH", cfg.Storage.DBPath)
	cfg.Logging.File = getEnv("LOG_FILE", cfg.Logging.File)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)

	if v := os.Getenv("STARTING_BALANCE"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			cfg.Accounts.StartingBalance = d
		}
	}

	if v := os.Getenv("SIMULATION_ENABLED"); v != "" {
		cfg.Simulation.Enabled = v == "true"
	}
	if v := os.Getenv("SIMULATION_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Simulation.Interval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("SIMULATION_SYMBOLS"); v != "" {
		cfg.Simulation.Symbols = splitList(strings.ToUpper(v))
	}
	if v := os.Getenv("SIMULATION_MIN_SPREAD"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.Simulation.MinSpread = d
		}
	}
	if v := os.Getenv("SIMULATION_MAX_SPREAD"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.Simulation.MaxSpread = d
		}
	}
	if v := os.Getenv("SIMULATION_MIN_QTY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Simulation.MinQty = n
		}
	}
	if v := os.Getenv("SIMULATION_MAX_QTY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Simulation.MaxQty = n
		}
	}

	cfg.Quotes.URL = getEnv("QUOTE_URL", cfg.Quotes.URL)
	if v := os.Getenv("QUOTE_TTL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.Quotes.TTL = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = splitList(v)
	}
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)
	cfg.Events.JournalPath = getEnv("EVENTS_JOURNAL", cfg.Events.JournalPath)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
