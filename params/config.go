package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Server struct {
	Addr           string
	AllowedOrigins []string
}

type Storage struct {
	DataDir string
}

type Queue struct {
	Concurrency int
	// RateLimit is the maximum number of job starts per RateWindow.
	RateLimit  int
	RateWindow time.Duration

	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Terminal job records are kept for observability and swept after
	// these windows expire.
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

type VenueParams struct {
	Name        string
	Fee         float64
	QuoteDelay  time.Duration
	VarianceMin float64
	VarianceMax float64
}

type Venues struct {
	Sims              []VenueParams
	ExecutionDelayMin time.Duration
	ExecutionDelayMax time.Duration
	DefaultSlippage   float64
}

type Bus struct {
	// Mode selects the status distribution backend: "memory" for a single
	// process, "gossip" for cross-instance fan-out over libp2p.
	Mode       string
	ListenAddr string
	Bootstrap  []string
}

type Logging struct {
	File string
}

type Config struct {
	Server  Server
	Storage Storage
	Queue   Queue
	Venues  Venues
	Bus     Bus
	Logging Logging
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Storage: Storage{
			DataDir: "data",
		},
		Queue: Queue{
			Concurrency:        10,
			RateLimit:          100,
			RateWindow:         time.Minute,
			MaxAttempts:        3,
			BackoffBase:        time.Second,
			BackoffCap:         10 * time.Second,
			CompletedRetention: 24 * time.Hour,
			FailedRetention:    7 * 24 * time.Hour,
		},
		Venues: Venues{
			Sims: []VenueParams{
				{Name: "Raydium", Fee: 0.003, QuoteDelay: 200 * time.Millisecond, VarianceMin: 0.98, VarianceMax: 1.02},
				{Name: "Meteora", Fee: 0.002, QuoteDelay: 200 * time.Millisecond, VarianceMin: 0.97, VarianceMax: 1.02},
			},
			ExecutionDelayMin: 2 * time.Second,
			ExecutionDelayMax: 3 * time.Second,
			DefaultSlippage:   0.01,
		},
		Bus: Bus{
			Mode: "memory",
		},
		Logging: Logging{
			File: "data/server.log",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.Logging.File = file
	}

	cfg.Queue.Concurrency = envInt("QUEUE_CONCURRENCY", cfg.Queue.Concurrency)
	cfg.Queue.RateLimit = envInt("QUEUE_RATE_LIMIT", cfg.Queue.RateLimit)
	cfg.Queue.RateWindow = envDurationMS("QUEUE_RATE_WINDOW_MS", cfg.Queue.RateWindow)
	cfg.Queue.MaxAttempts = envInt("QUEUE_MAX_ATTEMPTS", cfg.Queue.MaxAttempts)
	cfg.Queue.BackoffBase = envDurationMS("QUEUE_BACKOFF_BASE_MS", cfg.Queue.BackoffBase)
	cfg.Queue.BackoffCap = envDurationMS("QUEUE_BACKOFF_CAP_MS", cfg.Queue.BackoffCap)

	if mode := os.Getenv("BUS_MODE"); mode != "" {
		cfg.Bus.Mode = mode
	}
	if listen := os.Getenv("BUS_LISTEN"); listen != "" {
		cfg.Bus.ListenAddr = listen
	}
	if bootstrap := os.Getenv("BUS_BOOTSTRAP"); bootstrap != "" {
		cfg.Bus.Bootstrap = strings.Split(bootstrap, ",")
	}

	return cfg
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDurationMS(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
