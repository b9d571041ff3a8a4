package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Backend BackendConfig
	Server  ServerConfig
	Session SessionConfig
	Redis   RedisConfig
	NATS    NATSConfig
	Flow    FlowConfig
	Limits  LimitsConfig
}

type BackendConfig struct {
	BaseURL    string
	Timeout    time.Duration // 0 means no client-side timeout
	AuxTimeout time.Duration // fixed ceiling for the contact client
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type SessionConfig struct {
	Store     string // file, redis or memory
	FilePath  string
	KeyPrefix string
	ID        string // redis key suffix for the CLI session
}

type RedisConfig struct {
	URL string
	DB  int
}

type NATSConfig struct {
	URL string // empty disables event publishing
}

type FlowConfig struct {
	IdleTTL        time.Duration
	SearchFallback bool // serve the static catalog when availability lookup fails
}

// LimitsConfig throttles the portal per client address. Zero disables a
// limit.
type LimitsConfig struct {
	OTPPerWindow   int
	FlowsPerWindow int
	Window         time.Duration
}

// Load reads .env (if present) and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Backend: BackendConfig{
			BaseURL:    strings.TrimRight(getEnv("BACKEND_URL", "https://api.luxsuv.example"), "/"),
			Timeout:    getDuration("BACKEND_TIMEOUT", 0),
			AuxTimeout: getDuration("BACKEND_AUX_TIMEOUT", 10*time.Second),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 5*time.Second),
			WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:    getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		},
		Session: SessionConfig{
			Store:     getEnv("SESSION_STORE", "file"),
			FilePath:  getEnv("SESSION_FILE", defaultSessionFile()),
			KeyPrefix: getEnv("SESSION_KEY_PREFIX", "luxsuv:session:"),
			ID:        getEnv("SESSION_ID", "default"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
			DB:  getInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", ""),
		},
		Flow: FlowConfig{
			IdleTTL:        getDuration("FLOW_IDLE_TTL", 30*time.Minute),
			SearchFallback: getBool("FLOW_SEARCH_FALLBACK", true),
		},
		Limits: LimitsConfig{
			OTPPerWindow:   getInt("RATE_LIMIT_OTP", 5),
			FlowsPerWindow: getInt("RATE_LIMIT_FLOWS", 30),
			Window:         getDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		},
	}
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".luxsuv-session.json"
	}
	return dir + "/luxsuv/session.json"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
