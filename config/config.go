package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yeremiapane/qrtable/utils"
)

// Config is read once at start-up from the environment, optionally seeded from a .env file.
type Config struct {
	Port      string
	GinMode   string
	LogLevel  string
	DBDriver  string
	DBDSN     string
	JWTSecret string

	CORSOrigin string

	SessionDefaultHours         int
	SessionInitialHorizonHours  int
	SessionCreateHonorsDuration bool
	SessionVerifyEnforcesExpiry bool
	SessionSweepInterval        time.Duration

	BroadcastScope          string
	OrderEnforceTransitions bool

	OTLPEndpoint string
	OTLPInsecure bool
}

// Load reads envFile (when it exists) and then the process environment. Variables already set
// in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("loading %s: %w", envFile, err)
			}
			utils.InfoLogger.Printf("Warning: %s not found, using environment only", envFile)
		}
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		GinMode:      getEnv("GIN_MODE", "debug"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DBDriver:     strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		DBDSN:        os.Getenv("DB_DSN"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		CORSOrigin:   getEnv("CORS_ORIGIN", "*"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.SessionDefaultHours, err = getInt("SESSION_DEFAULT_HOURS", 24); err != nil {
		return nil, err
	}
	if cfg.SessionInitialHorizonHours, err = getInt("SESSION_INITIAL_HORIZON_HOURS", 87600); err != nil {
		return nil, err
	}
	if cfg.SessionCreateHonorsDuration, err = getBool("SESSION_CREATE_HONORS_DURATION", false); err != nil {
		return nil, err
	}
	if cfg.SessionVerifyEnforcesExpiry, err = getBool("SESSION_VERIFY_ENFORCES_EXPIRY", false); err != nil {
		return nil, err
	}
	if cfg.SessionSweepInterval, err = getDuration("SESSION_SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.OrderEnforceTransitions, err = getBool("ORDER_ENFORCE_TRANSITIONS", false); err != nil {
		return nil, err
	}
	if cfg.OTLPInsecure, err = getBool("OTEL_EXPORTER_OTLP_INSECURE", false); err != nil {
		return nil, err
	}

	cfg.BroadcastScope = strings.ToLower(getEnv("BROADCAST_SCOPE", "all"))
	if cfg.BroadcastScope != "all" && cfg.BroadcastScope != "restaurant" {
		return nil, fmt.Errorf("BROADCAST_SCOPE must be all or restaurant, got %q", cfg.BroadcastScope)
	}
	if cfg.SessionDefaultHours <= 0 || cfg.SessionInitialHorizonHours <= 0 {
		return nil, fmt.Errorf("session durations must be positive")
	}

	return cfg, nil
}

func (c *Config) SessionDefaultDuration() time.Duration {
	return time.Duration(c.SessionDefaultHours) * time.Hour
}

func (c *Config) SessionInitialHorizon() time.Duration {
	return time.Duration(c.SessionInitialHorizonHours) * time.Hour
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
