package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Port           string
	MetricsAddress string

	// Storage: "postgres" or "memory"
	StoreDriver string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Auth (single operator account seeded from env)
	AdminUsername    string
	AdminPassword    string
	AdminDisplayName string
	AdminRole        string
	JWTSecret        string

	// Credential encryption, 32-byte hex
	EncryptionKey string

	// AI (OpenAI-compatible endpoint)
	AIAPIKey            string
	AIAPIURL            string
	AIModel             string
	AITimeout           time.Duration
	AIRequestsPerMinute int

	// Policy file; empty uses the embedded defaults
	PolicyPath string

	// Agent periods
	CollectInterval    time.Duration
	DetectInterval     time.Duration
	RecommendInterval  time.Duration
	ApprovalInterval   time.Duration
	RemediateInterval  time.Duration
	AuditInterval      time.Duration
	SupervisorInterval time.Duration

	// Circuit breakers and caps
	GlobalAlertCap    int
	PerServerAlertCap int
	DailyActionCap    int
	AlertTTL          time.Duration
	AIDetection       bool

	// Recommendation engine
	RecommendMinInterval time.Duration
	RecommendCacheTTL    time.Duration

	// Remediation
	MaxConcurrentExecutions int
	DefaultMaxExecution     time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8097"),
		MetricsAddress: getEnv("METRICS_ADDRESS", ":9097"),
		StoreDriver:    getEnv("STORE_DRIVER", "postgres"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "autoremedy"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		AdminUsername:    getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:    getEnv("ADMIN_PASSWORD", ""),
		AdminDisplayName: getEnv("ADMIN_DISPLAY_NAME", "Operator"),
		AdminRole:        getEnv("ADMIN_ROLE", "admin"),
		JWTSecret:        getEnv("JWT_SECRET", ""),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		AIAPIKey:            getEnv("AI_API_KEY", ""),
		AIAPIURL:            getEnv("AI_API_URL", "https://api.openai.com/v1"),
		AIModel:             getEnv("AI_MODEL", "gpt-4o-mini"),
		AITimeout:           getDuration("AI_TIMEOUT", 30*time.Second),
		AIRequestsPerMinute: getInt("AI_REQUESTS_PER_MINUTE", 20),

		PolicyPath: getEnv("POLICY_PATH", ""),

		CollectInterval:    getDuration("COLLECT_INTERVAL", 30*time.Second),
		DetectInterval:     getDuration("DETECT_INTERVAL", 60*time.Second),
		RecommendInterval:  getDuration("RECOMMEND_INTERVAL", 60*time.Second),
		ApprovalInterval:   getDuration("APPROVAL_INTERVAL", 30*time.Second),
		RemediateInterval:  getDuration("REMEDIATE_INTERVAL", 30*time.Second),
		AuditInterval:      getDuration("AUDIT_INTERVAL", 5*time.Minute),
		SupervisorInterval: getDuration("SUPERVISOR_INTERVAL", 30*time.Second),

		GlobalAlertCap:    getInt("GLOBAL_ALERT_CAP", 8),
		PerServerAlertCap: getInt("PER_SERVER_ALERT_CAP", 2),
		DailyActionCap:    getInt("DAILY_ACTION_CAP", 50),
		AlertTTL:          getDuration("ALERT_TTL", 24*time.Hour),
		AIDetection:       getBool("AI_DETECTION", true),

		RecommendMinInterval: getDuration("RECOMMEND_MIN_INTERVAL", 10*time.Minute),
		RecommendCacheTTL:    getDuration("RECOMMEND_CACHE_TTL", 30*time.Minute),

		MaxConcurrentExecutions: getInt("MAX_CONCURRENT_EXECUTIONS", 4),
		DefaultMaxExecution:     getDuration("DEFAULT_MAX_EXECUTION", 300*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}

// getDuration accepts Go durations ("90s", "10m") or plain seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
