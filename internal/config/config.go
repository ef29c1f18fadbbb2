package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	StateFile     string
	DatabaseURL   string
	RedisURL      string
	MigrationsDir string

	JWTSecret       string
	OperatorKeyHash string
	SessionTTL      time.Duration

	GatewayURL   string
	GatewayToken string
	GuildID      string

	ProvisionTimeout time.Duration
	DeleteGrace      time.Duration

	MeiliURL       string
	MeiliMasterKey string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	LedgerDir string

	CORSOrigin string
}

func Load() Config {
	return Config{
		Addr:          getenv("API_ADDR", ":8990"),
		StateFile:     getenv("MIDDLEMAN_STATE_FILE", "./data/tickets.json"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		RedisURL:      getenv("REDIS_URL", ""),
		MigrationsDir: getenv("MIDDLEMAN_MIGRATIONS_DIR", "./db/migrations"),

		JWTSecret:       getenv("MIDDLEMAN_JWT_SECRET", "middleman-dev-secret"),
		OperatorKeyHash: getenv("MIDDLEMAN_OPERATOR_KEY_HASH", ""),
		SessionTTL:      time.Duration(getenvInt("MIDDLEMAN_SESSION_TTL_SECONDS", 3600)) * time.Second,

		GatewayURL:   getenv("GATEWAY_URL", ""),
		GatewayToken: getenv("GATEWAY_TOKEN", ""),
		GuildID:      getenv("GUILD_ID", ""),

		ProvisionTimeout: time.Duration(getenvInt("MIDDLEMAN_PROVISION_TIMEOUT_SECONDS", 10)) * time.Second,
		DeleteGrace:      time.Duration(getenvInt("MIDDLEMAN_DELETE_GRACE_SECONDS", 30)) * time.Second,

		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),

		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "middleman-archive"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),

		LedgerDir: getenv("MIDDLEMAN_LEDGER_DIR", ""),

		CORSOrigin: getenv("MIDDLEMAN_CORS_ORIGIN", "*"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
