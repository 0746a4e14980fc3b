package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the api, gateway and messaging apps.
type Config struct {
	Env         string
	Port        string
	GatewayPort string
	LogLevel    string
	JWTSecret   string

	// SyncSecret is shared with the identity provider; /auth/sync requires
	// it in the X-Sync-Secret header. Only development may leave it empty.
	SyncSecret string

	// Storage
	StoreBackend   string // memory, postgres or scylla
	DatabaseURL    string
	ScyllaHosts    []string
	ScyllaKeyspace string

	// Typing indicators live in the entity store or in Redis.
	TypingBackend string
	RedisAddr     string

	// Event bus: kafka or none. With none the api emits nothing.
	EventBus          string
	KafkaBrokers      []string
	KafkaCommandTopic string
	KafkaEventTopic   string
	KafkaGroupID      string

	// NodeID seeds the snowflake generator of a messaging worker and
	// APINodeID that of an api process. Every process minting message ids
	// needs its own node; the defaults sit in separate halves of the range.
	NodeID    int64
	APINodeID int64
}

// Load reads configuration from environment variables, loading a .env file
// first when one exists. It panics in production when the signing secret
// is missing.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Env:               getEnv("ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		GatewayPort:       getEnv("GATEWAY_PORT", "8081"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		SyncSecret:        os.Getenv("SYNC_SECRET"),
		StoreBackend:      getEnv("STORE_BACKEND", "memory"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		ScyllaHosts:       splitList(getEnv("SCYLLA_HOSTS", "localhost:9042")),
		ScyllaKeyspace:    getEnv("SCYLLA_KEYSPACE", "chat"),
		TypingBackend:     getEnv("TYPING_BACKEND", "store"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		EventBus:          getEnv("EVENT_BUS", "none"),
		KafkaBrokers:      splitList(getEnv("KAFKA_BROKERS", "localhost:19092")),
		KafkaCommandTopic: getEnv("KAFKA_COMMAND_TOPIC", "chat-commands"),
		KafkaEventTopic:   getEnv("KAFKA_EVENT_TOPIC", "chat-events"),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "messaging-service-group"),
	}

	cfg.NodeID = parseNode("NODE_ID", "1")
	cfg.APINodeID = parseNode("API_NODE_ID", "512")
	if cfg.NodeID == cfg.APINodeID {
		panic("NODE_ID and API_NODE_ID must differ")
	}

	if cfg.JWTSecret == "" {
		if cfg.Env == "production" {
			panic("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = "dev-secret-change-me"
	}
	if cfg.SyncSecret == "" && !cfg.IsDevelopment() {
		panic("SYNC_SECRET is required outside development")
	}
	if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
		panic("DATABASE_URL is required for the postgres store")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseNode(key, defaultValue string) int64 {
	n, err := strconv.ParseInt(getEnv(key, defaultValue), 10, 64)
	if err != nil {
		panic(key + " must be an integer")
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
