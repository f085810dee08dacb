package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	EtcdEndpoints     []string
	LeaderElectionTTL int
	APIPort           string

	// Dispatch
	LogDir        string
	MaxWorkers    int // 0 means one worker per logical CPU
	ExecutorGroup string

	// RunStore selects the run history backend: postgres, sqlite or none.
	RunStore   string
	SQLitePath string

	// Log archive (S3-compatible). Archiving is off when S3Bucket is empty.
	S3Bucket          string
	S3Prefix          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	NATSURL     string
	NATSSubject string

	LogLevel    string
	LogEncoding string

	OTelEnabled  bool
	OTelEndpoint string

	ScheduleManifests []string
}

func LoadConfig() *Config {
	return &Config{
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "cpdispatch"),
		DBPassword:        getEnv("DB_PASSWORD", "password"),
		DBName:            getEnv("DB_NAME", "cpdispatch"),
		RedisHost:         getEnv("REDIS_HOST", "localhost"),
		RedisPort:         getEnv("REDIS_PORT", "6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		EtcdEndpoints:     getEnvAsList("ETCD_ENDPOINTS", []string{"localhost:2379"}),
		LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),
		APIPort:           getEnv("API_PORT", "8080"),

		LogDir:        getEnv("LOG_DIR", "./logs"),
		MaxWorkers:    getEnvAsInt("MAX_WORKERS", 0),
		ExecutorGroup: getEnv("EXECUTOR_GROUP", "cpdispatch-executors"),

		RunStore:   getEnv("RUN_STORE", "sqlite"),
		SQLitePath: getEnv("SQLITE_PATH", "./cpdispatch.db"),

		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Prefix:          getEnv("S3_PREFIX", "logs/runs/"),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),

		NATSURL:     getEnv("NATS_URL", ""),
		NATSSubject: getEnv("NATS_SUBJECT", "cpdispatch.runs.completed"),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogEncoding: getEnv("LOG_ENCODING", "json"),

		OTelEnabled:  getEnvAsBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_ENDPOINT", "localhost:4318"),

		ScheduleManifests: getEnvAsList("SCHEDULE_MANIFESTS", nil),
	}
}

// PostgresDSN builds the connection string used by the postgres run store.
func (c *Config) PostgresDSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=disable TimeZone=UTC"
}

// RedisAddr returns host:port for the batch queue.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
