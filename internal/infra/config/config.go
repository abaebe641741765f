package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env           string
	Server        ServerConfig
	DB            DBConfig
	KnowledgeBase KnowledgeBaseConfig
	Generation    GenerationConfig
	Throttle      ThrottleConfig
	Backoff       BackoffConfig
	Retrieval     RetrievalConfig
	Classifier    ClassifierConfig
	Auth          AuthConfig
	Mirror        MirrorConfig
	OTel          OTelConfig
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	MaxConns int32
	MinConns int32
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type KnowledgeBaseConfig struct {
	URL              string
	Timeout          time.Duration
	CacheSize        int
	CacheTTL         time.Duration
	FetchRPS         float64
	FetchConcurrency int
}

type GenerationConfig struct {
	URL string
	// Timeout bounds the whole request including the streamed body. Zero
	// leaves it unbounded; streams end on caller cancellation.
	Timeout time.Duration
}

type ThrottleConfig struct {
	MaxRequests   int
	Window        time.Duration
	SweepInterval time.Duration
}

type BackoffConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

type RetrievalConfig struct {
	MaxResults         int
	DirectResults      int
	MinRecommendation  int
	CandidatePool      int
	ClosenessThreshold float64
}

type ClassifierConfig struct {
	// HomeInstitution holds the home-institution tokens, name first.
	HomeInstitution []string
	Competitors     []string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	// AdminSubjects are token subjects allowed on the admin routes.
	AdminSubjects []string
}

type MirrorConfig struct {
	Path     string
	InMemory bool
}

type OTelConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

func Load() *Config {
	return &Config{
		Env: getEnv("ENV", "development"),
		Server: ServerConfig{
			Port:            getEnv("PORT", "9030"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "assistant-db"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "assistant_user"),
			Password: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "assistant_password"),
			Name:     getEnv("DB_NAME", "assistant_db"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 5)),
		},
		KnowledgeBase: KnowledgeBaseConfig{
			URL:              getEnv("KB_URL", "http://knowledge-base:8080"),
			Timeout:          getEnvDuration("KB_TIMEOUT", 10*time.Second),
			CacheSize:        getEnvInt("KB_CACHE_SIZE", 256),
			CacheTTL:         getEnvDuration("KB_CACHE_TTL", 10*time.Minute),
			FetchRPS:         getEnvFloat64("KB_FETCH_RPS", 20),
			FetchConcurrency: getEnvInt("KB_FETCH_CONCURRENCY", 4),
		},
		Generation: GenerationConfig{
			URL:     getEnv("GENERATION_URL", "http://generation:8000"),
			Timeout: getEnvDuration("GENERATION_TIMEOUT", 0),
		},
		Throttle: ThrottleConfig{
			MaxRequests:   getEnvInt("THROTTLE_MAX_REQUESTS", 10),
			Window:        getEnvDuration("THROTTLE_WINDOW", 60*time.Second),
			SweepInterval: getEnvDuration("THROTTLE_SWEEP_INTERVAL", 3*time.Minute),
		},
		Backoff: BackoffConfig{
			BaseDelay:  getEnvDuration("BACKOFF_BASE_DELAY", time.Second),
			MaxDelay:   getEnvDuration("BACKOFF_MAX_DELAY", 32*time.Second),
			MaxRetries: getEnvInt("BACKOFF_MAX_RETRIES", 5),
		},
		Retrieval: RetrievalConfig{
			MaxResults:         getEnvInt("RETRIEVAL_MAX_RESULTS", 5),
			DirectResults:      getEnvInt("RETRIEVAL_DIRECT_RESULTS", 3),
			MinRecommendation:  getEnvInt("RETRIEVAL_MIN_RECOMMENDATION", 2),
			CandidatePool:      getEnvInt("RETRIEVAL_CANDIDATE_POOL", 10),
			ClosenessThreshold: getEnvFloat64("RETRIEVAL_CLOSENESS_THRESHOLD", 30),
		},
		Classifier: ClassifierConfig{
			HomeInstitution: getEnvList("CLASSIFIER_HOME_INSTITUTION", nil),
			Competitors:     getEnvList("CLASSIFIER_COMPETITORS", nil),
		},
		Auth: AuthConfig{
			JWTSecret:     getSecret("AUTH_JWT_SECRET", "AUTH_JWT_SECRET_FILE", ""),
			Issuer:        getEnv("AUTH_ISSUER", "campus-identity"),
			AdminSubjects: getEnvList("AUTH_ADMIN_SUBJECTS", nil),
		},
		Mirror: MirrorConfig{
			Path:     getEnv("MIRROR_PATH", "/var/lib/campus-assistant/mirror"),
			InMemory: getEnvBool("MIRROR_IN_MEMORY", false),
		},
		OTel: OTelConfig{
			Enabled:     getEnvBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://otel-collector:4318"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "campus-assistant"),
			SampleRatio: getEnvFloat64("OTEL_SAMPLE_RATIO", 1.0),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}

	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat64(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

// getEnvList splits a comma-separated value.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
