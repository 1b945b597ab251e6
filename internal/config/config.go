// Package config loads runtime configuration from the environment,
// with .env support for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	Env      string
	Model    string
	APIKey   string
	Engine   EngineConfig
	Styles   StylesConfig
	Artifact ArtifactConfig
}

// EngineConfig carries the generation policy knobs. Defaults are
// applied by the engine itself when a field is zero.
type EngineConfig struct {
	MaxRetries   int
	BackoffBase  time.Duration
	RequestDelay time.Duration
}

type StylesConfig struct {
	Path  string
	PGDSN string
}

type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = ":8080"
	} else if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	model := strings.TrimSpace(os.Getenv("STYLEFORGE_MODEL"))
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &Config{
		Port:   port,
		Env:    env,
		Model:  model,
		APIKey: strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Engine: EngineConfig{
			MaxRetries:   envInt("GEN_MAX_RETRIES", 0),
			BackoffBase:  envDuration("GEN_BACKOFF_BASE", 0),
			RequestDelay: envDuration("GEN_REQUEST_DELAY", 0),
		},
		Styles: StylesConfig{
			Path:  firstNonEmpty(strings.TrimSpace(os.Getenv("STYLES_PATH")), "tmp/saved_styles.json"),
			PGDSN: strings.TrimSpace(os.Getenv("STYLES_PG_DSN")),
		},
		Artifact: loadArtifactConfig(),
	}, nil
}

func loadArtifactConfig() ArtifactConfig {
	endpoint := strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT"))
	return ArtifactConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "styleforge-guides"),
		UseSSL:    envBool("ARTIFACT_S3_USE_SSL", false),
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
