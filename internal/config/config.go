// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.agentplane/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Server: listen address, CORS, proxy trust, rate limiting
//   - Storage: PostgreSQL connection (see storage.go)
//   - Search: vector collection and index parameters
//   - Runtime: agent runtime endpoint and identifier
//   - Observability: OTLP trace export (see observability.go)
//
// Security: sensitive values (passwords) are never logged; see
// MarshalJSON. Validation lives in validation.go and returns sentinel
// errors usable with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidServerAddr indicates the listen address is invalid.
	ErrInvalidServerAddr = errors.New("invalid server address")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingRegion indicates the cloud region is not set.
	ErrMissingRegion = errors.New("missing region")

	// ErrMissingCollection indicates the vector collection id is not set.
	ErrMissingCollection = errors.New("missing collection id")

	// ErrInvalidIndexName indicates the vector index name is invalid.
	ErrInvalidIndexName = errors.New("invalid index name")

	// ErrInvalidDimension indicates the vector dimension is out of range.
	ErrInvalidDimension = errors.New("invalid vector dimension")

	// ErrInvalidSimilarity indicates the similarity method is not supported.
	ErrInvalidSimilarity = errors.New("invalid similarity method")

	// ErrMissingRuntimeID indicates the agent runtime id is not set.
	ErrMissingRuntimeID = errors.New("missing runtime id")

	// ErrInvalidRuntimeURL indicates the agent runtime base URL is invalid.
	ErrInvalidRuntimeURL = errors.New("invalid runtime base URL")
)

// Similarity methods accepted for the vector index.
const (
	SimilarityL2           = "l2"
	SimilarityCosine       = "cosinesimil"
	SimilarityInnerProduct = "innerproduct"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// Server configuration
	ServerAddr  string   `mapstructure:"server_addr" json:"server_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Search configuration
	Region           string `mapstructure:"region" json:"region"`
	SearchEndpoint   string `mapstructure:"search_endpoint" json:"search_endpoint"`
	CollectionID     string `mapstructure:"collection_id" json:"collection_id"`
	IndexName        string `mapstructure:"index_name" json:"index_name"`
	VectorDimension  int    `mapstructure:"vector_dimension" json:"vector_dimension"`
	SimilarityMethod string `mapstructure:"similarity_method" json:"similarity_method"`
	Analyzer         string `mapstructure:"analyzer" json:"analyzer"`

	// Agent runtime configuration
	RuntimeBaseURL string `mapstructure:"runtime_base_url" json:"runtime_base_url"`
	RuntimeID      string `mapstructure:"runtime_id" json:"runtime_id"`

	// Observability configuration (see observability.go)
	Observability ObservabilityConfig `mapstructure:"observability" json:"observability"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".agentplane")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env take over.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server_addr", ":8080")
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 60)

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "agentplane")
	v.SetDefault("postgres_password", "agentplane_dev_password")
	v.SetDefault("postgres_db_name", "agentplane")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Search defaults
	v.SetDefault("region", "us-east-1")
	v.SetDefault("index_name", "knowledge-index")
	v.SetDefault("vector_dimension", 1024)
	v.SetDefault("similarity_method", SimilarityL2)
	v.SetDefault("analyzer", "standard")

	// Observability defaults
	v.SetDefault("observability.endpoint", "localhost:4318")
	v.SetDefault("observability.environment", "dev")
	v.SetDefault("observability.service_name", "agentplane")
	v.SetDefault("observability.enabled", false)
}

// bindEnvVariables binds environment overrides explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a failure here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("server_addr", "AGENTPLANE_ADDR")
	mustBind("cors_origins", "AGENTPLANE_CORS_ORIGINS")
	mustBind("trust_proxy", "AGENTPLANE_TRUST_PROXY")

	mustBind("region", "AWS_REGION")
	mustBind("search_endpoint", "AGENTPLANE_SEARCH_ENDPOINT")
	mustBind("collection_id", "AGENTPLANE_COLLECTION_ID")
	mustBind("index_name", "AGENTPLANE_INDEX_NAME")
	mustBind("vector_dimension", "AGENTPLANE_VECTOR_DIMENSION")

	mustBind("runtime_base_url", "AGENTPLANE_RUNTIME_BASE_URL")
	mustBind("runtime_id", "AGENTPLANE_RUNTIME_ID")

	mustBind("observability.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	mustBind("observability.enabled", "AGENTPLANE_TRACING_ENABLED")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are
// fully masked; longer ones keep two characters of context at each end.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking, so a dumped Config never carries credentials.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := *c
	masked.PostgresPassword = maskSecret(c.PostgresPassword)
	return json.Marshal((*alias)(&masked))
}
