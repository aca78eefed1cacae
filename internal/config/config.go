// Package config manages ONA API configuration from multiple sources.
//
// Precedence, lowest first: built-in defaults, the YAML file named by
// --config or ONA_CONFIG, .env files, then ONA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ONA_"

// Mu guards runtime-reloadable fields of a loaded Config.
var Mu sync.RWMutex

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	License LicenseConfig `yaml:"license"`
	Graph   GraphConfig   `yaml:"graph"`
	Quota   QuotaConfig   `yaml:"quota"`
	Archive ArchiveConfig `yaml:"archive"`
	Ingest  IngestConfig  `yaml:"ingest"`

	// Path of the YAML file the config was loaded from, if any.
	FilePath string `yaml:"-"`
	// Track which settings are overridden by environment variables
	EnvOverrides map[string]bool `yaml:"-"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

type LicenseConfig struct {
	Store              string `yaml:"store"` // sqlite or postgres
	SQLitePath         string `yaml:"sqlite_path"`
	PostgresDSN        string `yaml:"postgres_dsn"`
	UnknownLimitPolicy string `yaml:"unknown_limit_policy"` // deny or allow
	AdminTokenHash     string `yaml:"admin_token_hash"`     // bcrypt hash
}

type GraphConfig struct {
	Store            string        `yaml:"store"` // memory or neo4j
	Neo4jURI         string        `yaml:"neo4j_uri"`
	Neo4jUser        string        `yaml:"neo4j_user"`
	Neo4jPassword    string        `yaml:"neo4j_password"`
	Neo4jDatabase    string        `yaml:"neo4j_database"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
	AlgorithmTimeout time.Duration `yaml:"algorithm_timeout"`
	FetchLimit       int           `yaml:"fetch_limit"`
	CliqueMaxNodes   int           `yaml:"clique_max_nodes"`
	CliqueMaxResults int           `yaml:"clique_max_results"`
	EigenMaxIter     int           `yaml:"eigen_max_iter"`
	CommunitySeed    uint64        `yaml:"community_seed"`
}

type QuotaConfig struct {
	RedisURL string `yaml:"redis_url"` // empty keeps counters in memory
}

type ArchiveConfig struct {
	Backend     string `yaml:"backend"` // none, local or s3
	Dir         string `yaml:"dir"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Prefix    string `yaml:"s3_prefix"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
}

type IngestConfig struct {
	MaxUploadMB int           `yaml:"max_upload_mb"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// AllowPrivateSources lets http sources reach loopback, private and
	// link-local addresses. Off outside of local development.
	AllowPrivateSources bool `yaml:"allow_private_sources"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8000,
			MetricsAddr:       ":9091",
			AllowedOrigins:    []string{"http://localhost:5173"},
			ReadHeaderTimeout: 15 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "auto", MaxSizeMB: 100},
		License: LicenseConfig{
			Store:              "sqlite",
			SQLitePath:         "data/licenses.db",
			UnknownLimitPolicy: "deny",
		},
		Graph: GraphConfig{
			Store:            "memory",
			Neo4jURI:         "bolt://localhost:7687",
			Neo4jUser:        "neo4j",
			Neo4jDatabase:    "neo4j",
			QueryTimeout:     15 * time.Second,
			AlgorithmTimeout: 30 * time.Second,
			FetchLimit:       10000,
			CliqueMaxNodes:   5000,
			CliqueMaxResults: 100000,
			EigenMaxIter:     1000,
			CommunitySeed:    42,
		},
		Archive:      ArchiveConfig{Backend: "none", Dir: "data/uploads", S3Region: "us-east-1", S3Prefix: "uploads/"},
		Ingest:       IngestConfig{MaxUploadMB: 32, HTTPTimeout: 30 * time.Second},
		EnvOverrides: make(map[string]bool),
	}
}

// Load builds the configuration. path may be empty, in which case ONA_CONFIG
// is consulted; a missing default file is not an error.
func Load(path string) (*Config, error) {
	loadDotEnv()

	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadDotEnv() {
	dataDir := os.Getenv(EnvPrefix + "DATA_DIR")
	if dataDir != "" {
		envFile := filepath.Join(dataDir, ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
			} else {
				log.Info().Str("file", envFile).Msg("Loaded .env file for deployment overrides")
			}
		}
	}
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
	}
	c.FilePath = path
	log.Info().Str("path", path).Msg("Loaded configuration file")
	return nil
}

func (c *Config) applyEnv() {
	if c.EnvOverrides == nil {
		c.EnvOverrides = make(map[string]bool)
	}
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
			c.EnvOverrides[key] = true
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				c.EnvOverrides[key] = true
			} else {
				log.Warn().Str("key", EnvPrefix+key).Str("value", v).Msg("Ignoring non-numeric environment override")
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
				c.EnvOverrides[key] = true
			} else {
				log.Warn().Str("key", EnvPrefix+key).Str("value", v).Msg("Ignoring invalid duration override")
			}
		}
	}

	str("HOST", &c.Server.Host)
	num("PORT", &c.Server.Port)
	str("METRICS_ADDR", &c.Server.MetricsAddr)
	if v := os.Getenv(EnvPrefix + "ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
		c.EnvOverrides["ALLOWED_ORIGINS"] = true
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)

	str("LICENSE_STORE", &c.License.Store)
	str("LICENSE_SQLITE_PATH", &c.License.SQLitePath)
	str("LICENSE_POSTGRES_DSN", &c.License.PostgresDSN)
	str("UNKNOWN_LIMIT_POLICY", &c.License.UnknownLimitPolicy)
	str("ADMIN_TOKEN_HASH", &c.License.AdminTokenHash)

	str("GRAPH_STORE", &c.Graph.Store)
	str("NEO4J_URI", &c.Graph.Neo4jURI)
	str("NEO4J_USER", &c.Graph.Neo4jUser)
	str("NEO4J_PASSWORD", &c.Graph.Neo4jPassword)
	str("NEO4J_DATABASE", &c.Graph.Neo4jDatabase)
	dur("GRAPH_QUERY_TIMEOUT", &c.Graph.QueryTimeout)
	dur("GRAPH_ALGORITHM_TIMEOUT", &c.Graph.AlgorithmTimeout)
	num("GRAPH_FETCH_LIMIT", &c.Graph.FetchLimit)
	num("CLIQUE_MAX_NODES", &c.Graph.CliqueMaxNodes)
	num("CLIQUE_MAX_RESULTS", &c.Graph.CliqueMaxResults)

	str("REDIS_URL", &c.Quota.RedisURL)

	str("ARCHIVE_BACKEND", &c.Archive.Backend)
	str("ARCHIVE_DIR", &c.Archive.Dir)
	str("S3_BUCKET", &c.Archive.S3Bucket)
	str("S3_REGION", &c.Archive.S3Region)
	str("S3_ENDPOINT", &c.Archive.S3Endpoint)
	str("S3_ACCESS_KEY", &c.Archive.S3AccessKey)
	str("S3_SECRET_KEY", &c.Archive.S3SecretKey)

	num("MAX_UPLOAD_MB", &c.Ingest.MaxUploadMB)
	dur("INGEST_HTTP_TIMEOUT", &c.Ingest.HTTPTimeout)
	if v := os.Getenv(EnvPrefix + "ALLOW_PRIVATE_SOURCES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Ingest.AllowPrivateSources = b
			c.EnvOverrides["ALLOW_PRIVATE_SOURCES"] = true
		} else {
			log.Warn().Str("key", EnvPrefix+"ALLOW_PRIVATE_SOURCES").Str("value", v).Msg("Ignoring invalid boolean override")
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Server.Port))
	}
	switch c.License.Store {
	case "sqlite":
		if c.License.SQLitePath == "" {
			errs = append(errs, errors.New("license.sqlite_path is required for the sqlite store"))
		}
	case "postgres":
		if c.License.PostgresDSN == "" {
			errs = append(errs, errors.New("license.postgres_dsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown license store %q", c.License.Store))
	}
	switch strings.ToLower(c.License.UnknownLimitPolicy) {
	case "", "deny", "allow", "unlimited":
	default:
		errs = append(errs, fmt.Errorf("unknown_limit_policy must be deny or allow, got %q", c.License.UnknownLimitPolicy))
	}
	switch c.Graph.Store {
	case "memory":
	case "neo4j":
		if c.Graph.Neo4jURI == "" {
			errs = append(errs, errors.New("graph.neo4j_uri is required for the neo4j store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown graph store %q", c.Graph.Store))
	}
	if c.Graph.QueryTimeout <= 0 || c.Graph.AlgorithmTimeout <= 0 {
		errs = append(errs, errors.New("graph timeouts must be positive"))
	}
	switch c.Archive.Backend {
	case "", "none", "local":
	case "s3":
		if c.Archive.S3Bucket == "" {
			errs = append(errs, errors.New("archive.s3_bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive backend %q", c.Archive.Backend))
	}
	return errors.Join(errs...)
}
