package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed config.example.toml
var exampleConf []byte

// DefaultUserAgent is sent on every Label Studio request unless overridden.
const DefaultUserAgent = "ai-data-platform-mini/0.1"

// Config represents the application configuration loaded from a TOML (or YAML) file.
//
// It is built once at startup and shared by pointer; nothing mutates it after [Config.ApplyEnv].
type Config struct {
	LabelStudio LabelStudioConfig `toml:"labelstudio" yaml:"labelstudio"`
	Database    DatabaseConfig    `toml:"database" yaml:"database"`
	Queue       QueueConfig       `toml:"queue" yaml:"queue"`
	Artifacts   ArtifactsConfig   `toml:"artifacts" yaml:"artifacts"`
	Server      ServerConfig      `toml:"server" yaml:"server"`
	Export      ExportConfig      `toml:"export" yaml:"export"`
	Log         LogConfig         `toml:"log" yaml:"log"`
}

// LabelStudioConfig contains the external labeling service endpoint and credentials.
type LabelStudioConfig struct {
	BaseURL      string        `toml:"base_url" yaml:"base_url"`
	ProjectID    int64         `toml:"project_id" yaml:"project_id"`
	APIToken     string        `toml:"api_token" yaml:"api_token"` // Personal Access Token (refresh JWT)
	UserAgent    string        `toml:"user_agent" yaml:"user_agent"`
	PollInterval time.Duration `toml:"poll_interval" yaml:"poll_interval"`
	PollAttempts int           `toml:"poll_attempts" yaml:"poll_attempts"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" yaml:"path"`
	MaxOpenConns int    `toml:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns" yaml:"max_idle_conns"`
}

// QueueConfig selects and configures the job queue backend.
type QueueConfig struct {
	Backend string      `toml:"backend" yaml:"backend"` // memory, redis, nats
	Workers int         `toml:"workers" yaml:"workers"`
	Redis   RedisConfig `toml:"redis" yaml:"redis"`
	NATS    NATSConfig  `toml:"nats" yaml:"nats"`
}

// RedisConfig contains Redis list queue settings.
type RedisConfig struct {
	Addr     string `toml:"addr" yaml:"addr"`
	Password string `toml:"password" yaml:"password"`
	DB       int    `toml:"db" yaml:"db"`
	Key      string `toml:"key" yaml:"key"`
}

// NATSConfig contains JetStream queue settings.
type NATSConfig struct {
	URL      string `toml:"url" yaml:"url"`
	Stream   string `toml:"stream" yaml:"stream"`
	Subject  string `toml:"subject" yaml:"subject"`
	Consumer string `toml:"consumer" yaml:"consumer"`
}

// ArtifactsConfig selects where export snapshots are written.
type ArtifactsConfig struct {
	Backend string      `toml:"backend" yaml:"backend"` // none, local, minio
	Dir     string      `toml:"dir" yaml:"dir"`
	MinIO   MinIOConfig `toml:"minio" yaml:"minio"`
}

// MinIOConfig contains S3-compatible object storage settings.
type MinIOConfig struct {
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	AccessKey string `toml:"access_key" yaml:"access_key"`
	SecretKey string `toml:"secret_key" yaml:"secret_key"`
	Bucket    string `toml:"bucket" yaml:"bucket"`
	UseSSL    bool   `toml:"use_ssl" yaml:"use_ssl"`
	BasePath  string `toml:"base_path" yaml:"base_path"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host      string        `toml:"host" yaml:"host"`
	Port      int           `toml:"port" yaml:"port"`
	JWTSecret string        `toml:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL  time.Duration `toml:"token_ttl" yaml:"token_ttl"`
	Users     []UserConfig  `toml:"users" yaml:"users"`
}

// UserConfig is a static platform account. PasswordHash is a bcrypt hash.
type UserConfig struct {
	Username     string `toml:"username" yaml:"username"`
	Role         string `toml:"role" yaml:"role"`
	PasswordHash string `toml:"password_hash" yaml:"password_hash"`
}

// ExportConfig tunes the export runner.
type ExportConfig struct {
	RateLimit float64 `toml:"rate_limit" yaml:"rate_limit"` // task fetches per second
}

// LogConfig sets the log level name (debug, info, warn, error).
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// LoadConfig reads and parses a configuration file from the specified path.
//
// Files ending in .yaml or .yml are decoded as YAML, everything else as TOML.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.LabelStudio.BaseURL = strings.TrimRight(config.LabelStudio.BaseURL, "/")
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays the deployment environment variables used by the labeling stack.
//
// Unset variables leave the file values in place.
func (c *Config) ApplyEnv() error {
	if v := strings.TrimSpace(os.Getenv("LS_BASE_URL")); v != "" {
		c.LabelStudio.BaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("LS_PROJECT_ID")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: LS_PROJECT_ID must be an integer: %v", ErrInvalidConfig, err)
		}
		c.LabelStudio.ProjectID = id
	}
	if v := strings.TrimSpace(os.Getenv("LS_API_TOKEN")); v != "" {
		c.LabelStudio.APIToken = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_PATH")); v != "" {
		c.Database.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		c.Queue.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("NATS_URL")); v != "" {
		c.Queue.NATS.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("JWT_SECRET")); v != "" {
		c.Server.JWTSecret = v
	}
	return nil
}

// ValidateLabelStudio checks that the external service section is usable before any network call.
func (c *Config) ValidateLabelStudio() error {
	ls := c.LabelStudio
	if ls.BaseURL == "" {
		return fmt.Errorf("%w: labelstudio.base_url (LS_BASE_URL) is empty", ErrMissingConfig)
	}
	if ls.ProjectID <= 0 {
		return fmt.Errorf("%w: labelstudio.project_id (LS_PROJECT_ID) must be positive", ErrInvalidConfig)
	}
	if ls.APIToken == "" {
		return fmt.Errorf("%w: labelstudio.api_token (LS_API_TOKEN) is empty", ErrMissingCredentials)
	}
	return ValidateRefreshToken(ls.APIToken)
}

// ValidateServer checks the HTTP server section.
func (c *Config) ValidateServer() error {
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("%w: server.jwt_secret is empty", ErrMissingConfig)
	}
	for _, u := range c.Server.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return fmt.Errorf("%w: server.users entries need username and password_hash", ErrInvalidConfig)
		}
		if u.Role != "admin" && u.Role != "annotator" {
			return fmt.Errorf("%w: unknown role %q for user %s", ErrInvalidConfig, u.Role, u.Username)
		}
	}
	return nil
}

// ValidateRefreshToken rejects credentials that are not three-segment JWTs.
func ValidateRefreshToken(tok string) error {
	if strings.Count(tok, ".") != 2 {
		return fmt.Errorf(
			"%w: LS_API_TOKEN does not look like a JWT refresh token; "+
				"copy the Personal Access Token (refresh JWT) from the Label Studio UI",
			ErrInvalidCredentials,
		)
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
