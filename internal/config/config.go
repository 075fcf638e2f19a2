package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jgivc/modsync/internal/entity"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	StoreDriverBolt  = "bolt"
	StoreDriverRedis = "redis"

	// KeyHostingDirOverride is the distributor option that replaces the default hosting directory.
	KeyHostingDirOverride = "hosting_directory_override"

	EnvPrefix = "MODSYNC_"

	defaultBaseDir      = "/var/lib/modsync"
	defaultWorkers      = 4
	defaultPollInterval = time.Second
	defaultHTTPTimeout  = 5 * time.Minute
)

type SyncConfig struct {
	Workers       int           `yaml:"workers"`
	RemoveMissing bool          `yaml:"remove_missing"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver"`
	BoltPath string `yaml:"bolt_path"`
	RedisURL string `yaml:"redis_url"`
}

type HistoryConfig struct {
	DBFile string `yaml:"db_file"`
}

type PublishConfig struct {
	HostingDir    string `yaml:"hosting_dir"`
	Workers       int    `yaml:"workers"`
	IndexTemplate string `yaml:"index_template"`
}

type APIConfig struct {
	URL          string        `yaml:"url"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// S3Config configures s3:// feeds. Requests are anonymous unless an access key is set.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

type RepositoryConfig struct {
	ID          string              `yaml:"id"`
	Feed        string              `yaml:"feed"`
	Queries     []string            `yaml:"queries"`
	Distributor entity.PluginConfig `yaml:"distributor"`
}

func (r *RepositoryConfig) Repository() *entity.Repository {
	return &entity.Repository{
		ID:          r.ID,
		Feed:        r.Feed,
		Queries:     r.Queries,
		Distributor: r.Distributor,
	}
}

type Config struct {
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"`
	Listen       string             `yaml:"listen"`
	StorageDir   string             `yaml:"storage_dir"`
	TempDir      string             `yaml:"temp_dir"`
	Sync         SyncConfig         `yaml:"sync"`
	Store        StoreConfig        `yaml:"store"`
	History      HistoryConfig      `yaml:"history"`
	Publish      PublishConfig      `yaml:"publish"`
	API          APIConfig          `yaml:"api"`
	S3           S3Config           `yaml:"s3"`
	Repositories []RepositoryConfig `yaml:"repositories"`
}

func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}

	if c.Listen == "" {
		c.Listen = ":8080"
	}

	if c.StorageDir == "" {
		c.StorageDir = filepath.Join(defaultBaseDir, "content")
	}

	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}

	if c.Sync.Workers < 1 {
		c.Sync.Workers = defaultWorkers
	}

	if c.Sync.HTTPTimeout == 0 {
		c.Sync.HTTPTimeout = defaultHTTPTimeout
	}

	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverBolt
	}

	if c.Store.BoltPath == "" {
		c.Store.BoltPath = filepath.Join(defaultBaseDir, "units.db")
	}

	if c.History.DBFile == "" {
		c.History.DBFile = filepath.Join(defaultBaseDir, "history.db")
	}

	if c.Publish.HostingDir == "" {
		c.Publish.HostingDir = filepath.Join(defaultBaseDir, "published")
	}

	if c.Publish.Workers < 1 {
		c.Publish.Workers = defaultWorkers
	}

	if c.API.PollInterval == 0 {
		c.API.PollInterval = defaultPollInterval
	}

	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
}

// applyEnv overrides selected fields from MODSYNC_* variables.
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"LOG_LEVEL":     &c.LogLevel,
		"LISTEN":        &c.Listen,
		"STORAGE_DIR":   &c.StorageDir,
		"REDIS_URL":     &c.Store.RedisURL,
		"STORE":         &c.Store.Driver,
		"HOSTING_DIR":   &c.Publish.HostingDir,
		"API_URL":       &c.API.URL,
		"API_USER":      &c.API.Username,
		"API_PASS":      &c.API.Password,
		"S3_ENDPOINT":   &c.S3.Endpoint,
		"S3_ACCESS_KEY": &c.S3.AccessKeyID,
		"S3_SECRET_KEY": &c.S3.SecretAccessKey,
	}

	for name, field := range overrides {
		if v, exists := os.LookupEnv(EnvPrefix + name); exists {
			*field = v
		}
	}

	// The standard AWS variables apply when no key is configured.
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); c.S3.AccessKeyID == "" && key != "" {
		c.S3.AccessKeyID = key
		c.S3.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		c.S3.SessionToken = os.Getenv("AWS_SESSION_TOKEN")
	}
}

func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("unknown log level: %s", c.LogLevel)
	}

	switch c.Store.Driver {
	case StoreDriverBolt:
	case StoreDriverRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis store requires redis_url")
		}
	default:
		return fmt.Errorf("unknown store driver: %s", c.Store.Driver)
	}

	seen := make(map[string]struct{}, len(c.Repositories))
	for i, repo := range c.Repositories {
		if repo.ID == "" {
			return fmt.Errorf("repository %d has no id", i)
		}

		if !entity.ValidRepositoryID(repo.ID) {
			return fmt.Errorf("invalid repository id %q: allowed characters are letters, digits and _.-", repo.ID)
		}

		if _, exists := seen[repo.ID]; exists {
			return fmt.Errorf("duplicate repository id: %s", repo.ID)
		}
		seen[repo.ID] = struct{}{}
	}

	return nil
}

func (c *Config) RepositoryByID(id string) (*RepositoryConfig, bool) {
	for i := range c.Repositories {
		if c.Repositories[i].ID == id {
			return &c.Repositories[i], true
		}
	}

	return nil, false
}

// Parse decodes a YAML document, then applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}

	cfg.normalize()
	cfg.SetDefaults()

	return &cfg, nil
}

/*
Load reads the config file at path. A .env file next to it (or in the working
directory) is loaded first, then MODSYNC_* variables override file values.
*/
func Load(path string) (*Config, error) {
	for _, envFile := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("cannot load env file %s: %w", envFile, err)
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// normalize converts nested maps produced by yaml.v2 into string keyed maps.
func (c *Config) normalize() {
	for i := range c.Repositories {
		for k, v := range c.Repositories[i].Distributor {
			c.Repositories[i].Distributor[k] = normalizeValue(v)
		}
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}

		return out
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}

		return t
	}

	return v
}
