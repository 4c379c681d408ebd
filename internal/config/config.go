package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration (job history)
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Render pipeline configuration
	Render RenderConfig `yaml:"render" json:"render"`

	// Persisted asset configuration
	Assets AssetConfig `yaml:"assets" json:"assets"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host" env:"LOOPFORGE_HOST"`
	Port            int           `yaml:"port" json:"port" env:"LOOPFORGE_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" env:"LOOPFORGE_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"LOOPFORGE_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"LOOPFORGE_SHUTDOWN_TIMEOUT"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies" env:"LOOPFORGE_TRUSTED_PROXIES"`

	// Auth requires a signed bearer token on the API when a secret is set
	Auth AuthConfig `yaml:"auth" json:"auth"`
}

// AuthConfig configures HS256 token verification for the HTTP API
type AuthConfig struct {
	Secret    string        `yaml:"secret" json:"-" env:"LOOPFORGE_AUTH_SECRET"`
	Issuer    string        `yaml:"issuer" json:"issuer" env:"LOOPFORGE_AUTH_ISSUER"`
	ClockSkew time.Duration `yaml:"clock_skew" json:"clock_skew" env:"LOOPFORGE_AUTH_CLOCK_SKEW"`
}

// DatabaseConfig describes where job history is kept
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"LOOPFORGE_DATABASE_TYPE"`
	URL             string        `yaml:"url" json:"url" env:"LOOPFORGE_DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"LOOPFORGE_POSTGRES_HOST"`
	Port            int           `yaml:"port" json:"port" env:"LOOPFORGE_POSTGRES_PORT"`
	Username        string        `yaml:"username" json:"username" env:"LOOPFORGE_POSTGRES_USER"`
	Password        string        `yaml:"password" json:"-" env:"LOOPFORGE_POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"LOOPFORGE_POSTGRES_DB"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"LOOPFORGE_DATA_DIR"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"LOOPFORGE_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"LOOPFORGE_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"LOOPFORGE_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"LOOPFORGE_DB_CONN_MAX_LIFETIME"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"LOOPFORGE_DB_LOG_QUERIES"`

	// HistoryRetention drops finished runs older than this at startup. Zero keeps everything.
	HistoryRetention time.Duration `yaml:"history_retention" json:"history_retention" env:"LOOPFORGE_HISTORY_RETENTION"`
}

// RenderConfig holds the render pipeline settings. Timeout, KillGrace and
// LogTailLines are applied to the scheduler on hot reload.
type RenderConfig struct {
	FFmpegPath           string        `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"LOOPFORGE_FFMPEG_PATH"`
	FFprobePath          string        `yaml:"ffprobe_path" json:"ffprobe_path" env:"LOOPFORGE_FFPROBE_PATH"`
	WorkDir              string        `yaml:"work_dir" json:"work_dir" env:"LOOPFORGE_WORK_DIR"`
	CommandLogDir        string        `yaml:"command_log_dir" json:"command_log_dir" env:"LOOPFORGE_COMMAND_LOG_DIR"`
	FontPath             string        `yaml:"font_path" json:"font_path" env:"LOOPFORGE_FONT_PATH"`
	Timeout              time.Duration `yaml:"timeout" json:"timeout" env:"LOOPFORGE_RENDER_TIMEOUT"`
	KillGrace            time.Duration `yaml:"kill_grace" json:"kill_grace" env:"LOOPFORGE_KILL_GRACE"`
	LogTailLines         int           `yaml:"log_tail_lines" json:"log_tail_lines" env:"LOOPFORGE_LOG_TAIL_LINES"`
	EventBuffer          int           `yaml:"event_buffer" json:"event_buffer" env:"LOOPFORGE_EVENT_BUFFER"`
	Threads              int           `yaml:"threads" json:"threads" env:"LOOPFORGE_THREADS"`
	DefaultBlendDuration time.Duration `yaml:"default_blend_duration" json:"default_blend_duration" env:"LOOPFORGE_DEFAULT_BLEND_DURATION"`
	BlendMaxColors       int           `yaml:"blend_max_colors" json:"blend_max_colors" env:"LOOPFORGE_BLEND_MAX_COLORS"`
	ProbeTimeout         time.Duration `yaml:"probe_timeout" json:"probe_timeout" env:"LOOPFORGE_PROBE_TIMEOUT"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" env:"LOOPFORGE_PROCESS_CLEANUP_INTERVAL"`
	MaxProcessAge        time.Duration `yaml:"max_process_age" json:"max_process_age" env:"LOOPFORGE_MAX_PROCESS_AGE"`
}

// AssetConfig holds asset management configuration
type AssetConfig struct {
	DataDir       string  `yaml:"data_dir" json:"data_dir" env:"LOOPFORGE_ASSETS_DIR"`
	EnablePosters bool    `yaml:"enable_posters" json:"enable_posters" env:"LOOPFORGE_ENABLE_POSTERS"`
	PosterQuality float32 `yaml:"poster_quality" json:"poster_quality" env:"LOOPFORGE_POSTER_QUALITY"`

	// Mirror copies every persisted asset to object storage
	Mirror MirrorConfig `yaml:"mirror" json:"mirror"`
}

// MirrorConfig selects the object storage backend for asset mirroring.
// An empty backend disables mirroring.
type MirrorConfig struct {
	Backend         string        `yaml:"backend" json:"backend" env:"LOOPFORGE_MIRROR_BACKEND"`
	Bucket          string        `yaml:"bucket" json:"bucket" env:"LOOPFORGE_MIRROR_BUCKET"`
	Prefix          string        `yaml:"prefix" json:"prefix" env:"LOOPFORGE_MIRROR_PREFIX"`
	Region          string        `yaml:"region" json:"region" env:"LOOPFORGE_MIRROR_REGION"`
	Endpoint        string        `yaml:"endpoint" json:"endpoint" env:"LOOPFORGE_MIRROR_ENDPOINT"`
	AccessKey       string        `yaml:"access_key" json:"-" env:"LOOPFORGE_MIRROR_ACCESS_KEY"`
	SecretKey       string        `yaml:"secret_key" json:"-" env:"LOOPFORGE_MIRROR_SECRET_KEY"`
	CredentialsFile string        `yaml:"credentials_file" json:"credentials_file" env:"LOOPFORGE_MIRROR_CREDENTIALS_FILE"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout" env:"LOOPFORGE_MIRROR_TIMEOUT"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOOPFORGE_LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"LOOPFORGE_LOG_FORMAT"`
	Output string `yaml:"output" json:"output" env:"LOOPFORGE_LOG_OUTPUT"`
}

// ConfigManager manages application configuration with hot-reload support
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	logger     hclog.Logger
	mu         sync.RWMutex
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config:   DefaultConfig(),
		watchers: make([]ConfigWatcher, 0),
		logger:   hclog.NewNullLogger(),
	}
}

// SetLogger replaces the logger used for load and reload messages.
func (cm *ConfigManager) SetLogger(logger hclog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cm.logger = logger.Named("config")
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			TrustedProxies:  []string{},
			Auth: AuthConfig{
				ClockSkew: 30 * time.Second,
			},
		},
		Database: DatabaseConfig{
			Type:             "sqlite",
			Host:             "localhost",
			Port:             5432,
			Username:         "loopforge",
			Database:         "loopforge",
			DataDir:          "./data",
			MaxOpenConns:     10,
			MaxIdleConns:     5,
			ConnMaxLifetime:  time.Hour,
			HistoryRetention: 30 * 24 * time.Hour,
		},
		Render: RenderConfig{
			FFmpegPath:           "ffmpeg",
			FFprobePath:          "ffprobe",
			Timeout:              5 * time.Minute,
			KillGrace:            3 * time.Second,
			LogTailLines:         20,
			EventBuffer:          64,
			Threads:              0, // Auto-detect
			DefaultBlendDuration: 3 * time.Second,
			BlendMaxColors:       256,
			ProbeTimeout:         15 * time.Second,
			CleanupInterval:      time.Minute,
			MaxProcessAge:        30 * time.Minute,
		},
		Assets: AssetConfig{
			EnablePosters: true,
			PosterQuality: 80,
			Mirror: MirrorConfig{
				Timeout: time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadConfig loads configuration from file and environment variables. The
// previous configuration stays active when the new one fails validation.
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()

	oldConfig := *cm.config

	// Start with default configuration
	newConfig := DefaultConfig()

	// Load from file if it exists
	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, newConfig); err != nil {
			cm.mu.Unlock()
			return fmt.Errorf("failed to load config from file: %w", err)
		}
		cm.logger.Info("configuration loaded from file", "path", configPath)
	}

	// Override with environment variables
	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	applyDerivedConfig(newConfig)

	if err := Validate(newConfig); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.configPath = configPath
	cm.config = newConfig
	watchers := append([]ConfigWatcher(nil), cm.watchers...)
	cm.mu.Unlock()

	// Watchers run outside the lock so they may call GetConfig.
	for _, watcher := range watchers {
		watcher(&oldConfig, cloneConfig(newConfig))
	}

	return nil
}

// Reload re-reads the file the configuration was last loaded from.
func (cm *ConfigManager) Reload() error {
	return cm.LoadConfig(cm.ConfigPath())
}

// ConfigPath returns the path of the last successfully loaded file.
func (cm *ConfigManager) ConfigPath() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cloneConfig(cm.config)
}

// AddWatcher adds a configuration change watcher
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

func cloneConfig(cfg *Config) *Config {
	c := *cfg
	c.Server.TrustedProxies = append([]string(nil), cfg.Server.TrustedProxies...)
	return &c
}

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// loadStructFromEnv overrides fields whose env variable is set. Unset
// variables leave file and default values untouched.
func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func applyDerivedConfig(config *Config) {
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "loopforge.db")
	}

	if config.Assets.DataDir == "" {
		config.Assets.DataDir = filepath.Join(config.Database.DataDir, "assets")
	}

	if config.Render.WorkDir == "" {
		config.Render.WorkDir = filepath.Join(os.TempDir(), "loopforge")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}
