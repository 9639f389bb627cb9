// Package config builds the mirror server's typed Config by deep-merging
// built-in defaults, an optional settings.json file, and environment
// variable overrides, in that order, replacing the ad-hoc config-dict
// pattern the design notes call out.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// DBConfig selects and parametrizes the metadata-store backend.
type DBConfig struct {
	Type        string `json:"type" yaml:"type"` // "bolt" or "sqlite"
	Path        string `json:"path" yaml:"path"`
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	Name        string `json:"name" yaml:"name"`
	User        string `json:"user" yaml:"user"`
	Pass        string `json:"pass" yaml:"pass"`
	ConnStr     string `json:"conn_str" yaml:"conn_str"`
	TablePrefix string `json:"table_prefix" yaml:"table_prefix"`
	PoolSize    int    `json:"pool_size" yaml:"pool_size"`
	RecycleSecs int    `json:"recycle_secs" yaml:"recycle_secs"`
}

// ServerConfig holds HTTP listener and auth knobs.
type ServerConfig struct {
	ListenAddr       string        `json:"listen_addr" yaml:"listen_addr"`
	BaseDir          string        `json:"base_dir" yaml:"base_dir"`
	MaxUploadSize    int64         `json:"max_upload_size" yaml:"max_upload_size"`
	GracefulTimeout  time.Duration `json:"graceful_timeout" yaml:"graceful_timeout"`
	DirectoryListing bool          `json:"directory_listing" yaml:"directory_listing"`
	SessionSecret    string        `json:"session_secret" yaml:"session_secret"`
	StaticUser       string        `json:"static_user" yaml:"static_user"`
	StaticPass       string        `json:"static_pass" yaml:"static_pass"`
	CORSOrigins      []string      `json:"cors_origins" yaml:"cors_origins"`
	RateLimitPerMin  int           `json:"rate_limit_per_min" yaml:"rate_limit_per_min"`
	IPAllowList      []string      `json:"ip_allow_list" yaml:"ip_allow_list"`
}

// CacheConfig holds content-store TTL and sweep knobs.
type CacheConfig struct {
	DefaultTTL       time.Duration `json:"default_ttl" yaml:"default_ttl"`
	ArtifactTTL      time.Duration `json:"artifact_ttl" yaml:"artifact_ttl"`
	SweepInterval    time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	S3Bucket         string        `json:"s3_bucket" yaml:"s3_bucket"`
	S3Prefix         string        `json:"s3_prefix" yaml:"s3_prefix"`
	S3ForcePathStyle bool          `json:"s3_force_path_style" yaml:"s3_force_path_style"`
}

// SyncConfig holds scheduler loop intervals.
type SyncConfig struct {
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`
	ScanInterval time.Duration `json:"scan_interval" yaml:"scan_interval"`
}

// HealthConfig holds upstream-probe knobs.
type HealthConfig struct {
	Interval         time.Duration `json:"interval" yaml:"interval"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
}

// MonitorConfig holds the resource-sampler interval.
type MonitorConfig struct {
	SampleInterval time.Duration `json:"sample_interval" yaml:"sample_interval"`
}

// MirrorSource is one configured upstream for an ecosystem. Ecosystems with
// several mirrors list them in priority order; index 0 is primary until the
// failover manager (4.G) promotes another.
type MirrorSource struct {
	Ecosystem    string `json:"ecosystem" yaml:"ecosystem"`
	Name         string `json:"name" yaml:"name"`
	UpstreamBase string `json:"upstream_base" yaml:"upstream_base"`
	Priority     int    `json:"priority" yaml:"priority"`
	// UpstreamUser/UpstreamPass, when set, are sent as HTTP Basic auth on
	// calls to this source's upstream only — never forwarded to clients.
	UpstreamUser string `json:"upstream_user,omitempty" yaml:"upstream_user,omitempty"`
	UpstreamPass string `json:"upstream_pass,omitempty" yaml:"upstream_pass,omitempty"`
}

// Config is the fully merged, read-only configuration record.
type Config struct {
	DB      DBConfig       `json:"db" yaml:"db"`
	Server  ServerConfig   `json:"server" yaml:"server"`
	Cache   CacheConfig    `json:"cache" yaml:"cache"`
	Sync    SyncConfig     `json:"sync" yaml:"sync"`
	Health  HealthConfig   `json:"health" yaml:"health"`
	Monitor MonitorConfig  `json:"monitor" yaml:"monitor"`
	Mirrors []MirrorSource `json:"mirrors" yaml:"mirrors"`
}

// Defaults returns the built-in baseline configuration.
func Defaults() Config {
	return Config{
		DB: DBConfig{
			Type:        "bolt",
			Path:        "data/metadata.db",
			TablePrefix: "mirror_",
			PoolSize:    8,
			RecycleSecs: 300,
		},
		Server: ServerConfig{
			ListenAddr:       ":8080",
			BaseDir:          "data/store",
			MaxUploadSize:    5 << 30, // 5 GiB
			GracefulTimeout:  30 * time.Second,
			DirectoryListing: true,
		},
		Cache: CacheConfig{
			DefaultTTL:    time.Hour,
			ArtifactTTL:   365 * 24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Sync: SyncConfig{
			TickInterval: 30 * time.Second,
			ScanInterval: 15 * time.Minute,
		},
		Health: HealthConfig{
			Interval:         30 * time.Second,
			Timeout:          10 * time.Second,
			FailureThreshold: 3,
		},
		Monitor: MonitorConfig{
			SampleInterval: time.Minute,
		},
	}
}

// Load builds the Config by merging Defaults() with settingsPath (if it
// exists) and then environment variables, in that order.
func Load(settingsPath string) (Config, error) {
	cfg := Defaults()

	if settingsPath != "" {
		if data, err := os.ReadFile(settingsPath); err == nil {
			if isYAMLPath(settingsPath) {
				if err := yaml.Unmarshal(data, &cfg); err != nil {
					return cfg, fmt.Errorf("parsing %s: %w", settingsPath, err)
				}
			} else if err := json.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// isYAMLPath reports whether path's extension marks it as a YAML settings
// file rather than the default JSON.
func isYAMLPath(path string) bool {
	ext := strings.ToLower(path[strings.LastIndexByte(path, '.')+1:])
	return ext == "yaml" || ext == "yml"
}

// applyEnv overlays the §6 environment variables onto cfg, in place,
// leaving fields absent from the environment untouched.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DB_TYPE"); v != "" {
		cfg.DB.Type = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DB.Path = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DB.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.DB.Port = p
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DB.Name = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DB.User = v
	}
	if v := os.Getenv("DB_PASS"); v != "" {
		cfg.DB.Pass = v
	}
	if v := os.Getenv("DB_CONN_STR"); v != "" {
		cfg.DB.ConnStr = v
	}
	if v := os.Getenv("DB_TABLE_PREFIX"); v != "" {
		cfg.DB.TablePrefix = v
	}
}

// Save writes cfg to path as deep-merge-friendly JSON.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Store holds a Config behind an atomic pointer so Reload can swap the
// whole record without readers observing a torn config.
type Store struct {
	ptr atomic.Pointer[Config]
}

// NewStore creates a Store holding the given initial Config.
func NewStore(cfg Config) *Store {
	s := &Store{}
	s.ptr.Store(&cfg)
	return s
}

// Get returns the currently active Config.
func (s *Store) Get() Config {
	return *s.ptr.Load()
}

// Set atomically replaces the active Config, for admin-driven in-memory
// updates (the control API's PUT /config) that don't go through a
// settings file.
func (s *Store) Set(cfg Config) {
	s.ptr.Store(&cfg)
}

// Reload re-reads settingsPath and environment and atomically swaps the
// active Config, returning the new value.
func (s *Store) Reload(settingsPath string) (Config, error) {
	cfg, err := Load(settingsPath)
	if err != nil {
		return Config{}, err
	}
	s.ptr.Store(&cfg)
	return cfg, nil
}
