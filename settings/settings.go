// Package settings loads service configuration from defaults, an optional
// config file, environment variables and command line flags.
package settings

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/certdesk/certdesk/drive"
	"github.com/certdesk/certdesk/folders"
	"github.com/certdesk/certdesk/logging"
)

const envPrefix = "CERTDESK"

type DriveConfig struct {
	RootFolderID         string `mapstructure:"root_folder_id"`
	MaxDepth             int    `mapstructure:"max_depth"`
	SearchStrategy       string `mapstructure:"search_strategy"`
	FolderMappingEnabled bool   `mapstructure:"folder_mapping_enabled"`
	FuzzyMatch           bool   `mapstructure:"fuzzy_match"`
	StripGivenNames      bool   `mapstructure:"strip_given_names"`
	CredentialsFile      string `mapstructure:"credentials_file"`
}

type RemoteConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	PageSize       int           `mapstructure:"page_size"`
}

type CacheConfig struct {
	TTL              time.Duration `mapstructure:"ttl"`
	ResolvedCapacity int           `mapstructure:"resolved_capacity"`
	ChildrenCapacity int           `mapstructure:"children_capacity"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	Coalesce         bool          `mapstructure:"coalesce"`
}

type PreloadConfig struct {
	Concurrency int  `mapstructure:"concurrency"`
	OnStart     bool `mapstructure:"on_start"`
}

type SearchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Listen      string `mapstructure:"listen"`
	AdminSecret string `mapstructure:"admin_secret"`
}

type LogConfig struct {
	Dir string `mapstructure:"dir"`
}

// Config is one decoded snapshot of every setting.
type Config struct {
	Drive   DriveConfig   `mapstructure:"drive"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Preload PreloadConfig `mapstructure:"preload"`
	Search  SearchConfig  `mapstructure:"search"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
}

var defaults = map[string]any{
	"drive.root_folder_id":         "",
	"drive.max_depth":              folders.DefaultMaxDepth,
	"drive.search_strategy":        string(folders.BFS),
	"drive.folder_mapping_enabled": true,
	"drive.fuzzy_match":            true,
	"drive.strip_given_names":      false,
	"drive.credentials_file":       "",
	"remote.timeout":               drive.DefaultTimeout,
	"remote.max_retries":           drive.DefaultMaxRetries,
	"remote.initial_backoff":       drive.DefaultInitialBackoff,
	"remote.page_size":             drive.DefaultPageSize,
	"cache.ttl":                    folders.DefaultTTL,
	"cache.resolved_capacity":      folders.DefaultResolvedCapacity,
	"cache.children_capacity":      folders.DefaultChildrenCapacity,
	"cache.sweep_interval":         folders.DefaultSweepInterval,
	"cache.coalesce":               true,
	"preload.concurrency":          folders.DefaultPreloadConcurrency,
	"preload.on_start":             false,
	"search.timeout":               time.Duration(0),
	"server.listen":                ":8080",
	"server.admin_secret":          "",
	"log.dir":                      "",
}

// envAliases are the legacy variable names accepted next to the prefixed ones.
var envAliases = map[string]string{
	"drive.root_folder_id":   "GOOGLE_DRIVE_FOLDER_ID",
	"drive.credentials_file": "GOOGLE_APPLICATION_CREDENTIALS",
	"server.admin_secret":    "ADMIN_SECRET_KEY",
}

// flagKeys maps command line flag names to setting keys.
var flagKeys = map[string]string{
	"root":             "drive.root_folder_id",
	"credentials":      "drive.credentials_file",
	"log-dir":          "log.dir",
	"listen":           "server.listen",
	"preload-on-start": "preload.on_start",
}

// Settings holds the live configuration. Reads go through a decoded
// snapshot that is swapped whole on reload.
type Settings struct {
	v    *viper.Viper
	mu   sync.RWMutex
	cur  Config
	file string
}

// Load reads configuration from fs. path names a config file; "~" is
// expanded. An empty path searches certdesk.{yaml,json,toml} in the
// working directory and ~/.certdesk, and a missing file is not an error.
// flags may be nil.
func Load(fs afero.Fs, path string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	v.SetFs(fs)
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("expand config path %q: %w", path, err)
		}
		v.SetConfigFile(expanded)
	} else {
		v.SetConfigName("certdesk")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".certdesk"))
		}
	}

	s := &Settings{v: v}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	s.file = v.ConfigFileUsed()

	if err := s.decode(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) decode() error {
	var c Config
	if err := s.v.Unmarshal(&c); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cur = c
	s.mu.Unlock()
	return nil
}

func (c Config) validate() error {
	switch {
	case c.Remote.MaxRetries < 0:
		return &folders.ConfigError{Field: "remote.max_retries", Reason: "must not be negative"}
	case c.Remote.PageSize < 0:
		return &folders.ConfigError{Field: "remote.page_size", Reason: "must not be negative"}
	case c.Cache.ResolvedCapacity < 0, c.Cache.ChildrenCapacity < 0:
		return &folders.ConfigError{Field: "cache capacity", Reason: "must not be negative"}
	case c.Preload.Concurrency < 0:
		return &folders.ConfigError{Field: "preload.concurrency", Reason: "must not be negative"}
	case c.Search.Timeout < 0:
		return &folders.ConfigError{Field: "search.timeout", Reason: "must not be negative"}
	}
	return nil
}

// File returns the config file in use, or "" when running on defaults.
func (s *Settings) File() string { return s.file }

// Current returns the latest snapshot.
func (s *Settings) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Reload re-reads the config file. On failure the previous snapshot stays.
func (s *Settings) Reload() error {
	if s.file != "" {
		if err := s.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return s.decode()
}

// Watch re-decodes the snapshot whenever the config file changes on disk.
// It is a no-op without a config file.
func (s *Settings) Watch() {
	if s.file == "" {
		return
	}
	l := logging.Sub("settings")
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if err := s.decode(); err != nil {
			l.Warn("config reload rejected, keeping previous values", "file", e.Name, "err", err)
			return
		}
		l.Info("config reloaded", "file", e.Name, "op", e.Op.String())
	})
	s.v.WatchConfig()
	l.Debug("watching config", "file", s.file)
}

// FolderConfig implements folders.ConfigSource.
func (s *Settings) FolderConfig() (folders.Config, error) {
	d := s.Current().Drive
	return folders.Config{
		RootFolderID:    strings.TrimSpace(d.RootFolderID),
		MaxDepth:        d.MaxDepth,
		Strategy:        folders.Strategy(strings.ToUpper(strings.TrimSpace(d.SearchStrategy))),
		MappingEnabled:  d.FolderMappingEnabled,
		FuzzyMatch:      d.FuzzyMatch,
		StripGivenNames: d.StripGivenNames,
	}, nil
}

// AdminSecret returns the shared secret protecting the admin API.
func (s *Settings) AdminSecret() string {
	return s.Current().Server.AdminSecret
}

// DriveOptions returns the Drive client options.
func (s *Settings) DriveOptions() drive.Options {
	c := s.Current()
	return drive.Options{
		CredentialsFile: c.Drive.CredentialsFile,
		Timeout:         c.Remote.Timeout,
		MaxRetries:      c.Remote.MaxRetries,
		InitialBackoff:  c.Remote.InitialBackoff,
		PageSize:        c.Remote.PageSize,
	}
}

// DaemonOptions returns the options of the folder daemon.
func (s *Settings) DaemonOptions() folders.Options {
	c := s.Current()
	return folders.Options{
		Cache: folders.CacheOptions{
			TTL:              c.Cache.TTL,
			ResolvedCapacity: c.Cache.ResolvedCapacity,
			ChildrenCapacity: c.Cache.ChildrenCapacity,
			SweepInterval:    c.Cache.SweepInterval,
		},
		Coalesce:           c.Cache.Coalesce,
		PreloadConcurrency: c.Preload.Concurrency,
		PreloadOnStart:     c.Preload.OnStart,
		SearchTimeout:      c.Search.Timeout,
	}
}
