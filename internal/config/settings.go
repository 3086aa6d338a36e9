// Package config loads toolup settings and defines the logging interface
// shared by the engine packages.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Setting keys. Each key can also be set through the environment as
// TOOLUP_<KEY> with dots and dashes replaced by underscores.
const (
	KeyRootDir        = "root_dir"
	KeyBinDir         = "bin_dir"
	KeyMetadataFile   = "metadata_file"
	KeyAPIBaseURL     = "api_base_url"
	KeyRetries        = "retries"
	KeyRetryBaseDelay = "retry_base_delay"
	KeyHTTPTimeout    = "http_timeout"
	KeyLinkMode       = "link_mode"
	KeyCacheMaxAge    = "cache_max_age"
	KeyKeepVersions   = "keep_versions"
	KeyDebug          = "debug"
)

const (
	envPrefix = "TOOLUP"

	// DefaultAPIBaseURL is the release API endpoint.
	DefaultAPIBaseURL = "https://api.github.com"
	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 3
	// DefaultRetryBaseDelay is the first backoff delay; it doubles per retry.
	DefaultRetryBaseDelay = time.Second
	// DefaultHTTPTimeout bounds a single network call.
	DefaultHTTPTimeout = 5 * time.Minute
	// DefaultCacheMaxAge is the age after which cached artifacts are pruned.
	DefaultCacheMaxAge = 30 * 24 * time.Hour
	// DefaultKeepVersions is how many inactive versions cleanup keeps per component.
	DefaultKeepVersions = 2
)

// Link modes for exposing the active version on the lookup path.
const (
	LinkModeSymlink = "symlink"
	LinkModeCopy    = "copy"
)

// Settings holds the resolved configuration.
type Settings struct {
	RootDir        string
	BinDir         string
	ConfigFile     string
	MetadataFile   string
	APIBaseURL     string
	Retries        int
	RetryBaseDelay time.Duration
	HTTPTimeout    time.Duration
	LinkMode       string
	CacheMaxAge    time.Duration
	KeepVersions   int
	Debug          bool
}

type loadSettings struct {
	configFile string
	overrides  map[string]any
}

// Option configures Load.
type Option func(*loadSettings)

// WithConfigFile overrides the default config file path.
func WithConfigFile(path string) Option {
	return func(s *loadSettings) {
		s.configFile = path
	}
}

// WithOverrides injects values typically coming from command-line flags.
// Overrides take precedence over every other source.
func WithOverrides(overrides map[string]any) Option {
	return func(s *loadSettings) {
		if s.overrides == nil {
			s.overrides = map[string]any{}
		}
		for k, v := range overrides {
			s.overrides[k] = v
		}
	}
}

// Load resolves settings using the precedence:
// defaults < config file < environment variables < overrides.
func Load(opts ...Option) (*Settings, error) {
	ls := loadSettings{}
	for _, opt := range opts {
		opt(&ls)
	}

	configFile := strings.TrimSpace(ls.configFile)
	if configFile == "" {
		dir, err := defaultConfigDir()
		if err != nil {
			return nil, err
		}
		configFile = filepath.Join(dir, "config.toml")
	}

	v := viper.New()
	v.SetConfigType("toml")
	if err := setDefaults(v); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := mergeConfigFile(v, configFile); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	for k, val := range ls.overrides {
		v.Set(k, val)
	}

	s := &Settings{
		RootDir:        expandHome(v.GetString(KeyRootDir)),
		BinDir:         expandHome(v.GetString(KeyBinDir)),
		ConfigFile:     configFile,
		MetadataFile:   expandHome(v.GetString(KeyMetadataFile)),
		APIBaseURL:     strings.TrimRight(v.GetString(KeyAPIBaseURL), "/"),
		Retries:        v.GetInt(KeyRetries),
		RetryBaseDelay: v.GetDuration(KeyRetryBaseDelay),
		HTTPTimeout:    v.GetDuration(KeyHTTPTimeout),
		LinkMode:       strings.ToLower(v.GetString(KeyLinkMode)),
		CacheMaxAge:    v.GetDuration(KeyCacheMaxAge),
		KeepVersions:   v.GetInt(KeyKeepVersions),
		Debug:          v.GetBool(KeyDebug),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks settings for values the engine cannot work with.
func (s *Settings) Validate() error {
	if s.RootDir == "" {
		return fmt.Errorf("%s is required", KeyRootDir)
	}
	if s.BinDir == "" {
		return fmt.Errorf("%s is required", KeyBinDir)
	}
	if s.Retries < 0 {
		return fmt.Errorf("%s must not be negative", KeyRetries)
	}
	if s.HTTPTimeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyHTTPTimeout)
	}
	if s.KeepVersions < 0 {
		return fmt.Errorf("%s must not be negative", KeyKeepVersions)
	}
	switch s.LinkMode {
	case LinkModeSymlink, LinkModeCopy:
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", KeyLinkMode, LinkModeSymlink, LinkModeCopy, s.LinkMode)
	}
	return nil
}

func setDefaults(v *viper.Viper) error {
	dataDir, err := defaultDataDir()
	if err != nil {
		return err
	}
	binDir, err := defaultBinDir()
	if err != nil {
		return err
	}

	linkMode := LinkModeSymlink
	if runtime.GOOS == "windows" {
		linkMode = LinkModeCopy
	}

	v.SetDefault(KeyRootDir, dataDir)
	v.SetDefault(KeyBinDir, binDir)
	v.SetDefault(KeyMetadataFile, "")
	v.SetDefault(KeyAPIBaseURL, DefaultAPIBaseURL)
	v.SetDefault(KeyRetries, DefaultRetries)
	v.SetDefault(KeyRetryBaseDelay, DefaultRetryBaseDelay)
	v.SetDefault(KeyHTTPTimeout, DefaultHTTPTimeout)
	v.SetDefault(KeyLinkMode, linkMode)
	v.SetDefault(KeyCacheMaxAge, DefaultCacheMaxAge)
	v.SetDefault(KeyKeepVersions, DefaultKeepVersions)
	v.SetDefault(KeyDebug, false)
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func defaultDataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "toolup"), nil
	}
	if runtime.GOOS == "windows" {
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, "toolup"), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, ".local", "share", "toolup"), nil
}

func defaultConfigDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "toolup"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("determine config dir: %w", err)
	}
	return filepath.Join(dir, "toolup"), nil
}

func defaultBinDir() (string, error) {
	if runtime.GOOS == "windows" {
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, "bin"), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, ".local", "bin"), nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
