package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/buildcfg/internal/render"
	"github.com/eugenenazirov/buildcfg/internal/toolchain"
)

const (
	defaultPort                 = "8080"
	defaultRateLimitRPS         = 25.0
	defaultRateLimitBurst       = 50
	defaultReloadRateLimitRPS   = 0.5
	defaultReloadRateLimitBurst = 2
	defaultKeyPropertiesFile    = "key.properties"
	defaultLocalPropertiesFile  = "local.properties"
	defaultModuleName           = "app"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > Environment variables > YAML config > Defaults
type Config struct {
	ProjectDir          string
	ModuleDir           string
	KeyPropertiesFile   string
	LocalPropertiesFile string
	Toolchain           toolchain.Versions
	Strict              bool
	Format              render.Format
	LogLevel            string

	Port                 string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
	ReloadRateLimitRPS   float64
	ReloadRateLimitBurst int
	Watch                bool
	WatchDebounce        time.Duration
}

// KeyPropertiesPath is where the signing properties are read from, relative
// to the root project like rootProject.file("key.properties").
func (c Config) KeyPropertiesPath() string {
	return joinIfRelative(c.ProjectDir, c.KeyPropertiesFile)
}

// LocalPropertiesPath is the Flutter local.properties of the root project.
func (c Config) LocalPropertiesPath() string {
	return joinIfRelative(c.ProjectDir, c.LocalPropertiesFile)
}

// ResolvedModuleDir is the app module directory, defaulting to <project>/app.
func (c Config) ResolvedModuleDir() string {
	if c.ModuleDir == "" {
		return filepath.Join(c.ProjectDir, defaultModuleName)
	}
	return joinIfRelative(c.ProjectDir, c.ModuleDir)
}

func joinIfRelative(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	ProjectDir          string        `yaml:"project_dir"`
	ModuleDir           string        `yaml:"module_dir"`
	KeyPropertiesFile   string        `yaml:"key_properties"`
	LocalPropertiesFile string        `yaml:"local_properties"`
	Toolchain           yamlToolchain `yaml:"toolchain"`
	Strict              *bool         `yaml:"strict"`
	Format              string        `yaml:"format"`
	LogLevel            string        `yaml:"log_level"`

	Port                 string        `yaml:"port"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
	Watch                yamlWatch     `yaml:"watch"`
}

// yamlToolchain holds the plugin defaults used when local.properties is silent.
type yamlToolchain struct {
	CompileSdk  int    `yaml:"compile_sdk"`
	MinSdk      int    `yaml:"min_sdk"`
	TargetSdk   int    `yaml:"target_sdk"`
	VersionCode int    `yaml:"version_code"`
	VersionName string `yaml:"version_name"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS         *float64 `yaml:"rps"`
	Burst       *int     `yaml:"burst"`
	ReloadRPS   *float64 `yaml:"reload_rps"`
	ReloadBurst *int     `yaml:"reload_burst"`
}

type yamlWatch struct {
	Enabled  *bool  `yaml:"enabled"`
	Debounce string `yaml:"debounce"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	ProjectDir     *string
	ModuleDir      *string
	Strict         *bool
	Format         *string
	LogLevel       *string
	Port           *string
	RateLimitRPS   *float64
	RateLimitBurst *int
	ReloadRPS      *float64
	ReloadBurst    *int
	Watch          *bool
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > Environment variables > YAML config > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, err
		}
	}

	applyEnvConfig(&cfg)

	if overrides != nil {
		if err := applyCLIOverrides(&cfg, overrides); err != nil {
			return Config{}, err
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		ProjectDir:           ".",
		KeyPropertiesFile:    defaultKeyPropertiesFile,
		LocalPropertiesFile:  defaultLocalPropertiesFile,
		Toolchain:            toolchain.DefaultVersions(),
		Format:               render.FormatJSON,
		LogLevel:             "info",
		Port:                 defaultPort,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		ReloadRateLimitRPS:   defaultReloadRateLimitRPS,
		ReloadRateLimitBurst: defaultReloadRateLimitBurst,
		Watch:                true,
		WatchDebounce:        250 * time.Millisecond,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.ProjectDir != "" {
		cfg.ProjectDir = yamlCfg.ProjectDir
	}
	if yamlCfg.ModuleDir != "" {
		cfg.ModuleDir = yamlCfg.ModuleDir
	}
	if yamlCfg.KeyPropertiesFile != "" {
		cfg.KeyPropertiesFile = yamlCfg.KeyPropertiesFile
	}
	if yamlCfg.LocalPropertiesFile != "" {
		cfg.LocalPropertiesFile = yamlCfg.LocalPropertiesFile
	}

	tc := yamlCfg.Toolchain
	if tc.CompileSdk > 0 {
		cfg.Toolchain.CompileSdk = tc.CompileSdk
	}
	if tc.MinSdk > 0 {
		cfg.Toolchain.MinSdk = tc.MinSdk
	}
	if tc.TargetSdk > 0 {
		cfg.Toolchain.TargetSdk = tc.TargetSdk
	}
	if tc.VersionCode > 0 {
		cfg.Toolchain.VersionCode = tc.VersionCode
	}
	if tc.VersionName != "" {
		cfg.Toolchain.VersionName = tc.VersionName
	}

	if yamlCfg.Strict != nil {
		cfg.Strict = *yamlCfg.Strict
	}
	if yamlCfg.Format != "" {
		format, err := render.ParseFormat(yamlCfg.Format)
		if err != nil {
			return fmt.Errorf("parse format: %w", err)
		}
		cfg.Format = format
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}

	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}
	setDuration(&cfg.ShutdownGracePeriod, yamlCfg.ShutdownGracePeriod)
	setDuration(&cfg.ReadHeaderTimeout, yamlCfg.ReadHeaderTimeout)
	setDuration(&cfg.WriteTimeout, yamlCfg.WriteTimeout)
	setDuration(&cfg.IdleTimeout, yamlCfg.IdleTimeout)

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.RateLimit.RPS != nil && *yamlCfg.RateLimit.RPS >= 0 {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil && *yamlCfg.RateLimit.Burst >= 0 {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}
	if yamlCfg.RateLimit.ReloadRPS != nil && *yamlCfg.RateLimit.ReloadRPS >= 0 {
		cfg.ReloadRateLimitRPS = *yamlCfg.RateLimit.ReloadRPS
	}
	if yamlCfg.RateLimit.ReloadBurst != nil && *yamlCfg.RateLimit.ReloadBurst >= 0 {
		cfg.ReloadRateLimitBurst = *yamlCfg.RateLimit.ReloadBurst
	}
	if yamlCfg.Watch.Enabled != nil {
		cfg.Watch = *yamlCfg.Watch.Enabled
	}
	setDuration(&cfg.WatchDebounce, yamlCfg.Watch.Debounce)

	return nil
}

// setDuration overwrites dst when raw parses; unparseable values keep the default.
func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) {
	if dir := strings.TrimSpace(os.Getenv("BUILDCFG_PROJECT_DIR")); dir != "" {
		cfg.ProjectDir = dir
	}

	if dir := strings.TrimSpace(os.Getenv("BUILDCFG_MODULE_DIR")); dir != "" {
		cfg.ModuleDir = dir
	}

	if strict := strings.TrimSpace(os.Getenv("BUILDCFG_STRICT")); strict != "" {
		if value, err := strconv.ParseBool(strict); err == nil {
			cfg.Strict = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BUILDCFG_FORMAT")); raw != "" {
		if format, err := render.ParseFormat(raw); err == nil {
			cfg.Format = format
		}
	}

	if level := strings.TrimSpace(os.Getenv("BUILDCFG_LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Port = port
	}

	if rps := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}

	if rps := strings.TrimSpace(os.Getenv("RELOAD_RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.ReloadRateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RELOAD_RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.ReloadRateLimitBurst = value
		}
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) error {
	if overrides.ProjectDir != nil && *overrides.ProjectDir != "" {
		cfg.ProjectDir = *overrides.ProjectDir
	}

	if overrides.ModuleDir != nil && *overrides.ModuleDir != "" {
		cfg.ModuleDir = *overrides.ModuleDir
	}

	if overrides.Strict != nil {
		cfg.Strict = *overrides.Strict
	}

	if overrides.Format != nil && *overrides.Format != "" {
		format, err := render.ParseFormat(*overrides.Format)
		if err != nil {
			return fmt.Errorf("parse format: %w", err)
		}
		cfg.Format = format
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}

	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}

	if overrides.ReloadRPS != nil && *overrides.ReloadRPS >= 0 {
		cfg.ReloadRateLimitRPS = *overrides.ReloadRPS
	}

	if overrides.ReloadBurst != nil && *overrides.ReloadBurst >= 0 {
		cfg.ReloadRateLimitBurst = *overrides.ReloadBurst
	}

	if overrides.Watch != nil {
		cfg.Watch = *overrides.Watch
	}

	return nil
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.ProjectDir) == "" {
		return fmt.Errorf("project dir cannot be empty")
	}
	if strings.TrimSpace(cfg.KeyPropertiesFile) == "" {
		return fmt.Errorf("key properties file cannot be empty")
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.ReloadRateLimitRPS < 0 {
		return fmt.Errorf("RELOAD_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.ReloadRateLimitBurst < 0 {
		return fmt.Errorf("RELOAD_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.WatchDebounce <= 0 {
		return fmt.Errorf("watch debounce must be positive")
	}
	return nil
}
