package kernel

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SkillsConfig is the skills.* configuration surface.
type SkillsConfig struct {
	Preload    []string          `mapstructure:"preload"`
	CLIExtend  []string          `mapstructure:"cli_extend"`
	MaxLoaded  int               `mapstructure:"max_loaded"`
	TTL        TTLConfig         `mapstructure:"ttl"`
	Limits     LimitsConfig      `mapstructure:"limits"`
	FilterCommands []string      `mapstructure:"filter_commands"`
	Overrides  map[string]OverrideConfig `mapstructure:"overrides"`
}

// TTLConfig matches skills.ttl.*.
type TTLConfig struct {
	TimeoutSeconds      int `mapstructure:"timeout_seconds"`
	CheckIntervalSeconds int `mapstructure:"check_interval_seconds"`
}

// LimitsConfig matches skills.limits.*.
type LimitsConfig struct {
	DynamicTools         int `mapstructure:"dynamic_tools"`
	CoreMin              int `mapstructure:"core_min"`
	SchemaCacheTTLSeconds int `mapstructure:"schema_cache_ttl_seconds"`
}

// OverrideConfig is one skills.overrides entry: an alias and/or an
// appended description for a fully-qualified tool name.
type OverrideConfig struct {
	Alias     string `mapstructure:"alias"`
	AppendDoc string `mapstructure:"append_doc"`
}

// SecurityConfig is the security.* configuration surface.
type SecurityConfig struct {
	BlockThreshold  int      `mapstructure:"block_threshold"`
	WarnThreshold   int      `mapstructure:"warn_threshold"`
	TrustedSources  []string `mapstructure:"trusted_sources"`
}

// TransportConfig is the transport.* configuration surface.
type TransportConfig struct {
	Kind           string `mapstructure:"kind"` // "http" or "stdio"
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Config is the kernel's full deployer-facing configuration surface.
type Config struct {
	SkillRoots []string        `mapstructure:"skill_roots"`
	DocsRoots  []string        `mapstructure:"docs_roots"`
	IndexPath  string          `mapstructure:"index_path"`
	Skills     SkillsConfig    `mapstructure:"skills"`
	Security   SecurityConfig  `mapstructure:"security"`
	Transport  TransportConfig `mapstructure:"transport"`
}

// DefaultConfig returns a Config with every documented default applied.
func DefaultConfig() Config {
	return Config{
		Skills: SkillsConfig{
			MaxLoaded: 15,
			TTL: TTLConfig{
				TimeoutSeconds:       1800,
				CheckIntervalSeconds: 300,
			},
			Limits: LimitsConfig{
				DynamicTools:          15,
				CoreMin:               3,
				SchemaCacheTTLSeconds: 300,
			},
		},
		Security: SecurityConfig{
			BlockThreshold: 50,
			WarnThreshold:  20,
		},
		Transport: TransportConfig{
			Kind:           "http",
			Host:           "127.0.0.1",
			Port:           8765,
			TimeoutSeconds: 60,
		},
	}
}

// TTL returns Skills.TTL.TimeoutSeconds as a time.Duration.
func (c Config) TTL() time.Duration {
	return time.Duration(c.Skills.TTL.TimeoutSeconds) * time.Second
}

// TTLCheckInterval returns Skills.TTL.CheckIntervalSeconds as a
// time.Duration.
func (c Config) TTLCheckInterval() time.Duration {
	return time.Duration(c.Skills.TTL.CheckIntervalSeconds) * time.Second
}

// TransportTimeout returns Transport.TimeoutSeconds as a time.Duration.
func (c Config) TransportTimeout() time.Duration {
	return time.Duration(c.Transport.TimeoutSeconds) * time.Second
}

// aliasMap flattens Skills.Overrides into the alias map the Executor
// consumes directly.
func (c Config) aliasMap() map[string]string {
	out := make(map[string]string, len(c.Skills.Overrides))
	for fqName, override := range c.Skills.Overrides {
		if override.Alias != "" {
			out[override.Alias] = fqName
		}
	}
	return out
}

// LoadConfig reads configuration from path (YAML/JSON/TOML, sniffed by
// extension) layered over DefaultConfig, with SKILLKERNEL_-prefixed
// environment variable overrides — alex's viper convention
// (alex's app config loader), generalized to this kernel's surface.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	applyDefaults(v, DefaultConfig())

	v.SetEnvPrefix("SKILLKERNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// applyDefaults seeds v with defaults' zero-value-safe fields so
// AutomaticEnv/config-file overrides merge rather than replace.
func applyDefaults(v *viper.Viper, defaults Config) {
	v.SetDefault("skills.max_loaded", defaults.Skills.MaxLoaded)
	v.SetDefault("skills.ttl.timeout_seconds", defaults.Skills.TTL.TimeoutSeconds)
	v.SetDefault("skills.ttl.check_interval_seconds", defaults.Skills.TTL.CheckIntervalSeconds)
	v.SetDefault("skills.limits.dynamic_tools", defaults.Skills.Limits.DynamicTools)
	v.SetDefault("skills.limits.core_min", defaults.Skills.Limits.CoreMin)
	v.SetDefault("skills.limits.schema_cache_ttl_seconds", defaults.Skills.Limits.SchemaCacheTTLSeconds)
	v.SetDefault("security.block_threshold", defaults.Security.BlockThreshold)
	v.SetDefault("security.warn_threshold", defaults.Security.WarnThreshold)
	v.SetDefault("transport.kind", defaults.Transport.Kind)
	v.SetDefault("transport.host", defaults.Transport.Host)
	v.SetDefault("transport.port", defaults.Transport.Port)
	v.SetDefault("transport.timeout_seconds", defaults.Transport.TimeoutSeconds)
}
