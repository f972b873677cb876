package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir  = ".fleetctl"
	DefaultConfigFile = "config.yaml"
	DefaultDBFile     = ".fleetctl/fleet.db"
)

// Load reads the config file (falling back to defaults if absent) and
// returns a populated Config. The configPath flag may override the
// default location.
func Load(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	}

	setDefaults(v, home)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !isNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
		// No config file yet — proceed on defaults + environment only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandPaths(&cfg, home)
	return &cfg, nil
}

// Save writes the config to disk as YAML.
func Save(cfg *Config, configPath string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	if configPath == "" {
		configPath = filepath.Join(home, DefaultConfigDir, DefaultConfigFile)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serialising config: %w", err)
	}

	return os.WriteFile(configPath, data, 0o600)
}

// ConfigPath returns the effective config file path.
func ConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// EnsureDir creates ~/.fleetctl if it doesn't exist.
func EnsureDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	d := filepath.Join(home, DefaultConfigDir)
	if err := os.MkdirAll(d, 0o700); err != nil {
		return fmt.Errorf("creating directory %s: %w", d, err)
	}
	return nil
}

// setDefaults populates viper with sensible out-of-the-box values.
func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(home, DefaultDBFile))
	v.SetDefault("database.dsn", "")

	v.SetDefault("orchestrator.max_concurrent_agents", 10)
	v.SetDefault("orchestrator.task_abandon_timeout", "2h")

	v.SetDefault("watcher.max_session_duration", 3600)
	v.SetDefault("watcher.restart_delay", 5)
	v.SetDefault("watcher.session_delay_min", 30)
	v.SetDefault("watcher.session_delay_max", 60)
	v.SetDefault("watcher.health_check_interval", 10)
	v.SetDefault("watcher.output_store_dir", filepath.Join(home, DefaultConfigDir, "logs"))
	v.SetDefault("watcher.output_excerpt_chars", 4000)
	v.SetDefault("watcher.output_summary_chars", 500)
	v.SetDefault("watcher.output_stream_buffer_chars", 200000)

	v.SetDefault("tokens.daily_budget", 0)
	v.SetDefault("tokens.warning_threshold", 0)

	v.SetDefault("llm.default_provider", "")
	v.SetDefault("llm.auto_fallback_on_rate_limit", false)

	v.SetDefault("scheduling.enabled", true)

	v.SetDefault("gateway.port", 6080)
}

// expandPaths resolves ~ in configured paths.
func expandPaths(cfg *Config, home string) {
	cfg.Database.Path = expandHome(cfg.Database.Path, home)
	cfg.Watcher.OutputStoreDir = expandHome(cfg.Watcher.OutputStoreDir, home)
	cfg.Product.AutoFeatureCreation.GuidancePath = expandHome(cfg.Product.AutoFeatureCreation.GuidancePath, home)
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file")
}
