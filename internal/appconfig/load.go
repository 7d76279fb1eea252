package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/crashtrace/internal/debugger"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("debuggers_dir", cfg.DebuggersDir)
	v.SetDefault("debugger", cfg.Debugger)
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("temp_dir", cfg.TempDir)
	v.SetDefault("symbol_resolution", cfg.SymbolResolution)
	v.SetDefault("metered_detection", cfg.MeteredDetection)
	v.SetDefault("session.terminate_timeout_seconds", cfg.Session.TerminateTimeoutSeconds)
	v.SetDefault("session.kill_timeout_seconds", cfg.Session.KillTimeoutSeconds)
	v.SetDefault("rating.really_useful", cfg.Rating.ReallyUseful)
	v.SetDefault("rating.may_be_useful", cfg.Rating.MayBeUseful)
	v.SetDefault("rating.probably_useless", cfg.Rating.ProbablyUseless)
	v.SetDefault("duplicates.archive_dir", cfg.Duplicates.ArchiveDir)
	v.SetDefault("duplicates.max_chain_hops", cfg.Duplicates.MaxChainHops)
	v.SetDefault("logging.redact", cfg.Logging.Redact)
	v.SetDefault("logging.secrets", cfg.Logging.Secrets)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Backend {
	case debugger.BackendKCrash, debugger.BackendCoredump:
	default:
		return fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
	if strings.TrimSpace(cfg.Debugger) == "" {
		return fmt.Errorf("debugger is required")
	}
	if cfg.Session.TerminateTimeoutSeconds <= 0 || cfg.Session.KillTimeoutSeconds <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	r := cfg.Rating
	for name, value := range map[string]float64{
		"rating.really_useful":    r.ReallyUseful,
		"rating.may_be_useful":    r.MayBeUseful,
		"rating.probably_useless": r.ProbablyUseless,
	} {
		if value <= 0 || value > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", name, value)
		}
	}
	if !(r.ReallyUseful >= r.MayBeUseful && r.MayBeUseful >= r.ProbablyUseless) {
		return fmt.Errorf("rating thresholds must be ordered really_useful >= may_be_useful >= probably_useless")
	}
	if cfg.Duplicates.MaxChainHops < 1 {
		return fmt.Errorf("duplicates.max_chain_hops must be at least 1")
	}
	for _, rule := range cfg.Logging.Redact {
		if strings.TrimSpace(rule.Name) == "" {
			return fmt.Errorf("logging.redact entries need a name")
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("logging.redact %s: %w", rule.Name, err)
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.DebuggersDir = expandEnv(cfg.DebuggersDir)
	cfg.TempDir = expandEnv(cfg.TempDir)
	cfg.Duplicates.ArchiveDir = expandEnv(cfg.Duplicates.ArchiveDir)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
