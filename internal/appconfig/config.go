package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/crashtrace/internal/duplicates"
	"pkt.systems/crashtrace/internal/logx"
	"pkt.systems/crashtrace/internal/parser"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int    `mapstructure:"config_version" yaml:"config_version"`
	DebuggersDir  string `mapstructure:"debuggers_dir" yaml:"debuggers_dir"`
	Debugger      string `mapstructure:"debugger" yaml:"debugger"`
	Backend       string `mapstructure:"backend" yaml:"backend"`
	// TempDir holds per-attempt session dirs; empty means the system temp dir.
	TempDir          string           `mapstructure:"temp_dir" yaml:"temp_dir"`
	SymbolResolution bool             `mapstructure:"symbol_resolution" yaml:"symbol_resolution"`
	MeteredDetection bool             `mapstructure:"metered_detection" yaml:"metered_detection"`
	Session          SessionConfig    `mapstructure:"session" yaml:"session"`
	Rating           RatingConfig     `mapstructure:"rating" yaml:"rating"`
	Duplicates       DuplicatesConfig `mapstructure:"duplicates" yaml:"duplicates"`
	Logging          LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// SessionConfig controls debugger teardown.
type SessionConfig struct {
	TerminateTimeoutSeconds int `mapstructure:"terminate_timeout_seconds" yaml:"terminate_timeout_seconds"`
	KillTimeoutSeconds      int `mapstructure:"kill_timeout_seconds" yaml:"kill_timeout_seconds"`
}

// RatingConfig holds the usefulness thresholds as fractions of the best
// possible score.
type RatingConfig struct {
	ReallyUseful    float64 `mapstructure:"really_useful" yaml:"really_useful"`
	MayBeUseful     float64 `mapstructure:"may_be_useful" yaml:"may_be_useful"`
	ProbablyUseless float64 `mapstructure:"probably_useless" yaml:"probably_useless"`
}

// DuplicatesConfig controls the local bug archive and chain resolution.
type DuplicatesConfig struct {
	ArchiveDir   string `mapstructure:"archive_dir" yaml:"archive_dir"`
	MaxChainHops int    `mapstructure:"max_chain_hops" yaml:"max_chain_hops"`
}

// LoggingConfig controls log redaction.
type LoggingConfig struct {
	Redact  []logx.RedactRule `mapstructure:"redact" yaml:"redact"`
	Secrets []string          `mapstructure:"secrets" yaml:"secrets"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	th := parser.DefaultThresholds()
	return Config{
		ConfigVersion:    CurrentConfigVersion,
		DebuggersDir:     filepath.Join(home, ".crashtrace", "debuggers"),
		Debugger:         "gdb",
		Backend:          "kcrash",
		TempDir:          "",
		SymbolResolution: true,
		MeteredDetection: true,
		Session: SessionConfig{
			TerminateTimeoutSeconds: 10,
			KillTimeoutSeconds:      5,
		},
		Rating: RatingConfig{
			ReallyUseful:    th.ReallyUseful,
			MayBeUseful:     th.MayBeUseful,
			ProbablyUseless: th.ProbablyUseless,
		},
		Duplicates: DuplicatesConfig{
			ArchiveDir:   filepath.Join(home, ".crashtrace", "archive"),
			MaxChainHops: duplicates.DefaultMaxChainHops,
		},
		Logging: LoggingConfig{
			Redact:  []logx.RedactRule{},
			Secrets: []string{},
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".crashtrace", "config.yaml"), nil
}

// Thresholds returns the rating thresholds for the parser.
func (c Config) Thresholds() parser.Thresholds {
	return parser.Thresholds{
		ReallyUseful:    c.Rating.ReallyUseful,
		MayBeUseful:     c.Rating.MayBeUseful,
		ProbablyUseless: c.Rating.ProbablyUseless,
	}
}

// TerminateTimeout is the grace period after SIGTERM.
func (c Config) TerminateTimeout() time.Duration {
	return time.Duration(c.Session.TerminateTimeoutSeconds) * time.Second
}

// KillTimeout is the grace period after SIGKILL before a debugger is abandoned.
func (c Config) KillTimeout() time.Duration {
	return time.Duration(c.Session.KillTimeoutSeconds) * time.Second
}
