package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// TemplateSpec is a workout template as authored in the config file.
// Durations are minutes so the file reads the way a training plan does.
type TemplateSpec struct {
	Name            string  `mapstructure:"name"`
	WarmUpMinutes   float64 `mapstructure:"warmUpMinutes"`
	RunMinutes      float64 `mapstructure:"runMinutes"`
	WalkMinutes     float64 `mapstructure:"walkMinutes"`
	Intervals       int     `mapstructure:"intervals"`
	CoolDownMinutes float64 `mapstructure:"coolDownMinutes"`
}

// Config is the resolved runtime configuration. Values come from flags,
// environment variables (RFR_ prefix), and an optional YAML file, in that
// order of precedence.
type Config struct {
	DataDir             string         `mapstructure:"dataDir"`
	LogFile             string         `mapstructure:"logFile"`
	LogMaxSizeMB        int            `mapstructure:"logMaxSizeMB"`
	LogMaxBackups       int            `mapstructure:"logMaxBackups"`
	LogMaxAgeDays       int            `mapstructure:"logMaxAgeDays"`
	SpeechCommand       string         `mapstructure:"speechCommand"`
	SpeechArgs          []string       `mapstructure:"speechArgs"`
	AccuracyLimitMeters float64        `mapstructure:"accuracyLimitMeters"`
	ScanTimeoutSeconds  int            `mapstructure:"scanTimeoutSeconds"`
	MockLocation        bool           `mapstructure:"mockLocation"`
	MockPort            int            `mapstructure:"mockPort"`
	Templates           []TemplateSpec `mapstructure:"templates"`
}

// DefaultDataDir returns ~/.rfr, falling back to the working directory
// when the home directory cannot be resolved.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".rfr")
}

// Load parses args (flags after the program name) and resolves the full
// configuration. A missing config file is not an error; a malformed one is.
func Load(args []string) (*Config, error) {
	flags := pflag.NewFlagSet("rfr", pflag.ContinueOnError)
	configFile := flags.String("config", "", "path to config file (default <data-dir>/config.yaml)")
	flags.String("data-dir", DefaultDataDir(), "directory for session history, preferences and logs")
	flags.String("log-file", "", "log file path (default <data-dir>/rfr.log)")
	flags.String("speech-command", "espeak", "text-to-speech command, empty disables voice cues")
	flags.Bool("mock-location", false, "use the built-in mock location pod instead of Bluetooth")
	flags.Int("mock-port", 8717, "HTTP control port for the mock location pod")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("dataDir", DefaultDataDir())
	v.SetDefault("logFile", "")
	v.SetDefault("logMaxSizeMB", 10)
	v.SetDefault("logMaxBackups", 3)
	v.SetDefault("logMaxAgeDays", 28)
	v.SetDefault("speechCommand", "espeak")
	v.SetDefault("speechArgs", []string{})
	v.SetDefault("accuracyLimitMeters", 50.0)
	v.SetDefault("scanTimeoutSeconds", 10)
	v.SetDefault("mockLocation", false)
	v.SetDefault("mockPort", 8717)

	if err := v.BindPFlag("dataDir", flags.Lookup("data-dir")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("logFile", flags.Lookup("log-file")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("speechCommand", flags.Lookup("speech-command")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("mockLocation", flags.Lookup("mock-location")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("mockPort", flags.Lookup("mock-port")); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("RFR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", *configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("dataDir"))
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "rfr.log")
	}

	return &cfg, nil
}
