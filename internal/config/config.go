// ABOUTME: Configuration loading and parsing for coven-joinlink
// ABOUTME: TOML or YAML files with environment expansion, env overrides and struct validation

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

// EnvPrefix prefixes all environment overrides, e.g. JOINLINK_ENCRYPTION_KEY.
const EnvPrefix = "JOINLINK"

// Config represents the complete coven-joinlink configuration
type Config struct {
	Matrix  MatrixConfig  `toml:"matrix" yaml:"matrix"`
	Bot     BotConfig     `toml:"bot" yaml:"bot"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
	Data    DataConfig    `toml:"data" yaml:"data"`
}

// MatrixConfig holds the bot account and homeserver connection
type MatrixConfig struct {
	Homeserver  string `toml:"homeserver" yaml:"homeserver" validate:"required,url"`
	Username    string `toml:"username" yaml:"username" validate:"required"`
	Password    string `toml:"password" yaml:"password" validate:"required"`
	RecoveryKey string `toml:"recovery_key" yaml:"recovery_key"`
	DeviceName  string `toml:"device_name" yaml:"device_name"`

	RequestTimeout time.Duration `toml:"-" yaml:"-"`

	// Raw string value for unmarshaling
	RequestTimeoutRaw string `toml:"request_timeout" yaml:"request_timeout"`
}

// BotConfig holds command and authorization settings
type BotConfig struct {
	Prefix        string `toml:"prefix" yaml:"prefix" validate:"required,alphanum"`
	EncryptionKey string `toml:"encryption_key" yaml:"encryption_key" validate:"required,min=8"`
	// Users may talk to the bot. Entries are matched as suffixes, so
	// ":example.org" authorizes a whole server. Empty allows everyone.
	Users []string `toml:"users" yaml:"users"`
	// Admins may quit the bot and remove any link. Exact user ids.
	Admins        []string `toml:"admins" yaml:"admins" validate:"dive,startswith=@"`
	LockCacheSize int      `toml:"lock_cache_size" yaml:"lock_cache_size" validate:"gte=0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" yaml:"format" validate:"oneof=text json"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr" validate:"required_if=Enabled true"`
	Path    string `toml:"path" yaml:"path" validate:"omitempty,startswith=/"`
}

// DataConfig holds the location of local state such as the crypto store
type DataConfig struct {
	Directory string `toml:"directory" yaml:"directory"`
}

// envOverrides are read from JOINLINK_* variables and win over the file.
type envOverrides struct {
	EncryptionKey string `envconfig:"ENCRYPTION_KEY"`
	DataDir       string `envconfig:"DATA_DIR"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(expanded), cfg)
	default:
		_, err = toml.Decode(expanded, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config holding every default value.
func Default() *Config {
	return &Config{
		Matrix: MatrixConfig{
			DeviceName:        "coven-joinlink",
			RequestTimeoutRaw: "30s",
		},
		Bot: BotConfig{
			Prefix: "join",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	if env.EncryptionKey != "" {
		cfg.Bot.EncryptionKey = env.EncryptionKey
	}
	if env.DataDir != "" {
		cfg.Data.Directory = env.DataDir
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Matrix.RequestTimeoutRaw == "" {
		return nil
	}
	d, err := time.ParseDuration(cfg.Matrix.RequestTimeoutRaw)
	if err != nil {
		return fmt.Errorf("parsing request_timeout %q: %w", cfg.Matrix.RequestTimeoutRaw, err)
	}
	if d <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", d)
	}
	cfg.Matrix.RequestTimeout = d
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their config key
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	first := verrs[0]
	// drop the root struct name: "Config.bot.encryption_key" -> "bot.encryption_key"
	_, field, _ := strings.Cut(first.Namespace(), ".")
	if first.Param() != "" {
		return fmt.Errorf("%s failed %s=%s", field, first.Tag(), first.Param())
	}
	return fmt.Errorf("%s failed %s", field, first.Tag())
}

// IsUser reports whether user may use the bot.
func (c *Config) IsUser(user id.UserID) bool {
	if len(c.Bot.Users) == 0 {
		return true
	}
	for _, allowed := range c.Bot.Users {
		if allowed != "" && strings.HasSuffix(user.String(), allowed) {
			return true
		}
	}
	return false
}

// IsBotAdmin reports whether user administers the bot.
func (c *Config) IsBotAdmin(user id.UserID) bool {
	for _, admin := range c.Bot.Admins {
		if admin == user.String() {
			return true
		}
	}
	return false
}
