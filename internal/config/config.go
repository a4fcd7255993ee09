// Package config loads updatekit settings from defaults, an optional YAML
// file, a .env file, and UPDATEKIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/updatekit/updatekit/internal/logger"
	"github.com/updatekit/updatekit/internal/update"
)

const (
	// FileName is the config file searched for when no explicit path is given.
	FileName  = "update-config.yaml"
	EnvPrefix = "UPDATEKIT"
)

var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Program  ProgramConfig  `mapstructure:"program" yaml:"program"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
}

// ServerConfig describes the distribution service.
type ServerConfig struct {
	URL       string        `mapstructure:"url" validate:"required,url"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent string        `mapstructure:"user_agent"`
	RateLimit int           `mapstructure:"rate_limit" validate:"gte=0"`
	Burst     int           `mapstructure:"burst" validate:"gte=0"`
}

// ProgramConfig identifies the program being updated.
type ProgramConfig struct {
	ID             string `mapstructure:"id" yaml:"id" validate:"required"`
	Channel        string `mapstructure:"channel" yaml:"channel" validate:"required"`
	CurrentVersion string `mapstructure:"current_version" yaml:"current_version"`
}

// DownloadConfig controls where and how releases are saved.
type DownloadConfig struct {
	SavePath   string `mapstructure:"save_path" yaml:"save_path" validate:"required"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0,lte=20"`
	Naming     string `mapstructure:"naming" yaml:"naming" validate:"oneof=default version date"`
}

// AuthConfig holds credentials for the distribution service.
type AuthConfig struct {
	Token         string `mapstructure:"token" yaml:"token"`
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key" validate:"omitempty,base64"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn warning error off"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// DatabaseConfig holds the history database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// WatchConfig controls the periodic update check.
type WatchConfig struct {
	Cron         string `mapstructure:"cron" yaml:"cron" validate:"required"`
	AutoDownload bool   `mapstructure:"auto_download" yaml:"auto_download"`
}

// HistoryConfig controls history retention.
type HistoryConfig struct {
	// RetentionDays removes older records on the daily cleanup; 0 keeps everything.
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days" validate:"gte=0"`
}

// MarshalYAML writes the timeout as a duration string so the file reads back
// through viper unchanged.
func (s ServerConfig) MarshalYAML() (any, error) {
	return struct {
		URL       string `yaml:"url"`
		Timeout   string `yaml:"timeout"`
		UserAgent string `yaml:"user_agent"`
		RateLimit int    `yaml:"rate_limit"`
		Burst     int    `yaml:"burst"`
	}{s.URL, s.Timeout.String(), s.UserAgent, s.RateLimit, s.Burst}, nil
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:     "http://localhost:8080",
			Timeout: 30 * time.Second,
			Burst:   1,
		},
		Program: ProgramConfig{
			Channel: "stable",
		},
		Download: DownloadConfig{
			SavePath:   "./updates",
			MaxRetries: 3,
			Naming:     update.NamingDefault,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Database: DatabaseConfig{
			Path: "./data/updatekit.db",
		},
		Watch: WatchConfig{
			Cron: "0 */6 * * *",
		},
		History: HistoryConfig{
			RetentionDays: 90,
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > .env > config file > defaults.
// A missing config file or .env file is not an error.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.updatekit")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.user_agent", "")
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.burst", d.Server.Burst)

	v.SetDefault("program.id", "")
	v.SetDefault("program.channel", d.Program.Channel)
	v.SetDefault("program.current_version", "")

	v.SetDefault("download.save_path", d.Download.SavePath)
	v.SetDefault("download.max_retries", d.Download.MaxRetries)
	v.SetDefault("download.naming", d.Download.Naming)

	v.SetDefault("auth.token", "")
	v.SetDefault("auth.encryption_key", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", "")

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("watch.cron", d.Watch.Cron)
	v.SetDefault("watch.auto_download", d.Watch.AutoDownload)

	v.SetDefault("history.retention_days", d.History.RetentionDays)
}

// Validate checks field constraints and reports every violation at once,
// keyed by config name: "download.max_retries: max_retries must be 0 or greater".
func (c *Config) Validate() error {
	validate, translator, err := newValidator()
	if err != nil {
		return err
	}

	err = validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		msgs = append(msgs, key+": "+fe.Translate(translator))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func newValidator() (*validator.Validate, ut.Translator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	translator, ok := ut.New(en.New(), en.New()).GetTranslator("en")
	if !ok {
		return nil, nil, errors.New("config: failed to get 'en' translator")
	}
	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		return nil, nil, fmt.Errorf("config: registering translations: %w", err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate, translator, nil
}

// UserAgent returns the configured User-Agent or the build default.
func (c *Config) UserAgent() string {
	if c.Server.UserAgent != "" {
		return c.Server.UserAgent
	}
	return DefaultUserAgent()
}

// Update builds the checker configuration.
func (c *Config) Update() *update.Config {
	return &update.Config{
		ServerURL:  c.Server.URL,
		ProgramID:  c.Program.ID,
		Channel:    c.Program.Channel,
		Timeout:    c.Server.Timeout,
		MaxRetries: c.Download.MaxRetries,
		SavePath:   c.Download.SavePath,
		Token:      c.Auth.Token,
		UserAgent:  c.UserAgent(),
	}
}

// Logger builds the logger configuration.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Path:   c.Logging.Path,
	}
}
