package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	API     APIConfig     `yaml:"api" mapstructure:"api"`
	Auth    AuthConfig    `yaml:"auth" mapstructure:"auth"`
	Request RequestConfig `yaml:"request" mapstructure:"request"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Poll    PollConfig    `yaml:"poll" mapstructure:"poll"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Refresh RefreshConfig `yaml:"refresh" mapstructure:"refresh"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// APIConfig configures the Farm Data HTTP client.
type APIConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// Timeout is the per-request HTTP timeout.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// AuthConfig holds login credentials and where the token is kept.
type AuthConfig struct {
	Username        string `yaml:"username" mapstructure:"username"`
	Password        string `yaml:"password" mapstructure:"password"`
	CredentialsPath string `yaml:"credentials_path" mapstructure:"credentials_path"`
}

// RequestConfig supplies defaults for criteria submissions.
type RequestConfig struct {
	CustomerID   string `yaml:"customer_id" mapstructure:"customer_id"`
	GLS          string `yaml:"gls" mapstructure:"gls"`
	CriteriaFile string `yaml:"criteria_file" mapstructure:"criteria_file"`
}

// StoreConfig configures the history database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PollConfig configures status polling.
type PollConfig struct {
	IntervalSecs  int `yaml:"interval_secs" mapstructure:"interval_secs"`
	CapSecs       int `yaml:"cap_secs" mapstructure:"cap_secs"`
	MaxAttempts   int `yaml:"max_attempts" mapstructure:"max_attempts"`
	StatusRetries int `yaml:"status_retries" mapstructure:"status_retries"`
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Interval is the delay before the first re-check.
func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// Cap bounds the backoff between checks.
func (c PollConfig) Cap() time.Duration {
	return time.Duration(c.CapSecs) * time.Second
}

// Timeout bounds a whole polling run; zero means attempts alone bound it.
func (c PollConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// OutputConfig controls where results are exported.
type OutputConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RefreshConfig configures bulk status refreshes.
type RefreshConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FARMDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("api.base_url", "https://api.usfarmdataservice.com")
	v.SetDefault("api.timeout_secs", 60)
	v.SetDefault("api.requests_per_second", 5)
	v.SetDefault("api.burst", 5)
	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.credentials_path", "~/.config/farmdata/credentials.json")
	v.SetDefault("request.customer_id", "")
	v.SetDefault("request.gls", "")
	v.SetDefault("request.criteria_file", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "farmdata.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("poll.interval_secs", 30)
	v.SetDefault("poll.cap_secs", 30)
	v.SetDefault("poll.max_attempts", 10)
	v.SetDefault("poll.status_retries", 0)
	v.SetDefault("poll.timeout_secs", 0)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.format", "json")
	v.SetDefault("refresh.concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	var problems []string

	if c.API.BaseURL == "" {
		problems = append(problems, "api.base_url is required")
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, "api.base_url must be an absolute URL")
	}
	if c.API.TimeoutSecs <= 0 {
		problems = append(problems, "api.timeout_secs must be > 0")
	}
	if c.API.RequestsPerSecond < 0 {
		problems = append(problems, "api.requests_per_second must be >= 0")
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	if c.Poll.IntervalSecs <= 0 {
		problems = append(problems, "poll.interval_secs must be > 0")
	}
	if c.Poll.CapSecs < c.Poll.IntervalSecs {
		problems = append(problems, "poll.cap_secs must be >= poll.interval_secs")
	}
	if c.Poll.MaxAttempts < 1 {
		problems = append(problems, "poll.max_attempts must be >= 1")
	}
	if c.Poll.StatusRetries < 0 {
		problems = append(problems, "poll.status_retries must be >= 0")
	}

	switch strings.ToLower(c.Output.Format) {
	case "json", "csv", "xlsx":
	default:
		problems = append(problems, "output.format must be json, csv or xlsx")
	}

	if c.Refresh.Concurrency < 1 || c.Refresh.Concurrency > 32 {
		problems = append(problems, "refresh.concurrency must be between 1 and 32")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
