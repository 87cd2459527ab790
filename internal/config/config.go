package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Source   SourceConfig   `yaml:"source" mapstructure:"source"`
	Training TrainingConfig `yaml:"training" mapstructure:"training"`
	Serving  ServingConfig  `yaml:"serving" mapstructure:"serving"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the training run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SourceConfig configures the upstream yield/price database.
type SourceConfig struct {
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	MinYears      int    `yaml:"min_years" mapstructure:"min_years"`
	RetryAttempts int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// TrainingConfig holds classifier hyperparameters and artifact output.
type TrainingConfig struct {
	Seed         int64   `yaml:"seed" mapstructure:"seed"`
	Iterations   int     `yaml:"iterations" mapstructure:"iterations"`
	LearningRate float64 `yaml:"learning_rate" mapstructure:"learning_rate"`
	L2           float64 `yaml:"l2" mapstructure:"l2"`
	SaveDir      string  `yaml:"save_dir" mapstructure:"save_dir"`
	PreviewTopK  int     `yaml:"preview_top_k" mapstructure:"preview_top_k"`
}

// ServingConfig configures recommendation serving.
type ServingConfig struct {
	ModelDir           string   `yaml:"model_dir" mapstructure:"model_dir"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	RateLimitRPS       float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst     int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// CacheConfig configures the optional Redis response cache. An empty URL
// disables it.
type CacheConfig struct {
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	TTLSecs  int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("CROPADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "crop-advisor.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("source.database_url", "")
	v.SetDefault("source.min_years", 5)
	v.SetDefault("source.retry_attempts", 3)
	v.SetDefault("training.seed", 42)
	v.SetDefault("training.iterations", 500)
	v.SetDefault("training.learning_rate", 0.5)
	v.SetDefault("training.l2", 0.001)
	v.SetDefault("training.save_dir", "models")
	v.SetDefault("training.preview_top_k", 3)
	v.SetDefault("serving.model_dir", "models")
	v.SetDefault("serving.request_timeout_secs", 30)
	v.SetDefault("serving.rate_limit_rps", 0)
	v.SetDefault("serving.rate_limit_burst", 20)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl_secs", 300)
	v.SetDefault("server.port", 5001)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the fields the given mode needs. Modes: train, serve,
// recommend, store.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "train":
		errs = append(errs, c.validateTraining()...)
	case "serve":
		errs = append(errs, c.validateServing()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "recommend":
		errs = append(errs, c.validateServing()...)
	case "store":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	return errs
}

func (c *Config) validateTraining() []string {
	errs := c.validateStore()
	if c.Source.MinYears < 2 {
		errs = append(errs, "source.min_years must be >= 2")
	}
	if c.Source.RetryAttempts < 1 {
		errs = append(errs, "source.retry_attempts must be >= 1")
	}
	if c.Training.Iterations < 1 {
		errs = append(errs, "training.iterations must be >= 1")
	}
	if c.Training.LearningRate <= 0 {
		errs = append(errs, "training.learning_rate must be > 0")
	}
	if c.Training.L2 < 0 {
		errs = append(errs, "training.l2 must be >= 0")
	}
	if c.Training.SaveDir == "" {
		errs = append(errs, "training.save_dir is required")
	}
	return errs
}

func (c *Config) validateServing() []string {
	var errs []string
	if c.Serving.ModelDir == "" {
		errs = append(errs, "serving.model_dir is required")
	}
	if c.Serving.RequestTimeoutSecs < 0 {
		errs = append(errs, "serving.request_timeout_secs must be >= 0")
	}
	if c.Serving.RateLimitRPS < 0 {
		errs = append(errs, "serving.rate_limit_rps must be >= 0")
	}
	if c.Cache.RedisURL != "" && c.Cache.TTLSecs <= 0 {
		errs = append(errs, "cache.ttl_secs must be > 0 when cache.redis_url is set")
	}
	return errs
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
