package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"crypto-risk/internal/engine"
	"crypto-risk/internal/logger"
)

// APIKeyEnv is the environment variable holding the CryptoCompare API key.
const APIKeyEnv = "CRYPTOCOMPARE_API_KEY"

// Config holds application settings loaded from YAML, .env and the
// environment, in that order of precedence (later wins).
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Data          DataConfig          `mapstructure:"data"`
	Risk          RiskConfig          `mapstructure:"risk"`
	Optimization  OptimizationConfig  `mapstructure:"optimization"`
	Visualization VisualizationConfig `mapstructure:"visualization"`
	Logging       logger.Config       `mapstructure:"logging"`
	Server        ServerConfig        `mapstructure:"server"`
	API           APIConfig           `mapstructure:"api"`
}

type AppConfig struct {
	Name string `mapstructure:"name" validate:"required"`
}

type DataConfig struct {
	DefaultPortfolioPath string        `mapstructure:"default_portfolio_path" validate:"required"`
	CachePath            string        `mapstructure:"cache_path" validate:"required"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

type RiskConfig struct {
	Days           int     `mapstructure:"days" validate:"gte=2"`
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
	Confidence     float64 `mapstructure:"confidence" validate:"gt=0,lt=1"`
	PeriodsPerYear int     `mapstructure:"periods_per_year" validate:"gt=0"`
}

type OptimizationConfig struct {
	TargetReturn        float64 `mapstructure:"target_return"`
	MaxWeightPerAsset   float64 `mapstructure:"max_weight_per_asset" validate:"gt=0,lte=1"`
	ShortSellingAllowed bool    `mapstructure:"short_selling_allowed"`
	FrontierPoints      int     `mapstructure:"frontier_points" validate:"gte=1"`
	MaxIterations       int     `mapstructure:"max_iterations" validate:"gt=0"`
	Tolerance           float64 `mapstructure:"tolerance" validate:"gt=0"`
}

type VisualizationConfig struct {
	OutputDir string `mapstructure:"output_dir" validate:"required"`
	Theme     string `mapstructure:"theme" validate:"oneof=light dark"`
	Width     int    `mapstructure:"width" validate:"gte=200"`
	Height    int    `mapstructure:"height" validate:"gte=150"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"gt=0,lt=65536"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// APIConfig configures the CryptoCompare price client.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	Key            string        `mapstructure:"key"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryAttempts  int           `mapstructure:"retry_attempts" validate:"gte=0"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec" validate:"gt=0"`
	Concurrency    int           `mapstructure:"concurrency" validate:"gte=1"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "DeFi Portfolio Risk Analyzer"},
		Data: DataConfig{
			DefaultPortfolioPath: "data/sample_portfolio.json",
			CachePath:            "data/cache.db",
			CacheTTL:             24 * time.Hour,
		},
		Risk: RiskConfig{
			Days:           30,
			RiskFreeRate:   0.02,
			Confidence:     0.95,
			PeriodsPerYear: engine.DefaultPeriodsPerYear,
		},
		Optimization: OptimizationConfig{
			TargetReturn:        0.10,
			MaxWeightPerAsset:   0.30,
			ShortSellingAllowed: false,
			FrontierPoints:      engine.DefaultFrontierPoints,
			MaxIterations:       50000,
			Tolerance:           1e-10,
		},
		Visualization: VisualizationConfig{
			OutputDir: "figures",
			Theme:     "light",
			Width:     900,
			Height:    600,
		},
		Logging: logger.Config{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		API: APIConfig{
			BaseURL:        "https://min-api.cryptocompare.com/data",
			Timeout:        30 * time.Second,
			RetryAttempts:  3,
			RetryDelay:     500 * time.Millisecond,
			RequestsPerSec: 5,
			Concurrency:    4,
		},
	}
}

// Load reads path (YAML) on top of the defaults. A missing file is not an
// error; the second return value reports whether a file was read. Any
// setting can be overridden with CRYPTO_RISK_<SECTION>_<KEY>, and the API key
// also comes from CRYPTOCOMPARE_API_KEY. A .env file in the working
// directory is loaded first when present.
func Load(path string) (*Config, bool, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("CRYPTO_RISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api.key", "CRYPTO_RISK_API_KEY", APIKeyEnv)

	found := false
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, false, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			found = true
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, found, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, found, err
	}
	return cfg, found, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Bounds returns per-asset weight bounds for n assets: [0, max] long-only,
// or [-max, max] when short selling is allowed.
func (c *Config) Bounds(n int) engine.Bounds {
	if c.Optimization.ShortSellingAllowed {
		return engine.ShortAllowedBounds(n, c.Optimization.MaxWeightPerAsset)
	}
	return engine.LongOnlyBounds(n, c.Optimization.MaxWeightPerAsset)
}

// MetricsParams bundles the risk settings for per-asset metrics.
func (c *Config) MetricsParams() engine.MetricsParams {
	return engine.MetricsParams{
		RiskFreeRate:   c.Risk.RiskFreeRate,
		Confidence:     c.Risk.Confidence,
		PeriodsPerYear: c.Risk.PeriodsPerYear,
	}
}

// OptimizerOptions returns the solver settings as engine options.
func (c *Config) OptimizerOptions() []engine.OptimizerOption {
	return []engine.OptimizerOption{
		engine.WithPeriodsPerYear(c.Risk.PeriodsPerYear),
		engine.WithMaxIterations(c.Optimization.MaxIterations),
		engine.WithTolerance(c.Optimization.Tolerance),
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]any{
		"app.name": d.App.Name,

		"data.default_portfolio_path": d.Data.DefaultPortfolioPath,
		"data.cache_path":             d.Data.CachePath,
		"data.cache_ttl":              d.Data.CacheTTL,

		"risk.days":             d.Risk.Days,
		"risk.risk_free_rate":   d.Risk.RiskFreeRate,
		"risk.confidence":       d.Risk.Confidence,
		"risk.periods_per_year": d.Risk.PeriodsPerYear,

		"optimization.target_return":         d.Optimization.TargetReturn,
		"optimization.max_weight_per_asset":  d.Optimization.MaxWeightPerAsset,
		"optimization.short_selling_allowed": d.Optimization.ShortSellingAllowed,
		"optimization.frontier_points":       d.Optimization.FrontierPoints,
		"optimization.max_iterations":        d.Optimization.MaxIterations,
		"optimization.tolerance":             d.Optimization.Tolerance,

		"visualization.output_dir": d.Visualization.OutputDir,
		"visualization.theme":      d.Visualization.Theme,
		"visualization.width":      d.Visualization.Width,
		"visualization.height":     d.Visualization.Height,

		"logging.level":        d.Logging.Level,
		"logging.format":       d.Logging.Format,
		"logging.file":         d.Logging.File,
		"logging.max_size_mb":  d.Logging.MaxSizeMB,
		"logging.max_backups":  d.Logging.MaxBackups,
		"logging.max_age_days": d.Logging.MaxAgeDays,
		"logging.compress":     d.Logging.Compress,

		"server.port":          d.Server.Port,
		"server.read_timeout":  d.Server.ReadTimeout,
		"server.write_timeout": d.Server.WriteTimeout,

		"api.base_url":         d.API.BaseURL,
		"api.key":              d.API.Key,
		"api.timeout":          d.API.Timeout,
		"api.retry_attempts":   d.API.RetryAttempts,
		"api.retry_delay":      d.API.RetryDelay,
		"api.requests_per_sec": d.API.RequestsPerSec,
		"api.concurrency":      d.API.Concurrency,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// EnsureDir creates dir (and parents) when missing.
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
