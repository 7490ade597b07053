package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pool-risk-metrics/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Subgraph  SubgraphConfig  `mapstructure:"subgraph"`
	Collector CollectorConfig `mapstructure:"collector"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
	Quotes    []QuoteConfig   `mapstructure:"quotes"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the metrics cycle cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToCycle    bool          `mapstructure:"align_to_cycle"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EthereumConfig covers on-chain data access for the collector.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SubgraphConfig points the collector at a blocks subgraph for resolving
// block numbers from timestamps.
type SubgraphConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffStep    time.Duration `mapstructure:"backoff_step"`
}

// CollectorConfig governs cumulative sampling cadence.
type CollectorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// MetricsConfig parameterises TWAP extraction and VaR estimation.
type MetricsConfig struct {
	// PointsDays is the history lookback, in days, pulled per cycle.
	PointsDays int `mapstructure:"points_days"`
	// Window is the target TWAP window in seconds.
	Window int `mapstructure:"window"`
	// Period is the expected sampling spacing in seconds; it is also the
	// time unit of the mu/sigSqrd rates.
	Period int `mapstructure:"period"`
	// Tolerance is the allowed deviation of a dynamic window from Window,
	// in seconds.
	Tolerance int `mapstructure:"tolerance"`
	// Alphas are VaR exceedance probabilities in (0,1).
	Alphas []float64 `mapstructure:"alphas"`
	// Horizons are VaR horizons in units of Period.
	Horizons []int `mapstructure:"horizons"`
	// EnforceHistory skips series spanning fewer than PointsDays-1 days.
	EnforceHistory bool `mapstructure:"enforce_history"`
	// Workers bounds the fan-out across quotes within one cycle.
	Workers int `mapstructure:"workers"`
}

// AlertingConfig defines VaR threshold alerting.
type AlertingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Threshold triggers a notification when the magnitude of the first
	// grid cell (tightest configured alpha at the shortest horizon)
	// exceeds it.
	Threshold float64        `mapstructure:"threshold"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig routes alerts through a Telegram bot.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// QuoteConfig describes one monitored pool.
type QuoteConfig struct {
	// ID names the pair, e.g. "WETH / USDC".
	ID string `mapstructure:"id"`
	// Pair is the pool contract address.
	Pair string `mapstructure:"pair"`
	// Kind selects the windowing algorithm: "univ2" (fixed-point price
	// cumulatives, fixed window) or "univ3" (tick cumulatives, dynamic
	// window).
	Kind       string  `mapstructure:"kind"`
	Token0Name string  `mapstructure:"token0_name"`
	Token1Name string  `mapstructure:"token1_name"`
	AmountIn   float64 `mapstructure:"amount_in"`
	// TimeDeployed is the pool deployment time, unix seconds; collection
	// starts shortly after it when no samples exist yet.
	TimeDeployed int64 `mapstructure:"time_deployed"`
}

const (
	KindUniV2 = "univ2"
	KindUniV3 = "univ3"
)

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "poolrisk")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_cycle", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x706f6f6c))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("subgraph.request_timeout", "10s")
	v.SetDefault("subgraph.max_attempts", 5)
	v.SetDefault("subgraph.backoff_step", "10s")

	v.SetDefault("collector.interval", "1m")

	v.SetDefault("metrics.points_days", 30)
	v.SetDefault("metrics.window", 3600)
	v.SetDefault("metrics.period", 600)
	v.SetDefault("metrics.tolerance", 300)
	v.SetDefault("metrics.alphas", []float64{0.05, 0.01, 0.001, 0.0001})
	v.SetDefault("metrics.horizons", []int{144, 1008, 2016, 4320})
	v.SetDefault("metrics.enforce_history", false)
	v.SetDefault("metrics.workers", 4)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold", 0.5)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values. Failures here
// are fatal before any series is processed.
func (c *Config) Validate() error {
	if c.Metrics.Window <= 0 {
		return fmt.Errorf("metrics.window must be greater than zero")
	}
	if c.Metrics.Period <= 0 {
		return fmt.Errorf("metrics.period must be greater than zero")
	}
	if c.Metrics.Tolerance < 0 {
		return fmt.Errorf("metrics.tolerance cannot be negative")
	}
	if c.Metrics.PointsDays <= 0 {
		return fmt.Errorf("metrics.points_days must be greater than zero")
	}
	if len(c.Metrics.Alphas) == 0 {
		return fmt.Errorf("metrics.alphas must not be empty")
	}
	for _, a := range c.Metrics.Alphas {
		if a <= 0 || a >= 1 {
			return fmt.Errorf("metrics.alphas values must be in (0,1), got %v", a)
		}
	}
	if len(c.Metrics.Horizons) == 0 {
		return fmt.Errorf("metrics.horizons must not be empty")
	}
	for _, n := range c.Metrics.Horizons {
		if n <= 0 {
			return fmt.Errorf("metrics.horizons values must be positive, got %d", n)
		}
	}
	if c.Metrics.Workers <= 0 {
		return fmt.Errorf("metrics.workers must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	for i, q := range c.Quotes {
		if q.ID == "" {
			return fmt.Errorf("quotes[%d].id is required", i)
		}
		switch q.Kind {
		case KindUniV2:
			if q.AmountIn <= 0 {
				return fmt.Errorf("quotes[%d].amount_in must be positive for %s pools", i, KindUniV2)
			}
		case KindUniV3:
		default:
			return fmt.Errorf("quotes[%d].kind must be %q or %q, got %q", i, KindUniV2, KindUniV3, q.Kind)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
