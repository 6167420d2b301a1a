package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned by Validate for values the scanner cannot run with.
var ErrInvalidConfig = errors.New("invalid config")

// Trading modes.
const (
	ModeScan     = "scan"
	ModeSimulate = "simulate"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Trading    TradingConfig
	Risk       RiskConfig
	Detector   DetectorConfig
	Execution  ExecutionConfig
	Simulation SimulationConfig
	Exchanges  map[string]ExchangeConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Metrics    MetricsConfig
	Log        LogConfig
}

// TradingConfig controls the scan loop.
type TradingConfig struct {
	Mode            string             `mapstructure:"mode"`
	Symbols         []string           `mapstructure:"symbols"`
	InitialBalances map[string]float64 `mapstructure:"initial_balances"`
	InitialValueUSD float64            `mapstructure:"initial_value_usd"`
	ScanInterval    time.Duration      `mapstructure:"scan_interval"`
	// Duration of zero runs until cancelled.
	Duration time.Duration `mapstructure:"duration"`
}

// RiskConfig holds the limits enforced before a trade is executed.
type RiskConfig struct {
	MaxPositionUSD     float64 `mapstructure:"max_position_usd"`
	MaxExposureUSD     float64 `mapstructure:"max_exposure_usd"`
	MaxDrawdownPercent float64 `mapstructure:"max_drawdown_percent"`
	MinProfitPercent   float64 `mapstructure:"min_profit_percent"`
	MaxRiskScore       float64 `mapstructure:"max_risk_score"`
	MaxLossPercent     float64 `mapstructure:"max_loss_percent"`
}

// RiskWeights weight the three factors of the opportunity risk score.
type RiskWeights struct {
	Profit   float64 `mapstructure:"profit"`
	Slippage float64 `mapstructure:"slippage"`
	Volume   float64 `mapstructure:"volume"`
}

// DetectorConfig tunes opportunity detection.
type DetectorConfig struct {
	OpportunityWindow     time.Duration `mapstructure:"opportunity_window"`
	OrderbookDepth        int           `mapstructure:"orderbook_depth"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	MinDepthVolume        float64       `mapstructure:"min_depth_volume"`
	RiskWeights           RiskWeights   `mapstructure:"risk_weights"`
	// Values at which a risk factor reaches zero (profit, volume) or one (slippage).
	ProfitScale   float64 `mapstructure:"profit_scale"`
	SlippageScale float64 `mapstructure:"slippage_scale"`
	VolumeScale   float64 `mapstructure:"volume_scale"`
}

// ExecutionConfig tunes the paper trader, its validator and slippage model.
type ExecutionConfig struct {
	MinFillRatio       float64       `mapstructure:"min_fill_ratio"`
	MaxPriceDeviation  float64       `mapstructure:"max_price_deviation"`
	MaxSpreadPercent   float64       `mapstructure:"max_spread_percent"`
	MaxOrderbookAge    time.Duration `mapstructure:"max_orderbook_age"`
	BaseSlippageBps    float64       `mapstructure:"base_slippage_bps"`
	VolumeImpactFactor float64       `mapstructure:"volume_impact_factor"`
	VolatilityFactor   float64       `mapstructure:"volatility_factor"`
	MaxSlippagePercent float64       `mapstructure:"max_slippage_percent"`
	RandomFactorMin    float64       `mapstructure:"random_factor_min"`
	RandomFactorMax    float64       `mapstructure:"random_factor_max"`
	DepthFactorMin     float64       `mapstructure:"depth_factor_min"`
	DepthFactorMax     float64       `mapstructure:"depth_factor_max"`
	LatencyMin         time.Duration `mapstructure:"latency_min"`
	LatencyMax         time.Duration `mapstructure:"latency_max"`
	// Seed of zero seeds from the clock.
	Seed uint64 `mapstructure:"seed"`
}

// SimulationConfig drives the synthetic opportunity generator.
type SimulationConfig struct {
	OpportunityRate  float64 `mapstructure:"opportunity_rate"`
	MinProfitPercent float64 `mapstructure:"min_profit_percent"`
	MaxProfitPercent float64 `mapstructure:"max_profit_percent"`
	SuccessRate      float64 `mapstructure:"success_rate"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// DSN returns the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.DBName)
}

// RedisConfig defines the presentation feed connection.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Prefix    string `mapstructure:"prefix"`
	StreamLen int64  `mapstructure:"stream_len"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ExchangeConfig defines settings for a specific exchange.
type ExchangeConfig struct {
	// Type selects the client implementation and defaults to the exchange name.
	Type            string        `mapstructure:"type"`
	Enabled         bool          `mapstructure:"enabled"`
	TakerFeePercent float64       `mapstructure:"taker_fee_percent"`
	MakerFeePercent float64       `mapstructure:"maker_fee_percent"`
	APIKey          string        `mapstructure:"api_key"`
	APISecret       string        `mapstructure:"api_secret"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	// WSURL overrides the exchange's public websocket endpoint.
	WSURL string `mapstructure:"ws_url"`
	// BasePrices seed the simulated exchange, keyed by symbol.
	BasePrices map[string]float64 `mapstructure:"base_prices"`
}

// SetDefaults registers a default for every knob so an empty file is valid.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", ModeScan)
	v.SetDefault("trading.symbols", []string{"BTC/USDT", "ETH/USDT"})
	v.SetDefault("trading.initial_balances", map[string]float64{
		"USD":  10000,
		"USDT": 10000,
		"BTC":  1,
		"ETH":  10,
	})
	v.SetDefault("trading.initial_value_usd", 10000.0)
	v.SetDefault("trading.scan_interval", 500*time.Millisecond)
	v.SetDefault("trading.duration", time.Duration(0))

	v.SetDefault("risk.max_position_usd", 1000.0)
	v.SetDefault("risk.max_exposure_usd", 5000.0)
	v.SetDefault("risk.max_drawdown_percent", 10.0)
	v.SetDefault("risk.min_profit_percent", 0.1)
	v.SetDefault("risk.max_risk_score", 0.8)
	v.SetDefault("risk.max_loss_percent", 1.0)

	v.SetDefault("detector.opportunity_window", 5*time.Second)
	v.SetDefault("detector.orderbook_depth", 20)
	v.SetDefault("detector.max_concurrent_requests", 50)
	v.SetDefault("detector.min_depth_volume", 0.01)
	v.SetDefault("detector.risk_weights.profit", 0.3)
	v.SetDefault("detector.risk_weights.slippage", 0.4)
	v.SetDefault("detector.risk_weights.volume", 0.3)
	v.SetDefault("detector.profit_scale", 10.0)
	v.SetDefault("detector.slippage_scale", 5.0)
	v.SetDefault("detector.volume_scale", 10.0)

	v.SetDefault("execution.min_fill_ratio", 0.95)
	v.SetDefault("execution.max_price_deviation", 0.01)
	v.SetDefault("execution.max_spread_percent", 0.5)
	v.SetDefault("execution.max_orderbook_age", 100*time.Millisecond)
	v.SetDefault("execution.base_slippage_bps", 5.0)
	v.SetDefault("execution.volume_impact_factor", 0.1)
	v.SetDefault("execution.volatility_factor", 0.5)
	v.SetDefault("execution.max_slippage_percent", 2.0)
	v.SetDefault("execution.random_factor_min", 0.8)
	v.SetDefault("execution.random_factor_max", 1.2)
	v.SetDefault("execution.depth_factor_min", 0.9)
	v.SetDefault("execution.depth_factor_max", 1.1)
	v.SetDefault("execution.latency_min", 10*time.Millisecond)
	v.SetDefault("execution.latency_max", 50*time.Millisecond)
	v.SetDefault("execution.seed", 0)

	v.SetDefault("simulation.opportunity_rate", 0.4)
	v.SetDefault("simulation.min_profit_percent", 0.03)
	v.SetDefault("simulation.max_profit_percent", 0.35)
	v.SetDefault("simulation.success_rate", 0.75)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "referee")
	v.SetDefault("database.dbname", "referee")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "arb")
	v.SetDefault("redis.stream_len", 1000)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config: %w", err)
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}

	for name, ex := range config.Exchanges {
		if ex.Type == "" {
			ex.Type = name
		}
		if ex.CacheTTL <= 0 {
			ex.CacheTTL = time.Second
		}
		config.Exchanges[name] = ex
	}

	err = config.Validate()
	return
}

// EnabledExchanges returns the names of all enabled exchanges, sorted.
func (c *Config) EnabledExchanges() []string {
	var names []string
	for name, ex := range c.Exchanges {
		if ex.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate rejects values the scanner cannot run with.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case ModeScan, ModeSimulate:
	default:
		return fmt.Errorf("%w: trading.mode %q", ErrInvalidConfig, c.Trading.Mode)
	}
	if c.Trading.Mode == ModeScan && len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("%w: trading.symbols is empty", ErrInvalidConfig)
	}
	if c.Trading.InitialValueUSD <= 0 {
		return fmt.Errorf("%w: trading.initial_value_usd must be positive", ErrInvalidConfig)
	}
	if c.Trading.ScanInterval <= 0 {
		return fmt.Errorf("%w: trading.scan_interval must be positive", ErrInvalidConfig)
	}
	if c.Risk.MaxPositionUSD <= 0 || c.Risk.MaxExposureUSD <= 0 {
		return fmt.Errorf("%w: risk position and exposure limits must be positive", ErrInvalidConfig)
	}
	if c.Risk.MaxDrawdownPercent <= 0 || c.Risk.MaxDrawdownPercent > 100 {
		return fmt.Errorf("%w: risk.max_drawdown_percent out of range", ErrInvalidConfig)
	}
	if c.Risk.MaxRiskScore < 0 || c.Risk.MaxRiskScore > 1 {
		return fmt.Errorf("%w: risk.max_risk_score must be within [0,1]", ErrInvalidConfig)
	}
	if c.Detector.OrderbookDepth <= 0 || c.Detector.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("%w: detector depth and concurrency must be positive", ErrInvalidConfig)
	}
	if c.Detector.OpportunityWindow <= 0 {
		return fmt.Errorf("%w: detector.opportunity_window must be positive", ErrInvalidConfig)
	}
	if c.Execution.MinFillRatio <= 0 || c.Execution.MinFillRatio > 1 {
		return fmt.Errorf("%w: execution.min_fill_ratio must be within (0,1]", ErrInvalidConfig)
	}
	if c.Execution.RandomFactorMin > c.Execution.RandomFactorMax ||
		c.Execution.DepthFactorMin > c.Execution.DepthFactorMax {
		return fmt.Errorf("%w: execution random factor ranges are inverted", ErrInvalidConfig)
	}
	if c.Execution.LatencyMin < 0 || c.Execution.LatencyMin > c.Execution.LatencyMax {
		return fmt.Errorf("%w: execution latency range is invalid", ErrInvalidConfig)
	}
	if c.Simulation.MinProfitPercent > c.Simulation.MaxProfitPercent {
		return fmt.Errorf("%w: simulation profit range is inverted", ErrInvalidConfig)
	}
	for name, ex := range c.Exchanges {
		if ex.TakerFeePercent < 0 || ex.MakerFeePercent < 0 {
			return fmt.Errorf("%w: exchanges.%s fees must not be negative", ErrInvalidConfig, name)
		}
	}
	return nil
}
