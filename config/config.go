// Package config carga la configuración del trader desde YAML más el .env.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del trader.
type Config struct {
	Trading  TradingConfig  `yaml:"trading"`
	Risk     RiskConfig     `yaml:"risk"`
	Executor ExecutorConfig `yaml:"executor"`
	Engine   EngineConfig   `yaml:"engine"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`

	// Credenciales L2 del CLOB; sólo por variables de entorno, nunca YAML.
	Credentials CredentialsConfig `yaml:"-"`
}

// TradingConfig gobierna el sizing y la agregación de señales.
type TradingConfig struct {
	MinEdge            float64 `yaml:"min_edge"`
	MinConfidence      float64 `yaml:"min_confidence"`
	KellyFraction      float64 `yaml:"kelly_fraction"`
	MaxPositionPct     float64 `yaml:"max_position_pct"`
	DynamicEdge        bool    `yaml:"dynamic_edge"`
	ConflictMode       string  `yaml:"conflict_mode"` // majority | highest_confidence | conservative | historical_accuracy
	ConsensusThreshold float64 `yaml:"consensus_threshold"`
	StopLossPct        float64 `yaml:"stop_loss_pct"`
	TakeProfitPct      float64 `yaml:"take_profit_pct"`
	InitialBalance     float64 `yaml:"initial_balance"` // base del factor de crecimiento; en paper, el balance simulado
}

// RiskConfig gobierna el gate de admisión y el limitador diario.
type RiskConfig struct {
	MaxDailyLossPct     float64 `yaml:"max_daily_loss_pct"`
	MaxDailyLossAbs     float64 `yaml:"max_daily_loss_abs"`
	CooldownHours       float64 `yaml:"cooldown_hours"`
	MaxTradesPerDay     int     `yaml:"max_trades_per_day"`
	MaxOpenPositions    int     `yaml:"max_open_positions"`
	MaxTotalExposurePct float64 `yaml:"max_total_exposure_pct"`
	MaxCategoryPct      float64 `yaml:"max_category_pct"`
	MaxCorrelatedPct    float64 `yaml:"max_correlated_pct"`
	BalanceReservePct   float64 `yaml:"balance_reserve_pct"`
	MinTradeUSD         float64 `yaml:"min_trade_usd"`

	// Grupos de categorías correlacionadas, p.ej.
	// politics: [politics, elections, geopolitics]
	CorrelationGroups map[string][]string `yaml:"correlation_groups"`
}

// ExecutorConfig gobierna la ejecución de órdenes.
type ExecutorConfig struct {
	MaxSlippage         float64 `yaml:"max_slippage"`
	MaxRetries          int     `yaml:"max_retries"`
	RetryBackoffSeconds float64 `yaml:"retry_backoff_seconds"`
	BackoffFactor       float64 `yaml:"backoff_factor"` // 1.0 = fijo; 2.0 = exponencial
	PollIntervalSeconds float64 `yaml:"poll_interval_seconds"`
	OrderTimeoutSeconds float64 `yaml:"order_timeout_seconds"`
	MaxHoldingDays      int     `yaml:"max_holding_days"`
}

// EngineConfig gobierna el loop de evaluación.
type EngineConfig struct {
	CycleSeconds         int  `yaml:"cycle_seconds"`
	CycleDeadlineSeconds int  `yaml:"cycle_deadline_seconds"`
	SnapshotMaxAgeSecs   int  `yaml:"snapshot_max_age_seconds"`
	TradeCooldownMinutes int  `yaml:"trade_cooldown_minutes"`
	MaxConcurrent        int  `yaml:"max_concurrent"`
	AutoRebalance        bool `yaml:"auto_rebalance"`
}

// APIConfig contiene los base URLs de las APIs de Polymarket.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	WSBase    string `yaml:"ws_base"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// CredentialsConfig son las credenciales L2 del CLOB.
type CredentialsConfig struct {
	APIKey     string
	Secret     string
	Passphrase string
	Address    string
}

// Present devuelve true si hay credenciales completas para trading real.
func (c CredentialsConfig) Present() bool {
	return c.APIKey != "" && c.Secret != "" && c.Passphrase != "" && c.Address != ""
}

// Load carga la configuración desde el archivo YAML y el archivo .env si
// existe. Las credenciales llegan sólo por entorno.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CycleInterval devuelve el intervalo del loop como time.Duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Engine.CycleSeconds) * time.Second
}

// CycleDeadline devuelve el deadline por ciclo.
func (c *Config) CycleDeadline() time.Duration {
	return time.Duration(c.Engine.CycleDeadlineSeconds) * time.Second
}

// SnapshotMaxAge devuelve la edad máxima aceptable de un snapshot.
func (c *Config) SnapshotMaxAge() time.Duration {
	return time.Duration(c.Engine.SnapshotMaxAgeSecs) * time.Second
}

// TradeCooldown devuelve el cooldown por mercado.
func (c *Config) TradeCooldown() time.Duration {
	return time.Duration(c.Engine.TradeCooldownMinutes) * time.Minute
}

// RetryBackoff devuelve el backoff base del executor.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Executor.RetryBackoffSeconds * float64(time.Second))
}

// PollInterval devuelve la cadencia de polling de órdenes.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Executor.PollIntervalSeconds * float64(time.Second))
}

// OrderTimeout devuelve la vida máxima de una orden hija.
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Executor.OrderTimeoutSeconds * float64(time.Second))
}

// MaxHolding devuelve la antigüedad máxima de una posición.
func (c *Config) MaxHolding() time.Duration {
	return time.Duration(c.Executor.MaxHoldingDays) * 24 * time.Hour
}

// Cooldown devuelve la duración del freeze del limitador diario.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Risk.CooldownHours * float64(time.Hour))
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TRADER_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	cfg.Credentials = CredentialsConfig{
		APIKey:     os.Getenv("POLY_API_KEY"),
		Secret:     os.Getenv("POLY_SECRET"),
		Passphrase: os.Getenv("POLY_PASSPHRASE"),
		Address:    os.Getenv("POLY_ADDRESS"),
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Trading.MinEdge <= 0 {
		cfg.Trading.MinEdge = 0.06
	}
	if cfg.Trading.MinConfidence <= 0 {
		cfg.Trading.MinConfidence = 0.60
	}
	if cfg.Trading.KellyFraction <= 0 {
		cfg.Trading.KellyFraction = 0.35
	}
	if cfg.Trading.MaxPositionPct <= 0 {
		cfg.Trading.MaxPositionPct = 0.05
	}
	if cfg.Trading.ConflictMode == "" {
		cfg.Trading.ConflictMode = "majority"
	}
	if cfg.Trading.ConsensusThreshold <= 0 {
		cfg.Trading.ConsensusThreshold = 0.60
	}
	if cfg.Trading.StopLossPct <= 0 {
		cfg.Trading.StopLossPct = 0.25
	}
	if cfg.Trading.TakeProfitPct <= 0 {
		cfg.Trading.TakeProfitPct = 0.30
	}
	if cfg.Trading.InitialBalance <= 0 {
		cfg.Trading.InitialBalance = 1000
	}

	if cfg.Risk.MaxDailyLossPct <= 0 {
		cfg.Risk.MaxDailyLossPct = 0.10
	}
	if cfg.Risk.CooldownHours <= 0 {
		cfg.Risk.CooldownHours = 4
	}
	if cfg.Risk.MaxTradesPerDay <= 0 {
		cfg.Risk.MaxTradesPerDay = 20
	}
	if cfg.Risk.MaxOpenPositions <= 0 {
		cfg.Risk.MaxOpenPositions = 10
	}
	if cfg.Risk.MaxTotalExposurePct <= 0 {
		cfg.Risk.MaxTotalExposurePct = 0.50
	}
	if cfg.Risk.MaxCategoryPct <= 0 {
		cfg.Risk.MaxCategoryPct = 0.20
	}
	if cfg.Risk.MaxCorrelatedPct <= 0 {
		cfg.Risk.MaxCorrelatedPct = 0.25
	}
	if cfg.Risk.BalanceReservePct <= 0 {
		cfg.Risk.BalanceReservePct = 0.10
	}
	if cfg.Risk.MinTradeUSD <= 0 {
		cfg.Risk.MinTradeUSD = 1
	}

	if cfg.Executor.MaxSlippage <= 0 {
		cfg.Executor.MaxSlippage = 0.02
	}
	if cfg.Executor.MaxRetries <= 0 {
		cfg.Executor.MaxRetries = 3
	}
	if cfg.Executor.RetryBackoffSeconds <= 0 {
		cfg.Executor.RetryBackoffSeconds = 2
	}
	if cfg.Executor.BackoffFactor <= 0 {
		cfg.Executor.BackoffFactor = 2.0
	}
	if cfg.Executor.PollIntervalSeconds <= 0 {
		cfg.Executor.PollIntervalSeconds = 1
	}
	if cfg.Executor.OrderTimeoutSeconds <= 0 {
		cfg.Executor.OrderTimeoutSeconds = 45
	}
	if cfg.Executor.MaxHoldingDays <= 0 {
		cfg.Executor.MaxHoldingDays = 14
	}

	if cfg.Engine.CycleSeconds <= 0 {
		cfg.Engine.CycleSeconds = 180
	}
	if cfg.Engine.CycleDeadlineSeconds <= 0 {
		cfg.Engine.CycleDeadlineSeconds = 120
	}
	if cfg.Engine.SnapshotMaxAgeSecs <= 0 {
		cfg.Engine.SnapshotMaxAgeSecs = 60
	}
	if cfg.Engine.TradeCooldownMinutes <= 0 {
		cfg.Engine.TradeCooldownMinutes = 30
	}
	if cfg.Engine.MaxConcurrent <= 0 {
		cfg.Engine.MaxConcurrent = 8
	}

	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.WSBase == "" {
		cfg.API.WSBase = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polytrader.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate rechaza configuraciones sin sentido antes de arrancar: un error
// aquí es fatal, mejor fallar ahora que operar mal dimensionado.
func validate(cfg *Config) error {
	check := func(name string, v, lo, hi float64) error {
		if v < lo || v > hi {
			return fmt.Errorf("config: %s = %.4f out of range [%.2f, %.2f]", name, v, lo, hi)
		}
		return nil
	}

	checks := []error{
		check("trading.min_edge", cfg.Trading.MinEdge, 0, 0.5),
		check("trading.min_confidence", cfg.Trading.MinConfidence, 0, 1),
		check("trading.kelly_fraction", cfg.Trading.KellyFraction, 0, 1),
		check("trading.max_position_pct", cfg.Trading.MaxPositionPct, 0, 0.5),
		check("trading.consensus_threshold", cfg.Trading.ConsensusThreshold, 0.5, 1),
		check("trading.stop_loss_pct", cfg.Trading.StopLossPct, 0, 1),
		check("risk.max_daily_loss_pct", cfg.Risk.MaxDailyLossPct, 0, 0.5),
		check("risk.max_total_exposure_pct", cfg.Risk.MaxTotalExposurePct, 0, 1),
		check("risk.max_category_pct", cfg.Risk.MaxCategoryPct, 0, 1),
		check("risk.balance_reserve_pct", cfg.Risk.BalanceReservePct, 0, 0.9),
		check("executor.max_slippage", cfg.Executor.MaxSlippage, 0, 0.2),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	switch cfg.Trading.ConflictMode {
	case "majority", "highest_confidence", "conservative", "historical_accuracy":
	default:
		return fmt.Errorf("config: unknown trading.conflict_mode %q", cfg.Trading.ConflictMode)
	}
	return nil
}
