package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polytrader/config"
	"github.com/alejandrodnm/polytrader/internal/adapters/notify"
	"github.com/alejandrodnm/polytrader/internal/adapters/orderflow"
	"github.com/alejandrodnm/polytrader/internal/adapters/paper"
	"github.com/alejandrodnm/polytrader/internal/adapters/polymarket"
	"github.com/alejandrodnm/polytrader/internal/adapters/storage"
	"github.com/alejandrodnm/polytrader/internal/application/aggregator"
	"github.com/alejandrodnm/polytrader/internal/application/engine"
	"github.com/alejandrodnm/polytrader/internal/application/executor"
	"github.com/alejandrodnm/polytrader/internal/application/risk"
	"github.com/alejandrodnm/polytrader/internal/application/sizer"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one evaluation cycle and exit")
	paperMode := flag.Bool("paper", false, "paper trading: simulated fills, no real orders")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)
	logger := slog.Default()

	// Sin credenciales completas no hay trading real: caer a paper.
	if !*paperMode && !cfg.Credentials.Present() {
		slog.Warn("no CLOB credentials in environment; falling back to paper trading")
		*paperMode = true
	}

	slog.Info("polytrader starting",
		"config", *configPath,
		"cycle", cfg.CycleInterval(),
		"paper", *paperMode,
		"once", *once,
		"conflict_mode", cfg.Trading.ConflictMode,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	execClient, err := buildExecutionClient(*paperMode, cfg, client, logger)
	if err != nil {
		slog.Error("failed to build execution client", "err", err)
		os.Exit(1)
	}

	balance, err := execClient.GetBalance(ctx)
	if err != nil {
		slog.Error("failed to fetch balance", "err", err)
		os.Exit(1)
	}
	slog.Info("account ready", "balance_usd", balance)

	riskState, err := loadRiskState(ctx, store, balance)
	if err != nil {
		slog.Error("failed to load risk snapshot", "err", err)
		os.Exit(1)
	}

	var correlator risk.Correlator = risk.CategoryCorrelator{}
	if len(cfg.Risk.CorrelationGroups) > 0 {
		correlator = risk.NewGroupCorrelator(cfg.Risk.CorrelationGroups)
	}
	riskMgr := risk.NewManager(buildRiskConfig(cfg), riskState, correlator, logger)

	accuracy := aggregator.NewAccuracyTracker()
	agg := aggregator.New(buildAggregatorConfig(cfg), accuracy)

	szr := sizer.New(sizer.Config{
		MinEdge:        cfg.Trading.MinEdge,
		MinConfidence:  cfg.Trading.MinConfidence,
		KellyFraction:  cfg.Trading.KellyFraction,
		MaxPositionPct: cfg.Trading.MaxPositionPct,
		DynamicEdge:    cfg.Trading.DynamicEdge,
	}, nil)

	exec := executor.New(buildExecutorConfig(cfg), execClient, logger)

	exitCfg := executor.DefaultExitConfig()
	exitCfg.MaxHolding = cfg.MaxHolding()

	// Fuentes de señales. La fuente model_estimate necesita un
	// ProbabilityEstimator externo y se conecta aquí cuando haya uno.
	stream := polymarket.NewStream(cfg.API.WSBase, logger)
	sources := []ports.SignalSource{
		orderflow.NewSource(stream, client, logger),
	}

	notifier := notify.NewConsole(*paperMode, *verbose)

	engCfg := engine.Config{
		CycleInterval:   cfg.CycleInterval(),
		CycleDeadline:   cfg.CycleDeadline(),
		SnapshotMaxAge:  cfg.SnapshotMaxAge(),
		TradeCooldown:   cfg.TradeCooldown(),
		MaxConcurrent:   cfg.Engine.MaxConcurrent,
		AutoRebalance:   cfg.Engine.AutoRebalance,
		BaselineBalance: cfg.Trading.InitialBalance,
		StopLossPct:     cfg.Trading.StopLossPct,
		TakeProfitPct:   cfg.Trading.TakeProfitPct,
	}

	eng, err := engine.New(engCfg, engine.Deps{
		Markets:  client,
		Books:    client,
		Exec:     exec,
		Storage:  store,
		Notifier: notifier,
		Sources:  sources,
		Agg:      agg,
		Accuracy: accuracy,
		Sizer:    szr,
		Risk:     riskMgr,
		ExitCfg:  exitCfg,
		Logger:   logger,
	})
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		os.Exit(1)
	}

	if *once {
		if err := eng.RunOnce(ctx, 10*time.Second); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("cycle failed", "err", err)
			os.Exit(1)
		}
		slog.Info("single cycle complete")
		return
	}

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("polytrader stopped cleanly")
}

// buildExecutionClient devuelve el cliente simulado en paper o el transport
// real del CLOB con credenciales L2.
func buildExecutionClient(paperMode bool, cfg *config.Config, client *polymarket.Client, logger *slog.Logger) (ports.ExecutionClient, error) {
	if paperMode {
		return paper.NewClient(cfg.Trading.InitialBalance, logger), nil
	}
	return polymarket.NewTradingClient(client, polymarket.Credentials{
		APIKey:     cfg.Credentials.APIKey,
		Secret:     cfg.Credentials.Secret,
		Passphrase: cfg.Credentials.Passphrase,
		Address:    cfg.Credentials.Address,
	})
}

// loadRiskState rehidrata el estado de riesgo del día desde storage, o crea
// uno limpio con el balance actual si no hay snapshot.
func loadRiskState(ctx context.Context, store *storage.SQLiteStorage, balance float64) (*domain.RiskState, error) {
	today := time.Now().UTC()
	snap, found, err := store.LoadRiskSnapshot(ctx, today)
	if err != nil {
		return nil, err
	}
	if found {
		slog.Info("risk state restored from snapshot",
			"daily_pnl", snap.DailyPnL,
			"open_positions", snap.OpenPositions,
		)
		return &snap, nil
	}
	return domain.NewRiskState(today, balance), nil
}

func buildRiskConfig(cfg *config.Config) risk.Config {
	rc := risk.DefaultConfig()
	rc.MaxDailyLossPct = cfg.Risk.MaxDailyLossPct
	rc.MaxDailyLossAbs = cfg.Risk.MaxDailyLossAbs
	rc.Cooldown = cfg.Cooldown()
	rc.MaxTradesPerDay = cfg.Risk.MaxTradesPerDay
	rc.MaxOpenPositions = cfg.Risk.MaxOpenPositions
	rc.MaxTotalExposurePct = cfg.Risk.MaxTotalExposurePct
	rc.MaxCategoryPct = cfg.Risk.MaxCategoryPct
	rc.MaxCorrelatedPct = cfg.Risk.MaxCorrelatedPct
	rc.BalanceReservePct = cfg.Risk.BalanceReservePct
	rc.MinTradeUSD = cfg.Risk.MinTradeUSD
	return rc
}

func buildAggregatorConfig(cfg *config.Config) aggregator.Config {
	ac := aggregator.DefaultConfig()
	ac.Mode = aggregator.ConflictMode(cfg.Trading.ConflictMode)
	ac.ConsensusThreshold = cfg.Trading.ConsensusThreshold
	return ac
}

func buildExecutorConfig(cfg *config.Config) executor.Config {
	ec := executor.DefaultConfig()
	ec.MaxSlippage = cfg.Executor.MaxSlippage
	ec.MaxRetries = cfg.Executor.MaxRetries
	ec.RetryBackoff = cfg.RetryBackoff()
	ec.BackoffFactor = cfg.Executor.BackoffFactor
	ec.PollInterval = cfg.PollInterval()
	ec.OrderTimeout = cfg.OrderTimeout()
	return ec
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
