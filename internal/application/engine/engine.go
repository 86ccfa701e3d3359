// Package engine orquesta el ciclo de evaluación: fuentes de señales →
// aggregator → sizer → risk manager → executor, más el monitoreo de salidas
// y la reconciliación de resultados contra riesgo, accuracy y storage.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/polytrader/internal/application/aggregator"
	"github.com/alejandrodnm/polytrader/internal/application/executor"
	"github.com/alejandrodnm/polytrader/internal/application/risk"
	"github.com/alejandrodnm/polytrader/internal/application/sizer"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
	"github.com/robfig/cron/v3"
)

const (
	defaultCycleInterval  = 3 * time.Minute
	defaultCycleDeadline  = 2 * time.Minute
	defaultSnapshotMaxAge = time.Minute
	defaultMaxConcurrent  = 8
	defaultTradeCooldown  = 30 * time.Minute

	// Cron specs en UTC.
	rolloverSpec  = "0 0 * * *"    // medianoche: cierre de día
	optimizerSpec = "0 */6 * * *"  // revisión de cartera
	flushSpec     = "*/10 * * * *" // retry de cierres pendientes
)

// Config son los parámetros operativos del engine.
type Config struct {
	CycleInterval   time.Duration
	CycleDeadline   time.Duration // deadline por ciclo; lo no terminado se reintenta el ciclo siguiente
	SnapshotMaxAge  time.Duration // snapshots más viejos se saltan como stale
	TradeCooldown   time.Duration // un mercado operado no se vuelve a operar antes de esto
	MaxConcurrent   int           // evaluaciones de mercado en paralelo
	AutoRebalance   bool          // ejecutar (no sólo publicar) sugerencias del optimizador
	BaselineBalance float64       // balance inicial, base del factor de crecimiento del sizer
	StopLossPct     float64       // stop de posición como fracción bajo el precio de entrada
	TakeProfitPct   float64       // take profit como fracción sobre el precio de entrada
}

// DefaultConfig devuelve la configuración de producción.
func DefaultConfig() Config {
	return Config{
		CycleInterval:  defaultCycleInterval,
		CycleDeadline:  defaultCycleDeadline,
		SnapshotMaxAge: defaultSnapshotMaxAge,
		TradeCooldown:  defaultTradeCooldown,
		MaxConcurrent:  defaultMaxConcurrent,
		StopLossPct:    0.25,
		TakeProfitPct:  0.30,
	}
}

// Deps agrupa las dependencias del engine.
type Deps struct {
	Markets   ports.MarketProvider
	Books     ports.BookProvider
	Exec      *executor.Executor
	Storage   ports.Storage
	Notifier  ports.Notifier
	Sources   []ports.SignalSource
	Agg       *aggregator.Aggregator
	Accuracy  *aggregator.AccuracyTracker
	Sizer     *sizer.Sizer
	Risk      *risk.Manager
	Optimizer *risk.Optimizer
	ExitCfg   executor.ExitConfig
	Logger    *slog.Logger
}

// dayCounters acumula los contadores del día para el resumen diario.
type dayCounters struct {
	admitted int
	reduced  int
	rejected int
	placed   int
	filled   int
	failed   int
}

// Engine es el orquestador del sistema.
type Engine struct {
	cfg  Config
	deps Deps

	queue *signalQueue

	mu               sync.Mutex
	positions        map[string]*domain.Position // por condition ID; una posición viva por mercado
	lastTraded       map[string]time.Time        // cooldown por mercado
	lastPrices       map[string]float64          // último precio conocido del lado held, por condition ID
	pendingRebalance map[string]float64          // shares a recortar agendados por el optimizador
	counters         dayCounters

	// halted corta la admisión de trades nuevos tras una violación de
	// invariante; el monitoreo de salidas sigue corriendo.
	halted atomic.Bool
}

// New crea el engine. Panics tempranos por dependencias faltantes se
// prefieren a fallos silenciosos en el loop.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Markets == nil || deps.Books == nil || deps.Exec == nil ||
		deps.Storage == nil || deps.Notifier == nil ||
		deps.Agg == nil || deps.Sizer == nil || deps.Risk == nil {
		return nil, fmt.Errorf("engine.New: missing required dependency")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Accuracy == nil {
		deps.Accuracy = aggregator.NewAccuracyTracker()
	}
	if deps.Optimizer == nil {
		deps.Optimizer = risk.NewOptimizer(risk.DefaultOptimizerConfig())
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = defaultCycleInterval
	}
	if cfg.CycleDeadline <= 0 {
		cfg.CycleDeadline = defaultCycleDeadline
	}
	if cfg.SnapshotMaxAge <= 0 {
		cfg.SnapshotMaxAge = defaultSnapshotMaxAge
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}

	return &Engine{
		cfg:              cfg,
		deps:             deps,
		queue:            newSignalQueue(),
		positions:        make(map[string]*domain.Position),
		lastTraded:       make(map[string]time.Time),
		lastPrices:       make(map[string]float64),
		pendingRebalance: make(map[string]float64),
	}, nil
}

// Run arranca las fuentes, el cron y el loop de evaluación, y bloquea hasta
// que el contexto se cancele.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.rehydrate(ctx); err != nil {
		return fmt.Errorf("engine.Run: rehydrate: %w", err)
	}

	var wg sync.WaitGroup
	e.startSources(ctx, &wg)

	sched := e.startCron()
	defer sched.Stop()

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	// Primer ciclo inmediato.
	e.Cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			e.Cycle(ctx)
		}
	}
}

// RunOnce ejecuta un único ciclo de evaluación y termina. Las fuentes corren
// sólo lo que dura la espera inicial de señales.
func (e *Engine) RunOnce(ctx context.Context, signalWait time.Duration) error {
	if err := e.rehydrate(ctx); err != nil {
		return fmt.Errorf("engine.RunOnce: rehydrate: %w", err)
	}

	srcCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	e.startSources(srcCtx, &wg)

	if signalWait > 0 {
		select {
		case <-time.After(signalWait):
		case <-ctx.Done():
		}
	}

	e.Cycle(ctx)
	cancel()
	wg.Wait()
	e.shutdown()
	return ctx.Err()
}

// startSources lanza una goroutine por fuente más el intake hacia la cola.
func (e *Engine) startSources(ctx context.Context, wg *sync.WaitGroup) {
	intake := make(chan domain.Signal, 256)

	for _, src := range e.deps.Sources {
		wg.Add(1)
		go func(src ports.SignalSource) {
			defer wg.Done()
			if err := src.Run(ctx, intake); err != nil && ctx.Err() == nil {
				e.deps.Logger.Error("fuente de señales terminó con error",
					"source", src.Name(),
					"error", err,
				)
			}
		}(src)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-intake:
				e.queue.Add(sig)
			}
		}
	}()
}

// startCron programa el rollover diario, la revisión del optimizador y el
// retry de escrituras pendientes. Todo en UTC: el día de trading es UTC.
func (e *Engine) startCron() *cron.Cron {
	sched := cron.New(cron.WithLocation(time.UTC))

	// El rollover es una transición programada, independiente de cualquier
	// operación en vuelo: nunca trunca la secuencia de retries de una orden.
	sched.AddFunc(rolloverSpec, func() {
		e.rollover(time.Now().UTC())
	})
	sched.AddFunc(optimizerSpec, func() {
		e.reviewPortfolio(context.Background(), time.Now().UTC())
	})
	sched.AddFunc(flushSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if remaining, err := e.deps.Storage.FlushPending(ctx); err != nil {
			e.deps.Logger.Warn("retry de cierres pendientes falló",
				"remaining", remaining,
				"error", err,
			)
		}
	})

	sched.Start()
	return sched
}

// rollover cierra el día: persiste el resumen y resetea contadores.
func (e *Engine) rollover(now time.Time) {
	summary := e.deps.Risk.Summary(now.Add(-time.Minute)) // el día que termina
	e.mu.Lock()
	summary.TradesAdmitted = e.counters.admitted
	summary.TradesReduced = e.counters.reduced
	summary.TradesRejected = e.counters.rejected
	summary.OrdersPlaced = e.counters.placed
	summary.OrdersFilled = e.counters.filled
	summary.OrdersFailed = e.counters.failed
	e.counters = dayCounters{}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.deps.Storage.SaveDailySummary(ctx, summary); err != nil {
		e.deps.Logger.Error("no se pudo guardar el resumen diario", "error", err)
	}

	e.deps.Risk.RolloverDay(now)
	e.deps.Logger.Info("día cerrado",
		"date", summary.Date.Format("2006-01-02"),
		"realized_pnl", summary.RealizedPnL,
		"end_balance", summary.EndBalance,
	)
}

// shutdown persiste el estado final antes de salir.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.deps.Storage.SaveRiskSnapshot(ctx, e.deps.Risk.State()); err != nil {
		e.deps.Logger.Error("snapshot de riesgo no persistido al salir", "error", err)
	}
	if err := e.deps.Storage.SaveAccuracy(ctx, e.deps.Accuracy.Records()); err != nil {
		e.deps.Logger.Error("accuracy no persistido al salir", "error", err)
	}
	if remaining, err := e.deps.Storage.FlushPending(ctx); err != nil || remaining > 0 {
		e.deps.Logger.Warn("cierres aún pendientes al salir",
			"remaining", remaining,
			"error", err,
		)
	}
}

// Halted devuelve true si la admisión de trades nuevos está detenida.
func (e *Engine) Halted() bool {
	return e.halted.Load()
}

// halt detiene la admisión de trades nuevos. El monitoreo de salidas y el
// cierre de posiciones siguen vivos: detenerlos agravaría el problema.
func (e *Engine) halt(ctx context.Context, detail string) {
	if e.halted.Swap(true) {
		return
	}
	e.deps.Logger.Error("admisión detenida por violación de invariante", "detail", detail)
	e.notify(ctx, domain.Event{
		Kind:    domain.EventInvariantBreach,
		Message: detail,
		At:      time.Now().UTC(),
	})
}

// notify entrega un evento sin dejar que un notifier roto frene el loop.
func (e *Engine) notify(ctx context.Context, ev domain.Event) {
	if err := e.deps.Notifier.Notify(ctx, ev); err != nil {
		e.deps.Logger.Warn("notificación fallida", "kind", ev.Kind, "error", err)
	}
}
