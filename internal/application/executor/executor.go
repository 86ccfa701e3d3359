// Package executor implementa el smart executor: planifica órdenes contra la
// profundidad del book, las parte en hijas, las envía con pricing por
// urgencia y reintenta fallos transitorios con backoff.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// Urgency gradúa cuánto spread cruza el precio límite de una orden.
type Urgency int

const (
	// UrgencyLow cotiza en el midpoint y espera a que el mercado venga.
	UrgencyLow Urgency = iota
	// UrgencyNormal cruza medio spread hacia el lado agresivo.
	UrgencyNormal
	// UrgencyHigh toma el mejor precio disponible directamente.
	UrgencyHigh
)

// crossFraction devuelve la fracción del medio-spread que se cruza.
func (u Urgency) crossFraction() float64 {
	switch u {
	case UrgencyLow:
		return 0
	case UrgencyNormal:
		return 0.5
	default:
		return 1.0
	}
}

// Config son los parámetros operativos del executor.
type Config struct {
	MaxSlippage     float64       // slippage promedio máximo tolerado, p.ej. 0.02
	MaxRetries      int           // intentos totales por orden hija
	RetryBackoff    time.Duration // backoff base entre intentos
	BackoffFactor   float64       // 1.0 = fijo; 2.0 = exponencial
	PollInterval    time.Duration // cadencia de polling del estado de la orden
	OrderTimeout    time.Duration // tiempo máximo de vida de una orden hija
	MinChildShares  float64       // por debajo de esto no se planifica un hijo
}

// DefaultConfig devuelve la configuración de producción.
func DefaultConfig() Config {
	return Config{
		MaxSlippage:    0.02,
		MaxRetries:     3,
		RetryBackoff:   2 * time.Second,
		BackoffFactor:  2.0,
		PollInterval:   time.Second,
		OrderTimeout:   45 * time.Second,
		MinChildShares: 1,
	}
}

// Result resume la ejecución completa de un plan.
type Result struct {
	Orders       []domain.Order // todas las órdenes hijas, incluidas las fallidas
	FilledShares float64
	AvgFillPrice float64
	SpentUSD     float64 // para entradas: costo; para salidas: producto
	Completed    bool    // true si todo el plan se ejecutó
}

// Executor envía planes contra el transport de ejecución.
type Executor struct {
	cfg    Config
	client ports.ExecutionClient
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error // inyectable en tests
}

// New crea el executor.
func New(cfg Config, client ports.ExecutionClient, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:    cfg,
		client: client,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ExecuteEntry planifica y ejecuta la compra de un trade admitido.
// Los fills parciales conseguidos se conservan aunque el resto falle.
func (e *Executor) ExecuteEntry(ctx context.Context, trade domain.CandidateTrade, tokenID string, book domain.OrderBook, urgency Urgency) (Result, error) {
	plan, err := PlanEntry(trade.Shares, book, e.cfg.MaxSlippage, e.cfg.MinChildShares)
	if err != nil {
		return Result{}, fmt.Errorf("executor.ExecuteEntry: %w", err)
	}
	if plan.Shrunk {
		e.logger.Info("plan recortado por slippage",
			"condition_id", trade.ConditionID,
			"requested", trade.Shares,
			"planned", plan.TotalShares,
		)
	}
	return e.run(ctx, plan, childTemplate{
		decisionID:  trade.DecisionID,
		conditionID: trade.ConditionID,
		tokenID:     tokenID,
		side:        trade.Side,
		exit:        false,
	}, book, urgency)
}

// ExecuteExit planifica y ejecuta la venta de parte de una posición.
func (e *Executor) ExecuteExit(ctx context.Context, pos domain.Position, tokenID string, shares float64, book domain.OrderBook, urgency Urgency) (Result, error) {
	if shares > pos.Shares {
		shares = pos.Shares
	}
	plan, err := PlanExit(shares, book, e.cfg.MaxSlippage)
	if err != nil {
		return Result{}, fmt.Errorf("executor.ExecuteExit: %w", err)
	}
	return e.run(ctx, plan, childTemplate{
		positionID:  pos.ID,
		conditionID: pos.ConditionID,
		tokenID:     tokenID,
		side:        pos.Side,
		exit:        true,
	}, book, urgency)
}

// childTemplate son los campos comunes a todas las hijas de un plan.
type childTemplate struct {
	decisionID  string
	conditionID string
	positionID  string
	tokenID     string
	side        domain.Side
	exit        bool
}

// run ejecuta las hijas del plan en orden. Una hija fallida no descarta los
// fills ya conseguidos: el resultado refleja lo efectivamente ejecutado.
func (e *Executor) run(ctx context.Context, plan Plan, tpl childTemplate, book domain.OrderBook, urgency Urgency) (Result, error) {
	var res Result
	var firstErr error

	for _, child := range plan.Children {
		order, err := e.runChild(ctx, child, tpl, book, urgency)
		res.Orders = append(res.Orders, order)
		res.FilledShares += order.FilledShares()
		res.SpentUSD += order.FilledUSD()

		if err != nil {
			firstErr = err
			break // las hijas restantes no se intentan tras un fallo terminal
		}
	}

	if res.FilledShares > 0 {
		res.AvgFillPrice = res.SpentUSD / res.FilledShares
	}
	res.Completed = firstErr == nil && res.FilledShares >= plan.TotalShares-1e-9
	return res, firstErr
}

// runChild lleva una orden hija de Planning a un estado terminal, con
// reintentos repreciados en cada intento.
func (e *Executor) runChild(ctx context.Context, child ChildOrder, tpl childTemplate, book domain.OrderBook, urgency Urgency) (domain.Order, error) {
	order := domain.Order{
		ID:          uuid.NewString(),
		DecisionID:  tpl.decisionID,
		PositionID:  tpl.positionID,
		ConditionID: tpl.conditionID,
		TokenID:     tpl.tokenID,
		Side:        tpl.side,
		Exit:        tpl.exit,
		Shares:      child.Shares,
		Status:      domain.OrderPlanning,
		CreatedAt:   time.Now().UTC(),
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Urgencia creciente: cada reintento cruza más spread.
			if urgency < UrgencyHigh {
				urgency++
			}
			if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
				lastErr = domain.NewExecFailure(domain.ExecTimeout, err)
				break
			}
		}
		order.LimitPrice = e.limitPrice(book, tpl.exit, urgency)
		order.Retries = attempt

		err := e.attempt(ctx, &order)
		if err == nil {
			return order, nil
		}
		lastErr = err

		if _, retriable := domain.AsExecFailure(err); !retriable {
			break
		}
		if order.Status.Terminal() {
			break
		}
		e.logger.Warn("intento de orden fallido",
			"order_id", order.ID,
			"attempt", attempt+1,
			"error", err,
		)
	}

	// Agotados los reintentos la orden termina en Failed; los fills
	// parciales del log se conservan.
	if !order.Status.Terminal() {
		if terr := order.Transition(domain.OrderFailed); terr != nil {
			e.logger.Error("transición a failed inválida", "order_id", order.ID, "error", terr)
		}
	}
	return order, lastErr
}

// attempt hace un ciclo submit → poll → (fill | timeout+cancel) sobre la orden.
func (e *Executor) attempt(ctx context.Context, order *domain.Order) error {
	if err := order.Transition(domain.OrderSubmitting); err != nil {
		return err
	}

	ack, err := e.client.SubmitOrder(ctx, *order)
	if err != nil {
		return domain.NewExecFailure(domain.ExecTimeout,
			fmt.Errorf("executor.attempt: submit: %w", err))
	}
	if !ack.Accepted {
		return domain.NewExecFailure(domain.ExecRejected,
			fmt.Errorf("executor.attempt: exchange rejected order: %s", ack.Reason))
	}
	order.ExternalID = ack.ExternalID

	deadline := time.Now().Add(e.cfg.OrderTimeout)
	for {
		upd, err := e.client.PollOrder(ctx, order.ExternalID)
		if err != nil {
			return domain.NewExecFailure(domain.ExecTimeout,
				fmt.Errorf("executor.attempt: poll: %w", err))
		}

		// El exchange reporta el acumulado; registrar sólo el delta.
		delta := upd.FilledShares - order.FilledShares()
		if delta > 1e-9 {
			if err := order.RecordFill(delta, upd.AvgFillPrice, time.Now().UTC()); err != nil {
				return err
			}
		}

		if order.Status == domain.OrderFilled {
			return nil
		}
		if upd.Cancelled {
			return domain.NewExecFailure(domain.ExecRejected,
				fmt.Errorf("executor.attempt: order cancelled by exchange"))
		}
		if upd.Done {
			// Done sin fill completo: el exchange la dio por terminada.
			return domain.NewExecFailure(domain.ExecRejected,
				fmt.Errorf("executor.attempt: order done with %.2f of %.2f shares", order.FilledShares(), order.Shares))
		}

		if time.Now().After(deadline) {
			if cerr := e.client.CancelOrder(ctx, order.ExternalID); cerr != nil {
				e.logger.Warn("cancel tras timeout falló", "order_id", order.ID, "error", cerr)
			}
			return domain.NewExecFailure(domain.ExecTimeout,
				fmt.Errorf("executor.attempt: order not filled within %s", e.cfg.OrderTimeout))
		}
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return domain.NewExecFailure(domain.ExecTimeout, err)
		}
	}
}

// backoff devuelve la espera antes del intento `attempt` (1-based para esperas).
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.cfg.RetryBackoff
	if e.cfg.BackoffFactor > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * e.cfg.BackoffFactor)
		}
	}
	return d
}

// limitPrice calcula el precio límite según urgencia: desde el midpoint
// (paciente) hasta cruzar el spread entero (urgente).
func (e *Executor) limitPrice(book domain.OrderBook, exit bool, urgency Urgency) float64 {
	mid := book.Midpoint()
	frac := urgency.crossFraction()

	if exit {
		best := book.BestBid()
		if mid <= 0 {
			return best
		}
		return mid - frac*(mid-best)
	}
	best := book.BestAsk()
	if mid <= 0 {
		return best
	}
	return mid + frac*(best-mid)
}
