package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/application/executor"
	"github.com/alejandrodnm/polytrader/internal/application/sizer"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/google/uuid"
)

// Cycle ejecuta un ciclo completo de evaluación: snapshot de mercados,
// evaluación concurrente por mercado, monitoreo de salidas y reconciliación.
// Lo que no termine dentro del deadline se abandona y reintenta el ciclo
// siguiente; eso es un resultado esperado, no un fallo.
func (e *Engine) Cycle(ctx context.Context) {
	now := time.Now().UTC()
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CycleDeadline)
	defer cancel()

	markets, err := e.deps.Markets.FetchActiveMarkets(cctx)
	if err != nil {
		e.deps.Logger.Warn("ciclo abortado: fetch de mercados falló", "error", err)
		return
	}

	snaps, err := e.fetchSnapshots(cctx, markets, now)
	if err != nil {
		e.deps.Logger.Warn("ciclo abortado: fetch de orderbooks falló", "error", err)
		return
	}

	signals := e.queue.ByMarket(now)
	e.deps.Logger.Info("ciclo de evaluación",
		"markets", len(snaps),
		"markets_with_signals", len(signals),
	)

	// Evaluaciones de mercados distintos en paralelo; el único estado
	// compartido que mutan es el RiskState, detrás de Admit().
	sem := make(chan struct{}, e.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for id, snap := range snaps {
		sigs := signals[id]
		if len(sigs) == 0 && e.position(id) == nil {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(snap domain.Snapshot, sigs []domain.Signal) {
			defer wg.Done()
			defer func() { <-sem }()
			e.evaluateMarket(cctx, snap, sigs)
		}(snap, sigs)
	}
	wg.Wait()

	e.monitorExits(cctx, snaps, time.Now().UTC())
	e.markUnrealized(time.Now().UTC())
	e.checkInvariants(cctx)
	e.drainRiskEvents(cctx)

	state := e.deps.Risk.State()
	if err := e.deps.Storage.SaveRiskSnapshot(ctx, state); err != nil {
		e.deps.Logger.Warn("snapshot de riesgo no persistido", "error", err)
	}
	if err := e.deps.Notifier.NotifyPositions(ctx, e.openPositions(), state); err != nil {
		e.deps.Logger.Warn("reporte de posiciones falló", "error", err)
	}
}

// fetchSnapshots arma los snapshots mercado+books del ciclo.
func (e *Engine) fetchSnapshots(ctx context.Context, markets []domain.Market, now time.Time) (map[string]domain.Snapshot, error) {
	tokenIDs := make([]string, 0, len(markets)*2)
	for _, m := range markets {
		tokenIDs = append(tokenIDs, m.YesToken().TokenID, m.NoToken().TokenID)
	}

	books, err := e.deps.Books.FetchOrderBooks(ctx, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("engine.fetchSnapshots: %w", err)
	}

	snaps := make(map[string]domain.Snapshot, len(markets))
	for _, m := range markets {
		snaps[m.ConditionID] = domain.Snapshot{
			Market:    m,
			YesBook:   books[m.YesToken().TokenID],
			NoBook:    books[m.NoToken().TokenID],
			FetchedAt: now,
		}
	}
	return snaps, nil
}

// evaluateMarket corre aggregator → sizer → riesgo → executor para un mercado.
func (e *Engine) evaluateMarket(ctx context.Context, snap domain.Snapshot, sigs []domain.Signal) {
	now := time.Now().UTC()
	id := snap.Market.ConditionID

	if snap.Stale(now, e.cfg.SnapshotMaxAge) {
		e.deps.Logger.Debug("mercado saltado este ciclo",
			"condition_id", id,
			"reason", domain.ErrStaleData,
		)
		return
	}

	held := e.heldSide(id)
	dec := e.deps.Agg.Aggregate(id, sigs, held, now)

	switch {
	case dec.Action == domain.ActionExit:
		if pos := e.position(id); pos != nil {
			e.exitPosition(ctx, pos, executor.SignalExit(*pos), snap)
		}
	case dec.Action.IsEntry():
		e.enter(ctx, dec, snap, now)
	}
}

// enter dimensiona, admite y ejecuta una entrada.
func (e *Engine) enter(ctx context.Context, dec domain.AggregatedDecision, snap domain.Snapshot, now time.Time) {
	if e.halted.Load() {
		return
	}
	id := snap.Market.ConditionID

	e.mu.Lock()
	_, holding := e.positions[id]
	last, traded := e.lastTraded[id]
	e.mu.Unlock()
	if holding {
		return // una posición viva por mercado
	}
	if traded && now.Sub(last) < e.cfg.TradeCooldown {
		return
	}

	state := e.deps.Risk.State()
	acct := sizer.Account{
		Balance:         state.Balance,
		BaselineBalance: e.cfg.BaselineBalance,
		Drawdown:        state.Drawdown(),
	}
	if acct.BaselineBalance <= 0 {
		acct.BaselineBalance = state.Balance
	}

	trade, ok := e.deps.Sizer.Size(dec, snap, acct, now)
	if !ok {
		return
	}

	adm := e.deps.Risk.Admit(trade, now)
	e.mu.Lock()
	switch adm.Verdict {
	case domain.VerdictAllow:
		e.counters.admitted++
	case domain.VerdictReduce:
		e.counters.admitted++
		e.counters.reduced++
	case domain.VerdictReject:
		e.counters.rejected++
	}
	e.mu.Unlock()
	if !adm.Allowed() {
		return
	}

	side := trade.Side
	res, err := e.deps.Exec.ExecuteEntry(ctx, adm.Trade, snap.Market.Token(side).TokenID, snap.Book(side), executor.UrgencyNormal)
	e.recordOrders(res)

	if res.FilledShares <= 1e-9 {
		// Nada ejecutado: la reserva vuelve al estado de riesgo.
		e.deps.Risk.ReleaseFailed(adm.Trade)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.deps.Logger.Warn("entrada sin fills", "condition_id", id, "error", err)
		}
		e.notify(ctx, domain.Event{
			Kind:        domain.EventOrderFailed,
			ConditionID: id,
			Message:     fmt.Sprintf("entry %s for $%.2f produced no fills", side, adm.Trade.SizeUSD),
			At:          now,
		})
		return
	}

	e.deps.Risk.AdjustBooking(adm.Trade, res.SpentUSD)

	pos := &domain.Position{
		ID:          uuid.NewString(),
		ConditionID: id,
		Question:    snap.Market.Question,
		Category:    snap.Market.Category,
		Side:        side,
		EntryPrice:  res.AvgFillPrice,
		Shares:      res.FilledShares,
		CostUSD:     res.SpentUSD,
		OpenedAt:    now,
		Status:      domain.PositionOpen,
		StopLoss:    stopPrice(res.AvgFillPrice, e.cfg.StopLossPct),
		TakeProfit:  takeProfitPrice(res.AvgFillPrice, e.cfg.TakeProfitPct),
		DecisionID:  dec.ID,
		SignalIDs:   dec.SignalIDs,
	}

	e.mu.Lock()
	e.positions[id] = pos
	e.lastTraded[id] = now
	e.mu.Unlock()

	if serr := e.deps.Storage.SavePosition(ctx, *pos); serr != nil {
		e.deps.Logger.Error("posición no persistida", "position_id", pos.ID, "error", serr)
	}

	e.notify(ctx, domain.Event{
		Kind:        domain.EventOrderFilled,
		ConditionID: id,
		Message: fmt.Sprintf("entered %s: %.2f shares @ %.3f ($%.2f)",
			side, res.FilledShares, res.AvgFillPrice, res.SpentUSD),
		At: now,
	})
	if err != nil {
		e.deps.Logger.Warn("entrada parcial: el resto del plan falló",
			"condition_id", id,
			"filled", res.FilledShares,
			"error", err,
		)
	}
}

// exitPosition ejecuta un intent de salida y reconcilia el resultado contra
// riesgo, accuracy, performance y storage.
func (e *Engine) exitPosition(ctx context.Context, pos *domain.Position, intent executor.ExitIntent, snap domain.Snapshot) {
	now := time.Now().UTC()
	id := pos.ConditionID

	sharesBefore := pos.Shares
	costBefore := pos.CostUSD
	if sharesBefore <= 0 {
		return
	}

	e.deps.Logger.Info("saliendo de posición",
		"position_id", pos.ID,
		"intent", intent.Describe(),
	)

	res, err := e.deps.Exec.ExecuteExit(ctx, *pos, snap.Market.Token(pos.Side).TokenID, intent.Shares, snap.Book(pos.Side), intent.Urgency)
	e.recordOrders(res)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.deps.Logger.Warn("salida incompleta, se reintenta el próximo ciclo",
			"position_id", pos.ID,
			"filled", res.FilledShares,
			"error", err,
		)
	}
	if res.FilledShares <= 1e-9 {
		return
	}

	costPortion := costBefore * (res.FilledShares / sharesBefore)
	pnl := pos.ApplyExitFill(res.FilledShares, res.AvgFillPrice, now)

	if pos.Status != domain.PositionClosed {
		e.deps.Risk.BookPartialExit(pos.Category, costPortion, res.SpentUSD, pnl, now)
		if serr := e.deps.Storage.SavePosition(ctx, *pos); serr != nil {
			e.deps.Logger.Error("posición no persistida", "position_id", pos.ID, "error", serr)
		}
		e.notify(ctx, domain.Event{
			Kind:        domain.EventOrderFilled,
			ConditionID: id,
			Message: fmt.Sprintf("partial exit (%s): %.2f shares @ %.3f, pnl $%.2f",
				intent.Reason, res.FilledShares, res.AvgFillPrice, pnl),
			At: now,
		})
		return
	}

	// Cierre completo: el feedback llega a accuracy y al sizer con el P&L
	// total del trade; el limitador diario ya contó los tramos anteriores.
	result := domain.TradeResult{
		PositionID:  pos.ID,
		ConditionID: id,
		Category:    pos.Category,
		Side:        pos.Side,
		PnL:         pos.RealizedPnL,
		Won:         pos.RealizedPnL > 0,
		SignalIDs:   pos.SignalIDs,
		ClosedAt:    now,
	}
	chunk := result
	chunk.PnL = pnl
	e.deps.Risk.BookClose(chunk, costPortion, res.SpentUSD, now)
	e.deps.Accuracy.Resolve(result, now)
	e.deps.Sizer.Performance().RecordResult(result.PnL, now)

	e.mu.Lock()
	delete(e.positions, id)
	delete(e.pendingRebalance, id)
	e.mu.Unlock()

	if serr := e.deps.Storage.SaveClosedPosition(ctx, *pos, result); serr != nil {
		e.deps.Logger.Error("cierre no persistible ni encolable",
			"position_id", pos.ID,
			"error", serr,
		)
	}

	e.notify(ctx, domain.Event{
		Kind:        domain.EventPositionClosed,
		ConditionID: id,
		Message: fmt.Sprintf("closed (%s): pnl $%.2f over %.2f shares",
			intent.Reason, result.PnL, sharesBefore),
		At: now,
	})
}

// monitorExits aplica las reglas de salida a cada posición abierta con
// snapshot fresco. Corre aunque la admisión esté detenida.
func (e *Engine) monitorExits(ctx context.Context, snaps map[string]domain.Snapshot, now time.Time) {
	for _, pos := range e.openPositionRefs() {
		snap, ok := snaps[pos.ConditionID]
		if !ok {
			continue
		}
		price := snap.Market.Price(pos.Side)
		if price > 0 {
			e.mu.Lock()
			e.lastPrices[pos.ConditionID] = price
			e.mu.Unlock()
		}

		if intent, fire := executor.EvaluateExit(*pos, price, now, e.deps.ExitCfg); fire {
			e.exitPosition(ctx, pos, intent, snap)
			continue
		}

		e.mu.Lock()
		shares, pending := e.pendingRebalance[pos.ConditionID]
		delete(e.pendingRebalance, pos.ConditionID)
		e.mu.Unlock()
		if pending {
			e.exitPosition(ctx, pos, executor.RebalanceExit(*pos, shares), snap)
		}
	}
}

// markUnrealized recalcula el mark de P&L no realizado del portfolio y lo
// incorpora al limitador diario. El mark reemplaza al anterior.
func (e *Engine) markUnrealized(now time.Time) {
	var total float64
	e.mu.Lock()
	for id, pos := range e.positions {
		if price, ok := e.lastPrices[id]; ok {
			total += pos.UnrealizedPnL(price)
		}
	}
	e.mu.Unlock()
	e.deps.Risk.RecordUnrealized(total, now)
}

// checkInvariants verifica las condiciones que jamás deberían fallar.
// Una violación detiene la admisión: indica un bug en el gate de riesgo,
// no una condición transitoria.
func (e *Engine) checkInvariants(ctx context.Context) {
	state := e.deps.Risk.State()
	if state.Balance < -1e-6 {
		err := domain.InvariantError("negative balance %.4f", state.Balance)
		e.halt(ctx, err.Error())
	}
}

// drainRiskEvents entrega al notifier los eventos acumulados por el gate.
func (e *Engine) drainRiskEvents(ctx context.Context) {
	for _, ev := range e.deps.Risk.DrainEvents() {
		e.notify(ctx, ev)
	}
}

// reviewPortfolio publica las sugerencias del optimizador y, con el
// rebalanceo automático activo, las agenda para el próximo ciclo.
func (e *Engine) reviewPortfolio(ctx context.Context, now time.Time) {
	positions := e.openPositions()
	if len(positions) == 0 {
		return
	}

	e.mu.Lock()
	prices := make(map[string]float64, len(e.lastPrices))
	for id, p := range e.lastPrices {
		prices[id] = p
	}
	e.mu.Unlock()

	suggestions := e.deps.Optimizer.Suggest(positions, e.deps.Risk.State(), prices, now)
	for _, s := range suggestions {
		e.notify(ctx, domain.Event{
			Kind:        domain.EventRebalanceAdvice,
			ConditionID: s.ConditionID,
			Message:     fmt.Sprintf("%s %.2f shares: %s", s.Kind, s.Shares, s.Reason),
			At:          now,
		})
		if e.cfg.AutoRebalance {
			e.mu.Lock()
			e.pendingRebalance[s.ConditionID] = s.Shares
			e.mu.Unlock()
		}
	}
}

// --- helpers de estado ---

func (e *Engine) position(conditionID string) *domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[conditionID]
}

func (e *Engine) heldSide(conditionID string) *domain.Side {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos, ok := e.positions[conditionID]; ok {
		side := pos.Side
		return &side
	}
	return nil
}

func (e *Engine) openPositions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	return out
}

func (e *Engine) openPositionRefs() []*domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, pos)
	}
	return out
}

func (e *Engine) recordOrders(res executor.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters.placed += len(res.Orders)
	for _, o := range res.Orders {
		switch o.Status {
		case domain.OrderFilled:
			e.counters.filled++
		case domain.OrderFailed, domain.OrderCancelled:
			e.counters.failed++
		}
	}
}

// stopPrice devuelve el stop-loss bajo el precio de entrada; 0 desactiva.
func stopPrice(entry, pct float64) float64 {
	if pct <= 0 || entry <= 0 {
		return 0
	}
	stop := entry * (1 - pct)
	if stop <= 0.01 {
		return 0
	}
	return stop
}

// takeProfitPrice devuelve el take profit sobre el precio de entrada.
func takeProfitPrice(entry, pct float64) float64 {
	if pct <= 0 || entry <= 0 {
		return 0
	}
	tp := entry * (1 + pct)
	if tp >= 0.99 {
		tp = 0.99
	}
	return tp
}
