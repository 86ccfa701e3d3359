// Package storage implementa ports.Storage sobre SQLite (driver pure Go,
// sin CGo). Una sola conexión: SQLite es single-writer.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Posiciones: una fila por posición, abierta o cerrada
CREATE TABLE IF NOT EXISTS positions (
    id            TEXT PRIMARY KEY,
    condition_id  TEXT NOT NULL,
    question      TEXT,
    category      TEXT,
    side          TEXT NOT NULL,
    entry_price   REAL NOT NULL DEFAULT 0,
    shares        REAL NOT NULL DEFAULT 0,
    cost_usd      REAL NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    realized_pnl  REAL NOT NULL DEFAULT 0,
    stop_loss     REAL NOT NULL DEFAULT 0,
    take_profit   REAL NOT NULL DEFAULT 0,
    decision_id   TEXT,
    signal_ids    TEXT,
    opened_at     DATETIME NOT NULL,
    closed_at     DATETIME
);

-- Trades resueltos: el registro de cierre durable
CREATE TABLE IF NOT EXISTS trades (
    position_id  TEXT PRIMARY KEY,
    condition_id TEXT NOT NULL,
    category     TEXT,
    side         TEXT NOT NULL,
    pnl          REAL NOT NULL,
    won          INTEGER NOT NULL,
    signal_ids   TEXT,
    closed_at    DATETIME NOT NULL
);

-- Snapshot del estado de riesgo, una fila por día de trading
CREATE TABLE IF NOT EXISTS risk_snapshots (
    trading_day   TEXT PRIMARY KEY,
    daily_pnl     REAL NOT NULL DEFAULT 0,
    trades_today  INTEGER NOT NULL DEFAULT 0,
    open_positions INTEGER NOT NULL DEFAULT 0,
    exposure_usd  REAL NOT NULL DEFAULT 0,
    category_exposure TEXT,
    phase         TEXT NOT NULL,
    cooldown_until DATETIME,
    peak_equity   REAL NOT NULL DEFAULT 0,
    balance       REAL NOT NULL DEFAULT 0,
    admitted_ids  TEXT,
    updated_at    DATETIME NOT NULL
);

-- Accuracy por fuente de señal
CREATE TABLE IF NOT EXISTS accuracy (
    kind       TEXT PRIMARY KEY,
    score      REAL NOT NULL,
    samples    INTEGER NOT NULL,
    version    INTEGER NOT NULL,
    updated_at DATETIME NOT NULL
);

-- Resumen diario
CREATE TABLE IF NOT EXISTS daily_summaries (
    date           TEXT PRIMARY KEY,
    realized_pnl   REAL NOT NULL DEFAULT 0,
    end_balance    REAL NOT NULL DEFAULT 0,
    peak_equity    REAL NOT NULL DEFAULT 0,
    max_drawdown   REAL NOT NULL DEFAULT 0,
    end_phase      TEXT,
    open_positions INTEGER NOT NULL DEFAULT 0,
    exposure_usd   REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_trades_closed    ON trades(closed_at DESC);
`

// pendingClose es un cierre que no pudo escribirse; se retiene en memoria
// y FlushPending lo reintenta.
type pendingClose struct {
	pos    domain.Position
	result domain.TradeResult
}

// SQLiteStorage implementa ports.Storage.
type SQLiteStorage struct {
	db *sql.DB

	mu      sync.Mutex
	pending []pendingClose
}

// NewSQLiteStorage abre (o crea) la base de datos y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// SavePosition hace upsert de la posición.
func (s *SQLiteStorage) SavePosition(ctx context.Context, pos domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
			(id, condition_id, question, category, side, entry_price, shares,
			 cost_usd, status, realized_pnl, stop_loss, take_profit,
			 decision_id, signal_ids, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entry_price  = excluded.entry_price,
			shares       = excluded.shares,
			cost_usd     = excluded.cost_usd,
			status       = excluded.status,
			realized_pnl = excluded.realized_pnl,
			stop_loss    = excluded.stop_loss,
			take_profit  = excluded.take_profit,
			closed_at    = excluded.closed_at
	`,
		pos.ID, pos.ConditionID, pos.Question, pos.Category, string(pos.Side),
		pos.EntryPrice, pos.Shares, pos.CostUSD, string(pos.Status),
		pos.RealizedPnL, pos.StopLoss, pos.TakeProfit,
		pos.DecisionID, strings.Join(pos.SignalIDs, ","),
		timeValue(pos.OpenedAt), closedAtValue(pos.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SavePosition %s: %w", pos.ID, err)
	}
	return nil
}

// SaveClosedPosition escribe el registro de cierre y la posición final en una
// transacción. Si falla, el cierre queda en el buffer de pendientes: el
// caller puede seguir, la durabilidad se reintenta aparte.
func (s *SQLiteStorage) SaveClosedPosition(ctx context.Context, pos domain.Position, result domain.TradeResult) error {
	if err := s.writeClose(ctx, pos, result); err != nil {
		slog.Error("cierre no persistido, encolado para retry",
			"position_id", pos.ID,
			"error", err,
		)
		s.mu.Lock()
		s.pending = append(s.pending, pendingClose{pos: pos, result: result})
		s.mu.Unlock()
		return nil
	}
	return nil
}

// writeClose hace la escritura transaccional del cierre.
func (s *SQLiteStorage) writeClose(ctx context.Context, pos domain.Position, result domain.TradeResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.writeClose: begin tx: %w", err)
	}
	defer tx.Rollback()

	won := 0
	if result.Won {
		won = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades (position_id, condition_id, category, side, pnl, won, signal_ids, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_id) DO NOTHING
	`,
		result.PositionID, result.ConditionID, result.Category, string(result.Side),
		result.PnL, won, strings.Join(result.SignalIDs, ","), timeValue(result.ClosedAt),
	); err != nil {
		return fmt.Errorf("storage.writeClose: insert trade: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE positions SET shares = ?, cost_usd = ?, status = ?, realized_pnl = ?, closed_at = ?
		WHERE id = ?
	`,
		pos.Shares, pos.CostUSD, string(pos.Status), pos.RealizedPnL,
		closedAtValue(pos.ClosedAt), pos.ID,
	); err != nil {
		return fmt.Errorf("storage.writeClose: update position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.writeClose: commit: %w", err)
	}
	return nil
}

// FlushPending reintenta los cierres pendientes. Devuelve cuántos quedan.
func (s *SQLiteStorage) FlushPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	queue := s.pending
	s.pending = nil
	s.mu.Unlock()

	var stillPending []pendingClose
	var firstErr error
	for _, pc := range queue {
		if err := s.writeClose(ctx, pc.pos, pc.result); err != nil {
			stillPending = append(stillPending, pc)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.mu.Lock()
	s.pending = append(stillPending, s.pending...)
	remaining := len(s.pending)
	s.mu.Unlock()

	return remaining, firstErr
}

// LoadOpenPositions devuelve las posiciones no cerradas para rehidratar.
func (s *SQLiteStorage) LoadOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, condition_id, question, category, side, entry_price, shares,
		       cost_usd, status, realized_pnl, stop_loss, take_profit,
		       decision_id, signal_ids, opened_at
		FROM positions
		WHERE status != ?
		ORDER BY opened_at
	`, string(domain.PositionClosed))
	if err != nil {
		return nil, fmt.Errorf("storage.LoadOpenPositions: query: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var pos domain.Position
		var side, status, signalIDs, openedAt string

		if err := rows.Scan(
			&pos.ID, &pos.ConditionID, &pos.Question, &pos.Category,
			&side, &pos.EntryPrice, &pos.Shares, &pos.CostUSD, &status,
			&pos.RealizedPnL, &pos.StopLoss, &pos.TakeProfit,
			&pos.DecisionID, &signalIDs, &openedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.LoadOpenPositions: scan: %w", err)
		}

		pos.Side = domain.Side(side)
		pos.Status = domain.PositionStatus(status)
		pos.OpenedAt = parseTime(openedAt)
		if signalIDs != "" {
			pos.SignalIDs = strings.Split(signalIDs, ",")
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// SaveRiskSnapshot hace upsert del estado de riesgo del día.
func (s *SQLiteStorage) SaveRiskSnapshot(ctx context.Context, state domain.RiskState) error {
	catJSON, err := json.Marshal(state.CategoryExposure)
	if err != nil {
		return fmt.Errorf("storage.SaveRiskSnapshot: marshal categories: %w", err)
	}
	admitted := make([]string, 0, len(state.AdmittedIDs))
	for id := range state.AdmittedIDs {
		admitted = append(admitted, id)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_snapshots
			(trading_day, daily_pnl, trades_today, open_positions, exposure_usd,
			 category_exposure, phase, cooldown_until, peak_equity, balance,
			 admitted_ids, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trading_day) DO UPDATE SET
			daily_pnl         = excluded.daily_pnl,
			trades_today      = excluded.trades_today,
			open_positions    = excluded.open_positions,
			exposure_usd      = excluded.exposure_usd,
			category_exposure = excluded.category_exposure,
			phase             = excluded.phase,
			cooldown_until    = excluded.cooldown_until,
			peak_equity       = excluded.peak_equity,
			balance           = excluded.balance,
			admitted_ids      = excluded.admitted_ids,
			updated_at        = excluded.updated_at
	`,
		dayKey(state.TradingDay), state.DailyPnL, state.TradesToday,
		state.OpenPositions, state.ExposureUSD, string(catJSON),
		string(state.Phase), cooldownValue(state.CooldownUntil),
		state.PeakEquity, state.Balance, strings.Join(admitted, ","),
		timeValue(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRiskSnapshot: %w", err)
	}
	return nil
}

// LoadRiskSnapshot devuelve el snapshot del día dado.
func (s *SQLiteStorage) LoadRiskSnapshot(ctx context.Context, day time.Time) (domain.RiskState, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT daily_pnl, trades_today, open_positions, exposure_usd,
		       category_exposure, phase, cooldown_until, peak_equity, balance, admitted_ids
		FROM risk_snapshots
		WHERE trading_day = ?
	`, dayKey(day))

	var state domain.RiskState
	var catJSON, phase, admitted string
	var cooldown sql.NullString

	err := row.Scan(
		&state.DailyPnL, &state.TradesToday, &state.OpenPositions,
		&state.ExposureUSD, &catJSON, &phase, &cooldown,
		&state.PeakEquity, &state.Balance, &admitted,
	)
	if err == sql.ErrNoRows {
		return domain.RiskState{}, false, nil
	}
	if err != nil {
		return domain.RiskState{}, false, fmt.Errorf("storage.LoadRiskSnapshot: %w", err)
	}

	state.TradingDay = day.UTC().Truncate(24 * time.Hour)
	state.Phase = domain.RiskPhase(phase)
	if cooldown.Valid {
		state.CooldownUntil = parseTime(cooldown.String)
	}
	state.CategoryExposure = make(map[string]float64)
	if catJSON != "" {
		if err := json.Unmarshal([]byte(catJSON), &state.CategoryExposure); err != nil {
			return domain.RiskState{}, false, fmt.Errorf("storage.LoadRiskSnapshot: unmarshal categories: %w", err)
		}
	}
	state.AdmittedIDs = make(map[string]bool)
	if admitted != "" {
		for _, id := range strings.Split(admitted, ",") {
			state.AdmittedIDs[id] = true
		}
	}
	return state, true, nil
}

// SaveAccuracy hace upsert de los registros de accuracy. El versionado evita
// pisar un registro más nuevo con uno viejo.
func (s *SQLiteStorage) SaveAccuracy(ctx context.Context, records []domain.SourceAccuracyRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveAccuracy: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accuracy (kind, score, samples, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(kind) DO UPDATE SET
				score      = excluded.score,
				samples    = excluded.samples,
				version    = excluded.version,
				updated_at = excluded.updated_at
			WHERE excluded.version > accuracy.version
		`,
			string(rec.Kind), rec.Score, rec.Samples, rec.Version, timeValue(rec.UpdatedAt),
		); err != nil {
			return fmt.Errorf("storage.SaveAccuracy %s: %w", rec.Kind, err)
		}
	}
	return tx.Commit()
}

// LoadAccuracy devuelve los registros persistidos.
func (s *SQLiteStorage) LoadAccuracy(ctx context.Context) ([]domain.SourceAccuracyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, score, samples, version, updated_at FROM accuracy`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadAccuracy: query: %w", err)
	}
	defer rows.Close()

	var records []domain.SourceAccuracyRecord
	for rows.Next() {
		var rec domain.SourceAccuracyRecord
		var kind, updated string
		if err := rows.Scan(&kind, &rec.Score, &rec.Samples, &rec.Version, &updated); err != nil {
			return nil, fmt.Errorf("storage.LoadAccuracy: scan: %w", err)
		}
		rec.Kind = domain.SignalKind(kind)
		rec.UpdatedAt = parseTime(updated)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveDailySummary hace upsert del resumen del día.
func (s *SQLiteStorage) SaveDailySummary(ctx context.Context, summary domain.DailySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summaries
			(date, realized_pnl, end_balance, peak_equity, max_drawdown,
			 end_phase, open_positions, exposure_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			realized_pnl   = excluded.realized_pnl,
			end_balance    = excluded.end_balance,
			peak_equity    = excluded.peak_equity,
			max_drawdown   = excluded.max_drawdown,
			end_phase      = excluded.end_phase,
			open_positions = excluded.open_positions,
			exposure_usd   = excluded.exposure_usd
	`,
		dayKey(summary.Date), summary.RealizedPnL, summary.EndBalance,
		summary.PeakEquity, summary.MaxDrawdown, string(summary.EndPhase),
		summary.OpenPositions, summary.ExposureUSD,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveDailySummary: %w", err)
	}
	return nil
}

// Close cierra la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers ---

func dayKey(day time.Time) string {
	return day.UTC().Format("2006-01-02")
}

// Los timestamps se guardan como texto RFC 3339: el driver no convierte
// strings a time.Time en el Scan.
func timeValue(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func closedAtValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeValue(*t)
}

func cooldownValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return timeValue(t)
}
