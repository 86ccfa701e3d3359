package aggregator

import (
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// usedSignal es lo que el tracker recuerda de cada señal que participó en una
// decisión: suficiente para resolver "¿acertó esta fuente?" al cerrar el trade.
type usedSignal struct {
	kind domain.SignalKind
	side domain.Side
	seen time.Time
}

// retención del índice de señales usadas; los trades de este sistema se
// resuelven en horas, no en días.
const usedRetention = 48 * time.Hour

// AccuracyTracker mantiene el accuracy rodante por fuente de señal.
//
// Registro versionado con un solo escritor: únicamente el handler de
// "trade resuelto" (Resolve) muta los scores; el resto del sistema los lee.
type AccuracyTracker struct {
	mu      sync.RWMutex
	records map[domain.SignalKind]domain.SourceAccuracyRecord
	used    map[string]usedSignal // signalID → metadata para el feedback
}

// NewAccuracyTracker crea un tracker con registros neutros para cada fuente.
func NewAccuracyTracker() *AccuracyTracker {
	records := make(map[domain.SignalKind]domain.SourceAccuracyRecord)
	for _, k := range domain.AllSignalKinds() {
		records[k] = domain.NewSourceAccuracyRecord(k)
	}
	return &AccuracyTracker{
		records: records,
		used:    make(map[string]usedSignal),
	}
}

// Restore carga registros persistidos (rehidratación al arrancar).
func (t *AccuracyTracker) Restore(records []domain.SourceAccuracyRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range records {
		t.records[r.Kind] = r
	}
}

// Multiplier devuelve el factor de re-ponderación de la fuente.
func (t *AccuracyTracker) Multiplier(kind domain.SignalKind) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.records[kind].WeightMultiplier()
}

// Records devuelve una copia de los registros actuales, para persistencia.
func (t *AccuracyTracker) Records() []domain.SourceAccuracyRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.SourceAccuracyRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	return out
}

// Resolve incorpora el resultado de un trade cerrado: cada fuente que
// contribuyó una señal se puntúa según si su dirección implícita coincidió
// con el resultado. winningSide es el lado que resultó rentable.
func (t *AccuracyTracker) Resolve(result domain.TradeResult, now time.Time) {
	winningSide := result.Side
	if !result.Won {
		winningSide = result.Side.Opposite()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range result.SignalIDs {
		u, ok := t.used[id]
		if !ok {
			continue
		}
		rec := t.records[u.kind]
		t.records[u.kind] = rec.Record(u.side == winningSide, now)
		delete(t.used, id)
	}
	t.prune(now)
}

// remember indexa señales que participaron en una decisión.
func (t *AccuracyTracker) remember(signals []domain.Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range signals {
		t.used[s.ID] = usedSignal{kind: s.Kind, side: s.Side, seen: s.CreatedAt}
	}
}

// prune descarta entradas del índice más viejas que la retención.
// Se llama con el lock tomado.
func (t *AccuracyTracker) prune(now time.Time) {
	for id, u := range t.used {
		if now.Sub(u.seen) > usedRetention {
			delete(t.used, id)
		}
	}
}
