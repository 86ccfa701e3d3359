package domain

import "time"

// accuracyAlpha es el factor del EMA de accuracy por fuente.
const accuracyAlpha = 0.2

// SourceAccuracyRecord es el score de accuracy rodante de una fuente de señal.
// Versionado: solo lo actualiza el handler de "trade resuelto"; el resto del
// sistema lo lee sin mutarlo.
type SourceAccuracyRecord struct {
	Kind      SignalKind
	Score     float64 // EMA de aciertos ∈ [0,1]
	Samples   int
	Version   int64
	UpdatedAt time.Time
}

// NewSourceAccuracyRecord crea un registro neutro (score 0.5, sin muestras).
func NewSourceAccuracyRecord(kind SignalKind) SourceAccuracyRecord {
	return SourceAccuracyRecord{Kind: kind, Score: 0.5}
}

// Record incorpora el resultado de un trade resuelto al EMA y devuelve
// la nueva versión del registro. No muta el receptor.
func (r SourceAccuracyRecord) Record(correct bool, now time.Time) SourceAccuracyRecord {
	hit := 0.0
	if correct {
		hit = 1.0
	}
	out := r
	if out.Samples == 0 {
		out.Score = hit
	} else {
		out.Score = accuracyAlpha*hit + (1-accuracyAlpha)*out.Score
	}
	out.Samples++
	out.Version++
	out.UpdatedAt = now
	return out
}

// WeightMultiplier devuelve el factor con el que re-ponderar la fuente en el
// modo HistoricalAccuracy: 2×score, de forma que 0.5 (neutro) = 1.0.
// Con pocas muestras devuelve 1.0 para no sobre-reaccionar.
func (r SourceAccuracyRecord) WeightMultiplier() float64 {
	if r.Samples < 5 {
		return 1.0
	}
	m := 2 * r.Score
	if m < 0.25 {
		return 0.25
	}
	if m > 1.75 {
		return 1.75
	}
	return m
}
