package domain

import "time"

// SignalKind identifica la fuente que originó una señal.
type SignalKind string

const (
	KindModelEstimate SignalKind = "model_estimate"
	KindTechnical     SignalKind = "technical"
	KindSentiment     SignalKind = "sentiment"
	KindArbitrage     SignalKind = "arbitrage"
	KindCopyTrade     SignalKind = "copy_trade"
	KindOrderFlow     SignalKind = "order_flow"
	KindExternal      SignalKind = "external"
)

// AllSignalKinds lista todas las fuentes conocidas, en orden estable.
func AllSignalKinds() []SignalKind {
	return []SignalKind{
		KindModelEstimate, KindTechnical, KindSentiment,
		KindArbitrage, KindCopyTrade, KindOrderFlow, KindExternal,
	}
}

// DefaultSignalTTL es la vida útil de una señal si la fuente no indica otra.
const DefaultSignalTTL = 5 * time.Minute

// Signal es una señal direccional normalizada para un mercado.
// Inmutable una vez creada; expira y se descarta, nunca se muta.
type Signal struct {
	ID          string
	Kind        SignalKind
	ConditionID string
	Side        Side    // lado implícito de la señal
	Probability float64 // probabilidad estimada de que el lado gane, ∈ [0,1]
	Confidence  float64 // ∈ [0,1]
	Weight      float64 // peso de la fuente, configurado por kind
	CreatedAt   time.Time
	TTL         time.Duration
}

// ExpiresAt devuelve el instante en que la señal deja de ser usable.
func (s Signal) ExpiresAt() time.Time {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultSignalTTL
	}
	return s.CreatedAt.Add(ttl)
}

// Expired devuelve true si la señal ya no debe usarse.
func (s Signal) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt())
}

// RecencyDecay devuelve un factor ∈ [0,1] que descuenta linealmente la señal
// a medida que se acerca a su TTL: 1.0 recién creada, 0 al expirar.
func (s Signal) RecencyDecay(now time.Time) float64 {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultSignalTTL
	}
	elapsed := now.Sub(s.CreatedAt)
	if elapsed <= 0 {
		return 1.0
	}
	if elapsed >= ttl {
		return 0
	}
	return 1.0 - float64(elapsed)/float64(ttl)
}

// EffectiveWeight es el peso de la señal en la agregación:
// confidence × sourceWeight × recencyDecay.
func (s Signal) EffectiveWeight(now time.Time) float64 {
	return s.Confidence * s.Weight * s.RecencyDecay(now)
}
