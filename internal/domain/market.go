package domain

import "time"

// Side es uno de los dos lados de un mercado binario.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite devuelve el lado contrario.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Market representa un mercado de predicción binario en Polymarket.
// Es un snapshot inmutable: se refresca completo en cada ciclo de evaluación.
type Market struct {
	ConditionID string
	QuestionID  string
	Question    string
	Slug        string
	Category    string    // tag de categoría (politics, crypto, sports, ...)
	EndDate     time.Time // fecha de resolución
	CreatedAt   time.Time // para calcular la edad del mercado
	Volume24h   float64   // volumen últimas 24h en USDC
	Tokens      [2]Token
	Active      bool
	Closed      bool
}

// Token es uno de los dos lados del mercado (YES/NO).
type Token struct {
	TokenID string
	Outcome string  // "Yes" | "No"
	Price   float64 // último precio mid del CLOB, ∈ [0,1]
}

// Snapshot agrupa el mercado con sus orderbooks para un ciclo de evaluación.
// Inmutable una vez construido; FetchedAt permite detectar datos stale.
type Snapshot struct {
	Market    Market
	YesBook   OrderBook
	NoBook    OrderBook
	FetchedAt time.Time
}

// Book devuelve el orderbook del lado pedido.
func (s Snapshot) Book(side Side) OrderBook {
	if side == SideYes {
		return s.YesBook
	}
	return s.NoBook
}

// Stale devuelve true si el snapshot es más viejo que maxAge.
func (s Snapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if s.FetchedAt.IsZero() {
		return true
	}
	return now.Sub(s.FetchedAt) > maxAge
}

// Price devuelve el precio del lado pedido.
// La suma YES+NO no tiene por qué ser 1 — la divergencia es en sí una señal.
func (m Market) Price(side Side) float64 {
	if side == SideYes {
		return m.YesToken().Price
	}
	return m.NoToken().Price
}

// PriceDivergence devuelve cuánto se desvía yes+no de 1.0.
func (m Market) PriceDivergence() float64 {
	return m.YesToken().Price + m.NoToken().Price - 1.0
}

// Age devuelve la edad del mercado.
func (m Market) Age(now time.Time) time.Duration {
	if m.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(m.CreatedAt)
}

// HoursToResolution devuelve las horas hasta que el mercado se resuelve.
// Devuelve 0 si EndDate no está definido.
func (m Market) HoursToResolution(now time.Time) float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	h := m.EndDate.Sub(now).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// YesToken devuelve el token YES del mercado.
func (m Market) YesToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == "Yes" {
			return t
		}
	}
	return m.Tokens[0]
}

// NoToken devuelve el token NO del mercado.
func (m Market) NoToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == "No" {
			return t
		}
	}
	return m.Tokens[1]
}

// Token devuelve el token del lado pedido.
func (m Market) Token(side Side) Token {
	if side == SideYes {
		return m.YesToken()
	}
	return m.NoToken()
}

// TruncateQuestion devuelve la pregunta del mercado truncada a maxLen caracteres.
// Si la pregunta está vacía usa los primeros caracteres del conditionID como fallback.
func TruncateQuestion(question, conditionID string, maxLen int) string {
	q := question
	if q == "" {
		if len(conditionID) > 20 {
			q = conditionID[:20] + "..."
		} else {
			q = conditionID
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}
