// Package orderflow convierte el stream de precios del CLOB en señales de
// kind order_flow: un movimiento rápido de precio en una ventana corta se
// interpreta como presión direccional que tiende a continuar.
package orderflow

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// Tuning de la fuente de order flow.
const (
	defaultWindow   = 5 * time.Minute  // ventana de momentum
	defaultMinMove  = 0.03             // movimiento mínimo en la ventana para emitir
	defaultWeight   = 0.8              // menos peso que el modelo: es una heurística
	defaultRefresh  = 15 * time.Minute // cada cuánto se refresca el set de tokens suscritos
	defaultCooldown = 10 * time.Minute // silencio por token tras emitir

	signalTTL = 5 * time.Minute
	confScale = 0.10 // |move| que corresponde a confianza máxima
	maxConf   = 0.85
	minConf   = 0.30
	// Fracción del movimiento que se extrapola sobre el precio actual.
	momentumPush = 0.5
)

// Source implementa ports.SignalSource sobre un PriceStream. Se suscribe al
// token YES de cada mercado activo y emite una señal cuando el precio se
// mueve más de minMove dentro de la ventana.
type Source struct {
	stream  ports.PriceStream
	markets ports.MarketProvider
	logger  *slog.Logger

	window   time.Duration
	minMove  float64
	weight   float64
	refresh  time.Duration
	cooldown time.Duration
}

// Option configura la fuente.
type Option func(*Source)

// WithWindow fija la ventana de momentum.
func WithWindow(d time.Duration) Option {
	return func(s *Source) { s.window = d }
}

// WithMinMove fija el movimiento mínimo que dispara una señal.
func WithMinMove(move float64) Option {
	return func(s *Source) { s.minMove = move }
}

// WithWeight fija el peso de la fuente en la agregación.
func WithWeight(w float64) Option {
	return func(s *Source) { s.weight = w }
}

// WithRefresh fija el intervalo de refresco del set de suscripciones.
func WithRefresh(d time.Duration) Option {
	return func(s *Source) { s.refresh = d }
}

// NewSource crea la fuente de order flow.
func NewSource(stream ports.PriceStream, markets ports.MarketProvider, logger *slog.Logger, opts ...Option) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		stream:   stream,
		markets:  markets,
		logger:   logger,
		window:   defaultWindow,
		minMove:  defaultMinMove,
		weight:   defaultWeight,
		refresh:  defaultRefresh,
		cooldown: defaultCooldown,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implementa ports.SignalSource.
func (s *Source) Name() string {
	return string(domain.KindOrderFlow)
}

// tick es un punto (precio, instante) en la ventana de un token.
type tick struct {
	price float64
	at    time.Time
}

// tracker acumula la historia reciente de un token.
type tracker struct {
	conditionID string
	ticks       []tick
	lastEmit    time.Time
}

// Run mantiene una suscripción al stream para los mercados activos y la
// renueva cada refresh, porque el set de mercados cambia con el tiempo.
func (s *Source) Run(ctx context.Context, out chan<- domain.Signal) error {
	for {
		if err := s.runSubscription(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("orderflow: subscription cycle failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(30 * time.Second):
			}
		}
	}
}

// runSubscription abre una suscripción para el set actual de mercados y la
// consume hasta que toque refrescar o el contexto se cancele.
func (s *Source) runSubscription(ctx context.Context, out chan<- domain.Signal) error {
	markets, err := s.markets.FetchActiveMarkets(ctx)
	if err != nil {
		return err
	}

	trackers := make(map[string]*tracker, len(markets))
	tokenIDs := make([]string, 0, len(markets))
	for _, m := range markets {
		id := m.YesToken().TokenID
		if id == "" {
			continue
		}
		tokenIDs = append(tokenIDs, id)
		trackers[id] = &tracker{conditionID: m.ConditionID}
	}
	if len(tokenIDs) == 0 {
		s.logger.Debug("orderflow: no active tokens to subscribe")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.refresh):
			return nil
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := s.stream.Subscribe(subCtx, tokenIDs)
	if err != nil {
		return err
	}
	s.logger.Info("orderflow: subscribed", "tokens", len(tokenIDs))

	refresh := time.NewTimer(s.refresh)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-refresh.C:
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			tr := trackers[upd.TokenID]
			if tr == nil {
				continue
			}
			if sig, ok := s.observe(tr, upd); ok {
				select {
				case out <- sig:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// observe registra el update y devuelve una señal si el movimiento dentro de
// la ventana supera el umbral.
func (s *Source) observe(tr *tracker, upd domain.PriceUpdate) (domain.Signal, bool) {
	now := upd.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	if upd.Price <= 0 || upd.Price >= 1 {
		return domain.Signal{}, false
	}

	// Podar la ventana y anexar el tick nuevo.
	cutoff := now.Add(-s.window)
	kept := tr.ticks[:0]
	for _, t := range tr.ticks {
		if t.at.After(cutoff) {
			kept = append(kept, t)
		}
	}
	tr.ticks = append(kept, tick{price: upd.Price, at: now})

	if len(tr.ticks) < 2 {
		return domain.Signal{}, false
	}
	if !tr.lastEmit.IsZero() && now.Sub(tr.lastEmit) < s.cooldown {
		return domain.Signal{}, false
	}

	move := upd.Price - tr.ticks[0].price
	if math.Abs(move) < s.minMove {
		return domain.Signal{}, false
	}

	// El momentum continúa en la dirección del movimiento: subida rápida
	// del YES es señal YES, caída rápida es señal NO.
	side := domain.SideYes
	prob := clamp01(upd.Price + momentumPush*move)
	if move < 0 {
		side = domain.SideNo
		prob = clamp01(1 - upd.Price + momentumPush*(-move))
	}

	conf := math.Abs(move) / confScale
	if conf > maxConf {
		conf = maxConf
	}
	if conf < minConf {
		conf = minConf
	}

	tr.lastEmit = now
	return domain.Signal{
		ID:          uuid.NewString(),
		Kind:        domain.KindOrderFlow,
		ConditionID: tr.conditionID,
		Side:        side,
		Probability: prob,
		Confidence:  conf,
		Weight:      s.weight,
		CreatedAt:   now,
		TTL:         signalTTL,
	}, true
}

func clamp01(v float64) float64 {
	if v < 0.01 {
		return 0.01
	}
	if v > 0.99 {
		return 0.99
	}
	return v
}
