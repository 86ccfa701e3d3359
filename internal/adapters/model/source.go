// Package model adapta un ProbabilityEstimator (caja negra, p.ej. un LLM)
// como fuente de señales de kind model_estimate.
package model

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
	"github.com/google/uuid"
)

// Tuning de la fuente de modelo.
const (
	defaultInterval = 3 * time.Minute
	defaultMinEdge  = 0.02 // por debajo de esto la estimación no aporta señal
	defaultWeight   = 1.0
	signalTTL       = 10 * time.Minute
)

// Source implementa ports.SignalSource consultando el estimador para cada
// mercado activo en cada intervalo.
type Source struct {
	estimator ports.ProbabilityEstimator
	markets   ports.MarketProvider
	logger    *slog.Logger

	interval time.Duration
	minEdge  float64
	weight   float64
}

// Option configura la fuente.
type Option func(*Source)

// WithInterval fija el intervalo entre rondas de estimación.
func WithInterval(d time.Duration) Option {
	return func(s *Source) { s.interval = d }
}

// WithMinEdge fija el edge mínimo para emitir señal.
func WithMinEdge(edge float64) Option {
	return func(s *Source) { s.minEdge = edge }
}

// WithWeight fija el peso de la fuente en la agregación.
func WithWeight(w float64) Option {
	return func(s *Source) { s.weight = w }
}

// NewSource crea la fuente de señales de modelo.
func NewSource(estimator ports.ProbabilityEstimator, markets ports.MarketProvider, logger *slog.Logger, opts ...Option) *Source {
	s := &Source{
		estimator: estimator,
		markets:   markets,
		logger:    logger,
		interval:  defaultInterval,
		minEdge:   defaultMinEdge,
		weight:    defaultWeight,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implementa ports.SignalSource.
func (s *Source) Name() string {
	return string(domain.KindModelEstimate)
}

// Run estima los mercados activos en cada intervalo y emite una señal por
// mercado donde el modelo discrepa del precio más allá del edge mínimo.
func (s *Source) Run(ctx context.Context, out chan<- domain.Signal) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Primera ronda inmediata; las siguientes por ticker.
	s.round(ctx, out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.round(ctx, out)
		}
	}
}

func (s *Source) round(ctx context.Context, out chan<- domain.Signal) {
	markets, err := s.markets.FetchActiveMarkets(ctx)
	if err != nil {
		s.logger.Warn("model source: fetch markets failed", "error", err)
		return
	}

	emitted := 0
	for _, market := range markets {
		if ctx.Err() != nil {
			return
		}
		sig, ok := s.estimate(ctx, market)
		if !ok {
			continue
		}
		select {
		case out <- sig:
			emitted++
		case <-ctx.Done():
			return
		}
	}
	s.logger.Debug("model source round",
		"markets", len(markets),
		"signals", emitted,
	)
}

// estimate consulta el estimador y convierte la discrepancia en una señal
// direccional: si el modelo ve YES más probable que el precio, el lado es YES.
func (s *Source) estimate(ctx context.Context, market domain.Market) (domain.Signal, bool) {
	est, err := s.estimator.Estimate(ctx, market)
	if err != nil {
		s.logger.Warn("model source: estimate failed",
			"condition_id", market.ConditionID,
			"error", err,
		)
		return domain.Signal{}, false
	}
	if est.Probability < 0 || est.Probability > 1 || est.Confidence <= 0 {
		return domain.Signal{}, false
	}

	yesPrice := market.Price(domain.SideYes)
	if yesPrice <= 0 || yesPrice >= 1 {
		return domain.Signal{}, false
	}
	if math.Abs(est.Probability-yesPrice) < s.minEdge {
		return domain.Signal{}, false
	}

	side := domain.SideYes
	prob := est.Probability
	if est.Probability < yesPrice {
		// El modelo ve YES sobrevalorado: la señal es NO.
		side = domain.SideNo
		prob = 1 - est.Probability
	}

	return domain.Signal{
		ID:          uuid.NewString(),
		Kind:        domain.KindModelEstimate,
		ConditionID: market.ConditionID,
		Side:        side,
		Probability: prob,
		Confidence:  est.Confidence,
		Weight:      s.weight,
		CreatedAt:   time.Now(),
		TTL:         signalTTL,
	}, true
}
