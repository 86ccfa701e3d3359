// Package aggregator fusiona las señales activas de un mercado en una única
// decisión accionable por ciclo de evaluación.
package aggregator

import (
	"sort"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/google/uuid"
)

// ConflictMode define cómo se resuelven señales en desacuerdo.
type ConflictMode string

const (
	// ModeMajority actúa sobre el lado con más peso.
	ModeMajority ConflictMode = "majority"
	// ModeHighestConfidence delega por completo en la señal más confiada.
	ModeHighestConfidence ConflictMode = "highest_confidence"
	// ModeConservative fuerza Hold (o reduce a la mitad) ante desacuerdo.
	ModeConservative ConflictMode = "conservative"
	// ModeHistoricalAccuracy re-pondera cada fuente por su accuracy histórico.
	ModeHistoricalAccuracy ConflictMode = "historical_accuracy"
)

// Config controla el comportamiento del aggregator.
type Config struct {
	Mode               ConflictMode
	ConsensusThreshold float64 // agreement mínimo para actuar (default 0.60)
	MinorityThreshold  float64 // modo conservative: peso de minoría que dispara la protección
	ConservativeHalves bool    // conservative reduce tamaño a la mitad en vez de Hold
}

// DefaultConfig devuelve la configuración de producción.
func DefaultConfig() Config {
	return Config{
		Mode:               ModeMajority,
		ConsensusThreshold: 0.60,
		MinorityThreshold:  0.25,
	}
}

// Aggregator fusiona señales por mercado. Es seguro para uso concurrente:
// evaluaciones de mercados distintos pueden agregarse en paralelo.
type Aggregator struct {
	cfg      Config
	accuracy *AccuracyTracker
}

// New crea un Aggregator con el tracker de accuracy dado.
// tracker puede ser nil si el modo no es HistoricalAccuracy.
func New(cfg Config, tracker *AccuracyTracker) *Aggregator {
	if cfg.ConsensusThreshold <= 0 {
		cfg.ConsensusThreshold = 0.60
	}
	if cfg.MinorityThreshold <= 0 {
		cfg.MinorityThreshold = 0.25
	}
	if tracker == nil {
		tracker = NewAccuracyTracker()
	}
	return &Aggregator{cfg: cfg, accuracy: tracker}
}

// Aggregate fusiona las señales de un mercado en una decisión.
//
// held es el lado de la posición abierta en el mercado, o nil si no hay.
// Un consenso suficiente contra el lado held produce ActionExit.
//
// Un mercado sin señales activas produce Hold de forma determinística,
// nunca un error.
func (a *Aggregator) Aggregate(conditionID string, signals []domain.Signal, held *domain.Side, now time.Time) domain.AggregatedDecision {
	dec := domain.AggregatedDecision{
		ID:          uuid.New().String(),
		ConditionID: conditionID,
		Action:      domain.ActionHold,
		CreatedAt:   now,
	}

	active := filterActive(signals, conditionID, now)
	if len(active) == 0 {
		return dec
	}

	for _, s := range active {
		dec.SignalIDs = append(dec.SignalIDs, s.ID)
	}
	a.accuracy.remember(active)

	if a.cfg.Mode == ModeHighestConfidence {
		return a.decideHighestConfidence(dec, active, held)
	}

	cons := a.consensus(active, now)
	dec.Agreement = cons.agreement
	dec.Probability = cons.probability
	dec.Confidence = cons.confidence

	if cons.agreement < a.cfg.ConsensusThreshold {
		return dec
	}

	sizeFactor := 1.0
	if a.cfg.Mode == ModeConservative && cons.minorityFraction > a.cfg.MinorityThreshold {
		if !a.cfg.ConservativeHalves {
			return dec
		}
		sizeFactor = 0.5
	}

	dec.Action = a.actionFor(cons.side, held)
	dec.SizeFactor = sizeFactor
	return dec
}

// consensusResult es el resultado intermedio de la fusión ponderada.
type consensusResult struct {
	side             domain.Side
	probability      float64
	confidence       float64
	agreement        float64
	minorityFraction float64
}

// consensus calcula probabilidad ponderada por lado, el lado mayoritario y
// el agreement. El peso de probabilidad por señal es
// confidence × sourceWeight × recencyDecay; el agreement se calcula sobre el
// peso de fuente (re-ponderado por accuracy si corresponde).
func (a *Aggregator) consensus(active []domain.Signal, now time.Time) consensusResult {
	var probWeight, probSum, confSum, confWeight map[domain.Side]float64
	probWeight = map[domain.Side]float64{}
	probSum = map[domain.Side]float64{}
	confSum = map[domain.Side]float64{}
	confWeight = map[domain.Side]float64{}

	sideWeight := map[domain.Side]float64{}
	var totalWeight float64

	for _, s := range active {
		w := s.Weight
		ew := s.EffectiveWeight(now)
		if a.cfg.Mode == ModeHistoricalAccuracy {
			mult := a.accuracy.Multiplier(s.Kind)
			w *= mult
			ew *= mult
		}

		sideWeight[s.Side] += w
		totalWeight += w

		probWeight[s.Side] += ew
		probSum[s.Side] += ew * s.Probability
		confSum[s.Side] += ew * s.Confidence
		confWeight[s.Side] += ew
	}

	majority := domain.SideYes
	if sideWeight[domain.SideNo] > sideWeight[domain.SideYes] {
		majority = domain.SideNo
	}

	res := consensusResult{side: majority}
	if totalWeight > 0 {
		res.agreement = sideWeight[majority] / totalWeight
		res.minorityFraction = sideWeight[majority.Opposite()] / totalWeight
	}
	if probWeight[majority] > 0 {
		res.probability = probSum[majority] / probWeight[majority]
		res.confidence = confSum[majority] / confWeight[majority]
	}
	return res
}

// decideHighestConfidence delega la decisión en la señal más confiada,
// ignorando el resto. Aun así exige que esa confianza llegue al umbral.
func (a *Aggregator) decideHighestConfidence(dec domain.AggregatedDecision, active []domain.Signal, held *domain.Side) domain.AggregatedDecision {
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Confidence > active[j].Confidence
	})
	top := active[0]

	dec.Probability = top.Probability
	dec.Confidence = top.Confidence
	dec.Agreement = 1.0
	dec.SizeFactor = 1.0
	if top.Confidence < a.cfg.ConsensusThreshold {
		return dec
	}
	dec.Action = a.actionFor(top.Side, held)
	return dec
}

// actionFor convierte el lado de consenso en acción, teniendo en cuenta
// la posición ya abierta en el mercado.
func (a *Aggregator) actionFor(side domain.Side, held *domain.Side) domain.Action {
	if held != nil && *held != side {
		return domain.ActionExit
	}
	if side == domain.SideNo {
		return domain.ActionEnterNo
	}
	return domain.ActionEnterYes
}

// filterActive descarta señales expiradas o de otro mercado.
func filterActive(signals []domain.Signal, conditionID string, now time.Time) []domain.Signal {
	out := make([]domain.Signal, 0, len(signals))
	for _, s := range signals {
		if s.ConditionID != conditionID {
			continue
		}
		if s.Expired(now) {
			continue
		}
		out = append(out, s)
	}
	return out
}
