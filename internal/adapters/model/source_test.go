package model_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alejandrodnm/polytrader/internal/adapters/model"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEstimator struct {
	estimates map[string]domain.ProbabilityEstimate
	err       error
}

func (f *fakeEstimator) Estimate(_ context.Context, m domain.Market) (domain.ProbabilityEstimate, error) {
	if f.err != nil {
		return domain.ProbabilityEstimate{}, f.err
	}
	return f.estimates[m.ConditionID], nil
}

type fakeMarkets struct {
	markets []domain.Market
}

func (f *fakeMarkets) FetchActiveMarkets(_ context.Context) ([]domain.Market, error) {
	return f.markets, nil
}

func testMarket(id string, yesPrice float64) domain.Market {
	return domain.Market{
		ConditionID: id,
		Question:    "test market",
		Active:      true,
		Tokens: [2]domain.Token{
			{TokenID: id + "-yes", Outcome: "Yes", Price: yesPrice},
			{TokenID: id + "-no", Outcome: "No", Price: 1 - yesPrice},
		},
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collect ejecuta una ronda de la fuente y devuelve las señales emitidas.
func collect(t *testing.T, src *model.Source, want int) []domain.Signal {
	t.Helper()

	out := make(chan domain.Signal, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = src.Run(ctx, out)
	}()

	var signals []domain.Signal
	timeout := time.After(2 * time.Second)
	for len(signals) < want {
		select {
		case sig := <-out:
			signals = append(signals, sig)
		case <-timeout:
			t.Fatalf("timed out waiting for %d signals, got %d", want, len(signals))
		}
	}
	cancel()
	<-done
	return signals
}

func TestSource_EmitsSignalWhenModelDisagrees(t *testing.T) {
	est := &fakeEstimator{estimates: map[string]domain.ProbabilityEstimate{
		"0xa": {Probability: 0.65, Confidence: 0.8}, // mercado a 0.50: edge 0.15
	}}
	src := model.NewSource(est, &fakeMarkets{markets: []domain.Market{testMarket("0xa", 0.50)}},
		discard(), model.WithInterval(time.Hour))

	signals := collect(t, src, 1)

	sig := signals[0]
	assert.Equal(t, domain.KindModelEstimate, sig.Kind)
	assert.Equal(t, "0xa", sig.ConditionID)
	assert.Equal(t, domain.SideYes, sig.Side)
	assert.InDelta(t, 0.65, sig.Probability, 1e-9)
	assert.InDelta(t, 0.8, sig.Confidence, 1e-9)
	assert.NotEmpty(t, sig.ID)
	require.False(t, sig.CreatedAt.IsZero())
}

func TestSource_FlipsToNoWhenOverpriced(t *testing.T) {
	est := &fakeEstimator{estimates: map[string]domain.ProbabilityEstimate{
		"0xa": {Probability: 0.30, Confidence: 0.7}, // mercado a 0.50: YES caro
	}}
	src := model.NewSource(est, &fakeMarkets{markets: []domain.Market{testMarket("0xa", 0.50)}},
		discard(), model.WithInterval(time.Hour))

	signals := collect(t, src, 1)

	sig := signals[0]
	assert.Equal(t, domain.SideNo, sig.Side)
	assert.InDelta(t, 0.70, sig.Probability, 1e-9)
}

func TestSource_SkipsBelowMinEdge(t *testing.T) {
	est := &fakeEstimator{estimates: map[string]domain.ProbabilityEstimate{
		"0xflat": {Probability: 0.51, Confidence: 0.9}, // edge 0.01 < 0.02
		"0xedge": {Probability: 0.60, Confidence: 0.9},
	}}
	markets := &fakeMarkets{markets: []domain.Market{
		testMarket("0xflat", 0.50),
		testMarket("0xedge", 0.50),
	}}
	src := model.NewSource(est, markets, discard(), model.WithInterval(time.Hour))

	signals := collect(t, src, 1)
	assert.Equal(t, "0xedge", signals[0].ConditionID)
}

func TestSource_SkipsEstimatorErrors(t *testing.T) {
	est := &fakeEstimator{err: errors.New("model unavailable")}
	src := model.NewSource(est, &fakeMarkets{markets: []domain.Market{testMarket("0xa", 0.50)}},
		discard(), model.WithInterval(50*time.Millisecond))

	out := make(chan domain.Signal, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := src.Run(ctx, out)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, out)
}

func TestSource_Name(t *testing.T) {
	src := model.NewSource(nil, nil, discard())
	assert.Equal(t, "model_estimate", src.Name())
}
