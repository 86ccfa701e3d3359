package orderflow_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alejandrodnm/polytrader/internal/adapters/orderflow"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	updates chan domain.PriceUpdate
}

func (f *fakeStream) Subscribe(_ context.Context, _ []string) (<-chan domain.PriceUpdate, error) {
	return f.updates, nil
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

// harness arranca la fuente contra un stream controlado por el test y
// devuelve el canal de updates de entrada y el de señales de salida.
func harness(t *testing.T, opts ...orderflow.Option) (chan domain.PriceUpdate, chan domain.Signal) {
	t.Helper()

	stream := &fakeStream{updates: make(chan domain.PriceUpdate, 32)}
	markets := &fakeMarkets{markets: []domain.Market{testMarket("mkt-1", 0.50)}}
	src := orderflow.NewSource(stream, markets, discard(), opts...)

	out := make(chan domain.Signal, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = src.Run(ctx, out)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return stream.updates, out
}

func waitSignal(t *testing.T, out <-chan domain.Signal) domain.Signal {
	t.Helper()
	select {
	case sig := <-out:
		return sig
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return domain.Signal{}
	}
}

func assertNoSignal(t *testing.T, out <-chan domain.Signal) {
	t.Helper()
	select {
	case sig := <-out:
		t.Fatalf("unexpected signal emitted: %+v", sig)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSource_UpwardMoveEmitsYes(t *testing.T) {
	updates, out := harness(t, orderflow.WithMinMove(0.03))

	base := time.Now()
	updates <- domain.PriceUpdate{TokenID: "mkt-1-yes", Price: 0.50, Timestamp: base}
	updates <- domain.PriceUpdate{TokenID: "mkt-1-yes", Price: 0.56, Timestamp: base.Add(30 * time.Second)}

	sig := waitSignal(t, out)
	assert.Equal(t, domain.KindOrderFlow, sig.Kind)
	assert.Equal(t, "mkt-1", sig.ConditionID)
	assert.Equal(t, domain.SideYes, sig.Side)
	// Probabilidad por encima del precio actual: el momentum se extrapola.
	assert.Greater(t, sig.Probability, 0.56)
	assert.GreaterOrEqual(t, sig.Confidence, 0.30)
	require.NotEmpty(t, sig.ID)
}

func TestSource_DownwardMoveEmitsNo(t *testing.T) {
	updates, out := harness(t, orderflow.WithMinMove(0.03))

	base := time.Now()
	updates <- domain.PriceUpdate{TokenID: "mkt-1-yes", Price: 0.50, Timestamp: base}
	updates <- domain.PriceUpdate{TokenID: "mkt-1-yes", Price: 0.42, Timestamp: base.Add(time.Minute)}

	sig := waitSignal(t, out)
	assert.Equal(t, domain.SideNo, sig.Side)
	// 1 - 0.42 + 0.5*0.08 = 0.62
	assert.InDelta(t, 0.62, sig.Probability, 1e-9)
}

func TestSource_SmallMoveIsIgnored(t *testing.T) {
	updates, out := harness(t, orderflow.WithMinMove(0.05))

	base := time.Now()
	updates <- domain.PriceUpdate{TokenID: "mkt-1-yes", Price: 0.50, Timestamp: base}
	updates <- domain.PriceUpdate{TokenID: "mkt-1-yes", Price: 0.52, Timestamp: base.Add(time.Minute)}

	assertNoSignal(t, out)
}

func TestSource_CooldownSilencesRepeats(t *testing.T) {
	updates, out := harness(t, orderflow.WithMinMove(0.03))

	base := time.Now()
	updates <- domain.PriceUpdate{TokenID: "mkt-1-yes", Price: 0.50, Timestamp: base}
	updates <- domain.PriceUpdate{TokenID: "mkt-1-yes", Price: 0.56, Timestamp: base.Add(30 * time.Second)}
	updates <- domain.PriceUpdate{TokenID: "mkt-1-yes", Price: 0.62, Timestamp: base.Add(time.Minute)}

	waitSignal(t, out)
	assertNoSignal(t, out)
}

func TestSource_UnknownTokenIsIgnored(t *testing.T) {
	updates, out := harness(t, orderflow.WithMinMove(0.03))

	base := time.Now()
	updates <- domain.PriceUpdate{TokenID: "other", Price: 0.10, Timestamp: base}
	updates <- domain.PriceUpdate{TokenID: "other", Price: 0.90, Timestamp: base.Add(time.Minute)}

	assertNoSignal(t, out)
}

func TestSource_Name(t *testing.T) {
	src := orderflow.NewSource(&fakeStream{}, &fakeMarkets{}, discard())
	assert.Equal(t, "order_flow", src.Name())
}
