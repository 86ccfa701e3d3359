package paper_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alejandrodnm/polytrader/internal/adapters/paper"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paperClient(balance float64) *paper.Client {
	return paper.NewClient(balance, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_FillsBuyOnFirstPoll(t *testing.T) {
	c := paperClient(1000)
	ctx := context.Background()

	ack, err := c.SubmitOrder(ctx, domain.Order{
		TokenID: "tok-yes", Side: domain.SideYes, Shares: 100, LimitPrice: 0.52,
	})
	require.NoError(t, err)
	require.True(t, ack.Accepted)
	require.NotEmpty(t, ack.ExternalID)

	upd, err := c.PollOrder(ctx, ack.ExternalID)
	require.NoError(t, err)
	assert.True(t, upd.Done)
	assert.InDelta(t, 100.0, upd.FilledShares, 1e-9)
	assert.InDelta(t, 0.52, upd.AvgFillPrice, 1e-9)

	balance, err := c.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 948.0, balance, 1e-9)
}

func TestClient_SellCreditsBalance(t *testing.T) {
	c := paperClient(100)
	ctx := context.Background()

	ack, err := c.SubmitOrder(ctx, domain.Order{
		TokenID: "tok-yes", Side: domain.SideYes, Exit: true, Shares: 50, LimitPrice: 0.60,
	})
	require.NoError(t, err)
	require.True(t, ack.Accepted)

	_, err = c.PollOrder(ctx, ack.ExternalID)
	require.NoError(t, err)

	balance, _ := c.GetBalance(ctx)
	assert.InDelta(t, 130.0, balance, 1e-9)
}

func TestClient_RejectsInsufficientBalance(t *testing.T) {
	c := paperClient(10)

	ack, err := c.SubmitOrder(context.Background(), domain.Order{
		TokenID: "tok-yes", Shares: 100, LimitPrice: 0.50, // $50 > $10
	})
	require.NoError(t, err) // rechazo del exchange no es error de transporte
	assert.False(t, ack.Accepted)
	assert.Contains(t, ack.Reason, "insufficient balance")
}

func TestClient_RejectsInvalidParams(t *testing.T) {
	c := paperClient(1000)

	ack, err := c.SubmitOrder(context.Background(), domain.Order{
		TokenID: "tok-yes", Shares: 0, LimitPrice: 0.50,
	})
	require.NoError(t, err)
	assert.False(t, ack.Accepted)
}

func TestClient_CancelBeforeFill(t *testing.T) {
	c := paperClient(1000)
	ctx := context.Background()

	ack, err := c.SubmitOrder(ctx, domain.Order{
		TokenID: "tok-yes", Shares: 10, LimitPrice: 0.40,
	})
	require.NoError(t, err)

	require.NoError(t, c.CancelOrder(ctx, ack.ExternalID))

	upd, err := c.PollOrder(ctx, ack.ExternalID)
	require.NoError(t, err)
	assert.True(t, upd.Cancelled)
	assert.Zero(t, upd.FilledShares)

	balance, _ := c.GetBalance(ctx)
	assert.InDelta(t, 1000.0, balance, 1e-9)
}

func TestClient_UnknownOrder(t *testing.T) {
	c := paperClient(1000)
	_, err := c.PollOrder(context.Background(), "nope")
	require.Error(t, err)
}
