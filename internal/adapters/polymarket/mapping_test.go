package polymarket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapCLOBMarket(t *testing.T) {
	raw := clobMarket{
		ConditionID: "0xabc",
		QuestionID:  "0xq",
		Active:      true,
		Tokens: []clobToken{
			{TokenID: "tok-yes", Outcome: "Yes", Price: 0.62},
			{TokenID: "tok-no", Outcome: "No", Price: 0.39},
		},
	}

	m := mapCLOBMarket(raw)
	assert.Equal(t, "0xabc", m.ConditionID)
	assert.True(t, m.Active)
	assert.Equal(t, "tok-yes", m.YesToken().TokenID)
	assert.InDelta(t, 0.62, m.YesToken().Price, 1e-9)
	assert.InDelta(t, 0.39, m.NoToken().Price, 1e-9)
}

func TestEnrichFromGamma(t *testing.T) {
	m := mapCLOBMarket(clobMarket{ConditionID: "0xabc", Active: true})
	gm := gammaMarket{
		ConditionID: "0xabc",
		Question:    "Will BTC close above 100k?",
		Slug:        "btc-100k",
		Category:    "crypto",
		EndDateISO:  "2025-12-31",
		CreatedAt:   "2025-01-15T10:00:00Z",
		Volume24h:   "125000.5",
	}

	enrichFromGamma(&m, gm)

	assert.Equal(t, "Will BTC close above 100k?", m.Question)
	assert.Equal(t, "crypto", m.Category)
	assert.InDelta(t, 125000.5, m.Volume24h, 1e-9)
	assert.Equal(t, 2025, m.EndDate.Year())
	assert.Equal(t, time.December, m.EndDate.Month())
	assert.Equal(t, time.January, m.CreatedAt.Month())
}

func TestMapBookEntries_SortsAndFiltersInvalid(t *testing.T) {
	raw := []bookEntryRaw{
		{Price: "0.52", Size: "100"},
		{Price: "0.50", Size: "200"},
		{Price: "0", Size: "50"},     // precio inválido
		{Price: "0.54", Size: "0"},   // size inválido
		{Price: "abc", Size: "10"},   // no parsea
	}

	asks := mapBookEntries(raw, true)
	require.Len(t, asks, 2)
	assert.InDelta(t, 0.50, asks[0].Price, 1e-9)
	assert.InDelta(t, 0.52, asks[1].Price, 1e-9)

	bids := mapBookEntries(raw, false)
	require.Len(t, bids, 2)
	assert.InDelta(t, 0.52, bids[0].Price, 1e-9)
}

func TestMapWSMessage(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	trade := wsMarketMessage{EventType: "last_trade_price", AssetID: "tok-1", Price: "0.55"}
	updates := mapWSMessage(trade, now)
	require.Len(t, updates, 1)
	assert.Equal(t, "tok-1", updates[0].TokenID)
	assert.InDelta(t, 0.55, updates[0].Price, 1e-9)

	change := wsMarketMessage{
		EventType: "price_change",
		AssetID:   "tok-1",
		Changes: []wsPriceChange{
			{AssetID: "tok-1", Price: "0.56"},
			{AssetID: "tok-2", Price: "0.44"},
			{AssetID: "tok-3", Price: "bad"},
		},
	}
	updates = mapWSMessage(change, now)
	require.Len(t, updates, 2)
	assert.Equal(t, "tok-2", updates[1].TokenID)

	// Eventos desconocidos se ignoran.
	assert.Empty(t, mapWSMessage(wsMarketMessage{EventType: "book"}, now))
}

func TestSplitBatches(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	batches := splitBatches(ids, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"e"}, batches[2])
}
