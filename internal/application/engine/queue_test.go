package engine

import (
	"testing"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestSignalQueue_GroupsByMarketAndPrunes(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	q := newSignalQueue()

	q.Add(domain.Signal{ID: "a1", ConditionID: "0xa", CreatedAt: now, TTL: time.Minute})
	q.Add(domain.Signal{ID: "a2", ConditionID: "0xa", CreatedAt: now, TTL: time.Minute})
	q.Add(domain.Signal{ID: "b1", ConditionID: "0xb", CreatedAt: now, TTL: time.Minute})
	q.Add(domain.Signal{ID: "old", ConditionID: "0xb", CreatedAt: now.Add(-10 * time.Minute), TTL: time.Minute})

	byMarket := q.ByMarket(now)
	assert.Len(t, byMarket["0xa"], 2)
	assert.Len(t, byMarket["0xb"], 1)
	assert.Equal(t, "b1", byMarket["0xb"][0].ID)

	// La expirada quedó podada de la cola.
	assert.Equal(t, 3, q.Len())
}

func TestSignalQueue_EmptyMarketAbsent(t *testing.T) {
	q := newSignalQueue()
	byMarket := q.ByMarket(time.Now())
	_, ok := byMarket["0xa"]
	assert.False(t, ok)
	assert.Zero(t, q.Len())
}
