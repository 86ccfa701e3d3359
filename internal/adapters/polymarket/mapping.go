package polymarket

import (
	"sort"
	"strconv"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// mapCLOBMarket convierte un clobMarket DTO a domain.Market.
func mapCLOBMarket(r clobMarket) domain.Market {
	m := domain.Market{
		ConditionID: r.ConditionID,
		QuestionID:  r.QuestionID,
		Active:      r.Active,
		Closed:      r.Closed,
	}

	for i, t := range r.Tokens {
		if i >= 2 {
			break
		}
		m.Tokens[i] = domain.Token{
			TokenID: t.TokenID,
			Outcome: t.Outcome,
			Price:   t.Price,
		}
	}

	return m
}

// enrichFromGamma aplica la metadata de Gamma sobre un mercado existente.
func enrichFromGamma(m *domain.Market, gm gammaMarket) {
	m.Question = gm.Question
	m.Slug = gm.Slug
	m.Category = gm.Category

	if v, err := gm.Volume24h.Float64(); err == nil {
		m.Volume24h = v
	}

	if t, ok := parseGammaTime(gm.EndDateISO); ok {
		m.EndDate = t
	}
	if t, ok := parseGammaTime(gm.CreatedAt); ok {
		m.CreatedAt = t
	}
}

// parseGammaTime intenta los formatos de fecha que Gamma usa indistintamente.
func parseGammaTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		result[r.AssetID] = domain.OrderBook{
			TokenID: r.AssetID,
			Bids:    mapBookEntries(r.Bids, false),
			Asks:    mapBookEntries(r.Asks, true),
		}
	}
	return result
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena:
// asks de menor a mayor, bids de mayor a menor.
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, _ := strconv.ParseFloat(r.Price, 64)
		size, _ := strconv.ParseFloat(r.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})

	return entries
}
