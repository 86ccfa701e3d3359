package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const (
	samplingMarketsPath = "/sampling-markets"
	pageSize            = 100

	gammaMarketsPath  = "/markets"
	gammaConditionMax = 20
)

// FetchActiveMarkets implementa ports.MarketProvider. Pagina el CLOB hasta
// agotar resultados y enriquece con la metadata de Gamma (pregunta,
// categoría, fecha de resolución, volumen).
func (c *Client) FetchActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	var all []domain.Market
	cursor := ""

	for {
		url := fmt.Sprintf("%s%s?limit=%d", c.clobBase, samplingMarketsPath, pageSize)
		if cursor != "" {
			url += "&next_cursor=" + cursor
		}

		var resp clobMarketsResponse
		if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
			return nil, fmt.Errorf("polymarket.FetchActiveMarkets: %w", err)
		}

		for _, raw := range resp.Data {
			m := mapCLOBMarket(raw)
			if m.Active && !m.Closed {
				all = append(all, m)
			}
		}

		// "LTE=" es el cursor vacío en base64: última página.
		if resp.NextCursor == "" || resp.NextCursor == "LTE=" {
			break
		}
		cursor = resp.NextCursor
	}

	slog.Info("active markets fetched", "total", len(all))

	// El enriquecimiento es opcional: sin Gamma seguimos con precios del
	// CLOB pero sin pregunta ni categoría.
	enriched, err := c.enrichWithGamma(ctx, all)
	if err != nil {
		slog.Warn("gamma enrichment failed, continuing without metadata", "err", err)
		return all, nil
	}
	return enriched, nil
}

// enrichWithGamma aplica la metadata de Gamma sobre los mercados dados.
func (c *Client) enrichWithGamma(ctx context.Context, markets []domain.Market) ([]domain.Market, error) {
	conditionIDs := make([]string, len(markets))
	for i, m := range markets {
		conditionIDs[i] = m.ConditionID
	}

	metadata, err := c.fetchGammaMetadata(ctx, conditionIDs)
	if err != nil {
		return nil, fmt.Errorf("polymarket.enrichWithGamma: %w", err)
	}

	enriched := 0
	for i, m := range markets {
		if gm, ok := metadata[m.ConditionID]; ok {
			enrichFromGamma(&markets[i], gm)
			enriched++
		}
	}

	slog.Debug("gamma enrichment complete", "markets", len(markets), "enriched", enriched)
	return markets, nil
}

// fetchGammaMetadata consulta Gamma en batches de condition_ids. Un batch
// fallido se salta: perder metadata de 20 mercados no tumba el ciclo.
func (c *Client) fetchGammaMetadata(ctx context.Context, conditionIDs []string) (map[string]gammaMarket, error) {
	result := make(map[string]gammaMarket, len(conditionIDs))

	for i := 0; i < len(conditionIDs); i += gammaConditionMax {
		end := i + gammaConditionMax
		if end > len(conditionIDs) {
			end = len(conditionIDs)
		}
		batch := conditionIDs[i:end]

		url := fmt.Sprintf("%s%s?condition_ids=%s&limit=%d",
			c.gammaBase,
			gammaMarketsPath,
			strings.Join(batch, ","),
			gammaConditionMax,
		)

		var resp gammaMarketsResponse
		if err := c.get(ctx, c.gammaLimiter, url, &resp); err != nil {
			slog.Debug("gamma batch failed, skipping",
				"batch", fmt.Sprintf("%d-%d", i, end),
				"err", err,
			)
			continue
		}

		for _, gm := range resp {
			result[gm.ConditionID] = gm
		}
	}

	return result, nil
}
