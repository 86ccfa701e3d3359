package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// MarketProvider obtiene los mercados activos a evaluar.
type MarketProvider interface {
	// FetchActiveMarkets devuelve los mercados activos con precios actuales.
	// Pagina automáticamente hasta obtener todos los resultados.
	FetchActiveMarkets(ctx context.Context) ([]domain.Market, error)
}

// BookProvider obtiene orderbooks del CLOB usando el endpoint batch.
type BookProvider interface {
	// FetchOrderBooks devuelve los orderbooks para los token_ids dados.
	// Internamente agrupa los IDs en batches para minimizar requests.
	FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error)
}

// PriceStream es el mecanismo de suscripción a actualizaciones de precio.
type PriceStream interface {
	// Subscribe abre el stream para los tokens dados. El canal se cierra
	// cuando el contexto se cancela o la conexión muere.
	Subscribe(ctx context.Context, tokenIDs []string) (<-chan domain.PriceUpdate, error)
}
