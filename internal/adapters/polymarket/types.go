package polymarket

import "encoding/json"

// DTOs raw de las APIs de Polymarket. Solo se usan dentro de este paquete;
// la conversión a entidades de dominio vive en mapping.go.

// --- CLOB API ---

// clobMarketsResponse es la respuesta paginada de GET /sampling-markets.
type clobMarketsResponse struct {
	Limit      int          `json:"limit"`
	Count      int          `json:"count"`
	NextCursor string       `json:"next_cursor"`
	Data       []clobMarket `json:"data"`
}

// clobMarket es un mercado del CLOB.
type clobMarket struct {
	ConditionID string      `json:"condition_id"`
	QuestionID  string      `json:"question_id"`
	Tokens      []clobToken `json:"tokens"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
}

// clobToken representa un token (YES/NO) en el CLOB.
type clobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// orderBookRequest es un item del body del POST /books batch.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse es un item de la respuesta de POST /books.
type orderBookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw (strings para no perder precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --- Trading (CLOB L2) ---

// clobOrderRequest es el body de POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	TokenID    string `json:"tokenId"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	Side       string `json:"side"`
	Expiration string `json:"expiration"`
}

type clobOrderResponse struct {
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
	Success  bool   `json:"success"`
}

// clobOrderStatus es la respuesta de GET /data/order/{id}.
type clobOrderStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

type clobBalanceResponse struct {
	Balance string `json:"balance"`
}

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket contiene la metadata enriquecida de un mercado. Gamma devuelve
// varios campos numéricos como strings JSON, de ahí json.Number.
type gammaMarket struct {
	ConditionID string      `json:"conditionId"`
	Question    string      `json:"question"`
	Slug        string      `json:"slug"`
	Category    string      `json:"category"`
	EndDateISO  string      `json:"endDateIso"`
	CreatedAt   string      `json:"createdAt"`
	Volume24h   json.Number `json:"volume24hr"`
	Liquidity   json.Number `json:"liquidity"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
}

// --- Websocket market channel ---

// wsSubscribeRequest es el mensaje inicial de suscripción al canal market.
type wsSubscribeRequest struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

// wsMarketMessage es un mensaje del canal market. Solo nos interesan los
// eventos price_change y last_trade_price.
type wsMarketMessage struct {
	EventType string          `json:"event_type"`
	AssetID   string          `json:"asset_id"`
	Price     string          `json:"price"`
	Timestamp string          `json:"timestamp"`
	Changes   []wsPriceChange `json:"changes"`
}

type wsPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
}
