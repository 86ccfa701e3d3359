package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const (
	defaultWSBase = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	wsPingInterval = 10 * time.Second
	wsReadTimeout  = 30 * time.Second
	wsReconnectMin = time.Second
	wsReconnectMax = 30 * time.Second
)

// Stream implementa ports.PriceStream sobre el canal market del CLOB.
// Reconecta solo con backoff si la conexión muere; el canal de salida
// sobrevive a reconexiones y solo se cierra al cancelar el contexto.
type Stream struct {
	wsBase string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewStream crea el stream. Con wsBase vacío usa producción.
func NewStream(wsBase string, logger *slog.Logger) *Stream {
	if wsBase == "" {
		wsBase = defaultWSBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		wsBase: wsBase,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}
}

// Subscribe abre el stream para los tokens dados.
func (s *Stream) Subscribe(ctx context.Context, tokenIDs []string) (<-chan domain.PriceUpdate, error) {
	if len(tokenIDs) == 0 {
		return nil, fmt.Errorf("polymarket.Subscribe: no token IDs")
	}

	out := make(chan domain.PriceUpdate, 256)
	go s.runLoop(ctx, tokenIDs, out)
	return out, nil
}

// runLoop mantiene la conexión viva hasta que el contexto se cancele.
func (s *Stream) runLoop(ctx context.Context, tokenIDs []string, out chan<- domain.PriceUpdate) {
	defer close(out)

	backoff := wsReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.runConn(ctx, tokenIDs, out)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("price stream disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsReconnectMax {
			backoff = wsReconnectMax
		}
	}
}

// runConn abre una conexión, se suscribe y bombea mensajes hasta que falle.
func (s *Stream) runConn(ctx context.Context, tokenIDs []string, out chan<- domain.PriceUpdate) error {
	conn, _, err := s.dialer.DialContext(ctx, s.wsBase, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := wsSubscribeRequest{Type: "market", AssetsIDs: tokenIDs}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("price stream connected", "tokens", len(tokenIDs))

	// Ping periódico para mantener viva la conexión; el CLOB corta
	// conexiones silenciosas.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		t := time.NewTicker(wsPingInterval)
		defer t.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				conn.Close() // desbloquea el ReadMessage
				return
			case <-t.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var msgs []wsMarketMessage
		if err := conn.ReadJSON(&msgs); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		now := time.Now().UTC()
		for _, msg := range msgs {
			for _, upd := range mapWSMessage(msg, now) {
				select {
				case out <- upd:
				default:
					// Consumidor lento: precio viejo descartado, el
					// siguiente tick lo reemplaza.
				}
			}
		}
	}
}

// mapWSMessage extrae los PriceUpdate de un mensaje del canal market.
func mapWSMessage(msg wsMarketMessage, now time.Time) []domain.PriceUpdate {
	switch msg.EventType {
	case "last_trade_price":
		price, err := strconv.ParseFloat(msg.Price, 64)
		if err != nil || price <= 0 {
			return nil
		}
		return []domain.PriceUpdate{{TokenID: msg.AssetID, Price: price, Timestamp: now}}

	case "price_change":
		updates := make([]domain.PriceUpdate, 0, len(msg.Changes))
		for _, ch := range msg.Changes {
			price, err := strconv.ParseFloat(ch.Price, 64)
			if err != nil || price <= 0 {
				continue
			}
			assetID := ch.AssetID
			if assetID == "" {
				assetID = msg.AssetID
			}
			updates = append(updates, domain.PriceUpdate{TokenID: assetID, Price: price, Timestamp: now})
		}
		return updates
	}
	return nil
}
