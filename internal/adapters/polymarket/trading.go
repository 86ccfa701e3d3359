package polymarket

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// TradingClient implementa ports.ExecutionClient contra el CLOB L2.
// Todas las órdenes se envían como límites GTC.
type TradingClient struct {
	auth *authClient
}

// NewTradingClient crea el transport de órdenes autenticado.
func NewTradingClient(client *Client, creds Credentials) (*TradingClient, error) {
	if !creds.Valid() {
		return nil, fmt.Errorf("polymarket.NewTradingClient: incomplete credentials")
	}
	return &TradingClient{auth: newAuthClient(client, creds)}, nil
}

// SubmitOrder envía una orden límite al CLOB y devuelve el ack.
// Un rechazo del exchange no es un error de transporte: viaja en el ack.
func (tc *TradingClient) SubmitOrder(ctx context.Context, order domain.Order) (domain.SubmitAck, error) {
	side := "BUY"
	if order.Exit {
		side = "SELL"
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			TokenID:    order.TokenID,
			Price:      strconv.FormatFloat(order.LimitPrice, 'f', 3, 64),
			Size:       strconv.FormatFloat(order.Shares, 'f', 2, 64),
			Side:       side,
			Expiration: "0", // GTC
		},
		Owner:     tc.auth.creds.APIKey,
		OrderType: "GTC",
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, "POST", "/order", body, &resp); err != nil {
		return domain.SubmitAck{}, fmt.Errorf("polymarket.SubmitOrder: %w", err)
	}

	if !resp.Success || resp.ErrorMsg != "" {
		return domain.SubmitAck{Accepted: false, Reason: resp.ErrorMsg}, nil
	}
	return domain.SubmitAck{ExternalID: resp.OrderID, Accepted: true}, nil
}

// PollOrder consulta el estado de fill de una orden viva.
func (tc *TradingClient) PollOrder(ctx context.Context, externalID string) (domain.OrderUpdate, error) {
	var resp clobOrderStatus
	if err := tc.auth.doL2(ctx, "GET", "/data/order/"+externalID, nil, &resp); err != nil {
		return domain.OrderUpdate{}, fmt.Errorf("polymarket.PollOrder: %w", err)
	}

	filled, _ := strconv.ParseFloat(resp.SizeMatched, 64)
	price, _ := strconv.ParseFloat(resp.Price, 64)

	upper := strings.ToUpper(resp.Status)
	return domain.OrderUpdate{
		ExternalID:   externalID,
		FilledShares: filled,
		AvgFillPrice: price,
		Done:         strings.Contains(upper, "MATCHED") || strings.Contains(upper, "CANCEL") || strings.Contains(upper, "INVALID"),
		Cancelled:    strings.Contains(upper, "CANCEL") || strings.Contains(upper, "INVALID"),
	}, nil
}

// CancelOrder cancela una orden por su ID del CLOB.
func (tc *TradingClient) CancelOrder(ctx context.Context, externalID string) error {
	if err := tc.auth.doL2(ctx, "DELETE", "/order/"+externalID, nil, nil); err != nil {
		return fmt.Errorf("polymarket.CancelOrder %s: %w", externalID, err)
	}
	return nil
}

// GetBalance devuelve el balance USDC disponible según el CLOB.
func (tc *TradingClient) GetBalance(ctx context.Context) (float64, error) {
	var resp clobBalanceResponse
	if err := tc.auth.doL2(ctx, "GET", "/balance-allowance?asset_type=COLLATERAL", nil, &resp); err != nil {
		return 0, fmt.Errorf("polymarket.GetBalance: %w", err)
	}

	// El CLOB reporta micro-USDC.
	micro, err := strconv.ParseFloat(resp.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket.GetBalance: parse %q: %w", resp.Balance, err)
	}
	return micro / 1e6, nil
}
