package executor

import (
	"fmt"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// ChildOrder es un tramo del plan de ejecución: shares acotados por la
// profundidad del nivel contra el que se espera ejecutar.
type ChildOrder struct {
	Shares     float64
	LevelPrice float64 // precio del nivel que acota este tramo
}

// Plan es el resultado de planificar una entrada contra el book actual.
type Plan struct {
	Children    []ChildOrder
	TotalShares float64
	EstAvgPrice float64
	EstCostUSD  float64
	Shrunk      bool // true si el tamaño se recortó por el cap de slippage
}

// PlanEntry proyecta la compra contra los asks y arma el plan de órdenes
// hijas. Si el tamaño pedido rompería el cap de slippage, primero intenta
// recortarlo al mayor tamaño que cabe; si ni recortado queda tamaño útil,
// aborta con el ExecFailure correspondiente.
func PlanEntry(shares float64, book domain.OrderBook, maxSlippage, minShares float64) (Plan, error) {
	if len(book.Asks) == 0 {
		return Plan{}, domain.NewExecFailure(domain.ExecInsufficientDepth,
			fmt.Errorf("executor.PlanEntry: empty ask side"))
	}

	planned := shares
	shrunk := false

	est := book.WalkBuy(planned)
	if est.Exhausted {
		// El book no absorbe el tamaño completo: planear lo que hay.
		planned = est.FilledShares
		shrunk = true
	}
	if est.Slippage > maxSlippage {
		planned = book.MaxSharesWithinSlippage(maxSlippage)
		shrunk = true
	}
	if planned < minShares || planned <= 0 {
		kind := domain.ExecSlippageExceeded
		if est.Exhausted && est.FilledShares <= 0 {
			kind = domain.ExecInsufficientDepth
		}
		return Plan{}, domain.NewExecFailure(kind,
			fmt.Errorf("executor.PlanEntry: %.2f shares plannable, minimum %.2f", planned, minShares))
	}

	final := book.WalkBuy(planned)
	return Plan{
		Children:    splitByDepth(book.Asks, planned),
		TotalShares: planned,
		EstAvgPrice: final.AvgPrice,
		EstCostUSD:  final.CostUSD,
		Shrunk:      shrunk,
	}, nil
}

// PlanExit proyecta una venta contra los bids con la misma política de
// recorte. Para salidas el mínimo es cero: se vende lo que el book absorba.
func PlanExit(shares float64, book domain.OrderBook, maxSlippage float64) (Plan, error) {
	if len(book.Bids) == 0 {
		return Plan{}, domain.NewExecFailure(domain.ExecInsufficientDepth,
			fmt.Errorf("executor.PlanExit: empty bid side"))
	}

	planned := shares
	shrunk := false

	est := book.WalkSell(planned)
	if est.Exhausted {
		planned = est.FilledShares
		shrunk = true
	}
	if est.Slippage > maxSlippage {
		planned = maxSellWithinSlippage(book, maxSlippage)
		shrunk = true
	}
	if planned <= 0 {
		return Plan{}, domain.NewExecFailure(domain.ExecSlippageExceeded,
			fmt.Errorf("executor.PlanExit: no sellable size within %.2f%% slippage", maxSlippage*100))
	}

	final := book.WalkSell(planned)
	return Plan{
		Children:    splitByDepth(book.Bids, planned),
		TotalShares: planned,
		EstAvgPrice: final.AvgPrice,
		EstCostUSD:  final.CostUSD,
		Shrunk:      shrunk,
	}, nil
}

// splitByDepth corta `shares` en tramos acotados por la profundidad de cada
// nivel: ningún hijo pide más de lo que su nivel ofrece.
func splitByDepth(levels []domain.BookEntry, shares float64) []ChildOrder {
	var children []ChildOrder
	remaining := shares
	for _, lvl := range levels {
		if remaining <= 1e-9 {
			break
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		children = append(children, ChildOrder{Shares: take, LevelPrice: lvl.Price})
		remaining -= take
	}
	return children
}

// maxSellWithinSlippage es el espejo de venta de MaxSharesWithinSlippage:
// mayor tamaño cuyo precio promedio no cae por debajo del límite.
func maxSellWithinSlippage(book domain.OrderBook, maxSlippage float64) float64 {
	best := book.BestBid()
	if best <= 0 || maxSlippage < 0 {
		return 0
	}
	limitPrice := best * (1 - maxSlippage)

	var filled, proceeds float64
	for _, lvl := range book.Bids {
		if lvl.Price >= limitPrice {
			filled += lvl.Size
			proceeds += lvl.Size * lvl.Price
			continue
		}
		if filled > 0 && lvl.Price < limitPrice {
			// (proceeds + x·p) / (filled + x) = limitPrice → despejar x
			x := (proceeds - limitPrice*filled) / (limitPrice - lvl.Price)
			if x > 0 {
				if x > lvl.Size {
					x = lvl.Size
				}
				filled += x
			}
		}
		break
	}
	return filled
}
