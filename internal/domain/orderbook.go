package domain

import "strconv"

// OrderBook representa el libro de órdenes de un token.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry // ordenados mayor a menor precio
	Asks    []BookEntry // ordenados menor a mayor precio
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Midpoint devuelve el punto medio entre best bid y best ask.
func (ob OrderBook) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread devuelve el spread del book (ask - bid).
func (ob OrderBook) Spread() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// AskDepthShares devuelve el total de shares disponibles del lado ask.
func (ob OrderBook) AskDepthShares() float64 {
	var total float64
	for _, a := range ob.Asks {
		total += a.Size
	}
	return total
}

// BidDepthShares devuelve el total de shares disponibles del lado bid.
func (ob OrderBook) BidDepthShares() float64 {
	var total float64
	for _, b := range ob.Bids {
		total += b.Size
	}
	return total
}

// FillEstimate es el resultado de caminar los niveles del book para un tamaño dado.
type FillEstimate struct {
	AvgPrice     float64 // precio promedio ponderado de ejecución
	FilledShares float64 // shares que el book puede absorber (≤ pedido)
	CostUSD      float64 // costo total de los shares llenables
	Slippage     float64 // (AvgPrice - mejor precio) / mejor precio, ≥ 0
	Exhausted    bool    // true si el book no alcanza para el tamaño pedido
}

// WalkBuy camina los asks para estimar el fill de una compra de `shares`.
// Devuelve un estimate con FilledShares == 0 si no hay asks.
func (ob OrderBook) WalkBuy(shares float64) FillEstimate {
	return walkLevels(ob.Asks, shares, ob.BestAsk())
}

// WalkSell camina los bids para estimar el fill de una venta de `shares`.
func (ob OrderBook) WalkSell(shares float64) FillEstimate {
	est := walkLevels(ob.Bids, shares, ob.BestBid())
	// En una venta el slippage es precio promedio POR DEBAJO del best bid.
	if ob.BestBid() > 0 && est.FilledShares > 0 {
		est.Slippage = (ob.BestBid() - est.AvgPrice) / ob.BestBid()
		if est.Slippage < 0 {
			est.Slippage = 0
		}
	}
	return est
}

// walkLevels acumula niveles hasta cubrir `shares` o agotar el book.
func walkLevels(levels []BookEntry, shares, best float64) FillEstimate {
	if shares <= 0 || len(levels) == 0 || best <= 0 {
		return FillEstimate{Exhausted: len(levels) == 0}
	}

	var filled, cost float64
	remaining := shares
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		filled += take
		cost += take * lvl.Price
		remaining -= take
	}

	est := FillEstimate{
		FilledShares: filled,
		CostUSD:      cost,
		Exhausted:    remaining > 0,
	}
	if filled > 0 {
		est.AvgPrice = cost / filled
		est.Slippage = (est.AvgPrice - best) / best
		if est.Slippage < 0 {
			est.Slippage = 0
		}
	}
	return est
}

// MaxSharesWithinSlippage devuelve el mayor tamaño de compra cuyo slippage
// promedio proyectado no supera maxSlippage. Camina los asks nivel a nivel;
// del primer nivel que rompería el límite toma solo la fracción que mantiene
// el promedio exactamente en el límite.
func (ob OrderBook) MaxSharesWithinSlippage(maxSlippage float64) float64 {
	best := ob.BestAsk()
	if best <= 0 || maxSlippage < 0 {
		return 0
	}
	limitPrice := best * (1 + maxSlippage)

	var filled, cost float64
	for _, lvl := range ob.Asks {
		if lvl.Price <= limitPrice {
			filled += lvl.Size
			cost += lvl.Size * lvl.Price
			continue
		}
		// (cost + x·p) / (filled + x) = limitPrice → despejar x
		if filled > 0 && lvl.Price > limitPrice {
			x := (limitPrice*filled - cost) / (lvl.Price - limitPrice)
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

// ParsePrice convierte un string de precio a float64.
// Usado en el mapping de la API.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
