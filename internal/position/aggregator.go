// Package position folds confirmed fills into per-broker and consolidated
// cross-broker position views. It is a pure fold: replaying the same fills
// in the same order always rebuilds the same book, which is what the audit
// path relies on.
package position

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"smartroute/internal/broker"
)

// Fill is one confirmed execution at a venue.
type Fill struct {
	BrokerID  string
	Symbol    string
	Side      broker.Side
	Quantity  float64
	Price     float64
	Timestamp time.Time
}

// Position is the per-broker holding for one symbol. Quantity is signed:
// positive long, negative short. AvgPrice applies to the open quantity.
type Position struct {
	Symbol      string  `json:"symbol"`
	BrokerID    string  `json:"broker_id"`
	Quantity    float64 `json:"quantity"`
	AvgPrice    float64 `json:"avg_price"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// Consolidated is the cross-broker sum for one symbol with a quantity-
// weighted average price.
type Consolidated struct {
	Symbol           string  `json:"symbol"`
	Quantity         float64 `json:"quantity"`
	WeightedAvgPrice float64 `json:"weighted_avg_price"`
	RealizedPnL      float64 `json:"realized_pnl"`
}

type bookKey struct {
	symbol   string
	brokerID string
}

type book struct {
	qty      decimal.Decimal
	avg      decimal.Decimal
	realized decimal.Decimal
}

type Aggregator struct {
	mu    sync.RWMutex
	books map[bookKey]*book
}

func NewAggregator() *Aggregator {
	return &Aggregator{books: make(map[bookKey]*book)}
}

// ApplyFill folds one confirmed fill into the book and returns the updated
// per-broker position. Same-direction fills accumulate a weighted average
// price; opposite-direction fills realize P&L against the open average
// before adjusting the remainder.
func (a *Aggregator) ApplyFill(f Fill) Position {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := bookKey{symbol: f.Symbol, brokerID: f.BrokerID}
	b := a.books[key]
	if b == nil {
		b = &book{}
		a.books[key] = b
	}

	fillQty := decimal.NewFromFloat(f.Quantity)
	fillPrice := decimal.NewFromFloat(f.Price)
	signed := fillQty
	if f.Side == broker.SideSell {
		signed = fillQty.Neg()
	}

	switch {
	case b.qty.IsZero() || b.qty.Sign() == signed.Sign():
		// Same direction (or flat): weighted-average accumulation.
		oldAbs := b.qty.Abs()
		newAbs := oldAbs.Add(fillQty)
		b.avg = oldAbs.Mul(b.avg).Add(fillQty.Mul(fillPrice)).Div(newAbs)
		b.qty = b.qty.Add(signed)
	default:
		// Opposite direction: realize P&L on the closed quantity.
		openAbs := b.qty.Abs()
		closeQty := decimal.Min(openAbs, fillQty)
		pnlPerUnit := fillPrice.Sub(b.avg)
		if b.qty.Sign() < 0 {
			pnlPerUnit = b.avg.Sub(fillPrice)
		}
		b.realized = b.realized.Add(closeQty.Mul(pnlPerUnit))
		b.qty = b.qty.Add(signed)
		switch {
		case b.qty.IsZero():
			b.avg = decimal.Zero
		case b.qty.Sign() == signed.Sign():
			// Crossed through flat: the remainder opens at the fill price.
			b.avg = fillPrice
		}
	}

	return b.position(key)
}

func (b *book) position(key bookKey) Position {
	qty, _ := b.qty.Float64()
	avg, _ := b.avg.Float64()
	realized, _ := b.realized.Float64()
	return Position{
		Symbol:      key.symbol,
		BrokerID:    key.brokerID,
		Quantity:    qty,
		AvgPrice:    avg,
		RealizedPnL: realized,
	}
}

// PositionsFor returns all per-broker positions for a symbol, sorted by
// broker id.
func (a *Aggregator) PositionsFor(symbol string) []Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Position
	for key, b := range a.books {
		if key.symbol == symbol {
			out = append(out, b.position(key))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BrokerID < out[j].BrokerID })
	return out
}

// All returns every position, sorted by symbol then broker id.
func (a *Aggregator) All() []Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Position, 0, len(a.books))
	for key, b := range a.books {
		out = append(out, b.position(key))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].BrokerID < out[j].BrokerID
	})
	return out
}

// Consolidated sums the per-broker books for one symbol. The average price
// is weighted by absolute open quantity.
func (a *Aggregator) Consolidated(symbol string) Consolidated {
	a.mu.RLock()
	defer a.mu.RUnlock()

	total := decimal.Zero
	weighted := decimal.Zero
	absSum := decimal.Zero
	realized := decimal.Zero
	for key, b := range a.books {
		if key.symbol != symbol {
			continue
		}
		total = total.Add(b.qty)
		abs := b.qty.Abs()
		weighted = weighted.Add(abs.Mul(b.avg))
		absSum = absSum.Add(abs)
		realized = realized.Add(b.realized)
	}

	out := Consolidated{Symbol: symbol}
	out.Quantity, _ = total.Float64()
	out.RealizedPnL, _ = realized.Float64()
	if !absSum.IsZero() {
		out.WeightedAvgPrice, _ = weighted.Div(absSum).Float64()
	}
	return out
}

// Replay resets the book and folds the given fills in order. Used for
// reconciliation and audit rebuilds.
func (a *Aggregator) Replay(fills []Fill) {
	a.mu.Lock()
	a.books = make(map[bookKey]*book)
	a.mu.Unlock()
	for _, f := range fills {
		a.ApplyFill(f)
	}
}
