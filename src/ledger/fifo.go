package ledger

import (
	"tradeledger/src/model"

	"github.com/shopspring/decimal"
)

type lot struct {
	qty   decimal.Decimal
	price decimal.Decimal
}

// match is the outcome of applying one fill to the book.
type match struct {
	realized   decimal.Decimal
	matchedQty decimal.Decimal
	// unmatchedQty is sell quantity with no open lot left. Short positions
	// are not modelled, so it is dropped.
	unmatchedQty decimal.Decimal
}

// book holds the open FIFO lots per symbol. Fills must be applied in
// ascending timestamp order.
type book struct {
	lots      map[model.Symbol][]lot
	lastVenue map[model.Symbol]model.Venue
	symbols   []model.Symbol
}

func newBook() *book {
	return &book{
		lots:      make(map[model.Symbol][]lot),
		lastVenue: make(map[model.Symbol]model.Venue),
	}
}

func (b *book) apply(fill model.Fill) match {
	if _, seen := b.lastVenue[fill.Symbol]; !seen {
		b.symbols = append(b.symbols, fill.Symbol)
	}
	b.lastVenue[fill.Symbol] = fill.Exchange

	m := match{realized: decimal.Zero, matchedQty: decimal.Zero, unmatchedQty: decimal.Zero}

	switch fill.Side {
	case model.SideBuy:
		if fill.Quantity.IsPositive() {
			b.lots[fill.Symbol] = append(b.lots[fill.Symbol], lot{qty: fill.Quantity, price: fill.Price})
		}
	case model.SideSell:
		remaining := fill.Quantity
		queue := b.lots[fill.Symbol]
		for remaining.IsPositive() && len(queue) > 0 {
			head := queue[0]
			qty := decimal.Min(remaining, head.qty)

			m.realized = m.realized.Add(qty.Mul(fill.Price.Sub(head.price)))
			m.matchedQty = m.matchedQty.Add(qty)
			remaining = remaining.Sub(qty)

			if qty.Equal(head.qty) {
				queue = queue[1:]
			} else {
				queue[0].qty = head.qty.Sub(qty)
			}
		}
		b.lots[fill.Symbol] = queue
		if remaining.IsPositive() {
			m.unmatchedQty = remaining
		}
	}

	return m
}

// open returns the remaining lots for symbol, oldest first.
func (b *book) open(symbol model.Symbol) []lot {
	return b.lots[symbol]
}

// realizedPnL is the FIFO realized PnL of sells executed inside the window.
// Every fill up to the window end must be passed so the lots are correct.
func realizedPnL(fills []model.Fill, w Window) decimal.Decimal {
	b := newBook()
	total := decimal.Zero
	for _, fill := range fills {
		if w.Until != nil && fill.Timestamp.After(*w.Until) {
			break
		}
		m := b.apply(fill)
		if fill.Side == model.SideSell && w.contains(fill.Timestamp) {
			total = total.Add(m.realized)
		}
	}
	return total
}
