package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"paper-trader/internal/database"
)

// PlaceOrder records a limit or stop order and earmarks the cash it will
// need. Market orders do not pass through here; they open immediately.
func (l *Ledger) PlaceOrder(ctx context.Context, portfolioID uuid.UUID, order *database.Order, now time.Time) error {
	if order.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	unlock := l.lock(portfolioID)
	defer unlock()

	portfolio, err := l.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return err
	}

	// Reserve against the worst fill price we accept.
	refPrice := deref(order.LimitPrice)
	if refPrice == 0 {
		refPrice = deref(order.StopPrice)
	}
	if refPrice <= 0 {
		return fmt.Errorf("%w: order needs a limit or stop price", ErrInvalidQuantity)
	}
	notional := order.Quantity * refPrice
	broker := Broker(portfolio.BrokerProfile)
	reserve := notional + broker.TradeFee(database.ProductStock, notional)

	existing, err := l.reservedCash(ctx, portfolioID)
	if err != nil {
		return err
	}
	if portfolio.CashBalance-existing < reserve {
		return fmt.Errorf("%w: cannot reserve %.2f", ErrInsufficientCash, reserve)
	}

	order.ID = uuid.New()
	order.PortfolioID = portfolioID
	order.Status = database.OrderPending
	order.ReservedCash = reserve
	order.CreatedAt = now

	return l.store.Apply(ctx, &database.Mutation{
		InsertOrders: []*database.Order{order},
	})
}

// CancelOrder releases a pending order's reservation.
func (l *Ledger) CancelOrder(ctx context.Context, portfolioID, orderID uuid.UUID) error {
	unlock := l.lock(portfolioID)
	defer unlock()

	orders, err := l.store.ListPendingOrders(ctx, portfolioID)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if o.ID != orderID {
			continue
		}
		o.Status = database.OrderCancelled
		o.ReservedCash = 0
		return l.store.Apply(ctx, &database.Mutation{
			UpdateOrders: []*database.Order{o},
		})
	}
	return database.ErrOrderNotFound
}

// FillPendingOrders executes pending orders whose trigger price the quote
// has reached. Fills open stock positions through the normal open path,
// which releases the reservation.
func (l *Ledger) FillPendingOrders(ctx context.Context, portfolioID uuid.UUID, quotes map[string]float64, p *database.Personality, now time.Time) ([]*database.Order, error) {
	orders, err := l.store.ListPendingOrders(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	var filled []*database.Order
	for _, o := range orders {
		price, ok := quotes[o.Symbol]
		if !ok || !orderTriggered(o, price) {
			continue
		}

		side := database.SideLong
		if o.Side == database.DecisionShort {
			side = database.SideShort
		}
		stopLoss, takeProfit := 0.0, 0.0
		if p != nil {
			sl, tp := protectiveFromPersonality(p, side, price)
			stopLoss, takeProfit = sl, tp
		}

		// Release the reservation first so the open sees the cash as free.
		o.Status = database.OrderFilled
		o.ReservedCash = 0
		filledAt := now
		o.FilledAt = &filledAt
		if err := l.store.Apply(ctx, &database.Mutation{UpdateOrders: []*database.Order{o}}); err != nil {
			return filled, err
		}

		pos, err := l.OpenPosition(ctx, OpenRequest{
			PortfolioID: portfolioID,
			Symbol:      o.Symbol,
			Side:        side,
			Quantity:    o.Quantity,
			Price:       price,
			ProductType: database.ProductStock,
			Leverage:    1,
			StopLoss:    stopLoss,
			TakeProfit:  takeProfit,
		}, now)
		if err != nil {
			// Could not fund the fill after all; reject the order.
			o.Status = database.OrderRejected
			if applyErr := l.store.Apply(ctx, &database.Mutation{UpdateOrders: []*database.Order{o}}); applyErr != nil {
				return filled, applyErr
			}
			continue
		}
		o.PositionID = &pos.ID
		if err := l.store.Apply(ctx, &database.Mutation{UpdateOrders: []*database.Order{o}}); err != nil {
			return filled, err
		}
		filled = append(filled, o)
	}
	return filled, nil
}

func orderTriggered(o *database.Order, price float64) bool {
	buying := o.Side != database.DecisionSell
	switch o.Type {
	case database.OrderLimit:
		limit := deref(o.LimitPrice)
		if buying {
			return price <= limit
		}
		return price >= limit
	case database.OrderStop:
		stop := deref(o.StopPrice)
		if buying {
			return price >= stop
		}
		return price <= stop
	case database.OrderStopLimit:
		stop, limit := deref(o.StopPrice), deref(o.LimitPrice)
		if buying {
			return price >= stop && price <= limit
		}
		return price <= stop && price >= limit
	default:
		return false
	}
}

func protectiveFromPersonality(p *database.Personality, side string, entry float64) (float64, float64) {
	if side == database.SideShort {
		return entry * (1 + p.Risk.StopLossPct), entry * (1 - p.Risk.TakeProfitPct)
	}
	return entry * (1 - p.Risk.StopLossPct), entry * (1 + p.Risk.TakeProfitPct)
}
