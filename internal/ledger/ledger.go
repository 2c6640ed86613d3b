package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paper-trader/internal/database"
)

// Sentinel errors surfaced to the engine. A ledger error never aborts a
// tick; the engine records it on the decision and moves on.
var (
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrUnknownProduct   = errors.New("unknown product type")
	ErrPositionClosed   = errors.New("position already closed")
	ErrInvalidQuantity  = errors.New("invalid quantity")
)

// Store is the persistence surface the ledger needs. Apply must be
// transactional: the whole mutation lands or none of it does.
type Store interface {
	GetPortfolio(ctx context.Context, id uuid.UUID) (*database.Portfolio, error)
	GetPosition(ctx context.Context, id uuid.UUID) (*database.Position, error)
	ListOpenPositions(ctx context.Context, portfolioID uuid.UUID) ([]*database.Position, error)
	ListPendingOrders(ctx context.Context, portfolioID uuid.UUID) ([]*database.Order, error)
	Apply(ctx context.Context, m *database.Mutation) error
}

// Ledger serializes all mutations per portfolio. One instance serves every
// trader; each portfolio gets its own lock.
type Ledger struct {
	store  Store
	locks  sync.Map // uuid.UUID -> *sync.Mutex
	logger zerolog.Logger
}

// New creates a ledger over the given store.
func New(store Store, logger zerolog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger.With().Str("component", "ledger").Logger()}
}

func (l *Ledger) lock(portfolioID uuid.UUID) func() {
	mu, _ := l.locks.LoadOrStore(portfolioID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

// OpenRequest describes a position to be opened. Price is always the
// underlying quote; warrant entry cost is derived from the terms.
type OpenRequest struct {
	PortfolioID uuid.UUID
	Symbol      string
	Side        string
	Quantity    float64
	Price       float64
	ProductType string
	Leverage    float64
	StopLoss    float64 // 0 disables
	TakeProfit  float64 // 0 disables
	Warrant     *WarrantTerms
}

// OpenPosition opens a position, debiting margin and fees atomically.
func (l *Ledger) OpenPosition(ctx context.Context, req OpenRequest, now time.Time) (*database.Position, error) {
	if req.Quantity <= 0 || req.Price <= 0 {
		return nil, ErrInvalidQuantity
	}
	unlock := l.lock(req.PortfolioID)
	defer unlock()

	portfolio, err := l.store.GetPortfolio(ctx, req.PortfolioID)
	if err != nil {
		return nil, err
	}
	broker := Broker(portfolio.BrokerProfile)
	leverage := broker.ClampLeverage(req.ProductType, req.Leverage)

	pos := &database.Position{
		ID:           uuid.New(),
		PortfolioID:  req.PortfolioID,
		Symbol:       req.Symbol,
		ProductType:  req.ProductType,
		Side:         req.Side,
		Quantity:     req.Quantity,
		EntryPrice:   req.Price,
		CurrentPrice: req.Price,
		Leverage:     leverage,
		OpenedAt:     now,
	}
	if req.StopLoss > 0 {
		sl := req.StopLoss
		pos.StopLoss = &sl
	}
	if req.TakeProfit > 0 {
		tp := req.TakeProfit
		pos.TakeProfit = &tp
	}

	var margin, fees float64
	switch req.ProductType {
	case database.ProductStock:
		pos.Leverage = 1
		margin = req.Quantity * req.Price
		fees = broker.TradeFee(req.ProductType, margin)

	case database.ProductCFD:
		notional := req.Quantity * req.Price
		margin = notional / leverage
		fees = broker.TradeFee(req.ProductType, notional)

	case database.ProductKnockout:
		notional := req.Quantity * req.Price
		margin = notional / leverage
		fees = broker.TradeFee(req.ProductType, notional)
		// The barrier sits where the position value reaches zero.
		var ko float64
		if req.Side == database.SideShort {
			ko = req.Price * (1 + 1/leverage)
		} else {
			ko = req.Price * (1 - 1/leverage)
		}
		pos.KnockoutLevel = &ko

	case database.ProductFactor:
		// Factor certificates reset daily. Quantity records the initial
		// investment, EntryPrice the daily reference, MarginUsed the
		// current certificate value.
		margin = req.Quantity
		fees = broker.TradeFee(req.ProductType, margin)

	case database.ProductWarrant:
		if req.Warrant == nil {
			return nil, fmt.Errorf("%w: warrant terms required", ErrUnknownProduct)
		}
		w := req.Warrant
		pos.Strike = &w.Strike
		opt := w.OptionType
		pos.OptionType = &opt
		ratio := w.Ratio
		pos.Ratio = &ratio
		iv := w.ImpliedVol
		pos.ImpliedVol = &iv
		expiry := w.Expiry
		pos.ExpiryDate = &expiry
		pos.Leverage = 1

		unit := warrantPrice(pos, req.Price, now)
		if unit <= 0 {
			return nil, fmt.Errorf("%w: warrant priced at zero", ErrInvalidQuantity)
		}
		margin = req.Quantity * unit
		fees = broker.TradeFee(req.ProductType, margin)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, req.ProductType)
	}

	reserved, err := l.reservedCash(ctx, req.PortfolioID)
	if err != nil {
		return nil, err
	}
	if portfolio.CashBalance-reserved < margin+fees {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f free",
			ErrInsufficientCash, margin+fees, portfolio.CashBalance-reserved)
	}

	pos.MarginUsed = margin
	pos.FeesPaid = fees
	portfolio.CashBalance -= margin + fees
	portfolio.TotalFeesPaid += fees

	m := &database.Mutation{
		Portfolio:       portfolio,
		InsertPositions: []*database.Position{pos},
		Transactions: []*database.Transaction{
			{
				PortfolioID: req.PortfolioID, PositionID: &pos.ID,
				Kind: "open", Amount: -margin,
				Description: fmt.Sprintf("open %s %s %.4f @ %.2f", req.Side, req.Symbol, req.Quantity, req.Price),
				CreatedAt:   now,
			},
			{
				PortfolioID: req.PortfolioID, PositionID: &pos.ID,
				Kind: "fee", Amount: -fees,
				Description: fmt.Sprintf("open fees %s", req.Symbol),
				CreatedAt:   now,
			},
		},
	}
	if err := l.store.Apply(ctx, m); err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("symbol", req.Symbol).Str("side", req.Side).Str("product", req.ProductType).
		Float64("quantity", req.Quantity).Float64("price", req.Price).
		Float64("margin", margin).Float64("fees", fees).
		Msg("position opened")
	return pos, nil
}

// reservedCash sums the cash earmarked by pending orders.
func (l *Ledger) reservedCash(ctx context.Context, portfolioID uuid.UUID) (float64, error) {
	orders, err := l.store.ListPendingOrders(ctx, portfolioID)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, o := range orders {
		sum += o.ReservedCash
	}
	return sum, nil
}

// ClosePosition closes one open position at the given underlying price.
func (l *Ledger) ClosePosition(ctx context.Context, positionID uuid.UUID, price float64, reason string, now time.Time) (*database.Position, error) {
	pos, err := l.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	unlock := l.lock(pos.PortfolioID)
	defer unlock()

	// Reload under the lock; a concurrent mark-to-market may have closed it.
	pos, err = l.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if !pos.IsOpen() {
		return nil, ErrPositionClosed
	}
	portfolio, err := l.store.GetPortfolio(ctx, pos.PortfolioID)
	if err != nil {
		return nil, err
	}

	m := &database.Mutation{Portfolio: portfolio}
	l.closeInto(m, portfolio, pos, price, reason, now)
	if err := l.store.Apply(ctx, m); err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("symbol", pos.Symbol).Str("reason", reason).
		Float64("price", price).Float64("pnl", *pos.RealizedPnl).
		Msg("position closed")
	return pos, nil
}

// closeInto computes the full effect of closing pos at the underlying
// price and appends it to the mutation. Caller holds the portfolio lock.
func (l *Ledger) closeInto(m *database.Mutation, portfolio *database.Portfolio, pos *database.Position, price float64, reason string, now time.Time) {
	broker := Broker(portfolio.BrokerProfile)

	value := settlementValue(pos, price, reason, now)
	fee := broker.TradeFee(pos.ProductType, value)
	if fee > value {
		fee = value // never charge a close into negative cash
	}

	// P&L against the margin still booked on the position. For factor
	// certificates earlier daily resets already realized their share.
	pnlDelta := value - pos.MarginUsed
	totalPnl := pnlDelta
	if pos.ProductType == database.ProductFactor {
		totalPnl = value - pos.Quantity
	}

	portfolio.CashBalance += value - fee
	portfolio.RealizedPnl += pnlDelta
	portfolio.TotalFeesPaid += fee

	pos.CurrentPrice = price
	pos.FeesPaid += fee
	pos.ClosedAt = &now
	pos.CloseReason = &reason
	pos.RealizedPnl = &totalPnl

	m.UpdatePositions = append(m.UpdatePositions, pos)
	m.Transactions = append(m.Transactions,
		&database.Transaction{
			PortfolioID: portfolio.ID, PositionID: &pos.ID,
			Kind: "close", Amount: value,
			Description: fmt.Sprintf("close %s %s (%s) @ %.2f", pos.Side, pos.Symbol, reason, price),
			CreatedAt:   now,
		})
	if fee > 0 {
		m.Transactions = append(m.Transactions,
			&database.Transaction{
				PortfolioID: portfolio.ID, PositionID: &pos.ID,
				Kind: "fee", Amount: -fee,
				Description: fmt.Sprintf("close fees %s", pos.Symbol),
				CreatedAt:   now,
			})
	}
}

// settlementValue returns the cash value of a position at close time.
func settlementValue(pos *database.Position, price float64, reason string, now time.Time) float64 {
	switch pos.ProductType {
	case database.ProductKnockout:
		if reason == database.CloseKnockout {
			return 0 // barrier products expire worthless at the barrier
		}
		return math.Max(0, pos.MarginUsed+leveragedPnl(pos, price))
	case database.ProductWarrant:
		if reason == database.CloseExpiry {
			ratio := deref(pos.Ratio)
			opt := optionCall
			if pos.OptionType != nil {
				opt = *pos.OptionType
			}
			return pos.Quantity * intrinsicValue(opt, deref(pos.Strike), price, ratio)
		}
		return pos.Quantity * warrantPrice(pos, price, now)
	case database.ProductFactor:
		return math.Max(0, pos.MarginUsed*(1+factorReturn(pos, price)))
	case database.ProductCFD:
		return math.Max(0, pos.MarginUsed+leveragedPnl(pos, price))
	default: // stock
		return pos.Quantity * price
	}
}

// leveragedPnl is the signed price P&L of a cfd or knockout position.
func leveragedPnl(pos *database.Position, price float64) float64 {
	diff := price - pos.EntryPrice
	if pos.Side == database.SideShort {
		diff = -diff
	}
	return pos.Quantity * diff
}

// factorReturn is the leveraged return of a factor certificate since its
// last daily reset.
func factorReturn(pos *database.Position, price float64) float64 {
	if pos.EntryPrice <= 0 {
		return 0
	}
	r := price/pos.EntryPrice - 1
	if pos.Side == database.SideShort {
		r = -r
	}
	return pos.Leverage * r
}

// PositionValue returns the current cash value of an open position.
func PositionValue(pos *database.Position, price float64, now time.Time) float64 {
	return settlementValue(pos, price, database.CloseUser, now)
}

// exposure is the market exposure a position contributes to risk limits
// and overnight financing.
func exposure(pos *database.Position) float64 {
	switch pos.ProductType {
	case database.ProductFactor:
		return pos.MarginUsed * pos.Leverage
	case database.ProductWarrant:
		ratio := deref(pos.Ratio)
		if ratio <= 0 {
			ratio = 1
		}
		return pos.Quantity * pos.CurrentPrice / ratio
	default:
		return pos.Quantity * pos.CurrentPrice
	}
}

// Exposure exports the per-position exposure for the risk gate.
func Exposure(pos *database.Position) float64 { return exposure(pos) }
