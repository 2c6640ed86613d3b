package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/database"
)

// memStore is an in-memory Store with the same copy-on-read semantics as
// the database: callers only see state that went through Apply.
type memStore struct {
	portfolio    *database.Portfolio
	positions    map[uuid.UUID]*database.Position
	orders       map[uuid.UUID]*database.Order
	transactions []*database.Transaction

	applyErr error
}

func newMemStore(cash float64) *memStore {
	return &memStore{
		portfolio: &database.Portfolio{
			ID:             uuid.New(),
			TraderID:       uuid.New(),
			BrokerProfile:  "default",
			CashBalance:    cash,
			InitialCapital: cash,
			PeakValue:      cash,
		},
		positions: map[uuid.UUID]*database.Position{},
		orders:    map[uuid.UUID]*database.Order{},
	}
}

func (s *memStore) GetPortfolio(ctx context.Context, id uuid.UUID) (*database.Portfolio, error) {
	p := *s.portfolio
	return &p, nil
}

func (s *memStore) GetPosition(ctx context.Context, id uuid.UUID) (*database.Position, error) {
	pos, ok := s.positions[id]
	if !ok {
		return nil, database.ErrPositionNotFound
	}
	cp := *pos
	return &cp, nil
}

func (s *memStore) ListOpenPositions(ctx context.Context, portfolioID uuid.UUID) ([]*database.Position, error) {
	var out []*database.Position
	for _, pos := range s.positions {
		if pos.IsOpen() {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListPendingOrders(ctx context.Context, portfolioID uuid.UUID) ([]*database.Order, error) {
	var out []*database.Order
	for _, o := range s.orders {
		if o.Status == database.OrderPending {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Apply(ctx context.Context, m *database.Mutation) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	if m.Portfolio != nil {
		cp := *m.Portfolio
		s.portfolio = &cp
	}
	for _, pos := range append(m.InsertPositions, m.UpdatePositions...) {
		cp := *pos
		s.positions[pos.ID] = &cp
	}
	for _, o := range append(m.InsertOrders, m.UpdateOrders...) {
		cp := *o
		s.orders[o.ID] = &cp
	}
	s.transactions = append(s.transactions, m.Transactions...)
	return nil
}

// checkBooks verifies the accounting identity: margin in open positions
// plus cash equals initial capital plus realized P&L minus fees.
func checkBooks(t *testing.T, s *memStore) {
	t.Helper()
	margin := 0.0
	for _, pos := range s.positions {
		if pos.IsOpen() {
			margin += pos.MarginUsed
		}
	}
	p := s.portfolio
	assert.InDelta(t, p.InitialCapital+p.RealizedPnl-p.TotalFeesPaid, margin+p.CashBalance, 1e-6)
}

func testLedger(cash float64) (*Ledger, *memStore) {
	store := newMemStore(cash)
	return New(store, zerolog.Nop()), store
}

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func openStock(t *testing.T, l *Ledger, s *memStore, qty, price, sl, tp float64) *database.Position {
	t.Helper()
	pos, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID,
		Symbol:      "AAPL",
		Side:        database.SideLong,
		Quantity:    qty,
		Price:       price,
		ProductType: database.ProductStock,
		Leverage:    1,
		StopLoss:    sl,
		TakeProfit:  tp,
	}, testNow)
	require.NoError(t, err)
	return pos
}

func TestOpenStock(t *testing.T) {
	l, s := testLedger(100000)

	pos := openStock(t, l, s, 250, 100, 95, 110)

	// Commission 4.95 + 0.1% of 25000, plus 0.05% spread.
	wantFee := 29.95 + 12.50
	assert.Equal(t, 25000.0, pos.MarginUsed)
	assert.InDelta(t, wantFee, pos.FeesPaid, 1e-9)
	assert.InDelta(t, 100000-25000-wantFee, s.portfolio.CashBalance, 1e-9)
	require.NotNil(t, pos.StopLoss)
	assert.Equal(t, 95.0, *pos.StopLoss)

	require.Len(t, s.transactions, 2)
	assert.Equal(t, "open", s.transactions[0].Kind)
	assert.Equal(t, "fee", s.transactions[1].Kind)
	checkBooks(t, s)
}

func TestOpenInsufficientCash(t *testing.T) {
	l, s := testLedger(1000)

	_, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID,
		Symbol:      "AAPL",
		Side:        database.SideLong,
		Quantity:    250,
		Price:       100,
		ProductType: database.ProductStock,
	}, testNow)

	assert.ErrorIs(t, err, ErrInsufficientCash)
	assert.Equal(t, 1000.0, s.portfolio.CashBalance)
	assert.Empty(t, s.positions)
}

func TestOpenValidation(t *testing.T) {
	l, s := testLedger(100000)

	_, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID, Symbol: "AAPL", Quantity: 0, Price: 100,
		ProductType: database.ProductStock,
	}, testNow)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID, Symbol: "AAPL", Quantity: 1, Price: 100,
		ProductType: "turbo",
	}, testNow)
	assert.ErrorIs(t, err, ErrUnknownProduct)
}

func TestCloseStockRealizesPnl(t *testing.T) {
	l, s := testLedger(100000)
	pos := openStock(t, l, s, 250, 100, 0, 0)
	openFees := s.portfolio.TotalFeesPaid

	closed, err := l.ClosePosition(context.Background(), pos.ID, 110, database.CloseUser, testNow)
	require.NoError(t, err)

	require.NotNil(t, closed.RealizedPnl)
	assert.InDelta(t, 2500.0, *closed.RealizedPnl, 1e-9)
	assert.Equal(t, database.CloseUser, *closed.CloseReason)
	assert.InDelta(t, 2500.0, s.portfolio.RealizedPnl, 1e-9)
	assert.Greater(t, s.portfolio.TotalFeesPaid, openFees)
	checkBooks(t, s)
}

func TestClosePositionTwice(t *testing.T) {
	l, s := testLedger(100000)
	pos := openStock(t, l, s, 100, 100, 0, 0)

	_, err := l.ClosePosition(context.Background(), pos.ID, 105, database.CloseUser, testNow)
	require.NoError(t, err)

	_, err = l.ClosePosition(context.Background(), pos.ID, 105, database.CloseUser, testNow)
	assert.ErrorIs(t, err, ErrPositionClosed)
}

func TestApplyFailureLeavesStoreUntouched(t *testing.T) {
	l, s := testLedger(100000)
	s.applyErr = errors.New("connection reset")

	_, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID, Symbol: "AAPL", Side: database.SideLong,
		Quantity: 10, Price: 100, ProductType: database.ProductStock,
	}, testNow)

	assert.Error(t, err)
	assert.Equal(t, 100000.0, s.portfolio.CashBalance)
	assert.Empty(t, s.positions)
}

func TestKnockoutBarrierHit(t *testing.T) {
	l, s := testLedger(100000)

	pos, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID,
		Symbol:      "DAX",
		Side:        database.SideLong,
		Quantity:    100,
		Price:       50,
		ProductType: database.ProductKnockout,
		Leverage:    10,
	}, testNow)
	require.NoError(t, err)
	require.NotNil(t, pos.KnockoutLevel)
	assert.InDelta(t, 45.0, *pos.KnockoutLevel, 1e-9)
	assert.Equal(t, 500.0, pos.MarginUsed)

	cashBefore := s.portfolio.CashBalance
	closed, err := l.MarkToMarket(context.Background(), s.portfolio.ID, map[string]float64{"DAX": 44.80}, testNow)
	require.NoError(t, err)
	require.Len(t, closed, 1)

	got := s.positions[pos.ID]
	assert.Equal(t, database.CloseKnockout, *got.CloseReason)
	// The position expires worthless at the barrier; nothing comes back.
	assert.InDelta(t, -500.0, *got.RealizedPnl, 1e-9)
	assert.InDelta(t, 45.0, got.CurrentPrice, 1e-9)
	assert.Equal(t, cashBefore, s.portfolio.CashBalance)
	checkBooks(t, s)
}

func TestKnockoutSurvivesAboveBarrier(t *testing.T) {
	l, s := testLedger(100000)

	pos, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID, Symbol: "DAX", Side: database.SideLong,
		Quantity: 100, Price: 50, ProductType: database.ProductKnockout, Leverage: 10,
	}, testNow)
	require.NoError(t, err)

	closed, err := l.MarkToMarket(context.Background(), s.portfolio.ID, map[string]float64{"DAX": 48}, testNow)
	require.NoError(t, err)
	assert.Empty(t, closed)
	assert.True(t, s.positions[pos.ID].IsOpen())
	assert.Equal(t, 48.0, s.positions[pos.ID].CurrentPrice)
}

func TestStopLossAndTakeProfitTriggers(t *testing.T) {
	tests := []struct {
		name       string
		quote      float64
		wantClosed bool
		wantReason string
	}{
		{"between levels", 100, false, ""},
		{"at stop", 95, true, database.CloseStopLoss},
		{"below stop", 92, true, database.CloseStopLoss},
		{"at target", 110, true, database.CloseTakeProfit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, s := testLedger(100000)
			pos := openStock(t, l, s, 100, 100, 95, 110)

			closed, err := l.MarkToMarket(context.Background(), s.portfolio.ID, map[string]float64{"AAPL": tt.quote}, testNow)
			require.NoError(t, err)

			if !tt.wantClosed {
				assert.Empty(t, closed)
				return
			}
			require.Len(t, closed, 1)
			assert.Equal(t, tt.wantReason, *s.positions[pos.ID].CloseReason)
			checkBooks(t, s)
		})
	}
}

func TestCFDMarginCall(t *testing.T) {
	l, s := testLedger(100000)

	pos, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID, Symbol: "TSLA", Side: database.SideLong,
		Quantity: 100, Price: 100, ProductType: database.ProductCFD, Leverage: 5,
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, pos.MarginUsed)

	// Loss of 1900 exceeds 90% of the 2000 margin.
	closed, err := l.MarkToMarket(context.Background(), s.portfolio.ID, map[string]float64{"TSLA": 81}, testNow)
	require.NoError(t, err)
	require.Len(t, closed, 1)

	got := s.positions[pos.ID]
	assert.Equal(t, database.CloseMarginCall, *got.CloseReason)
	assert.InDelta(t, -1900.0, *got.RealizedPnl, 1e-9)
	checkBooks(t, s)
}

func TestShortCFDProfitsOnDrop(t *testing.T) {
	l, s := testLedger(100000)

	pos, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID, Symbol: "TSLA", Side: database.SideShort,
		Quantity: 100, Price: 100, ProductType: database.ProductCFD, Leverage: 5,
	}, testNow)
	require.NoError(t, err)

	closed, err := l.ClosePosition(context.Background(), pos.ID, 90, database.CloseUser, testNow)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, *closed.RealizedPnl, 1e-9)
	checkBooks(t, s)
}

func TestWarrantExpiresWorthless(t *testing.T) {
	l, s := testLedger(100000)
	expiry := testNow.Add(30 * 24 * time.Hour)

	pos, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID,
		Symbol:      "SAP",
		Side:        database.SideLong,
		Quantity:    1000,
		Price:       95,
		ProductType: database.ProductWarrant,
		Warrant: &WarrantTerms{
			Strike: 100, OptionType: "call", Ratio: 10, ImpliedVol: 0.3, Expiry: expiry,
		},
	}, testNow)
	require.NoError(t, err)
	// Out of the money, so the entry cost is pure time value.
	assert.Greater(t, pos.MarginUsed, 0.0)

	closed, err := l.SettleExpired(context.Background(), s.portfolio.ID, expiry.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, closed, 1)

	got := s.positions[pos.ID]
	assert.Equal(t, database.CloseExpiry, *got.CloseReason)
	assert.InDelta(t, -pos.MarginUsed, *got.RealizedPnl, 1e-9)
	checkBooks(t, s)
}

func TestWarrantSettlesAtIntrinsic(t *testing.T) {
	l, s := testLedger(100000)
	expiry := testNow.Add(30 * 24 * time.Hour)

	pos, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID,
		Symbol:      "SAP",
		Side:        database.SideLong,
		Quantity:    1000,
		Price:       95,
		ProductType: database.ProductWarrant,
		Warrant: &WarrantTerms{
			Strike: 90, OptionType: "call", Ratio: 10, ImpliedVol: 0.3, Expiry: expiry,
		},
	}, testNow)
	require.NoError(t, err)

	// Underlying ends at 96: intrinsic (96-90)/10 per warrant, time value gone.
	_, err = l.MarkToMarket(context.Background(), s.portfolio.ID, map[string]float64{"SAP": 96}, expiry.Add(-time.Hour))
	require.NoError(t, err)

	closed, err := l.SettleExpired(context.Background(), s.portfolio.ID, expiry.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, closed, 1)

	got := s.positions[pos.ID]
	assert.InDelta(t, 1000*0.6-pos.MarginUsed, *got.RealizedPnl, 1e-9)
	checkBooks(t, s)
}

func TestSettleExpiredIgnoresUndated(t *testing.T) {
	l, s := testLedger(100000)
	openStock(t, l, s, 100, 100, 0, 0)

	closed, err := l.SettleExpired(context.Background(), s.portfolio.ID, testNow)
	require.NoError(t, err)
	assert.Empty(t, closed)
}

func TestOvernightFees(t *testing.T) {
	l, s := testLedger(100000)

	openStock(t, l, s, 100, 100, 0, 0)
	_, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID, Symbol: "TSLA", Side: database.SideLong,
		Quantity: 100, Price: 100, ProductType: database.ProductCFD, Leverage: 5,
	}, testNow)
	require.NoError(t, err)

	total, err := l.ApplyOvernightFees(context.Background(), s.portfolio.ID, testNow.Add(24*time.Hour))
	require.NoError(t, err)

	// Only the CFD is financed: 0.012 bps on 10000 exposure. The stock is
	// fully paid.
	assert.InDelta(t, 1.2, total, 1e-9)
	checkBooks(t, s)
}

func TestFactorDailyReset(t *testing.T) {
	l, s := testLedger(100000)

	pos, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID, Symbol: "LEV5", Side: database.SideLong,
		Quantity: 1000, Price: 100, ProductType: database.ProductFactor, Leverage: 5,
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, pos.MarginUsed)

	// Underlying up 2%, certificate up 10%.
	_, err = l.MarkToMarket(context.Background(), s.portfolio.ID, map[string]float64{"LEV5": 102}, testNow)
	require.NoError(t, err)

	realizedBefore := s.portfolio.RealizedPnl
	_, err = l.ApplyOvernightFees(context.Background(), s.portfolio.ID, testNow.Add(24*time.Hour))
	require.NoError(t, err)

	got := s.positions[pos.ID]
	assert.InDelta(t, 1100.0, got.MarginUsed, 1e-9)
	assert.InDelta(t, 102.0, got.EntryPrice, 1e-9)
	assert.InDelta(t, 100.0, s.portfolio.RealizedPnl-realizedBefore, 1e-9)
	checkBooks(t, s)
}

func TestFactorMarginCallOnLeveragedDrop(t *testing.T) {
	l, s := testLedger(100000)

	pos, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID, Symbol: "LEV10", Side: database.SideLong,
		Quantity: 1000, Price: 100, ProductType: database.ProductFactor, Leverage: 10,
	}, testNow)
	require.NoError(t, err)

	// Underlying down 9.5%: the 10x certificate is past the liquidation level.
	closed, err := l.MarkToMarket(context.Background(), s.portfolio.ID, map[string]float64{"LEV10": 90.5}, testNow)
	require.NoError(t, err)
	require.Len(t, closed, 1)

	got := s.positions[pos.ID]
	assert.Equal(t, database.CloseMarginCall, *got.CloseReason)
	assert.InDelta(t, -950.0, *got.RealizedPnl, 1e-9)
	checkBooks(t, s)
}

func TestPlaceAndCancelOrder(t *testing.T) {
	l, s := testLedger(100000)
	limit := 95.0

	order := &database.Order{
		Symbol: "AAPL", Type: database.OrderLimit, Side: database.DecisionBuy,
		Quantity: 100, LimitPrice: &limit,
	}
	require.NoError(t, l.PlaceOrder(context.Background(), s.portfolio.ID, order, testNow))

	stored := s.orders[order.ID]
	assert.Equal(t, database.OrderPending, stored.Status)
	assert.Greater(t, stored.ReservedCash, 9500.0)

	// Reserved cash blocks a full-balance open.
	_, err := l.OpenPosition(context.Background(), OpenRequest{
		PortfolioID: s.portfolio.ID, Symbol: "MSFT", Side: database.SideLong,
		Quantity: 950, Price: 100, ProductType: database.ProductStock,
	}, testNow)
	assert.ErrorIs(t, err, ErrInsufficientCash)

	require.NoError(t, l.CancelOrder(context.Background(), s.portfolio.ID, order.ID))
	assert.Equal(t, database.OrderCancelled, s.orders[order.ID].Status)
	assert.Zero(t, s.orders[order.ID].ReservedCash)
}

func TestCancelUnknownOrder(t *testing.T) {
	l, s := testLedger(100000)
	err := l.CancelOrder(context.Background(), s.portfolio.ID, uuid.New())
	assert.ErrorIs(t, err, database.ErrOrderNotFound)
}

func TestFillPendingOrders(t *testing.T) {
	l, s := testLedger(100000)
	p := database.DefaultPersonality()
	limit := 95.0

	order := &database.Order{
		Symbol: "AAPL", Type: database.OrderLimit, Side: database.DecisionBuy,
		Quantity: 100, LimitPrice: &limit,
	}
	require.NoError(t, l.PlaceOrder(context.Background(), s.portfolio.ID, order, testNow))

	// Quote above the limit leaves the order pending.
	filled, err := l.FillPendingOrders(context.Background(), s.portfolio.ID, map[string]float64{"AAPL": 97}, &p, testNow)
	require.NoError(t, err)
	assert.Empty(t, filled)

	filled, err = l.FillPendingOrders(context.Background(), s.portfolio.ID, map[string]float64{"AAPL": 94}, &p, testNow)
	require.NoError(t, err)
	require.Len(t, filled, 1)

	stored := s.orders[order.ID]
	assert.Equal(t, database.OrderFilled, stored.Status)
	require.NotNil(t, stored.PositionID)
	pos := s.positions[*stored.PositionID]
	assert.Equal(t, 94.0, pos.EntryPrice)
	require.NotNil(t, pos.StopLoss)
	assert.InDelta(t, 94*0.95, *pos.StopLoss, 1e-9)
	checkBooks(t, s)
}

func TestFillRejectsUnderfundedOrder(t *testing.T) {
	l, s := testLedger(10000)
	limit := 95.0

	order := &database.Order{
		Symbol: "AAPL", Type: database.OrderLimit, Side: database.DecisionBuy,
		Quantity: 100, LimitPrice: &limit,
	}
	require.NoError(t, l.PlaceOrder(context.Background(), s.portfolio.ID, order, testNow))

	// Cash disappears before the fill.
	s.portfolio.CashBalance = 100

	filled, err := l.FillPendingOrders(context.Background(), s.portfolio.ID, map[string]float64{"AAPL": 94}, nil, testNow)
	require.NoError(t, err)
	assert.Empty(t, filled)
	assert.Equal(t, database.OrderRejected, s.orders[order.ID].Status)
}

func TestOrderTriggered(t *testing.T) {
	limit, stop := 95.0, 105.0
	tests := []struct {
		name  string
		order *database.Order
		price float64
		want  bool
	}{
		{"buy limit below", &database.Order{Type: database.OrderLimit, Side: database.DecisionBuy, LimitPrice: &limit}, 94, true},
		{"buy limit above", &database.Order{Type: database.OrderLimit, Side: database.DecisionBuy, LimitPrice: &limit}, 96, false},
		{"sell limit above", &database.Order{Type: database.OrderLimit, Side: database.DecisionSell, LimitPrice: &limit}, 96, true},
		{"buy stop reached", &database.Order{Type: database.OrderStop, Side: database.DecisionBuy, StopPrice: &stop}, 106, true},
		{"buy stop not reached", &database.Order{Type: database.OrderStop, Side: database.DecisionBuy, StopPrice: &stop}, 104, false},
		{"sell stop reached", &database.Order{Type: database.OrderStop, Side: database.DecisionSell, StopPrice: &limit}, 94, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, orderTriggered(tt.order, tt.price))
		})
	}
}

func TestBrokerFees(t *testing.T) {
	b := Broker("default")

	// Commission clamps at the max; spread always applies.
	assert.InDelta(t, 59.90+50, b.TradeFee(database.ProductStock, 100000), 1e-9)
	// Flat 4.95 plus 0.1% of 1000, plus the 0.05% spread.
	assert.InDelta(t, 5.95+0.5, b.TradeFee(database.ProductStock, 1000), 1e-9)
	// Knockouts trade commission-free on a wider spread.
	assert.InDelta(t, 35.0, b.TradeFee(database.ProductKnockout, 10000), 1e-9)

	assert.Equal(t, Broker("default"), Broker("no-such-broker"))
	assert.Equal(t, 5.0, b.ClampLeverage(database.ProductCFD, 50))
	assert.Equal(t, 1.0, b.ClampLeverage(database.ProductStock, 0))
}

func TestWarrantPricing(t *testing.T) {
	assert.Equal(t, 0.0, intrinsicValue("call", 100, 95, 10))
	assert.InDelta(t, 0.5, intrinsicValue("call", 100, 105, 10), 1e-9)
	assert.InDelta(t, 0.5, intrinsicValue("put", 100, 95, 10), 1e-9)

	expiry := testNow.Add(180 * 24 * time.Hour)
	atTheMoney := timeValue("call", 100, 100, 10, 0.3, testNow, expiry)
	outOfMoney := timeValue("call", 100, 80, 10, 0.3, testNow, expiry)
	assert.Greater(t, atTheMoney, outOfMoney)
	assert.Zero(t, timeValue("call", 100, 100, 10, 0.3, expiry, expiry))
}
