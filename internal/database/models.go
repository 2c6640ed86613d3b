package database

import (
	"time"

	"github.com/google/uuid"
)

// Trader lifecycle states.
const (
	TraderStopped = "stopped"
	TraderRunning = "running"
	TraderPaused  = "paused"
)

// Product types supported by the simulated broker.
const (
	ProductStock    = "stock"
	ProductCFD      = "cfd"
	ProductKnockout = "knockout"
	ProductFactor   = "factor"
	ProductWarrant  = "warrant"
)

// Position sides.
const (
	SideLong  = "long"
	SideShort = "short"
)

// Decision types.
const (
	DecisionBuy   = "buy"
	DecisionSell  = "sell"
	DecisionShort = "short"
	DecisionClose = "close"
	DecisionHold  = "hold"
	DecisionSkip  = "skip"
)

// Close reasons. A position is closed exactly once with exactly one reason.
const (
	CloseUser       = "user"
	CloseStopLoss   = "stop_loss"
	CloseTakeProfit = "take_profit"
	CloseKnockout   = "knockout"
	CloseMarginCall = "margin_call"
	CloseExpiry     = "expiry"
	CloseReset      = "reset"
)

// Order types and states.
const (
	OrderMarket    = "market"
	OrderLimit     = "limit"
	OrderStop      = "stop"
	OrderStopLimit = "stop_limit"

	OrderPending   = "pending"
	OrderFilled    = "filled"
	OrderCancelled = "cancelled"
	OrderRejected  = "rejected"
)

// Signal agreement levels.
const (
	AgreementFull     = "full"
	AgreementMajority = "majority"
	AgreementMixed    = "mixed"
	AgreementNone     = "none"
)

// Trader is an autonomous paper-trading agent with its own personality,
// portfolio and decision history. Counters are derived from decisions and
// closed positions and recomputed after every trade.
type Trader struct {
	ID            uuid.UUID   `json:"id"`
	Name          string      `json:"name"`
	Personality   Personality `json:"personality"`
	State         string      `json:"state"`
	StatusMessage string      `json:"status_message,omitempty"`

	TotalDecisions int     `json:"total_decisions"`
	TotalTrades    int     `json:"total_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	TotalPnl       float64 `json:"total_pnl"`
	BestTrade      float64 `json:"best_trade"`
	WorstTrade     float64 `json:"worst_trade"`
	CurrentStreak  int     `json:"current_streak"` // positive = wins, negative = losses
	MaxDrawdown    float64 `json:"max_drawdown"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Portfolio holds the cash and open positions of exactly one trader.
type Portfolio struct {
	ID             uuid.UUID `json:"id"`
	TraderID       uuid.UUID `json:"trader_id"`
	BrokerProfile  string    `json:"broker_profile"`
	CashBalance    float64   `json:"cash_balance"`
	InitialCapital float64   `json:"initial_capital"`
	RealizedPnl    float64   `json:"realized_pnl"`
	TotalFeesPaid  float64   `json:"total_fees_paid"`
	PeakValue      float64   `json:"peak_value"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Position is an open or closed holding of a single product.
type Position struct {
	ID           uuid.UUID `json:"id"`
	PortfolioID  uuid.UUID `json:"portfolio_id"`
	Symbol       string    `json:"symbol"`
	ProductType  string    `json:"product_type"`
	Side         string    `json:"side"`
	Quantity     float64   `json:"quantity"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	Leverage     float64   `json:"leverage"`
	MarginUsed   float64   `json:"margin_used"`
	StopLoss     *float64  `json:"stop_loss,omitempty"`
	TakeProfit   *float64  `json:"take_profit,omitempty"`

	// Knockout products.
	KnockoutLevel *float64 `json:"knockout_level,omitempty"`

	// Warrant products.
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	Strike     *float64   `json:"strike,omitempty"`
	OptionType *string    `json:"option_type,omitempty"` // "call" or "put"
	Ratio      *float64   `json:"ratio,omitempty"`
	ImpliedVol *float64   `json:"implied_vol,omitempty"`

	FeesPaid    float64    `json:"fees_paid"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason *string    `json:"close_reason,omitempty"`
	RealizedPnl *float64   `json:"realized_pnl,omitempty"`
}

// IsOpen reports whether the position is still open.
func (p *Position) IsOpen() bool { return p.ClosedAt == nil }

// Notional returns the current market value of the position.
func (p *Position) Notional() float64 { return p.Quantity * p.CurrentPrice }

// Order is a pending or settled order. Pending orders reserve cash.
type Order struct {
	ID           uuid.UUID  `json:"id"`
	PortfolioID  uuid.UUID  `json:"portfolio_id"`
	Symbol       string     `json:"symbol"`
	Type         string     `json:"type"`
	Side         string     `json:"side"` // buy, sell, short
	Quantity     float64    `json:"quantity"`
	LimitPrice   *float64   `json:"limit_price,omitempty"`
	StopPrice    *float64   `json:"stop_price,omitempty"`
	Status       string     `json:"status"`
	ReservedCash float64    `json:"reserved_cash"`
	PositionID   *uuid.UUID `json:"position_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FilledAt     *time.Time `json:"filled_at,omitempty"`
}

// Transaction records a single cash movement on a portfolio.
type Transaction struct {
	ID          uuid.UUID  `json:"id"`
	PortfolioID uuid.UUID  `json:"portfolio_id"`
	PositionID  *uuid.UUID `json:"position_id,omitempty"`
	Kind        string     `json:"kind"` // open, close, fee, overnight, settlement, reservation
	Amount      float64    `json:"amount"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SourceScore is the contribution of a single signal source to a decision.
type SourceScore struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Direction  string  `json:"direction"`
	Rationale  string  `json:"rationale,omitempty"`
}

// MarketContext is the market snapshot attached to a decision.
type MarketContext struct {
	Price       float64   `json:"price"`
	QuoteTime   time.Time `json:"quote_time"`
	DayChange   float64   `json:"day_change_pct"`
	RealizedVol float64   `json:"realized_vol"`
}

// PortfolioSnapshot is the portfolio state attached to a decision.
type PortfolioSnapshot struct {
	Cash          float64 `json:"cash"`
	Value         float64 `json:"value"`
	OpenPositions int     `json:"open_positions"`
	DayPnl        float64 `json:"day_pnl"`
}

// DecisionOutcome is filled in once the linked position closes.
type DecisionOutcome struct {
	Pnl         float64   `json:"pnl"`
	PnlPct      float64   `json:"pnl_pct"`
	HoldingDays int       `json:"holding_days"`
	WasCorrect  bool      `json:"was_correct"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// Decision records one evaluation of one symbol by one trader, whether or
// not it executed. Outcome learning depends on hold/skip decisions being
// recorded too.
type Decision struct {
	ID              uuid.UUID  `json:"id"`
	TraderID        uuid.UUID  `json:"trader_id"`
	Symbol          string     `json:"symbol"`
	SymbolsAnalyzed []string   `json:"symbols_analyzed"`
	DecisionType    string     `json:"decision_type"`
	Executed        bool       `json:"executed"`
	RejectedBy      string     `json:"rejected_by,omitempty"`
	ExecutionError  string     `json:"execution_error,omitempty"`
	PositionID      *uuid.UUID `json:"position_id,omitempty"`
	OrderID         *uuid.UUID `json:"order_id,omitempty"`

	SourceScores  map[string]SourceScore `json:"source_scores"`
	WeightedScore float64                `json:"weighted_score"`
	Confidence    float64                `json:"confidence"`
	Agreement     string                 `json:"agreement"`
	Summary       string                 `json:"summary"`

	MarketContext     MarketContext     `json:"market_context"`
	PortfolioSnapshot PortfolioSnapshot `json:"portfolio_snapshot"`

	Outcome *DecisionOutcome `json:"outcome,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// WeightHistory records one adaptive weight adjustment.
type WeightHistory struct {
	ID         uuid.UUID          `json:"id"`
	TraderID   uuid.UUID          `json:"trader_id"`
	OldWeights map[string]float64 `json:"old_weights"`
	NewWeights map[string]float64 `json:"new_weights"`
	Reason     string             `json:"reason"`
	Accuracy   map[string]float64 `json:"accuracy"`
	CreatedAt  time.Time          `json:"created_at"`
}

// DailyReport summarizes one trading day for one trader.
type DailyReport struct {
	ID             uuid.UUID          `json:"id"`
	TraderID       uuid.UUID          `json:"trader_id"`
	Date           time.Time          `json:"date"`
	StartValue     float64            `json:"start_value"`
	EndValue       float64            `json:"end_value"`
	Pnl            float64            `json:"pnl"`
	FeesPaid       float64            `json:"fees_paid"`
	TradesOpened   int                `json:"trades_opened"`
	TradesClosed   int                `json:"trades_closed"`
	Wins           int                `json:"wins"`
	Losses         int                `json:"losses"`
	WinRate        float64            `json:"win_rate"`
	BestTrade      float64            `json:"best_trade"`
	WorstTrade     float64            `json:"worst_trade"`
	SourceAccuracy map[string]float64 `json:"source_accuracy"`
	Insights       []string           `json:"insights"`
	CreatedAt      time.Time          `json:"created_at"`
}
