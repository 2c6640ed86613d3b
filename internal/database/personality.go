package database

import (
	"fmt"
	"math"
	"time"
)

// Known signal source names. Personality weights must cover exactly this set.
const (
	SourceML        = "ml"
	SourceRL        = "rl"
	SourceSentiment = "sentiment"
	SourceTechnical = "technical"
)

// KnownSources lists the signal sources in a stable order.
var KnownSources = []string{SourceML, SourceRL, SourceSentiment, SourceTechnical}

// Sizing methods.
const (
	SizingFixed      = "fixed"
	SizingKelly      = "kelly"
	SizingVolatility = "volatility"
)

// Personality is the full per-trader configuration. It is a value embedded
// in the Trader and validated once when the trader is loaded or started.
type Personality struct {
	Capital   CapitalPersonality   `json:"capital"`
	Risk      RiskPersonality      `json:"risk"`
	Signals   SignalsPersonality   `json:"signals"`
	Trading   TradingPersonality   `json:"trading"`
	Schedule  SchedulePersonality  `json:"schedule"`
	Watchlist WatchlistPersonality `json:"watchlist"`
	Sentiment SentimentPersonality `json:"sentiment"`
	Learning  LearningPersonality  `json:"learning"`
}

type CapitalPersonality struct {
	InitialBudget      float64 `json:"initial_budget"`
	MaxPositionPercent float64 `json:"max_position_percent"`
	ReserveCashPercent float64 `json:"reserve_cash_percent"`
}

type RiskPersonality struct {
	Tolerance          string  `json:"tolerance"` // conservative, moderate, aggressive
	MaxDrawdownPct     float64 `json:"max_drawdown_pct"`
	StopLossPct        float64 `json:"stop_loss_pct"`
	TakeProfitPct      float64 `json:"take_profit_pct"`
	DailyLossPct       float64 `json:"daily_loss_pct"`
	TotalExposurePct   float64 `json:"total_exposure_pct"`
	CooldownLosses     int     `json:"cooldown_losses"`
	CooldownMinutes    int     `json:"cooldown_minutes"`
	SmallLossThreshold float64 `json:"small_loss_threshold"`
}

type SignalsPersonality struct {
	Weights      map[string]float64 `json:"weights"`
	MinAgreement float64            `json:"min_agreement"` // full=1.0 majority=0.66 mixed=0.33 none=0
}

type TradingPersonality struct {
	MinConfidence    float64 `json:"min_confidence"`
	MaxOpenPositions int     `json:"max_open_positions"`
	Diversification  bool    `json:"diversification"`
	SizingMethod     string  `json:"sizing_method"`
	KellyFraction    float64 `json:"kelly_fraction"`
	TargetVolatility float64 `json:"target_volatility"`
	ProductType      string  `json:"product_type"`
	Leverage         float64 `json:"leverage"`
}

type SchedulePersonality struct {
	Enabled              bool     `json:"enabled"`
	CheckIntervalMinutes int      `json:"check_interval_minutes"`
	TradingHoursOnly     bool     `json:"trading_hours_only"`
	Timezone             string   `json:"timezone"`
	TradingDays          []string `json:"trading_days"` // "Mon".."Sun"
	TradingStart         string   `json:"trading_start"`
	TradingEnd           string   `json:"trading_end"`
	AvoidOpenMin         int      `json:"avoid_open_min"`
	AvoidCloseMin        int      `json:"avoid_close_min"`
}

type WatchlistPersonality struct {
	Symbols          []string `json:"symbols"`
	UseFullWatchlist bool     `json:"use_full_watchlist"`
}

type SentimentPersonality struct {
	Enabled  bool    `json:"enabled"`
	MinScore float64 `json:"min_score"`
}

type LearningPersonality struct {
	Enabled               bool    `json:"enabled"`
	UpdateWeights         bool    `json:"update_weights"`
	MinTradesBeforeAdjust int     `json:"min_trades_before_adjust"`
	AccuracyWindowDays    int     `json:"accuracy_window_days"`
	MaxWeightChange       float64 `json:"max_weight_change"`
}

// DefaultPersonality returns a balanced moderate personality.
func DefaultPersonality() Personality {
	return Personality{
		Capital: CapitalPersonality{
			InitialBudget:      100000,
			MaxPositionPercent: 0.25,
			ReserveCashPercent: 0.10,
		},
		Risk: RiskPersonality{
			Tolerance:          "moderate",
			MaxDrawdownPct:     0.20,
			StopLossPct:        0.05,
			TakeProfitPct:      0.10,
			DailyLossPct:       0.05,
			TotalExposurePct:   0.80,
			CooldownLosses:     3,
			CooldownMinutes:    30,
			SmallLossThreshold: 100,
		},
		Signals: SignalsPersonality{
			Weights: map[string]float64{
				SourceML:        0.25,
				SourceRL:        0.25,
				SourceSentiment: 0.25,
				SourceTechnical: 0.25,
			},
			MinAgreement: 0.66,
		},
		Trading: TradingPersonality{
			MinConfidence:    0.60,
			MaxOpenPositions: 5,
			Diversification:  true,
			SizingMethod:     SizingFixed,
			KellyFraction:    0.5,
			TargetVolatility: 0.02,
			ProductType:      ProductStock,
			Leverage:         1,
		},
		Schedule: SchedulePersonality{
			Enabled:              true,
			CheckIntervalMinutes: 15,
			TradingHoursOnly:     true,
			Timezone:             "Europe/Berlin",
			TradingDays:          []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
			TradingStart:         "09:00",
			TradingEnd:           "17:30",
			AvoidOpenMin:         15,
			AvoidCloseMin:        15,
		},
		Watchlist: WatchlistPersonality{
			Symbols: []string{},
		},
		Sentiment: SentimentPersonality{
			Enabled:  true,
			MinScore: 0.0,
		},
		Learning: LearningPersonality{
			Enabled:               true,
			UpdateWeights:         true,
			MinTradesBeforeAdjust: 20,
			AccuracyWindowDays:    30,
			MaxWeightChange:       0.05,
		},
	}
}

var validProducts = map[string]bool{
	ProductStock:    true,
	ProductCFD:      true,
	ProductKnockout: true,
	ProductFactor:   true,
	ProductWarrant:  true,
}

var validDays = map[string]bool{
	"Mon": true, "Tue": true, "Wed": true, "Thu": true,
	"Fri": true, "Sat": true, "Sun": true,
}

// Validate checks the personality for internal consistency. A trader with
// an invalid personality must not be started.
func (p *Personality) Validate() error {
	if p.Capital.InitialBudget <= 0 {
		return fmt.Errorf("capital: initial budget must be positive")
	}
	if p.Capital.MaxPositionPercent <= 0 || p.Capital.MaxPositionPercent > 1 {
		return fmt.Errorf("capital: max position percent must be in (0,1]")
	}
	if p.Capital.ReserveCashPercent < 0 || p.Capital.ReserveCashPercent >= 1 {
		return fmt.Errorf("capital: reserve cash percent must be in [0,1)")
	}
	if p.Risk.StopLossPct <= 0 || p.Risk.TakeProfitPct <= 0 {
		return fmt.Errorf("risk: stop loss and take profit percentages must be positive")
	}
	if p.Trading.MinConfidence < 0.5 || p.Trading.MinConfidence > 1 {
		return fmt.Errorf("trading: min confidence must be in [0.5,1]")
	}
	if p.Trading.MaxOpenPositions < 1 {
		return fmt.Errorf("trading: max open positions must be at least 1")
	}
	if !validProducts[p.Trading.ProductType] {
		return fmt.Errorf("trading: unknown product type %q", p.Trading.ProductType)
	}
	switch p.Trading.SizingMethod {
	case SizingFixed, SizingKelly, SizingVolatility:
	default:
		return fmt.Errorf("trading: unknown sizing method %q", p.Trading.SizingMethod)
	}

	sum := 0.0
	for src, w := range p.Signals.Weights {
		known := false
		for _, k := range KnownSources {
			if src == k {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("signals: unknown source %q in weights", src)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("signals: weight for %q out of [0,1]", src)
		}
		sum += w
	}
	if len(p.Signals.Weights) != len(KnownSources) {
		return fmt.Errorf("signals: weights must cover all %d sources", len(KnownSources))
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("signals: weights sum to %.6f, want 1", sum)
	}
	if p.Signals.MinAgreement < 0 || p.Signals.MinAgreement > 1 {
		return fmt.Errorf("signals: min agreement out of [0,1]")
	}

	if p.Schedule.CheckIntervalMinutes < 1 {
		return fmt.Errorf("schedule: check interval must be at least 1 minute")
	}
	if _, err := time.LoadLocation(p.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule: invalid timezone %q: %w", p.Schedule.Timezone, err)
	}
	for _, hhmm := range []string{p.Schedule.TradingStart, p.Schedule.TradingEnd} {
		if _, err := time.Parse("15:04", hhmm); err != nil {
			return fmt.Errorf("schedule: invalid time %q: %w", hhmm, err)
		}
	}
	for _, d := range p.Schedule.TradingDays {
		if !validDays[d] {
			return fmt.Errorf("schedule: invalid trading day %q", d)
		}
	}
	if p.Schedule.AvoidOpenMin < 0 || p.Schedule.AvoidCloseMin < 0 {
		return fmt.Errorf("schedule: avoid-open and avoid-close minutes must not be negative")
	}

	if p.Learning.MaxWeightChange <= 0 || p.Learning.MaxWeightChange > 0.5 {
		return fmt.Errorf("learning: max weight change must be in (0,0.5]")
	}
	if p.Learning.MinTradesBeforeAdjust < 1 {
		return fmt.Errorf("learning: min trades before adjust must be at least 1")
	}
	return nil
}

// SupportsShort reports whether the personality's product type allows
// opening short positions. Stocks and warrants are long-only here.
func (p *Personality) SupportsShort() bool {
	switch p.Trading.ProductType {
	case ProductCFD, ProductKnockout, ProductFactor:
		return true
	default:
		return false
	}
}
