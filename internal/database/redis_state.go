package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LiveState mirrors the volatile per-trader status into Redis so dashboards
// can poll it without touching Postgres. Entries expire on their own if the
// engine stops refreshing them.
type LiveState struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLiveState wraps a Redis client. A nil client disables the mirror; all
// methods become no-ops.
func NewLiveState(client *redis.Client) *LiveState {
	return &LiveState{client: client, ttl: 2 * time.Minute}
}

// TraderStatus is the volatile snapshot published per trader.
type TraderStatus struct {
	TraderID      uuid.UUID `json:"trader_id"`
	State         string    `json:"state"`
	StatusMessage string    `json:"status_message,omitempty"`
	CurrentSymbol string    `json:"current_symbol,omitempty"`
	LastTickAt    time.Time `json:"last_tick_at"`
	NextTickAt    time.Time `json:"next_tick_at"`
	PortfolioVal  float64   `json:"portfolio_value"`
	OpenPositions int       `json:"open_positions"`
}

func traderStatusKey(id uuid.UUID) string {
	return fmt.Sprintf("papertrader:status:%s", id)
}

// Publish writes the status snapshot with a TTL.
func (ls *LiveState) Publish(ctx context.Context, status *TraderStatus) error {
	if ls == nil || ls.client == nil {
		return nil
	}
	doc, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal trader status: %w", err)
	}
	return ls.client.Set(ctx, traderStatusKey(status.TraderID), doc, ls.ttl).Err()
}

// Get reads the status snapshot; returns nil when absent or expired.
func (ls *LiveState) Get(ctx context.Context, traderID uuid.UUID) (*TraderStatus, error) {
	if ls == nil || ls.client == nil {
		return nil, nil
	}
	doc, err := ls.client.Get(ctx, traderStatusKey(traderID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trader status: %w", err)
	}
	var status TraderStatus
	if err := json.Unmarshal(doc, &status); err != nil {
		return nil, fmt.Errorf("unmarshal trader status: %w", err)
	}
	return &status, nil
}

// Clear removes the snapshot, used when a trader stops.
func (ls *LiveState) Clear(ctx context.Context, traderID uuid.UUID) error {
	if ls == nil || ls.client == nil {
		return nil
	}
	return ls.client.Del(ctx, traderStatusKey(traderID)).Err()
}
