package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB opens a connection pool and verifies connectivity.
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the schema if it does not exist yet.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS traders (
			id UUID PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			personality JSONB NOT NULL,
			state VARCHAR(20) NOT NULL DEFAULT 'stopped',
			status_message TEXT,
			total_decisions INTEGER NOT NULL DEFAULT 0,
			total_trades INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			total_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			best_trade DOUBLE PRECISION NOT NULL DEFAULT 0,
			worst_trade DOUBLE PRECISION NOT NULL DEFAULT 0,
			current_streak INTEGER NOT NULL DEFAULT 0,
			max_drawdown DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_traders_state ON traders(state)`,

		`CREATE TABLE IF NOT EXISTS portfolios (
			id UUID PRIMARY KEY,
			trader_id UUID NOT NULL REFERENCES traders(id) ON DELETE CASCADE,
			broker_profile VARCHAR(50) NOT NULL DEFAULT 'default',
			cash_balance DOUBLE PRECISION NOT NULL,
			initial_capital DOUBLE PRECISION NOT NULL,
			realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_fees_paid DOUBLE PRECISION NOT NULL DEFAULT 0,
			peak_value DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (trader_id)
		)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			portfolio_id UUID NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
			symbol VARCHAR(20) NOT NULL,
			product_type VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			current_price DOUBLE PRECISION NOT NULL,
			leverage DOUBLE PRECISION NOT NULL DEFAULT 1,
			margin_used DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION,
			take_profit DOUBLE PRECISION,
			knockout_level DOUBLE PRECISION,
			expiry_date TIMESTAMPTZ,
			strike DOUBLE PRECISION,
			option_type VARCHAR(4),
			ratio DOUBLE PRECISION,
			implied_vol DOUBLE PRECISION,
			fees_paid DOUBLE PRECISION NOT NULL DEFAULT 0,
			opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			closed_at TIMESTAMPTZ,
			close_reason VARCHAR(20),
			realized_pnl DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_portfolio ON positions(portfolio_id)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_open ON positions(portfolio_id) WHERE closed_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			portfolio_id UUID NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
			symbol VARCHAR(20) NOT NULL,
			order_type VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			limit_price DOUBLE PRECISION,
			stop_price DOUBLE PRECISION,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			reserved_cash DOUBLE PRECISION NOT NULL DEFAULT 0,
			position_id UUID REFERENCES positions(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			filled_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_portfolio ON orders(portfolio_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_pending ON orders(portfolio_id) WHERE status = 'pending'`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			portfolio_id UUID NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
			position_id UUID REFERENCES positions(id) ON DELETE SET NULL,
			kind VARCHAR(20) NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_portfolio ON transactions(portfolio_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS decisions (
			id UUID PRIMARY KEY,
			trader_id UUID NOT NULL REFERENCES traders(id) ON DELETE CASCADE,
			symbol VARCHAR(20) NOT NULL,
			symbols_analyzed JSONB NOT NULL DEFAULT '[]',
			decision_type VARCHAR(10) NOT NULL,
			executed BOOLEAN NOT NULL DEFAULT FALSE,
			rejected_by VARCHAR(30),
			execution_error TEXT,
			position_id UUID REFERENCES positions(id) ON DELETE SET NULL,
			order_id UUID REFERENCES orders(id) ON DELETE SET NULL,
			source_scores JSONB NOT NULL DEFAULT '{}',
			weighted_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			agreement VARCHAR(10) NOT NULL DEFAULT 'none',
			summary TEXT,
			market_context JSONB NOT NULL DEFAULT '{}',
			portfolio_snapshot JSONB NOT NULL DEFAULT '{}',
			outcome JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_trader ON decisions(trader_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_unresolved ON decisions(trader_id) WHERE executed AND outcome IS NULL`,

		`CREATE TABLE IF NOT EXISTS weight_history (
			id UUID PRIMARY KEY,
			trader_id UUID NOT NULL REFERENCES traders(id) ON DELETE CASCADE,
			old_weights JSONB NOT NULL,
			new_weights JSONB NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			accuracy JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_weight_history_trader ON weight_history(trader_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS daily_reports (
			id UUID PRIMARY KEY,
			trader_id UUID NOT NULL REFERENCES traders(id) ON DELETE CASCADE,
			report_date DATE NOT NULL,
			start_value DOUBLE PRECISION NOT NULL,
			end_value DOUBLE PRECISION NOT NULL,
			pnl DOUBLE PRECISION NOT NULL,
			fees_paid DOUBLE PRECISION NOT NULL DEFAULT 0,
			trades_opened INTEGER NOT NULL DEFAULT 0,
			trades_closed INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			best_trade DOUBLE PRECISION NOT NULL DEFAULT 0,
			worst_trade DOUBLE PRECISION NOT NULL DEFAULT 0,
			source_accuracy JSONB NOT NULL DEFAULT '{}',
			insights JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (trader_id, report_date)
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("statements", len(migrations)).Msg("database migrations complete")
	return nil
}
