package database

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"arbreferee/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by the read-back queries for unknown ids.
var ErrNotFound = errors.New("database: record not found")

// PostgresRepository implements Repository on a pgx connection pool. NUMERIC
// columns are unconstrained so decimals round-trip exactly.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository connects to dsn and verifies the connection.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.Pool.Close()
}

// Migrate applies the embedded migrations in name order, skipping those
// already recorded in schema_migrations.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	if _, err := r.Pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var applied bool
		err := r.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)", name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, r.Pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name)
			return err
		})
		if err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", name, err)
		}
	}
	return nil
}

func (r *PostgresRepository) LogOpportunity(ctx context.Context, opp model.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, type, status, buy_exchange, sell_exchange, symbol,
			buy_price, sell_price, max_volume, recommended_volume,
			gross_profit_percent, net_profit_percent, estimated_profit_usd,
			buy_fee_percent, sell_fee_percent, transfer_fee, estimated_slippage_percent,
			detected_at, expires_at, window_ms,
			orderbook_depth_ok, liquidity_ok, would_have_executed, risk_score
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20,
			$21, $22, $23, $24
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			would_have_executed = EXCLUDED.would_have_executed`

	_, err := r.Pool.Exec(ctx, query,
		opp.ID, opp.Type, opp.Status, opp.BuyExchange, opp.SellExchange, opp.Symbol,
		opp.BuyPrice, opp.SellPrice, opp.MaxVolume, opp.RecommendedVolume,
		opp.GrossProfitPercent, opp.NetProfitPercent, opp.EstimatedProfitUSD,
		opp.BuyFeePercent, opp.SellFeePercent, opp.TransferFee, opp.EstimatedSlippagePercent,
		opp.DetectedAt, opp.ExpiresAt, opp.WindowMS,
		opp.OrderbookDepthOK, opp.LiquidityOK, opp.WouldHaveExecuted, opp.RiskScore,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// LogTrade stores the trade and both of its orders in one transaction.
func (r *PostgresRepository) LogTrade(ctx context.Context, trade model.Trade) error {
	const tradeQuery = `
		INSERT INTO trades (
			id, opportunity_id, type, mode,
			gross_profit, total_fees, net_profit, net_profit_percent,
			status, error_message, started_at, completed_at,
			total_execution_ms, both_orders_would_have_executed
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14
		)`

	err := pgx.BeginFunc(ctx, r.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, tradeQuery,
			trade.ID, trade.OpportunityID, trade.Type, trade.Mode,
			trade.GrossProfit, trade.TotalFees, trade.NetProfit, trade.NetProfitPercent,
			trade.Status, trade.ErrorMessage, trade.StartedAt, trade.CompletedAt,
			trade.TotalExecutionMS, trade.BothOrdersWouldHaveExecuted,
		)
		if err != nil {
			return err
		}
		for _, o := range []model.Order{trade.BuyOrder, trade.SellOrder} {
			if err := insertOrder(ctx, tx, trade.ID, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", trade.ID, err)
	}
	return nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, tradeID string, o model.Order) error {
	const query = `
		INSERT INTO orders (
			id, trade_id, opportunity_id, exchange, symbol, side, type,
			requested_volume, filled_volume, requested_price, average_fill_price,
			status, mode, fee_paid, fee_currency,
			created_at, updated_at, filled_at,
			would_have_executed, simulated_slippage, execution_latency_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18,
			$19, $20, $21
		)`
	_, err := tx.Exec(ctx, query,
		o.ID, tradeID, o.OpportunityID, o.Exchange, o.Symbol, o.Side, o.Type,
		o.RequestedVolume, o.FilledVolume, o.RequestedPrice, o.AverageFillPrice,
		o.Status, o.Mode, o.FeePaid, o.FeeCurrency,
		o.CreatedAt, o.UpdatedAt, o.FilledAt,
		o.WouldHaveExecuted, o.SimulatedSlippage, o.ExecutionLatencyMS,
	)
	if err != nil {
		return fmt.Errorf("order %s: %w", o.ID, err)
	}
	return nil
}

func (r *PostgresRepository) LogPortfolioSnapshot(ctx context.Context, p model.Portfolio) error {
	const query = `
		INSERT INTO portfolio_snapshots (
			taken_at, total_value_usd, initial_value_usd,
			total_pnl_usd, total_pnl_percent, realized_pnl,
			total_trades, winning_trades, losing_trades,
			max_drawdown_usd, max_drawdown_percent, balances
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	balances, err := json.Marshal(p.Balances)
	if err != nil {
		return fmt.Errorf("postgres: encode balances: %w", err)
	}
	_, err = r.Pool.Exec(ctx, query,
		p.LastUpdated, p.TotalValueUSD, p.InitialValueUSD,
		p.TotalPnLUSD, p.TotalPnLPercent, p.RealizedPnL,
		p.TotalTrades, p.WinningTrades, p.LosingTrades,
		p.MaxDrawdownUSD, p.MaxDrawdownPercent, balances,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert portfolio snapshot: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LogTicker(ctx context.Context, t model.Ticker) error {
	const query = `
		INSERT INTO market_data (exchange, symbol, bid, ask, bid_volume, ask_volume, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.Pool.Exec(ctx, query, t.Exchange, t.Symbol, t.Bid, t.Ask, t.BidVolume, t.AskVolume, t.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: insert ticker %s %s: %w", t.Exchange, t.Symbol, err)
	}
	return nil
}

// GetOpportunity reads an opportunity back by id.
func (r *PostgresRepository) GetOpportunity(ctx context.Context, id string) (model.Opportunity, error) {
	const query = `
		SELECT id, type, status, buy_exchange, sell_exchange, symbol,
			buy_price, sell_price, max_volume, recommended_volume,
			gross_profit_percent, net_profit_percent, estimated_profit_usd,
			buy_fee_percent, sell_fee_percent, transfer_fee, estimated_slippage_percent,
			detected_at, expires_at, window_ms,
			orderbook_depth_ok, liquidity_ok, would_have_executed, risk_score
		FROM opportunities WHERE id = $1`

	var opp model.Opportunity
	err := r.Pool.QueryRow(ctx, query, id).Scan(
		&opp.ID, &opp.Type, &opp.Status, &opp.BuyExchange, &opp.SellExchange, &opp.Symbol,
		&opp.BuyPrice, &opp.SellPrice, &opp.MaxVolume, &opp.RecommendedVolume,
		&opp.GrossProfitPercent, &opp.NetProfitPercent, &opp.EstimatedProfitUSD,
		&opp.BuyFeePercent, &opp.SellFeePercent, &opp.TransferFee, &opp.EstimatedSlippagePercent,
		&opp.DetectedAt, &opp.ExpiresAt, &opp.WindowMS,
		&opp.OrderbookDepthOK, &opp.LiquidityOK, &opp.WouldHaveExecuted, &opp.RiskScore,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Opportunity{}, fmt.Errorf("%w: opportunity %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Opportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	return opp, nil
}

// GetTrade reads a trade and its orders back by id.
func (r *PostgresRepository) GetTrade(ctx context.Context, id string) (model.Trade, error) {
	const tradeQuery = `
		SELECT id, opportunity_id, type, mode,
			gross_profit, total_fees, net_profit, net_profit_percent,
			status, error_message, started_at, completed_at,
			total_execution_ms, both_orders_would_have_executed
		FROM trades WHERE id = $1`

	var t model.Trade
	err := r.Pool.QueryRow(ctx, tradeQuery, id).Scan(
		&t.ID, &t.OpportunityID, &t.Type, &t.Mode,
		&t.GrossProfit, &t.TotalFees, &t.NetProfit, &t.NetProfitPercent,
		&t.Status, &t.ErrorMessage, &t.StartedAt, &t.CompletedAt,
		&t.TotalExecutionMS, &t.BothOrdersWouldHaveExecuted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Trade{}, fmt.Errorf("%w: trade %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}

	const orderQuery = `
		SELECT id, opportunity_id, exchange, symbol, side, type,
			requested_volume, filled_volume, requested_price, average_fill_price,
			status, mode, fee_paid, fee_currency,
			created_at, updated_at, filled_at,
			would_have_executed, simulated_slippage, execution_latency_ms
		FROM orders WHERE trade_id = $1`

	rows, err := r.Pool.Query(ctx, orderQuery, id)
	if err != nil {
		return model.Trade{}, fmt.Errorf("postgres: get orders of trade %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var o model.Order
		err := rows.Scan(
			&o.ID, &o.OpportunityID, &o.Exchange, &o.Symbol, &o.Side, &o.Type,
			&o.RequestedVolume, &o.FilledVolume, &o.RequestedPrice, &o.AverageFillPrice,
			&o.Status, &o.Mode, &o.FeePaid, &o.FeeCurrency,
			&o.CreatedAt, &o.UpdatedAt, &o.FilledAt,
			&o.WouldHaveExecuted, &o.SimulatedSlippage, &o.ExecutionLatencyMS,
		)
		if err != nil {
			return model.Trade{}, fmt.Errorf("postgres: scan order: %w", err)
		}
		if o.Side == model.SideBuy {
			t.BuyOrder = o
		} else {
			t.SellOrder = o
		}
	}
	if err := rows.Err(); err != nil {
		return model.Trade{}, fmt.Errorf("postgres: read orders of trade %s: %w", id, err)
	}
	return t, nil
}
