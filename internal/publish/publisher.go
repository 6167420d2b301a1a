package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arbreferee/internal/config"
	"arbreferee/internal/execution"
	"arbreferee/internal/model"

	"github.com/redis/go-redis/v9"
)

// Publisher feeds opportunities, trades and statistics to dashboards.
type Publisher interface {
	PublishOpportunity(ctx context.Context, opp model.Opportunity) error
	PublishTrade(ctx context.Context, trade model.Trade) error
	PublishStatistics(ctx context.Context, stats execution.Statistics) error
}

// NopPublisher drops everything. It stands in when Redis is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishOpportunity(context.Context, model.Opportunity) error { return nil }
func (NopPublisher) PublishTrade(context.Context, model.Trade) error { return nil }
func (NopPublisher) PublishStatistics(context.Context, execution.Statistics) error { return nil }

// RedisPublisher appends opportunities and trades to capped streams and keeps
// the latest statistics in a hash.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
	maxLen int64
}

// NewRedisPublisher creates a new RedisPublisher.
func NewRedisPublisher(cfg config.RedisConfig) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return &RedisPublisher{rdb: rdb, prefix: cfg.Prefix, maxLen: cfg.StreamLen}
}

func (p *RedisPublisher) OpportunitiesKey() string { return p.prefix + ":opportunities" }
func (p *RedisPublisher) TradesKey() string { return p.prefix + ":trades" }
func (p *RedisPublisher) StatsKey() string { return p.prefix + ":stats" }

// Ping checks the server is reachable.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

func (p *RedisPublisher) PublishOpportunity(ctx context.Context, opp model.Opportunity) error {
	data, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("redis: encode opportunity %s: %w", opp.ID, err)
	}
	return p.append(ctx, p.OpportunitiesKey(), map[string]any{
		"id":     opp.ID,
		"type":   string(opp.Type),
		"symbol": opp.Symbol,
		"data":   data,
	})
}

func (p *RedisPublisher) PublishTrade(ctx context.Context, trade model.Trade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("redis: encode trade %s: %w", trade.ID, err)
	}
	return p.append(ctx, p.TradesKey(), map[string]any{
		"id":     trade.ID,
		"status": string(trade.Status),
		"data":   data,
	})
}

// PublishStatistics overwrites the statistics hash.
func (p *RedisPublisher) PublishStatistics(ctx context.Context, stats execution.Statistics) error {
	err := p.rdb.HSet(ctx, p.StatsKey(), map[string]any{
		"total_trades":         stats.TotalTrades,
		"winning_trades":       stats.WinningTrades,
		"losing_trades":        stats.LosingTrades,
		"win_rate":             stats.WinRate.StringFixed(2),
		"total_pnl_usd":        stats.TotalPnLUSD.String(),
		"total_pnl_percent":    stats.TotalPnLPercent.StringFixed(4),
		"max_drawdown_usd":     stats.MaxDrawdownUSD.String(),
		"max_drawdown_percent": stats.MaxDrawdownPercent.StringFixed(4),
		"portfolio_value":      stats.PortfolioValue.String(),
		"updated_at":           time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: write statistics: %w", err)
	}
	return nil
}

func (p *RedisPublisher) append(ctx context.Context, stream string, values map[string]any) error {
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: append to %s: %w", stream, err)
	}
	return nil
}
