package database

import (
	"context"

	"arbreferee/internal/model"
)

// Repository defines the standard interface for database operations. The
// scanner only appends records; it never reads its own history back.
type Repository interface {
	Migrate(ctx context.Context) error
	LogOpportunity(ctx context.Context, opp model.Opportunity) error
	LogTrade(ctx context.Context, trade model.Trade) error
	LogPortfolioSnapshot(ctx context.Context, p model.Portfolio) error
	LogTicker(ctx context.Context, t model.Ticker) error
}

// NopRepository discards every record. It stands in when persistence is disabled.
type NopRepository struct{}

func (NopRepository) Migrate(context.Context) error { return nil }
func (NopRepository) LogOpportunity(context.Context, model.Opportunity) error { return nil }
func (NopRepository) LogTrade(context.Context, model.Trade) error { return nil }
func (NopRepository) LogPortfolioSnapshot(context.Context, model.Portfolio) error { return nil }
func (NopRepository) LogTicker(context.Context, model.Ticker) error { return nil }
