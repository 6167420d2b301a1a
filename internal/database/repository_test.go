package database

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"arbreferee/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pool *pgxpool.Pool
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}
	os.Exit(runWithPostgres(m))
}

func runWithPostgres(m *testing.M) int {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpassword",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Fatalf("could not start postgres container: %s", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("could not stop postgres container: %s", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	if err != nil {
		log.Fatalf("could not get container host: %s", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("could not get mapped port: %s", err)
	}

	connStr := "postgres://testuser:testpassword@" + host + ":" + port.Port() + "/testdb"

	// The port can accept connections a moment before the server does.
	var repo *PostgresRepository
	for attempt := 0; attempt < 20; attempt++ {
		repo, err = NewPostgresRepository(ctx, connStr)
		if err == nil {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}
	if err != nil {
		log.Fatalf("could not connect to database: %s", err)
	}
	defer repo.Close()
	pool = repo.Pool

	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("could not migrate: %s", err)
	}

	return m.Run()
}

func newRepo(t *testing.T) *PostgresRepository {
	t.Helper()
	if pool == nil {
		t.Skip("postgres container not started in -short mode")
	}
	return &PostgresRepository{Pool: pool}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPostgresRepository_MigrateIsIdempotent(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.Migrate(context.Background()))

	var applied int
	require.NoError(t, pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestPostgresRepository_Opportunity(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	now := time.Now().UTC().Truncate(time.Microsecond)
	executed := true
	opp := model.Opportunity{
		ID:                       uuid.NewString(),
		Type:                     model.TypeCrossExchange,
		Status:                   model.OpportunityDetected,
		BuyExchange:              "kraken",
		SellExchange:             "binance",
		Symbol:                   "BTC/USDT",
		BuyPrice:                 d("67010.1"),
		SellPrice:                d("67300"),
		MaxVolume:                d("1.5"),
		RecommendedVolume:        d("0.014923145799134457"),
		GrossProfitPercent:       d("0.432771228174899269"),
		NetProfitPercent:         d("0.215881"),
		EstimatedProfitUSD:       d("2.3234"),
		BuyFeePercent:            d("0.1"),
		SellFeePercent:           d("0.1"),
		TransferFee:              decimal.Zero,
		EstimatedSlippagePercent: d("0.016883"),
		DetectedAt:               now,
		ExpiresAt:                now.Add(5 * time.Second),
		WindowMS:                 5000,
		OrderbookDepthOK:         true,
		LiquidityOK:              false,
		RiskScore:                d("0.5499"),
	}
	require.NoError(t, repo.LogOpportunity(ctx, opp))

	got, err := repo.GetOpportunity(ctx, opp.ID)
	require.NoError(t, err)
	assert.True(t, opp.RecommendedVolume.Equal(got.RecommendedVolume), "got %s", got.RecommendedVolume)
	assert.True(t, opp.GrossProfitPercent.Equal(got.GrossProfitPercent))
	assert.True(t, opp.BuyPrice.Equal(got.BuyPrice))
	assert.Equal(t, opp.Type, got.Type)
	assert.Equal(t, opp.Status, got.Status)
	assert.True(t, opp.DetectedAt.Equal(got.DetectedAt))
	assert.Nil(t, got.WouldHaveExecuted)
	assert.False(t, got.LiquidityOK)

	opp.Status = model.OpportunityExecuted
	opp.WouldHaveExecuted = &executed
	require.NoError(t, repo.LogOpportunity(ctx, opp), "relogging updates the status")
	got, err = repo.GetOpportunity(ctx, opp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OpportunityExecuted, got.Status)
	require.NotNil(t, got.WouldHaveExecuted)
	assert.True(t, *got.WouldHaveExecuted)

	_, err = repo.GetOpportunity(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepository_LogTrade(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	now := time.Now().UTC().Truncate(time.Microsecond)
	oppID := uuid.NewString()
	order := func(side model.Side, exchange, price string) model.Order {
		return model.Order{
			ID:                 uuid.NewString(),
			OpportunityID:      oppID,
			Exchange:           exchange,
			Symbol:             "BTC/USDT",
			Side:               side,
			Type:               model.OrderMarket,
			RequestedVolume:    d("0.1"),
			FilledVolume:       d("0.1"),
			AverageFillPrice:   decimal.NewNullDecimal(d(price)),
			Status:             model.OrderFilled,
			Mode:               model.ModePaper,
			FeePaid:            d("6.7"),
			FeeCurrency:        "USD",
			CreatedAt:          now,
			UpdatedAt:          now,
			FilledAt:           &now,
			WouldHaveExecuted:  true,
			SimulatedSlippage:  d("0.0123"),
			ExecutionLatencyMS: 25,
		}
	}
	trade := model.Trade{
		ID:                          uuid.NewString(),
		OpportunityID:               oppID,
		Type:                        model.TypeCrossExchange,
		Mode:                        model.ModePaper,
		BuyOrder:                    order(model.SideBuy, "kraken", "67010"),
		SellOrder:                   order(model.SideSell, "binance", "67300"),
		GrossProfit:                 d("29"),
		TotalFees:                   d("13.4"),
		NetProfit:                   d("15.6"),
		NetProfitPercent:            d("0.2328"),
		Status:                      model.TradeCompleted,
		StartedAt:                   now,
		CompletedAt:                 &now,
		TotalExecutionMS:            51,
		BothOrdersWouldHaveExecuted: true,
	}

	require.NoError(t, repo.LogTrade(ctx, trade))

	got, err := repo.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradeCompleted, got.Status)
	assert.True(t, trade.NetProfit.Equal(got.NetProfit))
	assert.Equal(t, int64(51), got.TotalExecutionMS)
	assert.Equal(t, trade.BuyOrder.ID, got.BuyOrder.ID)
	assert.Equal(t, trade.SellOrder.ID, got.SellOrder.ID)
	require.True(t, got.SellOrder.AverageFillPrice.Valid)
	assert.Equal(t, "67300", got.SellOrder.AverageFillPrice.Decimal.String())
	assert.False(t, got.BuyOrder.RequestedPrice.Valid)
	require.NotNil(t, got.BuyOrder.FilledAt)
	assert.True(t, now.Equal(*got.BuyOrder.FilledAt))

	assert.Error(t, repo.LogTrade(ctx, trade), "duplicate ids are rejected")
}

func TestPostgresRepository_SnapshotAndTicker(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	now := time.Now()
	p := model.NewPortfolio(map[string]decimal.Decimal{"USDT": d("10000")}, d("10000"), now)
	p.RecordTrade(d("-12.5"), now)
	require.NoError(t, repo.LogPortfolioSnapshot(ctx, p.Snapshot()))

	var trades int
	var pnl string
	err := pool.QueryRow(ctx,
		"SELECT total_trades, total_pnl_usd::text FROM portfolio_snapshots ORDER BY id DESC LIMIT 1",
	).Scan(&trades, &pnl)
	require.NoError(t, err)
	assert.Equal(t, 1, trades)
	assert.True(t, d("-12.5").Equal(d(pnl)))

	tk := model.Ticker{
		Symbol:    "ETH/USDT",
		Exchange:  "binance",
		Bid:       d("3400.1"),
		Ask:       d("3400.2"),
		BidVolume: d("12"),
		AskVolume: d("8.5"),
		Timestamp: now,
	}
	require.NoError(t, repo.LogTicker(ctx, tk))

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM market_data WHERE exchange = 'binance' AND symbol = 'ETH/USDT'",
	).Scan(&count))
	assert.GreaterOrEqual(t, count, 1)
}
