package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"arbreferee/internal/config"
	"arbreferee/internal/model"

	"github.com/shopspring/decimal"
)

var (
	hundred      = decimal.NewFromInt(100)
	one          = decimal.NewFromInt(1)
	two          = decimal.NewFromInt(2)
	profitAnchor = decimal.RequireFromString("0.5")
)

const reasonAllowed = "ok"

// PortfolioSource provides the portfolio the limits are measured against.
type PortfolioSource interface {
	Portfolio() model.Portfolio
}

// Metrics is a point-in-time view of the risk state.
type Metrics struct {
	CurrentExposure  decimal.Decimal `json:"current_exposure"`
	MaxExposure      decimal.Decimal `json:"max_exposure"`
	ExposurePercent  decimal.Decimal `json:"exposure_percent"`
	CurrentDrawdown  decimal.Decimal `json:"current_drawdown"`
	MaxDrawdownLimit decimal.Decimal `json:"max_drawdown_limit"`
	TotalPnL         decimal.Decimal `json:"total_pnl"`
	WinRate          decimal.Decimal `json:"win_rate"`
}

// Manager gates opportunities on position, exposure and drawdown limits.
type Manager struct {
	logger    *slog.Logger
	portfolio PortfolioSource

	maxPosition    decimal.Decimal
	maxExposure    decimal.Decimal
	maxDrawdown    decimal.Decimal
	minProfit      decimal.Decimal
	maxRiskScore   decimal.Decimal
	maxLossPercent decimal.Decimal

	mu       sync.Mutex
	exposure decimal.Decimal
}

// NewManager creates a new risk Manager.
func NewManager(logger *slog.Logger, portfolio PortfolioSource, cfg config.RiskConfig) *Manager {
	return &Manager{
		logger:         logger,
		portfolio:      portfolio,
		maxPosition:    decimal.NewFromFloat(cfg.MaxPositionUSD),
		maxExposure:    decimal.NewFromFloat(cfg.MaxExposureUSD),
		maxDrawdown:    decimal.NewFromFloat(cfg.MaxDrawdownPercent),
		minProfit:      decimal.NewFromFloat(cfg.MinProfitPercent),
		maxRiskScore:   decimal.NewFromFloat(cfg.MaxRiskScore),
		maxLossPercent: decimal.NewFromFloat(cfg.MaxLossPercent),
		exposure:       decimal.Zero,
	}
}

// CanTrade reports whether opp may be executed, with the first failing
// check's reason when it may not.
func (m *Manager) CanTrade(opp model.Opportunity) (bool, string) {
	p := m.portfolio.Portfolio()

	if p.MaxDrawdownPercent.GreaterThanOrEqual(m.maxDrawdown) {
		return false, fmt.Sprintf("max drawdown exceeded: %s%%", p.MaxDrawdownPercent.StringFixed(2))
	}

	notional := opp.RecommendedVolume.Mul(opp.BuyPrice)
	if notional.GreaterThan(m.maxPosition) {
		return false, fmt.Sprintf("position too large: $%s > $%s", notional.StringFixed(2), m.maxPosition)
	}

	m.mu.Lock()
	next := m.exposure.Add(notional)
	m.mu.Unlock()
	if next.GreaterThan(m.maxExposure) {
		return false, fmt.Sprintf("max exposure exceeded: $%s > $%s", next.StringFixed(2), m.maxExposure)
	}

	if opp.RiskScore.GreaterThan(m.maxRiskScore) {
		return false, fmt.Sprintf("risk score too high: %s", opp.RiskScore)
	}

	if opp.NetProfitPercent.LessThan(m.minProfit) {
		return false, fmt.Sprintf("profit too low: %s%%", opp.NetProfitPercent.StringFixed(4))
	}

	return true, reasonAllowed
}

// PositionSize sizes a trade in base units: the max position scaled down by
// risk and up by profit, capped by available volume and by the loss budget.
func (m *Manager) PositionSize(opp model.Opportunity) decimal.Decimal {
	if !opp.BuyPrice.IsPositive() {
		return decimal.Zero
	}
	size := m.maxPosition.Div(opp.BuyPrice)
	size = size.Mul(one.Sub(opp.RiskScore))
	size = size.Mul(decimal.Min(opp.NetProfitPercent.Div(profitAnchor), two))
	size = decimal.Min(size, opp.MaxVolume)

	p := m.portfolio.Portfolio()
	maxLossUSD := p.TotalValueUSD.Mul(m.maxLossPercent).Div(hundred)
	size = decimal.Min(size, maxLossUSD.Div(opp.BuyPrice))

	if size.IsNegative() {
		return decimal.Zero
	}
	return size
}

// UpdateExposure adds value when a position opens and removes it, never
// below zero, when it closes.
func (m *Manager) UpdateExposure(value decimal.Decimal, open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if open {
		m.exposure = m.exposure.Add(value)
		return
	}
	m.exposure = decimal.Max(decimal.Zero, m.exposure.Sub(value))
}

// Exposure returns the current open exposure in USD.
func (m *Manager) Exposure() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exposure
}

// CheckStopLoss reports whether trading should halt because the drawdown
// limit or the equivalent absolute loss has been reached.
func (m *Manager) CheckStopLoss() (bool, string) {
	p := m.portfolio.Portfolio()

	if p.MaxDrawdownPercent.GreaterThanOrEqual(m.maxDrawdown) {
		return true, fmt.Sprintf("max drawdown reached: %s%%", p.MaxDrawdownPercent.StringFixed(2))
	}

	maxLoss := p.InitialValueUSD.Mul(m.maxDrawdown).Div(hundred)
	if p.TotalPnLUSD.IsNegative() && p.TotalPnLUSD.Abs().GreaterThanOrEqual(maxLoss) {
		return true, fmt.Sprintf("max loss reached: $%s", p.TotalPnLUSD.Abs().StringFixed(2))
	}
	return false, ""
}

// Metrics returns the current risk figures.
func (m *Manager) Metrics() Metrics {
	p := m.portfolio.Portfolio()
	exposure := m.Exposure()

	pct := decimal.Zero
	if m.maxExposure.IsPositive() {
		pct = exposure.Div(m.maxExposure).Mul(hundred)
	}
	return Metrics{
		CurrentExposure:  exposure,
		MaxExposure:      m.maxExposure,
		ExposurePercent:  pct,
		CurrentDrawdown:  p.MaxDrawdownPercent,
		MaxDrawdownLimit: m.maxDrawdown,
		TotalPnL:         p.TotalPnLUSD,
		WinRate:          p.WinRate(),
	}
}

// ResetDailyLimits clears the open exposure.
func (m *Manager) ResetDailyLimits() {
	m.mu.Lock()
	m.exposure = decimal.Zero
	m.mu.Unlock()
	m.logger.Info("RiskManager: daily limits reset")
}
