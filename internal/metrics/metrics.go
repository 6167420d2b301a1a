package metrics

import (
	"time"

	"arbreferee/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "arbreferee"

// Metrics holds the scanner's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Scans          prometheus.Counter
	ScanDuration   prometheus.Histogram
	Opportunities  *prometheus.CounterVec
	Trades         *prometheus.CounterVec
	FetchErrors    *prometheus.CounterVec
	RiskRejections prometheus.Counter
	TradeLatency   prometheus.Histogram
	PnLUSD         prometheus.Gauge
	DrawdownPct    prometheus.Gauge
	PortfolioUSD   prometheus.Gauge
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Scans: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed scan iterations",
		}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Time spent per scan iteration",
			Buckets:   prometheus.DefBuckets,
		}),
		Opportunities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Detected opportunities",
		}, []string{"symbol", "type"}),
		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Paper trades by final status",
		}, []string{"status"}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed market data fetches",
		}, []string{"exchange"}),
		RiskRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_rejections_total",
			Help:      "Opportunities rejected by the risk manager",
		}),
		TradeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_execution_seconds",
			Help:      "Simulated execution time of paper trades",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		PnLUSD: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_pnl_usd",
			Help:      "Cumulative paper P&L",
		}),
		DrawdownPct: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_max_drawdown_percent",
			Help:      "Maximum drawdown relative to the initial value",
		}),
		PortfolioUSD: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_value_usd",
			Help:      "Current paper portfolio value",
		}),
	}
}

func (m *Metrics) ScanCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.Scans.Inc()
	m.ScanDuration.Observe(d.Seconds())
}

func (m *Metrics) OpportunityDetected(opp model.Opportunity) {
	if m == nil {
		return
	}
	m.Opportunities.WithLabelValues(opp.Symbol, string(opp.Type)).Inc()
}

func (m *Metrics) FetchFailed(exchange string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(exchange).Inc()
}

func (m *Metrics) RiskRejected() {
	if m == nil {
		return
	}
	m.RiskRejections.Inc()
}

// TradeExecuted counts the trade by status and records its execution time.
func (m *Metrics) TradeExecuted(trade model.Trade) {
	if m == nil {
		return
	}
	m.Trades.WithLabelValues(string(trade.Status)).Inc()
	m.TradeLatency.Observe((time.Duration(trade.TotalExecutionMS) * time.Millisecond).Seconds())
}

// ObservePortfolio sets the portfolio gauges.
func (m *Metrics) ObservePortfolio(p model.Portfolio) {
	if m == nil {
		return
	}
	m.PnLUSD.Set(p.TotalPnLUSD.InexactFloat64())
	m.DrawdownPct.Set(p.MaxDrawdownPercent.InexactFloat64())
	m.PortfolioUSD.Set(p.TotalValueUSD.InexactFloat64())
}
