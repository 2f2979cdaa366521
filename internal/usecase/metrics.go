package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantbot",
		Name:      "scans_total",
		Help:      "Completed scan cycles per agent.",
	}, []string{"agent"})

	scanErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantbot",
		Name:      "scan_errors_total",
		Help:      "Scan cycles that ended in an error.",
	}, []string{"agent"})

	tradesOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantbot",
		Name:      "trades_opened_total",
		Help:      "Positions opened.",
	}, []string{"agent", "direction"})

	tradesClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quantbot",
		Name:      "trades_closed_total",
		Help:      "Positions closed.",
	}, []string{"agent", "outcome"})

	openPositionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quantbot",
		Name:      "open_positions",
		Help:      "Currently open positions.",
	}, []string{"agent"})

	riskScoreGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quantbot",
		Name:      "risk_score",
		Help:      "Latest composite risk score (0-10).",
	}, []string{"agent"})

	watchdogRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quantbot",
		Name:      "watchdog_restarts_total",
		Help:      "Crashed loops restarted by the watchdog.",
	})

	runningBotsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quantbot",
		Name:      "running_bots",
		Help:      "Loops currently registered with the supervisor.",
	})
)
