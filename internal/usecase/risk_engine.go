package usecase

import (
	"fmt"
	"time"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
)

// RiskLevel buckets the composite risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskMetrics is the full risk picture for one agent at one instant.
type RiskMetrics struct {
	RiskScore         int
	CurrentCapital    float64
	PeakCapital       float64
	MaxDrawdown       float64
	CurrentDrawdown   float64
	ConsecutiveLosses int
	MaxPositionPct    float64
	LongRatio         float64
	ShortRatio        float64
	AvgLeverage       float64
	DailyPnL          float64
	DailyLossBreach   bool
	DrawdownBreach    bool
	PositionCount     int
}

// RiskEngine scores an agent's exposure. It is stateless: every call
// receives the closed-trade history and open positions it should judge,
// so the same engine value can serve concurrent loops.
type RiskEngine struct {
	cfg *domain.TradingConfig
}

func NewRiskEngine(cfg *domain.TradingConfig) *RiskEngine {
	return &RiskEngine{cfg: cfg}
}

// CalculateRiskMetrics walks the closed-trade sequence for capital
// drawdown, inspects the most recent trades for loss streaks, and
// measures the shape of the open book. closed must be ordered by exit
// time ascending.
func (r *RiskEngine) CalculateRiskMetrics(closed []*domain.Trade, positions []*domain.Position, now time.Time) RiskMetrics {
	m := RiskMetrics{PositionCount: len(positions)}

	// 1. Capital walk: running peak and drawdown over all closed trades.
	peak := r.cfg.InitialCapital
	capital := r.cfg.InitialCapital
	for _, t := range closed {
		capital += t.PnL
		if capital > peak {
			peak = capital
		}
		if peak > 0 {
			dd := (peak - capital) / peak * 100
			if dd > m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
	}
	m.CurrentCapital = capital
	m.PeakCapital = peak
	if capital < peak && peak > 0 {
		m.CurrentDrawdown = (peak - capital) / peak * 100
	}

	// 2. Consecutive losses over the last 10 closed trades.
	for i := len(closed) - 1; i >= 0 && len(closed)-i <= 10; i-- {
		if closed[i].PnL < 0 {
			m.ConsecutiveLosses++
		} else {
			break
		}
	}

	// 3. Concentration and 4. direction split.
	if len(positions) > 0 {
		var totalMargin, maxMargin, levSum float64
		var longs int
		for _, p := range positions {
			totalMargin += p.Margin
			if p.Margin > maxMargin {
				maxMargin = p.Margin
			}
			levSum += float64(p.Leverage)
			if p.Direction == domain.SideLong {
				longs++
			}
		}
		if totalMargin > 0 {
			m.MaxPositionPct = maxMargin / totalMargin * 100
		}
		m.LongRatio = float64(longs) / float64(len(positions)) * 100
		m.ShortRatio = 100 - m.LongRatio
		m.AvgLeverage = levSum / float64(len(positions))
	}

	// 6. Today's realized PnL (UTC day).
	today := now.UTC().Format("2006-01-02")
	for _, t := range closed {
		if t.ExitTime != nil && t.ExitTime.UTC().Format("2006-01-02") == today {
			m.DailyPnL += t.PnL
		}
	}

	// 7. Composite score, additive with per-category caps.
	score := 0
	switch {
	case m.CurrentDrawdown > 15:
		score += 3
	case m.CurrentDrawdown > 10:
		score += 2
	case m.CurrentDrawdown > 5:
		score += 1
	}
	switch {
	case m.ConsecutiveLosses >= 3:
		score += 2
	case m.ConsecutiveLosses >= 2:
		score += 1
	}
	// Concentration and imbalance only say anything once the book has
	// at least 3 positions.
	if len(positions) >= 3 {
		switch {
		case m.MaxPositionPct > 40:
			score += 2
		case m.MaxPositionPct > 30:
			score += 1
		}
		dominant := m.LongRatio
		if m.ShortRatio > dominant {
			dominant = m.ShortRatio
		}
		switch {
		case dominant > 85:
			score += 2
		case dominant > 70:
			score += 1
		}
	}
	if m.AvgLeverage > 3 {
		score++
	}

	// Hard floors, not additive inputs.
	m.DailyLossBreach = m.DailyPnL < 0 && -m.DailyPnL > r.cfg.DailyLossLimit
	if m.DailyLossBreach && score < 7 {
		score = 7
	}
	m.DrawdownBreach = m.CurrentDrawdown > r.cfg.MaxDrawdownPct
	if m.DrawdownBreach && score < 8 {
		score = 8
	}

	m.RiskScore = score
	return m
}

// RiskLevelFor maps a risk score to a level, a position-size
// multiplier, and whether new entries must pause. Deterministic step
// function; the multiplier never increases with the score.
func RiskLevelFor(score int) (RiskLevel, float64, bool) {
	switch {
	case score >= 9:
		return RiskCritical, 0.0, true
	case score >= 7:
		return RiskHigh, 0.3, true
	case score >= 4:
		return RiskMedium, 0.5, false
	default:
		return RiskLow, 1.0, false
	}
}

// CheckCanOpen is the pre-trade admission gate.
func (r *RiskEngine) CheckCanOpen(metrics RiskMetrics) (bool, string) {
	if metrics.PositionCount >= r.cfg.MaxPositions {
		return false, fmt.Sprintf("Max positions reached (%d)", r.cfg.MaxPositions)
	}

	level, multiplier, shouldPause := RiskLevelFor(metrics.RiskScore)
	if shouldPause {
		return false, fmt.Sprintf("Trading paused: risk level %s (score %d/10)", level, metrics.RiskScore)
	}
	if metrics.DailyLossBreach {
		return false, fmt.Sprintf("Daily loss limit exceeded (%.2f)", metrics.DailyPnL)
	}
	if metrics.DrawdownBreach {
		return false, fmt.Sprintf("Max drawdown exceeded (%.1f%%)", metrics.CurrentDrawdown)
	}

	return true, fmt.Sprintf("OK (risk: %s, multiplier: %.1f)", level, multiplier)
}
