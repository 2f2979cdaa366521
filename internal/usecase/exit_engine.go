package usecase

import (
	"fmt"
	"time"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
)

// ExitDecision says a position must be closed now, and why.
type ExitDecision struct {
	Reason string
	ROI    float64
}

// CheckExit evaluates whether an open position should close at the
// given price. It is shared by the live loop and the simulator paths:
// the only state it touches is pos.PeakROI, which it ratchets upward.
// At most one rule fires per call.
func CheckExit(pos *domain.Position, price float64, now time.Time, cfg *domain.TradingConfig) *ExitDecision {
	roi := pos.ROIAt(price)

	if roi > pos.PeakROI {
		pos.PeakROI = roi
	}

	hold := now.Sub(pos.OpenedAt)

	// Young positions are protected from stop-outs: backtests showed a
	// near-zero win rate on forced exits under the minimum hold time.
	// The guard yields once the loss is catastrophic.
	minHoldProtect := hold < cfg.MinHold && roi > cfg.CatastrophicROI

	if hold > cfg.MaxHold {
		return &ExitDecision{
			Reason: fmt.Sprintf("Max hold time (%.0fh, ROI %+.1f%%)", hold.Hours(), roi),
			ROI:    roi,
		}
	}

	if pos.TakeProfitPrice > 0 {
		hitTP := (pos.Direction == domain.SideLong && price >= pos.TakeProfitPrice) ||
			(pos.Direction == domain.SideShort && price <= pos.TakeProfitPrice)
		if hitTP {
			return &ExitDecision{
				Reason: fmt.Sprintf("Take profit (ROI %+.1f%%)", roi),
				ROI:    roi,
			}
		}
	}

	if pos.StopLossPrice > 0 {
		hitSL := (pos.Direction == domain.SideLong && price <= pos.StopLossPrice) ||
			(pos.Direction == domain.SideShort && price >= pos.StopLossPrice)
		if hitSL && !minHoldProtect {
			return &ExitDecision{
				Reason: fmt.Sprintf("Stop loss (ROI %.1f%%)", roi),
				ROI:    roi,
			}
		}
	}

	if roi <= pos.ROIStopLoss && !minHoldProtect {
		return &ExitDecision{
			Reason: fmt.Sprintf("ROI stop loss (%.1f%%)", roi),
			ROI:    roi,
		}
	}

	// Trailing stop: armed once peak ROI ever reached the start level,
	// fires on the first retreat of trailing-distance or more. The exit
	// may already be negative by then; the reason says which.
	if pos.PeakROI >= pos.ROITrailingStart {
		retreat := pos.PeakROI - roi
		if retreat >= pos.ROITrailingDistance {
			trailExit := pos.PeakROI - pos.ROITrailingDistance
			reason := fmt.Sprintf("Trailing stop (%.1f%%)", trailExit)
			if trailExit > 0 {
				reason = fmt.Sprintf("Trailing stop (+%.1f%%, peak +%.1f%%)", trailExit, pos.PeakROI)
			}
			return &ExitDecision{Reason: reason, ROI: roi}
		}
	}

	return nil
}

// StopTake holds the price-level exit parameters derived from the
// ROI-denominated config for a concrete entry.
type StopTake struct {
	StopLoss   float64
	TakeProfit float64
}

// CalcStopTake converts ROI stop/trailing-start percentages into
// absolute price levels for the given fill.
func CalcStopTake(entryPrice float64, direction domain.Side, leverage int, cfg *domain.TradingConfig) StopTake {
	stopPct := cfg.ROIStopLoss / (float64(leverage) * 100)
	tpPct := cfg.ROITrailingStart / (float64(leverage) * 100)

	if direction == domain.SideLong {
		return StopTake{
			StopLoss:   entryPrice * (1 + stopPct),
			TakeProfit: entryPrice * (1 + tpPct),
		}
	}
	return StopTake{
		StopLoss:   entryPrice * (1 - stopPct),
		TakeProfit: entryPrice * (1 - tpPct),
	}
}

// CalculatePositionSize maps a signal score to margin and leverage.
//
// The bands shrink again above 75: extreme scores historically mean
// chasing a move that is already done, so v4.2 deliberately sizes them
// down. This is backtest-informed, not a transcription error.
func CalculatePositionSize(score int, available float64, cfg *domain.TradingConfig, symbol string) (float64, int) {
	leverage := cfg.MaxLeverage
	if leverage > 3 {
		leverage = 3 // v4.2 runs fixed 3x
	}

	var size float64
	switch {
	case score >= 85:
		size = min(150, available*0.08)
	case score >= 80:
		size = min(250, available*0.15)
	case score >= 75:
		size = min(350, available*0.22)
	case score >= 70:
		size = min(250, available*0.15)
	case score >= 60:
		size = min(150, available*0.10)
	default:
		return 0, leverage
	}

	size = min(size, cfg.MaxPositionSize)

	if symbol != "" {
		tier, ok := CoinTiers[symbol]
		if !ok {
			tier = "T3"
		}
		size *= TierMultiplier[tier]
	}

	size = float64(int(size))
	if size < 50 {
		size = 50
	}
	return size, leverage
}
