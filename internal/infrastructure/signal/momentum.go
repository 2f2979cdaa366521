package signal

import (
	"context"

	"go.uber.org/zap"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
)

const (
	candleInterval = "1h"
	candleLimit    = 100
)

// MomentumProvider scores symbols from 1h candles using trend,
// RSI, MACD and short-term momentum. Scores are 0-100; anything the
// provider cannot analyze scores 0, it never returns an error.
type MomentumProvider struct {
	candles domain.CandleSource
	logger  *zap.Logger
}

func NewMomentumProvider(candles domain.CandleSource, logger *zap.Logger) *MomentumProvider {
	return &MomentumProvider{candles: candles, logger: logger}
}

func (m *MomentumProvider) Analyze(ctx context.Context, symbol string, cfg *domain.TradingConfig) domain.Signal {
	bars, err := m.candles.Candles(ctx, symbol, candleInterval, candleLimit)
	if err != nil {
		m.logger.Debug("candle fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return domain.Signal{}
	}
	if len(bars) < 55 {
		return domain.Signal{}
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}
	price := closes[len(closes)-1]

	ma20 := sma(closes, 20)
	ma50 := sma(closes, 50)
	rsiVal := rsi(closes, 14)
	macdLine, macdSignal := macd(closes)
	mom4h := momentum(closes, 4)
	mom24h := momentum(closes, 24)
	volRatio := volumeRatio(volumes)

	var bullish, bearish int

	// Trend structure carries the most weight.
	if price > ma20 {
		bullish += 20
	} else {
		bearish += 20
	}
	if ma20 > ma50 {
		bullish += 15
	} else {
		bearish += 15
	}

	// RSI: the middle zones confirm, the extremes warn.
	switch {
	case rsiVal >= 50 && rsiVal < 70:
		bullish += 15
	case rsiVal >= 70:
		bearish += 10 // overbought
	case rsiVal > 30 && rsiVal < 50:
		bearish += 15
	default:
		bullish += 10 // oversold bounce setup
	}

	if macdLine > macdSignal {
		bullish += 15
	} else {
		bearish += 15
	}

	if mom4h > 1 {
		bullish += 15
	} else if mom4h < -1 {
		bearish += 15
	}
	if mom24h > 3 {
		bullish += 10
	} else if mom24h < -3 {
		bearish += 10
	}

	// Volume expansion confirms whichever side is winning.
	if volRatio > 1.5 {
		if bullish > bearish {
			bullish += 10
		} else {
			bearish += 10
		}
	}

	direction := domain.SideLong
	score := bullish
	if bearish > bullish {
		direction = domain.SideShort
		score = bearish
	}

	m.logger.Debug("symbol analyzed",
		zap.String("symbol", symbol),
		zap.Int("score", score),
		zap.String("direction", string(direction)),
		zap.Float64("rsi", rsiVal),
		zap.Float64("mom_4h", mom4h))

	return domain.Signal{Score: score, Direction: direction, Price: price}
}
