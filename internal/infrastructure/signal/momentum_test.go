package signal

import (
	"context"
	"fmt"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
)

type fakeCandles struct {
	bars []domain.Candle
	err  error
}

func (f *fakeCandles) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	return f.bars, f.err
}

func trendingBars(n int, start, step float64) []domain.Candle {
	bars := make([]domain.Candle, n)
	price := start
	for i := range bars {
		bars[i] = domain.Candle{
			Time:   int64(i),
			Open:   price,
			High:   price + math.Abs(step),
			Low:    price - math.Abs(step),
			Close:  price + step,
			Volume: 1000,
		}
		price += step
	}
	return bars
}

func TestRSIBounds(t *testing.T) {
	allUp := make([]float64, 30)
	for i := range allUp {
		allUp[i] = 100 + float64(i)
	}
	if got := rsi(allUp, 14); got != 100 {
		t.Errorf("monotone rally should read RSI 100, got %v", got)
	}

	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
	}
	if got := rsi(flat, 14); got != 50 {
		t.Errorf("flat series should read RSI 50, got %v", got)
	}

	if got := rsi([]float64{1, 2}, 14); got != 50 {
		t.Errorf("short series should read neutral, got %v", got)
	}
}

func TestSMA(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	if got := sma(prices, 5); got != 3 {
		t.Errorf("expected SMA 3, got %v", got)
	}
	if got := sma(prices, 2); got != 4.5 {
		t.Errorf("expected SMA 4.5, got %v", got)
	}
	if got := sma(prices, 10); got != 0 {
		t.Errorf("insufficient history should yield 0, got %v", got)
	}
}

func TestMomentumPercent(t *testing.T) {
	prices := []float64{100, 100, 100, 100, 110}
	if got := momentum(prices, 4); math.Abs(got-10) > 1e-9 {
		t.Errorf("expected +10%% momentum, got %v", got)
	}
}

func TestAnalyzeFailuresScoreZero(t *testing.T) {
	cfg := domain.DefaultTradingConfig(1)
	logger := zap.NewNop()

	// Source error.
	p := NewMomentumProvider(&fakeCandles{err: fmt.Errorf("exchange down")}, logger)
	if sig := p.Analyze(context.Background(), "BTC/USDT", cfg); sig.Score != 0 {
		t.Errorf("source error should score 0, got %d", sig.Score)
	}

	// Not enough history.
	p = NewMomentumProvider(&fakeCandles{bars: trendingBars(10, 100, 1)}, logger)
	if sig := p.Analyze(context.Background(), "BTC/USDT", cfg); sig.Score != 0 {
		t.Errorf("short history should score 0, got %d", sig.Score)
	}
}

func TestAnalyzeDirections(t *testing.T) {
	cfg := domain.DefaultTradingConfig(1)
	logger := zap.NewNop()

	up := NewMomentumProvider(&fakeCandles{bars: trendingBars(100, 100, 0.5)}, logger)
	sig := up.Analyze(context.Background(), "BTC/USDT", cfg)
	if sig.Direction != domain.SideLong {
		t.Errorf("steady uptrend should read long, got %s", sig.Direction)
	}
	if sig.Score == 0 {
		t.Error("uptrend should carry a nonzero score")
	}

	down := NewMomentumProvider(&fakeCandles{bars: trendingBars(100, 200, -0.5)}, logger)
	sig = down.Analyze(context.Background(), "BTC/USDT", cfg)
	if sig.Direction != domain.SideShort {
		t.Errorf("steady downtrend should read short, got %s", sig.Direction)
	}
}
