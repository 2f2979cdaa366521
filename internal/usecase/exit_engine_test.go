package usecase

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
)

func testConfig() *domain.TradingConfig {
	cfg := domain.DefaultTradingConfig(1)
	return cfg
}

func testPosition(direction domain.Side, entry float64, leverage int, cfg *domain.TradingConfig, openedAt time.Time) *domain.Position {
	st := CalcStopTake(entry, direction, leverage, cfg)
	return &domain.Position{
		TradeID:             1,
		AgentID:             1,
		Symbol:              "BTC/USDT",
		Direction:           direction,
		EntryPrice:          entry,
		Margin:              100,
		Leverage:            leverage,
		StopLossPrice:       st.StopLoss,
		TakeProfitPrice:     st.TakeProfit,
		ROIStopLoss:         cfg.ROIStopLoss,
		ROITrailingStart:    cfg.ROITrailingStart,
		ROITrailingDistance: cfg.ROITrailingDistance,
		OpenedAt:            openedAt,
	}
}

func TestTrailingStopAfterPeak(t *testing.T) {
	cfg := testConfig()
	opened := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := opened.Add(4 * time.Hour)

	pos := testPosition(domain.SideLong, 100, 5, cfg, opened)
	pos.TakeProfitPrice = 0 // trailing-only

	// ROI walks 0 -> +10 -> +5: the +10 peak arms the trail (start 6),
	// the 5-point retreat fires it.
	if d := CheckExit(pos, 100.0, now, cfg); d != nil {
		t.Fatalf("unexpected exit at entry price: %v", d.Reason)
	}
	if d := CheckExit(pos, 102.0, now, cfg); d != nil {
		t.Fatalf("unexpected exit at peak: %v", d.Reason)
	}
	if math.Abs(pos.PeakROI-10) > 1e-9 {
		t.Fatalf("expected peak ROI 10, got %v", pos.PeakROI)
	}

	d := CheckExit(pos, 101.0, now, cfg)
	if d == nil {
		t.Fatal("expected trailing stop to fire at ROI +5")
	}
	if !strings.HasPrefix(d.Reason, "Trailing stop (+") {
		t.Errorf("unexpected reason: %q", d.Reason)
	}
	if math.Abs(d.ROI-5) > 1e-9 {
		t.Errorf("expected exit ROI 5, got %v", d.ROI)
	}
}

func TestTrailingStopNotArmedBelowStart(t *testing.T) {
	cfg := testConfig()
	opened := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := opened.Add(4 * time.Hour)

	pos := testPosition(domain.SideLong, 100, 5, cfg, opened)
	pos.TakeProfitPrice = 0

	// Peak +5 never reached the +6 start level, a retreat to +1 must
	// not trail out.
	CheckExit(pos, 101.0, now, cfg)
	if d := CheckExit(pos, 100.2, now, cfg); d != nil {
		t.Fatalf("trailing fired without being armed: %v", d.Reason)
	}
}

func TestTakeProfitLong(t *testing.T) {
	cfg := testConfig()
	opened := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := opened.Add(time.Hour)

	pos := testPosition(domain.SideLong, 100, 3, cfg, opened)
	// TP sits at entry * (1 + 6/(3*100)) = 102.
	d := CheckExit(pos, 102.5, now, cfg)
	if d == nil {
		t.Fatal("expected take profit")
	}
	if !strings.HasPrefix(d.Reason, "Take profit") {
		t.Errorf("unexpected reason: %q", d.Reason)
	}
}

func TestMinHoldProtectsStopLoss(t *testing.T) {
	cfg := testConfig()
	opened := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	pos := testPosition(domain.SideLong, 100, 3, cfg, opened)

	// ROI -12 breaches the -10 stop but the position is 1h old: held.
	young := opened.Add(time.Hour)
	if d := CheckExit(pos, 96.0, young, cfg); d != nil {
		t.Fatalf("stop fired inside min hold: %v", d.Reason)
	}

	// Same price once the position matures past 3h: stop fires.
	mature := opened.Add(cfg.MinHold + time.Minute)
	if d := CheckExit(pos, 96.0, mature, cfg); d == nil {
		t.Fatal("expected stop loss after min hold")
	}
}

func TestCatastrophicLossOverridesMinHold(t *testing.T) {
	cfg := testConfig()
	opened := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	young := opened.Add(30 * time.Minute)

	pos := testPosition(domain.SideLong, 100, 3, cfg, opened)

	// ROI -18 is past the -15 catastrophic line, min hold yields.
	d := CheckExit(pos, 94.0, young, cfg)
	if d == nil {
		t.Fatal("expected catastrophic stop inside min hold")
	}
}

func TestMaxHoldForcesExit(t *testing.T) {
	cfg := testConfig()
	opened := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := opened.Add(cfg.MaxHold + time.Hour)

	pos := testPosition(domain.SideLong, 100, 3, cfg, opened)
	d := CheckExit(pos, 100.5, now, cfg)
	if d == nil {
		t.Fatal("expected max hold exit")
	}
	if !strings.HasPrefix(d.Reason, "Max hold time") {
		t.Errorf("unexpected reason: %q", d.Reason)
	}
}

func TestShortStopLoss(t *testing.T) {
	cfg := testConfig()
	opened := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := opened.Add(cfg.MinHold + time.Minute)

	pos := testPosition(domain.SideShort, 100, 3, cfg, opened)
	// Shorts lose when price rises; stop sits above entry.
	if pos.StopLossPrice <= 100 {
		t.Fatalf("short stop must be above entry, got %v", pos.StopLossPrice)
	}
	d := CheckExit(pos, pos.StopLossPrice+0.5, now, cfg)
	if d == nil {
		t.Fatal("expected short stop loss")
	}
}

func TestCalculatePositionSizeTiers(t *testing.T) {
	cfg := testConfig()
	available := 2000.0

	cases := []struct {
		score  int
		margin float64
	}{
		{95, 150},
		{85, 150},
		{82, 250},
		{78, 350},
		{72, 250},
		{65, 150},
		{59, 0},
	}
	for _, tc := range cases {
		margin, leverage := CalculatePositionSize(tc.score, available, cfg, "")
		if margin != tc.margin {
			t.Errorf("score %d: expected margin %v, got %v", tc.score, tc.margin, margin)
		}
		if tc.margin > 0 && leverage != 3 {
			t.Errorf("score %d: expected leverage 3, got %d", tc.score, leverage)
		}
	}
}

func TestCalculatePositionSizeScalesWithCapital(t *testing.T) {
	cfg := testConfig()

	// With only 500 available, the 10% band wins over the 150 cap.
	margin, _ := CalculatePositionSize(65, 500, cfg, "")
	if margin != 50 {
		t.Errorf("expected 50 (10%% of 500), got %v", margin)
	}
}

func TestCalculatePositionSizeTierMultiplier(t *testing.T) {
	cfg := testConfig()

	// ICP is tier 1 (1.3x), an unknown symbol falls to tier 3 (0.7x).
	t1, _ := CalculatePositionSize(65, 5000, cfg, "ICP/USDT")
	t3, _ := CalculatePositionSize(65, 5000, cfg, "NOPE/USDT")
	if t1 != 195 {
		t.Errorf("expected T1 margin 195, got %v", t1)
	}
	if t3 != 105 {
		t.Errorf("expected T3 margin 105, got %v", t3)
	}
}

// Pins the backtest tier table for symbols whose tier is easy to get
// wrong: LTC and TRX sized down, SUI untiered, BTC standard.
func TestCoinTierTable(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		symbol string
		margin float64
	}{
		{"LTC/USDT", 105},
		{"TRX/USDT", 105},
		{"SUI/USDT", 105},
		{"APT/USDT", 105},
		{"BTC/USDT", 150},
		{"XRP/USDT", 150},
	}
	for _, tc := range cases {
		margin, _ := CalculatePositionSize(65, 5000, cfg, tc.symbol)
		if margin != tc.margin {
			t.Errorf("%s: expected margin %v, got %v", tc.symbol, tc.margin, margin)
		}
	}
}

func TestCalcStopTakeShort(t *testing.T) {
	cfg := testConfig()
	st := CalcStopTake(200, domain.SideShort, 2, cfg)

	// ROI stop -10 at 2x = +5% price move against a short.
	if st.StopLoss != 210 {
		t.Errorf("expected short stop at 210, got %v", st.StopLoss)
	}
	if st.TakeProfit != 194 {
		t.Errorf("expected short TP at 194, got %v", st.TakeProfit)
	}
}
