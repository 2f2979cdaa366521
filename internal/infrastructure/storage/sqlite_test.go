package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAgentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.SaveAgent(ctx, &domain.Agent{
		Email:          "trader@example.com",
		IsActive:       true,
		TradingEnabled: true,
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := store.GetAgent(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "trader@example.com", got.Email)
	require.True(t, got.IsActive)
	require.False(t, got.CredentialsVerified)

	// Update by ID.
	got.CredentialsVerified = true
	_, err = store.SaveAgent(ctx, got)
	require.NoError(t, err)

	got, err = store.GetAgent(ctx, id)
	require.NoError(t, err)
	require.True(t, got.CredentialsVerified)
}

func TestGetAgentMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetAgent(context.Background(), 999)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTradingConfigRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := domain.DefaultTradingConfig(1)
	cfg.Watchlist = []string{"BTC/USDT", "ETH/USDT"}
	require.NoError(t, store.SaveTradingConfig(ctx, cfg))

	got, err := store.GetTradingConfig(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, cfg.InitialCapital, got.InitialCapital)
	require.Equal(t, cfg.Cooldown, got.Cooldown)
	require.Equal(t, cfg.MinHold, got.MinHold)
	require.Equal(t, cfg.CatastrophicROI, got.CatastrophicROI)
	require.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, got.Watchlist)

	// Upsert replaces the row.
	cfg.MinScore = 80
	require.NoError(t, store.SaveTradingConfig(ctx, cfg))
	got, err = store.GetTradingConfig(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 80, got.MinScore)
}

func TestBotStateUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveBotState(ctx, &domain.BotState{
		AgentID:   1,
		Status:    domain.BotRunning,
		StartedAt: &started,
		UpdatedAt: started,
	}))

	// A later snapshot without StartedAt must not erase it.
	later := started.Add(time.Minute)
	require.NoError(t, store.SaveBotState(ctx, &domain.BotState{
		AgentID:   1,
		Status:    domain.BotRunning,
		RiskScore: 3,
		ScanCount: 12,
		UpdatedAt: later,
	}))

	got, err := store.GetBotState(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, domain.BotRunning, got.Status)
	require.Equal(t, 3, got.RiskScore)
	require.Equal(t, int64(12), got.ScanCount)
	require.NotNil(t, got.StartedAt)
	require.True(t, got.StartedAt.Equal(started))
}

func TestTradeLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	id, err := store.SaveTrade(ctx, &domain.Trade{
		AgentID:    1,
		Symbol:     "BTC/USDT",
		Direction:  domain.SideLong,
		EntryPrice: 50000,
		Margin:     200,
		Leverage:   3,
		StopLoss:   48333,
		TakeProfit: 51000,
		EntryTime:  entry,
		Status:     domain.TradeOpen,
		Score:      78,
	})
	require.NoError(t, err)

	open, err := store.GetOpenTrade(ctx, 1, "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, open)
	require.Equal(t, id, open.ID)

	// A different agent sees nothing.
	other, err := store.GetOpenTrade(ctx, 2, "BTC/USDT")
	require.NoError(t, err)
	require.Nil(t, other)

	exit := entry.Add(5 * time.Hour)
	require.NoError(t, store.CloseTrade(ctx, &domain.Trade{
		ID:          id,
		ExitPrice:   51000,
		ExitTime:    &exit,
		PnL:         11.8,
		ROI:         6.0,
		Fee:         0.6,
		PeakROI:     6.5,
		CloseReason: "Take profit (ROI +6.0%)",
	}))

	// Closing twice is an error: closed rows are immutable.
	require.Error(t, store.CloseTrade(ctx, &domain.Trade{ID: id}))

	open, err = store.GetOpenTrade(ctx, 1, "BTC/USDT")
	require.NoError(t, err)
	require.Nil(t, open)

	closed, err := store.ListClosedTrades(ctx, 1)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	require.Equal(t, "Take profit (ROI +6.0%)", closed[0].CloseReason)
	require.Equal(t, 6.5, closed[0].PeakROI)
	require.NotNil(t, closed[0].ExitTime)
}

func TestDailyStatsAccumulate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.AddDailyStat(ctx, 1, day, 25.0, 0.5))
	require.NoError(t, store.AddDailyStat(ctx, 1, day.Add(2*time.Hour), -10.0, 0.5))

	stats, err := store.GetDailyStats(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, 2, stats[0].TradesClosed)
	require.Equal(t, 1, stats[0].WinTrades)
	require.InDelta(t, 15.0, stats[0].TotalPnL, 1e-9)
	require.InDelta(t, 1.0, stats[0].TotalFees, 1e-9)
}

func TestAppendAudit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendAudit(ctx, &domain.AuditEntry{
		AgentID:   1,
		Action:    "open_position",
		Details:   "BTC/USDT LONG margin=200",
		CreatedAt: time.Now().UTC(),
	}))
}
