package domain

import "time"

// Agent is a tenant account. One trading bot runs per agent.
type Agent struct {
	ID                  int64
	Email               string
	IsActive            bool
	TradingEnabled      bool
	CredentialsVerified bool
	CreatedAt           time.Time
}

// BotStatus reflects the persisted lifecycle state of an agent's bot.
type BotStatus string

const (
	BotStopped BotStatus = "stopped"
	BotRunning BotStatus = "running"
	BotPaused  BotStatus = "paused"
	BotError   BotStatus = "error"
)

// BotState is the persisted status snapshot for one agent's bot.
// It is written only by that agent's own loop and by the supervisor
// on start/stop.
type BotState struct {
	AgentID        int64
	Status         BotStatus
	LastScanAt     *time.Time
	LastError      string
	ErrorCount     int
	RiskScore      int
	RiskMultiplier float64
	PeakCapital    float64
	ScanCount      int64
	StartedAt      *time.Time
	UpdatedAt      time.Time
}

// TradingConfig is the per-agent strategy configuration. It is loaded
// once per loop start and hot-reloaded every few scans; a change never
// applies mid-cycle.
type TradingConfig struct {
	AgentID         int64
	StrategyVersion string

	InitialCapital  float64
	MaxPositions    int
	MaxPositionSize float64
	MaxLeverage     int

	MinScore     int
	LongMinScore int

	Cooldown time.Duration

	// Exit parameters, all in leveraged-ROI percent.
	ROIStopLoss         float64
	ROITrailingStart    float64
	ROITrailingDistance float64

	DailyLossLimit float64
	MaxDrawdownPct float64

	// MinHold suppresses stop-loss exits on very young positions unless
	// ROI has fallen below CatastrophicROI. Both are empirically tuned,
	// see the strategy backtest notes; do not "fix" the values.
	MinHold         time.Duration
	MaxHold         time.Duration
	CatastrophicROI float64

	ScanInterval time.Duration
	FeeRate      float64

	Watchlist []string
}

// DefaultTradingConfig is the single place where strategy defaults live.
func DefaultTradingConfig(agentID int64) *TradingConfig {
	return &TradingConfig{
		AgentID:             agentID,
		StrategyVersion:     "v4.2",
		InitialCapital:      2000,
		MaxPositions:        15,
		MaxPositionSize:     500,
		MaxLeverage:         3,
		MinScore:            60,
		LongMinScore:        70,
		Cooldown:            30 * time.Minute,
		ROIStopLoss:         -10,
		ROITrailingStart:    6,
		ROITrailingDistance: 3,
		DailyLossLimit:      200,
		MaxDrawdownPct:      20,
		MinHold:             3 * time.Hour,
		MaxHold:             48 * time.Hour,
		CatastrophicROI:     -15,
		ScanInterval:        20 * time.Second,
		FeeRate:             0.0005,
	}
}

// DailyStat is a per-day realized PnL rollup, maintained on every close.
type DailyStat struct {
	AgentID      int64
	Day          string // YYYY-MM-DD, UTC
	TradesClosed int
	WinTrades    int
	TotalPnL     float64
	TotalFees    float64
}

// AuditEntry is an append-only audit record.
type AuditEntry struct {
	ID        int64
	AgentID   int64
	Action    string
	Details   string
	CreatedAt time.Time
}
