package domain

import (
	"context"
	"time"
)

// Signal is a scored trade idea for one symbol. A zero Score means "no
// signal" and also stands in for provider failure: the provider never
// returns an error.
type Signal struct {
	Score     int
	Direction Side
	Price     float64
}

// SignalProvider scores a symbol for entry.
type SignalProvider interface {
	Analyze(ctx context.Context, symbol string, cfg *TradingConfig) Signal
}

// OrderExecutor places and closes leveraged market orders. Any error
// means "could not execute"; callers log and move on, they never treat
// it as fatal.
type OrderExecutor interface {
	Open(ctx context.Context, symbol string, direction Side, margin float64, leverage int) (*Fill, error)
	Close(ctx context.Context, symbol string, direction Side) (*Fill, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	OpenPositions(ctx context.Context) ([]ExchangePosition, error)
}

// Candle is one OHLCV bar, as served by the exchange.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// CandleSource serves historical bars to the signal provider.
type CandleSource interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// AgentRepository defines storage operations for agents and their
// trading configuration.
type AgentRepository interface {
	SaveAgent(ctx context.Context, agent *Agent) (int64, error)
	GetAgent(ctx context.Context, id int64) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)

	SaveTradingConfig(ctx context.Context, cfg *TradingConfig) error
	GetTradingConfig(ctx context.Context, agentID int64) (*TradingConfig, error)
}

// StateRepository defines storage operations for per-agent bot state.
type StateRepository interface {
	GetBotState(ctx context.Context, agentID int64) (*BotState, error)
	SaveBotState(ctx context.Context, state *BotState) error
	ListBotStates(ctx context.Context) ([]*BotState, error)
}

// TradeRepository defines storage operations for trades, daily stats
// and the audit log.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *Trade) (int64, error)
	CloseTrade(ctx context.Context, trade *Trade) error
	GetOpenTrade(ctx context.Context, agentID int64, symbol string) (*Trade, error)
	ListOpenTrades(ctx context.Context, agentID int64) ([]*Trade, error)
	ListClosedTrades(ctx context.Context, agentID int64) ([]*Trade, error)

	AddDailyStat(ctx context.Context, agentID int64, day time.Time, pnl, fees float64) error
	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

// Notifier delivers best-effort event notifications. Implementations
// swallow their own failures; notification must never affect trading.
type Notifier interface {
	Notify(ctx context.Context, agentID int64, event, message string)
}
