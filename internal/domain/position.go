package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Position is the in-memory view of an open trade together with its
// exit parameters. Exactly one open Position may exist per
// (agent, symbol); the owning loop is the only writer.
type Position struct {
	TradeID    int64
	AgentID    int64
	Symbol     string
	Direction  Side
	EntryPrice float64
	Margin     float64
	Leverage   int

	StopLossPrice   float64
	TakeProfitPrice float64 // 0 means trailing-only mode

	ROIStopLoss         float64
	ROITrailingStart    float64
	ROITrailingDistance float64

	// PeakROI only ever increases while the position is open.
	PeakROI float64

	Score    int
	OpenFee  float64
	OpenedAt time.Time
}

// ROIAt returns the current leveraged ROI percent at the given price.
func (p *Position) ROIAt(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	move := (price - p.EntryPrice) / p.EntryPrice
	if p.Direction == SideShort {
		move = -move
	}
	return move * float64(p.Leverage) * 100
}

type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// Trade is the persisted record of a position. Rows start OPEN and are
// updated exactly once, to CLOSED; closed rows are immutable.
type Trade struct {
	ID         int64
	AgentID    int64
	Symbol     string
	Direction  Side
	EntryPrice float64
	Margin     float64
	Leverage   int
	StopLoss   float64
	TakeProfit float64
	EntryTime  time.Time
	Status     TradeStatus

	ExitPrice   float64
	ExitTime    *time.Time
	PnL         float64
	ROI         float64
	Fee         float64
	PeakROI     float64
	CloseReason string

	Score           int
	OrderID         string
	StrategyVersion string
}

// Fill is the exchange's answer to an order. A nil Fill (with error)
// means "could not execute"; the exchange is the source of truth.
type Fill struct {
	Price   float64
	Fee     float64
	OrderID string
}

// ExchangePosition is a position as reported by the exchange, used for
// ghost-position reconciliation.
type ExchangePosition struct {
	Symbol        string
	Side          Side
	Contracts     float64
	EntryPrice    float64
	UnrealizedPnL float64
}
