package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
)

type MockAgentRepo struct {
	Agents  map[int64]*domain.Agent
	Configs map[int64]*domain.TradingConfig
}

func NewMockAgentRepo() *MockAgentRepo {
	return &MockAgentRepo{
		Agents:  make(map[int64]*domain.Agent),
		Configs: make(map[int64]*domain.TradingConfig),
	}
}

func (m *MockAgentRepo) SaveAgent(ctx context.Context, agent *domain.Agent) (int64, error) {
	if agent.ID == 0 {
		agent.ID = int64(len(m.Agents) + 1)
	}
	m.Agents[agent.ID] = agent
	return agent.ID, nil
}

func (m *MockAgentRepo) GetAgent(ctx context.Context, id int64) (*domain.Agent, error) {
	return m.Agents[id], nil
}

func (m *MockAgentRepo) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	var out []*domain.Agent
	for _, a := range m.Agents {
		out = append(out, a)
	}
	return out, nil
}

func (m *MockAgentRepo) SaveTradingConfig(ctx context.Context, cfg *domain.TradingConfig) error {
	m.Configs[cfg.AgentID] = cfg
	return nil
}

func (m *MockAgentRepo) GetTradingConfig(ctx context.Context, agentID int64) (*domain.TradingConfig, error) {
	return m.Configs[agentID], nil
}

type MockStateRepo struct {
	mu     sync.Mutex
	States map[int64]*domain.BotState
	Saved  []*domain.BotState
}

func NewMockStateRepo() *MockStateRepo {
	return &MockStateRepo{States: make(map[int64]*domain.BotState)}
}

func (m *MockStateRepo) GetBotState(ctx context.Context, agentID int64) (*domain.BotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.States[agentID], nil
}

func (m *MockStateRepo) SaveBotState(ctx context.Context, state *domain.BotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.States[state.AgentID] = state
	m.Saved = append(m.Saved, state)
	return nil
}

func (m *MockStateRepo) ListBotStates(ctx context.Context) ([]*domain.BotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BotState
	for _, st := range m.States {
		out = append(out, st)
	}
	return out, nil
}

type MockTradeRepo struct {
	mu     sync.Mutex
	nextID int64
	Open   map[int64]*domain.Trade
	Closed []*domain.Trade
	Stats  []float64
	Audit  []*domain.AuditEntry

	ListClosedErr error
}

func NewMockTradeRepo() *MockTradeRepo {
	return &MockTradeRepo{Open: make(map[int64]*domain.Trade)}
}

func (m *MockTradeRepo) SaveTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	trade.ID = m.nextID
	m.Open[trade.ID] = trade
	return trade.ID, nil
}

func (m *MockTradeRepo) CloseTrade(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	open, ok := m.Open[trade.ID]
	if !ok {
		return fmt.Errorf("trade %d is not open", trade.ID)
	}
	open.Status = domain.TradeClosed
	open.ExitPrice = trade.ExitPrice
	open.ExitTime = trade.ExitTime
	open.PnL = trade.PnL
	open.ROI = trade.ROI
	open.Fee = trade.Fee
	open.PeakROI = trade.PeakROI
	open.CloseReason = trade.CloseReason
	delete(m.Open, trade.ID)
	m.Closed = append(m.Closed, open)
	return nil
}

func (m *MockTradeRepo) GetOpenTrade(ctx context.Context, agentID int64, symbol string) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.Open {
		if t.AgentID == agentID && t.Symbol == symbol {
			return t, nil
		}
	}
	return nil, nil
}

func (m *MockTradeRepo) ListOpenTrades(ctx context.Context, agentID int64) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.Open {
		if t.AgentID == agentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockTradeRepo) ListClosedTrades(ctx context.Context, agentID int64) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListClosedErr != nil {
		return nil, m.ListClosedErr
	}
	var out []*domain.Trade
	for _, t := range m.Closed {
		if t.AgentID == agentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockTradeRepo) AddDailyStat(ctx context.Context, agentID int64, day time.Time, pnl, fees float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats = append(m.Stats, pnl)
	return nil
}

func (m *MockTradeRepo) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Audit = append(m.Audit, entry)
	return nil
}

type MockExecutor struct {
	mu          sync.Mutex
	Prices      map[string]float64
	Fee         float64
	OpenCalls   []string
	CloseCalls  []string
	OpenErr     error
	CloseErr    error
	ExchangePos []domain.ExchangePosition
}

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{Prices: make(map[string]float64)}
}

func (m *MockExecutor) Open(ctx context.Context, symbol string, direction domain.Side, margin float64, leverage int) (*domain.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.OpenCalls = append(m.OpenCalls, symbol)
	return &domain.Fill{Price: m.Prices[symbol], Fee: m.Fee, OrderID: "mock-1"}, nil
}

func (m *MockExecutor) Close(ctx context.Context, symbol string, direction domain.Side) (*domain.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CloseErr != nil {
		return nil, m.CloseErr
	}
	m.CloseCalls = append(m.CloseCalls, symbol)
	return &domain.Fill{Price: m.Prices[symbol], Fee: m.Fee, OrderID: "mock-2"}, nil
}

func (m *MockExecutor) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.Prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (m *MockExecutor) OpenPositions(ctx context.Context) ([]domain.ExchangePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExchangePos, nil
}

func (m *MockExecutor) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	m.Prices[symbol] = price
	m.mu.Unlock()
}

type MockSignal struct {
	Signals map[string]domain.Signal
}

func (m *MockSignal) Analyze(ctx context.Context, symbol string, cfg *domain.TradingConfig) domain.Signal {
	return m.Signals[symbol]
}

type MockNotifier struct {
	mu     sync.Mutex
	Events []string
}

func (m *MockNotifier) Notify(ctx context.Context, agentID int64, event, message string) {
	m.mu.Lock()
	m.Events = append(m.Events, event)
	m.mu.Unlock()
}
