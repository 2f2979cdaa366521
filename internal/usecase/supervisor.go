package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
)

const (
	stopTimeout     = 10 * time.Second
	watchdogPeriod  = 30 * time.Second
	restartWindow   = 5 * time.Minute
	restartsAllowed = 3
)

// botHandle tracks one running loop. done is closed by the loop
// goroutine itself, so a dead handle is always detectable.
type botHandle struct {
	loop   *AgentLoop
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the lifecycle of every agent's trading loop. The
// mutex protects the registry only and is never held across exchange
// or database calls.
type Supervisor struct {
	agents   domain.AgentRepository
	states   domain.StateRepository
	trades   domain.TradeRepository
	signal   domain.SignalProvider
	executor domain.OrderExecutor
	notifier domain.Notifier
	logger   *zap.Logger

	mu       sync.Mutex
	bots     map[int64]*botHandle
	restarts map[int64][]time.Time

	// runLoop is replaceable in tests.
	runLoop func(ctx context.Context, loop *AgentLoop)
	now     func() time.Time
}

func NewSupervisor(
	agents domain.AgentRepository,
	states domain.StateRepository,
	trades domain.TradeRepository,
	signal domain.SignalProvider,
	executor domain.OrderExecutor,
	notifier domain.Notifier,
	logger *zap.Logger,
) *Supervisor {
	return &Supervisor{
		agents:   agents,
		states:   states,
		trades:   trades,
		signal:   signal,
		executor: executor,
		notifier: notifier,
		logger:   logger,
		bots:     make(map[int64]*botHandle),
		restarts: make(map[int64][]time.Time),
		runLoop:  func(ctx context.Context, loop *AgentLoop) { loop.Run(ctx) },
		now:      time.Now,
	}
}

// Start launches the loop for an agent after checking eligibility.
// The returned message is user-facing.
func (s *Supervisor) Start(ctx context.Context, agentID int64) (bool, string) {
	s.mu.Lock()
	if _, running := s.bots[agentID]; running {
		s.mu.Unlock()
		return false, "Bot is already running"
	}
	s.mu.Unlock()

	agent, err := s.agents.GetAgent(ctx, agentID)
	if err != nil || agent == nil {
		return false, "Agent not found"
	}
	if !agent.IsActive {
		return false, "Agent account is deactivated"
	}
	if !agent.TradingEnabled {
		return false, "Trading not enabled by admin"
	}
	if !agent.CredentialsVerified {
		return false, "API keys not configured or not verified"
	}

	cfg, err := s.agents.GetTradingConfig(ctx, agentID)
	if err != nil || cfg == nil {
		cfg = domain.DefaultTradingConfig(agentID)
	}

	loop := NewAgentLoop(agentID, cfg, s.agents, s.states, s.trades, s.signal, s.executor, s.notifier, s.logger)
	loopCtx, cancel := context.WithCancel(context.Background())
	handle := &botHandle{loop: loop, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if _, running := s.bots[agentID]; running {
		s.mu.Unlock()
		cancel()
		return false, "Bot is already running"
	}
	s.bots[agentID] = handle
	runningBotsGauge.Set(float64(len(s.bots)))
	s.mu.Unlock()

	go func() {
		defer close(handle.done)
		s.runLoop(loopCtx, loop)
	}()

	now := s.now()
	if err := s.states.SaveBotState(ctx, &domain.BotState{
		AgentID:   agentID,
		Status:    domain.BotRunning,
		StartedAt: &now,
		UpdatedAt: now,
	}); err != nil {
		s.logger.Warn("failed to persist bot state", zap.Int64("agent_id", agentID), zap.Error(err))
	}

	s.logger.Info("bot started", zap.Int64("agent_id", agentID))
	s.notifier.Notify(ctx, agentID, "bot_started", "🟢 Trading bot started")
	return true, "Bot started"
}

// Stop cancels an agent's loop and waits for it to drain, bounded by
// stopTimeout. A loop that does not exit in time is abandoned: its
// handle is dropped so the slot frees up, and the leak is logged.
func (s *Supervisor) Stop(ctx context.Context, agentID int64) (bool, string) {
	s.mu.Lock()
	handle, running := s.bots[agentID]
	if !running {
		s.mu.Unlock()
		return false, "Bot is not running"
	}
	delete(s.bots, agentID)
	runningBotsGauge.Set(float64(len(s.bots)))
	s.mu.Unlock()

	handle.cancel()
	select {
	case <-handle.done:
	case <-time.After(stopTimeout):
		s.logger.Error("loop did not stop in time, abandoning", zap.Int64("agent_id", agentID))
	}

	now := s.now()
	if err := s.states.SaveBotState(ctx, &domain.BotState{
		AgentID:   agentID,
		Status:    domain.BotStopped,
		UpdatedAt: now,
	}); err != nil {
		s.logger.Warn("failed to persist bot state", zap.Int64("agent_id", agentID), zap.Error(err))
	}

	s.logger.Info("bot stopped", zap.Int64("agent_id", agentID))
	s.notifier.Notify(ctx, agentID, "bot_stopped", "🔴 Trading bot stopped")
	return true, "Bot stopped"
}

// Pause keeps the loop alive but blocks new entries.
func (s *Supervisor) Pause(ctx context.Context, agentID int64) (bool, string) {
	s.mu.Lock()
	handle, running := s.bots[agentID]
	s.mu.Unlock()
	if !running {
		return false, "Bot is not running"
	}
	handle.loop.Pause()
	s.logger.Info("bot paused", zap.Int64("agent_id", agentID))
	s.notifier.Notify(ctx, agentID, "bot_paused", "⏸ Trading paused: positions managed, no new entries")
	return true, "Bot paused"
}

func (s *Supervisor) Resume(ctx context.Context, agentID int64) (bool, string) {
	s.mu.Lock()
	handle, running := s.bots[agentID]
	s.mu.Unlock()
	if !running {
		return false, "Bot is not running"
	}
	if !handle.loop.Paused() {
		return false, "Bot is not paused"
	}
	handle.loop.Resume()
	s.logger.Info("bot resumed", zap.Int64("agent_id", agentID))
	s.notifier.Notify(ctx, agentID, "bot_resumed", "▶️ Trading resumed")
	return true, "Bot resumed"
}

// Restart is stop-then-start. A bot that was not running just starts.
func (s *Supervisor) Restart(ctx context.Context, agentID int64) (bool, string) {
	s.Stop(ctx, agentID)
	ok, msg := s.Start(ctx, agentID)
	if ok {
		msg = "Bot restarted"
	}
	return ok, msg
}

// BotStatusView is the composite status view served by the API.
type BotStatusView struct {
	AgentID   int64              `json:"agent_id"`
	Running   bool               `json:"running"`
	Paused    bool               `json:"paused"`
	State     *domain.BotState   `json:"state,omitempty"`
	Positions []*domain.Position `json:"positions,omitempty"`
	Activity  []Activity         `json:"activity,omitempty"`
}

func (s *Supervisor) Status(ctx context.Context, agentID int64) *BotStatusView {
	s.mu.Lock()
	handle, running := s.bots[agentID]
	s.mu.Unlock()

	view := &BotStatusView{AgentID: agentID, Running: running}
	if running {
		view.Paused = handle.loop.Paused()
		view.Positions = handle.loop.Positions()
		view.Activity = handle.loop.Activities()
	}
	if state, err := s.states.GetBotState(ctx, agentID); err == nil {
		view.State = state
	}
	return view
}

// ListAll returns a status view per known agent, sorted by ID.
func (s *Supervisor) ListAll(ctx context.Context) []*BotStatusView {
	seen := make(map[int64]bool)
	var ids []int64

	if states, err := s.states.ListBotStates(ctx); err == nil {
		for _, st := range states {
			if !seen[st.AgentID] {
				seen[st.AgentID] = true
				ids = append(ids, st.AgentID)
			}
		}
	}
	s.mu.Lock()
	for id := range s.bots {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*BotStatusView, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Status(ctx, id))
	}
	return out
}

// Running reports whether an agent's loop is registered.
func (s *Supervisor) Running(agentID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bots[agentID]
	return ok
}

// StopAll drains every loop, used on shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	var ids []int64
	for id := range s.bots {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Stop(ctx, id)
	}
}

// AutostartRunning relaunches every bot whose persisted status says it
// was running before the process died.
func (s *Supervisor) AutostartRunning(ctx context.Context) {
	states, err := s.states.ListBotStates(ctx)
	if err != nil {
		s.logger.Error("autostart skipped", zap.Error(err))
		return
	}
	for _, st := range states {
		if st.Status != domain.BotRunning && st.Status != domain.BotPaused {
			continue
		}
		ok, msg := s.Start(ctx, st.AgentID)
		if !ok {
			s.logger.Warn("autostart refused", zap.Int64("agent_id", st.AgentID), zap.String("reason", msg))
			continue
		}
		if st.Status == domain.BotPaused {
			s.Pause(ctx, st.AgentID)
		}
	}
}

// RunWatchdog scans for dead loops every watchdogPeriod until ctx is
// cancelled. A loop whose goroutine exited without a Stop call is a
// crash: it gets restarted, unless it is crash-looping.
func (s *Supervisor) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(watchdogPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Supervisor) sweep(ctx context.Context) {
	s.mu.Lock()
	var crashed []int64
	for id, handle := range s.bots {
		select {
		case <-handle.done:
			crashed = append(crashed, id)
			delete(s.bots, id)
		default:
		}
	}
	runningBotsGauge.Set(float64(len(s.bots)))
	s.mu.Unlock()

	for _, id := range crashed {
		s.handleCrash(ctx, id)
	}
}

func (s *Supervisor) handleCrash(ctx context.Context, agentID int64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("watchdog recovery panicked", zap.Int64("agent_id", agentID), zap.Any("panic", r))
		}
	}()

	s.logger.Error("bot loop crashed", zap.Int64("agent_id", agentID))

	if !s.allowRestart(agentID) {
		now := s.now()
		if err := s.states.SaveBotState(ctx, &domain.BotState{
			AgentID:   agentID,
			Status:    domain.BotError,
			LastError: fmt.Sprintf("crash loop detected: %d restarts within %s", restartsAllowed, restartWindow),
			UpdatedAt: now,
		}); err != nil {
			s.logger.Warn("failed to persist error state", zap.Int64("agent_id", agentID), zap.Error(err))
		}
		s.notifier.Notify(ctx, agentID, "crash_loop",
			"🚨 Bot is crash-looping and has been disabled; manual restart required")
		return
	}

	ok, msg := s.Start(ctx, agentID)
	if ok {
		watchdogRestartsTotal.Inc()
		s.logger.Info("crashed bot restarted", zap.Int64("agent_id", agentID))
		return
	}

	// A refused restart is terminal: nothing will retry this agent, so
	// the persisted status must say so instead of a stale "running".
	s.logger.Warn("crashed bot could not be restarted",
		zap.Int64("agent_id", agentID), zap.String("reason", msg))
	if err := s.states.SaveBotState(ctx, &domain.BotState{
		AgentID:   agentID,
		Status:    domain.BotError,
		LastError: fmt.Sprintf("restart failed: %s", msg),
		UpdatedAt: s.now(),
	}); err != nil {
		s.logger.Warn("failed to persist error state", zap.Int64("agent_id", agentID), zap.Error(err))
	}
	s.notifier.Notify(ctx, agentID, "restart_failed",
		fmt.Sprintf("🚨 Bot crashed and could not be restarted: %s", msg))
}

// allowRestart records the attempt and enforces the sliding window:
// at most restartsAllowed automatic restarts per restartWindow.
func (s *Supervisor) allowRestart(agentID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-restartWindow)
	recent := s.restarts[agentID][:0]
	for _, t := range s.restarts[agentID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= restartsAllowed {
		s.restarts[agentID] = recent
		return false
	}
	s.restarts[agentID] = append(recent, now)
	return true
}
