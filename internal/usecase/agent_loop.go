package usecase

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
)

const (
	maxOpensPerScan  = 3
	cfgReloadEvery   = 5
	backoffBase      = 60 * time.Second
	backoffCap       = 300 * time.Second
	activityCapacity = 100
	longSkipScore    = 85
	orderPacing      = 2 * time.Second
)

// Activity is one entry of the in-memory event feed surfaced by the
// status endpoint.
type Activity struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// AgentLoop runs one agent's scan cycle. All mutable loop state is
// owned by the Run goroutine; the mutex only covers what the status
// endpoint reads concurrently (positions, cooldowns, activity feed).
type AgentLoop struct {
	agentID int64
	cfg     *domain.TradingConfig

	agents domain.AgentRepository
	states domain.StateRepository
	trades domain.TradeRepository

	signal   domain.SignalProvider
	executor domain.OrderExecutor
	notifier domain.Notifier
	logger   *zap.Logger

	mu        sync.Mutex
	positions map[string]*domain.Position
	cooldowns map[string]time.Time
	activity  []Activity

	paused       atomic.Bool
	scanCount    int64
	consecErrors int
	errorCount   int
	lastLevel    RiskLevel

	// pacing spaces consecutive market orders within one scan.
	pacing time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

func NewAgentLoop(
	agentID int64,
	cfg *domain.TradingConfig,
	agents domain.AgentRepository,
	states domain.StateRepository,
	trades domain.TradeRepository,
	signal domain.SignalProvider,
	executor domain.OrderExecutor,
	notifier domain.Notifier,
	logger *zap.Logger,
) *AgentLoop {
	return &AgentLoop{
		agentID:   agentID,
		cfg:       cfg,
		agents:    agents,
		states:    states,
		trades:    trades,
		signal:    signal,
		executor:  executor,
		notifier:  notifier,
		logger:    logger.With(zap.Int64("agent_id", agentID)),
		positions: make(map[string]*domain.Position),
		cooldowns: make(map[string]time.Time),
		lastLevel: RiskLow,
		pacing:    orderPacing,
		now:       time.Now,
	}
}

// Pause suppresses new entries. Open positions keep being managed.
func (l *AgentLoop) Pause()  { l.paused.Store(true) }
func (l *AgentLoop) Resume() { l.paused.Store(false) }

func (l *AgentLoop) Paused() bool { return l.paused.Load() }

// Positions returns a snapshot of the open book.
func (l *AgentLoop) Positions() []*domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Activities returns the recent event feed, newest last.
func (l *AgentLoop) Activities() []Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Activity, len(l.activity))
	copy(out, l.activity)
	return out
}

func (l *AgentLoop) record(kind, format string, args ...any) {
	a := Activity{Time: l.now(), Kind: kind, Message: fmt.Sprintf(format, args...)}
	l.mu.Lock()
	l.activity = append(l.activity, a)
	if len(l.activity) > activityCapacity {
		l.activity = l.activity[len(l.activity)-activityCapacity:]
	}
	l.mu.Unlock()
}

// Run drives the scan cycle until ctx is cancelled. Each iteration is
// recover-guarded; repeated failures back off exponentially instead of
// hammering the exchange.
func (l *AgentLoop) Run(ctx context.Context) {
	// The lifetime error counter survives restarts.
	if st, err := l.states.GetBotState(ctx, l.agentID); err == nil && st != nil {
		l.errorCount = st.ErrorCount
	}
	if err := l.rehydrate(ctx); err != nil {
		l.logger.Error("failed to rehydrate open positions", zap.Error(err))
	}
	l.reconcile(ctx)

	l.logger.Info("agent loop started",
		zap.String("strategy", l.cfg.StrategyVersion),
		zap.Duration("scan_interval", l.cfg.ScanInterval))

	for {
		err := l.safeScan(ctx)
		if err != nil {
			l.consecErrors++
			scanErrorsTotal.WithLabelValues(l.label()).Inc()
			l.logger.Error("scan failed", zap.Error(err), zap.Int("consecutive", l.consecErrors))
		} else {
			l.consecErrors = 0
		}

		wait := l.cfg.ScanInterval
		if l.consecErrors > 0 {
			wait = backoffFor(l.consecErrors)
		}

		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopping", zap.Int64("scans", l.scanCount))
			return
		case <-time.After(wait):
		}
	}
}

// backoffFor doubles from 60s per consecutive failure, capped at 5m.
func backoffFor(consecutive int) time.Duration {
	d := backoffBase
	for i := 1; i < consecutive; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

func (l *AgentLoop) safeScan(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan panicked: %v", r)
		}
		if err != nil {
			l.recordScanError(ctx, err)
		}
	}()
	return l.scanOnce(ctx)
}

// recordScanError surfaces a failed cycle through the persisted state:
// last_error holds the latest failure, error_count accumulates over
// the bot's lifetime. A later clean scan clears last_error only.
func (l *AgentLoop) recordScanError(ctx context.Context, scanErr error) {
	l.errorCount++
	now := l.now()
	state := &domain.BotState{
		AgentID:    l.agentID,
		Status:     domain.BotRunning,
		LastScanAt: &now,
		LastError:  scanErr.Error(),
		ErrorCount: l.errorCount,
		ScanCount:  l.scanCount,
		UpdatedAt:  now,
	}
	if l.paused.Load() {
		state.Status = domain.BotPaused
	}
	if err := l.states.SaveBotState(ctx, state); err != nil {
		l.logger.Warn("failed to persist scan error", zap.Error(err))
	}
}

func (l *AgentLoop) label() string { return strconv.FormatInt(l.agentID, 10) }

// rehydrate rebuilds the in-memory book from OPEN trades so a restart
// never orphans a position.
func (l *AgentLoop) rehydrate(ctx context.Context) error {
	open, err := l.trades.ListOpenTrades(ctx, l.agentID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range open {
		l.positions[t.Symbol] = &domain.Position{
			TradeID:             t.ID,
			AgentID:             t.AgentID,
			Symbol:              t.Symbol,
			Direction:           t.Direction,
			EntryPrice:          t.EntryPrice,
			Margin:              t.Margin,
			Leverage:            t.Leverage,
			StopLossPrice:       t.StopLoss,
			TakeProfitPrice:     t.TakeProfit,
			ROIStopLoss:         l.cfg.ROIStopLoss,
			ROITrailingStart:    l.cfg.ROITrailingStart,
			ROITrailingDistance: l.cfg.ROITrailingDistance,
			PeakROI:             t.PeakROI,
			Score:               t.Score,
			OpenFee:             t.Fee,
			OpenedAt:            t.EntryTime,
		}
	}
	if len(open) > 0 {
		l.logger.Info("rehydrated open positions", zap.Int("count", len(open)))
	}
	return nil
}

// reconcile cross-checks the local book against the exchange. Ghosts
// are reported loudly but never auto-closed: a wrong automated close
// is worse than a stale row.
func (l *AgentLoop) reconcile(ctx context.Context) {
	exch, err := l.executor.OpenPositions(ctx)
	if err != nil {
		l.logger.Warn("reconciliation skipped, exchange unavailable", zap.Error(err))
		return
	}
	onExchange := make(map[string]bool, len(exch))
	for _, p := range exch {
		onExchange[p.Symbol] = true
	}

	l.mu.Lock()
	local := make(map[string]bool, len(l.positions))
	for sym := range l.positions {
		local[sym] = true
	}
	l.mu.Unlock()

	for sym := range local {
		if !onExchange[sym] {
			l.logger.Warn("ghost position: open in database, absent on exchange", zap.String("symbol", sym))
			l.notifier.Notify(ctx, l.agentID, "ghost_position",
				fmt.Sprintf("⚠️ %s is open in the database but not on the exchange", sym))
			l.record("ghost", "%s open locally but not on exchange", sym)
		}
	}
	for sym := range onExchange {
		if !local[sym] {
			l.logger.Warn("untracked exchange position", zap.String("symbol", sym))
			l.notifier.Notify(ctx, l.agentID, "ghost_position",
				fmt.Sprintf("⚠️ %s is open on the exchange but not tracked", sym))
			l.record("ghost", "%s open on exchange but not tracked", sym)
		}
	}
}

func (l *AgentLoop) scanOnce(ctx context.Context) error {
	l.scanCount++
	scansTotal.WithLabelValues(l.label()).Inc()

	if l.scanCount%cfgReloadEvery == 0 {
		if fresh, err := l.agents.GetTradingConfig(ctx, l.agentID); err == nil && fresh != nil {
			l.cfg = fresh
		}
	}

	// Exits first: open positions are always managed, even paused, and
	// losses realized this cycle must feed the risk gate below.
	l.checkPositions(ctx)

	closed, err := l.trades.ListClosedTrades(ctx, l.agentID)
	if err != nil {
		return fmt.Errorf("load closed trades: %w", err)
	}

	engine := NewRiskEngine(l.cfg)
	metrics := engine.CalculateRiskMetrics(closed, l.Positions(), l.now())
	level, multiplier, _ := RiskLevelFor(metrics.RiskScore)

	riskScoreGauge.WithLabelValues(l.label()).Set(float64(metrics.RiskScore))
	openPositionsGauge.WithLabelValues(l.label()).Set(float64(metrics.PositionCount))

	// Alert once per escalation into HIGH/CRITICAL, not every scan.
	if (level == RiskHigh || level == RiskCritical) && level != l.lastLevel {
		l.logger.Warn("risk level escalated",
			zap.String("level", string(level)), zap.Int("score", metrics.RiskScore))
		l.record("risk", "risk level escalated to %s (score %d)", level, metrics.RiskScore)
		l.notifier.Notify(ctx, l.agentID, "risk_escalation",
			fmt.Sprintf("🚨 Risk level %s (score %d), position sizing at %.0f%%",
				level, metrics.RiskScore, multiplier*100))
	}
	l.lastLevel = level

	if !l.paused.Load() {
		l.openNew(ctx, engine, metrics, multiplier)
	}

	now := l.now()
	state := &domain.BotState{
		AgentID:        l.agentID,
		Status:         domain.BotRunning,
		LastScanAt:     &now,
		ErrorCount:     l.errorCount,
		RiskScore:      metrics.RiskScore,
		RiskMultiplier: multiplier,
		PeakCapital:    metrics.PeakCapital,
		ScanCount:      l.scanCount,
		UpdatedAt:      now,
	}
	if l.paused.Load() {
		state.Status = domain.BotPaused
	}
	if err := l.states.SaveBotState(ctx, state); err != nil {
		l.logger.Warn("failed to persist bot state", zap.Error(err))
	}
	return nil
}

func (l *AgentLoop) checkPositions(ctx context.Context) {
	for _, pos := range l.Positions() {
		price, err := l.executor.GetPrice(ctx, pos.Symbol)
		if err != nil {
			l.logger.Warn("price unavailable", zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}

		// CheckExit ratchets PeakROI on a copy; write it back under lock.
		decision := CheckExit(pos, price, l.now(), l.cfg)
		l.mu.Lock()
		if live, ok := l.positions[pos.Symbol]; ok && live.TradeID == pos.TradeID {
			if pos.PeakROI > live.PeakROI {
				live.PeakROI = pos.PeakROI
			}
		}
		l.mu.Unlock()

		if decision != nil {
			l.closePosition(ctx, pos, decision)
		}
	}
}

// closePosition executes the exchange close first; the database row is
// only flipped to CLOSED once the exchange confirms.
func (l *AgentLoop) closePosition(ctx context.Context, pos *domain.Position, decision *ExitDecision) {
	fill, err := l.executor.Close(ctx, pos.Symbol, pos.Direction)
	if err != nil {
		l.logger.Error("close order failed, position stays open",
			zap.String("symbol", pos.Symbol), zap.Error(err))
		l.record("error", "close failed for %s: %v", pos.Symbol, err)
		return
	}

	now := l.now()
	roi := pos.ROIAt(fill.Price)
	fees := pos.OpenFee + fill.Fee
	pnl := pos.Margin*roi/100 - fees

	trade := &domain.Trade{
		ID:          pos.TradeID,
		AgentID:     l.agentID,
		Symbol:      pos.Symbol,
		ExitPrice:   fill.Price,
		ExitTime:    &now,
		PnL:         pnl,
		ROI:         roi,
		Fee:         fees,
		PeakROI:     pos.PeakROI,
		CloseReason: decision.Reason,
		Status:      domain.TradeClosed,
	}
	if err := l.trades.CloseTrade(ctx, trade); err != nil {
		l.logger.Error("failed to persist close", zap.Int64("trade_id", pos.TradeID), zap.Error(err))
	}
	if err := l.trades.AddDailyStat(ctx, l.agentID, now, pnl, fees); err != nil {
		l.logger.Warn("failed to update daily stats", zap.Error(err))
	}
	l.audit(ctx, "close_position",
		fmt.Sprintf("%s %s pnl=%.2f roi=%.1f%% reason=%q", pos.Symbol, pos.Direction, pnl, roi, decision.Reason))

	l.mu.Lock()
	delete(l.positions, pos.Symbol)
	l.cooldowns[pos.Symbol] = now.Add(l.cfg.Cooldown)
	l.mu.Unlock()

	outcome := "win"
	if pnl < 0 {
		outcome = "loss"
	}
	tradesClosedTotal.WithLabelValues(l.label(), outcome).Inc()

	l.logger.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", decision.Reason),
		zap.Float64("pnl", pnl),
		zap.Float64("roi", roi))
	l.record("close", "%s closed: %s (PnL %+.2f)", pos.Symbol, decision.Reason, pnl)
	l.notifier.Notify(ctx, l.agentID, "position_closed",
		fmt.Sprintf("%s %s closed\n%s\nPnL: %+.2f USDT (ROI %+.1f%%)",
			pos.Symbol, pos.Direction, decision.Reason, pnl, roi))
}

func (l *AgentLoop) openNew(ctx context.Context, engine *RiskEngine, metrics RiskMetrics, multiplier float64) {
	allowed, reason := engine.CheckCanOpen(metrics)
	if !allowed {
		l.logger.Debug("entries blocked", zap.String("reason", reason))
		return
	}

	watchlist := l.cfg.Watchlist
	if len(watchlist) == 0 {
		watchlist = DefaultWatchlist
	}

	opened := 0
	for _, symbol := range watchlist {
		if opened >= maxOpensPerScan {
			break
		}
		if metrics.PositionCount+opened >= l.cfg.MaxPositions {
			break
		}
		if SkipCoins[symbol] {
			continue
		}

		l.mu.Lock()
		_, holding := l.positions[symbol]
		until, cooling := l.cooldowns[symbol]
		l.mu.Unlock()
		if holding {
			continue
		}
		if cooling && l.now().Before(until) {
			continue
		}

		sig := l.signal.Analyze(ctx, symbol, l.cfg)
		if sig.Score < l.cfg.MinScore {
			continue
		}
		if sig.Direction == domain.SideLong {
			// Longs need the stricter bar, and extreme long scores are
			// treated as exhaustion rather than opportunity.
			if sig.Score < l.cfg.LongMinScore || sig.Score >= longSkipScore {
				continue
			}
		}

		if l.openPosition(ctx, symbol, sig, metrics, multiplier) {
			opened++
			if l.pacing > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(l.pacing):
				}
			}
		}
	}
}

func (l *AgentLoop) openPosition(ctx context.Context, symbol string, sig domain.Signal, metrics RiskMetrics, multiplier float64) bool {
	// Dedup against the database, not just memory: two loops must never
	// double-open even across a restart.
	if existing, err := l.trades.GetOpenTrade(ctx, l.agentID, symbol); err != nil {
		l.logger.Warn("open-trade lookup failed", zap.String("symbol", symbol), zap.Error(err))
		return false
	} else if existing != nil {
		return false
	}

	var usedMargin float64
	for _, p := range l.Positions() {
		usedMargin += p.Margin
	}
	available := metrics.CurrentCapital - usedMargin
	if available <= 0 {
		return false
	}

	margin, leverage := CalculatePositionSize(sig.Score, available, l.cfg, symbol)
	if margin == 0 {
		return false
	}
	margin *= multiplier
	if margin < 50 {
		return false
	}
	margin = float64(int(margin))

	fill, err := l.executor.Open(ctx, symbol, sig.Direction, margin, leverage)
	if err != nil {
		l.logger.Error("open order failed", zap.String("symbol", symbol), zap.Error(err))
		l.record("error", "open failed for %s: %v", symbol, err)
		return false
	}

	st := CalcStopTake(fill.Price, sig.Direction, leverage, l.cfg)
	now := l.now()
	trade := &domain.Trade{
		AgentID:         l.agentID,
		Symbol:          symbol,
		Direction:       sig.Direction,
		EntryPrice:      fill.Price,
		Margin:          margin,
		Leverage:        leverage,
		StopLoss:        st.StopLoss,
		TakeProfit:      st.TakeProfit,
		EntryTime:       now,
		Status:          domain.TradeOpen,
		Fee:             fill.Fee,
		Score:           sig.Score,
		OrderID:         fill.OrderID,
		StrategyVersion: l.cfg.StrategyVersion,
	}
	id, err := l.trades.SaveTrade(ctx, trade)
	if err != nil {
		// The exchange position is live but untracked; reconciliation
		// will surface it on the next restart.
		l.logger.Error("failed to persist trade", zap.String("symbol", symbol), zap.Error(err))
	}

	pos := &domain.Position{
		TradeID:             id,
		AgentID:             l.agentID,
		Symbol:              symbol,
		Direction:           sig.Direction,
		EntryPrice:          fill.Price,
		Margin:              margin,
		Leverage:            leverage,
		StopLossPrice:       st.StopLoss,
		TakeProfitPrice:     st.TakeProfit,
		ROIStopLoss:         l.cfg.ROIStopLoss,
		ROITrailingStart:    l.cfg.ROITrailingStart,
		ROITrailingDistance: l.cfg.ROITrailingDistance,
		Score:               sig.Score,
		OpenFee:             fill.Fee,
		OpenedAt:            now,
	}
	l.mu.Lock()
	l.positions[symbol] = pos
	l.mu.Unlock()

	tradesOpenedTotal.WithLabelValues(l.label(), string(sig.Direction)).Inc()
	l.audit(ctx, "open_position",
		fmt.Sprintf("%s %s margin=%.0f lev=%d score=%d entry=%.4f", symbol, sig.Direction, margin, leverage, sig.Score, fill.Price))
	l.logger.Info("position opened",
		zap.String("symbol", symbol),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("margin", margin),
		zap.Int("leverage", leverage),
		zap.Int("score", sig.Score))
	l.record("open", "%s %s opened, margin %.0f @ %dx (score %d)", symbol, sig.Direction, margin, leverage, sig.Score)
	l.notifier.Notify(ctx, l.agentID, "position_opened",
		fmt.Sprintf("%s %s opened\nMargin: %.0f USDT @ %dx\nScore: %d", symbol, sig.Direction, margin, leverage, sig.Score))
	return true
}

func (l *AgentLoop) audit(ctx context.Context, action, details string) {
	entry := &domain.AuditEntry{
		AgentID:   l.agentID,
		Action:    action,
		Details:   details,
		CreatedAt: l.now(),
	}
	if err := l.trades.AppendAudit(ctx, entry); err != nil {
		l.logger.Warn("audit append failed", zap.Error(err))
	}
}
