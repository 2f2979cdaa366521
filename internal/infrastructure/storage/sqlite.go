package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			trading_enabled BOOLEAN NOT NULL DEFAULT 0,
			credentials_verified BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trading_configs (
			agent_id INTEGER PRIMARY KEY,
			strategy_version TEXT NOT NULL,
			initial_capital REAL NOT NULL,
			max_positions INTEGER NOT NULL,
			max_position_size REAL NOT NULL,
			max_leverage INTEGER NOT NULL,
			min_score INTEGER NOT NULL,
			long_min_score INTEGER NOT NULL,
			cooldown_sec INTEGER NOT NULL,
			roi_stop_loss REAL NOT NULL,
			roi_trailing_start REAL NOT NULL,
			roi_trailing_distance REAL NOT NULL,
			daily_loss_limit REAL NOT NULL,
			max_drawdown_pct REAL NOT NULL,
			min_hold_sec INTEGER NOT NULL,
			max_hold_sec INTEGER NOT NULL,
			catastrophic_roi REAL NOT NULL,
			scan_interval_sec INTEGER NOT NULL,
			fee_rate REAL NOT NULL,
			watchlist TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS bot_state (
			agent_id INTEGER PRIMARY KEY,
			status TEXT NOT NULL,
			last_scan_at DATETIME,
			last_error TEXT NOT NULL DEFAULT '',
			error_count INTEGER NOT NULL DEFAULT 0,
			risk_score INTEGER NOT NULL DEFAULT 0,
			risk_multiplier REAL NOT NULL DEFAULT 1.0,
			peak_capital REAL NOT NULL DEFAULT 0,
			scan_count INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price REAL NOT NULL,
			margin REAL NOT NULL,
			leverage INTEGER NOT NULL,
			stop_loss REAL NOT NULL DEFAULT 0,
			take_profit REAL NOT NULL DEFAULT 0,
			entry_time DATETIME NOT NULL,
			status TEXT NOT NULL,
			exit_price REAL NOT NULL DEFAULT 0,
			exit_time DATETIME,
			pnl REAL NOT NULL DEFAULT 0,
			roi REAL NOT NULL DEFAULT 0,
			fee REAL NOT NULL DEFAULT 0,
			peak_roi REAL NOT NULL DEFAULT 0,
			close_reason TEXT NOT NULL DEFAULT '',
			score INTEGER NOT NULL DEFAULT 0,
			order_id TEXT NOT NULL DEFAULT '',
			strategy_version TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_agent_status ON trades(agent_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_agent_symbol ON trades(agent_id, symbol, status);`,
		`CREATE TABLE IF NOT EXISTS daily_stats (
			agent_id INTEGER NOT NULL,
			day TEXT NOT NULL,
			trades_closed INTEGER NOT NULL DEFAULT 0,
			win_trades INTEGER NOT NULL DEFAULT 0,
			total_pnl REAL NOT NULL DEFAULT 0,
			total_fees REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (agent_id, day)
		);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_log(agent_id, created_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: add columns introduced after the first release.
	// We ignore the error if the column already exists
	_, _ = s.db.Exec(`ALTER TABLE trades ADD COLUMN peak_roi REAL NOT NULL DEFAULT 0`)
	_, _ = s.db.Exec(`ALTER TABLE trades ADD COLUMN strategy_version TEXT NOT NULL DEFAULT ''`)
	_, _ = s.db.Exec(`ALTER TABLE trading_configs ADD COLUMN catastrophic_roi REAL NOT NULL DEFAULT -15`)
	_, _ = s.db.Exec(`ALTER TABLE trading_configs ADD COLUMN watchlist TEXT NOT NULL DEFAULT ''`)

	return nil
}

// AgentRepository Implementation

func (s *SQLiteStore) SaveAgent(ctx context.Context, agent *domain.Agent) (int64, error) {
	if agent.ID != 0 {
		query := `UPDATE agents SET email = ?, is_active = ?, trading_enabled = ?, credentials_verified = ? WHERE id = ?`
		_, err := s.db.ExecContext(ctx, query,
			agent.Email, agent.IsActive, agent.TradingEnabled, agent.CredentialsVerified, agent.ID)
		return agent.ID, err
	}

	query := `INSERT INTO agents (email, is_active, trading_enabled, credentials_verified, created_at)
			  VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		agent.Email, agent.IsActive, agent.TradingEnabled, agent.CredentialsVerified, agent.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id int64) (*domain.Agent, error) {
	query := `SELECT id, email, is_active, trading_enabled, credentials_verified, created_at FROM agents WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var a domain.Agent
	err := row.Scan(&a.ID, &a.Email, &a.IsActive, &a.TradingEnabled, &a.CredentialsVerified, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	query := `SELECT id, email, is_active, trading_enabled, credentials_verified, created_at FROM agents ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.Email, &a.IsActive, &a.TradingEnabled, &a.CredentialsVerified, &a.CreatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

func (s *SQLiteStore) SaveTradingConfig(ctx context.Context, cfg *domain.TradingConfig) error {
	query := `INSERT INTO trading_configs (agent_id, strategy_version, initial_capital, max_positions, max_position_size, max_leverage, min_score, long_min_score, cooldown_sec, roi_stop_loss, roi_trailing_start, roi_trailing_distance, daily_loss_limit, max_drawdown_pct, min_hold_sec, max_hold_sec, catastrophic_roi, scan_interval_sec, fee_rate, watchlist)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(agent_id) DO UPDATE SET
				strategy_version = excluded.strategy_version,
				initial_capital = excluded.initial_capital,
				max_positions = excluded.max_positions,
				max_position_size = excluded.max_position_size,
				max_leverage = excluded.max_leverage,
				min_score = excluded.min_score,
				long_min_score = excluded.long_min_score,
				cooldown_sec = excluded.cooldown_sec,
				roi_stop_loss = excluded.roi_stop_loss,
				roi_trailing_start = excluded.roi_trailing_start,
				roi_trailing_distance = excluded.roi_trailing_distance,
				daily_loss_limit = excluded.daily_loss_limit,
				max_drawdown_pct = excluded.max_drawdown_pct,
				min_hold_sec = excluded.min_hold_sec,
				max_hold_sec = excluded.max_hold_sec,
				catastrophic_roi = excluded.catastrophic_roi,
				scan_interval_sec = excluded.scan_interval_sec,
				fee_rate = excluded.fee_rate,
				watchlist = excluded.watchlist`
	_, err := s.db.ExecContext(ctx, query,
		cfg.AgentID, cfg.StrategyVersion, cfg.InitialCapital, cfg.MaxPositions, cfg.MaxPositionSize,
		cfg.MaxLeverage, cfg.MinScore, cfg.LongMinScore, int64(cfg.Cooldown.Seconds()),
		cfg.ROIStopLoss, cfg.ROITrailingStart, cfg.ROITrailingDistance,
		cfg.DailyLossLimit, cfg.MaxDrawdownPct,
		int64(cfg.MinHold.Seconds()), int64(cfg.MaxHold.Seconds()), cfg.CatastrophicROI,
		int64(cfg.ScanInterval.Seconds()), cfg.FeeRate, strings.Join(cfg.Watchlist, ","))
	return err
}

func (s *SQLiteStore) GetTradingConfig(ctx context.Context, agentID int64) (*domain.TradingConfig, error) {
	query := `SELECT agent_id, strategy_version, initial_capital, max_positions, max_position_size, max_leverage, min_score, long_min_score, cooldown_sec, roi_stop_loss, roi_trailing_start, roi_trailing_distance, daily_loss_limit, max_drawdown_pct, min_hold_sec, max_hold_sec, catastrophic_roi, scan_interval_sec, fee_rate, watchlist
			  FROM trading_configs WHERE agent_id = ?`
	row := s.db.QueryRowContext(ctx, query, agentID)

	var cfg domain.TradingConfig
	var cooldownSec, minHoldSec, maxHoldSec, scanSec int64
	var watchlist string
	err := row.Scan(&cfg.AgentID, &cfg.StrategyVersion, &cfg.InitialCapital, &cfg.MaxPositions,
		&cfg.MaxPositionSize, &cfg.MaxLeverage, &cfg.MinScore, &cfg.LongMinScore, &cooldownSec,
		&cfg.ROIStopLoss, &cfg.ROITrailingStart, &cfg.ROITrailingDistance,
		&cfg.DailyLossLimit, &cfg.MaxDrawdownPct, &minHoldSec, &maxHoldSec, &cfg.CatastrophicROI,
		&scanSec, &cfg.FeeRate, &watchlist)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.Cooldown = time.Duration(cooldownSec) * time.Second
	cfg.MinHold = time.Duration(minHoldSec) * time.Second
	cfg.MaxHold = time.Duration(maxHoldSec) * time.Second
	cfg.ScanInterval = time.Duration(scanSec) * time.Second
	if watchlist != "" {
		cfg.Watchlist = strings.Split(watchlist, ",")
	}
	return &cfg, nil
}

// StateRepository Implementation

func (s *SQLiteStore) GetBotState(ctx context.Context, agentID int64) (*domain.BotState, error) {
	query := `SELECT agent_id, status, last_scan_at, last_error, error_count, risk_score, risk_multiplier, peak_capital, scan_count, started_at, updated_at
			  FROM bot_state WHERE agent_id = ?`
	row := s.db.QueryRowContext(ctx, query, agentID)

	var st domain.BotState
	var lastScan, started sql.NullTime
	err := row.Scan(&st.AgentID, &st.Status, &lastScan, &st.LastError, &st.ErrorCount,
		&st.RiskScore, &st.RiskMultiplier, &st.PeakCapital, &st.ScanCount, &started, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastScan.Valid {
		st.LastScanAt = &lastScan.Time
	}
	if started.Valid {
		st.StartedAt = &started.Time
	}
	return &st, nil
}

func (s *SQLiteStore) SaveBotState(ctx context.Context, state *domain.BotState) error {
	query := `INSERT INTO bot_state (agent_id, status, last_scan_at, last_error, error_count, risk_score, risk_multiplier, peak_capital, scan_count, started_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(agent_id) DO UPDATE SET
				status = excluded.status,
				last_scan_at = COALESCE(excluded.last_scan_at, bot_state.last_scan_at),
				last_error = excluded.last_error,
				error_count = excluded.error_count,
				risk_score = excluded.risk_score,
				risk_multiplier = excluded.risk_multiplier,
				peak_capital = excluded.peak_capital,
				scan_count = excluded.scan_count,
				started_at = COALESCE(excluded.started_at, bot_state.started_at),
				updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		state.AgentID, state.Status, state.LastScanAt, state.LastError, state.ErrorCount,
		state.RiskScore, state.RiskMultiplier, state.PeakCapital, state.ScanCount,
		state.StartedAt, state.UpdatedAt)
	return err
}

func (s *SQLiteStore) ListBotStates(ctx context.Context) ([]*domain.BotState, error) {
	query := `SELECT agent_id, status, last_scan_at, last_error, error_count, risk_score, risk_multiplier, peak_capital, scan_count, started_at, updated_at
			  FROM bot_state ORDER BY agent_id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*domain.BotState
	for rows.Next() {
		var st domain.BotState
		var lastScan, started sql.NullTime
		if err := rows.Scan(&st.AgentID, &st.Status, &lastScan, &st.LastError, &st.ErrorCount,
			&st.RiskScore, &st.RiskMultiplier, &st.PeakCapital, &st.ScanCount, &started, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if lastScan.Valid {
			st.LastScanAt = &lastScan.Time
		}
		if started.Valid {
			st.StartedAt = &started.Time
		}
		states = append(states, &st)
	}
	return states, rows.Err()
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	query := `INSERT INTO trades (agent_id, symbol, direction, entry_price, margin, leverage, stop_loss, take_profit, entry_time, status, fee, score, order_id, strategy_version)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		trade.AgentID, trade.Symbol, trade.Direction, trade.EntryPrice, trade.Margin,
		trade.Leverage, trade.StopLoss, trade.TakeProfit, trade.EntryTime, trade.Status,
		trade.Fee, trade.Score, trade.OrderID, trade.StrategyVersion)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) CloseTrade(ctx context.Context, trade *domain.Trade) error {
	query := `UPDATE trades SET status = ?, exit_price = ?, exit_time = ?, pnl = ?, roi = ?, fee = ?, peak_roi = ?, close_reason = ?
			  WHERE id = ? AND status = 'OPEN'`
	res, err := s.db.ExecContext(ctx, query,
		domain.TradeClosed, trade.ExitPrice, trade.ExitTime, trade.PnL, trade.ROI,
		trade.Fee, trade.PeakROI, trade.CloseReason, trade.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("trade %d is not open", trade.ID)
	}
	return nil
}

func (s *SQLiteStore) GetOpenTrade(ctx context.Context, agentID int64, symbol string) (*domain.Trade, error) {
	query := tradeColumns + ` WHERE agent_id = ? AND symbol = ? AND status = 'OPEN' LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, agentID, symbol)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *SQLiteStore) ListOpenTrades(ctx context.Context, agentID int64) ([]*domain.Trade, error) {
	return s.listTrades(ctx, agentID, string(domain.TradeOpen))
}

func (s *SQLiteStore) ListClosedTrades(ctx context.Context, agentID int64) ([]*domain.Trade, error) {
	return s.listTrades(ctx, agentID, string(domain.TradeClosed))
}

const tradeColumns = `SELECT id, agent_id, symbol, direction, entry_price, margin, leverage, stop_loss, take_profit, entry_time, status, exit_price, exit_time, pnl, roi, fee, peak_roi, close_reason, score, order_id, strategy_version FROM trades`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*domain.Trade, error) {
	var t domain.Trade
	var exitTime sql.NullTime
	err := row.Scan(&t.ID, &t.AgentID, &t.Symbol, &t.Direction, &t.EntryPrice, &t.Margin,
		&t.Leverage, &t.StopLoss, &t.TakeProfit, &t.EntryTime, &t.Status, &t.ExitPrice,
		&exitTime, &t.PnL, &t.ROI, &t.Fee, &t.PeakROI, &t.CloseReason, &t.Score,
		&t.OrderID, &t.StrategyVersion)
	if err != nil {
		return nil, err
	}
	if exitTime.Valid {
		t.ExitTime = &exitTime.Time
	}
	return &t, nil
}

func (s *SQLiteStore) listTrades(ctx context.Context, agentID int64, status string) ([]*domain.Trade, error) {
	// Closed trades come back in exit order so capital-walk consumers
	// can replay them directly.
	order := "entry_time"
	if status == string(domain.TradeClosed) {
		order = "exit_time"
	}
	query := tradeColumns + ` WHERE agent_id = ? AND status = ? ORDER BY ` + order
	rows, err := s.db.QueryContext(ctx, query, agentID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) AddDailyStat(ctx context.Context, agentID int64, day time.Time, pnl, fees float64) error {
	win := 0
	if pnl > 0 {
		win = 1
	}
	query := `INSERT INTO daily_stats (agent_id, day, trades_closed, win_trades, total_pnl, total_fees)
			  VALUES (?, ?, 1, ?, ?, ?)
			  ON CONFLICT(agent_id, day) DO UPDATE SET
				trades_closed = trades_closed + 1,
				win_trades = win_trades + excluded.win_trades,
				total_pnl = total_pnl + excluded.total_pnl,
				total_fees = total_fees + excluded.total_fees`
	_, err := s.db.ExecContext(ctx, query, agentID, day.UTC().Format("2006-01-02"), win, pnl, fees)
	return err
}

func (s *SQLiteStore) GetDailyStats(ctx context.Context, agentID int64, limit int) ([]*domain.DailyStat, error) {
	query := `SELECT agent_id, day, trades_closed, win_trades, total_pnl, total_fees
			  FROM daily_stats WHERE agent_id = ? ORDER BY day DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*domain.DailyStat
	for rows.Next() {
		var d domain.DailyStat
		if err := rows.Scan(&d.AgentID, &d.Day, &d.TradesClosed, &d.WinTrades, &d.TotalPnL, &d.TotalFees); err != nil {
			return nil, err
		}
		stats = append(stats, &d)
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	query := `INSERT INTO audit_log (agent_id, action, details, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, entry.AgentID, entry.Action, entry.Details, entry.CreatedAt)
	return err
}
