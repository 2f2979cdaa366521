package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
)

type actionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeAction(w http.ResponseWriter, ok bool, message string) {
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, actionResponse{OK: ok, Message: message})
}

func agentIDFromPath(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// --- Agents ---

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email               string `json:"email"`
		TradingEnabled      bool   `json:"trading_enabled"`
		CredentialsVerified bool   `json:"credentials_verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	agent := &domain.Agent{
		Email:               req.Email,
		IsActive:            true,
		TradingEnabled:      req.TradingEnabled,
		CredentialsVerified: req.CredentialsVerified,
		CreatedAt:           time.Now(),
	}
	id, err := s.agentRepo.SaveAgent(r.Context(), agent)
	if err != nil {
		s.logger.Error("Failed to create agent", zap.Error(err))
		http.Error(w, "Failed to create agent", http.StatusInternalServerError)
		return
	}
	agent.ID = id

	// Every agent gets the default strategy config on creation.
	if err := s.agentRepo.SaveTradingConfig(r.Context(), domain.DefaultTradingConfig(id)); err != nil {
		s.logger.Error("Failed to save default config", zap.Int64("agent_id", id), zap.Error(err))
	}

	s.writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agentRepo.ListAgents(r.Context())
	if err != nil {
		s.logger.Error("Failed to list agents", zap.Error(err))
		http.Error(w, "Failed to list agents", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := agentIDFromPath(r)
	if !ok {
		http.Error(w, "Invalid agent id", http.StatusBadRequest)
		return
	}
	cfg, err := s.agentRepo.GetTradingConfig(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to load config", zap.Int64("agent_id", id), zap.Error(err))
		http.Error(w, "Failed to load config", http.StatusInternalServerError)
		return
	}
	if cfg == nil {
		http.Error(w, "Config not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := agentIDFromPath(r)
	if !ok {
		http.Error(w, "Invalid agent id", http.StatusBadRequest)
		return
	}
	var cfg domain.TradingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	cfg.AgentID = id
	if err := s.agentRepo.SaveTradingConfig(r.Context(), &cfg); err != nil {
		s.logger.Error("Failed to save config", zap.Int64("agent_id", id), zap.Error(err))
		http.Error(w, "Failed to save config", http.StatusInternalServerError)
		return
	}
	// Running loops pick this up on their next reload cycle.
	s.writeAction(w, true, "Config updated")
}

// --- Bot lifecycle ---

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.supervisor.ListAll(r.Context()))
}

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request) {
	id, valid := agentIDFromPath(r)
	if !valid {
		http.Error(w, "Invalid agent id", http.StatusBadRequest)
		return
	}
	ok, msg := s.supervisor.Start(r.Context(), id)
	s.writeAction(w, ok, msg)
}

func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request) {
	id, valid := agentIDFromPath(r)
	if !valid {
		http.Error(w, "Invalid agent id", http.StatusBadRequest)
		return
	}
	ok, msg := s.supervisor.Stop(r.Context(), id)
	s.writeAction(w, ok, msg)
}

func (s *Server) handlePauseBot(w http.ResponseWriter, r *http.Request) {
	id, valid := agentIDFromPath(r)
	if !valid {
		http.Error(w, "Invalid agent id", http.StatusBadRequest)
		return
	}
	ok, msg := s.supervisor.Pause(r.Context(), id)
	s.writeAction(w, ok, msg)
}

func (s *Server) handleResumeBot(w http.ResponseWriter, r *http.Request) {
	id, valid := agentIDFromPath(r)
	if !valid {
		http.Error(w, "Invalid agent id", http.StatusBadRequest)
		return
	}
	ok, msg := s.supervisor.Resume(r.Context(), id)
	s.writeAction(w, ok, msg)
}

func (s *Server) handleRestartBot(w http.ResponseWriter, r *http.Request) {
	id, valid := agentIDFromPath(r)
	if !valid {
		http.Error(w, "Invalid agent id", http.StatusBadRequest)
		return
	}
	ok, msg := s.supervisor.Restart(r.Context(), id)
	s.writeAction(w, ok, msg)
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	id, valid := agentIDFromPath(r)
	if !valid {
		http.Error(w, "Invalid agent id", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, s.supervisor.Status(r.Context(), id))
}

// --- Trades ---

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	id, valid := agentIDFromPath(r)
	if !valid {
		http.Error(w, "Invalid agent id", http.StatusBadRequest)
		return
	}

	var trades []*domain.Trade
	var err error
	if r.URL.Query().Get("status") == "open" {
		trades, err = s.tradeRepo.ListOpenTrades(r.Context(), id)
	} else {
		trades, err = s.tradeRepo.ListClosedTrades(r.Context(), id)
	}
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Int64("agent_id", id), zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

// --- Operational ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
