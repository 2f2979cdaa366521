package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
	"github.com/hongtouYW/quant-trade-bot/internal/usecase"
)

type Server struct {
	router     *http.ServeMux
	server     *http.Server
	supervisor *usecase.Supervisor
	agentRepo  domain.AgentRepository
	tradeRepo  domain.TradeRepository
	logger     *zap.Logger
}

func NewServer(
	port int,
	supervisor *usecase.Supervisor,
	agentRepo domain.AgentRepository,
	tradeRepo domain.TradeRepository,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		supervisor: supervisor,
		agentRepo:  agentRepo,
		tradeRepo:  tradeRepo,
		logger:     logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Agents
	s.router.HandleFunc("POST /api/agents", s.handleCreateAgent)
	s.router.HandleFunc("GET /api/agents", s.handleListAgents)
	s.router.HandleFunc("GET /api/agents/{id}/config", s.handleGetConfig)
	s.router.HandleFunc("PUT /api/agents/{id}/config", s.handleUpdateConfig)

	// Bot lifecycle
	s.router.HandleFunc("GET /api/bots", s.handleListBots)
	s.router.HandleFunc("POST /api/bots/{id}/start", s.handleStartBot)
	s.router.HandleFunc("POST /api/bots/{id}/stop", s.handleStopBot)
	s.router.HandleFunc("POST /api/bots/{id}/pause", s.handlePauseBot)
	s.router.HandleFunc("POST /api/bots/{id}/resume", s.handleResumeBot)
	s.router.HandleFunc("POST /api/bots/{id}/restart", s.handleRestartBot)
	s.router.HandleFunc("GET /api/bots/{id}/status", s.handleBotStatus)

	// Trades
	s.router.HandleFunc("GET /api/bots/{id}/trades", s.handleListTrades)

	// Operational
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
