package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hongtouYW/quant-trade-bot/internal/infrastructure/exchange"
	"github.com/hongtouYW/quant-trade-bot/internal/infrastructure/logger"
	"github.com/hongtouYW/quant-trade-bot/internal/infrastructure/notify"
	marketsignal "github.com/hongtouYW/quant-trade-bot/internal/infrastructure/signal"
	"github.com/hongtouYW/quant-trade-bot/internal/infrastructure/storage"
	"github.com/hongtouYW/quant-trade-bot/internal/usecase"
	"github.com/hongtouYW/quant-trade-bot/internal/web"
)

type Config struct {
	Exchange struct {
		Testnet    bool    `yaml:"testnet"`
		FeeRate    float64 `yaml:"fee_rate"`
		WSEndpoint string  `yaml:"ws_endpoint"`
	} `yaml:"exchange"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Supervisor struct {
		Autostart bool `yaml:"autostart"`
	} `yaml:"supervisor"`
	Stream struct {
		Symbols []string `yaml:"symbols"`
	} `yaml:"stream"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// Secrets come from the environment, .env is a convenience for dev.
	_ = godotenv.Load()

	// 1. Load Config
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "engine.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange (Binance USDT-M futures)
	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		log.Warn("BINANCE_API_KEY / BINANCE_API_SECRET not set, orders will fail")
	}
	adapter := exchange.NewBinanceAdapter(apiKey, apiSecret, cfg.Exchange.Testnet, cfg.Exchange.FeeRate, log)

	wsURL := cfg.Exchange.WSEndpoint
	if wsURL == "" {
		wsURL = exchange.FuturesWSURL
	}
	streamSymbols := cfg.Stream.Symbols
	if len(streamSymbols) == 0 {
		streamSymbols = usecase.DefaultWatchlist
	}
	stream := exchange.NewPriceStream(adapter, wsURL, streamSymbols, log)
	if err := stream.Start(); err != nil {
		// REST fallback covers prices, the stream just makes them cheap.
		log.Warn("price stream unavailable, falling back to REST", zap.Error(err))
	} else {
		defer stream.Stop()
	}

	// 5. Init Signal Provider and Notifier
	provider := marketsignal.NewMomentumProvider(adapter, log)

	chatID, _ := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)
	notifier := notify.NewTelegramNotifier(os.Getenv("TELEGRAM_BOT_TOKEN"), chatID, log)

	// 6. Init Supervisor
	supervisor := usecase.NewSupervisor(store, store, store, provider, adapter, notifier, log)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Supervisor.Autostart {
		supervisor.AutostartRunning(rootCtx)
	}
	go supervisor.RunWatchdog(rootCtx)

	// 7. Init Web Server
	server := web.NewServer(cfg.Server.Port, supervisor, store, store, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Web server failed", zap.Error(err))
		}
	}()

	// 8. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	supervisor.StopAll(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Web server shutdown failed", zap.Error(err))
	}
	log.Info("Shutdown complete")
}
