package exchange

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	FuturesWSURL    = "wss://fstream.binance.com/ws"
	wsReconnectWait = 5 * time.Second
)

// PriceStream keeps the adapter's price cache warm from the combined
// mark price websocket feed. It reconnects forever until Stop.
type PriceStream struct {
	adapter *BinanceAdapter
	wsURL   string
	symbols []string
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

func NewPriceStream(adapter *BinanceAdapter, wsURL string, symbols []string, logger *zap.Logger) *PriceStream {
	return &PriceStream{
		adapter: adapter,
		wsURL:   wsURL,
		symbols: symbols,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start connects and launches the read loop.
func (p *PriceStream) Start() error {
	conn, _, err := websocket.DefaultDialer.Dial(p.wsURL, nil)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	if err := p.subscribe(conn); err != nil {
		conn.Close()
		return err
	}

	go p.readLoop(conn)
	return nil
}

func (p *PriceStream) Stop() {
	p.mu.Lock()
	p.closed = true
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	<-p.done
}

func (p *PriceStream) subscribe(conn *websocket.Conn) error {
	params := make([]string, 0, len(p.symbols))
	for _, s := range p.symbols {
		params = append(params, strings.ToLower(toExchangeSymbol(s))+"@markPrice")
	}
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     1,
	}
	return conn.WriteJSON(msg)
}

func (p *PriceStream) readLoop(conn *websocket.Conn) {
	defer close(p.done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()

			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}

			p.logger.Warn("price stream read failed, reconnecting", zap.Error(err))
			conn = p.reconnect()
			if conn == nil {
				return
			}
			continue
		}

		var event struct {
			EventType string `json:"e"`
			Symbol    string `json:"s"`
			MarkPrice string `json:"p"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if event.EventType != "markPriceUpdate" {
			continue
		}

		price, err := strconv.ParseFloat(event.MarkPrice, 64)
		if err != nil || price == 0 {
			continue
		}
		p.adapter.setPrice(event.Symbol, price)
	}
}

// reconnect retries until it gets a subscribed connection or Stop is
// called. Returns nil only when stopping.
func (p *PriceStream) reconnect() *websocket.Conn {
	for {
		time.Sleep(wsReconnectWait)

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		conn, _, err := websocket.DefaultDialer.Dial(p.wsURL, nil)
		if err != nil {
			p.logger.Warn("price stream reconnect failed", zap.Error(err))
			continue
		}
		if err := p.subscribe(conn); err != nil {
			conn.Close()
			continue
		}

		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()

		p.logger.Info("price stream reconnected")
		return conn
	}
}
