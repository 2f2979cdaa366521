package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"github.com/hongtouYW/quant-trade-bot/internal/domain"
)

// priceTTL bounds how stale a streamed price may get before we fall
// back to REST.
const priceTTL = 30 * time.Second

type cachedPrice struct {
	price float64
	at    time.Time
}

// BinanceAdapter executes leveraged market orders on Binance USDT-M
// futures and serves prices and candles. Prices come from the mark
// price stream when connected, REST otherwise.
type BinanceAdapter struct {
	client  *futures.Client
	feeRate float64
	logger  *zap.Logger

	mu       sync.Mutex
	prices   map[string]cachedPrice
	leverage map[string]int // last leverage set per symbol, avoids a round trip per order
}

func NewBinanceAdapter(apiKey, apiSecret string, testnet bool, feeRate float64, logger *zap.Logger) *BinanceAdapter {
	futures.UseTestnet = testnet
	return &BinanceAdapter{
		client:   binance.NewFuturesClient(apiKey, apiSecret),
		feeRate:  feeRate,
		logger:   logger,
		prices:   make(map[string]cachedPrice),
		leverage: make(map[string]int),
	}
}

// toExchangeSymbol maps "BTC/USDT" to the wire form "BTCUSDT".
func toExchangeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func fromExchangeSymbol(symbol string) string {
	if strings.HasSuffix(symbol, "USDT") {
		return strings.TrimSuffix(symbol, "USDT") + "/USDT"
	}
	return symbol
}

func (b *BinanceAdapter) setPrice(symbol string, price float64) {
	b.mu.Lock()
	b.prices[symbol] = cachedPrice{price: price, at: time.Now()}
	b.mu.Unlock()
}

func (b *BinanceAdapter) GetPrice(ctx context.Context, symbol string) (float64, error) {
	wire := toExchangeSymbol(symbol)

	b.mu.Lock()
	cached, ok := b.prices[wire]
	b.mu.Unlock()
	if ok && time.Since(cached.at) < priceTTL {
		return cached.price, nil
	}

	res, err := b.client.NewListPricesService().Symbol(wire).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("get price %s: %w", symbol, err)
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	price, err := strconv.ParseFloat(res[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", res[0].Price, err)
	}
	b.setPrice(wire, price)
	return price, nil
}

func (b *BinanceAdapter) ensureLeverage(ctx context.Context, wire string, leverage int) error {
	b.mu.Lock()
	current := b.leverage[wire]
	b.mu.Unlock()
	if current == leverage {
		return nil
	}
	if _, err := b.client.NewChangeLeverageService().Symbol(wire).Leverage(leverage).Do(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	b.leverage[wire] = leverage
	b.mu.Unlock()
	return nil
}

// Open places a market order sized by margin and leverage. The fill
// price comes from the exchange response; the fee is estimated from
// notional since the RESULT response carries no commission.
func (b *BinanceAdapter) Open(ctx context.Context, symbol string, direction domain.Side, margin float64, leverage int) (*domain.Fill, error) {
	wire := toExchangeSymbol(symbol)

	if err := b.ensureLeverage(ctx, wire, leverage); err != nil {
		return nil, fmt.Errorf("set leverage %s: %w", symbol, err)
	}

	price, err := b.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	notional := margin * float64(leverage)
	quantity := notional / price

	side := futures.SideTypeBuy
	if direction == domain.SideShort {
		side = futures.SideTypeSell
	}

	order, err := b.client.NewCreateOrderService().
		Symbol(wire).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(formatQuantity(quantity)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s %s: %w", symbol, direction, err)
	}

	fillPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	if fillPrice == 0 {
		fillPrice = price
	}
	b.logger.Info("order filled",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Int64("order_id", order.OrderID),
		zap.Float64("price", fillPrice))

	return &domain.Fill{
		Price:   fillPrice,
		Fee:     notional * b.feeRate,
		OrderID: strconv.FormatInt(order.OrderID, 10),
	}, nil
}

// Close flattens the whole position with a reduce-only market order in
// the opposite direction.
func (b *BinanceAdapter) Close(ctx context.Context, symbol string, direction domain.Side) (*domain.Fill, error) {
	wire := toExchangeSymbol(symbol)

	risks, err := b.client.NewGetPositionRiskService().Symbol(wire).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("position lookup %s: %w", symbol, err)
	}
	var amount float64
	for _, r := range risks {
		if r.Symbol == wire {
			amount, _ = strconv.ParseFloat(r.PositionAmt, 64)
			break
		}
	}
	if amount == 0 {
		return nil, fmt.Errorf("no position on exchange for %s", symbol)
	}
	if amount < 0 {
		amount = -amount
	}

	side := futures.SideTypeSell
	if direction == domain.SideShort {
		side = futures.SideTypeBuy
	}

	order, err := b.client.NewCreateOrderService().
		Symbol(wire).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(formatQuantity(amount)).
		ReduceOnly(true).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("close %s: %w", symbol, err)
	}

	fillPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	if fillPrice == 0 {
		fillPrice, err = b.GetPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
	}

	return &domain.Fill{
		Price:   fillPrice,
		Fee:     amount * fillPrice * b.feeRate,
		OrderID: strconv.FormatInt(order.OrderID, 10),
	}, nil
}

// OpenPositions lists every non-flat position on the account.
func (b *BinanceAdapter) OpenPositions(ctx context.Context) ([]domain.ExchangePosition, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	var out []domain.ExchangePosition
	for _, r := range risks {
		amount, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amount == 0 {
			continue
		}
		side := domain.SideLong
		if amount < 0 {
			side = domain.SideShort
			amount = -amount
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		upnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		out = append(out, domain.ExchangePosition{
			Symbol:        fromExchangeSymbol(r.Symbol),
			Side:          side,
			Contracts:     amount,
			EntryPrice:    entry,
			UnrealizedPnL: upnl,
		})
	}
	return out, nil
}

// Candles serves OHLCV bars for the signal provider.
func (b *BinanceAdapter) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(toExchangeSymbol(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get klines %s: %w", symbol, err)
	}

	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		cls, _ := strconv.ParseFloat(k.Close, 64)
		vol, _ := strconv.ParseFloat(k.Volume, 64)
		candles = append(candles, domain.Candle{
			Time:   k.OpenTime,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  cls,
			Volume: vol,
		})
	}
	return candles, nil
}

// formatQuantity keeps 3 decimals, which is valid for every symbol on
// the default watchlist. A per-symbol precision table can replace this
// if an exotic pair ever rejects an order.
func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', 3, 64)
}
