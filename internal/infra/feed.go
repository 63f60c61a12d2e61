package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"lend_go/internal/domain"
)

const (
	feedMaxRetries   = 10
	feedBaseDelay    = 1 * time.Second
	feedMaxDelay     = 60 * time.Second
	feedReadTimeout  = 60 * time.Second
	feedDialTimeout  = 10 * time.Second
	feedMaxSymbols   = 50
)

// feedPriceMessage represents one oracle price push.
type feedPriceMessage struct {
	Type      string  `json:"type"`       // 데이터 타입 (price)
	Symbol    string  `json:"symbol"`     // 자산 심볼 (e.g., "KAIA")
	PriceUSD  float64 `json:"price_usd"`  // 현재가 (USD)
	Change24h float64 `json:"change_24h"` // 24시간 변동률 (%)
	Timestamp int64   `json:"timestamp"`  // 수신 타임스탬프 (ms)
}

// FeedWorker streams oracle prices over WebSocket and pushes quotes into
// the market data service's quote channel.
type FeedWorker struct {
	url       string
	symbols   []string
	quoteChan chan<- []*domain.PriceQuote
	metrics   *Metrics
	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewFeedWorker creates a price feed worker for the given symbols.
func NewFeedWorker(url string, symbols []string, quoteChan chan<- []*domain.PriceQuote) *FeedWorker {
	return &FeedWorker{
		url:       url,
		symbols:   symbols,
		quoteChan: quoteChan,
		metrics:   GlobalMetrics,
	}
}

// Connect starts the WebSocket connection with automatic reconnection
func (w *FeedWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.connectionLoop(ctx)

	return nil
}

// connectionLoop handles connection and reconnection with exponential backoff
func (w *FeedWorker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed panic recovered", slog.Any("panic", r))
		}
	}()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Feed connection loop stopped")
			return
		default:
		}

		err := w.connect(ctx)
		if err != nil {
			w.metrics.RecordError()
			slog.Warn("Feed connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
			)

			// Exponential backoff
			delay := w.calculateBackoff(retryCount)
			retryCount++
			if retryCount > feedMaxRetries {
				slog.Error("Feed max retries exceeded, resetting counter")
				retryCount = 0
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		// Connection successful, reset retry counter
		retryCount = 0

		w.readLoop(ctx)
	}
}

// calculateBackoff returns the delay for the current retry attempt
func (w *FeedWorker) calculateBackoff(retryCount int) time.Duration {
	delay := feedBaseDelay * time.Duration(math.Pow(2, float64(retryCount)))
	if delay > feedMaxDelay {
		delay = feedMaxDelay
	}
	return delay
}

// connect establishes WebSocket connection and subscribes to price pushes
func (w *FeedWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: feedDialTimeout,
	}

	header := make(http.Header)
	header.Add("User-Agent", DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, w.url, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	w.metrics.IncrementConnections()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	slog.Info("Feed WebSocket connected",
		slog.Int("symbols", len(w.symbols)),
	)

	return nil
}

// subscribe sends the subscription message for all symbols
func (w *FeedWorker) subscribe() error {
	symbols := w.symbols
	if len(symbols) > feedMaxSymbols {
		slog.Warn("Feed symbol limit exceeded", slog.Int("count", len(symbols)))
		symbols = symbols[:feedMaxSymbols]
	}

	subscribeMsg := map[string]interface{}{
		"op":      "subscribe",
		"channel": "price",
		"symbols": symbols,
		"ticket":  fmt.Sprintf("lend-go-%d", time.Now().UnixNano()),
	}

	msgBytes, err := json.Marshal(subscribeMsg)
	if err != nil {
		return err
	}

	return w.threadSafeWrite(websocket.TextMessage, msgBytes)
}

// threadSafeWrite sends a message to the WebSocket connection in a thread-safe manner
func (w *FeedWorker) threadSafeWrite(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}

	return conn.WriteMessage(messageType, data)
}

// readLoop reads messages from WebSocket
func (w *FeedWorker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Feed WebSocket read error", slog.Any("error", err))
			}
			w.closeConnection()
			return
		}

		w.handleMessage(message)
	}
}

// handleMessage parses and forwards one price push
func (w *FeedWorker) handleMessage(message []byte) {
	var msg feedPriceMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		slog.Debug("Feed message parse error", slog.Any("error", err))
		return
	}

	if msg.Type != "price" || msg.Symbol == "" {
		return
	}
	if msg.PriceUSD <= 0 {
		slog.Debug("Feed dropped non-positive price", slog.String("symbol", msg.Symbol))
		return
	}

	change := decimal.NewFromFloat(msg.Change24h)
	quote := &domain.PriceQuote{
		Symbol:    msg.Symbol,
		Price:     decimal.NewFromFloat(msg.PriceUSD),
		Change24h: &change,
		Source:    "oracle-ws",
	}

	if w.quoteChan != nil {
		select {
		case w.quoteChan <- []*domain.PriceQuote{quote}:
		default:
			slog.Warn("Feed quote channel full, dropping data")
		}
	}
}

// closeConnection safely closes the WebSocket connection
func (w *FeedWorker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	if w.connected {
		w.metrics.DecrementConnections()
	}
	w.connected = false
}

// Disconnect closes the WebSocket connection
func (w *FeedWorker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
	slog.Info("Feed WebSocket disconnected")
}

// IsConnected returns connection status
func (w *FeedWorker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}
