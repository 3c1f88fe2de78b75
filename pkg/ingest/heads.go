package ingest

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Connection settings
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
	reconnectBackoff      = 2.0
	pingInterval          = 30 * time.Second
	connectionTimeout     = 60 * time.Second
	writeTimeout          = 10 * time.Second

	defaultHeadBuffer = 64
)

// HeadFeed subscribes to newHeads over a websocket JSON-RPC endpoint and
// reconnects automatically. Heads are delivered on a buffered channel; when
// the consumer falls behind, heads are dropped since the watcher always
// catches up to the latest block on its next step.
type HeadFeed struct {
	url    string
	heads  chan Head
	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	// Stats
	messagesReceived uint64
	headsParsed      uint64
	headsDropped     uint64
	errors           uint64
	reconnects       uint64

	// State
	running   atomic.Bool
	connected atomic.Bool
}

// NewHeadFeed creates a feed for the websocket endpoint at url.
func NewHeadFeed(url string, bufferSize int, logger *slog.Logger) *HeadFeed {
	if bufferSize <= 0 {
		bufferSize = defaultHeadBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeadFeed{
		url:    url,
		heads:  make(chan Head, bufferSize),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("component", "head_feed")),
	}
}

// Heads returns the channel of new heads. It is closed by Stop.
func (f *HeadFeed) Heads() <-chan Head {
	return f.heads
}

// Start begins the websocket connection in a goroutine.
func (f *HeadFeed) Start() {
	if f.running.Swap(true) {
		f.logger.Warn("head feed already running")
		return
	}

	f.wg.Add(1)
	go f.runLoop()
	f.logger.Info("head feed started", slog.String("url", f.url))
}

// Stop gracefully shuts down the feed and closes the heads channel.
func (f *HeadFeed) Stop() {
	if !f.running.Swap(false) {
		return
	}
	close(f.done)
	f.wg.Wait()
	close(f.heads)
	f.logger.Info("head feed stopped")
}

// Stats returns current statistics.
func (f *HeadFeed) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connected":         f.connected.Load(),
		"messages_received": atomic.LoadUint64(&f.messagesReceived),
		"heads_parsed":      atomic.LoadUint64(&f.headsParsed),
		"heads_dropped":     atomic.LoadUint64(&f.headsDropped),
		"errors":            atomic.LoadUint64(&f.errors),
		"reconnects":        atomic.LoadUint64(&f.reconnects),
	}
}

func (f *HeadFeed) runLoop() {
	defer f.wg.Done()

	reconnectDelay := initialReconnectDelay

	for f.running.Load() {
		err := f.connectAndStream()
		if err != nil {
			atomic.AddUint64(&f.errors, 1)
			atomic.AddUint64(&f.reconnects, 1)
			f.logger.Warn("connection error, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("delay", reconnectDelay),
			)
		}

		select {
		case <-f.done:
			return
		case <-time.After(reconnectDelay):
			// Exponential backoff
			reconnectDelay = time.Duration(float64(reconnectDelay) * reconnectBackoff)
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
		}
	}
}

func (f *HeadFeed) connectAndStream() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: connectionTimeout,
	}

	f.logger.Info("connecting to head feed")
	conn, _, err := dialer.Dial(f.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	subscribeMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(connectionTimeout))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read subscribe reply: %w", err)
	}
	subID, err := parseSubscribeReply(reply)
	if err != nil {
		return err
	}
	conn.SetReadDeadline(time.Time{})

	f.connected.Store(true)
	defer f.connected.Store(false)
	f.logger.Info("subscribed to new heads", slog.String("subscription", subID))

	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-f.done:
				// Close connection to unblock ReadMessage
				conn.Close()
				return
			}
		}
	}()
	defer close(pingDone)

	for f.running.Load() {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if !f.running.Load() {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		if messageType != websocket.TextMessage {
			continue
		}
		atomic.AddUint64(&f.messagesReceived, 1)

		head, err := ParseHeadNotification(message)
		if err != nil {
			atomic.AddUint64(&f.errors, 1)
			f.logger.Debug("parse error", slog.String("error", err.Error()))
			continue
		}
		if head == nil {
			continue
		}

		atomic.AddUint64(&f.headsParsed, 1)
		select {
		case f.heads <- *head:
		default:
			atomic.AddUint64(&f.headsDropped, 1)
		}
	}

	return nil
}
