package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stoikov-maker-go/exchange"
)

const (
	readDeadline      = 60 * time.Second
	pingInterval      = 30 * time.Second
	listenKeyInterval = 30 * time.Minute
	maxReconnectWait  = 30 * time.Second
)

// wsManager 维护行情流与用户数据流：重连、心跳、listenKey 续期。
type wsManager struct {
	cfg      Config
	rest     *restClient
	log      *zap.Logger
	handlers func() exchange.Handlers

	mu           sync.Mutex
	depthStreams map[string]bool
	tradeStreams map[string]bool
	listenKey    string
	conn         *websocket.Conn
	cancel       context.CancelFunc
	running      bool
	isConnected  bool
	reconnects   uint64
}

func newWSManager(cfg Config, rest *restClient, log *zap.Logger, handlers func() exchange.Handlers) *wsManager {
	return &wsManager{
		cfg:          cfg,
		rest:         rest,
		log:          log,
		handlers:     handlers,
		depthStreams: make(map[string]bool),
		tradeStreams: make(map[string]bool),
	}
}

func (w *wsManager) subscribeDepth(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol required", exchange.ErrValidation)
	}
	w.mu.Lock()
	w.depthStreams[strings.ToLower(symbol)] = true
	w.mu.Unlock()
	return w.resubscribe()
}

func (w *wsManager) unsubscribeDepth(symbol string) error {
	w.mu.Lock()
	delete(w.depthStreams, strings.ToLower(symbol))
	w.mu.Unlock()
	return w.resubscribe()
}

func (w *wsManager) subscribeTrades(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol required", exchange.ErrValidation)
	}
	w.mu.Lock()
	w.tradeStreams[strings.ToLower(symbol)] = true
	w.mu.Unlock()
	return w.resubscribe()
}

func (w *wsManager) unsubscribeTrades(symbol string) error {
	w.mu.Lock()
	delete(w.tradeStreams, strings.ToLower(symbol))
	w.mu.Unlock()
	return w.resubscribe()
}

// resubscribe forces a reconnect with the current stream set; the combined
// stream URL is rebuilt on dial.
func (w *wsManager) resubscribe() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		_ = w.conn.Close() // read loop reconnects with the new stream set
	}
	return nil
}

func (w *wsManager) start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	if err := w.acquireListenKey(runCtx); err != nil {
		w.log.Warn("user stream unavailable", zap.Error(err))
	}

	go w.runLoop(runCtx)
	go w.keepAliveLoop(runCtx)
	return nil
}

func (w *wsManager) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false
	w.isConnected = false
}

func (w *wsManager) connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isConnected
}

// runLoop dials and reads until ctx is done, with exponential backoff.
func (w *wsManager) runLoop(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		if err := w.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn("ws disconnected", zap.Error(err), zap.Duration("backoff", backoff))
			if h := w.handlers(); h.OnError != nil {
				h.OnError(fmt.Errorf("%w: %v", exchange.ErrVenue, err))
			}
		}
		w.mu.Lock()
		w.isConnected = false
		w.reconnects++
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (w *wsManager) connectAndRead(ctx context.Context) error {
	streams := w.streamList()
	if len(streams) == 0 {
		// nothing subscribed yet; poll until there is
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}

	u := url.URL{
		Scheme:   "wss",
		Host:     strings.TrimPrefix(w.cfg.WSURL, "wss://"),
		Path:     "/stream",
		RawQuery: "streams=" + strings.Join(streams, "/"),
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	w.mu.Lock()
	w.conn = conn
	w.isConnected = true
	w.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		w.handleMessage(message)
	}
}

func (w *wsManager) streamList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	streams := make([]string, 0, len(w.depthStreams)+len(w.tradeStreams)+1)
	for sym := range w.depthStreams {
		streams = append(streams, sym+"@depth20@100ms")
	}
	for sym := range w.tradeStreams {
		streams = append(streams, sym+"@aggTrade")
	}
	if w.listenKey != "" {
		streams = append(streams, w.listenKey)
	}
	return streams
}

// acquireListenKey starts the user-data stream.
func (w *wsManager) acquireListenKey(ctx context.Context) error {
	body, err := w.rest.doSigned(ctx, http.MethodPost, "/fapi/v1/listenKey", map[string]string{}, 1)
	if err != nil {
		return err
	}
	var resp listenKeyResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: decode listenKey: %v", exchange.ErrVenue, err)
	}
	w.mu.Lock()
	w.listenKey = resp.ListenKey
	w.mu.Unlock()
	return nil
}

// keepAliveLoop renews the listen key well inside its 60 minute validity.
func (w *wsManager) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(listenKeyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.rest.doSigned(ctx, http.MethodPut, "/fapi/v1/listenKey", map[string]string{}, 1); err != nil {
				w.log.Warn("listenKey keepalive failed", zap.Error(err))
			}
		}
	}
}

// Reconnects returns the reconnect counter for the health surface.
func (w *wsManager) Reconnects() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reconnects
}
