package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Write while no connection is up.
var ErrNotConnected = errors.New("ws not connected")

const controlWriteTimeout = 5 * time.Second

// WebSocketHandler supplies the protocol logic run by a BaseWSWorker.
type WebSocketHandler interface {
	URL() string
	ID() string
	// OnConnect runs right after the dial, before any read.
	// Returning an error drops the connection and schedules a reconnect.
	OnConnect(ctx context.Context, conn *websocket.Conn) error
	OnMessage(ctx context.Context, msg []byte)
	// OnDisconnect reports a failed dial or a lost connection.
	OnDisconnect(err error)
}

// BaseWSWorker keeps one WebSocket connection alive for a handler.
// Dials that fail are retried with backoff; a connection that was up and
// then dropped is redialled straight away. Writes are serialized.
type BaseWSWorker struct {
	ReadTimeout  time.Duration
	PingInterval time.Duration
	UserAgent    string
	MaxBackoff   time.Duration // Caps the reconnect delay; 0 keeps CalculateBackoff's cap

	handler WebSocketHandler

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewBaseWSWorker(handler WebSocketHandler) *BaseWSWorker {
	return &BaseWSWorker{
		ReadTimeout:  time.Minute,
		PingInterval: 30 * time.Second,
		UserAgent:    UserAgent(""),
		handler:      handler,
	}
}

// Start runs the connection loop until ctx is done or Stop is called.
func (w *BaseWSWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop terminates the worker and waits for its goroutines. Safe to call twice.
func (w *BaseWSWorker) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.drop()
		w.wg.Wait()
	})
}

// Connected reports whether a connection is currently up.
func (w *BaseWSWorker) Connected() bool {
	return w.current() != nil
}

// Write sends one message. It fails with ErrNotConnected while disconnected.
func (w *BaseWSWorker) Write(msgType int, data []byte) error {
	return w.send(func(c *websocket.Conn) error {
		return c.WriteMessage(msgType, data)
	})
}

func (w *BaseWSWorker) run(ctx context.Context) {
	failures := 0
	for ctx.Err() == nil {
		established, err := w.session(ctx)
		if ctx.Err() != nil {
			return
		}
		w.handler.OnDisconnect(err)

		if established {
			failures = 0
			continue
		}
		slog.Warn("Realtime dial failed",
			slog.String("id", w.handler.ID()),
			slog.Int("failures", failures+1),
			slog.Any("error", err))
		if SleepContext(ctx, w.backoff(failures)) != nil {
			return
		}
		failures++
	}
}

// session dials, then reads until the connection breaks. established is
// false when the dial or the handler's OnConnect failed.
func (w *BaseWSWorker) session(ctx context.Context) (established bool, err error) {
	if err := w.dial(ctx); err != nil {
		return false, err
	}
	slog.Info("Realtime connected", slog.String("id", w.handler.ID()))

	connCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	if w.PingInterval > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.keepalive(connCtx)
		}()
	}

	return true, w.readLoop(ctx)
}

func (w *BaseWSWorker) dial(ctx context.Context) error {
	header := http.Header{"User-Agent": []string{w.UserAgent}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, w.handler.URL(), header)
	if err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		w.extendDeadline(conn)
		return nil
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.handler.OnConnect(ctx, conn); err != nil {
		w.drop()
		return fmt.Errorf("handshake with %s: %w", w.handler.ID(), err)
	}
	return nil
}

func (w *BaseWSWorker) readLoop(ctx context.Context) error {
	for {
		c := w.current()
		if c == nil {
			return ErrNotConnected
		}
		w.extendDeadline(c)

		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Realtime connection lost", slog.String("id", w.handler.ID()), slog.Any("error", err))
			}
			w.drop()
			return err
		}
		w.handler.OnMessage(ctx, msg)
	}
}

func (w *BaseWSWorker) keepalive(ctx context.Context) {
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := w.send(func(c *websocket.Conn) error {
			return c.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteTimeout))
		})
		if err != nil {
			slog.Warn("Realtime ping failed", slog.String("id", w.handler.ID()), slog.Any("error", err))
			w.drop()
			return
		}
	}
}

func (w *BaseWSWorker) extendDeadline(c *websocket.Conn) {
	if w.ReadTimeout > 0 {
		c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
	}
}

func (w *BaseWSWorker) backoff(failures int) time.Duration {
	d := CalculateBackoff(failures)
	if w.MaxBackoff > 0 {
		d = min(d, w.MaxBackoff)
	}
	return d
}

func (w *BaseWSWorker) send(write func(*websocket.Conn) error) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	c := w.current()
	if c == nil {
		return ErrNotConnected
	}
	return write(c)
}

func (w *BaseWSWorker) current() *websocket.Conn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn
}

func (w *BaseWSWorker) drop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
