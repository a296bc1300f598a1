package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ud-ai/InvestmentTracker/internal/infra"
)

// WSStore is a Store backed by a realtime server over one WebSocket.
// Connectivity follows the socket; subscriptions are replayed on reconnect.
type WSStore struct {
	url    string
	worker *infra.BaseWSWorker

	mu        sync.Mutex
	connected bool
	pending   map[string]chan Frame
	subs      map[string]*wsSubscription
	conn      map[uint64]connListener
	nextID    uint64

	// RequestTimeout bounds read and push round trips when ctx has no deadline.
	RequestTimeout time.Duration
}

type wsSubscription struct {
	path string
	l    listener
}

// NewWSStore creates a store for the server at url. Call Start to connect.
func NewWSStore(url string) *WSStore {
	s := &WSStore{
		url:            url,
		pending:        make(map[string]chan Frame),
		subs:           make(map[string]*wsSubscription),
		conn:           make(map[uint64]connListener),
		RequestTimeout: 15 * time.Second,
	}
	s.worker = infra.NewBaseWSWorker(s)
	return s
}

// Worker exposes the underlying connection worker for tuning before Start.
func (s *WSStore) Worker() *infra.BaseWSWorker { return s.worker }

// Start connects in the background and keeps reconnecting until Close.
func (s *WSStore) Start(ctx context.Context) {
	s.worker.Start(ctx)
}

// Close stops the connection and fails outstanding requests.
func (s *WSStore) Close() {
	s.worker.Stop()
	s.OnDisconnect(fmt.Errorf("store closed"))
}

// URL implements infra.WebSocketHandler.
func (s *WSStore) URL() string { return s.url }

// ID implements infra.WebSocketHandler.
func (s *WSStore) ID() string { return "remote" }

// OnConnect reports connected, then replays active subscriptions. A
// subscription registered concurrently may be sent twice; the server replaces
// a subscription with the same id.
func (s *WSStore) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	s.setConnected(true)

	s.mu.Lock()
	frames := make([]Frame, 0, len(s.subs))
	for id, sub := range s.subs {
		frames = append(frames, Frame{Op: OpSubscribe, ID: id, Path: sub.path})
	}
	s.mu.Unlock()

	for _, f := range frames {
		if err := s.writeFrame(f); err != nil {
			return fmt.Errorf("resubscribe %s: %w", f.Path, err)
		}
	}
	return nil
}

// OnDisconnect fails in-flight requests and reports disconnected.
func (s *WSStore) OnDisconnect(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]chan Frame)
	s.mu.Unlock()

	lost := Frame{Op: OpError, Code: CodeDisconnected, Message: "connection lost"}
	for _, ch := range pending {
		ch <- lost
	}

	s.setConnected(false)
}

// OnMessage routes a server frame to its request or subscription.
func (s *WSStore) OnMessage(ctx context.Context, msg []byte) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		slog.Warn("Remote frame decode failed", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	if ch, ok := s.pending[f.ID]; ok {
		delete(s.pending, f.ID)
		s.mu.Unlock()
		ch <- f
		return
	}
	sub, ok := s.subs[f.ID]
	s.mu.Unlock()

	if !ok {
		slog.Debug("Remote frame without receiver", slog.String("op", f.Op), slog.String("id", f.ID))
		return
	}

	switch f.Op {
	case OpSnapshot:
		sub.l.onChange(f.snapshot())
	case OpError:
		if sub.l.onError != nil {
			sub.l.onError(f.remoteError())
		}
	}
}

func (s *WSStore) ReadOnce(ctx context.Context, path string) (Snapshot, error) {
	resp, err := s.request(ctx, Frame{Op: OpRead, Path: cleanPath(path)})
	if err != nil {
		return Snapshot{}, err
	}
	return resp.snapshot(), nil
}

func (s *WSStore) Push(ctx context.Context, path string, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}

	resp, err := s.request(ctx, Frame{Op: OpPush, Path: cleanPath(path), Value: raw})
	if err != nil {
		return "", err
	}
	if resp.Op != OpAck || resp.Key == "" {
		return "", &Error{Code: CodeUnknown, Message: "push not acknowledged"}
	}
	return resp.Key, nil
}

// Subscribe registers the listener and, when connected, asks the server for
// updates. Offline subscriptions start on the next connect.
func (s *WSStore) Subscribe(path string, onChange func(Snapshot), onError func(error)) (Subscription, error) {
	id := uuid.NewString()
	path = cleanPath(path)

	s.mu.Lock()
	s.subs[id] = &wsSubscription{path: path, l: listener{onChange: onChange, onError: onError}}
	connected := s.connected
	s.mu.Unlock()

	if connected {
		if err := s.writeFrame(Frame{Op: OpSubscribe, ID: id, Path: path}); err != nil {
			slog.Warn("Subscribe deferred to reconnect", slog.String("path", path), slog.Any("error", err))
		}
	}

	var once sync.Once
	return subscriptionFunc(func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			connected := s.connected
			s.mu.Unlock()
			if connected {
				s.writeFrame(Frame{Op: OpUnsubscribe, ID: id})
			}
		})
	}), nil
}

func (s *WSStore) SubscribeConnectivity(onChange func(bool), onError func(error)) (Subscription, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.conn[id] = connListener{onChange: onChange, onError: onError}
	connected := s.connected
	s.mu.Unlock()

	onChange(connected)

	var once sync.Once
	return subscriptionFunc(func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.conn, id)
			s.mu.Unlock()
		})
	}), nil
}

// SubscriptionCount returns the number of active value subscriptions.
func (s *WSStore) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *WSStore) request(ctx context.Context, f Frame) (Frame, error) {
	if _, ok := ctx.Deadline(); !ok && s.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.RequestTimeout)
		defer cancel()
	}

	f.ID = uuid.NewString()
	ch := make(chan Frame, 1)

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return Frame{}, ErrDisconnected("client is offline")
	}
	s.pending[f.ID] = ch
	s.mu.Unlock()

	if err := s.writeFrame(f); err != nil {
		s.dropPending(f.ID)
		return Frame{}, ErrDisconnected(err.Error())
	}

	select {
	case resp := <-ch:
		if resp.Op == OpError {
			return Frame{}, resp.remoteError()
		}
		return resp, nil
	case <-ctx.Done():
		s.dropPending(f.ID)
		return Frame{}, ctx.Err()
	}
}

func (s *WSStore) dropPending(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *WSStore) writeFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.worker.Write(websocket.TextMessage, data)
}

func (s *WSStore) setConnected(connected bool) {
	s.mu.Lock()
	if s.connected == connected {
		s.mu.Unlock()
		return
	}
	s.connected = connected
	targets := make([]connListener, 0, len(s.conn))
	for _, l := range s.conn {
		targets = append(targets, l)
	}
	s.mu.Unlock()

	slog.Info("Remote connectivity changed", slog.Bool("connected", connected))
	for _, l := range targets {
		l.onChange(connected)
	}
}
