package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	serverReadTimeout = 90 * time.Second
	serverOpTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true // debug surface, same-host clients
	},
}

// Server exposes a Store over the realtime WebSocket protocol.
type Server struct {
	store Store

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewServer serves store to WebSocket clients.
func NewServer(store Store) *Server {
	return &Server{store: store, sessions: make(map[*session]struct{})}
}

// Sessions returns the number of connected clients.
func (srv *Server) Sessions() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

// CloseSessions drops every client connection. Clients reconnect on their own.
func (srv *Server) CloseSessions() {
	srv.mu.Lock()
	sessions := make([]*session, 0, len(srv.sessions))
	for s := range srv.sessions {
		sessions = append(sessions, s)
	}
	srv.mu.Unlock()

	for _, s := range sessions {
		s.conn.Close()
	}
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", slog.Any("error", err))
		return
	}

	sess := &session{store: srv.store, conn: conn, subs: make(map[string]Subscription)}

	srv.mu.Lock()
	srv.sessions[sess] = struct{}{}
	srv.mu.Unlock()
	defer func() {
		srv.mu.Lock()
		delete(srv.sessions, sess)
		srv.mu.Unlock()
	}()

	sess.run()
}

type session struct {
	store   Store
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]Subscription
}

func (s *session) run() {
	defer s.close()

	s.conn.SetReadDeadline(time.Now().Add(serverReadTimeout))
	s.conn.SetPingHandler(func(data string) error {
		s.conn.SetReadDeadline(time.Now().Add(serverReadTimeout))
		return s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(serverReadTimeout))

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.send(Frame{Op: OpError, Code: CodeUnknown, Message: "malformed frame"})
			continue
		}
		s.handle(f)
	}
}

func (s *session) handle(f Frame) {
	switch f.Op {
	case OpRead:
		ctx, cancel := context.WithTimeout(context.Background(), serverOpTimeout)
		defer cancel()
		snap, err := s.store.ReadOnce(ctx, f.Path)
		if err != nil {
			s.send(errorFrame(f.ID, err))
			return
		}
		s.send(Frame{Op: OpSnapshot, ID: f.ID, Path: snap.Path, Children: snap.Children})

	case OpPush:
		ctx, cancel := context.WithTimeout(context.Background(), serverOpTimeout)
		defer cancel()
		key, err := s.store.Push(ctx, f.Path, f.Value)
		if err != nil {
			s.send(errorFrame(f.ID, err))
			return
		}
		s.send(Frame{Op: OpAck, ID: f.ID, Key: key})

	case OpSubscribe:
		id := f.ID
		s.cancelSub(id)
		sub, err := s.store.Subscribe(f.Path,
			func(snap Snapshot) {
				s.send(Frame{Op: OpSnapshot, ID: id, Path: snap.Path, Children: snap.Children})
			},
			func(err error) {
				s.send(errorFrame(id, err))
			})
		if err != nil {
			s.send(errorFrame(id, err))
			return
		}
		s.mu.Lock()
		s.subs[id] = sub
		s.mu.Unlock()

	case OpUnsubscribe:
		s.cancelSub(f.ID)

	default:
		s.send(Frame{Op: OpError, ID: f.ID, Code: CodeUnknown, Message: "unknown op: " + f.Op})
	}
}

func (s *session) cancelSub(id string) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if ok {
		sub.Cancel()
	}
}

func (s *session) send(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("ws send failed", slog.String("op", f.Op), slog.Any("error", err))
	}
}

func (s *session) close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]Subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	s.conn.Close()
}
