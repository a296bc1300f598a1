package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type listener struct {
	onChange func(Snapshot)
	onError  func(error)
	seen     *int64 // Last delivered version, guarded by deliverMu
}

type connListener struct {
	onChange func(bool)
	onError  func(error)
}

// MemoryStore is an in-process Store. Listeners are invoked synchronously on
// the goroutine that caused the change, outside the store lock. Deliveries
// are serialized and each listener only ever sees newer snapshots, so a
// listener must not Push from inside its callback.
type MemoryStore struct {
	deliverMu sync.Mutex

	mu        sync.Mutex
	tree      map[string][]Child
	versions  map[string]int64
	listeners map[string]map[uint64]listener
	conn      map[uint64]connListener
	nextID    uint64
	connected bool

	pushFailures []error
}

// NewMemoryStore creates a connected, empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tree:      make(map[string][]Child),
		versions:  make(map[string]int64),
		listeners: make(map[string]map[uint64]listener),
		conn:      make(map[uint64]connListener),
		connected: true,
	}
}

func (s *MemoryStore) ReadOnce(ctx context.Context, path string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	path = cleanPath(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return Snapshot{}, ErrDisconnected("client is offline")
	}
	return s.snapshotLocked(path), nil
}

func (s *MemoryStore) Subscribe(path string, onChange func(Snapshot), onError func(error)) (Subscription, error) {
	path = cleanPath(path)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.listeners[path] == nil {
		s.listeners[path] = make(map[uint64]listener)
	}
	l := listener{onChange: onChange, onError: onError, seen: new(int64)}
	*l.seen = -1
	s.listeners[path][id] = l
	snap := s.snapshotLocked(path)
	version := s.versions[path]
	s.mu.Unlock()

	s.deliver(snap, version, []listener{l})

	var once sync.Once
	return subscriptionFunc(func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners[path], id)
			if len(s.listeners[path]) == 0 {
				delete(s.listeners, path)
			}
			s.mu.Unlock()
		})
	}), nil
}

// Push stores value under a time-ordered key (UUIDv7).
func (s *MemoryStore) Push(ctx context.Context, path string, value any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path = cleanPath(path)

	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}

	s.mu.Lock()
	if len(s.pushFailures) > 0 {
		err := s.pushFailures[0]
		s.pushFailures = s.pushFailures[1:]
		s.mu.Unlock()
		return "", err
	}
	if !s.connected {
		s.mu.Unlock()
		return "", ErrDisconnected("client is offline")
	}

	id, err := uuid.NewV7()
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("generate key: %w", err)
	}
	key := id.String()
	s.tree[path] = append(s.tree[path], Child{Key: key, Value: raw})
	s.versions[path]++
	version := s.versions[path]
	snap := s.snapshotLocked(path)
	targets := s.listenersLocked(path)
	s.mu.Unlock()

	s.deliver(snap, version, targets)
	return key, nil
}

func (s *MemoryStore) SubscribeConnectivity(onChange func(bool), onError func(error)) (Subscription, error) {
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

// SetConnected flips reachability and notifies connectivity listeners on change.
func (s *MemoryStore) SetConnected(connected bool) {
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

	for _, l := range targets {
		l.onChange(connected)
	}
}

// FailConnectivity delivers err to every connectivity listener.
func (s *MemoryStore) FailConnectivity(err error) {
	s.mu.Lock()
	targets := make([]connListener, 0, len(s.conn))
	for _, l := range s.conn {
		targets = append(targets, l)
	}
	s.mu.Unlock()

	for _, l := range targets {
		if l.onError != nil {
			l.onError(err)
		}
	}
}

// Fail delivers err to every listener of path. Listeners stay registered.
func (s *MemoryStore) Fail(path string, err error) {
	s.mu.Lock()
	targets := s.listenersLocked(cleanPath(path))
	s.mu.Unlock()

	for _, l := range targets {
		if l.onError != nil {
			l.onError(err)
		}
	}
}

// FailNextPushes makes the next len(errs) Push calls return errs in order.
func (s *MemoryStore) FailNextPushes(errs ...error) {
	s.mu.Lock()
	s.pushFailures = append(s.pushFailures, errs...)
	s.mu.Unlock()
}

// ListenerCount returns the number of value listeners on path.
func (s *MemoryStore) ListenerCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners[cleanPath(path)])
}

// ConnectivityListenerCount returns the number of connectivity listeners.
func (s *MemoryStore) ConnectivityListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conn)
}

// deliver hands snap to each target that has not yet seen this version or a
// later one. A push that lost the race to a newer one is dropped, since the
// newer snapshot already carries its child.
func (s *MemoryStore) deliver(snap Snapshot, version int64, targets []listener) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	for _, l := range targets {
		if version <= *l.seen {
			continue
		}
		*l.seen = version
		l.onChange(snap)
	}
}

func (s *MemoryStore) snapshotLocked(path string) Snapshot {
	children := make([]Child, len(s.tree[path]))
	copy(children, s.tree[path])
	return Snapshot{Path: path, Children: children}
}

func (s *MemoryStore) listenersLocked(path string) []listener {
	out := make([]listener, 0, len(s.listeners[path]))
	for _, l := range s.listeners[path] {
		out = append(out, l)
	}
	return out
}
