package engine

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
	"github.com/ud-ai/InvestmentTracker/internal/metrics"
	"github.com/ud-ai/InvestmentTracker/internal/remote"
)

// ErrAlreadyStarted is returned by Start on a running component.
var ErrAlreadyStarted = errors.New("already started")

// ConnectionState is the read side of remote reachability.
type ConnectionState interface {
	Connected() bool
}

// ConnectivitySource delivers reachability signals.
type ConnectivitySource interface {
	SubscribeConnectivity(onChange func(bool), onError func(error)) (remote.Subscription, error)
}

// ConnectivityMonitor owns the connected flag. Observers are called
// synchronously, in registration order, on the goroutine delivering the signal.
type ConnectivityMonitor struct {
	source ConnectivitySource

	mu        sync.RWMutex
	connected bool
	started   bool
	disposed  bool
	sub       remote.Subscription
	onChange  []func(bool)
	onError   []func(error)

	once sync.Once
}

// NewConnectivityMonitor creates a monitor. The state is false until the
// first signal arrives.
func NewConnectivityMonitor(source ConnectivitySource) *ConnectivityMonitor {
	return &ConnectivityMonitor{source: source}
}

// Start subscribes to the source. A failing subscription leaves the state
// false, reports through OnError and is returned.
func (m *ConnectivityMonitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	if m.disposed {
		m.mu.Unlock()
		return domain.ErrDisposed
	}
	m.started = true
	m.mu.Unlock()

	sub, err := m.source.SubscribeConnectivity(m.handleChange, m.handleError)
	if err != nil {
		m.handleError(err)
		return err
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		sub.Cancel()
		return nil
	}
	m.sub = sub
	m.mu.Unlock()
	return nil
}

// CurrentState returns the last known reachability.
func (m *ConnectivityMonitor) CurrentState() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Connected implements ConnectionState.
func (m *ConnectivityMonitor) Connected() bool {
	return m.CurrentState()
}

// OnChange registers an observer of state changes.
func (m *ConnectivityMonitor) OnChange(handler func(connected bool)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, handler)
	m.mu.Unlock()
}

// OnError registers an observer of subscription failures.
func (m *ConnectivityMonitor) OnError(handler func(err error)) {
	m.mu.Lock()
	m.onError = append(m.onError, handler)
	m.mu.Unlock()
}

// Unsubscribe cancels the source subscription. Later signals are ignored.
func (m *ConnectivityMonitor) Unsubscribe() {
	m.once.Do(func() {
		m.mu.Lock()
		m.disposed = true
		sub := m.sub
		m.sub = nil
		m.mu.Unlock()

		if sub != nil {
			sub.Cancel()
		}
	})
}

func (m *ConnectivityMonitor) handleChange(connected bool) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.connected = connected
	handlers := append([]func(bool){}, m.onChange...)
	m.mu.Unlock()

	metrics.RemoteConnected.Set(metrics.Bool(connected))
	for _, h := range handlers {
		h(connected)
	}
}

// handleError drops to disconnected and keeps listening.
func (m *ConnectivityMonitor) handleError(err error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	was := m.connected
	m.connected = false
	changeHandlers := append([]func(bool){}, m.onChange...)
	errHandlers := append([]func(error){}, m.onError...)
	m.mu.Unlock()

	slog.Warn("Connectivity subscription error", slog.Any("error", err))
	metrics.RemoteConnected.Set(0)

	if was {
		for _, h := range changeHandlers {
			h(false)
		}
	}
	for _, h := range errHandlers {
		h(err)
	}
}
