// Package remote is the client side of the realtime tree database that holds
// user investment records.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Error codes carried by *Error.
const (
	CodeDisconnected     = "disconnected"
	CodePermissionDenied = "permission_denied"
	CodeUnknown          = "unknown"
)

// Error is a failure reported by the remote store.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Code, e.Message)
}

// ErrDisconnected is a convenience constructor for the connection-lost error.
func ErrDisconnected(msg string) *Error {
	return &Error{Code: CodeDisconnected, Message: msg}
}

// Child is one keyed entry under a collection path.
type Child struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Snapshot is the full content of a path at one point in time.
// Children keep backend order.
type Snapshot struct {
	Path     string  `json:"path"`
	Children []Child `json:"children"`
}

// Subscription is a registered listener. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// Store is the remote realtime database.
type Store interface {
	// ReadOnce returns the current content of path.
	ReadOnce(ctx context.Context, path string) (Snapshot, error)
	// Subscribe delivers the full content of path on every change, starting
	// with the current content.
	Subscribe(path string, onChange func(Snapshot), onError func(error)) (Subscription, error)
	// Push appends value under path and returns the server-assigned key.
	Push(ctx context.Context, path string, value any) (string, error)
	// SubscribeConnectivity reports reachability changes, starting with the
	// current state.
	SubscribeConnectivity(onChange func(bool), onError func(error)) (Subscription, error)
}

// InvestmentsPath is the per-user collection of investment records.
func InvestmentsPath(userID string) string {
	return "users/" + userID + "/investments"
}

func cleanPath(p string) string {
	return strings.Trim(p, "/")
}

type subscriptionFunc func()

func (f subscriptionFunc) Cancel() { f() }
