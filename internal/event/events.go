package event

import (
	"time"

	"github.com/ud-ai/InvestmentTracker/internal/remote"
)

// Type defines the type of event.
type Type uint16

const (
	EvCollectionSnapshot Type = iota + 1
	EvSubscriptionError
)

func (t Type) String() string {
	switch t {
	case EvCollectionSnapshot:
		return "COLLECTION_SNAPSHOT"
	case EvSubscriptionError:
		return "SUBSCRIPTION_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the interface for all inbox events.
type Event interface {
	GetSeq() uint64
	GetTs() int64
	GetType() Type
}

// BaseEvent contains common fields for all events.
// Ts is unix milliseconds at the time the event was received.
type BaseEvent struct {
	Seq uint64 `json:"seq"`
	Ts  int64  `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64 { return e.Seq }
func (e BaseEvent) GetTs() int64   { return e.Ts }

// Stamp assigns the receive sequence number and time.
func (e *BaseEvent) Stamp(seq uint64, at time.Time) {
	e.Seq = seq
	e.Ts = at.UnixMilli()
}

// CollectionSnapshotEvent carries a full-replace delivery of a collection.
type CollectionSnapshotEvent struct {
	BaseEvent
	Snapshot remote.Snapshot `json:"snapshot"`
}

func (e CollectionSnapshotEvent) GetType() Type { return EvCollectionSnapshot }

// SubscriptionErrorEvent reports a failure of a live subscription. The
// subscription itself stays registered.
type SubscriptionErrorEvent struct {
	BaseEvent
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (e SubscriptionErrorEvent) GetType() Type { return EvSubscriptionError }
