package remote

import (
	"encoding/json"
	"errors"
)

// Frame operations. Clients send read, subscribe, unsubscribe and push;
// servers answer with snapshot, ack and error.
const (
	OpRead        = "read"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPush        = "push"
	OpSnapshot    = "snapshot"
	OpAck         = "ack"
	OpError       = "error"
)

// Frame is one JSON message of the realtime protocol. ID correlates requests
// with responses; for subscriptions it names the subscription.
type Frame struct {
	Op       string          `json:"op"`
	ID       string          `json:"id,omitempty"`
	Path     string          `json:"path,omitempty"`
	Key      string          `json:"key,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Children []Child         `json:"children,omitempty"`
	Code     string          `json:"code,omitempty"`
	Message  string          `json:"message,omitempty"`
}

func errorFrame(id string, err error) Frame {
	f := Frame{Op: OpError, ID: id, Code: CodeUnknown, Message: err.Error()}
	var re *Error
	if errors.As(err, &re) {
		f.Code, f.Message = re.Code, re.Message
	}
	return f
}

func (f Frame) remoteError() *Error {
	code := f.Code
	if code == "" {
		code = CodeUnknown
	}
	return &Error{Code: code, Message: f.Message}
}

func (f Frame) snapshot() Snapshot {
	children := f.Children
	if children == nil {
		children = []Child{}
	}
	return Snapshot{Path: f.Path, Children: children}
}
