package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when a write is attempted while the remote
	// store is unreachable. No network call is made.
	ErrUnavailable = errors.New("remote store unavailable: waiting for connection")

	// ErrBusy is returned when a write is requested while another write
	// sequence from the same writer is still running.
	ErrBusy = errors.New("write already in progress")

	// ErrDisposed is returned by components used after teardown.
	ErrDisposed = errors.New("component disposed")

	// ErrAssetNotFound is returned when a selected asset is not in the
	// reference list.
	ErrAssetNotFound = errors.New("asset not found")
)

// Field identifies an Investment field in validation errors.
type Field string

const (
	FieldAssetType    Field = "assetType"
	FieldQuantity     Field = "quantity"
	FieldPrice        Field = "price"
	FieldPurchaseDate Field = "purchaseDate"
)

// ValidationError reports bad user input. It is fixable locally and never
// retried.
type ValidationError struct {
	Field  Field
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// WriteErrorKind is the terminal classification of a failed write.
type WriteErrorKind int

const (
	UnknownError WriteErrorKind = iota
	ConnectionError
	PermissionError
)

func (k WriteErrorKind) String() string {
	switch k {
	case ConnectionError:
		return "CONNECTION"
	case PermissionError:
		return "PERMISSION"
	default:
		return "UNKNOWN"
	}
}

// WriteError is the escalated failure after all write attempts are used up.
type WriteError struct {
	Kind     WriteErrorKind
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed after %d attempts (%s): %v", e.Attempts, e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// UserMessage is the single notice text shown for the terminal failure.
func (e *WriteError) UserMessage() string {
	switch e.Kind {
	case ConnectionError:
		return "Connection error. Please check your internet and try again."
	case PermissionError:
		return "Permission denied. Please check your database rules."
	default:
		return fmt.Sprintf("Failed to save: %v", e.Err)
	}
}

// FetchError reports a failed market-data call. Exactly one of StatusCode
// (non-2xx response) or Cause (transport/decoding failure) is set.
type FetchError struct {
	Op         string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s: unexpected status code: %d", e.Op, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Cause }
