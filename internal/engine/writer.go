package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
	"github.com/ud-ai/InvestmentTracker/internal/infra"
	"github.com/ud-ai/InvestmentTracker/internal/metrics"
	"github.com/ud-ai/InvestmentTracker/internal/remote"
)

// Pusher appends a value under a collection path.
type Pusher interface {
	Push(ctx context.Context, path string, value any) (string, error)
}

// WriterConfig is the retry policy of investment writes.
// Delays are BaseDelay * 2^(n-1) for retry n.
type WriterConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultWriterConfig waits 2s, 4s and 8s between four attempts.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{MaxRetries: 3, BaseDelay: 2 * time.Second}
}

// RetryingWriter creates investment records with bounded exponential backoff.
// One write sequence runs at a time per writer.
type RetryingWriter struct {
	store    Pusher
	conn     ConnectionState
	notifier domain.Notifier
	path     string
	cfg      WriterConfig

	// wait is swapped in tests to observe delays without sleeping.
	wait func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	busy     bool
	attempts int
}

// NewRetryingWriter creates a writer for the user's investment collection.
func NewRetryingWriter(store Pusher, conn ConnectionState, userID string, cfg WriterConfig, notifier domain.Notifier) *RetryingWriter {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &RetryingWriter{
		store:    store,
		conn:     conn,
		notifier: notifier,
		path:     remote.InvestmentsPath(userID),
		cfg:      cfg,
		wait:     infra.SleepContext,
	}
}

// Busy reports whether a write sequence is running.
func (w *RetryingWriter) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// Attempts returns the number of failed attempts of the running or last
// failed sequence. It is 0 after a success.
func (w *RetryingWriter) Attempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts
}

// Create persists inv and returns the server-assigned key.
//
// Connectivity and validation are checked before any network call. Failed
// pushes are retried up to MaxRetries times; the final failure is returned
// as a *domain.WriteError. Every terminal outcome emits exactly one notice.
func (w *RetryingWriter) Create(ctx context.Context, inv domain.Investment) (string, error) {
	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return "", domain.ErrBusy
	}
	w.busy = true
	w.attempts = 0
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.busy = false
		w.mu.Unlock()
	}()

	if !w.conn.Connected() {
		metrics.WriteResults.WithLabelValues("unavailable").Inc()
		w.notify(domain.NoticeError, "No connection. Please check your internet and try again.")
		return "", domain.ErrUnavailable
	}

	if err := inv.Validate(); err != nil {
		metrics.WriteResults.WithLabelValues("invalid").Inc()
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			w.notify(domain.NoticeError, capitalize(ve.Reason))
		}
		return "", err
	}

	maxRetries := w.cfg.MaxRetries
	for {
		key, err := w.store.Push(ctx, w.path, inv)
		if err == nil {
			metrics.WriteAttempts.WithLabelValues(metrics.OutcomeSuccess).Inc()
			metrics.WriteResults.WithLabelValues("saved").Inc()
			w.mu.Lock()
			w.attempts = 0
			w.mu.Unlock()

			slog.Info("Investment saved", slog.String("key", key), slog.String("asset", inv.AssetType))
			w.notify(domain.NoticeInfo, "Investment saved successfully!")
			return key, nil
		}
		metrics.WriteAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		w.mu.Lock()
		w.attempts++
		failed := w.attempts
		w.mu.Unlock()

		if failed > maxRetries {
			werr := &domain.WriteError{Kind: Classify(err), Attempts: failed, Err: err}
			metrics.WriteResults.WithLabelValues(strings.ToLower(werr.Kind.String())).Inc()
			slog.Error("Investment write failed", slog.Int("attempts", failed), slog.String("kind", werr.Kind.String()), slog.Any("error", err))
			w.notify(domain.NoticeError, werr.UserMessage())
			return "", werr
		}

		delay := infra.ExponentialDelay(w.cfg.BaseDelay, failed-1, 0)
		slog.Warn("Investment write failed, retrying",
			slog.Int("attempt", failed),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		w.notify(domain.NoticeProgress, fmt.Sprintf("Retrying save (Attempt %d of %d)...", failed, maxRetries))

		if err := w.wait(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (w *RetryingWriter) notify(kind domain.NoticeKind, msg string) {
	w.notifier.Notify(domain.Notice{Kind: kind, Message: msg})
}

// Classify maps a backend failure to a terminal error kind. Structured
// remote codes win over message matching.
func Classify(err error) domain.WriteErrorKind {
	var re *remote.Error
	if errors.As(err, &re) {
		switch re.Code {
		case remote.CodeDisconnected:
			return domain.ConnectionError
		case remote.CodePermissionDenied:
			return domain.PermissionError
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection"):
		return domain.ConnectionError
	case strings.Contains(msg, "permission"):
		return domain.PermissionError
	default:
		return domain.UnknownError
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
