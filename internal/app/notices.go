package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
)

// NoticeLog logs every notice and keeps the most recent ones for the
// presentation layer to poll. Notices are also forwarded to next, if set.
type NoticeLog struct {
	mu     sync.Mutex
	recent []domain.Notice
	limit  int
	next   domain.Notifier
}

// NewNoticeLog keeps up to limit notices.
func NewNoticeLog(limit int, next domain.Notifier) *NoticeLog {
	if limit <= 0 {
		limit = 50
	}
	return &NoticeLog{limit: limit, next: next}
}

func (l *NoticeLog) Notify(n domain.Notice) {
	level := slog.LevelInfo
	if n.Kind == domain.NoticeError {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "Notice", slog.String("kind", n.Kind.String()), slog.String("message", n.Message))

	l.mu.Lock()
	l.recent = append(l.recent, n)
	if over := len(l.recent) - l.limit; over > 0 {
		l.recent = append(l.recent[:0:0], l.recent[over:]...)
	}
	l.mu.Unlock()

	if l.next != nil {
		l.next.Notify(n)
	}
}

// Recent returns the retained notices, oldest first.
func (l *NoticeLog) Recent() []domain.Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Notice{}, l.recent...)
}
