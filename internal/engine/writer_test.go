package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
	"github.com/ud-ai/InvestmentTracker/internal/remote"
)

const testPath = "users/u1/investments"

var validInvestment = domain.Investment{
	AssetType:    "Bitcoin",
	Quantity:     0.5,
	Price:        42000,
	PurchaseDate: "2024-03-01",
}

// newTestWriter records requested delays instead of sleeping.
func newTestWriter(p Pusher, conn ConnectionState, n domain.Notifier) (*RetryingWriter, *[]time.Duration) {
	w := NewRetryingWriter(p, conn, "u1", DefaultWriterConfig(), n)
	var delays []time.Duration
	w.wait = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return w, &delays
}

func TestRetryingWriter_ValidInputWritesOnce(t *testing.T) {
	pusher := new(MockPusher)
	pusher.On("Push", mock.Anything, testPath, validInvestment).Return("k1", nil).Once()
	notices := &noticeRecorder{}

	w, delays := newTestWriter(pusher, fixedConn(true), notices)
	key, err := w.Create(context.Background(), validInvestment)

	require.NoError(t, err)
	assert.Equal(t, "k1", key)
	assert.Empty(t, *delays)
	assert.Equal(t, 0, w.Attempts())
	assert.False(t, w.Busy())
	require.Len(t, notices.all(), 1)
	assert.Equal(t, domain.NoticeInfo, notices.all()[0].Kind)
	pusher.AssertNumberOfCalls(t, "Push", 1)
}

func TestRetryingWriter_InvalidInputNeverPushes(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(i *domain.Investment)
		field domain.Field
	}{
		{"blank asset", func(i *domain.Investment) { i.AssetType = "  " }, domain.FieldAssetType},
		{"zero quantity", func(i *domain.Investment) { i.Quantity = 0 }, domain.FieldQuantity},
		{"negative quantity", func(i *domain.Investment) { i.Quantity = -1 }, domain.FieldQuantity},
		{"zero price", func(i *domain.Investment) { i.Price = 0 }, domain.FieldPrice},
		{"missing date", func(i *domain.Investment) { i.PurchaseDate = "" }, domain.FieldPurchaseDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pusher := new(MockPusher)
			notices := &noticeRecorder{}
			w, _ := newTestWriter(pusher, fixedConn(true), notices)

			inv := validInvestment
			tt.mut(&inv)
			_, err := w.Create(context.Background(), inv)

			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
			pusher.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything)
			assert.Len(t, notices.ofKind(domain.NoticeError), 1)
		})
	}
}

func TestRetryingWriter_DisconnectedIsUnavailable(t *testing.T) {
	for _, inv := range []domain.Investment{validInvestment, {}} {
		pusher := new(MockPusher)
		notices := &noticeRecorder{}
		w, _ := newTestWriter(pusher, fixedConn(false), notices)

		_, err := w.Create(context.Background(), inv)

		assert.ErrorIs(t, err, domain.ErrUnavailable)
		pusher.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything)
		assert.Len(t, notices.all(), 1)
	}
}

func TestRetryingWriter_SucceedsOnFourthAttempt(t *testing.T) {
	pusher := new(MockPusher)
	pusher.On("Push", mock.Anything, testPath, validInvestment).Return("", errBoom).Times(3)
	pusher.On("Push", mock.Anything, testPath, validInvestment).Return("k4", nil).Once()
	notices := &noticeRecorder{}

	w, delays := newTestWriter(pusher, fixedConn(true), notices)
	key, err := w.Create(context.Background(), validInvestment)

	require.NoError(t, err)
	assert.Equal(t, "k4", key)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, *delays)
	assert.Equal(t, 0, w.Attempts())
	pusher.AssertNumberOfCalls(t, "Push", 4)

	progress := notices.ofKind(domain.NoticeProgress)
	require.Len(t, progress, 3)
	assert.Equal(t, "Retrying save (Attempt 1 of 3)...", progress[0].Message)
	assert.Equal(t, "Retrying save (Attempt 3 of 3)...", progress[2].Message)
	assert.Len(t, notices.ofKind(domain.NoticeInfo), 1)
	assert.Empty(t, notices.ofKind(domain.NoticeError))
}

func TestRetryingWriter_RealDelaysScaled(t *testing.T) {
	pusher := new(MockPusher)
	pusher.On("Push", mock.Anything, testPath, validInvestment).Return("", errBoom).Times(3)
	pusher.On("Push", mock.Anything, testPath, validInvestment).Return("k", nil).Once()

	w := NewRetryingWriter(pusher, fixedConn(true), "u1", WriterConfig{MaxRetries: 3, BaseDelay: 10 * time.Millisecond}, nil)

	start := time.Now()
	_, err := w.Create(context.Background(), validInvestment)
	elapsed := time.Since(start)

	require.NoError(t, err)
	// 10ms + 20ms + 40ms
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
}

func TestRetryingWriter_ExhaustedRetriesAreClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind domain.WriteErrorKind
	}{
		{"connection message", errors.New("Connection reset by peer"), domain.ConnectionError},
		{"permission message", errors.New("PERMISSION_DENIED: missing rule"), domain.PermissionError},
		{"other", errors.New("quota exceeded"), domain.UnknownError},
		{"structured disconnected", &remote.Error{Code: remote.CodeDisconnected, Message: "socket closed"}, domain.ConnectionError},
		{"structured permission", &remote.Error{Code: remote.CodePermissionDenied, Message: "rules"}, domain.PermissionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pusher := new(MockPusher)
			pusher.On("Push", mock.Anything, testPath, validInvestment).Return("", tt.err)
			notices := &noticeRecorder{}

			w, delays := newTestWriter(pusher, fixedConn(true), notices)
			_, err := w.Create(context.Background(), validInvestment)

			var we *domain.WriteError
			require.True(t, errors.As(err, &we), "expected WriteError, got %v", err)
			assert.Equal(t, tt.kind, we.Kind)
			assert.Equal(t, 4, we.Attempts)
			assert.ErrorIs(t, err, tt.err)
			assert.Len(t, *delays, 3)
			pusher.AssertNumberOfCalls(t, "Push", 4)

			errs := notices.ofKind(domain.NoticeError)
			require.Len(t, errs, 1)
			assert.Equal(t, we.UserMessage(), errs[0].Message)
		})
	}
}

func TestRetryingWriter_BusyRejectsSecondWrite(t *testing.T) {
	pusher := new(MockPusher)
	pusher.On("Push", mock.Anything, testPath, validInvestment).Return("", errBoom).Once()
	pusher.On("Push", mock.Anything, testPath, validInvestment).Return("k", nil).Once()

	w := NewRetryingWriter(pusher, fixedConn(true), "u1", DefaultWriterConfig(), nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	w.wait = func(ctx context.Context, d time.Duration) error {
		close(entered)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = w.Create(context.Background(), validInvestment)
	}()

	<-entered
	assert.True(t, w.Busy())
	_, err := w.Create(context.Background(), validInvestment)
	assert.ErrorIs(t, err, domain.ErrBusy)

	close(release)
	wg.Wait()
	assert.NoError(t, firstErr)
	assert.False(t, w.Busy())
	pusher.AssertNumberOfCalls(t, "Push", 2)
}

func TestRetryingWriter_CancelDuringBackoff(t *testing.T) {
	pusher := new(MockPusher)
	pusher.On("Push", mock.Anything, testPath, validInvestment).Return("", errBoom)

	w := NewRetryingWriter(pusher, fixedConn(true), "u1", DefaultWriterConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := w.Create(ctx, validInvestment)

	assert.ErrorIs(t, err, context.Canceled)
	var we *domain.WriteError
	assert.False(t, errors.As(err, &we))
	pusher.AssertNumberOfCalls(t, "Push", 1)
}
