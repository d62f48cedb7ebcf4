package outboxpoller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/outbox"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/messaging/producers"
)

// MockOutboxRepo for testing
type MockOutboxRepo struct {
	mock.Mock
}

func (m *MockOutboxRepo) Create(ctx context.Context, message *outbox.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockOutboxRepo) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepo) UpdateStatus(ctx context.Context, id int64, status outbox.Status) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepo) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepo) GetByTxnID(ctx context.Context, txnID uuid.UUID) (*outbox.Message, error) {
	args := m.Called(ctx, txnID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepo) WithTx(tx pgx.Tx) outbox.Repository { return m }

// MockPublisher for testing
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, key string, value interface{}) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockDLQPublisher for testing
type MockDLQPublisher struct {
	mock.Mock
}

func (m *MockDLQPublisher) PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error {
	args := m.Called(ctx, key, originalMessageValue, reason)
	return args.Error(0)
}

func (m *MockDLQPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func pendingMessage(t *testing.T, id int64, attempts int) *outbox.Message {
	t.Helper()
	txn := ledger.NewTxn(ledger.KindTransfer, nil, nil, 1_000, 0, "SYP")
	msg, err := outbox.NewMessage(txn)
	assert.NoError(t, err)
	msg.ID = id
	msg.Attempts = attempts
	return msg
}

func newTestPoller(repo *MockOutboxRepo, pub *MockPublisher, dlq *MockDLQPublisher) *Poller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.OutboxConfig{
		PollingInterval:  time.Second,
		BatchSize:        10,
		MaxRetryAttempts: 3,
	}
	var dl producers.DeadLetterPublisher
	if dlq != nil {
		dl = dlq
	}
	return NewPoller(logger, cfg, repo, pub, dl, nil)
}

func TestPoller_ProcessPendingMessages(t *testing.T) {
	t.Run("publishes and marks processed", func(t *testing.T) {
		repo := &MockOutboxRepo{}
		pub := &MockPublisher{}
		poller := newTestPoller(repo, pub, nil)

		msg1 := pendingMessage(t, 1, 0)
		msg2 := pendingMessage(t, 2, 0)

		repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Message{msg1, msg2}, nil).Once()
		pub.On("Publish", mock.Anything, msg1.TxnID.String(), mock.Anything).Return(nil).Once()
		pub.On("Publish", mock.Anything, msg2.TxnID.String(), mock.Anything).Return(nil).Once()
		repo.On("UpdateStatus", mock.Anything, int64(1), outbox.StatusProcessed).Return(nil).Once()
		repo.On("UpdateStatus", mock.Anything, int64(2), outbox.StatusProcessed).Return(nil).Once()

		err := poller.processPendingMessages(context.Background())
		assert.NoError(t, err)
		repo.AssertExpectations(t)
		pub.AssertExpectations(t)
	})

	t.Run("publishes the stored payload verbatim", func(t *testing.T) {
		repo := &MockOutboxRepo{}
		pub := &MockPublisher{}
		poller := newTestPoller(repo, pub, nil)

		msg := pendingMessage(t, 7, 0)
		repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Message{msg}, nil).Once()
		pub.On("Publish", mock.Anything, msg.TxnID.String(), mock.MatchedBy(func(v interface{}) bool {
			raw, ok := v.(json.RawMessage)
			if !ok {
				return false
			}
			var event outbox.TxnEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				return false
			}
			return event.TxnID == msg.TxnID && event.Kind == ledger.KindTransfer
		})).Return(nil).Once()
		repo.On("UpdateStatus", mock.Anything, int64(7), outbox.StatusProcessed).Return(nil).Once()

		assert.NoError(t, poller.processPendingMessages(context.Background()))
		pub.AssertExpectations(t)
	})

	t.Run("increments attempts on publish failure", func(t *testing.T) {
		repo := &MockOutboxRepo{}
		pub := &MockPublisher{}
		poller := newTestPoller(repo, pub, nil)

		msg := pendingMessage(t, 3, 0)
		repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Message{msg}, nil).Once()
		pub.On("Publish", mock.Anything, msg.TxnID.String(), mock.Anything).Return(errors.New("broker down")).Once()
		repo.On("IncrementAttempts", mock.Anything, int64(3)).Return(nil).Once()

		assert.NoError(t, poller.processPendingMessages(context.Background()))
		repo.AssertExpectations(t)
		repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("shunts to DLQ after max attempts", func(t *testing.T) {
		repo := &MockOutboxRepo{}
		pub := &MockPublisher{}
		dlq := &MockDLQPublisher{}
		poller := newTestPoller(repo, pub, dlq)

		msg := pendingMessage(t, 4, 2) // third attempt exhausts the budget
		repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Message{msg}, nil).Once()
		pub.On("Publish", mock.Anything, msg.TxnID.String(), mock.Anything).Return(errors.New("broker down")).Once()
		repo.On("IncrementAttempts", mock.Anything, int64(4)).Return(nil).Once()
		dlq.On("PublishToDLQ", mock.Anything, msg.TxnID.String(), []byte(msg.Payload), "broker down").Return(nil).Once()
		repo.On("UpdateStatus", mock.Anything, int64(4), outbox.StatusFailedToPublish).Return(nil).Once()

		assert.NoError(t, poller.processPendingMessages(context.Background()))
		repo.AssertExpectations(t)
		dlq.AssertExpectations(t)
	})

	t.Run("keeps row pending when DLQ publish fails", func(t *testing.T) {
		repo := &MockOutboxRepo{}
		pub := &MockPublisher{}
		dlq := &MockDLQPublisher{}
		poller := newTestPoller(repo, pub, dlq)

		msg := pendingMessage(t, 5, 2)
		repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Message{msg}, nil).Once()
		pub.On("Publish", mock.Anything, msg.TxnID.String(), mock.Anything).Return(errors.New("broker down")).Once()
		repo.On("IncrementAttempts", mock.Anything, int64(5)).Return(nil).Once()
		dlq.On("PublishToDLQ", mock.Anything, msg.TxnID.String(), []byte(msg.Payload), "broker down").Return(errors.New("dlq down")).Once()

		assert.NoError(t, poller.processPendingMessages(context.Background()))
		repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		repo := &MockOutboxRepo{}
		pub := &MockPublisher{}
		poller := newTestPoller(repo, pub, nil)

		repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Message{}, nil).Once()
		assert.NoError(t, poller.processPendingMessages(context.Background()))
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})
}
