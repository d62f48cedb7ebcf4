package producers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDLQProducer_PublishToDLQ(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	topic := "test-dlq"
	ctx := context.Background()

	t.Run("SuccessfulPublish", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &DLQProducer{
			logger:   logger,
			writer:   mockWriter,
			dlqTopic: topic,
		}

		key := "failed-outbox-1"
		original := []byte(`{"txn_id":"abc","amount":100}`)
		reason := "max publish attempts exceeded"

		mockWriter.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 {
				return false
			}
			msg := msgs[0]
			if string(msg.Key) != key {
				return false
			}
			var payload struct {
				OriginalKey   string `json:"original_key"`
				OriginalValue string `json:"original_value"`
				DLQReason     string `json:"dlq_reason"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				return false
			}
			if payload.OriginalKey != key || payload.OriginalValue != string(original) || payload.DLQReason != reason {
				return false
			}
			if len(msg.Headers) != 1 || msg.Headers[0].Key != "dlq-reason" {
				return false
			}
			return string(msg.Headers[0].Value) == reason
		})).Return(nil).Once()

		err := producer.PublishToDLQ(ctx, key, original, reason)
		require.NoError(t, err)
		mockWriter.AssertExpectations(t)
	})

	t.Run("PublishReturnsErrorOnWriterError", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &DLQProducer{
			logger:   logger,
			writer:   mockWriter,
			dlqTopic: topic,
		}
		writerError := errors.New("kafka write error")

		mockWriter.On("WriteMessages", ctx, mock.AnythingOfType("[]kafka.Message")).Return(writerError).Once()

		err := producer.PublishToDLQ(ctx, "key", []byte("value"), "reason")
		require.Error(t, err)
		assert.True(t, errors.Is(err, writerError) || strings.Contains(err.Error(), writerError.Error()))
		mockWriter.AssertExpectations(t)
	})

	t.Run("ErrorWhenNotInitialized", func(t *testing.T) {
		var producer *DLQProducer
		err := producer.PublishToDLQ(ctx, "key", []byte("value"), "reason")
		require.Error(t, err)
	})
}

func TestDLQProducer_Close(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	t.Run("SuccessfulClose", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &DLQProducer{
			logger:   logger,
			writer:   mockWriter,
			dlqTopic: "test-dlq-close",
		}

		mockWriter.On("Close").Return(nil).Once()

		err := producer.Close()
		require.NoError(t, err)
		mockWriter.AssertExpectations(t)
	})

	t.Run("NilProducerCloseIsNoop", func(t *testing.T) {
		var producer *DLQProducer
		require.NoError(t, producer.Close())
	})
}
