package outbox

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
)

func TestNewMessage(t *testing.T) {
	source := uuid.New()
	dest := uuid.New()
	txn := ledger.NewTxn(ledger.KindTransfer, &source, &dest, 1500, 3, "SYP")

	msg, err := NewMessage(txn)
	require.NoError(t, err)

	assert.Equal(t, txn.ID, msg.TxnID)
	assert.Equal(t, StatusPending, msg.Status)
	assert.Zero(t, msg.Attempts)
	assert.Nil(t, msg.LastAttemptAt)

	event, err := msg.Event()
	require.NoError(t, err)
	assert.Equal(t, txn.ID, event.TxnID)
	assert.Equal(t, ledger.KindTransfer, event.Kind)
	require.NotNil(t, event.SourceWallet)
	assert.Equal(t, source, *event.SourceWallet)
	require.NotNil(t, event.DestWallet)
	assert.Equal(t, dest, *event.DestWallet)
	assert.Equal(t, int64(1500), event.Amount)
	assert.Equal(t, int64(3), event.Fee)
	assert.True(t, event.OccurredAt.Equal(txn.CreatedAt))
}

func TestNewMessage_ExternalLegs(t *testing.T) {
	dest := uuid.New()
	txn := ledger.NewTxn(ledger.KindTopup, nil, &dest, 500, 0, "SYP")

	msg, err := NewMessage(txn)
	require.NoError(t, err)

	event, err := msg.Event()
	require.NoError(t, err)
	assert.Nil(t, event.SourceWallet)
	require.NotNil(t, event.DestWallet)
	assert.Equal(t, dest, *event.DestWallet)
}

func TestMessage_StatusTransitions(t *testing.T) {
	source := uuid.New()
	txn := ledger.NewTxn(ledger.KindBill, &source, nil, 200, 1, "SYP")

	msg, err := NewMessage(txn)
	require.NoError(t, err)

	before := time.Now()
	msg.IncrementAttempts()
	assert.Equal(t, 1, msg.Attempts)
	require.NotNil(t, msg.LastAttemptAt)
	assert.False(t, msg.LastAttemptAt.Before(before))

	msg.MarkAsProcessed()
	assert.Equal(t, StatusProcessed, msg.Status)

	msg.MarkAsFailed()
	assert.Equal(t, StatusFailedToPublish, msg.Status)
}
