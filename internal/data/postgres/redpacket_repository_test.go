package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/redpacket"
)

func TestRedPacketRepository_CreateClaim(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &RedPacketRepository{querier: mock, logger: logger}

	claim := &redpacket.Claim{
		PacketID:   uuid.New(),
		WalletID:   uuid.New(),
		Amount:     334,
		ClaimIndex: 1,
		CreatedAt:  time.Now(),
	}

	query := `
		INSERT INTO red_packet_claims \(packet_id, wallet_id, amount, claim_index, created_at\)
		VALUES \(\$1, \$2, \$3, \$4, \$5\)
		RETURNING id
	`

	t.Run("success", func(t *testing.T) {
		rows := pgxmock.NewRows([]string{"id"}).AddRow(int64(7))
		mock.ExpectQuery(query).
			WithArgs(claim.PacketID, claim.WalletID, claim.Amount, claim.ClaimIndex, claim.CreatedAt).
			WillReturnRows(rows)

		err := repo.CreateClaim(ctx, claim)
		require.NoError(t, err)
		assert.Equal(t, int64(7), claim.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second claim by same wallet", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(claim.PacketID, claim.WalletID, claim.Amount, claim.ClaimIndex, claim.CreatedAt).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := repo.CreateClaim(ctx, claim)
		assert.Equal(t, redpacket.ErrDuplicateClaim{PacketID: claim.PacketID, WalletID: claim.WalletID}, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedPacketRepository_LockByID(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &RedPacketRepository{querier: mock, logger: logger}
	packetID := uuid.New()

	query := `
		SELECT id, creator_wallet, total, remaining, count, claimed, mode, currency, expires_at, status, created_at, resolved_at
		FROM red_packets
		WHERE id = \$1
		FOR UPDATE
	`

	t.Run("success", func(t *testing.T) {
		rows := pgxmock.NewRows([]string{"id", "creator_wallet", "total", "remaining", "count", "claimed", "mode", "currency", "expires_at", "status", "created_at", "resolved_at"}).
			AddRow(packetID, uuid.New(), int64(1000), int64(666), 3, 1, redpacket.SplitFixed, "SYP", time.Now().Add(time.Hour), redpacket.StatusActive, time.Now(), nil)
		mock.ExpectQuery(query).WithArgs(packetID).WillReturnRows(rows)

		p, err := repo.LockByID(ctx, packetID)
		require.NoError(t, err)
		assert.Equal(t, int64(666), p.Remaining)
		assert.Equal(t, 2, p.SlotsLeft())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(packetID).WillReturnError(pgx.ErrNoRows)

		_, err := repo.LockByID(ctx, packetID)
		assert.ErrorIs(t, err, redpacket.ErrPacketNotFound{})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
