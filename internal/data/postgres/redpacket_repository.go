package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/redpacket"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/persistence"
)

// RedPacketRepository implements the redpacket.Repository interface for
// PostgreSQL
type RedPacketRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewRedPacketRepository creates a new PostgreSQL red packet repository
func NewRedPacketRepository(logger *slog.Logger, db *persistence.PostgresDB) redpacket.Repository {
	return &RedPacketRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction
func (r *RedPacketRepository) WithTx(tx pgx.Tx) redpacket.Repository {
	return &RedPacketRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new packet
func (r *RedPacketRepository) Create(ctx context.Context, p *redpacket.Packet) error {
	query := `
		INSERT INTO red_packets (id, creator_wallet, total, remaining, count, claimed, mode, currency, expires_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.querier.Exec(ctx, query,
		p.ID,
		p.CreatorWallet,
		p.Total,
		p.Remaining,
		p.Count,
		p.Claimed,
		p.Mode,
		p.Currency,
		p.ExpiresAt,
		p.Status,
		p.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create red packet", "id", p.ID.String(), "error", err)
		return fmt.Errorf("failed to create red packet: %w", err)
	}

	return nil
}

// LockByID acquires the packet row for the enclosing transaction. All claims
// against one packet serialize on this lock.
func (r *RedPacketRepository) LockByID(ctx context.Context, id uuid.UUID) (*redpacket.Packet, error) {
	query := packetSelect + `
		WHERE id = $1
		FOR UPDATE
	`

	return r.scanPacket(ctx, query, id)
}

// GetByID retrieves a packet without locking
func (r *RedPacketRepository) GetByID(ctx context.Context, id uuid.UUID) (*redpacket.Packet, error) {
	query := packetSelect + `
		WHERE id = $1
	`

	return r.scanPacket(ctx, query, id)
}

const packetSelect = `
		SELECT id, creator_wallet, total, remaining, count, claimed, mode, currency, expires_at, status, created_at, resolved_at
		FROM red_packets
`

func (r *RedPacketRepository) scanPacket(ctx context.Context, query string, id uuid.UUID) (*redpacket.Packet, error) {
	var p redpacket.Packet
	err := r.querier.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.CreatorWallet,
		&p.Total,
		&p.Remaining,
		&p.Count,
		&p.Claimed,
		&p.Mode,
		&p.Currency,
		&p.ExpiresAt,
		&p.Status,
		&p.CreatedAt,
		&p.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, redpacket.ErrPacketNotFound{PacketID: id}
		}
		r.logger.Error("Failed to get red packet", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get red packet: %w", err)
	}

	return &p, nil
}

// Update persists remaining amount, claimed count, status and resolution
// timestamp after a claim or expiry transition.
func (r *RedPacketRepository) Update(ctx context.Context, p *redpacket.Packet) error {
	query := `
		UPDATE red_packets
		SET remaining = $1, claimed = $2, status = $3, resolved_at = $4
		WHERE id = $5
	`

	result, err := r.querier.Exec(ctx, query, p.Remaining, p.Claimed, p.Status, p.ResolvedAt, p.ID)
	if err != nil {
		r.logger.Error("Failed to update red packet", "id", p.ID.String(), "error", err)
		return fmt.Errorf("failed to update red packet: %w", err)
	}

	if result.RowsAffected() == 0 {
		return redpacket.ErrPacketNotFound{PacketID: p.ID}
	}

	return nil
}

// GetClaim returns the wallet's claim, or nil, nil when it has not claimed.
func (r *RedPacketRepository) GetClaim(ctx context.Context, packetID, walletID uuid.UUID) (*redpacket.Claim, error) {
	query := `
		SELECT id, packet_id, wallet_id, amount, claim_index, created_at
		FROM red_packet_claims
		WHERE packet_id = $1 AND wallet_id = $2
	`

	var c redpacket.Claim
	err := r.querier.QueryRow(ctx, query, packetID, walletID).Scan(
		&c.ID,
		&c.PacketID,
		&c.WalletID,
		&c.Amount,
		&c.ClaimIndex,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get red packet claim", "packet_id", packetID.String(), "error", err)
		return nil, fmt.Errorf("failed to get red packet claim: %w", err)
	}

	return &c, nil
}

// CreateClaim stores one claim. The (packet_id, wallet_id) unique constraint
// turns a concurrent double claim into ErrDuplicateClaim.
func (r *RedPacketRepository) CreateClaim(ctx context.Context, c *redpacket.Claim) error {
	query := `
		INSERT INTO red_packet_claims (packet_id, wallet_id, amount, claim_index, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.querier.QueryRow(ctx, query, c.PacketID, c.WalletID, c.Amount, c.ClaimIndex, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return redpacket.ErrDuplicateClaim{PacketID: c.PacketID, WalletID: c.WalletID}
		}
		r.logger.Error("Failed to create red packet claim", "packet_id", c.PacketID.String(), "error", err)
		return fmt.Errorf("failed to create red packet claim: %w", err)
	}

	return nil
}

// ListClaims returns all claims of a packet in draw order.
func (r *RedPacketRepository) ListClaims(ctx context.Context, packetID uuid.UUID) ([]*redpacket.Claim, error) {
	query := `
		SELECT id, packet_id, wallet_id, amount, claim_index, created_at
		FROM red_packet_claims
		WHERE packet_id = $1
		ORDER BY claim_index ASC
	`

	rows, err := r.querier.Query(ctx, query, packetID)
	if err != nil {
		r.logger.Error("Failed to list red packet claims", "packet_id", packetID.String(), "error", err)
		return nil, fmt.Errorf("failed to list red packet claims: %w", err)
	}
	defer rows.Close()

	var claims []*redpacket.Claim
	for rows.Next() {
		var c redpacket.Claim
		if err := rows.Scan(&c.ID, &c.PacketID, &c.WalletID, &c.Amount, &c.ClaimIndex, &c.CreatedAt); err != nil {
			r.logger.Error("Failed to scan red packet claim", "error", err)
			return nil, fmt.Errorf("failed to scan red packet claim: %w", err)
		}
		claims = append(claims, &c)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over red packet claims", "error", err)
		return nil, fmt.Errorf("error iterating over red packet claims: %w", err)
	}

	return claims, nil
}

// ListExpired returns active packets past their expiry, oldest first.
func (r *RedPacketRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*redpacket.Packet, error) {
	query := packetSelect + `
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3
	`

	rows, err := r.querier.Query(ctx, query, redpacket.StatusActive, now, limit)
	if err != nil {
		r.logger.Error("Failed to list expired red packets", "error", err)
		return nil, fmt.Errorf("failed to list expired red packets: %w", err)
	}
	defer rows.Close()

	var packets []*redpacket.Packet
	for rows.Next() {
		var p redpacket.Packet
		err := rows.Scan(
			&p.ID,
			&p.CreatorWallet,
			&p.Total,
			&p.Remaining,
			&p.Count,
			&p.Claimed,
			&p.Mode,
			&p.Currency,
			&p.ExpiresAt,
			&p.Status,
			&p.CreatedAt,
			&p.ResolvedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan red packet", "error", err)
			return nil, fmt.Errorf("failed to scan red packet: %w", err)
		}
		packets = append(packets, &p)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over red packets", "error", err)
		return nil, fmt.Errorf("error iterating over red packets: %w", err)
	}

	return packets, nil
}
