package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"
)

const negotiationColumns = `n.id, n.chat_id, n.offered_by, n.price, n.note, n.status, n.expires_at,
	n.responded_at, n.created_at, n.updated_at`

type NegotiationRepository struct {
	q querier
}

func NewNegotiationRepository(db *DB) *NegotiationRepository {
	return &NegotiationRepository{q: db}
}

func (r *NegotiationRepository) WithTx(tx *sql.Tx) *NegotiationRepository {
	return &NegotiationRepository{q: tx}
}

func (r *NegotiationRepository) Create(ctx context.Context, n *models.Negotiation) error {
	if n.ID == "" {
		id, err := GenerateID("neg")
		if err != nil {
			return fmt.Errorf("generating negotiation ID: %w", err)
		}
		n.ID = id
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO negotiations (id, chat_id, offered_by, price, note, status, expires_at, responded_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.ChatID, n.OfferedByID, n.Price.StringFixed(2), n.Note, n.Status,
		n.ExpiresAt.UTC(), timePtrArg(n.RespondedAt), n.CreatedAt.UTC(), n.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating negotiation: %w", err)
	}
	return nil
}

func (r *NegotiationRepository) FindByID(ctx context.Context, id string) (*models.Negotiation, error) {
	n, err := scanNegotiation(r.q.QueryRowContext(ctx,
		`SELECT `+negotiationColumns+` FROM negotiations n WHERE n.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying negotiation: %w", err)
	}
	return n, nil
}

// ListByChat returns every offer of the chat, newest first.
func (r *NegotiationRepository) ListByChat(ctx context.Context, chatID string) ([]*models.Negotiation, error) {
	return r.list(ctx,
		`SELECT `+negotiationColumns+` FROM negotiations n
		 WHERE n.chat_id = ? ORDER BY n.created_at DESC, n.rowid DESC`,
		chatID,
	)
}

// ActivePendingForSeller returns live offers on every chat where sellerID
// is the seller, newest first.
func (r *NegotiationRepository) ActivePendingForSeller(ctx context.Context, sellerID string, now time.Time) ([]*models.Negotiation, error) {
	return r.list(ctx,
		`SELECT `+negotiationColumns+` FROM negotiations n
		 JOIN chats c ON c.id = n.chat_id
		 WHERE c.seller_id = ? AND n.status = ? AND n.expires_at > ?
		 ORDER BY n.created_at DESC, n.rowid DESC`,
		sellerID, models.NegotiationPending, now.UTC(),
	)
}

// SupersedeAuthorPending moves the author's live offers on the chat to
// COUNTER_OFFERED.
func (r *NegotiationRepository) SupersedeAuthorPending(ctx context.Context, chatID, authorID string, now time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE negotiations SET status = ?, updated_at = ?
		 WHERE chat_id = ? AND offered_by = ? AND status = ? AND expires_at > ?`,
		models.NegotiationCounterOffered, now.UTC(),
		chatID, authorID, models.NegotiationPending, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("superseding offers: %w", err)
	}
	return result.RowsAffected()
}

// Respond moves a live offer to a terminal status and stamps respondedAt.
// The update only applies while the row is PENDING and unexpired; otherwise
// it returns ErrConflict and changes nothing.
func (r *NegotiationRepository) Respond(ctx context.Context, id string, to models.NegotiationStatus, now time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE negotiations SET status = ?, responded_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND expires_at > ?`,
		to, now.UTC(), now.UTC(),
		id, models.NegotiationPending, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("responding to offer: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// RejectOtherPending rejects every PENDING offer on the chat except keepID.
func (r *NegotiationRepository) RejectOtherPending(ctx context.Context, chatID, keepID string, now time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE negotiations SET status = ?, updated_at = ?
		 WHERE chat_id = ? AND id != ? AND status = ?`,
		models.NegotiationRejected, now.UTC(),
		chatID, keepID, models.NegotiationPending,
	)
	if err != nil {
		return 0, fmt.Errorf("rejecting competing offers: %w", err)
	}
	return result.RowsAffected()
}

// ExpirePending rejects every PENDING offer whose expiry is before now.
// Rows already moved out of PENDING are untouched, so repeated runs are
// harmless.
func (r *NegotiationRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE negotiations SET status = ?, updated_at = ?
		 WHERE status = ? AND expires_at < ?`,
		models.NegotiationRejected, now.UTC(),
		models.NegotiationPending, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("expiring offers: %w", err)
	}
	return result.RowsAffected()
}

func (r *NegotiationRepository) list(ctx context.Context, query string, args ...any) ([]*models.Negotiation, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying negotiations: %w", err)
	}
	defer rows.Close()

	var out []*models.Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning negotiation: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNegotiation(s rowScanner) (*models.Negotiation, error) {
	var n models.Negotiation
	var respondedAt sql.NullTime

	err := s.Scan(
		&n.ID, &n.ChatID, &n.OfferedByID, &n.Price, &n.Note, &n.Status, &n.ExpiresAt,
		&respondedAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.RespondedAt = nullTimeToPtr(respondedAt)
	n.ExpiresAt = n.ExpiresAt.UTC()
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return &n, nil
}
