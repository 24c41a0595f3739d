package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace/internal/models"
)

type ChatRepository struct {
	q querier
}

func NewChatRepository(db *DB) *ChatRepository {
	return &ChatRepository{q: db}
}

func (r *ChatRepository) WithTx(tx *sql.Tx) *ChatRepository {
	return &ChatRepository{q: tx}
}

func (r *ChatRepository) Create(ctx context.Context, c *models.Chat) error {
	if c.ID == "" {
		id, err := GenerateID("cht")
		if err != nil {
			return fmt.Errorf("generating chat ID: %w", err)
		}
		c.ID = id
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO chats (id, product_id, buyer_id, seller_id, created_at, last_message_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProductID, c.BuyerID, c.SellerID, c.CreatedAt.UTC(), timePtrArg(c.LastMessageAt),
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		if IsForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("creating chat: %w", err)
	}
	return nil
}

func (r *ChatRepository) FindByID(ctx context.Context, id string) (*models.Chat, error) {
	var c models.Chat
	var lastMessageAt sql.NullTime

	err := r.q.QueryRowContext(ctx,
		`SELECT id, product_id, buyer_id, seller_id, created_at, last_message_at FROM chats WHERE id = ?`, id,
	).Scan(&c.ID, &c.ProductID, &c.BuyerID, &c.SellerID, &c.CreatedAt, &lastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat: %w", err)
	}

	c.CreatedAt = c.CreatedAt.UTC()
	c.LastMessageAt = nullTimeToPtr(lastMessageAt)
	return &c, nil
}

// FindByProductAndBuyer returns the buyer's chat about the product.
func (r *ChatRepository) FindByProductAndBuyer(ctx context.Context, productID, buyerID string) (*models.Chat, error) {
	var c models.Chat
	var lastMessageAt sql.NullTime

	err := r.q.QueryRowContext(ctx,
		`SELECT id, product_id, buyer_id, seller_id, created_at, last_message_at
		 FROM chats WHERE product_id = ? AND buyer_id = ?`, productID, buyerID,
	).Scan(&c.ID, &c.ProductID, &c.BuyerID, &c.SellerID, &c.CreatedAt, &lastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat: %w", err)
	}

	c.CreatedAt = c.CreatedAt.UTC()
	c.LastMessageAt = nullTimeToPtr(lastMessageAt)
	return &c, nil
}

// AppendMessage stores m and bumps the chat's last message time.
func (r *ChatRepository) AppendMessage(ctx context.Context, m *models.ChatMessage) error {
	if m.ID == "" {
		id, err := GenerateID("msg")
		if err != nil {
			return fmt.Errorf("generating message ID: %w", err)
		}
		m.ID = id
	}
	if m.Type == "" {
		m.Type = models.MessageText
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO chat_messages (id, chat_id, sender_id, content, message_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.Type, m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating chat message: %w", err)
	}

	result, err := r.q.ExecContext(ctx,
		`UPDATE chats SET last_message_at = ? WHERE id = ?`, m.CreatedAt.UTC(), m.ChatID)
	if err != nil {
		return fmt.Errorf("updating chat: %w", err)
	}
	return checkRowsAffected(result)
}

// Messages returns the chat's messages oldest first.
func (r *ChatRepository) Messages(ctx context.Context, chatID string) ([]*models.ChatMessage, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, chat_id, sender_id, content, message_type, created_at
		 FROM chat_messages WHERE chat_id = ? ORDER BY created_at, rowid`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chat messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Type, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
