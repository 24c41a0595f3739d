package negotiation

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"marketplace/internal/db"
	"marketplace/internal/models"
)

type ChatStore interface {
	FindByID(ctx context.Context, id string) (*models.Chat, error)
	AppendMessage(ctx context.Context, m *models.ChatMessage) error
}

type OfferStore interface {
	Create(ctx context.Context, n *models.Negotiation) error
	FindByID(ctx context.Context, id string) (*models.Negotiation, error)
	ListByChat(ctx context.Context, chatID string) ([]*models.Negotiation, error)
	ActivePendingForSeller(ctx context.Context, sellerID string, now time.Time) ([]*models.Negotiation, error)
	SupersedeAuthorPending(ctx context.Context, chatID, authorID string, now time.Time) (int64, error)
	Respond(ctx context.Context, id string, to models.NegotiationStatus, now time.Time) error
	RejectOtherPending(ctx context.Context, chatID, keepID string, now time.Time) (int64, error)
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

// ProductStore is the product side of a sale. MarkSold must refuse a caller
// who is not the recorded seller and a product that is already sold.
type ProductStore interface {
	FindByID(ctx context.Context, id string) (*models.Product, error)
	MarkSold(ctx context.Context, productID, buyerID string, price decimal.Decimal, sellerID string, at time.Time) error
}

type AccountStore interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
}

// Repos is one consistent view of the stores, either plain or bound to a
// transaction.
type Repos struct {
	Chats    ChatStore
	Offers   OfferStore
	Products ProductStore
	Accounts AccountStore
}

type Store interface {
	Repos() Repos
	// InTx runs fn in one transaction. Every write made through the Repos
	// handed to fn commits or rolls back together.
	InTx(ctx context.Context, fn func(Repos) error) error
}

type SQLStore struct {
	db       *db.DB
	chats    *db.ChatRepository
	offers   *db.NegotiationRepository
	products *db.ProductRepository
	accounts *db.AccountRepository
}

func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{
		db:       database,
		chats:    db.NewChatRepository(database),
		offers:   db.NewNegotiationRepository(database),
		products: db.NewProductRepository(database),
		accounts: db.NewAccountRepository(database),
	}
}

func (s *SQLStore) Repos() Repos {
	return Repos{Chats: s.chats, Offers: s.offers, Products: s.products, Accounts: s.accounts}
}

func (s *SQLStore) InTx(ctx context.Context, fn func(Repos) error) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(Repos{
			Chats:    s.chats.WithTx(tx),
			Offers:   s.offers.WithTx(tx),
			Products: s.products.WithTx(tx),
			Accounts: s.accounts.WithTx(tx),
		})
	})
}
