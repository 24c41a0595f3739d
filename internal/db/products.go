package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketplace/internal/models"
)

// ErrNotOwner is returned when a seller-only change is attempted by someone else.
var ErrNotOwner = errors.New("not the owner")

const productColumns = `id, seller_id, title, price, negotiable, status, buyer_id, sold_price, sold_at, created_at`

type ProductRepository struct {
	q querier
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{q: db}
}

func (r *ProductRepository) WithTx(tx *sql.Tx) *ProductRepository {
	return &ProductRepository{q: tx}
}

func (r *ProductRepository) Create(ctx context.Context, p *models.Product) error {
	if p.ID == "" {
		id, err := GenerateID("prd")
		if err != nil {
			return fmt.Errorf("generating product ID: %w", err)
		}
		p.ID = id
	}
	if p.Status == "" {
		p.Status = models.ProductAvailable
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO products (id, seller_id, title, price, negotiable, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SellerID, p.Title, p.Price.StringFixed(2), p.Negotiable, p.Status, p.CreatedAt.UTC(),
	)
	if err != nil {
		if IsForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("creating product: %w", err)
	}
	return nil
}

func (r *ProductRepository) FindByID(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	var buyerID sql.NullString
	var soldPrice decimal.NullDecimal
	var soldAt sql.NullTime

	err := r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id).Scan(
		&p.ID, &p.SellerID, &p.Title, &p.Price, &p.Negotiable, &p.Status, &buyerID, &soldPrice, &soldAt, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying product: %w", err)
	}

	p.BuyerID = nullStringToPtr(buyerID)
	if soldPrice.Valid {
		p.SoldPrice = &soldPrice.Decimal
	}
	p.SoldAt = nullTimeToPtr(soldAt)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// MarkSold finalizes the sale. It fails with ErrNotFound when the product
// does not exist, ErrNotOwner when sellerID is not the recorded seller, and
// ErrConflict when the product is already sold.
func (r *ProductRepository) MarkSold(ctx context.Context, productID, buyerID string, price decimal.Decimal, sellerID string, at time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE products SET status = ?, buyer_id = ?, sold_price = ?, sold_at = ?
		 WHERE id = ? AND seller_id = ? AND status != ?`,
		models.ProductSold, buyerID, price.StringFixed(2), at.UTC(),
		productID, sellerID, models.ProductSold,
	)
	if err != nil {
		return fmt.Errorf("marking product sold: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	p, err := r.FindByID(ctx, productID)
	if err != nil {
		return err
	}
	if p.SellerID != sellerID {
		return ErrNotOwner
	}
	return ErrConflict
}
