package negotiation

import (
	"time"

	"github.com/shopspring/decimal"

	"marketplace/internal/models"
)

// OfferView is an offer as seen by one caller. The flags are computed for
// that caller at the time of the read.
type OfferView struct {
	ID            string                   `json:"id"`
	ChatID        string                   `json:"chatId"`
	ProductID     string                   `json:"productId"`
	OfferedByID   string                   `json:"offeredById"`
	OfferedPrice  decimal.Decimal          `json:"offeredPrice"`
	OriginalPrice decimal.Decimal          `json:"originalPrice"`
	Note          string                   `json:"note,omitempty"`
	Status        models.NegotiationStatus `json:"status"`
	ExpiresAt     time.Time                `json:"expiresAt"`
	RespondedAt   *time.Time               `json:"respondedAt,omitempty"`
	CreatedAt     time.Time                `json:"createdAt"`
	IsExpired     bool                     `json:"isExpired"`
	IsPending     bool                     `json:"isPending"`
	CanRespond    bool                     `json:"canRespond"`
	IsOwnOffer    bool                     `json:"isOwnOffer"`
}

func newOfferView(n *models.Negotiation, chat *models.Chat, product *models.Product, callerID string, now time.Time) OfferView {
	pending := n.Pending(now)
	v := OfferView{
		ID:           n.ID,
		ChatID:       n.ChatID,
		ProductID:    chat.ProductID,
		OfferedByID:  n.OfferedByID,
		OfferedPrice: n.Price,
		Note:         n.Note,
		Status:       n.Status,
		ExpiresAt:    n.ExpiresAt,
		RespondedAt:  n.RespondedAt,
		CreatedAt:    n.CreatedAt,
		IsExpired:    n.Expired(now),
		IsPending:    pending,
		CanRespond:   pending && callerID == chat.SellerID && callerID != n.OfferedByID,
		IsOwnOffer:   callerID == n.OfferedByID,
	}
	if product != nil {
		v.OriginalPrice = product.Price
	}
	return v
}

// OfferEvent is pushed to both chat participants after a committed change.
type OfferEvent struct {
	ChatID    string              `json:"chatId"`
	ProductID string              `json:"productId"`
	Offer     *models.Negotiation `json:"offer"`
}
