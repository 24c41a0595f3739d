package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type NegotiationStatus string

const (
	NegotiationPending        NegotiationStatus = "PENDING"
	NegotiationAccepted       NegotiationStatus = "ACCEPTED"
	NegotiationRejected       NegotiationStatus = "REJECTED"
	NegotiationCounterOffered NegotiationStatus = "COUNTER_OFFERED"
)

// Terminal reports whether no further transition is allowed.
func (s NegotiationStatus) Terminal() bool {
	return s != NegotiationPending
}

type Negotiation struct {
	ID          string            `json:"id"`
	ChatID      string            `json:"chatId"`
	OfferedByID string            `json:"offeredById"`
	Price       decimal.Decimal   `json:"offeredPrice"`
	Note        string            `json:"note,omitempty"`
	Status      NegotiationStatus `json:"status"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	RespondedAt *time.Time        `json:"respondedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Expired reports whether the validity window has closed at now.
func (n *Negotiation) Expired(now time.Time) bool {
	return !now.Before(n.ExpiresAt)
}

// Pending reports whether the offer can still be accepted or rejected.
// An expired offer is not pending even if the sweep has not yet run.
func (n *Negotiation) Pending(now time.Time) bool {
	return n.Status == NegotiationPending && !n.Expired(now)
}
