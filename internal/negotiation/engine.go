// Package negotiation runs price offers inside buyer/seller chats and closes
// the sale when the seller accepts one.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"marketplace/internal/apperr"
	"marketplace/internal/clock"
	"marketplace/internal/constants"
	"marketplace/internal/db"
	"marketplace/internal/metrics"
	"marketplace/internal/models"
	"marketplace/internal/ws"
)

// Publisher pushes an event to the live connections of the given accounts.
type Publisher interface {
	SendToAccounts(accountIDs []string, eventType string, payload any)
}

type Engine struct {
	store                Store
	clock                clock.Clock
	publisher            Publisher
	defaultValidityHours int
	logger               *slog.Logger
}

func NewEngine(store Store, clk clock.Clock, publisher Publisher, defaultValidityHours int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultValidityHours <= 0 {
		defaultValidityHours = 24
	}
	return &Engine{
		store:                store,
		clock:                clk,
		publisher:            publisher,
		defaultValidityHours: defaultValidityHours,
		logger:               logger.With("component", "negotiation"),
	}
}

var (
	errChatNotFound    = apperr.New(apperr.NotFound, "Chat not found")
	errOfferNotFound   = apperr.New(apperr.NotFound, "Offer not found")
	errProductNotFound = apperr.New(apperr.NotFound, "Product not found")
	errNotParticipant  = apperr.New(apperr.IllegalState, "You are not a participant in this chat")
	errNotPending      = apperr.New(apperr.IllegalState, "Offer is no longer pending")
	errAlreadySold     = apperr.New(apperr.IllegalState, "Product is already sold")
)

type MakeOfferRequest struct {
	ChatID        string
	Price         decimal.Decimal
	Note          string
	ValidityHours int
}

// MakeOffer records a new PENDING offer from requesterID. Any of the
// requester's own live offers on the chat become COUNTER_OFFERED.
func (e *Engine) MakeOffer(ctx context.Context, requesterID string, req MakeOfferRequest) (*OfferView, error) {
	if err := validatePrice(req.Price); err != nil {
		return nil, err
	}
	note, err := cleanText(req.Note, constants.OfferNoteMaxLength, "Note")
	if err != nil {
		return nil, err
	}
	hours, err := e.validityHours(req.ValidityHours)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	var (
		offer     *models.Negotiation
		chat      *models.Chat
		product   *models.Product
		displaced int64
	)
	err = e.store.InTx(ctx, func(r Repos) error {
		chat, err = findChat(ctx, r, req.ChatID)
		if err != nil {
			return err
		}
		if !chat.IsParticipant(requesterID) {
			return errNotParticipant
		}

		product, err = findProduct(ctx, r, chat.ProductID)
		if err != nil {
			return err
		}
		if product.Status == models.ProductSold {
			return errAlreadySold
		}
		if !product.Negotiable {
			return apperr.New(apperr.IllegalState, "This product is not negotiable")
		}

		author, err := r.Accounts.FindByID(ctx, requesterID)
		if err != nil {
			return fmt.Errorf("loading offer author: %w", err)
		}

		displaced, err = r.Offers.SupersedeAuthorPending(ctx, chat.ID, requesterID, now)
		if err != nil {
			return err
		}

		offer = &models.Negotiation{
			ChatID:      chat.ID,
			OfferedByID: requesterID,
			Price:       req.Price,
			Note:        note,
			Status:      models.NegotiationPending,
			ExpiresAt:   now.Add(time.Duration(hours) * time.Hour),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := r.Offers.Create(ctx, offer); err != nil {
			return err
		}

		content := fmt.Sprintf("💰 %s made an offer of %s", author.Username, formatPrice(offer.Price))
		if note != "" {
			content += " - " + note
		}
		return appendOfferMessage(ctx, r, chat.ID, requesterID, content, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.OfferTransitionsTotal.WithLabelValues(string(models.NegotiationPending)).Inc()
	if displaced > 0 {
		metrics.OfferTransitionsTotal.WithLabelValues(string(models.NegotiationCounterOffered)).Add(float64(displaced))
	}
	e.logger.Info("offer made", "offer_id", offer.ID, "chat_id", chat.ID, "author_id", requesterID, "superseded", displaced)
	e.publish(chat, ws.EventOfferCreated, offer)

	view := newOfferView(offer, chat, product, requesterID, now)
	return &view, nil
}

// AcceptOffer accepts a live offer and sells the product to its author. The
// status change, the sale and the rejection of every other pending offer on
// the chat commit together or not at all.
func (e *Engine) AcceptOffer(ctx context.Context, offerID, responderID string) (*OfferView, error) {
	now := e.clock.Now()
	var (
		offer    *models.Negotiation
		chat     *models.Chat
		product  *models.Product
		rejected int64
	)
	err := e.store.InTx(ctx, func(r Repos) error {
		var err error
		offer, chat, err = e.loadForResponse(ctx, r, offerID, responderID, "accept")
		if err != nil {
			return err
		}
		if offer.OfferedByID == responderID {
			return apperr.New(apperr.IllegalState, "You cannot accept your own offer")
		}
		if !offer.Pending(now) {
			return errNotPending
		}

		if err := r.Offers.Respond(ctx, offer.ID, models.NegotiationAccepted, now); err != nil {
			return respondError(err)
		}

		err = r.Products.MarkSold(ctx, chat.ProductID, offer.OfferedByID, offer.Price, responderID, now)
		switch {
		case errors.Is(err, db.ErrConflict):
			return errAlreadySold
		case errors.Is(err, db.ErrNotOwner):
			return apperr.New(apperr.IllegalState, "Only the seller can sell this product")
		case errors.Is(err, db.ErrNotFound):
			return errProductNotFound
		case err != nil:
			return err
		}

		rejected, err = r.Offers.RejectOtherPending(ctx, chat.ID, offer.ID, now)
		if err != nil {
			return err
		}

		buyer, err := r.Accounts.FindByID(ctx, offer.OfferedByID)
		if err != nil {
			return fmt.Errorf("loading buyer: %w", err)
		}
		content := fmt.Sprintf("✅ Offer of %s accepted! Product sold to %s", formatPrice(offer.Price), buyer.Username)
		if err := appendOfferMessage(ctx, r, chat.ID, responderID, content, now); err != nil {
			return err
		}

		offer.Status = models.NegotiationAccepted
		offer.RespondedAt = &now
		offer.UpdatedAt = now
		product, err = findProduct(ctx, r, chat.ProductID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.OfferTransitionsTotal.WithLabelValues(string(models.NegotiationAccepted)).Inc()
	if rejected > 0 {
		metrics.OfferTransitionsTotal.WithLabelValues(string(models.NegotiationRejected)).Add(float64(rejected))
	}
	e.logger.Info("offer accepted", "offer_id", offer.ID, "chat_id", chat.ID, "product_id", chat.ProductID, "competing_rejected", rejected)
	e.publish(chat, ws.EventOfferAccepted, offer)
	e.publish(chat, ws.EventProductSold, product)

	view := newOfferView(offer, chat, product, responderID, now)
	return &view, nil
}

// RejectOffer declines a live offer. reason is optional.
func (e *Engine) RejectOffer(ctx context.Context, offerID, responderID, reason string) (*OfferView, error) {
	reason, err := cleanText(reason, constants.RejectReasonMaxLength, "Reason")
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	var (
		offer   *models.Negotiation
		chat    *models.Chat
		product *models.Product
	)
	err = e.store.InTx(ctx, func(r Repos) error {
		var err error
		offer, chat, err = e.loadForResponse(ctx, r, offerID, responderID, "reject")
		if err != nil {
			return err
		}
		if !offer.Pending(now) {
			return errNotPending
		}

		if err := r.Offers.Respond(ctx, offer.ID, models.NegotiationRejected, now); err != nil {
			return respondError(err)
		}

		content := fmt.Sprintf("❌ Offer of %s was declined", formatPrice(offer.Price))
		if reason != "" {
			content += ": " + reason
		}
		if err := appendOfferMessage(ctx, r, chat.ID, responderID, content, now); err != nil {
			return err
		}

		offer.Status = models.NegotiationRejected
		offer.RespondedAt = &now
		offer.UpdatedAt = now
		product, err = findProduct(ctx, r, chat.ProductID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.OfferTransitionsTotal.WithLabelValues(string(models.NegotiationRejected)).Inc()
	e.logger.Info("offer rejected", "offer_id", offer.ID, "chat_id", chat.ID)
	e.publish(chat, ws.EventOfferRejected, offer)

	view := newOfferView(offer, chat, product, responderID, now)
	return &view, nil
}

// ChatOffers lists every offer on the chat, newest first, as seen by callerID.
func (e *Engine) ChatOffers(ctx context.Context, chatID, callerID string) ([]OfferView, error) {
	r := e.store.Repos()
	chat, err := findChat(ctx, r, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(callerID) {
		return nil, errNotParticipant
	}
	product, err := findProduct(ctx, r, chat.ProductID)
	if err != nil {
		return nil, err
	}

	offers, err := r.Offers.ListByChat(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	views := make([]OfferView, 0, len(offers))
	for _, n := range offers {
		views = append(views, newOfferView(n, chat, product, callerID, now))
	}
	return views, nil
}

// PendingForSeller lists live offers across every chat where sellerID sells.
func (e *Engine) PendingForSeller(ctx context.Context, sellerID string) ([]OfferView, error) {
	r := e.store.Repos()
	now := e.clock.Now()

	offers, err := r.Offers.ActivePendingForSeller(ctx, sellerID, now)
	if err != nil {
		return nil, err
	}

	chats := make(map[string]*models.Chat)
	products := make(map[string]*models.Product)
	views := make([]OfferView, 0, len(offers))
	for _, n := range offers {
		chat, ok := chats[n.ChatID]
		if !ok {
			if chat, err = findChat(ctx, r, n.ChatID); err != nil {
				return nil, err
			}
			chats[n.ChatID] = chat
		}
		product, ok := products[chat.ProductID]
		if !ok {
			if product, err = findProduct(ctx, r, chat.ProductID); err != nil {
				return nil, err
			}
			products[chat.ProductID] = product
		}
		views = append(views, newOfferView(n, chat, product, sellerID, now))
	}
	return views, nil
}

// SweepExpired rejects every PENDING offer whose validity ended before now.
// Running it again only touches rows that are still PENDING.
func (e *Engine) SweepExpired(ctx context.Context) (int64, error) {
	n, err := e.store.Repos().Offers.ExpirePending(ctx, e.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.OffersExpiredTotal.Add(float64(n))
		e.logger.Info("expired offers rejected", "count", n)
	}
	return n, nil
}

func (e *Engine) loadForResponse(ctx context.Context, r Repos, offerID, responderID, action string) (*models.Negotiation, *models.Chat, error) {
	offer, err := r.Offers.FindByID(ctx, offerID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, errOfferNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	chat, err := findChat(ctx, r, offer.ChatID)
	if err != nil {
		return nil, nil, err
	}
	if responderID != chat.SellerID {
		return nil, nil, apperr.Newf(apperr.IllegalState, "Only the seller can %s offers", action)
	}
	return offer, chat, nil
}

func (e *Engine) publish(chat *models.Chat, eventType string, payload any) {
	if e.publisher == nil {
		return
	}
	event := payload
	if n, ok := payload.(*models.Negotiation); ok {
		event = OfferEvent{ChatID: chat.ID, ProductID: chat.ProductID, Offer: n}
	}
	e.publisher.SendToAccounts([]string{chat.BuyerID, chat.SellerID}, eventType, event)
}

func findChat(ctx context.Context, r Repos, id string) (*models.Chat, error) {
	chat, err := r.Chats.FindByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errChatNotFound
	}
	return chat, err
}

func findProduct(ctx context.Context, r Repos, id string) (*models.Product, error) {
	product, err := r.Products.FindByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errProductNotFound
	}
	return product, err
}

func respondError(err error) error {
	if errors.Is(err, db.ErrConflict) {
		return errNotPending
	}
	return err
}

func appendOfferMessage(ctx context.Context, r Repos, chatID, senderID, content string, now time.Time) error {
	return r.Chats.AppendMessage(ctx, &models.ChatMessage{
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Type:      models.MessageOffer,
		CreatedAt: now,
	})
}

func formatPrice(p decimal.Decimal) string {
	return "$" + p.StringFixed(2)
}
