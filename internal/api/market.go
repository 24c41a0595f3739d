package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"marketplace/internal/apperr"
	"marketplace/internal/clock"
	"marketplace/internal/db"
	"marketplace/internal/models"
)

var maxListingPrice = decimal.RequireFromString("999999.99")

// MarketHandler serves the listing and chat records offers are made against.
type MarketHandler struct {
	products *db.ProductRepository
	chats    *db.ChatRepository
	clock    clock.Clock
}

func NewMarketHandler(products *db.ProductRepository, chats *db.ChatRepository, clk clock.Clock) *MarketHandler {
	return &MarketHandler{products: products, chats: chats, clock: clk}
}

type CreateProductRequest struct {
	Title      string          `json:"title" validate:"required,max=200"`
	Price      decimal.Decimal `json:"price"`
	Negotiable bool            `json:"negotiable"`
}

func (h *MarketHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		badRequest(w, "title is required")
		return
	}
	if !req.Price.IsPositive() || req.Price.GreaterThan(maxListingPrice) || !req.Price.Equal(req.Price.Truncate(2)) {
		badRequest(w, "price must be between 0.01 and 999999.99 with at most 2 decimal places")
		return
	}

	product := &models.Product{
		SellerID:   GetAccountID(r),
		Title:      title,
		Price:      req.Price,
		Negotiable: req.Negotiable,
		CreatedAt:  h.clock.Now(),
	}
	if err := h.products.Create(r.Context(), product); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "Account not found")
			return
		}
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (h *MarketHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.products.FindByID(r.Context(), chi.URLParam(r, "productID"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Product not found")
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// OpenChat returns the caller's chat about the product, creating it on first
// contact.
func (h *MarketHandler) OpenChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyerID := GetAccountID(r)

	product, err := h.products.FindByID(ctx, chi.URLParam(r, "productID"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Product not found")
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if product.SellerID == buyerID {
		writeAppError(w, r, apperr.New(apperr.IllegalState, "You cannot open a chat on your own product"))
		return
	}

	existing, err := h.chats.FindByProductAndBuyer(ctx, product.ID, buyerID)
	if err == nil {
		writeJSON(w, http.StatusOK, existing)
		return
	}
	if !errors.Is(err, db.ErrNotFound) {
		writeAppError(w, r, err)
		return
	}

	chat := &models.Chat{
		ProductID: product.ID,
		BuyerID:   buyerID,
		SellerID:  product.SellerID,
		CreatedAt: h.clock.Now(),
	}
	if err := h.chats.Create(ctx, chat); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			// Lost a race with a concurrent open.
			existing, err = h.chats.FindByProductAndBuyer(ctx, product.ID, buyerID)
			if err == nil {
				writeJSON(w, http.StatusOK, existing)
				return
			}
		}
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *MarketHandler) ChatMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chat, err := h.chats.FindByID(ctx, chi.URLParam(r, "chatID"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Chat not found")
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !chat.IsParticipant(GetAccountID(r)) {
		writeAppError(w, r, apperr.New(apperr.IllegalState, "You are not a participant in this chat"))
		return
	}

	messages, err := h.chats.Messages(ctx, chat.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if messages == nil {
		messages = []*models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}
