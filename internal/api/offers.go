package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"marketplace/internal/negotiation"
)

type OfferHandler struct {
	engine *negotiation.Engine
}

func NewOfferHandler(engine *negotiation.Engine) *OfferHandler {
	return &OfferHandler{engine: engine}
}

// MakeOfferRequest accepts the price as a JSON number or a decimal string.
type MakeOfferRequest struct {
	Price         decimal.Decimal `json:"price"`
	Note          string          `json:"note" validate:"max=2000"`
	ValidityHours int             `json:"validityHours" validate:"min=0"`
}

type RejectOfferRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

func (h *OfferHandler) Make(w http.ResponseWriter, r *http.Request) {
	var req MakeOfferRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	view, err := h.engine.MakeOffer(r.Context(), GetAccountID(r), negotiation.MakeOfferRequest{
		ChatID:        chi.URLParam(r, "chatID"),
		Price:         req.Price,
		Note:          req.Note,
		ValidityHours: req.ValidityHours,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *OfferHandler) ListForChat(w http.ResponseWriter, r *http.Request) {
	views, err := h.engine.ChatOffers(r.Context(), chi.URLParam(r, "chatID"), GetAccountID(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *OfferHandler) Accept(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.AcceptOffer(r.Context(), chi.URLParam(r, "offerID"), GetAccountID(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OfferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectOfferRequest
	if err := decodeOptional(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	view, err := h.engine.RejectOffer(r.Context(), chi.URLParam(r, "offerID"), GetAccountID(r), req.Reason)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OfferHandler) PendingForSeller(w http.ResponseWriter, r *http.Request) {
	views, err := h.engine.PendingForSeller(r.Context(), GetAccountID(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}
