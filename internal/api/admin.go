package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"marketplace/internal/models"
	"marketplace/internal/moderation"
)

type AdminHandler struct {
	moderation *moderation.Service
}

func NewAdminHandler(moderation *moderation.Service) *AdminHandler {
	return &AdminHandler{moderation: moderation}
}

type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.moderation.ListAccounts(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *AdminHandler) Lock(w http.ResponseWriter, r *http.Request) {
	account, err := h.moderation.Lock(r.Context(), GetAccountID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	account, err := h.moderation.Unlock(r.Context(), GetAccountID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *AdminHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req SetEnabledRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	account, err := h.moderation.SetEnabled(r.Context(), GetAccountID(r), chi.URLParam(r, "id"), *req.Enabled)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}
