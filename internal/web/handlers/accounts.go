package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Tris3514/EmailSystem/internal/account"
	"github.com/Tris3514/EmailSystem/internal/models"
	"github.com/Tris3514/EmailSystem/internal/store"
)

// AccountHandler serves the account CRUD API.
type AccountHandler struct {
	accounts *account.Service
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts *account.Service) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

type accountRequest struct {
	Name        string              `json:"name"`
	Email       string              `json:"email"`
	Personality string              `json:"personality"`
	EmailConfig *models.EmailConfig `json:"emailConfig"`
}

func (h *AccountHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context())
	if err != nil {
		slog.Error("failed to list accounts", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *AccountHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON body"})
		return
	}

	a, err := h.accounts.Create(r.Context(), account.CreateParams{
		Name:        req.Name,
		Email:       req.Email,
		Personality: req.Personality,
		EmailConfig: req.EmailConfig,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *AccountHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.accounts.Get(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AccountHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON body"})
		return
	}

	a, err := h.accounts.Update(r.Context(), chi.URLParam(r, "accountID"), account.CreateParams{
		Name:        req.Name,
		Email:       req.Email,
		Personality: req.Personality,
		EmailConfig: req.EmailConfig,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AccountHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Delete(r.Context(), chi.URLParam(r, "accountID")); err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

func (h *AccountHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, account.ErrNameRequired), errors.Is(err, account.ErrEmailRequired):
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "account not found"})
	default:
		slog.Error("account handler error", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
	}
}
