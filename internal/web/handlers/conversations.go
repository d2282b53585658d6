package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/Tris3514/EmailSystem/internal/conversation"
	"github.com/Tris3514/EmailSystem/internal/generator"
	"github.com/Tris3514/EmailSystem/internal/mail"
	"github.com/Tris3514/EmailSystem/internal/models"
	"github.com/Tris3514/EmailSystem/internal/scheduler"
	"github.com/Tris3514/EmailSystem/internal/store"
)

// ConversationHandler serves the conversation API: CRUD, message generation
// and email dispatch.
type ConversationHandler struct {
	conversations *conversation.Service
	engine        *scheduler.Engine

	mu      sync.Mutex
	batches map[string]context.CancelFunc
}

// NewConversationHandler creates a new ConversationHandler.
func NewConversationHandler(conversations *conversation.Service, engine *scheduler.Engine) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		engine:        engine,
		batches:       make(map[string]context.CancelFunc),
	}
}

type conversationRequest struct {
	Name               string   `json:"name"`
	SelectedAccountID  string   `json:"selectedAccountId"`
	OtherAccountIDs    []string `json:"otherAccountIds"`
	Prompt             string   `json:"prompt"`
	MinDelayMinutes    float64  `json:"minDelayMinutes"`
	MaxDelayMinutes    float64  `json:"maxDelayMinutes"`
	ConversationLength int      `json:"conversationLength"`
	EmailSubject       string   `json:"emailSubject"`
}

func (r conversationRequest) params() conversation.Params {
	return conversation.Params{
		Name:               r.Name,
		SelectedAccountID:  r.SelectedAccountID,
		OtherAccountIDs:    r.OtherAccountIDs,
		Prompt:             r.Prompt,
		MinDelayMinutes:    r.MinDelayMinutes,
		MaxDelayMinutes:    r.MaxDelayMinutes,
		ConversationLength: r.ConversationLength,
		EmailSubject:       r.EmailSubject,
	}
}

func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	convos, err := h.conversations.List(r.Context())
	if err != nil {
		slog.Error("failed to list conversations", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}
	if convos == nil {
		convos = []models.Conversation{}
	}
	writeJSON(w, http.StatusOK, convos)
}

func (h *ConversationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON body"})
		return
	}

	conv, err := h.conversations.Create(r.Context(), req.params())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversations.Get(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON body"})
		return
	}

	conv, err := h.conversations.Update(r.Context(), chi.URLParam(r, "conversationID"), req.params())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.conversations.Delete(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleGenerateNext appends one generated message to the conversation.
func (h *ConversationHandler) HandleGenerateNext(w http.ResponseWriter, r *http.Request) {
	msg, err := h.conversations.GenerateNext(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type generateFullRequest struct {
	Length int `json:"length"`
}

// HandleGenerateFull generates a whole exchange in one call. The response
// contains the messages appended so far even when a later turn fails.
func (h *ConversationHandler) HandleGenerateFull(w http.ResponseWriter, r *http.Request) {
	var req generateFullRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON body"})
			return
		}
	}

	msgs, err := h.conversations.GenerateFull(r.Context(), chi.URLParam(r, "conversationID"), req.Length)
	if err != nil {
		if len(msgs) > 0 {
			slog.Error("full generation stopped early", "error", err, "generated", len(msgs))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"messages": msgs,
				"error":    err.Error(),
			})
			return
		}
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// HandleSendAll starts a send batch in the background and returns 202. The
// batch honours each message's randomised schedule, so it can run for a long
// time; progress is read by polling the conversation.
func (h *ConversationHandler) HandleSendAll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	conv, err := h.conversations.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	participants, err := h.conversations.Participants(r.Context(), conv)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.mu.Lock()
	if _, running := h.batches[id]; running {
		h.mu.Unlock()
		writeJSON(w, http.StatusConflict, jsonResponse{Error: "a send batch is already running for this conversation"})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.batches[id] = cancel
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.batches, id)
			h.mu.Unlock()
			cancel()
		}()

		result, err := h.engine.ScheduleAndSend(ctx, id, participants)
		if err != nil {
			slog.Error("send batch finished with error", "conversation_id", id, "error", err)
			return
		}
		slog.Info("send batch finished",
			"conversation_id", id,
			"sent", result.SentCount,
			"total", result.TotalCount,
			"skipped", result.SkippedAccounts)
	}()

	writeJSON(w, http.StatusAccepted, jsonResponse{OK: true})
}

// HandleCancelSend cancels a running send batch, if any.
func (h *ConversationHandler) HandleCancelSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	h.mu.Lock()
	cancel, running := h.batches[id]
	h.mu.Unlock()

	if !running {
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "no send batch running for this conversation"})
		return
	}
	cancel()
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleSendOne dispatches a single message immediately, threading it onto
// the latest sent message in the conversation.
func (h *ConversationHandler) HandleSendOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	conv, err := h.conversations.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	participants, err := h.conversations.Participants(r.Context(), conv)
	if err != nil {
		h.respondError(w, err)
		return
	}

	messageID, err := h.engine.SendOne(r.Context(), id, chi.URLParam(r, "messageID"), participants)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"emailMessageId": messageID})
}

func (h *ConversationHandler) HandleClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := h.conversations.ClearMessages(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

func (h *ConversationHandler) respondError(w http.ResponseWriter, err error) {
	var apiErr *generator.APIError
	var dispatchErr *mail.DispatchError

	switch {
	case errors.Is(err, conversation.ErrNameRequired),
		errors.Is(err, conversation.ErrNoParticipants),
		errors.Is(err, scheduler.ErrNothingToSend),
		errors.Is(err, scheduler.ErrMessageSent):
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "conversation not found"})
	case errors.Is(err, scheduler.ErrMessageNotFound):
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "message not found"})
	case errors.Is(err, scheduler.ErrSenderUnresolved), errors.Is(err, mail.ErrNoCredentials):
		writeJSON(w, http.StatusUnprocessableEntity, jsonResponse{Error: err.Error()})
	case errors.As(err, &apiErr), errors.Is(err, generator.ErrEmptyCompletion):
		slog.Error("generation failed", "error", err)
		writeJSON(w, http.StatusBadGateway, jsonResponse{Error: err.Error()})
	case errors.As(err, &dispatchErr):
		slog.Error("dispatch failed", "kind", dispatchErr.Kind, "error", err)
		writeJSON(w, http.StatusBadGateway, jsonResponse{Error: err.Error()})
	default:
		slog.Error("conversation handler error", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
	}
}
