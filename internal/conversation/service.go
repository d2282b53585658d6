package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tris3514/EmailSystem/internal/generator"
	"github.com/Tris3514/EmailSystem/internal/models"
	"github.com/Tris3514/EmailSystem/internal/store"
)

// Sentinel errors returned by Service methods.
var (
	ErrNameRequired   = errors.New("conversation name is required")
	ErrNoParticipants = errors.New("conversation has no participants")
)

// Generator produces the next message for the given sender. Implemented by
// the chat-completions client; tests substitute a fake.
type Generator interface {
	Generate(ctx context.Context, sender models.Account, others []models.Account, history []models.Message, prompt string) (*generator.Result, error)
}

// Mirror receives the full conversation list after every mutation so an
// external copy (the spreadsheet) stays in sync. Mirroring is best-effort.
type Mirror interface {
	SyncConversations(ctx context.Context, conversations []models.Conversation) error
}

// NoopMirror is a Mirror that does nothing.
type NoopMirror struct{}

func (n *NoopMirror) SyncConversations(_ context.Context, _ []models.Conversation) error {
	return nil
}

// Service provides conversation business logic.
type Service struct {
	conversations store.ConversationStore
	accounts      store.AccountStore
	generator     Generator
	mirror        Mirror
}

// NewService creates a new conversation Service.
func NewService(conversations store.ConversationStore, accounts store.AccountStore, gen Generator, mirror Mirror) *Service {
	return &Service{
		conversations: conversations,
		accounts:      accounts,
		generator:     gen,
		mirror:        mirror,
	}
}

// Params are the user-editable conversation fields.
type Params struct {
	Name               string
	SelectedAccountID  string
	OtherAccountIDs    []string
	Prompt             string
	MinDelayMinutes    float64
	MaxDelayMinutes    float64
	ConversationLength int
	EmailSubject       string
}

// Create validates the params and stores a new conversation.
func (s *Service) Create(ctx context.Context, params Params) (*models.Conversation, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, ErrNameRequired
	}

	now := time.Now().UTC()
	c := &models.Conversation{
		ID:                 uuid.NewString(),
		Name:               name,
		SelectedAccountID:  params.SelectedAccountID,
		OtherAccountIDs:    normalizeOthers(params.OtherAccountIDs, params.SelectedAccountID),
		Messages:           []models.Message{},
		Prompt:             strings.TrimSpace(params.Prompt),
		MinDelayMinutes:    params.MinDelayMinutes,
		MaxDelayMinutes:    params.MaxDelayMinutes,
		ConversationLength: params.ConversationLength,
		EmailSubject:       strings.TrimSpace(params.EmailSubject),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if c.MinDelayMinutes < 0 {
		c.MinDelayMinutes = 0
	}
	if c.MaxDelayMinutes < c.MinDelayMinutes {
		c.MaxDelayMinutes = c.MinDelayMinutes
	}
	if c.ConversationLength < 2 {
		c.ConversationLength = 2
	}

	if err := s.conversations.PutConversation(ctx, c); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.syncMirror(ctx)
	return c, nil
}

// Update validates the params and overwrites the stored conversation's
// editable fields. The min/max delay invariant is enforced bidirectionally:
// the bound the user moved wins and drags the other with it.
func (s *Service) Update(ctx context.Context, id string, params Params) (*models.Conversation, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, ErrNameRequired
	}

	c, err := s.conversations.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	minDelay, maxDelay := clampDelays(c.MinDelayMinutes, c.MaxDelayMinutes, params.MinDelayMinutes, params.MaxDelayMinutes)

	c.Name = name
	c.SelectedAccountID = params.SelectedAccountID
	c.OtherAccountIDs = normalizeOthers(params.OtherAccountIDs, params.SelectedAccountID)
	c.Prompt = strings.TrimSpace(params.Prompt)
	c.MinDelayMinutes = minDelay
	c.MaxDelayMinutes = maxDelay
	c.ConversationLength = params.ConversationLength
	if c.ConversationLength < 2 {
		c.ConversationLength = 2
	}
	c.EmailSubject = strings.TrimSpace(params.EmailSubject)
	c.UpdatedAt = time.Now().UTC()

	if err := s.conversations.PutConversation(ctx, c); err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	s.syncMirror(ctx)
	return c, nil
}

// Get returns a single conversation by ID.
func (s *Service) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return s.conversations.GetConversation(ctx, id)
}

// List returns all conversations.
func (s *Service) List(ctx context.Context) ([]models.Conversation, error) {
	convos, err := s.conversations.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return convos, nil
}

// Delete removes a conversation and its messages.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.conversations.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	s.syncMirror(ctx)
	return nil
}

// ClearMessages removes every message (and the last batch summary) from the
// conversation.
func (s *Service) ClearMessages(ctx context.Context, id string) error {
	if err := s.conversations.ClearMessages(ctx, id); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	s.syncMirror(ctx)
	return nil
}

// Participants resolves the conversation's accounts: the sender of record
// first, then the other participants. Deleted accounts drop out silently.
func (s *Service) Participants(ctx context.Context, conv *models.Conversation) ([]models.Account, error) {
	participants := make([]models.Account, 0, len(conv.OtherAccountIDs)+1)
	for _, id := range conv.ParticipantIDs() {
		a, err := s.accounts.GetAccount(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("resolving participant %s: %w", id, err)
		}
		participants = append(participants, *a)
	}
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}
	return participants, nil
}

// GenerateNext produces one new message. The sender rotates round-robin over
// the participants based on how many messages already exist, so each turn
// answers the previous one.
func (s *Service) GenerateNext(ctx context.Context, conversationID string) (*models.Message, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}
	participants, err := s.Participants(ctx, conv)
	if err != nil {
		return nil, err
	}

	sender := participants[len(conv.Messages)%len(participants)]
	others := make([]models.Account, 0, len(participants)-1)
	for _, p := range participants {
		if p.ID != sender.ID {
			others = append(others, p)
		}
	}

	res, err := s.generator.Generate(ctx, sender, others, conv.Messages, conv.Prompt)
	if err != nil {
		return nil, fmt.Errorf("generating message: %w", err)
	}

	msg := models.Message{
		ID:           uuid.NewString(),
		AccountID:    sender.ID,
		AccountName:  sender.Name,
		AccountEmail: sender.Email,
		Content:      res.Content,
		Timestamp:    time.Now().UTC(),
		Cost:         res.Cost,
		Tokens:       res.Usage,
	}
	if err := s.conversations.AppendMessage(ctx, conversationID, msg); err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}

	s.syncMirror(ctx)
	return &msg, nil
}

// GenerateFull generates length messages in one strictly sequential loop;
// each call feeds the accumulated history back in so later turns see earlier
// ones. The loop aborts on the first generation error, keeping messages
// already appended.
func (s *Service) GenerateFull(ctx context.Context, conversationID string, length int) ([]models.Message, error) {
	if length <= 0 {
		conv, err := s.conversations.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("looking up conversation: %w", err)
		}
		length = conv.ConversationLength
	}

	var generated []models.Message
	for i := 0; i < length; i++ {
		msg, err := s.GenerateNext(ctx, conversationID)
		if err != nil {
			return generated, fmt.Errorf("turn %d: %w", i+1, err)
		}
		generated = append(generated, *msg)
	}
	return generated, nil
}

// clampDelays keeps max >= min after an edit. The changed bound wins: raising
// min above max drags max up, lowering max below min drags min down.
func clampDelays(oldMin, oldMax, newMin, newMax float64) (float64, float64) {
	if newMin < 0 {
		newMin = 0
	}
	if newMax < 0 {
		newMax = 0
	}
	if newMax >= newMin {
		return newMin, newMax
	}
	minChanged := newMin != oldMin
	maxChanged := newMax != oldMax
	switch {
	case minChanged && !maxChanged:
		return newMin, newMin
	case maxChanged && !minChanged:
		return newMax, newMax
	default:
		// Both moved past each other in one edit; min wins.
		return newMin, newMin
	}
}

// normalizeOthers dedups the other-participant set and removes the sender of
// record from it.
func normalizeOthers(ids []string, selectedID string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool)
	for _, id := range ids {
		if id == "" || id == selectedID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// syncMirror pushes the current conversation list to the mirror.
// Fire-and-forget: failures are logged, never surfaced.
func (s *Service) syncMirror(ctx context.Context) {
	convos, err := s.conversations.ListConversations(ctx)
	if err != nil {
		slog.Error("failed to list conversations for mirror sync", "error", err)
		return
	}
	go func() {
		if err := s.mirror.SyncConversations(context.Background(), convos); err != nil {
			slog.Error("failed to mirror conversations", "error", err)
		}
	}()
}
