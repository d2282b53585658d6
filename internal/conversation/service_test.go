package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Tris3514/EmailSystem/internal/generator"
	"github.com/Tris3514/EmailSystem/internal/models"
	"github.com/Tris3514/EmailSystem/internal/store"
)

// --- Mock stores ---

type mockConversationStore struct {
	conversations map[string]*models.Conversation
}

func newMockConversationStore() *mockConversationStore {
	return &mockConversationStore{conversations: make(map[string]*models.Conversation)}
}

func (m *mockConversationStore) ListConversations(_ context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	for _, c := range m.conversations {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockConversationStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	c, ok := m.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *c
	copied.Messages = append([]models.Message(nil), c.Messages...)
	return &copied, nil
}

func (m *mockConversationStore) PutConversation(_ context.Context, c *models.Conversation) error {
	m.conversations[c.ID] = c
	return nil
}

func (m *mockConversationStore) DeleteConversation(_ context.Context, id string) error {
	if _, ok := m.conversations[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.conversations, id)
	return nil
}

func (m *mockConversationStore) AppendMessage(_ context.Context, id string, msg models.Message) error {
	c, ok := m.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Messages = append(c.Messages, msg)
	return nil
}

func (m *mockConversationStore) ReplaceMessage(_ context.Context, _ string, _ models.Message) error {
	return errors.New("not implemented")
}

func (m *mockConversationStore) ClearMessages(_ context.Context, id string) error {
	c, ok := m.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Messages = nil
	c.LastBatch = nil
	return nil
}

func (m *mockConversationStore) SetLastBatch(_ context.Context, _ string, _ *models.BatchResult) error {
	return errors.New("not implemented")
}

type mockAccountStore struct {
	accounts map[string]*models.Account
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{accounts: make(map[string]*models.Account)}
}

func (m *mockAccountStore) add(a *models.Account) { m.accounts[a.ID] = a }

func (m *mockAccountStore) ListAccounts(_ context.Context) ([]models.Account, error) {
	var out []models.Account
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	return out, nil
}

func (m *mockAccountStore) GetAccount(_ context.Context, id string) (*models.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (m *mockAccountStore) PutAccount(_ context.Context, a *models.Account) error {
	m.accounts[a.ID] = a
	return nil
}

func (m *mockAccountStore) DeleteAccount(_ context.Context, id string) error {
	delete(m.accounts, id)
	return nil
}

// --- Fake generator ---

type fakeGenerator struct {
	calls   int
	failOn  int // 1-based call number that fails; 0 means never
	lastErr error
}

func (g *fakeGenerator) Generate(_ context.Context, sender models.Account, _ []models.Account, history []models.Message, _ string) (*generator.Result, error) {
	g.calls++
	if g.failOn != 0 && g.calls >= g.failOn {
		g.lastErr = errors.New("upstream quota exceeded")
		return nil, g.lastErr
	}
	return &generator.Result{
		Content: fmt.Sprintf("turn %d from %s (saw %d earlier)", g.calls, sender.Name, len(history)),
		Usage:   &models.TokenUsage{Input: 10, Output: 5, Total: 15},
		Cost:    0.001,
	}, nil
}

func newTestService(cs *mockConversationStore, as *mockAccountStore, gen Generator) *Service {
	return NewService(cs, as, gen, &NoopMirror{})
}

// --- CRUD & validation ---

func TestCreateRequiresName(t *testing.T) {
	svc := newTestService(newMockConversationStore(), newMockAccountStore(), &fakeGenerator{})
	_, err := svc.Create(context.Background(), Params{Name: "   "})
	if !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
}

func TestCreateNormalizes(t *testing.T) {
	svc := newTestService(newMockConversationStore(), newMockAccountStore(), &fakeGenerator{})

	c, err := svc.Create(context.Background(), Params{
		Name:               "Test",
		SelectedAccountID:  "a1",
		OtherAccountIDs:    []string{"a1", "a2", "a2", "", "a3"},
		MinDelayMinutes:    5,
		MaxDelayMinutes:    2,
		ConversationLength: 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if len(c.OtherAccountIDs) != 2 || c.OtherAccountIDs[0] != "a2" || c.OtherAccountIDs[1] != "a3" {
		t.Errorf("expected others [a2 a3], got %v", c.OtherAccountIDs)
	}
	if c.MaxDelayMinutes != 5 {
		t.Errorf("max should be raised to min on create, got %v", c.MaxDelayMinutes)
	}
	if c.ConversationLength != 2 {
		t.Errorf("length should be clamped to 2, got %d", c.ConversationLength)
	}
}

func TestUpdateClampsDelaysBidirectionally(t *testing.T) {
	cs := newMockConversationStore()
	svc := newTestService(cs, newMockAccountStore(), &fakeGenerator{})

	c, _ := svc.Create(context.Background(), Params{Name: "Test", MinDelayMinutes: 2, MaxDelayMinutes: 10})

	// Raising min above max drags max up.
	updated, err := svc.Update(context.Background(), c.ID, Params{Name: "Test", MinDelayMinutes: 15, MaxDelayMinutes: 10})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.MinDelayMinutes != 15 || updated.MaxDelayMinutes != 15 {
		t.Errorf("expected min=max=15, got min=%v max=%v", updated.MinDelayMinutes, updated.MaxDelayMinutes)
	}

	// Lowering max below min drags min down.
	updated, err = svc.Update(context.Background(), c.ID, Params{Name: "Test", MinDelayMinutes: 15, MaxDelayMinutes: 3})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.MinDelayMinutes != 3 || updated.MaxDelayMinutes != 3 {
		t.Errorf("expected min=max=3, got min=%v max=%v", updated.MinDelayMinutes, updated.MaxDelayMinutes)
	}
}

func TestParticipantsDropsDeletedAccounts(t *testing.T) {
	cs := newMockConversationStore()
	as := newMockAccountStore()
	as.add(&models.Account{ID: "a1", Name: "Alice", Email: "alice@test.local"})
	svc := newTestService(cs, as, &fakeGenerator{})

	conv := &models.Conversation{ID: "c1", SelectedAccountID: "a1", OtherAccountIDs: []string{"gone"}}
	participants, err := svc.Participants(context.Background(), conv)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(participants) != 1 || participants[0].Name != "Alice" {
		t.Errorf("expected [Alice], got %v", participants)
	}

	empty := &models.Conversation{ID: "c2", OtherAccountIDs: []string{"gone"}}
	_, err = svc.Participants(context.Background(), empty)
	if !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}
}

// --- Generation ---

func TestGenerateNextRoundRobin(t *testing.T) {
	cs := newMockConversationStore()
	as := newMockAccountStore()
	as.add(&models.Account{ID: "a1", Name: "Alice", Email: "alice@test.local"})
	as.add(&models.Account{ID: "a2", Name: "Bob", Email: "bob@test.local"})
	svc := newTestService(cs, as, &fakeGenerator{})

	c, _ := svc.Create(context.Background(), Params{
		Name:              "Test",
		SelectedAccountID: "a1",
		OtherAccountIDs:   []string{"a2"},
	})

	first, err := svc.GenerateNext(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("generate next: %v", err)
	}
	if first.AccountID != "a1" || first.AccountName != "Alice" || first.AccountEmail != "alice@test.local" {
		t.Errorf("first turn should be the sender of record: %+v", first)
	}
	if first.Sent || first.ScheduledSendTime != nil {
		t.Errorf("generated message must be unsent and unscheduled")
	}
	if first.Tokens == nil || first.Tokens.Total != 15 || first.Cost != 0.001 {
		t.Errorf("usage metadata not attached: %+v", first)
	}

	second, err := svc.GenerateNext(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("generate next: %v", err)
	}
	if second.AccountID != "a2" {
		t.Errorf("second turn should rotate to Bob, got %s", second.AccountName)
	}

	third, err := svc.GenerateNext(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("generate next: %v", err)
	}
	if third.AccountID != "a1" {
		t.Errorf("third turn should wrap back to Alice, got %s", third.AccountName)
	}
}

func TestGenerateFullAbortsOnFirstError(t *testing.T) {
	cs := newMockConversationStore()
	as := newMockAccountStore()
	as.add(&models.Account{ID: "a1", Name: "Alice", Email: "alice@test.local"})
	as.add(&models.Account{ID: "a2", Name: "Bob", Email: "bob@test.local"})
	gen := &fakeGenerator{failOn: 3}
	svc := newTestService(cs, as, gen)

	c, _ := svc.Create(context.Background(), Params{
		Name:              "Test",
		SelectedAccountID: "a1",
		OtherAccountIDs:   []string{"a2"},
	})

	generated, err := svc.GenerateFull(context.Background(), c.ID, 5)
	if err == nil {
		t.Fatalf("expected generation error")
	}
	if len(generated) != 2 {
		t.Errorf("expected 2 messages before the failure, got %d", len(generated))
	}

	// Already-appended messages are kept.
	stored, _ := cs.GetConversation(context.Background(), c.ID)
	if len(stored.Messages) != 2 {
		t.Errorf("expected 2 stored messages, got %d", len(stored.Messages))
	}
}

func TestGenerateFullUsesConversationLength(t *testing.T) {
	cs := newMockConversationStore()
	as := newMockAccountStore()
	as.add(&models.Account{ID: "a1", Name: "Alice", Email: "alice@test.local"})
	as.add(&models.Account{ID: "a2", Name: "Bob", Email: "bob@test.local"})
	gen := &fakeGenerator{}
	svc := newTestService(cs, as, gen)

	c, _ := svc.Create(context.Background(), Params{
		Name:               "Test",
		SelectedAccountID:  "a1",
		OtherAccountIDs:    []string{"a2"},
		ConversationLength: 4,
	})

	generated, err := svc.GenerateFull(context.Background(), c.ID, 0)
	if err != nil {
		t.Fatalf("generate full: %v", err)
	}
	if len(generated) != 4 {
		t.Errorf("expected 4 messages, got %d", len(generated))
	}
	if gen.calls != 4 {
		t.Errorf("expected 4 sequential generator calls, got %d", gen.calls)
	}
}

func TestClearMessages(t *testing.T) {
	cs := newMockConversationStore()
	as := newMockAccountStore()
	as.add(&models.Account{ID: "a1", Name: "Alice", Email: "alice@test.local"})
	as.add(&models.Account{ID: "a2", Name: "Bob", Email: "bob@test.local"})
	svc := newTestService(cs, as, &fakeGenerator{})

	c, _ := svc.Create(context.Background(), Params{
		Name:              "Test",
		SelectedAccountID: "a1",
		OtherAccountIDs:   []string{"a2"},
	})
	_, _ = svc.GenerateNext(context.Background(), c.ID)

	if err := svc.ClearMessages(context.Background(), c.ID); err != nil {
		t.Fatalf("clear messages: %v", err)
	}
	stored, _ := cs.GetConversation(context.Background(), c.ID)
	if len(stored.Messages) != 0 {
		t.Errorf("expected no messages after clear, got %d", len(stored.Messages))
	}
}
