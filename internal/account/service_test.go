package account

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Tris3514/EmailSystem/internal/models"
	"github.com/Tris3514/EmailSystem/internal/store"
)

type mockAccountStore struct {
	accounts map[string]*models.Account
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{accounts: make(map[string]*models.Account)}
}

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
	copied := *a
	return &copied, nil
}

func (m *mockAccountStore) PutAccount(_ context.Context, a *models.Account) error {
	m.accounts[a.ID] = a
	return nil
}

func (m *mockAccountStore) DeleteAccount(_ context.Context, id string) error {
	if _, ok := m.accounts[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

type recordingMirror struct {
	mu    sync.Mutex
	syncs int
}

func (r *recordingMirror) SyncAccounts(_ context.Context, _ []models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncs++
	return nil
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMockAccountStore(), &NoopMirror{})

	_, err := svc.Create(context.Background(), CreateParams{Name: "  ", Email: "a@b.com"})
	if !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}

	_, err = svc.Create(context.Background(), CreateParams{Name: "Alice", Email: "   "})
	if !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
}

func TestCreateTrimsFields(t *testing.T) {
	ms := newMockAccountStore()
	svc := NewService(ms, &NoopMirror{})

	a, err := svc.Create(context.Background(), CreateParams{
		Name:        "  Alice  ",
		Email:       " alice@example.com ",
		Personality: " dry wit ",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Name != "Alice" || a.Email != "alice@example.com" || a.Personality != "dry wit" {
		t.Errorf("fields not trimmed: %+v", a)
	}
	if a.ID == "" {
		t.Errorf("expected generated id")
	}
}

func TestUpdateValidationLeavesStateUntouched(t *testing.T) {
	ms := newMockAccountStore()
	svc := NewService(ms, &NoopMirror{})

	a, _ := svc.Create(context.Background(), CreateParams{Name: "Alice", Email: "alice@example.com"})

	_, err := svc.Update(context.Background(), a.ID, CreateParams{Name: "", Email: "new@example.com"})
	if !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}

	stored, _ := ms.GetAccount(context.Background(), a.ID)
	if stored.Email != "alice@example.com" {
		t.Errorf("validation failure must not mutate state, got %+v", stored)
	}
}

func TestUpdateReplacesEmailConfig(t *testing.T) {
	ms := newMockAccountStore()
	svc := NewService(ms, &NoopMirror{})

	a, _ := svc.Create(context.Background(), CreateParams{Name: "Alice", Email: "alice@example.com"})

	cfg := &models.EmailConfig{SMTPHost: "smtp.example.com", SMTPPort: 587, SMTPUser: "alice"}
	updated, err := svc.Update(context.Background(), a.ID, CreateParams{
		Name: "Alice", Email: "alice@example.com", EmailConfig: cfg,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.EmailConfig == nil || updated.EmailConfig.SMTPHost != "smtp.example.com" {
		t.Errorf("email config not stored: %+v", updated.EmailConfig)
	}

	// Clearing the config is also an update.
	updated, err = svc.Update(context.Background(), a.ID, CreateParams{Name: "Alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.EmailConfig != nil {
		t.Errorf("expected config cleared, got %+v", updated.EmailConfig)
	}
}

func TestDeleteMissing(t *testing.T) {
	svc := NewService(newMockAccountStore(), &NoopMirror{})
	err := svc.Delete(context.Background(), "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveSkipsMissing(t *testing.T) {
	ms := newMockAccountStore()
	svc := NewService(ms, &NoopMirror{})

	a, _ := svc.Create(context.Background(), CreateParams{Name: "Alice", Email: "alice@example.com"})
	b, _ := svc.Create(context.Background(), CreateParams{Name: "Bob", Email: "bob@example.com"})

	resolved, err := svc.Resolve(context.Background(), []string{a.ID, "missing", b.ID})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 2 || resolved[0].Name != "Alice" || resolved[1].Name != "Bob" {
		t.Errorf("unexpected resolution: %v", resolved)
	}
}
