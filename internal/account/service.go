package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tris3514/EmailSystem/internal/models"
	"github.com/Tris3514/EmailSystem/internal/store"
)

// Sentinel errors returned by Service methods.
var (
	ErrNameRequired  = errors.New("account name is required")
	ErrEmailRequired = errors.New("account email is required")
)

// Mirror receives the full account list after every mutation so an external
// copy (the spreadsheet) stays in sync. Mirroring is best-effort.
type Mirror interface {
	SyncAccounts(ctx context.Context, accounts []models.Account) error
}

// NoopMirror is a Mirror that does nothing.
type NoopMirror struct{}

func (n *NoopMirror) SyncAccounts(_ context.Context, _ []models.Account) error { return nil }

// Service provides account business logic.
type Service struct {
	accounts store.AccountStore
	mirror   Mirror
}

// NewService creates a new account Service.
func NewService(accounts store.AccountStore, mirror Mirror) *Service {
	return &Service{
		accounts: accounts,
		mirror:   mirror,
	}
}

// CreateParams are the user-editable account fields.
type CreateParams struct {
	Name        string
	Email       string
	Personality string
	EmailConfig *models.EmailConfig
}

// Create validates the params and stores a new account. Validation failures
// leave the store untouched.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Account, error) {
	name := strings.TrimSpace(params.Name)
	email := strings.TrimSpace(params.Email)
	if name == "" {
		return nil, ErrNameRequired
	}
	if email == "" {
		return nil, ErrEmailRequired
	}

	now := time.Now().UTC()
	a := &models.Account{
		ID:          uuid.NewString(),
		Name:        name,
		Email:       email,
		Personality: strings.TrimSpace(params.Personality),
		EmailConfig: params.EmailConfig,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.accounts.PutAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	s.syncMirror(ctx)
	return a, nil
}

// Update validates the params and overwrites the stored account's editable
// fields.
func (s *Service) Update(ctx context.Context, id string, params CreateParams) (*models.Account, error) {
	name := strings.TrimSpace(params.Name)
	email := strings.TrimSpace(params.Email)
	if name == "" {
		return nil, ErrNameRequired
	}
	if email == "" {
		return nil, ErrEmailRequired
	}

	a, err := s.accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	a.Name = name
	a.Email = email
	a.Personality = strings.TrimSpace(params.Personality)
	a.EmailConfig = params.EmailConfig
	a.UpdatedAt = time.Now().UTC()

	if err := s.accounts.PutAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("updating account: %w", err)
	}

	s.syncMirror(ctx)
	return a, nil
}

// Get returns a single account by ID.
func (s *Service) Get(ctx context.Context, id string) (*models.Account, error) {
	return s.accounts.GetAccount(ctx, id)
}

// List returns all accounts.
func (s *Service) List(ctx context.Context) ([]models.Account, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

// Delete removes an account. Conversations and past messages keep their
// denormalized copies, so nothing cascades.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.accounts.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	s.syncMirror(ctx)
	return nil
}

// Resolve maps the given ids to accounts, dropping ids that no longer
// resolve. The order of ids is preserved.
func (s *Service) Resolve(ctx context.Context, ids []string) ([]models.Account, error) {
	resolved := make([]models.Account, 0, len(ids))
	for _, id := range ids {
		a, err := s.accounts.GetAccount(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("resolving account %s: %w", id, err)
		}
		resolved = append(resolved, *a)
	}
	return resolved, nil
}

// syncMirror pushes the current account list to the mirror. Fire-and-forget:
// failures are logged, never surfaced.
func (s *Service) syncMirror(ctx context.Context) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		slog.Error("failed to list accounts for mirror sync", "error", err)
		return
	}
	go func() {
		if err := s.mirror.SyncAccounts(context.Background(), accounts); err != nil {
			slog.Error("failed to mirror accounts", "error", err)
		}
	}()
}
