package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tris3514/EmailSystem/internal/models"
	"github.com/Tris3514/EmailSystem/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "emailsim.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccountPutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &models.Account{ID: "a1", Name: "Alice", Email: "alice@example.com"}
	if err := s.PutAccount(ctx, a); err != nil {
		t.Fatalf("put account: %v", err)
	}

	got, err := s.GetAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Name != "Alice" || got.Email != "alice@example.com" {
		t.Errorf("unexpected account: %+v", got)
	}

	if err := s.DeleteAccount(ctx, "a1"); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	_, err = s.GetAccount(ctx, "a1")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMissingAccount(t *testing.T) {
	s := openTestStore(t)
	err := s.DeleteAccount(context.Background(), "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := &models.Conversation{
		ID:              "c1",
		Name:            "Planning",
		OtherAccountIDs: []string{"a2"},
		MinDelayMinutes: 1,
		MaxDelayMinutes: 5,
	}
	if err := s.PutConversation(ctx, c); err != nil {
		t.Fatalf("put conversation: %v", err)
	}

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.Name != "Planning" || got.MaxDelayMinutes != 5 {
		t.Errorf("unexpected conversation: %+v", got)
	}

	convos, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convos) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convos))
	}
}

func TestAppendAndReplaceMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutConversation(ctx, &models.Conversation{ID: "c1", Name: "Test"}); err != nil {
		t.Fatalf("put conversation: %v", err)
	}

	msg := models.Message{ID: "m1", AccountID: "a1", Content: "hello", Timestamp: time.Now()}
	if err := s.AppendMessage(ctx, "c1", msg); err != nil {
		t.Fatalf("append message: %v", err)
	}
	if err := s.AppendMessage(ctx, "c1", models.Message{ID: "m2", Content: "second"}); err != nil {
		t.Fatalf("append message: %v", err)
	}

	msg.Sent = true
	msg.EmailMessageID = "<id@host>"
	if err := s.ReplaceMessage(ctx, "c1", msg); err != nil {
		t.Fatalf("replace message: %v", err)
	}

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	if !got.Messages[0].Sent || got.Messages[0].EmailMessageID != "<id@host>" {
		t.Errorf("replace did not stick: %+v", got.Messages[0])
	}
	if got.Messages[1].Sent {
		t.Errorf("unrelated message was modified: %+v", got.Messages[1])
	}
}

func TestReplaceMessageUnknownID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutConversation(ctx, &models.Conversation{ID: "c1"}); err != nil {
		t.Fatalf("put conversation: %v", err)
	}
	err := s.ReplaceMessage(ctx, "c1", models.Message{ID: "missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClearMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := &models.Conversation{
		ID:        "c1",
		Messages:  []models.Message{{ID: "m1"}, {ID: "m2"}},
		LastBatch: &models.BatchResult{SentCount: 2, TotalCount: 2},
	}
	if err := s.PutConversation(ctx, c); err != nil {
		t.Fatalf("put conversation: %v", err)
	}
	if err := s.ClearMessages(ctx, "c1"); err != nil {
		t.Fatalf("clear messages: %v", err)
	}

	got, _ := s.GetConversation(ctx, "c1")
	if len(got.Messages) != 0 {
		t.Errorf("expected no messages, got %d", len(got.Messages))
	}
	if got.LastBatch != nil {
		t.Errorf("expected last batch cleared")
	}
}
