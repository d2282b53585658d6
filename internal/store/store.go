package store

import (
	"context"
	"errors"

	"github.com/Tris3514/EmailSystem/internal/models"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

type AccountStore interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	PutAccount(ctx context.Context, account *models.Account) error
	DeleteAccount(ctx context.Context, id string) error
}

type ConversationStore interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	PutConversation(ctx context.Context, conv *models.Conversation) error
	DeleteConversation(ctx context.Context, id string) error

	// AppendMessage adds a message to the end of the conversation's list.
	AppendMessage(ctx context.Context, conversationID string, msg models.Message) error
	// ReplaceMessage swaps the stored message with the same ID in a single
	// transaction, so concurrent edits to unrelated messages are not
	// clobbered while a send batch is running.
	ReplaceMessage(ctx context.Context, conversationID string, msg models.Message) error
	// ClearMessages removes every message from the conversation.
	ClearMessages(ctx context.Context, conversationID string) error
	// SetLastBatch records the summary of the most recent send-all run.
	SetLastBatch(ctx context.Context, conversationID string, batch *models.BatchResult) error
}
