// Package bolt persists accounts and conversations as JSON values in a
// local bbolt key-value file, one bucket per entity type.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/Tris3514/EmailSystem/internal/models"
	"github.com/Tris3514/EmailSystem/internal/store"
)

var (
	bucketAccounts      = []byte("accounts")
	bucketConversations = []byte("conversations")
)

type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the database file and ensures both
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAccounts); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketConversations)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- AccountStore ---

func (s *Store) ListAccounts(_ context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(_, v []byte) error {
			var a models.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("decode account: %w", err)
			}
			accounts = append(accounts, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*models.Account, error) {
	var a models.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketAccounts).Get([]byte(id))
		if v == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(v, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) PutAccount(_ context.Context, account *models.Account) error {
	v, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put([]byte(account.ID), v)
	})
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b.Get([]byte(id)) == nil {
			return store.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// --- ConversationStore ---

func (s *Store) ListConversations(_ context.Context) ([]models.Conversation, error) {
	var convos []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(_, v []byte) error {
			var c models.Conversation
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decode conversation: %w", err)
			}
			convos = append(convos, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return convos, nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketConversations).Get([]byte(id))
		if v == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(v, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) PutConversation(_ context.Context, conv *models.Conversation) error {
	v, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).Put([]byte(conv.ID), v)
	})
}

func (s *Store) DeleteConversation(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		if b.Get([]byte(id)) == nil {
			return store.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

func (s *Store) AppendMessage(_ context.Context, conversationID string, msg models.Message) error {
	return s.updateConversation(conversationID, func(c *models.Conversation) error {
		c.Messages = append(c.Messages, msg)
		return nil
	})
}

func (s *Store) ReplaceMessage(_ context.Context, conversationID string, msg models.Message) error {
	return s.updateConversation(conversationID, func(c *models.Conversation) error {
		for i := range c.Messages {
			if c.Messages[i].ID == msg.ID {
				c.Messages[i] = msg
				return nil
			}
		}
		return store.ErrNotFound
	})
}

func (s *Store) ClearMessages(_ context.Context, conversationID string) error {
	return s.updateConversation(conversationID, func(c *models.Conversation) error {
		c.Messages = nil
		c.LastBatch = nil
		return nil
	})
}

func (s *Store) SetLastBatch(_ context.Context, conversationID string, batch *models.BatchResult) error {
	return s.updateConversation(conversationID, func(c *models.Conversation) error {
		c.LastBatch = batch
		return nil
	})
}

// updateConversation applies fn to the stored conversation inside one write
// transaction, which makes per-message updates atomic.
func (s *Store) updateConversation(id string, fn func(*models.Conversation) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		v := b.Get([]byte(id))
		if v == nil {
			return store.ErrNotFound
		}
		var c models.Conversation
		if err := json.Unmarshal(v, &c); err != nil {
			return fmt.Errorf("decode conversation: %w", err)
		}
		if err := fn(&c); err != nil {
			return err
		}
		c.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(&c)
		if err != nil {
			return fmt.Errorf("encode conversation: %w", err)
		}
		return b.Put([]byte(id), out)
	})
}
