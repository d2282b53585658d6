// Package scheduler turns a conversation's unsent messages into a dispatched,
// threaded email sequence: it assigns randomized send times, waits out each
// delay, sends through the dispatcher, and chains every sent message's
// Message-ID into the next one's reply headers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/Tris3514/EmailSystem/internal/models"
	"github.com/Tris3514/EmailSystem/internal/store"
)

// Sentinel errors returned by Engine methods.
var (
	ErrNothingToSend    = errors.New("conversation has no unsent messages")
	ErrMessageNotFound  = errors.New("message not found in conversation")
	ErrMessageSent      = errors.New("message was already sent")
	ErrSenderUnresolved = errors.New("sending account not found among participants")
)

// Dispatcher delivers one composed message. threadParentID, when non-empty,
// is the Message-ID the new mail must reference to stay in the same thread.
type Dispatcher interface {
	Send(ctx context.Context, sender models.Account, recipients []models.Account, subject, body, threadParentID string) (string, error)
}

// Clock abstracts wall time so tests can run a batch without real delays.
type Clock interface {
	Now() time.Time
	// WaitUntil blocks until t or until ctx is cancelled.
	WaitUntil(ctx context.Context, t time.Time) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) WaitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Options override the Engine's clock and randomness, primarily for tests.
type Options struct {
	Clock Clock
	// RandInt63n draws a uniform integer in [0, n). Defaults to math/rand.
	RandInt63n func(n int64) int64
}

// Engine runs send batches over a conversation store.
type Engine struct {
	conversations store.ConversationStore
	dispatcher    Dispatcher
	clock         Clock
	randInt63n    func(n int64) int64
}

// NewEngine creates a scheduling Engine.
func NewEngine(conversations store.ConversationStore, dispatcher Dispatcher, opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	randInt63n := opts.RandInt63n
	if randInt63n == nil {
		randInt63n = rand.Int63n
	}
	return &Engine{
		conversations: conversations,
		dispatcher:    dispatcher,
		clock:         clock,
		randInt63n:    randInt63n,
	}
}

// AssignSchedule computes send times for the given messages: the first goes
// out at now, each later one after a fresh uniform draw from the conversation's
// [min, max] minute window, accumulated from the fixed now baseline. The input
// slice is not modified; the scheduled copies are returned in order.
func (e *Engine) AssignSchedule(messages []models.Message, minMinutes, maxMinutes float64, now time.Time) []models.Message {
	minMs := int64(minMinutes * 60000)
	maxMs := int64(maxMinutes * 60000)
	if maxMs < minMs {
		maxMs = minMs
	}

	scheduled := make([]models.Message, len(messages))
	var cumulative time.Duration
	for i, msg := range messages {
		if i > 0 {
			delayMs := minMs
			if span := maxMs - minMs; span > 0 {
				delayMs += e.randInt63n(span + 1)
			}
			cumulative += time.Duration(delayMs) * time.Millisecond
		}
		at := now.Add(cumulative)
		msg.ScheduledSendTime = &at
		scheduled[i] = msg
	}
	return scheduled
}

// ScheduleAndSend runs one batch over the conversation's unsent messages:
// schedule assignment first (written back immediately so the UI can render
// countdowns), then strictly sequential dispatch. A participant without
// credentials is skipped without advancing the thread pointer; a dispatch
// failure reverts the message to unsent/unscheduled and the batch continues.
// Cancelling ctx abandons the remainder of the batch; messages already sent
// stay sent.
func (e *Engine) ScheduleAndSend(ctx context.Context, conversationID string, participants []models.Account) (*models.BatchResult, error) {
	conv, err := e.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	var unsent []models.Message
	for _, m := range conv.Messages {
		if !m.Sent {
			unsent = append(unsent, m)
		}
	}
	if len(unsent) == 0 {
		return nil, ErrNothingToSend
	}

	start := e.clock.Now()
	scheduled := e.AssignSchedule(unsent, conv.MinDelayMinutes, conv.MaxDelayMinutes, start)
	for _, msg := range scheduled {
		if err := e.conversations.ReplaceMessage(ctx, conversationID, msg); err != nil {
			return nil, fmt.Errorf("writing schedule: %w", err)
		}
	}

	byID := make(map[string]models.Account, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
	}

	result := &models.BatchResult{
		TotalCount: len(scheduled),
		StartedAt:  start,
	}
	skippedSeen := make(map[string]bool)
	threadID := ""

	for _, msg := range scheduled {
		sender, found := byID[msg.AccountID]
		if !found || !sender.HasCredentials() {
			name := msg.AccountName
			if found {
				name = sender.Name
			}
			if !skippedSeen[name] {
				skippedSeen[name] = true
				result.SkippedAccounts = append(result.SkippedAccounts, name)
			}
			slog.Info("skipping message, sender cannot dispatch",
				"conversation_id", conversationID,
				"message_id", msg.ID,
				"account", name,
			)
			continue
		}

		if msg.ScheduledSendTime != nil && e.clock.Now().Before(*msg.ScheduledSendTime) {
			if err := e.clock.WaitUntil(ctx, *msg.ScheduledSendTime); err != nil {
				e.finishBatch(conversationID, result)
				return result, fmt.Errorf("batch cancelled: %w", err)
			}
		}

		recipients := recipientsFor(participants, msg.AccountID)
		if len(recipients) == 0 {
			slog.Warn("no recipients for message, nothing to dispatch",
				"conversation_id", conversationID,
				"message_id", msg.ID,
			)
			continue
		}

		subject := batchSubject(conv, threadID != "")
		id, err := e.dispatcher.Send(ctx, sender, recipients, subject, msg.Content, threadID)
		if err != nil {
			slog.Error("dispatch failed, continuing batch",
				"conversation_id", conversationID,
				"message_id", msg.ID,
				"account", sender.Name,
				"error", err,
			)
			msg.ScheduledSendTime = nil
			if storeErr := e.conversations.ReplaceMessage(ctx, conversationID, msg); storeErr != nil {
				slog.Error("failed to record dispatch failure", "message_id", msg.ID, "error", storeErr)
			}
			continue
		}

		msg.Sent = true
		msg.ScheduledSendTime = nil
		msg.EmailMessageID = id
		if storeErr := e.conversations.ReplaceMessage(ctx, conversationID, msg); storeErr != nil {
			slog.Error("failed to record sent message", "message_id", msg.ID, "error", storeErr)
		}
		// The next dispatched message threads off this one, not off the
		// literal previous list entry: skips and failures must not break
		// the reference chain.
		threadID = id
		result.SentCount++
	}

	e.finishBatch(conversationID, result)
	return result, nil
}

// SendOne dispatches a single message immediately, threading it off the most
// recent successfully sent message in the conversation. Unlike the batch
// path, a dispatch failure is surfaced to the caller.
func (e *Engine) SendOne(ctx context.Context, conversationID, messageID string, participants []models.Account) (string, error) {
	conv, err := e.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("loading conversation: %w", err)
	}

	var msg *models.Message
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			msg = &conv.Messages[i]
			break
		}
	}
	if msg == nil {
		return "", ErrMessageNotFound
	}
	if msg.Sent {
		return "", ErrMessageSent
	}

	var sender *models.Account
	for i := range participants {
		if participants[i].ID == msg.AccountID {
			sender = &participants[i]
			break
		}
	}
	if sender == nil {
		return "", ErrSenderUnresolved
	}

	threadID := ""
	for _, m := range conv.Messages {
		if m.ID != msg.ID && m.Sent && m.EmailMessageID != "" {
			threadID = m.EmailMessageID
		}
	}

	recipients := recipientsFor(participants, msg.AccountID)
	subject := batchSubject(conv, threadID != "")

	id, err := e.dispatcher.Send(ctx, *sender, recipients, subject, msg.Content, threadID)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}

	updated := *msg
	updated.Sent = true
	updated.ScheduledSendTime = nil
	updated.EmailMessageID = id
	if storeErr := e.conversations.ReplaceMessage(ctx, conversationID, updated); storeErr != nil {
		slog.Error("failed to record sent message", "message_id", msg.ID, "error", storeErr)
	}
	return id, nil
}

func (e *Engine) finishBatch(conversationID string, result *models.BatchResult) {
	result.FinishedAt = e.clock.Now()
	if result.SkippedAccounts == nil {
		result.SkippedAccounts = []string{}
	}
	if err := e.conversations.SetLastBatch(context.Background(), conversationID, result); err != nil {
		slog.Error("failed to record batch result", "conversation_id", conversationID, "error", err)
	}
}

func recipientsFor(participants []models.Account, senderID string) []models.Account {
	var out []models.Account
	for _, p := range participants {
		if p.ID != senderID {
			out = append(out, p)
		}
	}
	return out
}

func batchSubject(conv *models.Conversation, inThread bool) string {
	subject := strings.TrimSpace(conv.EmailSubject)
	if subject == "" {
		subject = strings.TrimSpace(conv.Name)
	}
	if subject == "" {
		subject = "Conversation"
	}
	if inThread {
		subject = "Re: " + subject
	}
	return subject
}
