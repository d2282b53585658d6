package models

import "time"

// Account is a persona that can author and receive messages. EmailConfig is
// optional: an account without credentials can still participate in generated
// conversations, it is just skipped at dispatch time.
type Account struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Personality string       `json:"personality,omitempty"`
	EmailConfig *EmailConfig `json:"emailConfig,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// EmailConfig holds the SMTP credentials for one account.
type EmailConfig struct {
	SMTPHost     string `json:"smtpHost"`
	SMTPPort     int    `json:"smtpPort"`
	SMTPUser     string `json:"smtpUser"`
	SMTPPassword string `json:"smtpPassword"`
	// SMTPSecure selects implicit TLS; false means STARTTLS on a plain
	// connection (the usual port 587 setup).
	SMTPSecure bool `json:"smtpSecure"`
}

// Conversation groups a sender-of-record and other participants around an
// ordered, append-only message list plus the delay policy used when the
// messages are sent as real email.
type Conversation struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	SelectedAccountID  string    `json:"selectedAccountId,omitempty"`
	OtherAccountIDs    []string  `json:"otherAccountIds"`
	Messages           []Message `json:"messages"`
	Prompt             string    `json:"prompt"`
	MinDelayMinutes    float64   `json:"minDelayMinutes"`
	MaxDelayMinutes    float64   `json:"maxDelayMinutes"`
	ConversationLength int       `json:"conversationLength"`
	EmailSubject       string    `json:"emailSubject,omitempty"`
	// LastBatch is the summary of the most recent send-all run, kept so the
	// UI can show the outcome after the batch goroutine finishes.
	LastBatch *BatchResult `json:"lastBatch,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Message is one generated turn. AccountName and AccountEmail are snapshots
// of the sender at generation time, so deleting the account later does not
// corrupt the history.
type Message struct {
	ID                string     `json:"id"`
	AccountID         string     `json:"accountId"`
	AccountName       string     `json:"accountName"`
	AccountEmail      string     `json:"accountEmail"`
	Content           string     `json:"content"`
	Timestamp         time.Time  `json:"timestamp"`
	Sent              bool       `json:"sent,omitempty"`
	ScheduledSendTime *time.Time `json:"scheduledSendTime,omitempty"`
	// EmailMessageID is the transport Message-ID assigned at dispatch; the
	// next message in the thread references it in its reply headers.
	EmailMessageID string      `json:"emailMessageId,omitempty"`
	Cost           float64     `json:"cost,omitempty"`
	Tokens         *TokenUsage `json:"tokens,omitempty"`
}

// TokenUsage records generation usage for one message.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// BatchResult summarises one send-all run over a conversation.
type BatchResult struct {
	SentCount       int       `json:"sentCount"`
	TotalCount      int       `json:"totalCount"`
	SkippedAccounts []string  `json:"skippedAccountNames"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// HasCredentials reports whether the account can be used to send mail.
func (a *Account) HasCredentials() bool {
	return a.EmailConfig != nil && a.EmailConfig.SMTPHost != "" && a.EmailConfig.SMTPUser != ""
}

// ParticipantIDs returns the sender-of-record followed by the other
// participants, empty entries removed.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.OtherAccountIDs)+1)
	if c.SelectedAccountID != "" {
		ids = append(ids, c.SelectedAccountID)
	}
	for _, id := range c.OtherAccountIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
