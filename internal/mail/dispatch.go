// Package mail dispatches generated messages as real email over SMTP using
// each sending account's own credentials.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	"github.com/jordan-wright/email"

	"github.com/Tris3514/EmailSystem/internal/models"
)

// ErrNoCredentials is returned when the sending account has no SMTP config.
var ErrNoCredentials = errors.New("account has no SMTP credentials")

// ErrorKind classifies a dispatch failure. None of the kinds is retriable
// within a batch; the caller records the failure and moves on.
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindConnection ErrorKind = "connection"
	KindDNS        ErrorKind = "dns"
	KindTimeout    ErrorKind = "timeout"
	KindOther      ErrorKind = "other"
)

// DispatchError wraps a transport failure with its classification.
type DispatchError struct {
	Kind ErrorKind
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed (%s): %v", e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// SMTPDispatcher sends messages through the sender account's SMTP server.
type SMTPDispatcher struct{}

// NewSMTPDispatcher creates an SMTPDispatcher.
func NewSMTPDispatcher() *SMTPDispatcher {
	return &SMTPDispatcher{}
}

// Send composes and delivers one message. When threadParentID is non-empty
// the In-Reply-To and References headers are set so receiving clients keep
// the whole exchange in a single thread. The returned string is the
// Message-ID assigned to the outgoing mail.
func (d *SMTPDispatcher) Send(ctx context.Context, sender models.Account, recipients []models.Account, subject, body, threadParentID string) (string, error) {
	cfg := sender.EmailConfig
	if cfg == nil || cfg.SMTPHost == "" || cfg.SMTPUser == "" {
		return "", ErrNoCredentials
	}
	if err := ctx.Err(); err != nil {
		return "", &DispatchError{Kind: KindOther, Err: err}
	}

	messageID := newMessageID(sender.Email)

	e := email.NewEmail()
	e.From = fmt.Sprintf("%s <%s>", sender.Name, sender.Email)
	for _, r := range recipients {
		e.To = append(e.To, r.Email)
	}
	e.Subject = subject
	e.Text = []byte(body)
	e.Headers.Set("Message-Id", messageID)
	if threadParentID != "" {
		e.Headers.Set("In-Reply-To", threadParentID)
		e.Headers.Set("References", threadParentID)
	}

	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	auth := smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	tlsConfig := &tls.Config{ServerName: cfg.SMTPHost, MinVersion: tls.VersionTLS12}

	var err error
	if cfg.SMTPSecure {
		// Implicit TLS (typically port 465).
		err = e.SendWithTLS(addr, auth, tlsConfig)
	} else {
		// Plain connection upgraded with STARTTLS (typically port 587).
		err = e.SendWithStartTLS(addr, auth, tlsConfig)
	}
	if err != nil {
		return "", &DispatchError{Kind: classify(err), Err: err}
	}

	return messageID, nil
}

// newMessageID builds an RFC 5322 Message-ID scoped to the sender's domain.
// net/smtp does not echo a server-assigned id back, so the id we stamp on
// the outgoing headers is the thread identifier.
func newMessageID(senderEmail string) string {
	host := "localhost"
	if i := strings.LastIndex(senderEmail, "@"); i >= 0 && i < len(senderEmail)-1 {
		host = senderEmail[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
}

func classify(err error) ErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "535") ||
		strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "username and password not accepted"):
		return KindAuth
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset"):
		return KindConnection
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	default:
		return KindOther
	}
}
