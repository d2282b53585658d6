// Package sheets mirrors accounts and conversations to a Google Spreadsheet
// so the state can be inspected (and survives) outside the local database.
// The mirror is best-effort: callers log failures and carry on.
package sheets

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Tris3514/EmailSystem/internal/models"
)

const (
	accountsRange      = "Accounts!A:E"
	conversationsRange = "Conversations!A:H"
)

// Mirror writes entity snapshots to two tabs of one spreadsheet.
type Mirror struct {
	srv           *sheets.Service
	spreadsheetID string
}

// NewMirror authenticates with a service-account JSON key and targets the
// given spreadsheet.
func NewMirror(ctx context.Context, serviceAccountJSON []byte, spreadsheetID string) (*Mirror, error) {
	cfg, err := google.JWTConfigFromJSON(serviceAccountJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parsing service account key: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	return &Mirror{srv: srv, spreadsheetID: spreadsheetID}, nil
}

// SyncAccounts rewrites the Accounts tab with the full account list.
// SMTP passwords are not mirrored.
func (m *Mirror) SyncAccounts(ctx context.Context, accounts []models.Account) error {
	rows := [][]interface{}{
		{"ID", "Name", "Email", "Personality", "SMTP Host"},
	}
	for _, a := range accounts {
		host := ""
		if a.EmailConfig != nil {
			host = a.EmailConfig.SMTPHost
		}
		rows = append(rows, []interface{}{a.ID, a.Name, a.Email, a.Personality, host})
	}
	return m.rewrite(ctx, accountsRange, rows)
}

// SyncConversations rewrites the Conversations tab with one summary row per
// conversation.
func (m *Mirror) SyncConversations(ctx context.Context, conversations []models.Conversation) error {
	rows := [][]interface{}{
		{"ID", "Name", "Subject", "Participants", "Messages", "Sent", "Min Delay", "Max Delay"},
	}
	for _, c := range conversations {
		sent := 0
		for _, msg := range c.Messages {
			if msg.Sent {
				sent++
			}
		}
		rows = append(rows, []interface{}{
			c.ID,
			c.Name,
			c.EmailSubject,
			strconv.Itoa(len(c.ParticipantIDs())),
			strconv.Itoa(len(c.Messages)),
			strconv.Itoa(sent),
			c.MinDelayMinutes,
			c.MaxDelayMinutes,
		})
	}
	return m.rewrite(ctx, conversationsRange, rows)
}

func (m *Mirror) rewrite(ctx context.Context, rangeRef string, rows [][]interface{}) error {
	_, err := m.srv.Spreadsheets.Values.Clear(m.spreadsheetID, rangeRef, &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clearing %s: %w", rangeRef, err)
	}

	_, err = m.srv.Spreadsheets.Values.Update(m.spreadsheetID, rangeRef, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("updating %s: %w", rangeRef, err)
	}
	return nil
}
