// Package generator produces the next message in a simulated conversation by
// calling an OpenAI-compatible chat-completions endpoint.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Tris3514/EmailSystem/internal/models"
)

// ErrEmptyCompletion is returned when the model produced a blank message.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// APIError is an upstream failure (auth, quota, rate limit, server error).
// The caller must not retry automatically.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generation API error (status %d): %s", e.StatusCode, e.Message)
}

// Pricing converts token usage into an estimated USD cost.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Result is one generated message plus its usage metadata.
type Result struct {
	Content string
	Usage   *models.TokenUsage
	Cost    float64
}

// Client calls the chat-completions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	pricing    Pricing
}

// NewClient creates a generator Client. baseURL is the API root, e.g.
// "https://api.openai.com/v1".
func NewClient(baseURL, apiKey, model string, pricing Pricing) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		pricing:    pricing,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate produces the next message authored by sender, given the
// accumulated history and the conversation prompt.
func (c *Client) Generate(ctx context.Context, sender models.Account, others []models.Account, history []models.Message, prompt string) (*Result, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    buildMessages(sender, others, history, prompt),
		Temperature: 0.9,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling generation API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if len(parsed.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return nil, ErrEmptyCompletion
	}

	usage := &models.TokenUsage{
		Input:  parsed.Usage.PromptTokens,
		Output: parsed.Usage.CompletionTokens,
		Total:  parsed.Usage.TotalTokens,
	}
	cost := float64(usage.Input)/1000*c.pricing.InputPer1K +
		float64(usage.Output)/1000*c.pricing.OutputPer1K

	return &Result{Content: content, Usage: usage, Cost: cost}, nil
}

// buildMessages maps the conversation into chat roles. The sender's own past
// messages become assistant turns; everyone else's become user turns
// attributed by name, so the model stays in one persona.
func buildMessages(sender models.Account, others []models.Account, history []models.Message, prompt string) []chatMessage {
	var roster strings.Builder
	for i, o := range others {
		if i > 0 {
			roster.WriteString(", ")
		}
		fmt.Fprintf(&roster, "%s <%s>", o.Name, o.Email)
	}

	system := fmt.Sprintf(
		"You are %s <%s>, writing emails in an ongoing exchange with %s.",
		sender.Name, sender.Email, roster.String(),
	)
	if sender.Personality != "" {
		system += " Your personality: " + sender.Personality + "."
	}
	if prompt != "" {
		system += " The conversation topic: " + prompt + "."
	}
	system += " Reply with only the body of your next email, no subject line and no signature block."

	msgs := []chatMessage{{Role: "system", Content: system}}
	for _, m := range history {
		if m.AccountID == sender.ID {
			msgs = append(msgs, chatMessage{Role: "assistant", Content: m.Content})
		} else {
			msgs = append(msgs, chatMessage{
				Role:    "user",
				Content: fmt.Sprintf("%s wrote:\n%s", m.AccountName, m.Content),
			})
		}
	}
	if len(history) == 0 {
		msgs = append(msgs, chatMessage{Role: "user", Content: "Write the opening email of the exchange."})
	}
	return msgs
}
