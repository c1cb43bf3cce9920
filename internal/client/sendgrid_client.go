package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trackmash/api/internal/config"
)

// SendGridClient handles communication with the SendGrid v3 mail API
type SendGridClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	fromEmail  string
	fromName   string
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailPersonalization struct {
	To []mailAddress `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailAttachment struct {
	Content     string `json:"content"`
	Type        string `json:"type"`
	Filename    string `json:"filename"`
	Disposition string `json:"disposition"`
}

// sendRequest is the request body for POST /v3/mail/send
type sendRequest struct {
	Personalizations []mailPersonalization `json:"personalizations"`
	From             mailAddress           `json:"from"`
	Subject          string                `json:"subject"`
	Content          []mailContent         `json:"content"`
	Attachments      []mailAttachment      `json:"attachments,omitempty"`
}

// NewSendGridClient creates a new SendGrid API client
func NewSendGridClient(cfg *config.SendGridConfig) *SendGridClient {
	return &SendGridClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}
}

// IsConfigured returns true when an API key and verified sender are present
func (c *SendGridClient) IsConfigured() bool {
	return c.apiKey != "" && c.fromEmail != ""
}

// SendArchive emails the packaged mashup as a zip attachment. The body also
// carries the pull link so the recipient has a fallback if the attachment is
// stripped.
func (c *SendGridClient) SendArchive(ctx context.Context, to, filename string, archive []byte, pullURL string) error {
	if !c.IsConfigured() {
		return fmt.Errorf("sendgrid client not configured")
	}

	body := fmt.Sprintf(
		"Hi,\n\nYour mashup is ready. The zip is attached.\n\nIt is also available for a limited time at:\n%s\n\nThanks!",
		pullURL,
	)

	reqBody := sendRequest{
		Personalizations: []mailPersonalization{
			{To: []mailAddress{{Email: to}}},
		},
		From:    mailAddress{Email: c.fromEmail, Name: c.fromName},
		Subject: "Your mashup is ready",
		Content: []mailContent{
			{Type: "text/plain", Value: body},
		},
		Attachments: []mailAttachment{
			{
				Content:     base64.StdEncoding.EncodeToString(archive),
				Type:        "application/zip",
				Filename:    filename,
				Disposition: "attachment",
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/mail/send", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sendgrid API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return nil
}
