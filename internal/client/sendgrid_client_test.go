package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trackmash/api/internal/config"
)

func testClient(baseURL string) *SendGridClient {
	return NewSendGridClient(&config.SendGridConfig{
		APIKey:    "sg-test-key",
		FromEmail: "noreply@trackmash.io",
		FromName:  "Trackmash",
		BaseURL:   baseURL,
	})
}

func TestIsConfigured(t *testing.T) {
	if !testClient("http://x").IsConfigured() {
		t.Error("expected configured client")
	}
	unconfigured := NewSendGridClient(&config.SendGridConfig{BaseURL: "http://x"})
	if unconfigured.IsConfigured() {
		t.Error("client without key/sender must report unconfigured")
	}
}

func TestSendArchive(t *testing.T) {
	var got sendRequest
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("path = %q", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	archive := []byte("zip bytes")
	err := testClient(srv.URL).SendArchive(context.Background(), "fan@example.com", "daft-punk.zip", archive, "https://mash.example.com/download/tok")
	if err != nil {
		t.Fatalf("SendArchive: %v", err)
	}

	if auth != "Bearer sg-test-key" {
		t.Errorf("authorization = %q", auth)
	}
	if len(got.Personalizations) != 1 || got.Personalizations[0].To[0].Email != "fan@example.com" {
		t.Errorf("unexpected recipients: %+v", got.Personalizations)
	}
	if got.From.Email != "noreply@trackmash.io" {
		t.Errorf("from = %+v", got.From)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(got.Attachments))
	}
	att := got.Attachments[0]
	if att.Filename != "daft-punk.zip" || att.Type != "application/zip" || att.Disposition != "attachment" {
		t.Errorf("attachment metadata = %+v", att)
	}
	decoded, err := base64.StdEncoding.DecodeString(att.Content)
	if err != nil {
		t.Fatalf("attachment not base64: %v", err)
	}
	if string(decoded) != "zip bytes" {
		t.Error("attachment content mismatch")
	}
	if len(got.Content) != 1 || got.Content[0].Type != "text/plain" {
		t.Errorf("content = %+v", got.Content)
	}
}

func TestSendArchiveAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	err := testClient(srv.URL).SendArchive(context.Background(), "fan@example.com", "m.zip", []byte("x"), "http://pull")
	if err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}

func TestSendArchiveUnconfigured(t *testing.T) {
	c := NewSendGridClient(&config.SendGridConfig{BaseURL: "http://localhost:0"})
	if err := c.SendArchive(context.Background(), "a@b.c", "m.zip", nil, ""); err == nil {
		t.Fatal("expected error from unconfigured client")
	}
}
