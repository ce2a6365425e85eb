package adapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAI_Matches(t *testing.T) {
	a := NewOpenAI("https://api.openai.com/v1")

	tests := []struct {
		path string
		want bool
	}{
		{"/v1/chat/completions", true},
		{"/chat/completions", true},
		{"/v1/embeddings", true},
		{"/models", true},
		{"/v1/models", false},
		{"/v1beta/models/gemini-pro:generateContent", false},
		{"/health", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if got := a.Matches(r); got != tt.want {
				t.Errorf("Matches(%s) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestOpenAI_ExtractModelName(t *testing.T) {
	a := NewOpenAI("")

	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		want        string
	}{
		{"json body", http.MethodPost, "application/json", `{"model":"gpt-4o","messages":[]}`, "gpt-4o"},
		{"charset suffix", http.MethodPost, "application/json; charset=utf-8", `{"model":"gpt-4o"}`, "gpt-4o"},
		{"malformed json", http.MethodPost, "application/json", `{"model":`, ""},
		{"wrong content type", http.MethodPost, "text/plain", `{"model":"gpt-4o"}`, ""},
		{"get request", http.MethodGet, "application/json", `{"model":"gpt-4o"}`, ""},
		{"non-string model", http.MethodPost, "application/json", `{"model":42}`, ""},
		{"missing model", http.MethodPost, "application/json", `{"messages":[]}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newBufferedRequest(t, tt.method, "/v1/chat/completions", tt.body)
			req.Header.Set("Content-Type", tt.contentType)
			if got := a.ExtractModelName(req); got != tt.want {
				t.Errorf("ExtractModelName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenAI_ExtractClientCredential(t *testing.T) {
	a := NewOpenAI("")

	tests := []struct {
		header string
		want   string
	}{
		{"Bearer sk-abc", "sk-abc"},
		{"bearer sk-abc", "sk-abc"},
		{"Basic dXNlcg==", ""},
		{"", ""},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		if got := a.ExtractClientCredential(r); got != tt.want {
			t.Errorf("ExtractClientCredential(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestOpenAI_BuildUpstreamRequest(t *testing.T) {
	a := NewOpenAI("https://upstream.example.com/v1/")

	t.Run("pooled", func(t *testing.T) {
		req := newBufferedRequest(t, http.MethodPost, "/chat/completions?stream=true", `{"model":"gpt-4o"}`)
		req.Header.Set("Authorization", "Bearer shared-secret")

		out, err := a.BuildUpstreamRequest(context.Background(), req, "sk-pool", "gpt-4o")
		if err != nil {
			t.Fatalf("BuildUpstreamRequest failed: %v", err)
		}

		if got := out.URL.String(); got != "https://upstream.example.com/v1/chat/completions?stream=true" {
			t.Errorf("Unexpected upstream URL %s", got)
		}
		if got := out.Header.Get("Authorization"); got != "Bearer sk-pool" {
			t.Errorf("Expected pool key, got %q", got)
		}
		body, _ := io.ReadAll(out.Body)
		if string(body) != `{"model":"gpt-4o"}` {
			t.Errorf("Expected body to be preserved, got %s", body)
		}
	})

	t.Run("bypass", func(t *testing.T) {
		req := newBufferedRequest(t, http.MethodPost, "/chat/completions", `{}`)
		req.Header.Set("Authorization", "Bearer sk-client")

		out, err := a.BuildUpstreamRequest(context.Background(), req, "", "")
		if err != nil {
			t.Fatalf("BuildUpstreamRequest failed: %v", err)
		}
		if got := out.Header.Get("Authorization"); got != "Bearer sk-client" {
			t.Errorf("Expected client credential to pass through, got %q", got)
		}
	})
}
