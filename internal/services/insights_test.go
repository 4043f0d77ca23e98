package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Chandreshkhunt31/recording-to-insights/config"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/logger"
	apperrors "github.com/Chandreshkhunt31/recording-to-insights/pkg/errors"
)

var insightSectionKeys = []string{
	"session_overview",
	"core_relationship_dynamics_observed",
	"expressed_needs_and_concerns_as_heard",
	"moments_of_alignment_understanding_or_repair",
	"reflective_questions_for_consideration",
}

func TestGenerateStubWithoutKey(t *testing.T) {
	c := NewInsightClient(config.OpenAIConfig{}, logger.Discard())

	result, err := c.Generate(context.Background(), "transcript text")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Provider != "stub" || result.Model != "stub" {
		t.Fatalf("provenance = %s/%s, want stub/stub", result.Provider, result.Model)
	}
	for _, key := range insightSectionKeys {
		if _, ok := result.Parsed[key]; !ok {
			t.Fatalf("stub insights missing %q", key)
		}
	}
	// RawText round-trips to the same object.
	var fromRaw map[string]interface{}
	if err := json.Unmarshal([]byte(result.RawText), &fromRaw); err != nil {
		t.Fatalf("stub RawText is not valid JSON: %v", err)
	}
}

func chatReply(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		})
	}
}

func TestGenerateHostedParsesJSONReply(t *testing.T) {
	srv := httptest.NewServer(chatReply(`{"session_overview": ["A short session."]}`))
	defer srv.Close()

	c := NewInsightClient(config.OpenAIConfig{
		APIKey:    "sk-test",
		BaseURL:   srv.URL,
		ChatModel: "chat-test",
	}, logger.Discard())

	result, err := c.Generate(context.Background(), "transcript text")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Provider != "openai" || result.Model != "chat-test" {
		t.Fatalf("provenance = %s/%s", result.Provider, result.Model)
	}
	if result.Parsed == nil {
		t.Fatal("reply should have parsed as JSON")
	}
	if _, ok := result.Parsed["session_overview"]; !ok {
		t.Fatal("parsed insights missing session_overview")
	}
}

func TestGenerateHostedNonJSONReplyDegrades(t *testing.T) {
	srv := httptest.NewServer(chatReply("I cannot answer in JSON today."))
	defer srv.Close()

	c := NewInsightClient(config.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
	}, logger.Discard())

	result, err := c.Generate(context.Background(), "transcript text")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Parsed != nil {
		t.Fatal("non-JSON reply must leave Parsed nil")
	}
	if result.RawText != "I cannot answer in JSON today." {
		t.Fatalf("raw text = %q", result.RawText)
	}
}

func TestGenerateHostedRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewInsightClient(config.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
	}, logger.Discard())

	_, err := c.Generate(context.Background(), "transcript text")
	if !errors.Is(err, apperrors.ErrUpstream) {
		t.Fatalf("err = %v, want upstream failure", err)
	}
}

func TestGenerateSubstitutesTranscript(t *testing.T) {
	var gotUserPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for _, m := range body.Messages {
			if m.Role == "user" {
				gotUserPrompt = m.Content
			}
		}
		chatReply(`{}`).ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := NewInsightClient(config.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
	}, logger.Discard())

	if _, err := c.Generate(context.Background(), "UNIQUE-TRANSCRIPT-MARKER"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(gotUserPrompt, "UNIQUE-TRANSCRIPT-MARKER") {
		t.Fatal("transcript not substituted into the user prompt")
	}
	if strings.Contains(gotUserPrompt, "{{FULL_SESSION_TRANSCRIPT}}") {
		t.Fatal("placeholder left in the user prompt")
	}
}
