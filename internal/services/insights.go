package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Chandreshkhunt31/recording-to-insights/config"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/logger"
	"github.com/Chandreshkhunt31/recording-to-insights/pkg/errors"

	"github.com/cenkalti/backoff/v4"
)

const insightSystemPrompt = `You are an AI Insight Generator embedded inside a secure relationship-practice platform.

Your role is to transform a recorded relationship session into a clear, grounded, and client-safe interpretive deliverable.

IMPORTANT CONSTRAINTS:

- You are NOT a therapist, counsellor, or diagnostician.

- Do NOT label, diagnose, pathologize, or assign blame.

- Do NOT introduce concepts that were not reasonably present in the conversation.

- Use neutral, respectful, non-judgmental language at all times.

- Avoid therapy jargon unless it is clearly implied by the speakers.

- The output must be suitable to be shared directly with clients.

CONTEXT:

- The input is a transcript from a relationship session involving one or more participants.

- The purpose is reflection, clarity, and pattern awareness — not advice or instruction.

- The practitioner owns the interpretive framework; you are executing it consistently.

OUTPUT GOAL:

Produce a structured “Session Insight & Relationship Pattern Summary” that helps clients:

- understand what was discussed

- recognize recurring interaction patterns

- reflect on expressed needs

- notice moments of alignment or repair

- engage thoughtfully with reflective questions

STYLE GUIDELINES:

- Write in calm, grounded, human language.

- Use complete sentences and short paragraphs where appropriate for clarity and client readability.

- Do not over-summarize; prioritize meaning over detail.

- When uncertain, soften language (e.g., “appeared to,” “seemed to,” “may have”).

You must follow the output structure and output format exactly as defined in the user instructions.
`

const insightUserPromptTemplate = `You are given a verbatim transcript from a recorded relationship session.

Your task is to generate a structured deliverable titled:

“Session Insight & Relationship Pattern Summary”

The output will be shown directly to clients inside a professional, enterprise-grade dashboard.
Clarity, readability, and visual structure are critical.

Use ONLY the information present in the transcript.
Do NOT infer facts, histories, diagnoses, or intentions not supported by the conversation.

==============================

TRANSCRIPT

==============================

{{FULL_SESSION_TRANSCRIPT}}

==============================

CRITICAL FORMATTING & PRESENTATION REQUIREMENTS (VERY IMPORTANT):

- Use clear section headers exactly as specified below.
- Ensure generous spacing between sections (logical paragraph breaks).
- Prefer short paragraphs (2–4 lines max).
- Use **bold text** selectively to highlight key phrases or concepts (represented as plain text).
- Use bullet points only where they improve clarity.
- Avoid dense blocks of text.
- Use **formal, minimal emojis** sparingly to guide the reader (e.g., 🧭 🔍 💬 ✨ ❓).
- Emojis must support clarity, not decoration.
- Tone must remain professional, grounded, and client-safe.
- Do NOT include meta commentary, explanations, or instructions in the content.

The output must feel:
- grounded
- reflective
- respectful
- easy to read on screen

--------------------------------

Generate the output using the following structure EXACTLY.
Do not rename sections.
Do not reorder sections.
Do not add or remove sections.

OUTPUT FORMAT REQUIREMENT (CRITICAL):

- Output MUST be valid JSON only (no markdown, no extra text).
- Use the keys EXACTLY as specified.
- Each value MUST be an array of strings.
  - For the first four sections, each string should be a short paragraph (2–4 lines max).
  - For reflective questions, each string should be a single question (no numbering).

Return this exact JSON schema:

{
  "session_overview": ["..."],
  "core_relationship_dynamics_observed": ["..."],
  "expressed_needs_and_concerns_as_heard": ["..."],
  "moments_of_alignment_understanding_or_repair": ["..."],
  "reflective_questions_for_consideration": ["...", "...", "..."]
}

CONTENT REQUIREMENTS:

- Use ONLY the transcript.
- No diagnoses, no blame, no therapy jargon unless clearly implied.
- Keep language safe to show directly to clients.
`

// InsightResult is the output of one insight-generation call. RawText is
// always present; Parsed is nil when the model's reply was not valid JSON.
type InsightResult struct {
	RawText  string
	Parsed   map[string]interface{}
	Provider string
	Model    string
}

// InsightClient turns a transcript into the structured session deliverable
// via the hosted chat-completions endpoint, or a deterministic stub when no
// API key is configured.
type InsightClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *logger.Logger
}

func NewInsightClient(cfg config.OpenAIConfig, log *logger.Logger) *InsightClient {
	return &InsightClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.ChatModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        log,
	}
}

func (c *InsightClient) Generate(ctx context.Context, transcript string) (*InsightResult, error) {
	if c.apiKey == "" {
		return stubInsights(), nil
	}

	prompt := strings.ReplaceAll(insightUserPromptTemplate, "{{FULL_SESSION_TRANSCRIPT}}", transcript)

	reqBody := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": insightSystemPrompt},
			{"role": "user", "content": prompt},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     0.2,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrInternalServer.Code,
			"Failed to encode insight request", errors.ErrInternalServer.Status)
	}

	text, err := c.request(ctx, payload)
	if err != nil {
		return nil, err
	}

	return &InsightResult{
		RawText:  text,
		Parsed:   tryParseInsights(text),
		Provider: "openai",
		Model:    c.model,
	}, nil
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *InsightClient) request(ctx context.Context, payload []byte) (string, error) {
	endpoint := c.baseURL + "/chat/completions"
	log := c.log.WithField("module", "insights")

	var text string
	var lastErr error
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		data, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("insight server error: %s", data)
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("insight request rejected: %s", data)
			return backoff.Permanent(lastErr)
		}

		var parsed chatCompletionsResponse
		if err := json.Unmarshal(data, &parsed); err != nil || len(parsed.Choices) == 0 {
			lastErr = fmt.Errorf("unexpected insight response: %s", data)
			return backoff.Permanent(lastErr)
		}

		text = strings.TrimSpace(parsed.Choices[0].Message.Content)
		lastErr = nil
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		log.WithError(lastErr).Error("insight generation failed")
		return "", errors.WrapError(lastErr, errors.ErrUpstream.Code,
			"Insight backend failure", errors.ErrUpstream.Status)
	}

	return text, nil
}

// tryParseInsights returns the reply as a JSON object, or nil when it does
// not parse. Absence is not an error; the caller degrades to raw text.
func tryParseInsights(text string) map[string]interface{} {
	var val map[string]interface{}
	if err := json.Unmarshal([]byte(text), &val); err != nil {
		return nil
	}
	return val
}

func stubInsights() *InsightResult {
	stub := map[string]interface{}{
		"session_overview":                       []interface{}{"Stub mode: configure OPENAI_API_KEY for real insights."},
		"core_relationship_dynamics_observed":    []interface{}{"Stub mode."},
		"expressed_needs_and_concerns_as_heard":  []interface{}{"Stub mode."},
		"moments_of_alignment_understanding_or_repair": []interface{}{"Stub mode."},
		"reflective_questions_for_consideration": []interface{}{
			"What felt most important in this session?",
			"What patterns did you notice in how you each responded?",
			"What felt different by the end of the session, if anything?",
		},
	}
	raw, _ := json.Marshal(stub)
	return &InsightResult{
		RawText:  string(raw),
		Parsed:   stub,
		Provider: "stub",
		Model:    "stub",
	}
}
