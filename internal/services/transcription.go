package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Chandreshkhunt31/recording-to-insights/config"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/logger"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/models"
	"github.com/Chandreshkhunt31/recording-to-insights/pkg/errors"

	"github.com/cenkalti/backoff/v4"
)

// MaxHostedAudioBytes is the size ceiling the hosted transcription API
// accepts for a single file.
const MaxHostedAudioBytes = 25 * 1024 * 1024

const stubTranscript = "STUB_TRANSCRIPT: OpenAI is not configured (OPENAI_API_KEY missing). " +
	"Upload received and saved; replace this with real transcription by setting the key."

// TranscriptionResult is the output of one transcription call.
type TranscriptionResult struct {
	Transcript string
	Segments   []models.Segment
	Provider   string
	Model      string
}

// TranscriptionClient converts an audio file into a transcript. With an API
// key configured it calls the hosted audio-transcriptions endpoint;
// otherwise it returns a deterministic stub so the pipeline stays runnable.
type TranscriptionClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxBytes   int64
	httpClient *http.Client
	log        *logger.Logger
}

func NewTranscriptionClient(cfg config.OpenAIConfig, log *logger.Logger) *TranscriptionClient {
	return &TranscriptionClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.TranscriptionModel,
		maxBytes:   MaxHostedAudioBytes,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        log,
	}
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start *float64 `json:"start"`
		End   *float64 `json:"end"`
		Text  string   `json:"text"`
	} `json:"segments"`
}

func (c *TranscriptionClient) Transcribe(ctx context.Context, path string) (*TranscriptionResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrNotFound.Code,
			fmt.Sprintf("Audio file not found: %s", path), errors.ErrNotFound.Status)
	}

	if c.apiKey == "" {
		return &TranscriptionResult{
			Transcript: stubTranscript,
			Provider:   "stub",
			Model:      "stub",
		}, nil
	}

	if info.Size() > c.maxBytes {
		return nil, errors.NewError(errors.ErrPayloadTooLarge.Code,
			fmt.Sprintf("Audio file too large for hosted transcription: %d bytes. "+
				"Please keep it under %d bytes (~25MB), or split/compress it.",
				info.Size(), c.maxBytes),
			errors.ErrPayloadTooLarge.Status)
	}

	resp, err := c.request(ctx, path)
	if err != nil {
		return nil, err
	}

	result := &TranscriptionResult{
		Transcript: resp.Text,
		Provider:   "openai",
		Model:      c.model,
	}
	for _, s := range resp.Segments {
		result.Segments = append(result.Segments, models.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		})
	}

	return result, nil
}

func (c *TranscriptionClient) request(ctx context.Context, path string) (*transcriptionResponse, error) {
	endpoint := c.baseURL + "/audio/transcriptions"
	log := c.log.WithField("module", "transcription").WithField("path", path)

	var out transcriptionResponse
	var lastErr error
	operation := func() error {
		body, contentType, err := c.multipartBody(path)
		if err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		data, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("transcription server error: %s", data)
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("transcription request rejected: %s", data)
			return backoff.Permanent(lastErr)
		}

		if err := json.Unmarshal(data, &out); err != nil {
			lastErr = fmt.Errorf("transcription decode error: %v body=%s", err, data)
			return backoff.Permanent(lastErr)
		}
		lastErr = nil
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		log.WithError(lastErr).Error("transcription failed")
		return nil, errors.WrapError(lastErr, errors.ErrUpstream.Code,
			"Transcription backend failure", errors.ErrUpstream.Status)
	}

	return &out, nil
}

func (c *TranscriptionClient) multipartBody(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	_ = w.WriteField("model", c.model)
	_ = w.WriteField("response_format", "verbose_json")
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &b, w.FormDataContentType(), nil
}
