package recognizer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/invocr/internal/httpjson"
	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/retry"
)

// OpenAIConfig configures an OpenAI-compatible chat/completions vision tier.
type OpenAIConfig struct {
	APIKey      string // falls back to OPENAI_API_KEY
	BaseURL     string // default https://api.openai.com/v1
	Model       string
	Temperature float32
	Confidence  float64
	Timeout     time.Duration
}

// OpenAI is a SlowRecognizer talking to an OpenAI-compatible endpoint.
type OpenAI struct {
	cfg    OpenAIConfig
	http   *http.Client
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI-compatible recognizer.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.Confidence = defaultConfidence(cfg.Confidence)
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

// RecognizeCell implements CellRecognizer.
func (o *OpenAI) RecognizeCell(ctx context.Context, img []byte) (Recognition, error) {
	content, err := o.complete(ctx, img, cellPrompt, false)
	if err != nil {
		return Recognition{}, err
	}
	text := CleanText(content)
	if text == "" {
		return Recognition{}, nil
	}
	return Recognition{Text: text, Confidence: o.cfg.Confidence}, nil
}

// RecognizeDocument implements DocumentRecognizer.
func (o *OpenAI) RecognizeDocument(ctx context.Context, img []byte) ([]invoice.LineRecord, error) {
	content, err := o.complete(ctx, img, documentPrompt, true)
	if err != nil {
		return nil, err
	}
	lines, err := ParseDocument(content)
	if err != nil {
		o.logger.Error("llm.document.parse_failed", "error", err, "content_len", len(content))
		return nil, retry.Permanent(err)
	}
	return lines, nil
}

func (o *OpenAI) complete(ctx context.Context, img []byte, prompt string, jsonMode bool) (string, error) {
	dataURL := "data:image/" + imageFormat(img) + ";base64," + base64.StdEncoding.EncodeToString(img)
	body := map[string]any{
		"model":       o.cfg.Model,
		"temperature": o.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": prompt},
				{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
			}},
		},
	}
	if jsonMode {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	endpoint := strings.TrimRight(o.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{}
	if o.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + o.cfg.APIKey
	}
	raw, err := httpjson.Post(ctx, o.http, endpoint, body, headers, o.logger)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", retry.Permanent(fmt.Errorf("decode openai response: %w", err))
	}
	if len(cc.Choices) == 0 {
		return "", errors.New("no choices in openai response")
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}
