package recognizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/retry"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiConfig configures the Gemini slow tier.
type GeminiConfig struct {
	APIKey string
	Model  string
	// Confidence assigned to cell readings; the API reports none.
	Confidence  float64
	Temperature float32
}

type generateFunc func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)

// Gemini is a SlowRecognizer backed by Google Gemini.
type Gemini struct {
	client     *genai.Client
	generate   generateFunc
	confidence float64
}

// NewGemini creates a Gemini recognizer.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-pro"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)

	return &Gemini{
		client:     client,
		generate:   model.GenerateContent,
		confidence: defaultConfidence(cfg.Confidence),
	}, nil
}

func defaultConfidence(c float64) float64 {
	if c <= 0 {
		return 0.95
	}
	return clampConfidence(c)
}

// RecognizeCell implements CellRecognizer.
func (g *Gemini) RecognizeCell(ctx context.Context, img []byte) (Recognition, error) {
	text, err := g.ask(ctx, img, cellPrompt)
	if err != nil {
		return Recognition{}, err
	}
	text = CleanText(text)
	if text == "" {
		return Recognition{}, nil
	}
	return Recognition{Text: text, Confidence: g.confidence}, nil
}

// RecognizeDocument implements DocumentRecognizer.
func (g *Gemini) RecognizeDocument(ctx context.Context, img []byte) ([]invoice.LineRecord, error) {
	text, err := g.ask(ctx, img, documentPrompt)
	if err != nil {
		return nil, err
	}
	lines, err := ParseDocument(text)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return lines, nil
}

func (g *Gemini) ask(ctx context.Context, img []byte, prompt string) (string, error) {
	// genai.ImageData takes the format suffix ("png"), not the MIME type.
	resp, err := g.generate(ctx, genai.ImageData(imageFormat(img), img), genai.Text(prompt))
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no response from gemini")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("gemini: %w", &retry.StatusError{Code: apiErr.Code, Body: apiErr.Message})
	}
	return fmt.Errorf("gemini: %w", err)
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
