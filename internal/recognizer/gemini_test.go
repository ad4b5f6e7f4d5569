package recognizer

import (
	"context"
	"errors"
	"testing"

	"github.com/MeKo-Tech/invocr/internal/retry"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func fakeGemini(text string, err error) (*Gemini, *[]genai.Part) {
	var seen []genai.Part
	g := &Gemini{
		confidence: 0.9,
		generate: func(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
			seen = parts
			if err != nil {
				return nil, err
			}
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []genai.Part{genai.Text(text)}},
				}},
			}, nil
		},
	}
	return g, &seen
}

func TestGemini_RecognizeCell(t *testing.T) {
	g, seen := fakeGemini("Telur ayam\n", nil)
	r, err := g.RecognizeCell(context.Background(), []byte("\x89PNG\r\n\x1a\n"))
	require.NoError(t, err)
	assert.Equal(t, "Telur ayam", r.Text)
	assert.InDelta(t, 0.9, r.Confidence, 1e-9)

	require.Len(t, *seen, 2)
	blob, ok := (*seen)[0].(genai.Blob)
	require.True(t, ok)
	assert.Equal(t, "image/png", blob.MIMEType)
}

func TestGemini_RecognizeDocument(t *testing.T) {
	g, _ := fakeGemini("```json\n[{\"name\": \"Beras\", \"qty\": 5, \"unit\": \"kg\", \"price\": 12000, \"total\": 60000}]\n```", nil)
	lines, err := g.RecognizeDocument(context.Background(), []byte("x"))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "Beras", lines[0].Name)
}

func TestGemini_ErrorClassification(t *testing.T) {
	g, _ := fakeGemini("", &googleapi.Error{Code: 429, Message: "quota"})
	_, err := g.RecognizeCell(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.True(t, retry.IsRetryable(err))

	g, _ = fakeGemini("", &googleapi.Error{Code: 400, Message: "bad"})
	_, err = g.RecognizeCell(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.False(t, retry.IsRetryable(err))

	g, _ = fakeGemini("", errors.New("boom"))
	_, err = g.RecognizeDocument(context.Background(), []byte("x"))
	require.Error(t, err)
}

func TestGemini_EmptyResponse(t *testing.T) {
	g := &Gemini{generate: func(context.Context, ...genai.Part) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	}}
	_, err := g.RecognizeCell(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.NoError(t, g.Close())
}
