package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGemini_ReturnsFirstNonThoughtImage(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte("PNGDATA"))
	var got geminiReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-3-pro-image-preview:generateContent", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{
					map[string]any{"text": "thinking", "thought": true},
					map[string]any{"inlineData": map[string]any{"mimeType": "image/png", "data": "dGhvdWdodA=="}, "thought": true},
					map[string]any{"inlineData": map[string]any{"mimeType": "image/png", "data": img}},
				}},
				"finishReason": "STOP",
			}},
		})
	}))
	defer srv.Close()

	g := NewGeminiGenerator(srv.URL, "k", "gemini-3-pro-image-preview")
	art, err := g.Generate(context.Background(), Request{
		Prompt:      "make it",
		References:  []Reference{{Data: []byte("ref")}},
		AspectRatio: "9:16",
		ImageSize:   "2K",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("PNGDATA"), art.Data)
	assert.Equal(t, "image/png", art.MIMEType)

	require.NotNil(t, got.GenerationConfig.ImageConfig)
	assert.Equal(t, "9:16", got.GenerationConfig.ImageConfig.AspectRatio)
	assert.Equal(t, "2K", got.GenerationConfig.ImageConfig.ImageSize)
	require.Len(t, got.Contents[0].Parts, 2)
	assert.Equal(t, "image/jpeg", got.Contents[0].Parts[1].InlineData.MIMEType)
}

func TestGemini_ImageSizeOnlyForSupportedModels(t *testing.T) {
	var got geminiReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewGeminiGenerator(srv.URL, "k", "gemini-2.0-flash-exp")
	_, err := g.Generate(context.Background(), Request{AspectRatio: "1:1", ImageSize: "1K"})
	require.Error(t, err)
	assert.Empty(t, got.GenerationConfig.ImageConfig.ImageSize)
}

func TestGemini_429IsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	_, err := NewGeminiGenerator(srv.URL, "k", "m").Generate(context.Background(), Request{})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "RESOURCE_EXHAUSTED", rl.Message)
	assert.EqualValues(t, 30e9, rl.RetryAfter)
}

func TestGemini_NoImageReportsFinishReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"nope"}]},"finishReason":"SAFETY"}]}`))
	}))
	defer srv.Close()

	_, err := NewGeminiGenerator(srv.URL, "k", "m").Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finishReason=SAFETY")
	assert.False(t, IsRateLimited(err))
}

func TestGemini_MalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":`))
	}))
	defer srv.Close()

	_, err := NewGeminiGenerator(srv.URL, "k", "m").Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini: decode response")
	assert.NotContains(t, err.Error(), "finishReason")
}

func TestGemini_MissingKey(t *testing.T) {
	_, err := NewGeminiGenerator("", "", "").Generate(context.Background(), Request{})
	assert.Error(t, err)
}
