package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// models that accept imageConfig.imageSize
var geminiImageSizeModels = map[string]bool{
	"gemini-3-pro-image-preview": true,
}

// GeminiGenerator calls generateContent and returns the first inline image.
type GeminiGenerator struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

func NewGeminiGenerator(baseURL, apiKey, model string) *GeminiGenerator {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if model == "" {
		model = "gemini-3-pro-image-preview"
	}
	return &GeminiGenerator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		// per-call deadline comes from ctx
		Client: &http.Client{Timeout: 0},
	}
}

func (g *GeminiGenerator) Name() string { return "gemini:" + g.Model }

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	Thought    bool              `json:"thought,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type geminiGenConfig struct {
	ResponseModalities []string           `json:"responseModalities"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiReq struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiResp struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Artifact, error) {
	if g.Client == nil {
		return nil, errors.New("gemini: http client is nil")
	}
	if g.APIKey == "" {
		return nil, errors.New("gemini: api key not configured")
	}

	parts := []geminiPart{{Text: req.Prompt}}
	for _, ref := range req.References {
		mt := ref.MIMEType
		if mt == "" {
			mt = "image/jpeg"
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MIMEType: mt,
			Data:     base64.StdEncoding.EncodeToString(ref.Data),
		}})
	}

	body := geminiReq{
		Contents: []geminiContent{{Parts: parts}},
		GenerationConfig: geminiGenConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}
	if req.AspectRatio != "" || req.ImageSize != "" {
		ic := &geminiImageConfig{AspectRatio: req.AspectRatio}
		if geminiImageSizeModels[g.Model] {
			ic.ImageSize = req.ImageSize
		}
		body.GenerationConfig.ImageConfig = ic
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.BaseURL, g.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.APIKey)

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// error bodies may not be JSON; only a 2xx body must decode
	var decoded geminiResp
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode == http.StatusTooManyRequests {
		msg := ""
		if decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return nil, &RateLimitError{
			Provider:   g.Name(),
			StatusCode: resp.StatusCode,
			Message:    msg,
			RetryAfter: parseRetryAfter(resp.Header),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decoded.Error != nil && decoded.Error.Message != "" {
			return nil, fmt.Errorf("gemini: status %d: %s", resp.StatusCode, decoded.Error.Message)
		}
		return nil, fmt.Errorf("gemini: status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", decodeErr)
	}

	finish := ""
	for _, cand := range decoded.Candidates {
		if cand.FinishReason != "" {
			finish = cand.FinishReason
		}
		for _, p := range cand.Content.Parts {
			if p.Thought || p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("gemini: decode image: %w", err)
			}
			mt := p.InlineData.MIMEType
			if mt == "" {
				mt = "image/png"
			}
			return &Artifact{Data: data, MIMEType: mt, Provider: g.Name()}, nil
		}
	}
	if finish == "" {
		finish = "unknown"
	}
	return nil, fmt.Errorf("gemini: no image returned (finishReason=%s)", finish)
}
