package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultDescriberTimeout = 30 * time.Second

// Describer asks a chat model for n short scene or motion descriptions.
// Callers are expected to fall back to a static list on error.
type Describer struct {
	chat    ChatProvider
	timeout time.Duration
}

func NewDescriber(chat ChatProvider, timeout time.Duration) *Describer {
	if timeout <= 0 {
		timeout = DefaultDescriberTimeout
	}
	return &Describer{chat: chat, timeout: timeout}
}

const describerSystemPrompt = `You write short visual descriptions for an image and video generation pipeline.
Answer ONLY with a JSON array of strings, no markdown, no commentary.`

func (d *Describer) Describe(ctx context.Context, brief string, n int) ([]string, error) {
	if d == nil || d.chat == nil {
		return nil, errors.New("describer: not configured")
	}
	if n <= 0 {
		return nil, nil
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.chat.Chat(cctx, []Message{
		{Role: "system", Content: describerSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("%s\n\nReturn exactly %d descriptions.", brief, n)},
	})
	if err != nil {
		return nil, fmt.Errorf("describer: %w", err)
	}

	items, err := parseDescriptions(out)
	if err != nil {
		return nil, fmt.Errorf("describer: %w", err)
	}
	if len(items) < n {
		return nil, fmt.Errorf("describer: got %d descriptions, want %d", len(items), n)
	}
	return items[:n], nil
}

// parseDescriptions accepts a JSON array of strings or of objects carrying a
// "description", "prompt" or "position" field, optionally wrapped in a
// markdown code fence.
func parseDescriptions(raw string) ([]string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var plain []string
	if err := json.Unmarshal([]byte(s), &plain); err == nil {
		return compact(plain), nil
	}

	var objs []map[string]any
	if err := json.Unmarshal([]byte(s), &objs); err != nil {
		return nil, fmt.Errorf("unparseable response: %w", err)
	}
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		for _, k := range []string{"description", "prompt", "position"} {
			if v, ok := o[k].(string); ok && strings.TrimSpace(v) != "" {
				out = append(out, strings.TrimSpace(v))
				break
			}
		}
	}
	return out, nil
}

func compact(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
