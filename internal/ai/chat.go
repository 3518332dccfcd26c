package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatProvider is a text completion backend used for scene and prompt
// descriptions.
type ChatProvider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
