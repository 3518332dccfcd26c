package ai

import "context"

// Reference is an input image passed to a generator alongside the prompt.
type Reference struct {
	Data     []byte
	MIMEType string
}

// Request is a single generation call. Fields a provider does not understand
// are ignored by it (e.g. DurationSeconds for image models).
type Request struct {
	Prompt          string
	NegativePrompt  string
	References      []Reference
	AspectRatio     string
	ImageSize       string
	DurationSeconds int
}

// Artifact is the binary output of a successful generation.
type Artifact struct {
	Data     []byte
	MIMEType string
	Provider string
}

// Generator is one concrete provider+model. Implementations either answer
// synchronously or create a remote prediction and poll it to completion;
// callers see the same blocking contract either way.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Artifact, error)
}
