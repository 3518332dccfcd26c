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
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	predictionStarting   = "starting"
	predictionProcessing = "processing"
	predictionSucceeded  = "succeeded"
	predictionFailed     = "failed"
	predictionCanceled   = "canceled"
)

var errPredictionPending = errors.New("prediction not finished")

// ReplicateGenerator creates a prediction and polls it until it reaches a
// terminal state, then downloads the output. A prediction that times out on
// our side is left running remotely.
type ReplicateGenerator struct {
	BaseURL      string
	APIKey       string
	Model        string
	PollInterval time.Duration
	Client       *http.Client
}

func NewReplicateGenerator(baseURL, apiKey, model string) *ReplicateGenerator {
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	if model == "" {
		model = "kwaivgi/kling-v2.5-turbo-pro"
	}
	return &ReplicateGenerator{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		Model:        model,
		PollInterval: 5 * time.Second,
		Client:       &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *ReplicateGenerator) Name() string { return "replicate:" + g.Model }

type replicateCreateReq struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

func (p *replicatePrediction) terminal() bool {
	switch p.Status {
	case predictionSucceeded, predictionFailed, predictionCanceled:
		return true
	}
	return false
}

// outputURL accepts both a single URL and a list of URLs.
func (p *replicatePrediction) outputURL() string {
	var one string
	if err := json.Unmarshal(p.Output, &one); err == nil {
		return one
	}
	var many []string
	if err := json.Unmarshal(p.Output, &many); err == nil && len(many) > 0 {
		return many[0]
	}
	return ""
}

func (g *ReplicateGenerator) Generate(ctx context.Context, req Request) (*Artifact, error) {
	if g.Client == nil {
		return nil, errors.New("replicate: http client is nil")
	}
	if g.APIKey == "" {
		return nil, errors.New("replicate: api key not configured")
	}
	if len(req.References) == 0 {
		return nil, errors.New("replicate: source image required")
	}

	pred, err := g.create(ctx, req)
	if err != nil {
		return nil, err
	}
	if !pred.terminal() {
		pred, err = g.poll(ctx, pred)
		if err != nil {
			return nil, err
		}
	}

	switch pred.Status {
	case predictionSucceeded:
	case predictionFailed, predictionCanceled:
		return nil, fmt.Errorf("replicate: prediction %s %s: %v", pred.ID, pred.Status, pred.Error)
	default:
		return nil, fmt.Errorf("replicate: prediction %s unexpected status %q", pred.ID, pred.Status)
	}

	out := pred.outputURL()
	if out == "" {
		return nil, fmt.Errorf("replicate: prediction %s has no output", pred.ID)
	}
	return g.download(ctx, out)
}

func (g *ReplicateGenerator) create(ctx context.Context, req Request) (*replicatePrediction, error) {
	ref := req.References[0]
	mt := ref.MIMEType
	if mt == "" {
		mt = "image/jpeg"
	}
	input := map[string]any{
		"image":  fmt.Sprintf("data:%s;base64,%s", mt, base64.StdEncoding.EncodeToString(ref.Data)),
		"prompt": req.Prompt,
	}
	if req.NegativePrompt != "" {
		input["negative_prompt"] = req.NegativePrompt
	}
	if req.DurationSeconds > 0 {
		input["duration"] = req.DurationSeconds
	}
	if req.AspectRatio != "" {
		input["aspect_ratio"] = req.AspectRatio
	}

	b, err := json.Marshal(replicateCreateReq{Version: g.Model, Input: input})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/predictions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var pred replicatePrediction
	if err := g.do(httpReq, &pred); err != nil {
		return nil, err
	}
	if pred.ID == "" {
		return nil, errors.New("replicate: create returned no prediction id")
	}
	return &pred, nil
}

func (g *ReplicateGenerator) poll(ctx context.Context, pred *replicatePrediction) (*replicatePrediction, error) {
	getURL := pred.URLs.Get
	if getURL == "" {
		getURL = fmt.Sprintf("%s/predictions/%s", g.BaseURL, pred.ID)
	}

	var latest replicatePrediction
	err := retry.Do(
		func() error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
			if err != nil {
				return err
			}
			var p replicatePrediction
			if err := g.do(httpReq, &p); err != nil {
				return err
			}
			latest = p
			if !p.terminal() {
				return errPredictionPending
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(g.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// keep polling through pending states and transient 5xx
			return errors.Is(err, errPredictionPending) || isServerError(err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("replicate: prediction %s still %s: %w", pred.ID, latest.Status, ctx.Err())
		}
		return nil, err
	}
	return &latest, nil
}

type replicateStatusError struct {
	StatusCode int
	Body       string
}

func (e *replicateStatusError) Error() string {
	return fmt.Sprintf("replicate: status %d: %s", e.StatusCode, e.Body)
}

func isServerError(err error) bool {
	var se *replicateStatusError
	return errors.As(err, &se) && se.StatusCode >= 500
}

func (g *ReplicateGenerator) do(httpReq *http.Request, out any) error {
	httpReq.Header.Set("Authorization", "Bearer "+g.APIKey)

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			Provider:   g.Name(),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
			RetryAfter: parseRetryAfter(resp.Header),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &replicateStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return json.Unmarshal(raw, out)
}

func (g *ReplicateGenerator) download(ctx context.Context, url string) (*Artifact, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("replicate: download output: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("replicate: download output: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	mt := resp.Header.Get("Content-Type")
	if mt == "" || mt == "application/octet-stream" {
		mt = "video/mp4"
	}
	return &Artifact{Data: data, MIMEType: mt, Provider: g.Name()}, nil
}
