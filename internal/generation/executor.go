package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/ugc-platform/internal/ai"
	"github.com/suPer8Hu/ugc-platform/internal/logger"
	"github.com/suPer8Hu/ugc-platform/internal/storage"
)

// ArtifactGenerator is satisfied by *ai.FallbackClient.
type ArtifactGenerator interface {
	Generate(ctx context.Context, req ai.Request) (*ai.Artifact, error)
}

type Executor struct {
	repo     *Repo
	store    storage.Storage
	clients  map[Kind]ArtifactGenerator
	planners *PlannerRegistry
	log      *logger.Logger
}

func NewExecutor(repo *Repo, store storage.Storage, clients map[Kind]ArtifactGenerator, planners *PlannerRegistry, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Nop()
	}
	if planners == nil {
		planners = NewPlannerRegistry()
	}
	return &Executor{
		repo:     repo,
		store:    store,
		clients:  clients,
		planners: planners,
		log:      log.With("component", "executor"),
	}
}

// UnitResult is the outcome of one ExecuteUnit call.
type UnitResult struct {
	JobID          string    `json:"job_id"`
	Unit           Unit      `json:"unit"`
	CompletedCount int       `json:"completed_count"`
	SucceededCount int       `json:"succeeded_count"`
	TotalCount     int       `json:"total_count"`
	JobStatus      JobStatus `json:"job_status"`
	AlreadyDone    bool      `json:"already_done"`

	// Failure is why the unit failed in this call, if it did.
	Failure error `json:"-"`
}

// QuotaExhausted reports whether the unit failed only because every
// provider was rate limited or cooling down.
func (r *UnitResult) QuotaExhausted() bool {
	var all *ai.AllProvidersFailedError
	return r.Failure != nil && errors.As(r.Failure, &all) && all.RateLimitedOnly()
}

func resultFrom(job *Job, index int) *UnitResult {
	return &UnitResult{
		JobID:          job.ID,
		Unit:           job.Units[index],
		CompletedCount: job.CompletedCount,
		SucceededCount: job.SucceededCount,
		TotalCount:     job.TotalCount,
		JobStatus:      job.Status,
	}
}

// ExecuteUnit generates one unit and records the outcome. Completed and
// skipped units are returned untouched; failed units are generated again.
// Generation failures are recorded on the unit and reported through
// UnitResult.Failure, not as the returned error.
func (e *Executor) ExecuteUnit(ctx context.Context, jobID string, index int) (*UnitResult, error) {
	job, err := e.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(job.Units) {
		return nil, fmt.Errorf("%w: index %d out of range [0,%d)", ErrUnitNotFound, index, len(job.Units))
	}

	unit := job.Units[index]
	if unit.Status == UnitCompleted || unit.Status == UnitSkipped {
		res := resultFrom(job, index)
		res.AlreadyDone = true
		return res, nil
	}

	log := e.log.With("job_id", jobID, "unit", index, "job_type", job.JobType)
	start := time.Now()

	started, err := e.repo.UpdateUnit(ctx, jobID, index, UnitUpdate{Status: UnitGenerating})
	if err != nil {
		return nil, err
	}
	// another call finished the unit since it was read above
	if started.Units[index].Status.Final() {
		res := resultFrom(started, index)
		res.AlreadyDone = true
		return res, nil
	}

	desc := unit.Descriptor.Data()

	if p, ok := e.planners.Get(job.JobType); ok {
		if pc, ok := p.(Prechecker); ok {
			if skip, reason := pc.Precheck(desc); skip {
				log.Info("unit skipped", "reason", reason)
				return e.finish(ctx, jobID, index, UnitUpdate{Status: UnitSkipped, Error: reason}, nil)
			}
		}
	}

	url, genErr := e.generate(ctx, job, index, desc)
	if genErr != nil {
		log.Warn("unit failed", "cost", time.Since(start), "error", genErr)
		return e.finish(ctx, jobID, index, UnitUpdate{Status: UnitFailed, Error: genErr.Error()}, genErr)
	}

	log.Info("unit completed", "cost", time.Since(start), "output_url", url)
	return e.finish(ctx, jobID, index, UnitUpdate{Status: UnitCompleted, OutputURL: url}, nil)
}

func (e *Executor) finish(ctx context.Context, jobID string, index int, upd UnitUpdate, failure error) (*UnitResult, error) {
	// record the outcome even if the caller's context is gone
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	job, err := e.repo.UpdateUnit(wctx, jobID, index, upd)
	if err != nil {
		return nil, fmt.Errorf("record unit %d: %w", index, err)
	}
	res := resultFrom(job, index)
	if superseded(res.Unit, upd) {
		// a concurrent call completed the unit first; its outcome stands
		e.log.Info("unit outcome discarded, already finished",
			"job_id", jobID, "unit", index, "status", res.Unit.Status, "discarded", upd.Status)
		res.AlreadyDone = true
		return res, nil
	}
	res.Failure = failure
	return res, nil
}

// superseded reports whether the stored unit is not the outcome just written.
func superseded(stored Unit, upd UnitUpdate) bool {
	if stored.Status != upd.Status {
		return true
	}
	if upd.Status == UnitCompleted {
		return stored.OutputURL == nil || *stored.OutputURL != upd.OutputURL
	}
	return false
}

func (e *Executor) generate(ctx context.Context, job *Job, index int, d Descriptor) (string, error) {
	kind := d.Kind
	if kind == "" {
		kind = KindImage
	}
	client, ok := e.clients[kind]
	if !ok || client == nil {
		return "", fmt.Errorf("no %s provider configured", kind)
	}

	refs := make([]ai.Reference, 0, len(d.ReferenceURLs))
	for _, u := range d.ReferenceURLs {
		data, err := e.store.Get(ctx, u)
		if err != nil {
			return "", fmt.Errorf("fetch reference %s: %w", u, err)
		}
		refs = append(refs, ai.Reference{Data: data, MIMEType: sniffMIME(data)})
	}

	art, err := client.Generate(ctx, ai.Request{
		Prompt:          d.Prompt,
		NegativePrompt:  d.NegativePrompt,
		References:      refs,
		AspectRatio:     d.AspectRatio,
		ImageSize:       d.ImageSize,
		DurationSeconds: d.DurationSeconds,
	})
	if err != nil {
		return "", err
	}

	key := storageKey(job, index, d, art.MIMEType)
	url, err := e.store.Put(ctx, key, art.Data, art.MIMEType)
	if err != nil {
		return "", fmt.Errorf("store output: %w", err)
	}
	return url, nil
}

func storageKey(job *Job, index int, d Descriptor, mimeType string) string {
	ext := storage.ExtensionFor(mimeType)
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if d.KeyPrefix != "" {
		return fmt.Sprintf("%s_%s.%s", d.KeyPrefix, short, ext)
	}
	return fmt.Sprintf("generated/%s/%s/%d_%s.%s", job.JobType, job.ID, index, short, ext)
}

// sniffMIME only distinguishes the image types providers accept.
func sniffMIME(data []byte) string {
	switch ct := http.DetectContentType(data); ct {
	case "image/png", "image/webp", "image/jpeg":
		return ct
	default:
		return "image/jpeg"
	}
}
