package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/ugc-platform/internal/common"
	"github.com/suPer8Hu/ugc-platform/internal/logger"
	"gorm.io/datatypes"
)

const DefaultJobTTL = 24 * time.Hour

type Orchestrator struct {
	repo       *Repo
	planners   *PlannerRegistry
	dispatcher Dispatcher
	ttl        time.Duration
	log        *logger.Logger
}

func NewOrchestrator(repo *Repo, planners *PlannerRegistry, dispatcher Dispatcher, ttl time.Duration, log *logger.Logger) *Orchestrator {
	if dispatcher == nil {
		dispatcher = ClientDispatcher{}
	}
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		repo:       repo,
		planners:   planners,
		dispatcher: dispatcher,
		ttl:        ttl,
		log:        log.With("component", "orchestrator"),
	}
}

// StartJob validates params, plans the units, persists the job with every
// unit pending and hands the units to the dispatcher. It never waits for a
// unit to run. Nothing is stored when planning fails.
func (o *Orchestrator) StartJob(ctx context.Context, jobType string, params json.RawMessage) (*Job, error) {
	planner, ok := o.planners.Get(jobType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	descs, err := planner.Plan(ctx, params)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return nil, err
		}
		return nil, errors.Join(ErrDecomposition, err)
	}
	if len(descs) == 0 {
		return nil, invalid("request resolves to zero units")
	}

	now := time.Now()
	job := &Job{
		ID:         common.NewULID(),
		JobType:    planner.Type(),
		Status:     JobPending,
		Params:     datatypes.JSON(params),
		TotalCount: len(descs),
		ExpiresAt:  now.Add(o.ttl),
		Units:      make([]Unit, len(descs)),
	}
	indices := make([]int, len(descs))
	for i, d := range descs {
		job.Units[i] = Unit{
			Index:      i,
			Status:     UnitPending,
			Descriptor: datatypes.NewJSONType(d),
		}
		indices[i] = i
	}

	if err := o.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	o.log.Info("job created", "job_id", job.ID, "job_type", job.JobType, "units", len(descs))

	if err := o.dispatcher.Dispatch(ctx, job.ID, indices); err != nil {
		msg := "dispatch failed: " + err.Error()
		if serr := o.repo.SetStatus(context.WithoutCancel(ctx), job.ID, JobFailed, msg); serr != nil {
			o.log.Error("mark job failed", "job_id", job.ID, "error", serr)
		}
		job.Status = JobFailed
		job.Error = &msg
		return job, errors.Join(ErrDispatch, err)
	}
	return job, nil
}
