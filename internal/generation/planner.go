package generation

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Planner validates a job type's request params and resolves them into an
// ordered list of unit descriptors.
type Planner interface {
	Type() string
	Plan(ctx context.Context, params json.RawMessage) ([]Descriptor, error)
}

// Prechecker lets a job type mark a unit skipped before any provider call.
type Prechecker interface {
	Precheck(d Descriptor) (skip bool, reason string)
}

// Describer produces n short natural-language descriptions for a brief.
type Describer interface {
	Describe(ctx context.Context, brief string, n int) ([]string, error)
}

type PlannerRegistry struct {
	mu       sync.RWMutex
	planners map[string]Planner
}

func NewPlannerRegistry(planners ...Planner) *PlannerRegistry {
	r := &PlannerRegistry{planners: make(map[string]Planner)}
	for _, p := range planners {
		r.Register(p)
	}
	return r
}

func (r *PlannerRegistry) Register(p Planner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planners[normalizeType(p.Type())] = p
}

func (r *PlannerRegistry) Get(jobType string) (Planner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.planners[normalizeType(jobType)]
	return p, ok
}

func (r *PlannerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.planners))
	for t := range r.planners {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func normalizeType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DefaultPlanners returns every built-in job type. describer may be nil.
func DefaultPlanners(describer Describer) []Planner {
	return []Planner{
		OutfitPlanner{},
		GenderConversionPlanner{},
		ShowcasePlanner{Describer: describer},
		ScenePhotosPlanner{},
		ProfilePhotoPlanner{},
		ShowcaseVideoPlanner{Describer: describer},
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return invalid("params are required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalid("malformed params: %v", err)
	}
	return nil
}
