package generation

import (
	"context"
	"sync"

	"github.com/suPer8Hu/ugc-platform/internal/logger"
)

// Dispatcher hands a new job's units to whatever will execute them.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string, indices []int) error
}

// ClientDispatcher does nothing: the client drives execution by calling
// execute-unit once per unit.
type ClientDispatcher struct{}

func (ClientDispatcher) Dispatch(context.Context, string, []int) error { return nil }

// InlineDispatcher runs a job's units one after another in a background
// goroutine of the current process. Meant for single-binary local setups.
type InlineDispatcher struct {
	exec *Executor
	log  *logger.Logger
	wg   sync.WaitGroup
}

func NewInlineDispatcher(exec *Executor, log *logger.Logger) *InlineDispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &InlineDispatcher{exec: exec, log: log}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, jobID string, indices []int) error {
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, i := range indices {
			if _, err := d.exec.ExecuteUnit(bg, jobID, i); err != nil {
				d.log.Error("inline unit execution failed", "job_id", jobID, "unit", i, "error", err)
			}
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has been worked through.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
