package generation

// Counts is the aggregate view of a job's units.
type Counts struct {
	Terminal  int
	Succeeded int
	Failed    int
	Skipped   int
	Total     int
	Status    JobStatus
}

// Aggregate derives counters and job status from a full scan of units, so
// the result does not depend on the order units finished in.
func Aggregate(units []Unit) Counts {
	c := Counts{Total: len(units)}
	started := 0
	for _, u := range units {
		switch u.Status {
		case UnitCompleted:
			c.Succeeded++
		case UnitFailed:
			c.Failed++
		case UnitSkipped:
			c.Skipped++
		}
		if u.Status != UnitPending {
			started++
		}
	}
	c.Terminal = c.Succeeded + c.Failed + c.Skipped

	switch {
	case c.Total == 0 || started == 0:
		c.Status = JobPending
	case c.Terminal < c.Total:
		c.Status = JobGenerating
	case c.Succeeded > 0:
		c.Status = JobCompleted
	default:
		c.Status = JobFailed
	}
	return c
}
