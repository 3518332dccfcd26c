package generation

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db, now: time.Now}
}

// UnitUpdate is the new state written for one unit.
type UnitUpdate struct {
	Status    UnitStatus
	OutputURL string
	Error     string
}

// Create inserts the job and its units in one transaction.
func (r *Repo) Create(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(job).Error
	})
}

// Get reads straight from the database; expired jobs read as not found.
func (r *Repo) Get(ctx context.Context, id string) (*Job, error) {
	var j Job
	err := r.db.WithContext(ctx).
		Preload("Units", func(db *gorm.DB) *gorm.DB { return db.Order("unit_index ASC") }).
		First(&j, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if !j.ExpiresAt.IsZero() && r.now().After(j.ExpiresAt) {
		return nil, ErrJobNotFound
	}
	return &j, nil
}

// UpdateUnit replaces one unit's state and recomputes the job aggregate in
// the same transaction. The job row is locked first so concurrent updates
// to sibling units serialize on the recompute.
//
// A completed or skipped unit is final: any later write to it is ignored and
// the stored job is returned unchanged. A job failed administratively (see
// SetStatus) stays failed; only its counters follow the units.
func (r *Repo) UpdateUnit(ctx context.Context, id string, index int, upd UnitUpdate) (*Job, error) {
	var out Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&job, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}
		now := r.now()
		if !job.ExpiresAt.IsZero() && now.After(job.ExpiresAt) {
			return ErrJobNotFound
		}

		var cur Unit
		if err := tx.Where("job_id = ? AND unit_index = ?", id, index).First(&cur).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnitNotFound
			}
			return err
		}
		if cur.Status.Final() {
			units, err := loadUnits(tx, id)
			if err != nil {
				return err
			}
			job.Units = units
			out = job
			return nil
		}

		fields := map[string]any{
			"status":     upd.Status,
			"updated_at": now,
		}
		switch upd.Status {
		case UnitGenerating:
			fields["attempts"] = gorm.Expr("attempts + 1")
			fields["started_at"] = now
			fields["finished_at"] = nil
			fields["error"] = nil
			fields["output_url"] = nil
		case UnitCompleted:
			fields["output_url"] = upd.OutputURL
			fields["error"] = nil
			fields["finished_at"] = now
		case UnitFailed, UnitSkipped:
			fields["error"] = upd.Error
			fields["output_url"] = nil
			fields["finished_at"] = now
		}

		if err := tx.Model(&Unit{}).Where("id = ?", cur.ID).Updates(fields).Error; err != nil {
			return err
		}

		units, err := loadUnits(tx, id)
		if err != nil {
			return err
		}
		c := Aggregate(units)
		if job.Status == JobFailed && job.Error != nil {
			c.Status = JobFailed
		}

		if err := tx.Model(&Job{}).Where("id = ?", id).Updates(map[string]any{
			"status":          c.Status,
			"completed_count": c.Terminal,
			"succeeded_count": c.Succeeded,
			"failed_count":    c.Failed,
			"total_count":     c.Total,
			"updated_at":      now,
		}).Error; err != nil {
			return err
		}

		job.Status = c.Status
		job.CompletedCount = c.Terminal
		job.SucceededCount = c.Succeeded
		job.FailedCount = c.Failed
		job.TotalCount = c.Total
		job.UpdatedAt = now
		job.Units = units
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func loadUnits(tx *gorm.DB, jobID string) ([]Unit, error) {
	var units []Unit
	err := tx.Where("job_id = ?", jobID).Order("unit_index ASC").Find(&units).Error
	return units, err
}

// SetStatus is for transitions not driven by a unit, e.g. failing a job
// whose units could not be dispatched.
func (r *Repo) SetStatus(ctx context.Context, id string, status JobStatus, errMsg string) error {
	fields := map[string]any{
		"status":     status,
		"updated_at": r.now(),
	}
	if errMsg != "" {
		fields["error"] = errMsg
	} else {
		fields["error"] = nil
	}
	res := r.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// PurgeExpired deletes jobs (and their units) whose ttl passed.
func (r *Repo) PurgeExpired(ctx context.Context) (int64, error) {
	var purged int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now()
		expired := tx.Model(&Job{}).Select("id").Where("expires_at < ?", now)
		if err := tx.Where("job_id IN (?)", expired).Delete(&Unit{}).Error; err != nil {
			return err
		}
		res := tx.Where("expires_at < ?", now).Delete(&Job{})
		if res.Error != nil {
			return res.Error
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}
