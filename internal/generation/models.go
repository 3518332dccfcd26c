package generation

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobGenerating JobStatus = "generating"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

type UnitStatus string

const (
	UnitPending    UnitStatus = "pending"
	UnitGenerating UnitStatus = "generating"
	UnitCompleted  UnitStatus = "completed"
	UnitFailed     UnitStatus = "failed"
	UnitSkipped    UnitStatus = "skipped"
)

func (s UnitStatus) Terminal() bool {
	return s == UnitCompleted || s == UnitFailed || s == UnitSkipped
}

// Final reports whether the unit can never run again. Failed units are
// terminal but may be retried.
func (s UnitStatus) Final() bool {
	return s == UnitCompleted || s == UnitSkipped
}

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Descriptor is what a unit should generate. The orchestration layer never
// looks inside it; planners write it and the executor reads it.
type Descriptor struct {
	Kind            Kind              `json:"kind"`
	Label           string            `json:"label,omitempty"`
	Prompt          string            `json:"prompt"`
	NegativePrompt  string            `json:"negative_prompt,omitempty"`
	ReferenceURLs   []string          `json:"reference_urls"`
	AspectRatio     string            `json:"aspect_ratio,omitempty"`
	ImageSize       string            `json:"image_size,omitempty"`
	DurationSeconds int               `json:"duration_seconds,omitempty"`
	KeyPrefix       string            `json:"key_prefix,omitempty"`
	Meta            map[string]string `json:"meta,omitempty"`
}

type Job struct {
	ID      string         `gorm:"primaryKey;size:26" json:"job_id"`
	JobType string         `gorm:"type:varchar(32);index;not null" json:"job_type"`
	Status  JobStatus      `gorm:"type:varchar(16);index;not null" json:"status"`
	Params  datatypes.JSON `json:"params,omitempty"`

	// terminal units (completed + failed + skipped)
	CompletedCount int `gorm:"not null;default:0" json:"completed_count"`
	SucceededCount int `gorm:"not null;default:0" json:"succeeded_count"`
	FailedCount    int `gorm:"not null;default:0" json:"failed_count"`
	TotalCount     int `gorm:"not null" json:"total_count"`

	// Filled by administrative failures (e.g. dispatch)
	Error *string `gorm:"type:text" json:"error,omitempty"`

	Units []Unit `gorm:"foreignKey:JobID;references:ID;constraint:OnDelete:CASCADE" json:"units"`

	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "generation_jobs" }

type Unit struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	JobID string `gorm:"size:26;not null;uniqueIndex:uniq_job_unit" json:"-"`
	Index int    `gorm:"column:unit_index;not null;uniqueIndex:uniq_job_unit" json:"index"`

	Status     UnitStatus                     `gorm:"type:varchar(16);not null" json:"status"`
	Descriptor datatypes.JSONType[Descriptor] `json:"descriptor"`

	// Filled when completed
	OutputURL *string `gorm:"type:text" json:"output_url,omitempty"`
	// Filled when failed or skipped
	Error *string `gorm:"type:text" json:"error,omitempty"`

	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Unit) TableName() string { return "generation_units" }

// Models lists the tables to migrate.
func Models() []any {
	return []any{&Job{}, &Unit{}}
}
