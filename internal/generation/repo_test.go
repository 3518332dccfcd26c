package generation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ugc-platform/internal/common"
	"gorm.io/datatypes"
)

func newJob(n int, expiresAt time.Time) *Job {
	j := &Job{
		ID:         common.NewULID(),
		JobType:    TypeScenePhotos,
		Status:     JobPending,
		TotalCount: n,
		ExpiresAt:  expiresAt,
	}
	for i := 0; i < n; i++ {
		j.Units = append(j.Units, Unit{
			Index:      i,
			Status:     UnitPending,
			Descriptor: datatypes.NewJSONType(Descriptor{Kind: KindImage, Prompt: "p"}),
		})
	}
	return j
}

func TestRepo_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	job := newJob(3, time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobPending, got.Status)
	require.Len(t, got.Units, 3)
	for i, u := range got.Units {
		assert.Equal(t, i, u.Index)
		assert.Equal(t, "p", u.Descriptor.Data().Prompt)
	}

	// duplicate id
	assert.Error(t, repo.Create(ctx, newJobWithID(job.ID)))

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func newJobWithID(id string) *Job {
	j := newJob(1, time.Now().Add(time.Hour))
	j.ID = id
	return j
}

func TestRepo_ExpiredJobIsNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	job := newJob(1, time.Now().Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, job))

	_, err := repo.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = repo.UpdateUnit(ctx, job.ID, 0, UnitUpdate{Status: UnitGenerating})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRepo_UpdateUnitRecomputesAggregate(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	job := newJob(3, time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.UpdateUnit(ctx, job.ID, 1, UnitUpdate{Status: UnitGenerating})
	require.NoError(t, err)
	assert.Equal(t, JobGenerating, got.Status)
	assert.Equal(t, 1, got.Units[1].Attempts)

	got, err = repo.UpdateUnit(ctx, job.ID, 1, UnitUpdate{Status: UnitCompleted, OutputURL: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, got.CompletedCount)
	assert.Equal(t, 1, got.SucceededCount)
	require.NotNil(t, got.Units[1].OutputURL)
	assert.Equal(t, "u1", *got.Units[1].OutputURL)
	assert.NotNil(t, got.Units[1].FinishedAt)

	_, err = repo.UpdateUnit(ctx, job.ID, 0, UnitUpdate{Status: UnitFailed, Error: "bad"})
	require.NoError(t, err)
	got, err = repo.UpdateUnit(ctx, job.ID, 2, UnitUpdate{Status: UnitSkipped, Error: "n/a"})
	require.NoError(t, err)

	assert.Equal(t, JobCompleted, got.Status)
	assert.Equal(t, 3, got.CompletedCount)
	assert.Equal(t, 1, got.FailedCount)

	// the stored record matches what UpdateUnit returned
	stored, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Status, stored.Status)
	assert.Equal(t, got.CompletedCount, stored.CompletedCount)
	require.NotNil(t, stored.Units[0].Error)
	assert.Equal(t, "bad", *stored.Units[0].Error)
	assert.Nil(t, stored.Units[0].OutputURL)
}

func TestRepo_UpdateUnitIdempotentTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	job := newJob(2, time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, job))

	first, err := repo.UpdateUnit(ctx, job.ID, 0, UnitUpdate{Status: UnitCompleted, OutputURL: "u"})
	require.NoError(t, err)
	second, err := repo.UpdateUnit(ctx, job.ID, 0, UnitUpdate{Status: UnitCompleted, OutputURL: "u"})
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.CompletedCount, second.CompletedCount)
	assert.Equal(t, *first.Units[0].OutputURL, *second.Units[0].OutputURL)
	assert.Equal(t, first.Units[0].Attempts, second.Units[0].Attempts)
}

func TestRepo_AttemptsIncrementOnEachStart(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	job := newJob(1, time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, job))

	for i := 1; i <= 3; i++ {
		got, err := repo.UpdateUnit(ctx, job.ID, 0, UnitUpdate{Status: UnitGenerating})
		require.NoError(t, err)
		assert.Equal(t, i, got.Units[0].Attempts)
		assert.Nil(t, got.Units[0].Error)

		_, err = repo.UpdateUnit(ctx, job.ID, 0, UnitUpdate{Status: UnitFailed, Error: "x"})
		require.NoError(t, err)
	}
}

func TestRepo_UpdateUnitUnknownIndex(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	job := newJob(1, time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, job))

	_, err := repo.UpdateUnit(ctx, job.ID, 5, UnitUpdate{Status: UnitCompleted})
	assert.ErrorIs(t, err, ErrUnitNotFound)

	_, err = repo.UpdateUnit(ctx, "missing", 0, UnitUpdate{Status: UnitCompleted})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRepo_SetStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	job := newJob(1, time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.SetStatus(ctx, job.ID, JobFailed, "queue down"))
	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "queue down", *got.Error)

	assert.ErrorIs(t, repo.SetStatus(ctx, "missing", JobFailed, ""), ErrJobNotFound)
}

func TestRepo_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewRepo(db)

	live := newJob(2, time.Now().Add(time.Hour))
	dead := newJob(2, time.Now().Add(-time.Hour))
	require.NoError(t, repo.Create(ctx, live))
	require.NoError(t, repo.Create(ctx, dead))

	n, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var units int64
	require.NoError(t, db.Model(&Unit{}).Where("job_id = ?", dead.ID).Count(&units).Error)
	assert.Zero(t, units)

	_, err = repo.Get(ctx, live.ID)
	assert.NoError(t, err)
}

func TestRepo_FinishedUnitIsNeverOverwritten(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	job := newJob(2, time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, job))

	_, err := repo.UpdateUnit(ctx, job.ID, 0, UnitUpdate{Status: UnitCompleted, OutputURL: "u0"})
	require.NoError(t, err)
	_, err = repo.UpdateUnit(ctx, job.ID, 1, UnitUpdate{Status: UnitSkipped, Error: "already male"})
	require.NoError(t, err)

	for _, upd := range []UnitUpdate{
		{Status: UnitGenerating},
		{Status: UnitFailed, Error: "late failure"},
		{Status: UnitSkipped, Error: "late skip"},
		{Status: UnitCompleted, OutputURL: "other"},
	} {
		got, err := repo.UpdateUnit(ctx, job.ID, 0, upd)
		require.NoError(t, err)
		assert.Equal(t, UnitCompleted, got.Units[0].Status, "%s", upd.Status)
		require.NotNil(t, got.Units[0].OutputURL)
		assert.Equal(t, "u0", *got.Units[0].OutputURL)
		assert.Equal(t, 0, got.Units[0].Attempts)
		assert.Equal(t, JobCompleted, got.Status)

		got, err = repo.UpdateUnit(ctx, job.ID, 1, upd)
		require.NoError(t, err)
		assert.Equal(t, UnitSkipped, got.Units[1].Status, "%s", upd.Status)
	}

	stored, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.SucceededCount)
	assert.Equal(t, 2, stored.CompletedCount)
}

func TestRepo_AdministrativeFailureIsSticky(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))
	job := newJob(2, time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, job))
	require.NoError(t, repo.SetStatus(ctx, job.ID, JobFailed, "dispatch failed: broker down"))

	got, err := repo.UpdateUnit(ctx, job.ID, 0, UnitUpdate{Status: UnitCompleted, OutputURL: "u0"})
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, 1, got.SucceededCount)

	stored, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Contains(t, *stored.Error, "broker down")
	assert.Equal(t, 1, stored.CompletedCount)
}
