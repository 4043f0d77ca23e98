package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/Chandreshkhunt31/recording-to-insights/internal/database"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/models"
	"github.com/Chandreshkhunt31/recording-to-insights/pkg/errors"

	"github.com/jackc/pgx/v5"
)

type JobRepository struct {
	db *database.DB
}

func NewJobRepository(db *database.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, created_at, file_name, option_id, status, duration, source_id, error, audio_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		job.ID, job.CreatedAt, job.FileName, job.OptionID, job.Status,
		job.Duration, job.SourceID, job.Error, job.AudioPath,
	)
	if err != nil {
		return errors.WrapError(err, "INTERNAL_ERROR", "Failed to create job", errors.ErrInternalServer.Status)
	}

	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	job := &models.Job{}

	query := `
		SELECT id, created_at, file_name, option_id, status, duration, source_id, error, audio_path
		FROM jobs
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.CreatedAt, &job.FileName, &job.OptionID, &job.Status,
		&job.Duration, &job.SourceID, &job.Error, &job.AudioPath,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrNotFound
		}
		return nil, errors.WrapError(err, "INTERNAL_ERROR", "Failed to get job", errors.ErrInternalServer.Status)
	}

	return job, nil
}

// List returns jobs ordered by created_at descending. The caller supplies
// the page; no upper bound is enforced on limit.
func (r *JobRepository) List(ctx context.Context, limit, offset int) ([]*models.Job, error) {
	query := `
		SELECT id, created_at, file_name, option_id, status, duration, source_id, error, audio_path
		FROM jobs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, errors.WrapError(err, "INTERNAL_ERROR", "Failed to list jobs", errors.ErrInternalServer.Status)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job := &models.Job{}
		if err := rows.Scan(
			&job.ID, &job.CreatedAt, &job.FileName, &job.OptionID, &job.Status,
			&job.Duration, &job.SourceID, &job.Error, &job.AudioPath,
		); err != nil {
			return nil, errors.WrapError(err, "INTERNAL_ERROR", "Failed to scan job", errors.ErrInternalServer.Status)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, "INTERNAL_ERROR", "Failed to list jobs", errors.ErrInternalServer.Status)
	}

	return jobs, nil
}

// Update applies a typed partial update. Only fields set on upd mutate;
// everything else keeps its prior value. The write commits before return.
func (r *JobRepository) Update(ctx context.Context, id string, upd models.JobUpdate) error {
	var set []string
	var args []interface{}

	if upd.Status != nil {
		args = append(args, *upd.Status)
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}
	if upd.Duration != nil {
		args = append(args, *upd.Duration)
		set = append(set, fmt.Sprintf("duration = $%d", len(args)))
	}
	if upd.ClearError {
		set = append(set, "error = NULL")
	} else if upd.Error != nil {
		args = append(args, *upd.Error)
		set = append(set, fmt.Sprintf("error = $%d", len(args)))
	}
	if upd.AudioPath != nil {
		args = append(args, *upd.AudioPath)
		set = append(set, fmt.Sprintf("audio_path = $%d", len(args)))
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	query := "UPDATE jobs SET " + strings.Join(set, ", ") + fmt.Sprintf(" WHERE id = $%d", len(args))

	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return errors.WrapError(err, "INTERNAL_ERROR", "Failed to update job", errors.ErrInternalServer.Status)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrNotFound
	}

	return nil
}
