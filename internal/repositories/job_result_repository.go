package repositories

import (
	"context"
	"encoding/json"

	"github.com/Chandreshkhunt31/recording-to-insights/internal/database"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/models"
	"github.com/Chandreshkhunt31/recording-to-insights/pkg/errors"

	"github.com/jackc/pgx/v5"
)

type JobResultRepository struct {
	db *database.DB
}

func NewJobResultRepository(db *database.DB) *JobResultRepository {
	return &JobResultRepository{db: db}
}

func (r *JobResultRepository) GetByJobID(ctx context.Context, jobID string) (*models.JobResult, error) {
	result := &models.JobResult{}
	var segmentsJSON, insightsJSON []byte

	query := `
		SELECT job_id, created_at, transcript, transcript_segments, deliverable, insights_json,
			llm_provider, llm_model, transcription_provider, transcription_model
		FROM job_results
		WHERE job_id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, jobID).Scan(
		&result.JobID, &result.CreatedAt, &result.Transcript, &segmentsJSON,
		&result.Deliverable, &insightsJSON,
		&result.LLMProvider, &result.LLMModel,
		&result.TranscriptionProvider, &result.TranscriptionModel,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrNotFound
		}
		return nil, errors.WrapError(err, "INTERNAL_ERROR", "Failed to get job result", errors.ErrInternalServer.Status)
	}

	if len(segmentsJSON) > 0 {
		if err := json.Unmarshal(segmentsJSON, &result.Segments); err != nil {
			return nil, errors.WrapError(err, "INTERNAL_ERROR", "Failed to decode transcript segments", errors.ErrInternalServer.Status)
		}
	}
	if len(insightsJSON) > 0 {
		if err := json.Unmarshal(insightsJSON, &result.Insights); err != nil {
			return nil, errors.WrapError(err, "INTERNAL_ERROR", "Failed to decode insights", errors.ErrInternalServer.Status)
		}
	}

	return result, nil
}

// Upsert inserts the result or, on reprocessing, overwrites every field of
// the existing row including created_at.
func (r *JobResultRepository) Upsert(ctx context.Context, result *models.JobResult) error {
	var segmentsJSON, insightsJSON []byte
	var err error

	if result.Segments != nil {
		if segmentsJSON, err = json.Marshal(result.Segments); err != nil {
			return errors.WrapError(err, "INTERNAL_ERROR", "Failed to encode transcript segments", errors.ErrInternalServer.Status)
		}
	}
	if result.Insights != nil {
		if insightsJSON, err = json.Marshal(result.Insights); err != nil {
			return errors.WrapError(err, "INTERNAL_ERROR", "Failed to encode insights", errors.ErrInternalServer.Status)
		}
	}

	query := `
		INSERT INTO job_results (job_id, created_at, transcript, transcript_segments, deliverable, insights_json,
			llm_provider, llm_model, transcription_provider, transcription_model)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			transcript = EXCLUDED.transcript,
			transcript_segments = EXCLUDED.transcript_segments,
			deliverable = EXCLUDED.deliverable,
			insights_json = EXCLUDED.insights_json,
			llm_provider = EXCLUDED.llm_provider,
			llm_model = EXCLUDED.llm_model,
			transcription_provider = EXCLUDED.transcription_provider,
			transcription_model = EXCLUDED.transcription_model
	`

	_, err = r.db.Pool.Exec(ctx, query,
		result.JobID, result.CreatedAt, result.Transcript, segmentsJSON,
		result.Deliverable, insightsJSON,
		result.LLMProvider, result.LLMModel,
		result.TranscriptionProvider, result.TranscriptionModel,
	)
	if err != nil {
		return errors.WrapError(err, "INTERNAL_ERROR", "Failed to upsert job result", errors.ErrInternalServer.Status)
	}

	return nil
}
