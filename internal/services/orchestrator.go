package services

import (
	"context"
	"strings"
	"time"

	"github.com/Chandreshkhunt31/recording-to-insights/internal/logger"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/models"

	"github.com/google/uuid"
)

// JobStore is the slice of the job record store the orchestrator needs.
// Implemented by repositories.JobRepository.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, limit, offset int) ([]*models.Job, error)
	Update(ctx context.Context, id string, upd models.JobUpdate) error
}

// JobResultStore is implemented by repositories.JobResultRepository.
type JobResultStore interface {
	GetByJobID(ctx context.Context, jobID string) (*models.JobResult, error)
	Upsert(ctx context.Context, result *models.JobResult) error
}

// Transcriber converts an audio file into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (*TranscriptionResult, error)
}

// InsightGenerator converts a transcript into the structured deliverable.
type InsightGenerator interface {
	Generate(ctx context.Context, transcript string) (*InsightResult, error)
}

// Orchestrator owns the job lifecycle: it creates job records, drives the
// transcribe-then-generate pipeline for each one, and reads jobs and
// results back out for the API surface.
type Orchestrator struct {
	jobs        JobStore
	results     JobResultStore
	transcriber Transcriber
	insights    InsightGenerator
	log         *logger.Logger
}

func NewOrchestrator(jobs JobStore, results JobResultStore, transcriber Transcriber, insights InsightGenerator, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:        jobs,
		results:     results,
		transcriber: transcriber,
		insights:    insights,
		log:         log,
	}
}

// CreateJob inserts a new job in processing state and returns it. The row
// is committed and visible before this returns, so a poll immediately after
// the creating request never observes a missing job.
func (o *Orchestrator) CreateJob(ctx context.Context, fileName *string, optionID string, sourceID *string) (*models.Job, error) {
	job := &models.Job{
		ID:        newJobID(),
		CreatedAt: time.Now().UTC(),
		FileName:  fileName,
		OptionID:  optionID,
		SourceID:  sourceID,
		Status:    models.JobStatusProcessing,
	}

	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

// Process runs the pipeline for one job: record the audio path, transcribe,
// generate insights, upsert the result, and mark the job completed. Any
// stage failure marks the job failed with the failure message; nothing is
// re-raised since no caller waits on the background run. The terminal
// status write uses a context detached from ctx so cancellation of the
// pipeline cannot leave the job stuck in processing.
func (o *Orchestrator) Process(ctx context.Context, jobID, audioPath string) {
	log := o.log.WithField("job_id", jobID)

	status := models.JobStatusProcessing
	err := o.jobs.Update(ctx, jobID, models.JobUpdate{
		Status:     &status,
		AudioPath:  &audioPath,
		ClearError: true,
	})
	if err != nil {
		log.WithError(err).Error("failed to start pipeline")
		o.fail(ctx, jobID, err)
		return
	}

	tr, err := o.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		log.WithError(err).Warn("transcription stage failed")
		o.fail(ctx, jobID, err)
		return
	}

	ins, err := o.insights.Generate(ctx, tr.Transcript)
	if err != nil {
		log.WithError(err).Warn("insight stage failed")
		o.fail(ctx, jobID, err)
		return
	}

	result := &models.JobResult{
		JobID:                 jobID,
		CreatedAt:             time.Now().UTC(),
		Transcript:            tr.Transcript,
		Segments:              tr.Segments,
		Deliverable:           ins.RawText,
		Insights:              ins.Parsed,
		LLMProvider:           ins.Provider,
		LLMModel:              ins.Model,
		TranscriptionProvider: tr.Provider,
		TranscriptionModel:    tr.Model,
	}
	if err := o.results.Upsert(ctx, result); err != nil {
		log.WithError(err).Error("failed to persist result")
		o.fail(ctx, jobID, err)
		return
	}

	completed := models.JobStatusCompleted
	err = o.jobs.Update(context.WithoutCancel(ctx), jobID, models.JobUpdate{
		Status:     &completed,
		ClearError: true,
	})
	if err != nil {
		log.WithError(err).Error("failed to mark job completed")
		return
	}

	log.Info("job completed")
}

// fail writes the terminal failed status and the stringified cause. This is
// the pipeline's only error-reporting channel.
func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) {
	failed := models.JobStatusFailed
	msg := strings.TrimSpace(cause.Error())

	err := o.jobs.Update(context.WithoutCancel(ctx), jobID, models.JobUpdate{
		Status: &failed,
		Error:  &msg,
	})
	if err != nil {
		o.log.WithField("job_id", jobID).WithError(err).Error("failed to mark job failed")
	}
}

func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return o.jobs.GetByID(ctx, jobID)
}

func (o *Orchestrator) ListJobs(ctx context.Context, limit, offset int) ([]*models.Job, error) {
	return o.jobs.List(ctx, limit, offset)
}

// GetJobResult returns the result row together with the owning job, which
// carries the audio path the projection reports.
func (o *Orchestrator) GetJobResult(ctx context.Context, jobID string) (*models.JobResult, *models.Job, error) {
	result, err := o.results.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	return result, job, nil
}

func newJobID() string {
	return "job_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
