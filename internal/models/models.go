package models

import "time"

type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job tracks one upload-to-insight processing request. Status never
// regresses from a terminal state except through an explicit reprocess.
type Job struct {
	ID        string
	CreatedAt time.Time
	FileName  *string
	OptionID  string
	SourceID  *string
	Status    JobStatus
	Duration  *string
	Error     *string
	AudioPath *string
}

// Segment is one time-aligned chunk of a transcript. Start/End may be nil
// when the transcription backend did not supply timing.
type Segment struct {
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
	Text  string   `json:"text"`
}

// JobResult is the durable output of a successful pipeline run, one-to-one
// with its Job and replaced wholesale on reprocessing.
type JobResult struct {
	JobID                 string
	CreatedAt             time.Time
	Transcript            string
	Segments              []Segment
	Deliverable           string
	Insights              map[string]interface{}
	LLMProvider           string
	LLMModel              string
	TranscriptionProvider string
	TranscriptionModel    string
}

// JobUpdate is a typed partial update for a Job row. Nil fields are left
// untouched; ClearError writes NULL into error regardless of Error.
type JobUpdate struct {
	Status     *JobStatus
	Duration   *string
	Error      *string
	ClearError bool
	AudioPath  *string
}

// JobProjection is the external-facing shape of a Job. Field names follow
// the frontend contract (camelCase). ResultPath is kept for frontend
// compatibility; result data lives in the database.
type JobProjection struct {
	ID         string    `json:"id"`
	CreatedAt  string    `json:"createdAt"`
	FileName   *string   `json:"fileName"`
	OptionID   string    `json:"optionId"`
	Status     JobStatus `json:"status"`
	Duration   *string   `json:"duration"`
	SourceID   *string   `json:"sourceId"`
	Error      *string   `json:"error"`
	ResultPath string    `json:"resultPath"`
}

func (j *Job) Projection() JobProjection {
	return JobProjection{
		ID:         j.ID,
		CreatedAt:  j.CreatedAt.UTC().Format(time.RFC3339),
		FileName:   j.FileName,
		OptionID:   j.OptionID,
		Status:     j.Status,
		Duration:   j.Duration,
		SourceID:   j.SourceID,
		Error:      j.Error,
		ResultPath: "db",
	}
}

// ProviderInfo records which backend produced a stage's output.
type ProviderInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// JobResultProjection is the external-facing shape of a JobResult.
type JobResultProjection struct {
	JobID         string                 `json:"jobId"`
	CreatedAt     string                 `json:"createdAt"`
	AudioPath     *string                `json:"audioPath"`
	Transcript    string                 `json:"transcript"`
	Segments      []Segment              `json:"segments,omitempty"`
	Deliverable   string                 `json:"deliverable"`
	Insights      map[string]interface{} `json:"insights,omitempty"`
	LLM           ProviderInfo           `json:"llm"`
	Transcription ProviderInfo           `json:"transcription"`
}

// ResultProjection combines a result row with its job's audio path.
func (r *JobResult) Projection(audioPath *string) JobResultProjection {
	return JobResultProjection{
		JobID:       r.JobID,
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
		AudioPath:   audioPath,
		Transcript:  r.Transcript,
		Segments:    r.Segments,
		Deliverable: r.Deliverable,
		Insights:    r.Insights,
		LLM: ProviderInfo{
			Provider: r.LLMProvider,
			Model:    r.LLMModel,
		},
		Transcription: ProviderInfo{
			Provider: r.TranscriptionProvider,
			Model:    r.TranscriptionModel,
		},
	}
}
