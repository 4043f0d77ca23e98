package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Chandreshkhunt31/recording-to-insights/internal/logger"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/models"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/services"
	apperrors "github.com/Chandreshkhunt31/recording-to-insights/pkg/errors"
	"github.com/Chandreshkhunt31/recording-to-insights/pkg/storage"

	"github.com/gin-gonic/gin"
)

type JobHandler struct {
	orchestrator *services.Orchestrator
	dispatcher   *services.Dispatcher
	outputDir    string
	log          *logger.Logger
}

func NewJobHandler(orchestrator *services.Orchestrator, dispatcher *services.Dispatcher, outputDir string, log *logger.Logger) *JobHandler {
	return &JobHandler{
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		outputDir:    outputDir,
		log:          log,
	}
}

// Create accepts a multipart upload, persists the job row and the audio
// file, then hands the pipeline to the dispatcher. The job row is committed
// before the background run is launched.
func (h *JobHandler) Create(c *gin.Context) {
	fileHeader, err := c.FormFile("audio_file")
	if err != nil {
		respondDetail(c, http.StatusBadRequest, "No audio file provided")
		return
	}

	optionID := c.PostForm("option_id")
	if optionID == "" {
		respondDetail(c, http.StatusBadRequest, "option_id is required")
		return
	}

	var fileName *string
	if fileHeader.Filename != "" {
		fileName = &fileHeader.Filename
	}
	var sourceID *string
	if s := c.PostForm("source_id"); s != "" {
		sourceID = &s
	}

	job, err := h.orchestrator.CreateJob(c.Request.Context(), fileName, optionID, sourceID)
	if err != nil {
		respondError(c, err)
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		respondDetail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to save upload: %v", err))
		return
	}
	defer src.Close()

	audioPath, err := storage.SaveUpload(h.outputDir, job.ID, src, fileHeader.Filename)
	if err != nil {
		respondDetail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to save upload: %v", err))
		return
	}

	if err := h.dispatcher.Submit(job.ID, audioPath); err != nil {
		// Cannot happen for a freshly created id; report rather than hide.
		respondError(c, err)
		return
	}

	h.log.WithRequest(c.Request).WithField("job_id", job.ID).Info("job created")
	c.JSON(http.StatusCreated, job.Projection())
}

func (h *JobHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	jobs, err := h.orchestrator.ListJobs(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]models.JobProjection, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, job.Projection())
	}

	c.JSON(http.StatusOK, gin.H{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *JobHandler) GetByID(c *gin.Context) {
	job, err := h.orchestrator.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			respondDetail(c, http.StatusNotFound, "Job not found")
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job.Projection())
}

func (h *JobHandler) GetResult(c *gin.Context) {
	result, job, err := h.orchestrator.GetJobResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			respondDetail(c, http.StatusNotFound, "Result not ready")
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result.Projection(job.AudioPath))
}

// Reprocess runs the pipeline again over the job's stored audio. The prior
// result row, if any, is overwritten by a successful run and left in place
// by a failed one.
func (h *JobHandler) Reprocess(c *gin.Context) {
	job, err := h.orchestrator.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			respondDetail(c, http.StatusNotFound, "Job not found")
			return
		}
		respondError(c, err)
		return
	}

	if job.AudioPath == nil {
		respondDetail(c, http.StatusConflict, "Job has no stored audio to reprocess")
		return
	}

	if err := h.dispatcher.Submit(job.ID, *job.AudioPath); err != nil {
		if errors.Is(err, services.ErrJobInFlight) {
			respondDetail(c, http.StatusConflict, "Job is already being processed")
			return
		}
		respondError(c, err)
		return
	}

	h.log.WithRequest(c.Request).WithField("job_id", job.ID).Info("job reprocess requested")
	c.JSON(http.StatusAccepted, job.Projection())
}
