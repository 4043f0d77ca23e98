package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Chandreshkhunt31/recording-to-insights/internal/logger"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/services"
	apperrors "github.com/Chandreshkhunt31/recording-to-insights/pkg/errors"
	"github.com/Chandreshkhunt31/recording-to-insights/pkg/storage"

	"github.com/gin-gonic/gin"
)

// AnalyzeHandler serves the synchronous one-shot paths. They run the same
// two external stages as the job pipeline but bypass the job store
// entirely, writing a standalone JSON artifact instead.
type AnalyzeHandler struct {
	transcriber services.Transcriber
	insights    services.InsightGenerator
	dataDir     string
	outputDir   string
	log         *logger.Logger
}

func NewAnalyzeHandler(transcriber services.Transcriber, insights services.InsightGenerator, dataDir, outputDir string, log *logger.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		transcriber: transcriber,
		insights:    insights,
		dataDir:     dataDir,
		outputDir:   outputDir,
		log:         log,
	}
}

// Analyze transcribes an uploaded file and generates insights without
// creating a job.
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	fileHeader, err := c.FormFile("audio_file")
	if err != nil {
		respondDetail(c, http.StatusBadRequest, "No audio file provided")
		return
	}

	var sourceID *string
	if s := c.PostForm("source_id"); s != "" {
		sourceID = &s
	}

	// Downstream stages read from disk, so stage the upload in a temp dir.
	ext := filepath.Ext(fileHeader.Filename)
	if ext == "" {
		ext = ".bin"
	}
	tmpDir, err := os.MkdirTemp("", "audio_upload_")
	if err != nil {
		respondDetail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to analyze audio: %v", err))
		return
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, "upload"+ext)
	if err := c.SaveUploadedFile(fileHeader, tmpPath); err != nil {
		respondDetail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to analyze audio: %v", err))
		return
	}

	h.runAndRespond(c, tmpPath, map[string]interface{}{
		"source_id":      sourceID,
		"audio_filename": fileHeader.Filename,
	})
}

// AnalyzeFromFile analyzes an audio file that already exists under the
// configured data directory. Only a plain file name is accepted; anything
// resolving outside the data root is rejected.
func (h *AnalyzeHandler) AnalyzeFromFile(c *gin.Context) {
	fileName := c.PostForm("file_name")
	if fileName == "" || filepath.Base(fileName) != fileName || fileName == "." || fileName == ".." {
		respondDetail(c, http.StatusBadRequest, "Invalid file_name (must be a plain file name).")
		return
	}

	dataRoot, err := filepath.Abs(h.dataDir)
	if err != nil {
		respondDetail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to analyze audio: %v", err))
		return
	}
	audioPath := filepath.Join(dataRoot, fileName)
	if !strings.HasPrefix(audioPath, dataRoot+string(filepath.Separator)) {
		respondDetail(c, http.StatusBadRequest, "Invalid file_name path.")
		return
	}

	info, err := os.Stat(audioPath)
	if err != nil || info.IsDir() {
		respondDetail(c, http.StatusNotFound, fmt.Sprintf("File not found under DATA_DIR: %s", fileName))
		return
	}

	var sourceID *string
	if s := c.PostForm("source_id"); s != "" {
		sourceID = &s
	}

	h.runAndRespond(c, audioPath, map[string]interface{}{
		"source_id":      sourceID,
		"audio_filename": fileName,
		"audio_path":     audioPath,
	})
}

func (h *AnalyzeHandler) runAndRespond(c *gin.Context, audioPath string, payload map[string]interface{}) {
	ctx := c.Request.Context()

	tr, err := h.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		h.respondPipelineError(c, err)
		return
	}

	ins, err := h.insights.Generate(ctx, tr.Transcript)
	if err != nil {
		h.respondPipelineError(c, err)
		return
	}

	payload["transcription"] = map[string]interface{}{"provider": tr.Provider, "model": tr.Model}
	payload["llm"] = map[string]interface{}{"provider": ins.Provider, "model": ins.Model}
	payload["transcript"] = tr.Transcript
	payload["insights_raw"] = ins.RawText
	payload["insights_json"] = ins.Parsed

	stored, err := storage.StoreJSON(h.outputDir, payload)
	if err != nil {
		respondDetail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to store result: %v", err))
		return
	}

	var insights interface{} = ins.RawText
	if ins.Parsed != nil {
		insights = ins.Parsed
	}

	h.log.WithRequest(c.Request).WithField("result_id", stored.ResultID).Info("one-shot analysis stored")
	c.JSON(http.StatusOK, gin.H{
		"result_id":  stored.ResultID,
		"saved_to":   stored.Path,
		"transcript": tr.Transcript,
		"insights":   insights,
	})
}

func (h *AnalyzeHandler) respondPipelineError(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrPayloadTooLarge) {
		respondError(c, err)
		return
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		respondError(c, err)
		return
	}
	respondDetail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to analyze audio: %v", err))
}
