package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Chandreshkhunt31/recording-to-insights/config"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/logger"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/models"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/services"
	apperrors "github.com/Chandreshkhunt31/recording-to-insights/pkg/errors"

	"github.com/gin-gonic/gin"
)

type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func (s *memJobStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memJobStore) GetByID(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memJobStore) List(_ context.Context, limit, offset int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *memJobStore) Update(_ context.Context, id string, upd models.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Duration != nil {
		job.Duration = upd.Duration
	}
	if upd.ClearError {
		job.Error = nil
	} else if upd.Error != nil {
		job.Error = upd.Error
	}
	if upd.AudioPath != nil {
		job.AudioPath = upd.AudioPath
	}
	return nil
}

type memResultStore struct {
	mu      sync.Mutex
	results map[string]*models.JobResult
}

func (s *memResultStore) GetByJobID(_ context.Context, jobID string) (*models.JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[jobID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *result
	return &cp, nil
}

func (s *memResultStore) Upsert(_ context.Context, result *models.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	s.results[result.JobID] = &cp
	return nil
}

// testStack wires the full HTTP surface over in-memory stores with the
// external clients in stub mode.
type testStack struct {
	router       *gin.Engine
	orchestrator *services.Orchestrator
	dataDir      string
	outputDir    string
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Discard()
	cfg := config.OpenAIConfig{BaseURL: "http://unused.invalid"}
	transcriber := services.NewTranscriptionClient(cfg, log)
	insights := services.NewInsightClient(cfg, log)

	jobs := &memJobStore{jobs: make(map[string]*models.Job)}
	results := &memResultStore{results: make(map[string]*models.JobResult)}
	orchestrator := services.NewOrchestrator(jobs, results, transcriber, insights, log)
	dispatcher := services.NewDispatcher(orchestrator.Process, log)
	t.Cleanup(dispatcher.Stop)

	dataDir := t.TempDir()
	outputDir := t.TempDir()

	jobHandler := NewJobHandler(orchestrator, dispatcher, outputDir, log)
	analyzeHandler := NewAnalyzeHandler(transcriber, insights, dataDir, outputDir, log)

	router := gin.New()
	api := router.Group("/api")
	jobsGroup := api.Group("/jobs")
	{
		jobsGroup.POST("", jobHandler.Create)
		jobsGroup.GET("", jobHandler.List)
		jobsGroup.GET("/:id", jobHandler.GetByID)
		jobsGroup.GET("/:id/result", jobHandler.GetResult)
		jobsGroup.POST("/:id/reprocess", jobHandler.Reprocess)
	}
	router.POST("/analyze", analyzeHandler.Analyze)
	router.POST("/analyze-from-file", analyzeHandler.AnalyzeFromFile)

	return &testStack{
		router:       router,
		orchestrator: orchestrator,
		dataDir:      dataDir,
		outputDir:    outputDir,
	}
}

func (ts *testStack) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, fields map[string]string, fileField, fileName string, fileBody []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(fileBody); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return doc
}

func (ts *testStack) waitForStatus(t *testing.T, jobID string, want models.JobStatus) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil)
		w := ts.do(t, req)
		if w.Code != http.StatusOK {
			t.Fatalf("get job: status %d body %s", w.Code, w.Body.String())
		}
		doc := decodeBody(t, w)
		if doc["status"] == string(want) {
			return doc
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck at %v, want %s", jobID, doc["status"], want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateJobEndToEnd(t *testing.T) {
	ts := newTestStack(t)

	body, contentType := multipartUpload(t,
		map[string]string{"option_id": "default", "source_id": "client-7"},
		"audio_file", "session.wav", []byte("tiny-audio"))
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)

	w := ts.do(t, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", w.Code, w.Body.String())
	}

	doc := decodeBody(t, w)
	jobID, _ := doc["id"].(string)
	if !strings.HasPrefix(jobID, "job_") {
		t.Fatalf("id = %q", jobID)
	}
	if doc["status"] != "processing" {
		t.Fatalf("status = %v, want processing", doc["status"])
	}
	if doc["resultPath"] != "db" {
		t.Fatalf("resultPath = %v, want db", doc["resultPath"])
	}
	if doc["fileName"] != "session.wav" || doc["optionId"] != "default" || doc["sourceId"] != "client-7" {
		t.Fatalf("metadata = %v", doc)
	}

	ts.waitForStatus(t, jobID, models.JobStatusCompleted)

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID+"/result", nil)
	w = ts.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get result: status %d body %s", w.Code, w.Body.String())
	}
	result := decodeBody(t, w)
	transcript, _ := result["transcript"].(string)
	if !strings.HasPrefix(transcript, "STUB_TRANSCRIPT") {
		t.Fatalf("transcript = %q", transcript)
	}
	insights, _ := result["insights"].(map[string]interface{})
	if _, ok := insights["session_overview"]; !ok {
		t.Fatalf("insights = %v", result["insights"])
	}
	audioPath, _ := result["audioPath"].(string)
	if !strings.HasPrefix(audioPath, filepath.Join(ts.outputDir, "uploads")) {
		t.Fatalf("audioPath = %q", audioPath)
	}
	if _, err := os.Stat(audioPath); err != nil {
		t.Fatalf("uploaded audio missing on disk: %v", err)
	}
}

func TestCreateJobValidation(t *testing.T) {
	ts := newTestStack(t)

	// No file.
	body, contentType := multipartUpload(t, map[string]string{"option_id": "default"}, "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)
	w := ts.do(t, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing file: status %d", w.Code)
	}
	if doc := decodeBody(t, w); doc["detail"] != "No audio file provided" {
		t.Fatalf("detail = %v", doc["detail"])
	}

	// No option_id.
	body, contentType = multipartUpload(t, nil, "audio_file", "a.wav", []byte("x"))
	req = httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)
	w = ts.do(t, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing option_id: status %d", w.Code)
	}
	if doc := decodeBody(t, w); doc["detail"] != "option_id is required" {
		t.Fatalf("detail = %v", doc["detail"])
	}
}

func TestGetJobNotFound(t *testing.T) {
	ts := newTestStack(t)

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/job_missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if doc := decodeBody(t, w); doc["detail"] != "Job not found" {
		t.Fatalf("detail = %v", doc["detail"])
	}
}

func TestResultNotReady(t *testing.T) {
	ts := newTestStack(t)

	job, err := ts.orchestrator.CreateJob(context.Background(), nil, "default", nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/result", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 while no result exists", w.Code)
	}
	if doc := decodeBody(t, w); doc["detail"] != "Result not ready" {
		t.Fatalf("detail = %v", doc["detail"])
	}
}

func TestListJobs(t *testing.T) {
	ts := newTestStack(t)

	for i := 0; i < 3; i++ {
		if _, err := ts.orchestrator.CreateJob(context.Background(), nil, "default", nil); err != nil {
			t.Fatalf("create job: %v", err)
		}
	}

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs?limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	doc := decodeBody(t, w)
	items, _ := doc["items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if doc["limit"] != float64(2) || doc["offset"] != float64(0) {
		t.Fatalf("paging echo = %v/%v", doc["limit"], doc["offset"])
	}

	// Bad paging values fall back to defaults instead of erroring.
	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs?limit=nope&offset=-3", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	doc = decodeBody(t, w)
	if doc["limit"] != float64(50) || doc["offset"] != float64(0) {
		t.Fatalf("fallback paging = %v/%v", doc["limit"], doc["offset"])
	}
}

func TestReprocessCompletedJob(t *testing.T) {
	ts := newTestStack(t)

	body, contentType := multipartUpload(t, map[string]string{"option_id": "default"},
		"audio_file", "session.wav", []byte("tiny-audio"))
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)
	w := ts.do(t, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d", w.Code)
	}
	jobID, _ := decodeBody(t, w)["id"].(string)
	ts.waitForStatus(t, jobID, models.JobStatusCompleted)

	w = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/jobs/"+jobID+"/reprocess", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("reprocess: status %d body %s", w.Code, w.Body.String())
	}
	ts.waitForStatus(t, jobID, models.JobStatusCompleted)
}

func TestReprocessWithoutStoredAudio(t *testing.T) {
	ts := newTestStack(t)

	job, err := ts.orchestrator.CreateJob(context.Background(), nil, "default", nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	w := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/reprocess", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if doc := decodeBody(t, w); doc["detail"] != "Job has no stored audio to reprocess" {
		t.Fatalf("detail = %v", doc["detail"])
	}
}

func TestAnalyzeUpload(t *testing.T) {
	ts := newTestStack(t)

	body, contentType := multipartUpload(t, map[string]string{"source_id": "adhoc"},
		"audio_file", "clip.wav", []byte("tiny-audio"))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)

	w := ts.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	doc := decodeBody(t, w)
	resultID, _ := doc["result_id"].(string)
	if len(resultID) != 32 {
		t.Fatalf("result_id = %q", resultID)
	}
	transcript, _ := doc["transcript"].(string)
	if !strings.HasPrefix(transcript, "STUB_TRANSCRIPT") {
		t.Fatalf("transcript = %q", transcript)
	}
	savedTo, _ := doc["saved_to"].(string)
	if _, err := os.Stat(savedTo); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
}

func analyzeFromFileReq(fileName string) *http.Request {
	form := url.Values{"file_name": {fileName}}
	req := httptest.NewRequest(http.MethodPost, "/analyze-from-file",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestAnalyzeFromFile(t *testing.T) {
	ts := newTestStack(t)

	if err := os.WriteFile(filepath.Join(ts.dataDir, "seed.wav"), []byte("tiny-audio"), 0644); err != nil {
		t.Fatalf("seed data dir: %v", err)
	}

	w := ts.do(t, analyzeFromFileReq("seed.wav"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	doc := decodeBody(t, w)
	insights, _ := doc["insights"].(map[string]interface{})
	if _, ok := insights["session_overview"]; !ok {
		t.Fatalf("insights = %v", doc["insights"])
	}
}

func TestAnalyzeFromFileRejectsTraversal(t *testing.T) {
	ts := newTestStack(t)

	for _, name := range []string{"../etc/passwd", "/etc/passwd", "a/b.wav", ".", ".."} {
		w := ts.do(t, analyzeFromFileReq(name))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("file_name %q: status = %d, want 400", name, w.Code)
		}
	}
}

func TestAnalyzeFromFileMissing(t *testing.T) {
	ts := newTestStack(t)

	w := ts.do(t, analyzeFromFileReq("absent.wav"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	detail, _ := decodeBody(t, w)["detail"].(string)
	if !strings.Contains(detail, "absent.wav") {
		t.Fatalf("detail = %q", detail)
	}
}
