package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"videoindex/jobs"
	"videoindex/processors"
	"videoindex/storage"
)

type extractFramesRequest struct {
	VideoID       string `json:"videoId"`
	ProjectName   string `json:"projectName"`
	FrameSampling int    `json:"frameSampling"`
}

func (s *Server) handleExtractFrames(w http.ResponseWriter, r *http.Request) {
	var req extractFramesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VideoID == "" || req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "videoId and projectName are required")
		return
	}
	if req.FrameSampling <= 0 {
		req.FrameSampling = s.Cfg.FrameInterval
	}

	analysisID, err := s.Meta.CreateFrameAnalysis(r.Context(), req.VideoID, req.FrameSampling)
	if err != nil {
		s.Log.WithError(err).Error("could not create frame analysis record")
		writeError(w, http.StatusInternalServerError, "Failed to create frame analysis record")
		return
	}

	pipeline := &processors.FrameAnalysisPipeline{
		Cfg:    s.Cfg,
		Models: s.Models,
		Meta:   s.Meta,
		Index:  s.Index,
		Log:    s.Log,
	}
	job := processors.AnalysisJob{
		AnalysisID: analysisID,
		VideoID:    req.VideoID,
		Project:    req.ProjectName,
		Interval:   req.FrameSampling,
	}
	if err := s.submit(analysisID, storage.JobFrameAnalysis, func(ctx context.Context) error {
		return pipeline.Run(ctx, job)
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Frame extraction started",
		"analysisId": analysisID,
	})
}

func (s *Server) handleFrameAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	s.proxyJobStatus(w, r, storage.JobFrameAnalysis, chi.URLParam(r, "analysisID"))
}

type transcribeRequest struct {
	VideoID     string `json:"videoId"`
	ProjectName string `json:"projectName"`
	Model       string `json:"model"`
	Refine      *bool  `json:"refineWithLlm"`
}

func (s *Server) handleTranscribeVideo(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VideoID == "" || req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "videoId and projectName are required")
		return
	}
	model := req.Model
	if model == "" {
		model = s.Cfg.WhisperModel
	}
	refine := true
	if req.Refine != nil {
		refine = *req.Refine
	}

	transcriptionID, err := s.Meta.CreateTranscription(r.Context(), req.VideoID, model)
	if err != nil {
		s.Log.WithError(err).Error("could not create transcription record")
		writeError(w, http.StatusInternalServerError, "Failed to create transcription record")
		return
	}

	pipeline := &processors.TranscriptionPipeline{
		Cfg:    s.Cfg,
		Models: s.Models,
		Meta:   s.Meta,
		Log:    s.Log,
	}
	job := processors.TranscriptionJob{
		TranscriptionID: transcriptionID,
		VideoID:         req.VideoID,
		Project:         req.ProjectName,
		Refine:          refine,
	}
	if err := s.submit(transcriptionID, storage.JobTranscription, func(ctx context.Context) error {
		return pipeline.Run(ctx, job)
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "Video transcription started",
		"transcriptionId": transcriptionID,
	})
}

func (s *Server) handleTranscriptionStatus(w http.ResponseWriter, r *http.Request) {
	s.proxyJobStatus(w, r, storage.JobTranscription, chi.URLParam(r, "transcriptionID"))
}

type summarizeRequest struct {
	VideoID         string  `json:"video_id"`
	ProjectName     string  `json:"projectName"`
	Model           string  `json:"model"`
	SegmentDuration float64 `json:"segment_duration"`
}

func (s *Server) handleSummarizeVideo(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VideoID == "" {
		writeError(w, http.StatusBadRequest, "Video ID is required")
		return
	}
	if req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "projectName is required")
		return
	}
	model := req.Model
	if model == "" {
		model = "gpt-4o-mini-2024-07-18"
	}
	if !processors.IsAllowedSummaryModel(model) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Model must be one of: %s", strings.Join(processors.AllowedSummaryModels, ", ")))
		return
	}
	if !s.Cfg.HasValidAPI() {
		writeError(w, http.StatusInternalServerError, "Chat API not configured. Set api_key to enable summarization")
		return
	}

	summarizationID, err := s.Meta.CreateSummarization(r.Context(), req.VideoID, model)
	if err != nil {
		s.Log.WithError(err).Error("could not create summarization record")
		writeError(w, http.StatusInternalServerError, "Failed to create summarization record")
		return
	}

	pipeline := &processors.SummarizationPipeline{
		Cfg:    s.Cfg,
		Models: s.Models,
		Meta:   s.Meta,
		Log:    s.Log,
	}
	job := processors.SummarizationJob{
		SummarizationID: summarizationID,
		VideoID:         req.VideoID,
		Project:         req.ProjectName,
		Model:           model,
		WindowSeconds:   req.SegmentDuration,
	}
	if err := s.submit(summarizationID, storage.JobSummarization, func(ctx context.Context) error {
		return pipeline.Run(ctx, job)
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Video summarization started",
		"video_id":        req.VideoID,
		"model":           model,
		"status":          "processing",
		"summarizationId": summarizationID,
	})
}

func (s *Server) handleSummarizationStatus(w http.ResponseWriter, r *http.Request) {
	s.proxyJobStatus(w, r, storage.JobSummarization, chi.URLParam(r, "summarizationID"))
}

func (s *Server) handleVideoSegments(w http.ResponseWriter, r *http.Request) {
	body, err := s.Meta.VideoSegments(r.Context(), chi.URLParam(r, "videoID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get video segments")
		return
	}
	writeRaw(w, http.StatusOK, body)
}

func (s *Server) handleVideoTopics(w http.ResponseWriter, r *http.Request) {
	body, err := s.Meta.VideoTopics(r.Context(), chi.URLParam(r, "videoID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get video topics")
		return
	}
	writeRaw(w, http.StatusOK, body)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.Pool.Cancel(jobID) {
		writeError(w, http.StatusNotFound, "job is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "jobId": jobID})
}

// submit enqueues a background run; a full queue is reported to the
// caller and the job record is failed immediately so it never sticks in
// processing.
func (s *Server) submit(id, kind string, run func(ctx context.Context) error) error {
	err := s.Pool.Submit(jobs.Task{ID: id, Kind: kind, Run: run})
	if err == nil {
		return nil
	}
	if failErr := s.Meta.FailJob(context.Background(), kind, id, "could not queue job: "+err.Error()); failErr != nil {
		s.Log.WithError(failErr).WithField("jobId", id).Error("could not fail unqueued job")
	}
	if errors.Is(err, jobs.ErrQueueFull) {
		return errors.New("job queue full, retry later")
	}
	return err
}

func (s *Server) proxyJobStatus(w http.ResponseWriter, r *http.Request, kind, id string) {
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	body, err := s.Meta.JobStatus(r.Context(), kind, id)
	if err != nil {
		var apiErr *storage.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get job status")
		return
	}
	writeRaw(w, http.StatusOK, body)
}
