package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"videoindex/config"
	"videoindex/inference"
	"videoindex/jobs"
	"videoindex/storage"
)

// Server wires the HTTP surface to the job pool, the model registry and
// the stores.
type Server struct {
	Cfg    *config.Config
	Log    *logrus.Logger
	Meta   *storage.Client
	Models *inference.Registry
	Index  storage.VectorIndex
	Pool   *jobs.Pool
}

// Router builds the full route tree. Job submission and status reads
// require the security key; media serving and health do not.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.Log))

	r.Get("/health", s.handleHealth)
	r.Get("/frames/{videoID}/{filename}", s.handleServeFrame)
	r.Get("/faces/{videoID}/{filename}", s.handleServeFace)
	r.Get("/api/video/{videoID}", s.handleServeVideo)

	r.Group(func(r chi.Router) {
		r.Use(RequireKey(s.Cfg.SecurityKey, s.Log))

		r.Get("/api/ai-status", s.handleAIStatus)

		r.Post("/api/upload-video", s.handleUploadVideo)
		r.Post("/api/download-youtube", s.handleDownloadYouTube)
		r.Get("/api/list-videos/{project}", s.handleListVideos)

		r.Post("/api/extract-frames", s.handleExtractFrames)
		r.Get("/api/frame-analysis/{analysisID}", s.handleFrameAnalysisStatus)

		r.Post("/api/transcribe-video", s.handleTranscribeVideo)
		r.Get("/api/transcription/{transcriptionID}", s.handleTranscriptionStatus)

		r.Post("/api/summarize-video", s.handleSummarizeVideo)
		r.Get("/api/summarization/{summarizationID}", s.handleSummarizationStatus)
		r.Get("/api/video-segments/{videoID}", s.handleVideoSegments)
		r.Get("/api/video-topics/{videoID}", s.handleVideoTopics)

		r.Post("/api/cancel-job/{jobID}", s.handleCancelJob)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
