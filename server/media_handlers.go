package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"videoindex/core"
)

var allowedVideoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true,
}

const maxUploadBytes = 2 << 30

func (s *Server) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	project := r.FormValue("projectName")
	if project == "" {
		writeError(w, http.StatusBadRequest, "Project name is required")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedVideoExtensions[ext] {
		writeError(w, http.StatusBadRequest, "Invalid file type")
		return
	}

	videosDir := filepath.Join(s.Cfg.DataRoot, project, "videos")
	if err := os.MkdirAll(videosDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create project directory")
		return
	}

	videoID := core.NewVideoID()
	filename := videoID + ext
	dst, err := os.Create(filepath.Join(videosDir, filename))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save uploaded file")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		writeError(w, http.StatusInternalServerError, "Failed to save uploaded file")
		return
	}
	dst.Close()

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}
	video := core.Video{
		ID:          videoID,
		Filename:    filename,
		Title:       title,
		Description: r.FormValue("description"),
		Tags:        r.FormValue("tags"),
	}
	if err := s.Meta.EnsureProject(r.Context(), project); err != nil {
		s.Log.WithError(err).WithField("project", project).Warn("project registration failed")
	}
	storedID, err := s.Meta.RegisterVideo(r.Context(), project, video)
	if err != nil {
		s.Log.WithError(err).Error("could not register uploaded video")
		writeError(w, http.StatusInternalServerError, "Failed to register video")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Video uploaded successfully",
		"filename": filename,
		"videoId":  storedID,
	})
}

type downloadRequest struct {
	URL         string `json:"url"`
	ProjectName string `json:"projectName"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
}

// handleDownloadYouTube fetches a video with yt-dlp and registers it
// like an upload.
func (s *Server) handleDownloadYouTube(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" || req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "url and projectName are required")
		return
	}

	videosDir := filepath.Join(s.Cfg.DataRoot, req.ProjectName, "videos")
	if err := os.MkdirAll(videosDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create project directory")
		return
	}

	videoID := core.NewVideoID()
	filename := videoID + ".mp4"
	outPath := filepath.Join(videosDir, filename)

	cmd := exec.CommandContext(r.Context(), "yt-dlp",
		"-f", "mp4",
		"-o", outPath,
		req.URL)
	if out, err := cmd.CombinedOutput(); err != nil {
		s.Log.WithError(err).WithField("url", req.URL).Error("yt-dlp failed")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Download failed: %v: %s", err, lastLine(string(out))))
		return
	}

	title := req.Title
	if title == "" {
		title = req.URL
	}
	video := core.Video{
		ID:          videoID,
		Filename:    filename,
		Title:       title,
		Description: req.Description,
		Tags:        req.Tags,
	}
	if err := s.Meta.EnsureProject(r.Context(), req.ProjectName); err != nil {
		s.Log.WithError(err).WithField("project", req.ProjectName).Warn("project registration failed")
	}
	storedID, err := s.Meta.RegisterVideo(r.Context(), req.ProjectName, video)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register video")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Video downloaded successfully",
		"filename": filename,
		"videoId":  storedID,
	})
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	videos, err := s.Meta.ProjectVideos(r.Context(), project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list videos")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

// handleServeVideo resolves the filename through the metadata store; the
// url id may be the full id or its 8-char prefix.
func (s *Server) handleServeVideo(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	project := r.URL.Query().Get("project")
	if project == "" {
		writeError(w, http.StatusBadRequest, "Project name required")
		return
	}

	filename := videoID + ".mp4"
	videos, err := s.Meta.ProjectVideos(r.Context(), project)
	if err == nil {
		for _, v := range videos {
			base := strings.TrimSuffix(v.Filename, filepath.Ext(v.Filename))
			if v.ID == videoID || strings.HasPrefix(v.ID, videoID) || base == videoID {
				filename = v.Filename
				break
			}
		}
	}

	path := filepath.Join(s.Cfg.DataRoot, project, "videos", filename)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "Video file not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request, subdir string) {
	videoID := chi.URLParam(r, "videoID")
	filename := chi.URLParam(r, "filename")
	if strings.Contains(videoID, "..") || strings.Contains(filename, "..") {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}

	// Images live under per-project trees; the url does not carry the
	// project, so scan for the first match.
	entries, err := os.ReadDir(s.Cfg.DataRoot)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.Cfg.DataRoot, entry.Name(), subdir, videoID, filename)
		if _, err := os.Stat(path); err == nil {
			http.ServeFile(w, r, path)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) handleServeFrame(w http.ResponseWriter, r *http.Request) {
	s.serveImage(w, r, "frames")
}

func (s *Server) handleServeFace(w http.ResponseWriter, r *http.Request) {
	s.serveImage(w, r, "faces")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"activeJobs": s.Pool.Active(),
	})
}

func (s *Server) handleAIStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Models.Status())
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
