package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"videoindex/config"
	"videoindex/core"
)

// Job kinds as the metadata API names them. Each kind has its own record
// table with the same processing/completed/failed lifecycle.
const (
	JobFrameAnalysis = "frame-analysis"
	JobTranscription = "transcriptions"
	JobSummarization = "summarizations"
)

// APIError carries the HTTP status of a failed metadata call so callers
// can distinguish client mistakes from backend trouble.
type APIError struct {
	Status int
	Op     string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("metadata %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Retryable reports whether the call may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Client talks to the metadata JSON API. Every request carries the
// shared security key in the x-security-key header.
type Client struct {
	base string
	key  string
	http *http.Client
	log  *logrus.Logger
}

func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		base: strings.TrimRight(cfg.MetadataAPIBase, "/"),
		key:  cfg.SecurityKey,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("x-security-key", c.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Op: method + " " + path, Body: truncateBody(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

func truncateBody(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 300 {
		return s[:300]
	}
	return s
}

// --- videos and projects ---

// projectEnvelope mirrors the API's project read shape; videos embed their
// transcription and frame analysis records when present.
type projectEnvelope struct {
	Project struct {
		Name   string        `json:"name"`
		Videos []VideoDetail `json:"videos"`
	} `json:"project"`
}

// VideoDetail is a video row plus its nested analysis records.
type VideoDetail struct {
	core.Video
	Transcription *TranscriptionDetail `json:"transcription,omitempty"`
	FrameAnalysis *FrameAnalysisDetail `json:"frameAnalysis,omitempty"`
}

type TranscriptionDetail struct {
	ID            string                   `json:"id"`
	Status        string                   `json:"status"`
	Language      string                   `json:"language"`
	TotalDuration float64                  `json:"totalDuration"`
	Segments      []core.TranscriptSegment `json:"segments"`
}

type FrameAnalysisDetail struct {
	ID          string               `json:"id"`
	Status      string               `json:"status"`
	TotalFrames int                  `json:"totalFrames"`
	Captions    []core.CaptionRecord `json:"captions"`
}

// ProjectVideos lists all videos registered under a project.
func (c *Client) ProjectVideos(ctx context.Context, project string) ([]VideoDetail, error) {
	var env projectEnvelope
	if err := c.do(ctx, http.MethodGet, "/projects?name="+url.QueryEscape(project), nil, &env); err != nil {
		return nil, err
	}
	return env.Project.Videos, nil
}

// VideoByID resolves one video within a project, including its nested
// transcription and frame analysis.
func (c *Client) VideoByID(ctx context.Context, project, videoID string) (*VideoDetail, error) {
	videos, err := c.ProjectVideos(ctx, project)
	if err != nil {
		return nil, err
	}
	for i := range videos {
		if videos[i].ID == videoID {
			return &videos[i], nil
		}
	}
	return nil, fmt.Errorf("video %s not found in project %s", videoID, project)
}

// EnsureProject registers the project if the API does not know it yet.
func (c *Client) EnsureProject(ctx context.Context, project string) error {
	return c.do(ctx, http.MethodPost, "/projects", map[string]string{"name": project}, nil)
}

// RegisterVideo creates the video row and returns its id.
func (c *Client) RegisterVideo(ctx context.Context, project string, v core.Video) (string, error) {
	payload := map[string]any{
		"id":          v.ID,
		"projectName": project,
		"filename":    v.Filename,
		"title":       v.Title,
		"description": v.Description,
		"tags":        v.Tags,
	}
	if v.Duration != nil {
		payload["duration"] = *v.Duration
	}
	var out struct {
		Video struct {
			ID string `json:"id"`
		} `json:"video"`
	}
	if err := c.do(ctx, http.MethodPost, "/videos", payload, &out); err != nil {
		return "", err
	}
	if out.Video.ID != "" {
		return out.Video.ID, nil
	}
	return v.ID, nil
}

// --- job records ---

type createJobResponse struct {
	Analysis struct {
		ID string `json:"id"`
	} `json:"analysis"`
	Transcription struct {
		ID string `json:"id"`
	} `json:"transcription"`
	Summarization struct {
		ID string `json:"id"`
	} `json:"summarization"`
	ID string `json:"id"`
}

func (r createJobResponse) id() string {
	switch {
	case r.Analysis.ID != "":
		return r.Analysis.ID
	case r.Transcription.ID != "":
		return r.Transcription.ID
	case r.Summarization.ID != "":
		return r.Summarization.ID
	}
	return r.ID
}

func (c *Client) createJob(ctx context.Context, kind string, payload map[string]any) (string, error) {
	payload["status"] = core.StatusProcessing
	var out createJobResponse
	if err := c.do(ctx, http.MethodPost, "/"+kind, payload, &out); err != nil {
		return "", err
	}
	id := out.id()
	if id == "" {
		return "", fmt.Errorf("create %s: response carried no id", kind)
	}
	return id, nil
}

func (c *Client) updateJob(ctx context.Context, kind string, payload map[string]any) error {
	return c.do(ctx, http.MethodPut, "/"+kind, payload, nil)
}

// FailJob marks any job kind failed with a reason. It is used both by
// pipelines on error and by the sweeper for stuck jobs.
func (c *Client) FailJob(ctx context.Context, kind, id, reason string) error {
	return c.updateJob(ctx, kind, map[string]any{
		"id":           id,
		"status":       core.StatusFailed,
		"errorMessage": reason,
	})
}

// JobStatus fetches the raw job record for status endpoints.
func (c *Client) JobStatus(ctx context.Context, kind, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/"+kind+"?id="+url.QueryEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStaleJobs returns ids of jobs of a kind still processing past the
// cutoff. The sweeper fails them so no job stays processing forever.
func (c *Client) ListStaleJobs(ctx context.Context, kind string, cutoff time.Time) ([]string, error) {
	path := fmt.Sprintf("/%s?status=%s&staleBefore=%s",
		kind, core.StatusProcessing, url.QueryEscape(cutoff.UTC().Format(time.RFC3339)))
	var out struct {
		Jobs []struct {
			ID string `json:"id"`
		} `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Jobs))
	for _, j := range out.Jobs {
		ids = append(ids, j.ID)
	}
	return ids, nil
}

// --- frame analysis ---

func (c *Client) CreateFrameAnalysis(ctx context.Context, videoID string, frameSampling int) (string, error) {
	return c.createJob(ctx, JobFrameAnalysis, map[string]any{
		"videoId":       videoID,
		"frameSampling": frameSampling,
	})
}

func (c *Client) CompleteFrameAnalysis(ctx context.Context, id string, totalFrames int) error {
	return c.updateJob(ctx, JobFrameAnalysis, map[string]any{
		"id":          id,
		"status":      core.StatusCompleted,
		"totalFrames": totalFrames,
		"processedAt": time.Now().UTC().Format(time.RFC3339),
	})
}

// InsertFrames stores frame rows one by one; a row failure is logged and
// skipped so a single bad row never aborts the batch.
func (c *Client) InsertFrames(ctx context.Context, rows []core.FrameRecord) int {
	stored := 0
	for _, row := range rows {
		if err := c.do(ctx, http.MethodPost, "/frames", row, nil); err != nil {
			c.log.WithError(err).WithField("timestamp", row.Timestamp).Warn("frame row insert failed")
			continue
		}
		stored++
	}
	return stored
}

func (c *Client) InsertCaptions(ctx context.Context, rows []core.CaptionRecord) int {
	stored := 0
	for _, row := range rows {
		if err := c.do(ctx, http.MethodPost, "/captions", row, nil); err != nil {
			c.log.WithError(err).WithField("timestamp", row.Timestamp).Warn("caption row insert failed")
			continue
		}
		stored++
	}
	return stored
}

func (c *Client) InsertPersons(ctx context.Context, rows []core.PersonRecord) int {
	stored := 0
	for _, row := range rows {
		if err := c.do(ctx, http.MethodPost, "/persons", row, nil); err != nil {
			c.log.WithError(err).WithField("personUid", row.PersonUID).Warn("person row insert failed")
			continue
		}
		stored++
	}
	return stored
}

// --- transcription ---

func (c *Client) CreateTranscription(ctx context.Context, videoID, model string) (string, error) {
	return c.createJob(ctx, JobTranscription, map[string]any{
		"videoId": videoID,
		"model":   model,
	})
}

// InsertTranscriptSegments stores the whole segment batch in one call.
func (c *Client) InsertTranscriptSegments(ctx context.Context, segments []core.TranscriptSegment) error {
	return c.do(ctx, http.MethodPost, "/transcription-segments", map[string]any{"segments": segments}, nil)
}

func (c *Client) CompleteTranscription(ctx context.Context, id, language string, totalSegments int, totalDuration float64) error {
	return c.updateJob(ctx, JobTranscription, map[string]any{
		"id":            id,
		"status":        core.StatusCompleted,
		"language":      language,
		"totalSegments": totalSegments,
		"totalDuration": totalDuration,
		"processedAt":   time.Now().UTC().Format(time.RFC3339),
	})
}

// --- summarization ---

func (c *Client) CreateSummarization(ctx context.Context, videoID, model string) (string, error) {
	return c.createJob(ctx, JobSummarization, map[string]any{
		"videoId": videoID,
		"model":   model,
	})
}

func (c *Client) CompleteSummarization(ctx context.Context, id string, segments, topics int) error {
	return c.updateJob(ctx, JobSummarization, map[string]any{
		"id":            id,
		"status":        core.StatusCompleted,
		"totalSegments": segments,
		"totalTopics":   topics,
		"processedAt":   time.Now().UTC().Format(time.RFC3339),
	})
}

// DeleteVideoSegments clears previous summarization output before a rerun.
func (c *Client) DeleteVideoSegments(ctx context.Context, videoID string) error {
	return c.do(ctx, http.MethodDelete, "/video-segments?videoId="+url.QueryEscape(videoID), nil, nil)
}

func (c *Client) DeleteVideoTopics(ctx context.Context, videoID string) error {
	return c.do(ctx, http.MethodDelete, "/video-topics?videoId="+url.QueryEscape(videoID), nil, nil)
}

func (c *Client) InsertVideoSegment(ctx context.Context, seg core.VideoSegment) error {
	return c.do(ctx, http.MethodPost, "/video-segments", seg, nil)
}

func (c *Client) InsertVideoTopic(ctx context.Context, topic core.VideoTopic) error {
	return c.do(ctx, http.MethodPost, "/video-topics", topic, nil)
}

// VideoSegments reads back stored segments for the status endpoints.
func (c *Client) VideoSegments(ctx context.Context, videoID string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/video-segments?videoId="+url.QueryEscape(videoID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VideoTopics(ctx context.Context, videoID string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/video-topics?videoId="+url.QueryEscape(videoID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LogTokenUsage appends one accounting row; failures are logged, never
// propagated, because accounting must not fail a finished summarization.
func (c *Client) LogTokenUsage(ctx context.Context, usage core.TokenUsage) {
	if err := c.do(ctx, http.MethodPost, "/token-usage", usage, nil); err != nil {
		c.log.WithError(err).WithField("videoId", usage.VideoID).Warn("token usage log failed")
	}
}
