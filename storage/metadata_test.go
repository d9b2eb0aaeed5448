package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoindex/config"
	"videoindex/core"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewClient(&config.Config{MetadataAPIBase: srv.URL, SecurityKey: "sekrit"}, log)
}

func TestClientSendsSecurityKey(t *testing.T) {
	var gotKey string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-security-key")
		_ = json.NewEncoder(w).Encode(map[string]any{"analysis": map[string]string{"id": "an1"}})
	})

	id, err := c.CreateFrameAnalysis(context.Background(), "vid1", 5)
	require.NoError(t, err)
	assert.Equal(t, "an1", id)
	assert.Equal(t, "sekrit", gotKey)
}

func TestCreateJobSetsProcessingStatus(t *testing.T) {
	var body map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{"transcription": map[string]string{"id": "tr1"}})
	})

	id, err := c.CreateTranscription(context.Background(), "vid1", "whisper-1")
	require.NoError(t, err)
	assert.Equal(t, "tr1", id)
	assert.Equal(t, core.StatusProcessing, body["status"])
	assert.Equal(t, "vid1", body["videoId"])
}

func TestFailJobPayload(t *testing.T) {
	var method, path string
	var body map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.FailJob(context.Background(), JobFrameAnalysis, "an1", "boom"))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/frame-analysis", path)
	assert.Equal(t, core.StatusFailed, body["status"])
	assert.Equal(t, "boom", body["errorMessage"])
}

func TestAPIErrorRetryable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	})

	_, err := c.CreateFrameAnalysis(context.Background(), "vid1", 5)
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.False(t, apiErr.Retryable())

	assert.True(t, (&APIError{Status: http.StatusInternalServerError}).Retryable())
	assert.True(t, (&APIError{Status: http.StatusTooManyRequests}).Retryable())
}

func TestInsertFramesSkipsFailedRows(t *testing.T) {
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 2 {
			http.Error(w, "conflict", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	stored := c.InsertFrames(context.Background(), []core.FrameRecord{
		{AnalysisID: "an1", Timestamp: "00.00.00"},
		{AnalysisID: "an1", Timestamp: "00.00.05"},
		{AnalysisID: "an1", Timestamp: "00.00.10"},
	})
	assert.Equal(t, 2, stored)
	assert.Equal(t, 3, calls)
}

func TestVideoByID(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "demo", r.URL.Query().Get("name"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"project": map[string]any{
				"name": "demo",
				"videos": []map[string]any{
					{"id": "vid1", "filename": "a.mp4"},
					{"id": "vid2", "filename": "b.mp4", "transcription": map[string]any{
						"id": "tr1", "totalDuration": 120.5,
					}},
				},
			},
		})
	})

	video, err := c.VideoByID(context.Background(), "demo", "vid2")
	require.NoError(t, err)
	assert.Equal(t, "b.mp4", video.Filename)
	require.NotNil(t, video.Transcription)
	assert.Equal(t, 120.5, video.Transcription.TotalDuration)

	_, err = c.VideoByID(context.Background(), "demo", "vid3")
	assert.Error(t, err)
}

func TestListStaleJobs(t *testing.T) {
	cutoff := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, core.StatusProcessing, r.URL.Query().Get("status"))
		assert.Equal(t, cutoff.Format(time.RFC3339), r.URL.Query().Get("staleBefore"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jobs": []map[string]string{{"id": "a"}, {"id": "b"}},
		})
	})

	ids, err := c.ListStaleJobs(context.Background(), JobTranscription, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}
