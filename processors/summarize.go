package processors

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"videoindex/config"
	"videoindex/core"
	"videoindex/inference"
	"videoindex/storage"
)

// AllowedSummaryModels are the chat models with known pricing; the
// summarize endpoint rejects anything else.
var AllowedSummaryModels = []string{
	"gpt-4.1-nano-2025-04-14",
	"gpt-4o-mini-2024-07-18",
}

// modelRates holds per-token pricing in dollars.
var modelRates = map[string]struct{ input, output float64 }{
	"gpt-4.1-nano-2025-04-14": {input: 0.00010 / 1000, output: 0.0004 / 1000},
	"gpt-4o-mini-2024-07-18":  {input: 0.00015 / 1000, output: 0.0006 / 1000},
}

// Cost prices a call. Unknown models cost zero rather than erroring,
// so accounting never blocks summarization.
func Cost(model string, promptTokens, completionTokens int) float64 {
	rates, ok := modelRates[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)*rates.input + float64(completionTokens)*rates.output
}

// IsAllowedSummaryModel reports whether the model may be used for
// summarization.
func IsAllowedSummaryModel(model string) bool {
	for _, m := range AllowedSummaryModels {
		if m == model {
			return true
		}
	}
	return false
}

// Window is one fixed-duration summarization interval, half-open on the
// right except that the last window ends exactly at the video duration.
type Window struct {
	StartSeconds float64
	EndSeconds   float64
	Transcript   string
	Captions     []string
}

func (w Window) StartingTimestamp() string { return core.SecondsToTimestamp(w.StartSeconds) }
func (w Window) EndingTimestamp() string   { return core.SecondsToTimestamp(w.EndSeconds) }

// EffectiveDuration picks the duration the window grid is built over:
// the video's own duration when known, else the transcription's total,
// else a five minute default.
func EffectiveDuration(videoDuration *float64, transcription *storage.TranscriptionDetail) float64 {
	if videoDuration != nil && *videoDuration > 0 {
		return *videoDuration
	}
	if transcription != nil && transcription.TotalDuration > 0 {
		return transcription.TotalDuration
	}
	return 300
}

// BuildWindows partitions [0, duration) into consecutive windows of the
// given length; the last window is truncated to the duration.
func BuildWindows(duration, windowSeconds float64) []Window {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	var windows []Window
	for current := 0.0; current < duration; {
		end := current + windowSeconds
		if end > duration {
			end = duration
		}
		windows = append(windows, Window{StartSeconds: current, EndSeconds: end})
		current = end
	}
	return windows
}

// AttachTranscript joins the text of every transcript segment that
// overlaps the window, in stored order. A segment overlaps when it
// starts inside, ends inside, or spans the whole window.
func AttachTranscript(w *Window, segments []core.TranscriptSegment) {
	var parts []string
	for _, seg := range segments {
		startsInside := seg.StartSeconds >= w.StartSeconds && seg.StartSeconds < w.EndSeconds
		endsInside := seg.EndSeconds > w.StartSeconds && seg.EndSeconds <= w.EndSeconds
		spans := seg.StartSeconds < w.StartSeconds && seg.EndSeconds > w.EndSeconds
		if !startsInside && !endsInside && !spans {
			continue
		}
		if text := seg.BestText(); text != "" {
			parts = append(parts, text)
		}
	}
	w.Transcript = strings.Join(parts, " ")
}

// AttachCaptions collects captions whose frame timestamp falls inside
// the window. Unparseable timestamps are skipped.
func AttachCaptions(w *Window, captions []core.CaptionRecord) {
	for _, cap := range captions {
		seconds, err := core.TimestampToSeconds(cap.Timestamp)
		if err != nil {
			continue
		}
		if seconds >= w.StartSeconds && seconds < w.EndSeconds && cap.Caption != "" {
			w.Captions = append(w.Captions, cap.Caption)
		}
	}
}

// SummaryStore is the slice of the metadata API the summarization
// pipeline needs.
type SummaryStore interface {
	VideoByID(ctx context.Context, project, videoID string) (*storage.VideoDetail, error)
	DeleteVideoSegments(ctx context.Context, videoID string) error
	DeleteVideoTopics(ctx context.Context, videoID string) error
	InsertVideoSegment(ctx context.Context, seg core.VideoSegment) error
	InsertVideoTopic(ctx context.Context, topic core.VideoTopic) error
	CompleteSummarization(ctx context.Context, id string, segments, topics int) error
	FailJob(ctx context.Context, kind, id, reason string) error
	LogTokenUsage(ctx context.Context, usage core.TokenUsage)
}

type SummarizationJob struct {
	SummarizationID string
	VideoID         string
	Project         string
	Model           string
	WindowSeconds   float64
}

// SummarizationPipeline regenerates per-window descriptions and topic
// clusters for a video. Each run deletes the previous generation first,
// then writes a fresh one and logs a single aggregate token usage row.
type SummarizationPipeline struct {
	Cfg    *config.Config
	Models *inference.Registry
	Meta   SummaryStore
	Log    *logrus.Logger
}

func (p *SummarizationPipeline) Run(ctx context.Context, job SummarizationJob) error {
	log := p.Log.WithFields(logrus.Fields{"videoId": job.VideoID, "summarizationId": job.SummarizationID})

	fail := func(reason string) error {
		if err := p.Meta.FailJob(context.WithoutCancel(ctx), storage.JobSummarization, job.SummarizationID, reason); err != nil {
			log.WithError(err).Error("could not mark summarization failed")
		}
		return fmt.Errorf("summarization %s: %s", job.SummarizationID, reason)
	}

	video, err := p.Meta.VideoByID(ctx, job.Project, job.VideoID)
	if err != nil {
		return fail(fmt.Sprintf("video lookup failed: %v", err))
	}

	// Previous generation goes first so a rerun never mixes outputs
	// from two models. If either delete fails the run aborts: writing a
	// new generation next to a partially deleted old one would leave
	// mixed rows.
	if err := p.Meta.DeleteVideoSegments(ctx, job.VideoID); err != nil {
		return fail(fmt.Sprintf("could not delete previous segments: %v", err))
	}
	if err := p.Meta.DeleteVideoTopics(ctx, job.VideoID); err != nil {
		return fail(fmt.Sprintf("could not delete previous topics: %v", err))
	}

	windowSeconds := job.WindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = float64(p.Cfg.SegmentDuration)
	}
	duration := EffectiveDuration(video.Duration, video.Transcription)
	windows := BuildWindows(duration, windowSeconds)

	var transcript []core.TranscriptSegment
	if video.Transcription != nil {
		transcript = video.Transcription.Segments
	}
	var captions []core.CaptionRecord
	if video.FrameAnalysis != nil {
		captions = video.FrameAnalysis.Captions
	}

	chat := p.Models.Chat()
	totals := inference.Usage{}
	totalCost := 0.0

	stored := make([]core.VideoSegment, 0, len(windows))
	for i := range windows {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Sprintf("canceled: %v", err))
		}
		AttachTranscript(&windows[i], transcript)
		AttachCaptions(&windows[i], captions)

		description, usage := p.describeWindow(ctx, chat, job.Model, windows[i], video, log)
		totals.PromptTokens += usage.PromptTokens
		totals.CompletionTokens += usage.CompletionTokens
		totalCost += Cost(job.Model, usage.PromptTokens, usage.CompletionTokens)

		seg := core.VideoSegment{
			VideoID:           job.VideoID,
			Index:             i,
			StartingTimestamp: windows[i].StartingTimestamp(),
			EndingTimestamp:   windows[i].EndingTimestamp(),
			StartSeconds:      windows[i].StartSeconds,
			EndSeconds:        windows[i].EndSeconds,
			Description:       description,
			Model:             job.Model,
		}
		if err := p.Meta.InsertVideoSegment(ctx, seg); err != nil {
			log.WithError(err).WithField("segmentIndex", i).Warn("segment insert failed")
			continue
		}
		stored = append(stored, seg)
	}

	topics := p.clusterTopics(ctx, chat, job.Model, stored, video, log, &totals, &totalCost)
	storedTopics := 0
	for _, topic := range topics {
		if err := p.Meta.InsertVideoTopic(ctx, topic); err != nil {
			log.WithError(err).WithField("topicIndex", topic.Index).Warn("topic insert failed")
			continue
		}
		storedTopics++
	}

	p.Meta.LogTokenUsage(context.WithoutCancel(ctx), core.TokenUsage{
		VideoID:          job.VideoID,
		Operation:        "video_summarization",
		Model:            job.Model,
		PromptTokens:     totals.PromptTokens,
		CompletionTokens: totals.CompletionTokens,
		TotalTokens:      totals.Total(),
		Cost:             totalCost,
	})

	if err := p.Meta.CompleteSummarization(context.WithoutCancel(ctx), job.SummarizationID, len(stored), storedTopics); err != nil {
		return fail(fmt.Sprintf("could not mark summarization completed: %v", err))
	}

	log.WithFields(logrus.Fields{
		"segments": len(stored),
		"topics":   storedTopics,
		"tokens":   totals.Total(),
		"cost":     totalCost,
	}).Info("summarization completed")
	return nil
}

// describeWindow asks the chat model for a short description of one
// window. On failure the segment still exists with a plain time-range
// placeholder and zero usage.
func (p *SummarizationPipeline) describeWindow(ctx context.Context, chat inference.ChatClient, model string,
	w Window, video *storage.VideoDetail, log *logrus.Entry) (string, inference.Usage) {

	const system = "You are an expert video content analyst. Generate concise, engaging descriptions for video segments based on transcription and visual elements."
	prompt := fmt.Sprintf(`
Video Title: %s
Video Description: %s
Segment Time: %s - %s

Audio Transcription:
%s

Visual Elements:
%s

Generate a concise, engaging description (2-3 sentences) that captures the essence of what happens in this video segment. Focus on the main actions, topics, or visual elements.
`, orDefault(video.Title, "Unknown"), orDefault(video.Description, "No description available"),
		w.StartingTimestamp(), w.EndingTimestamp(),
		orDefault(w.Transcript, "No transcription available"),
		strings.Join(w.Captions, " | "))

	description, usage, err := chat.Complete(ctx, model, system, prompt, 150, 0.7)
	if err != nil {
		log.WithError(err).WithField("window", w.StartingTimestamp()).Warn("description generation failed, using placeholder")
		return fmt.Sprintf("Content from %s to %s", w.StartingTimestamp(), w.EndingTimestamp()), inference.Usage{}
	}
	return strings.TrimSpace(description), usage
}

// clusterTopics groups consecutive segments greedily: a cluster closes
// once it holds at least two segments spanning the topic duration, or at
// the final segment regardless of span.
func (p *SummarizationPipeline) clusterTopics(ctx context.Context, chat inference.ChatClient, model string,
	segments []core.VideoSegment, video *storage.VideoDetail, log *logrus.Entry,
	totals *inference.Usage, totalCost *float64) []core.VideoTopic {

	if len(segments) == 0 {
		return nil
	}
	topicSpan := float64(p.Cfg.TopicDuration)

	var topics []core.VideoTopic
	var cluster []core.VideoSegment
	for i, seg := range segments {
		cluster = append(cluster, seg)

		spanReached := len(cluster) >= 2 &&
			cluster[len(cluster)-1].EndSeconds-cluster[0].StartSeconds >= topicSpan
		last := i == len(segments)-1
		if !spanReached && !last {
			continue
		}

		title, usage := p.titleCluster(ctx, chat, model, cluster, video, log)
		totals.PromptTokens += usage.PromptTokens
		totals.CompletionTokens += usage.CompletionTokens
		*totalCost += Cost(model, usage.PromptTokens, usage.CompletionTokens)

		topics = append(topics, core.VideoTopic{
			VideoID:           seg.VideoID,
			Index:             len(topics),
			StartingTimestamp: cluster[0].StartingTimestamp,
			EndingTimestamp:   cluster[len(cluster)-1].EndingTimestamp,
			StartSeconds:      cluster[0].StartSeconds,
			EndSeconds:        cluster[len(cluster)-1].EndSeconds,
			Topic:             title,
			Model:             model,
		})
		cluster = nil
	}
	return topics
}

func (p *SummarizationPipeline) titleCluster(ctx context.Context, chat inference.ChatClient, model string,
	cluster []core.VideoSegment, video *storage.VideoDetail, log *logrus.Entry) (string, inference.Usage) {

	descriptions := make([]string, 0, len(cluster))
	for _, seg := range cluster {
		descriptions = append(descriptions, seg.Description)
	}

	const system = "You are an expert content categorizer. Generate concise, descriptive topic titles that capture the essence of video content."
	prompt := fmt.Sprintf(`
Video Title: %s
Time Range: %s - %s

Segment Descriptions:
%s

Based on these segment descriptions, generate a concise, descriptive topic title (3-6 words) that captures the main theme or subject matter of this portion of the video.
`, orDefault(video.Title, "Unknown"),
		cluster[0].StartingTimestamp, cluster[len(cluster)-1].EndingTimestamp,
		strings.Join(descriptions, "\n"))

	title, usage, err := chat.Complete(ctx, model, system, prompt, 50, 0.5)
	if err != nil {
		log.WithError(err).Warn("topic title generation failed, using placeholder")
		return fmt.Sprintf("Topic %s-%s", cluster[0].StartingTimestamp, cluster[len(cluster)-1].EndingTimestamp), inference.Usage{}
	}
	return strings.TrimSpace(title), usage
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
