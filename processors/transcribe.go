package processors

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"videoindex/config"
	"videoindex/core"
	"videoindex/inference"
	"videoindex/storage"
)

// refinePacing spaces refinement calls to stay under chat rate limits.
const refinePacing = 100 * time.Millisecond

// TranscriptionStore is the slice of the metadata API the transcription
// pipeline needs.
type TranscriptionStore interface {
	VideoByID(ctx context.Context, project, videoID string) (*storage.VideoDetail, error)
	InsertTranscriptSegments(ctx context.Context, segments []core.TranscriptSegment) error
	CompleteTranscription(ctx context.Context, id, language string, totalSegments int, totalDuration float64) error
	FailJob(ctx context.Context, kind, id, reason string) error
}

type TranscriptionJob struct {
	TranscriptionID string
	VideoID         string
	Project         string
	Refine          bool
}

// TranscriptionPipeline extracts the audio track, runs speech
// recognition and stores confidence-scored transcript segments,
// optionally refining each segment's text with the chat model.
type TranscriptionPipeline struct {
	Cfg    *config.Config
	Models *inference.Registry
	Meta   TranscriptionStore
	Log    *logrus.Logger

	// Pacing overrides refinePacing in tests; zero means the default.
	Pacing time.Duration
}

// Confidence maps Whisper's average log probability onto [0,1]. The
// usable range runs from about -3.0 (guessing) to -0.1 (confident).
func Confidence(avgLogprob float64) float64 {
	c := (avgLogprob + 3.0) / 3.0
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// ExtractAudio pulls the audio track into a 16 kHz mono WAV, the input
// format speech models expect.
func ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", "16000",
		"-y", audioPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg audio extraction: %w: %s", err, tail(string(out)))
	}
	return nil
}

// MapSegments converts raw speech segments into transcript rows with
// dotted timestamps and confidence scores, preserving engine order.
func MapSegments(transcriptionID string, raw []inference.SpeechSegment) []core.TranscriptSegment {
	segments := make([]core.TranscriptSegment, 0, len(raw))
	for i, seg := range raw {
		segments = append(segments, core.TranscriptSegment{
			TranscriptionID:   transcriptionID,
			Index:             i,
			StartingTimestamp: core.SecondsToTimestamp(seg.Start),
			EndingTimestamp:   core.SecondsToTimestamp(seg.End),
			StartSeconds:      seg.Start,
			EndSeconds:        seg.End,
			Text:              strings.TrimSpace(seg.Text),
			Confidence:        Confidence(seg.AvgLogprob),
		})
	}
	return segments
}

// RefineSegments rewrites each segment's text with the chat model. A
// failed call keeps the original text for that segment.
func RefineSegments(ctx context.Context, chat inference.ChatClient, model string,
	segments []core.TranscriptSegment, pacing time.Duration, log *logrus.Entry) {

	const system = "You are a helpful assistant that improves transcribed text quality while preserving the original meaning and tone."
	for i := range segments {
		if ctx.Err() != nil {
			return
		}
		prompt := fmt.Sprintf(`Please refine and improve the following transcribed text while preserving its original meaning and tone.
Fix any grammar errors, spelling mistakes, and improve clarity while maintaining the speaker's intended message.

Original text: %q

Refined text:`, segments[i].Text)

		refined, _, err := chat.Complete(ctx, model, system, prompt, 200, 0.3)
		if err != nil {
			log.WithError(err).WithField("segmentIndex", i).Warn("refinement failed, keeping original text")
			continue
		}
		refined = strings.TrimSpace(refined)
		if strings.HasPrefix(refined, `"`) && strings.HasSuffix(refined, `"`) && len(refined) >= 2 {
			refined = refined[1 : len(refined)-1]
		}
		if refined != "" {
			segments[i].RefinedText = refined
		}
		if pacing > 0 {
			time.Sleep(pacing)
		}
	}
}

// Run executes one transcription job end to end.
func (p *TranscriptionPipeline) Run(ctx context.Context, job TranscriptionJob) error {
	log := p.Log.WithFields(logrus.Fields{"videoId": job.VideoID, "transcriptionId": job.TranscriptionID})

	fail := func(reason string) error {
		if err := p.Meta.FailJob(context.WithoutCancel(ctx), storage.JobTranscription, job.TranscriptionID, reason); err != nil {
			log.WithError(err).Error("could not mark transcription failed")
		}
		return fmt.Errorf("transcription %s: %s", job.TranscriptionID, reason)
	}

	video, err := p.Meta.VideoByID(ctx, job.Project, job.VideoID)
	if err != nil {
		return fail(fmt.Sprintf("video lookup failed: %v", err))
	}

	videoPath := filepath.Join(p.Cfg.DataRoot, job.Project, "videos", video.Filename)
	if _, err := os.Stat(videoPath); err != nil {
		return fail(fmt.Sprintf("video file not found: %s", videoPath))
	}

	audio, err := os.CreateTemp("", "audio-*.wav")
	if err != nil {
		return fail(fmt.Sprintf("temp audio file: %v", err))
	}
	audioPath := audio.Name()
	audio.Close()
	defer os.Remove(audioPath)

	if err := ExtractAudio(ctx, videoPath, audioPath); err != nil {
		return fail(fmt.Sprintf("audio extraction failed: %v", err))
	}

	log.Info("transcribing audio")
	result, err := p.Models.Speech().Transcribe(ctx, audioPath)
	if err != nil {
		return fail(fmt.Sprintf("speech recognition failed: %v", err))
	}

	segments := MapSegments(job.TranscriptionID, result.Segments)

	if job.Refine && p.Cfg.HasValidAPI() {
		log.WithField("segments", len(segments)).Info("refining transcript")
		pacing := p.Pacing
		if pacing == 0 {
			pacing = refinePacing
		}
		RefineSegments(ctx, p.Models.Chat(), p.Cfg.ChatModel, segments, pacing, log)
	}

	if len(segments) > 0 {
		if err := p.Meta.InsertTranscriptSegments(ctx, segments); err != nil {
			return fail(fmt.Sprintf("could not store segments: %v", err))
		}
	}

	totalDuration := 0.0
	if n := len(segments); n > 0 {
		totalDuration = segments[n-1].EndSeconds
	}

	if err := p.Meta.CompleteTranscription(context.WithoutCancel(ctx), job.TranscriptionID,
		result.Language, len(segments), totalDuration); err != nil {
		return fail(fmt.Sprintf("could not mark transcription completed: %v", err))
	}

	log.WithFields(logrus.Fields{
		"segments": len(segments),
		"language": result.Language,
		"duration": totalDuration,
	}).Info("transcription completed")
	return nil
}
