package processors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"videoindex/config"
	"videoindex/core"
	"videoindex/inference"
	"videoindex/storage"
)

// AnalysisStore is the slice of the metadata API the frame pipeline needs.
type AnalysisStore interface {
	VideoByID(ctx context.Context, project, videoID string) (*storage.VideoDetail, error)
	CompleteFrameAnalysis(ctx context.Context, id string, totalFrames int) error
	FailJob(ctx context.Context, kind, id, reason string) error
	InsertFrames(ctx context.Context, rows []core.FrameRecord) int
	InsertCaptions(ctx context.Context, rows []core.CaptionRecord) int
	InsertPersons(ctx context.Context, rows []core.PersonRecord) int
}

// AnalysisJob carries one queued frame analysis run. The job record
// already exists as processing; the pipeline owns its terminal state.
type AnalysisJob struct {
	AnalysisID string
	VideoID    string
	Project    string
	Interval   int
}

// FrameAnalysisPipeline samples frames from a video and produces, per
// frame, a visual embedding, a caption with its text embedding, and face
// crops with dedup uids. Rows go to the metadata store and vectors to the
// per-project collections.
type FrameAnalysisPipeline struct {
	Cfg    *config.Config
	Models *inference.Registry
	Meta   AnalysisStore
	Index  storage.VectorIndex
	Log    *logrus.Logger

	// Sample is swappable for tests; nil means SampleFrames.
	Sample func(ctx context.Context, videoPath, outDir, videoID string, interval int) ([]core.SampledFrame, error)
}

func (p *FrameAnalysisPipeline) sampler() func(context.Context, string, string, string, int) ([]core.SampledFrame, error) {
	if p.Sample != nil {
		return p.Sample
	}
	return SampleFrames
}

// Run executes one frame analysis job end to end. Per-frame model
// failures degrade that frame (logged, skipped); only setup failures and
// an empty sample fail the job.
func (p *FrameAnalysisPipeline) Run(ctx context.Context, job AnalysisJob) error {
	log := p.Log.WithFields(logrus.Fields{"videoId": job.VideoID, "analysisId": job.AnalysisID})

	fail := func(reason string) error {
		if err := p.Meta.FailJob(context.WithoutCancel(ctx), storage.JobFrameAnalysis, job.AnalysisID, reason); err != nil {
			log.WithError(err).Error("could not mark frame analysis failed")
		}
		return fmt.Errorf("frame analysis %s: %s", job.AnalysisID, reason)
	}

	video, err := p.Meta.VideoByID(ctx, job.Project, job.VideoID)
	if err != nil {
		return fail(fmt.Sprintf("video lookup failed: %v", err))
	}

	videoPath := filepath.Join(p.Cfg.DataRoot, job.Project, "videos", video.Filename)
	if _, err := os.Stat(videoPath); err != nil {
		return fail(fmt.Sprintf("video file not found: %s", videoPath))
	}

	framesDir := filepath.Join(p.Cfg.DataRoot, job.Project, "frames", job.VideoID)
	facesDir := filepath.Join(p.Cfg.DataRoot, job.Project, "faces", job.VideoID)

	interval := job.Interval
	if interval <= 0 {
		interval = p.Cfg.FrameInterval
	}

	log.WithField("interval", interval).Info("sampling frames")
	frames, err := p.sampler()(ctx, videoPath, framesDir, job.VideoID, interval)
	if err != nil {
		// A broken extraction reads the same as an empty one: the job
		// fails with the uniform message and the cause stays in the log.
		log.WithError(err).Warn("frame sampling failed")
		frames = nil
	}
	if len(frames) == 0 {
		return fail("no frames could be extracted from video")
	}

	var (
		frameRows   []core.FrameRecord
		captionRows []core.CaptionRecord
		personRows  []core.PersonRecord
	)

	embedder := p.Models.VisualEmbedder()
	captioner := p.Models.Captioner()
	textEnc := p.Models.TextEncoder()
	detector := p.Models.FaceDetector()

	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Sprintf("canceled: %v", err))
		}
		flog := log.WithField("timestamp", frame.Timestamp)

		embedding, err := embedder.EmbedImage(ctx, frame.ImagePath)
		if err != nil {
			flog.WithError(err).Warn("visual embedding failed, skipping frame vector")
		} else {
			frameRows = append(frameRows, core.FrameRecord{
				AnalysisID: job.AnalysisID,
				Timestamp:  frame.Timestamp,
				ImageLink:  frame.ImageLink,
				Embedding:  embedding,
			})
		}

		caption, err := captioner.Caption(ctx, frame.ImagePath)
		if err != nil {
			flog.WithError(err).Warn("captioning failed, skipping caption")
		} else if caption != "" {
			captionEmbedding, err := textEnc.EmbedText(ctx, caption)
			if err != nil {
				flog.WithError(err).Warn("caption embedding failed")
				captionEmbedding = nil
			}
			captionRows = append(captionRows, core.CaptionRecord{
				AnalysisID: job.AnalysisID,
				Timestamp:  frame.Timestamp,
				ImageLink:  frame.ImageLink,
				Caption:    caption,
				Embedding:  captionEmbedding,
			})
		}

		persons, err := ExtractFaces(ctx, detector, embedder, frame, facesDir, job.VideoID, job.AnalysisID)
		if err != nil {
			flog.WithError(err).Warn("face extraction failed, skipping frame faces")
		} else {
			personRows = append(personRows, persons...)
		}
	}

	storedFrames := p.Meta.InsertFrames(ctx, frameRows)
	storedCaptions := p.Meta.InsertCaptions(ctx, captionRows)
	storedPersons := p.Meta.InsertPersons(ctx, personRows)

	p.indexVectors(ctx, log, job, frameRows, captionRows, personRows)

	if err := p.Meta.CompleteFrameAnalysis(context.WithoutCancel(ctx), job.AnalysisID, len(frames)); err != nil {
		return fail(fmt.Sprintf("could not mark analysis completed: %v", err))
	}

	log.WithFields(logrus.Fields{
		"frames":   storedFrames,
		"captions": storedCaptions,
		"persons":  storedPersons,
	}).Info("frame analysis completed")
	return nil
}

// indexVectors upserts all three modalities. Point ids are derived from
// the video, modality and timestamp, so reprocessing overwrites rather
// than duplicates. Index trouble is logged, never fatal.
func (p *FrameAnalysisPipeline) indexVectors(ctx context.Context, log *logrus.Entry, job AnalysisJob,
	frameRows []core.FrameRecord, captionRows []core.CaptionRecord, personRows []core.PersonRecord) {

	upsert := func(modality string, dim int, points []storage.Point) {
		if len(points) == 0 {
			return
		}
		coll := storage.CollectionName(job.Project, modality)
		if err := p.Index.EnsureCollection(ctx, coll, dim); err != nil {
			log.WithError(err).WithField("collection", coll).Warn("collection setup failed")
			return
		}
		stored, err := p.Index.Upsert(ctx, coll, points)
		if err != nil {
			log.WithError(err).WithField("collection", coll).Warn("vector upsert failed")
			return
		}
		log.WithFields(logrus.Fields{"collection": coll, "stored": stored}).Info("vectors indexed")
	}

	var framePoints []storage.Point
	for _, row := range frameRows {
		framePoints = append(framePoints, storage.Point{
			ID:     storage.PointID(job.VideoID, core.ModalityFrames, row.Timestamp),
			Vector: row.Embedding,
			Payload: map[string]string{
				"videoId":   job.VideoID,
				"timestamp": row.Timestamp,
				"imageLink": row.ImageLink,
			},
		})
	}
	upsert(core.ModalityFrames, p.Cfg.VisualDim, framePoints)

	var captionPoints []storage.Point
	for _, row := range captionRows {
		if len(row.Embedding) == 0 {
			continue
		}
		captionPoints = append(captionPoints, storage.Point{
			ID:     storage.PointID(job.VideoID, core.ModalityCaptions, row.Timestamp),
			Vector: row.Embedding,
			Payload: map[string]string{
				"videoId":   job.VideoID,
				"timestamp": row.Timestamp,
				"imageLink": row.ImageLink,
				"caption":   row.Caption,
			},
		})
	}
	upsert(core.ModalityCaptions, p.Cfg.TextDim, captionPoints)

	var personPoints []storage.Point
	for _, row := range personRows {
		if len(row.Embedding) == 0 {
			continue
		}
		personPoints = append(personPoints, storage.Point{
			ID:     storage.PointID(job.VideoID, core.ModalityPersons, row.PersonUID, row.Timestamp),
			Vector: row.Embedding,
			Payload: map[string]string{
				"videoId":   job.VideoID,
				"timestamp": row.Timestamp,
				"imageLink": row.ImageLink,
				"personUid": row.PersonUID,
			},
		})
	}
	upsert(core.ModalityPersons, p.Cfg.VisualDim, personPoints)
}
