package processors

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"videoindex/core"
)

// ProbeFrameRate reads the video stream's frame rate with ffprobe.
func ProbeFrameRate(videoPath string) (float64, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe frame rate: %w", err)
	}
	return parseFrameRate(strings.TrimSpace(string(out)))
}

// parseFrameRate handles ffprobe's fractional form, e.g. "30000/1001".
func parseFrameRate(raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty frame rate")
	}
	if num, den, found := strings.Cut(raw, "/"); found {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("parse frame rate %q: %w", raw, err)
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil || d == 0 {
			return 0, fmt.Errorf("parse frame rate %q: bad denominator", raw)
		}
		return n / d, nil
	}
	fps, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse frame rate %q: %w", raw, err)
	}
	return fps, nil
}

// ProbeDuration reads the container duration in seconds with ffprobe.
func ProbeDuration(videoPath string) (float64, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w", err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return dur, nil
}

// SampleFrames extracts one frame every interval seconds into outDir and
// returns them in timestamp order. Frame k of the selection corresponds to
// source frame k*step at step=round(fps*interval), which fixes its
// timestamp without decoding timecodes.
func SampleFrames(ctx context.Context, videoPath, outDir, videoID string, interval int) ([]core.SampledFrame, error) {
	fps, err := ProbeFrameRate(videoPath)
	if err != nil {
		return nil, err
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %.2f for %s", fps, videoPath)
	}
	step := sampleStep(fps, interval)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}

	pattern := filepath.Join(outDir, "raw_%05d.jpg")
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-vf", fmt.Sprintf("select='not(mod(n\\,%d))'", step),
		"-vsync", "vfr",
		"-q:v", "2",
		"-y", pattern)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction: %w: %s", err, tail(string(out)))
	}

	raw, err := filepath.Glob(filepath.Join(outDir, "raw_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("list extracted frames: %w", err)
	}
	sort.Strings(raw)

	frames := make([]core.SampledFrame, 0, len(raw))
	for k, path := range raw {
		seconds := float64(k*step) / fps
		timestamp := core.SecondsToTimestamp(seconds)
		name := FrameFilename(k, timestamp)
		final := filepath.Join(outDir, name)
		if err := os.Rename(path, final); err != nil {
			return nil, fmt.Errorf("rename frame %s: %w", path, err)
		}
		frames = append(frames, core.SampledFrame{
			Timestamp: timestamp,
			ImagePath: final,
			ImageLink: "/frames/" + videoID + "/" + name,
		})
	}
	return frames, nil
}

// sampleStep rounds to the nearest source frame so fractional rates like
// 29.97 fps land on 150 rather than 149 at a 5s interval.
func sampleStep(fps float64, interval int) int {
	step := int(math.Round(fps * float64(interval)))
	if step < 1 {
		step = 1
	}
	return step
}

// FrameFilename names a sampled frame; the underscored timestamp keeps
// filenames free of extra dots.
func FrameFilename(index int, timestamp string) string {
	return fmt.Sprintf("frame_%d_%s.jpg", index, strings.ReplaceAll(timestamp, ".", "_"))
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		return s[len(s)-400:]
	}
	return s
}
