package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"videoindex/config"
)

// SpeechSegment is one time-aligned segment from the speech engine, with
// the raw average log-probability (confidence derivation happens in the
// transcription pipeline, not here).
type SpeechSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

type SpeechResult struct {
	Language string          `json:"language"`
	Segments []SpeechSegment `json:"segments"`
}

// SpeechRecognizer transcribes a prepared audio file into ordered
// segments. Order is engine insertion order and is preserved downstream.
type SpeechRecognizer interface {
	Transcribe(ctx context.Context, audioPath string) (*SpeechResult, error)
}

type whisperAPI struct {
	cli   *openai.Client
	model string
}

func newWhisperAPI(cfg *config.Config) *whisperAPI {
	return &whisperAPI{cli: newOpenAIClient(cfg), model: cfg.WhisperModel}
}

func (w *whisperAPI) Transcribe(ctx context.Context, audioPath string) (*SpeechResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	resp, err := w.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	result := &SpeechResult{Language: resp.Language}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, SpeechSegment{
			Start:      seg.Start,
			End:        seg.End,
			Text:       seg.Text,
			AvgLogprob: seg.AvgLogprob,
		})
	}
	return result, nil
}

const whisperScript = `#!/usr/bin/env python3
import json
import os
import sys

import whisper

def main(path):
    model_size = os.getenv("WHISPER_MODEL", "base")
    model = whisper.load_model(model_size)
    result = model.transcribe(path)
    segments = []
    for seg in result.get("segments", []):
        segments.append({
            "start": seg["start"],
            "end": seg["end"],
            "text": seg["text"].strip(),
            "avg_logprob": seg.get("avg_logprob", -1.0),
        })
    print(json.dumps({"language": result.get("language", "unknown"), "segments": segments}))

if __name__ == "__main__":
    if len(sys.argv) != 2:
        print("usage: whisper_transcribe.py <audio>", file=sys.stderr)
        sys.exit(1)
    main(sys.argv[1])
`

type localWhisper struct {
	python string
}

func newLocalWhisper(python string) *localWhisper {
	return &localWhisper{python: python}
}

func (l *localWhisper) Transcribe(ctx context.Context, audioPath string) (*SpeechResult, error) {
	scriptPath := filepath.Join(os.TempDir(), "whisper_transcribe.py")
	if err := os.WriteFile(scriptPath, []byte(whisperScript), 0644); err != nil {
		return nil, fmt.Errorf("write whisper script: %w", err)
	}

	out, err := exec.CommandContext(ctx, l.python, scriptPath, audioPath).Output()
	if err != nil {
		return nil, fmt.Errorf("local whisper failed: %w", err)
	}
	var result SpeechResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}
	return &result, nil
}

// MockSpeech returns canned segments, or Err when failure is simulated.
type MockSpeech struct {
	Result *SpeechResult
	Err    error
}

func (m *MockSpeech) Transcribe(_ context.Context, _ string) (*SpeechResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return &SpeechResult{
		Language: "en",
		Segments: []SpeechSegment{
			{Start: 0, End: 15, Text: "Placeholder transcript from 0s to 15s", AvgLogprob: -0.4},
		},
	}, nil
}
