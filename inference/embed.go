package inference

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	openai "github.com/sashabaranov/go-openai"

	"videoindex/config"
)

// VisualEmbedder maps an image file to a fixed-length vector. Every call
// re-runs inference; there is no cache.
type VisualEmbedder interface {
	EmbedImage(ctx context.Context, imagePath string) ([]float32, error)
	Dim() int
}

// TextEncoder maps text to a fixed-length vector, used for caption
// embeddings and caption-collection search.
type TextEncoder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

const clipEmbedScript = `#!/usr/bin/env python3
import json
import sys

import torch
from PIL import Image
from transformers import CLIPModel, CLIPProcessor

def main(path):
    model = CLIPModel.from_pretrained("openai/clip-vit-base-patch32")
    processor = CLIPProcessor.from_pretrained("openai/clip-vit-base-patch32")
    image = Image.open(path).convert("RGB")
    inputs = processor(images=image, return_tensors="pt")
    with torch.no_grad():
        features = model.get_image_features(**inputs)
    print(json.dumps(features.cpu().numpy().flatten().tolist()))

if __name__ == "__main__":
    if len(sys.argv) != 2:
        print("usage: clip_embed.py <image>", file=sys.stderr)
        sys.exit(1)
    main(sys.argv[1])
`

// scriptVisualEmbedder shells out to a local CLIP model. The script is
// materialized to the temp dir on first use, mirroring how the local
// whisper provider runs.
type scriptVisualEmbedder struct {
	python string
	dim    int
}

func newScriptVisualEmbedder(python string, dim int) *scriptVisualEmbedder {
	return &scriptVisualEmbedder{python: python, dim: dim}
}

func (s *scriptVisualEmbedder) Dim() int { return s.dim }

func (s *scriptVisualEmbedder) EmbedImage(ctx context.Context, imagePath string) ([]float32, error) {
	scriptPath := filepath.Join(os.TempDir(), "clip_embed.py")
	if err := os.WriteFile(scriptPath, []byte(clipEmbedScript), 0644); err != nil {
		return nil, fmt.Errorf("write embed script: %w", err)
	}

	out, err := exec.CommandContext(ctx, s.python, scriptPath, imagePath).Output()
	if err != nil {
		return nil, fmt.Errorf("clip embed failed: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(out, &vec); err != nil {
		return nil, fmt.Errorf("parse embed output: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty embedding for %s", imagePath)
	}
	return vec, nil
}

// MockVisualEmbedder derives a deterministic unit-ish vector from the file
// contents, so tests get stable embeddings without a model.
type MockVisualEmbedder struct {
	Dimension int
	Err       error
}

func (m *MockVisualEmbedder) Dim() int { return m.Dimension }

func (m *MockVisualEmbedder) EmbedImage(_ context.Context, imagePath string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}
	return vectorFromBytes(data, m.Dimension), nil
}

func vectorFromBytes(data []byte, dim int) []float32 {
	sum := sha256.Sum256(data)
	vec := make([]float32, dim)
	for i := range vec {
		chunk := sum[(i*4)%len(sum) : (i*4)%len(sum)+4]
		vec[i] = float32(binary.BigEndian.Uint32(chunk)%1000)/1000.0 - 0.5
	}
	return vec
}

type openAITextEncoder struct {
	cli   *openai.Client
	model string
	dim   int
}

func newOpenAITextEncoder(cfg *config.Config) *openAITextEncoder {
	return &openAITextEncoder{cli: newOpenAIClient(cfg), model: cfg.EmbeddingModel, dim: cfg.TextDim}
}

func (e *openAITextEncoder) Dim() int { return e.dim }

func (e *openAITextEncoder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}

type MockTextEncoder struct {
	Dimension int
	Err       error
}

func (m *MockTextEncoder) Dim() int { return m.Dimension }

func (m *MockTextEncoder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return vectorFromBytes([]byte(text), m.Dimension), nil
}
