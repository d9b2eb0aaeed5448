package processors

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoindex/core"
	"videoindex/inference"
)

func TestPersonUIDDeterministic(t *testing.T) {
	crop := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := range crop.Pix {
		crop.Pix[i] = byte(i % 251)
	}

	uid := PersonUID(crop)
	assert.Equal(t, uid, PersonUID(crop))
	assert.True(t, strings.HasPrefix(uid, "person_"))
	assert.Len(t, strings.TrimPrefix(uid, "person_"), 16)
}

func TestPersonUIDSensitiveToSinglePixel(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 32, 32))
	b := image.NewRGBA(image.Rect(0, 0, 32, 32))
	b.SetRGBA(5, 5, color.RGBA{R: 1, A: 255})

	assert.NotEqual(t, PersonUID(a), PersonUID(b))
}

func TestAbsoluteBoxClamps(t *testing.T) {
	rect := AbsoluteBox(inference.Box{X: -0.1, Y: -0.1, W: 0.5, H: 0.5}, 100, 100)
	assert.Equal(t, 0, rect.Min.X)
	assert.Equal(t, 0, rect.Min.Y)

	rect = AbsoluteBox(inference.Box{X: 0.8, Y: 0.8, W: 0.5, H: 0.5}, 100, 100)
	assert.Equal(t, 100, rect.Max.X)
	assert.Equal(t, 100, rect.Max.Y)
}

func writeTestJPEG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: byte(x), G: byte(y), B: byte(x ^ y), A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, nil))
}

func TestExtractFacesSkipsUndersizedBoxes(t *testing.T) {
	dir := t.TempDir()
	framePath := filepath.Join(dir, "frame.jpg")
	writeTestJPEG(t, framePath, 100, 100)

	detector := &inference.MockFaceDetector{Boxes: []inference.Box{
		{X: 0.1, Y: 0.1, W: 0.1, H: 0.1},  // 10x10, below the minimum
		{X: 0.2, Y: 0.2, W: 0.4, H: 0.4},  // 40x40, kept
		{X: 0.95, Y: 0.95, W: 0.4, H: 0.4}, // clamps to 5x5, dropped
	}}
	embedder := &inference.MockVisualEmbedder{Dimension: 8}

	frame := core.SampledFrame{Timestamp: "00.00.05", ImagePath: framePath}
	persons, err := ExtractFaces(context.Background(), detector, embedder, frame,
		filepath.Join(dir, "faces"), "vid1", "an1")
	require.NoError(t, err)
	require.Len(t, persons, 1)

	p := persons[0]
	assert.Equal(t, "an1", p.AnalysisID)
	assert.Equal(t, "00.00.05", p.Timestamp)
	assert.True(t, strings.HasPrefix(p.PersonUID, "person_"))
	assert.True(t, strings.HasPrefix(p.ImageLink, "/faces/vid1/"))
	assert.Len(t, p.Embedding, 8)

	// The crop landed on disk under the advertised name.
	saved := filepath.Join(dir, "faces", strings.TrimPrefix(p.ImageLink, "/faces/vid1/"))
	_, statErr := os.Stat(saved)
	assert.NoError(t, statErr)
}

func TestExtractFacesNoDetections(t *testing.T) {
	dir := t.TempDir()
	framePath := filepath.Join(dir, "frame.jpg")
	writeTestJPEG(t, framePath, 50, 50)

	persons, err := ExtractFaces(context.Background(), &inference.MockFaceDetector{}, &inference.MockVisualEmbedder{Dimension: 8},
		core.SampledFrame{Timestamp: "00.00.00", ImagePath: framePath}, filepath.Join(dir, "faces"), "vid1", "an1")
	require.NoError(t, err)
	assert.Empty(t, persons)
}

func TestExtractFacesSameCropSameUID(t *testing.T) {
	dir := t.TempDir()
	framePath := filepath.Join(dir, "frame.jpg")
	writeTestJPEG(t, framePath, 100, 100)

	detector := &inference.MockFaceDetector{Boxes: []inference.Box{
		{X: 0.2, Y: 0.2, W: 0.4, H: 0.4},
	}}
	embedder := &inference.MockVisualEmbedder{Dimension: 8}
	frame := core.SampledFrame{Timestamp: "00.00.05", ImagePath: framePath}

	first, err := ExtractFaces(context.Background(), detector, embedder, frame, filepath.Join(dir, "a"), "vid1", "an1")
	require.NoError(t, err)
	second, err := ExtractFaces(context.Background(), detector, embedder, frame, filepath.Join(dir, "b"), "vid1", "an1")
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].PersonUID, second[0].PersonUID)
}
