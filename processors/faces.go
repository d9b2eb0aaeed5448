package processors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"

	"videoindex/core"
	"videoindex/inference"
)

// minFaceSide is the smallest usable face crop; anything under 20px on
// either side carries too little signal to hash or embed.
const minFaceSide = 20

// AbsoluteBox converts a relative detection box into clamped pixel
// coordinates for an image of the given size.
func AbsoluteBox(box inference.Box, width, height int) image.Rectangle {
	x := int(box.X * float64(width))
	y := int(box.Y * float64(height))
	w := int(box.W * float64(width))
	h := int(box.H * float64(height))

	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x+w > width {
		w = width - x
	}
	if y+h > height {
		h = height - y
	}
	return image.Rect(x, y, x+w, y+h)
}

// PersonUID derives the deduplication id from the exact crop pixels.
// Re-runs over the same frame yield the same uid; two different frames
// only share a uid when their crops are pixel-identical.
func PersonUID(crop *image.RGBA) string {
	sum := sha256.Sum256(crop.Pix)
	return "person_" + hex.EncodeToString(sum[:])[:16]
}

func cropRGBA(src image.Image, rect image.Rectangle) *image.RGBA {
	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(crop, crop.Bounds(), src, rect.Min, draw.Src)
	return crop
}

// ExtractFaces detects faces in a sampled frame, crops each detection to
// disk under facesDir and returns person rows. Detection failure is an
// error; an undersized or degenerate box is silently skipped.
func ExtractFaces(ctx context.Context, detector inference.FaceDetector, embedder inference.VisualEmbedder,
	frame core.SampledFrame, facesDir, videoID, analysisID string) ([]core.PersonRecord, error) {

	boxes, err := detector.Detect(ctx, frame.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("detect faces in %s: %w", frame.ImagePath, err)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	f, err := os.Open(frame.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", frame.ImagePath, err)
	}
	src, err := jpeg.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", frame.ImagePath, err)
	}

	bounds := src.Bounds()
	if err := os.MkdirAll(facesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create faces dir: %w", err)
	}

	var persons []core.PersonRecord
	for i, box := range boxes {
		rect := AbsoluteBox(box, bounds.Dx(), bounds.Dy())
		if rect.Dx() < minFaceSide || rect.Dy() < minFaceSide {
			continue
		}

		crop := cropRGBA(src, rect.Add(bounds.Min))
		uid := PersonUID(crop)

		name := fmt.Sprintf("%s_%d.jpg", uid, i)
		path := filepath.Join(facesDir, name)
		if err := saveJPEG(path, crop); err != nil {
			return nil, fmt.Errorf("save face crop: %w", err)
		}

		embedding, err := embedder.EmbedImage(ctx, path)
		if err != nil {
			// Keep the row; the crop and uid are still useful without
			// a vector.
			embedding = nil
		}

		persons = append(persons, core.PersonRecord{
			AnalysisID: analysisID,
			Timestamp:  frame.Timestamp,
			ImageLink:  "/faces/" + videoID + "/" + name,
			PersonUID:  uid,
			Embedding:  embedding,
		})
	}
	return persons, nil
}

func saveJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}
