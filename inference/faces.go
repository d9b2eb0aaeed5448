package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Box is a face detection in relative coordinates, each component in
// [0,1] of the image dimensions.
type Box struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"`
}

// FaceDetector finds face regions in a frame image.
type FaceDetector interface {
	Detect(ctx context.Context, imagePath string) ([]Box, error)
}

const faceDetectScript = `#!/usr/bin/env python3
import json
import sys

import cv2
import mediapipe as mp

def main(path):
    image = cv2.imread(path)
    if image is None:
        print("[]")
        return
    rgb = cv2.cvtColor(image, cv2.COLOR_BGR2RGB)
    detector = mp.solutions.face_detection.FaceDetection(
        model_selection=0, min_detection_confidence=0.5
    )
    boxes = []
    results = detector.process(rgb)
    if results.detections:
        for det in results.detections:
            rel = det.location_data.relative_bounding_box
            boxes.append({
                "x": rel.xmin,
                "y": rel.ymin,
                "w": rel.width,
                "h": rel.height,
                "confidence": det.score[0] if det.score else 0.0,
            })
    print(json.dumps(boxes))

if __name__ == "__main__":
    if len(sys.argv) != 2:
        print("usage: face_detect.py <image>", file=sys.stderr)
        sys.exit(1)
    main(sys.argv[1])
`

type scriptFaceDetector struct {
	python string
}

func newScriptFaceDetector(python string) *scriptFaceDetector {
	return &scriptFaceDetector{python: python}
}

func (s *scriptFaceDetector) Detect(ctx context.Context, imagePath string) ([]Box, error) {
	scriptPath := filepath.Join(os.TempDir(), "face_detect.py")
	if err := os.WriteFile(scriptPath, []byte(faceDetectScript), 0644); err != nil {
		return nil, fmt.Errorf("write detect script: %w", err)
	}

	out, err := exec.CommandContext(ctx, s.python, scriptPath, imagePath).Output()
	if err != nil {
		return nil, fmt.Errorf("face detect failed: %w", err)
	}
	var boxes []Box
	if err := json.Unmarshal(out, &boxes); err != nil {
		return nil, fmt.Errorf("parse detect output: %w", err)
	}
	return boxes, nil
}

type MockFaceDetector struct {
	Boxes []Box
	Err   error
}

func (m *MockFaceDetector) Detect(_ context.Context, _ string) ([]Box, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Boxes, nil
}
