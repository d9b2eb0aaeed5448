package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameRate(t *testing.T) {
	fps, err := parseFrameRate("30000/1001")
	require.NoError(t, err)
	assert.InDelta(t, 29.97, fps, 0.01)

	fps, err = parseFrameRate("25")
	require.NoError(t, err)
	assert.Equal(t, 25.0, fps)

	fps, err = parseFrameRate("24/1")
	require.NoError(t, err)
	assert.Equal(t, 24.0, fps)
}

func TestParseFrameRateRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "abc", "30/0", "30/x"} {
		_, err := parseFrameRate(raw)
		assert.Error(t, err, "input %q", raw)
	}
}

func TestSampleStepRoundsToNearestFrame(t *testing.T) {
	// 29.97 fps over 5s is 149.85 source frames; nearest wins.
	assert.Equal(t, 150, sampleStep(30000.0/1001.0, 5))
	assert.Equal(t, 150, sampleStep(30, 5))
	assert.Equal(t, 125, sampleStep(25, 5))
	// Never below one frame, even for tiny rates.
	assert.Equal(t, 1, sampleStep(0.05, 1))
}

func TestFrameFilename(t *testing.T) {
	assert.Equal(t, "frame_0_00_00_00.jpg", FrameFilename(0, "00.00.00"))
	assert.Equal(t, "frame_7_00_01_15.jpg", FrameFilename(7, "00.01.15"))
}
