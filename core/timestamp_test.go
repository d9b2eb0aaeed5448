package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecondsToTimestamp(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "00.00.00"},
		{59, "00.00.59"},
		{60, "00.01.00"},
		{3725, "01.02.05"},
		{3725.9, "01.02.05"},
		{-5, "00.00.00"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SecondsToTimestamp(tc.seconds), "seconds=%v", tc.seconds)
	}
}

func TestTimestampToSeconds(t *testing.T) {
	got, err := TimestampToSeconds("01.02.05")
	require.NoError(t, err)
	assert.Equal(t, 3725.0, got)

	got, err = TimestampToSeconds("00.00.00")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestTimestampToSecondsRejectsMalformed(t *testing.T) {
	for _, ts := range []string{"", "01:02:05", "01.02", "aa.bb.cc", "1.2.3.4"} {
		_, err := TimestampToSeconds(ts)
		assert.Error(t, err, "timestamp %q", ts)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	for _, seconds := range []float64{0, 1, 61, 3599, 3600, 7325} {
		ts := SecondsToTimestamp(seconds)
		back, err := TimestampToSeconds(ts)
		require.NoError(t, err)
		assert.Equal(t, seconds, back)
	}
}

func TestBestTextPrefersRefined(t *testing.T) {
	seg := TranscriptSegment{Text: "raw", RefinedText: "refined"}
	assert.Equal(t, "refined", seg.BestText())

	seg.RefinedText = ""
	assert.Equal(t, "raw", seg.BestText())
}
