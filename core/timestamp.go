package core

import (
	"fmt"
	"strconv"
	"strings"
)

// SecondsToTimestamp formats elapsed seconds as HH.MM.SS with '.' as the
// separator. The dotted form (not the conventional ':') is what the
// metadata store holds and what the caption matcher parses back, so both
// directions must agree exactly.
func SecondsToTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d.%02d.%02d", h, m, s)
}

// TimestampToSeconds parses the HH.MM.SS encoding back into seconds.
func TimestampToSeconds(ts string) (float64, error) {
	parts := strings.Split(ts, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q: want HH.MM.SS", ts)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hours in %q", ts)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minutes in %q", ts)
	}
	s, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, fmt.Errorf("invalid seconds in %q", ts)
	}
	return float64(h*3600 + m*60 + s), nil
}
