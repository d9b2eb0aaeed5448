package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewVideoID returns the short id used to prefix stored filenames, frame
// directories and asset links. Eight hex characters, matching the naming
// convention of existing project folders.
func NewVideoID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
