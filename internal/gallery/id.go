package gallery

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts the current time so item timestamps are testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// IDSource mints gallery item IDs of the form "<unix-ms>-<ordinal>-<rand>".
// The ordinal distinguishes items of one batch created in the same
// millisecond; the random suffix distinguishes batches and single items.
type IDSource struct {
	Clock Clock
}

// NewIDSource returns an IDSource on the given clock, or the wall clock if nil.
func NewIDSource(clock Clock) *IDSource {
	if clock == nil {
		clock = SystemClock{}
	}
	return &IDSource{Clock: clock}
}

// Next returns a new ID and the timestamp (unix ms) it was derived from.
func (s *IDSource) Next(ordinal int) (string, int64) {
	ts := s.Clock.Now().UnixMilli()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strconv.FormatInt(ts, 10) + "-" + strconv.Itoa(ordinal) + "-" + suffix, ts
}
