package session

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newRecordID returns a ULID for a session record row.
// Record ids sort by creation time, which keeps per-user history scans cheap.
func newRecordID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
