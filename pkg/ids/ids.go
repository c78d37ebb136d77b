// Package ids generates sortable identifiers for traces and sessions.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a ULID string stamped with the current time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID string stamped with t. IDs minted within the same
// millisecond are strictly increasing.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewTraceID returns an identifier for a single dispatched request.
func NewTraceID() string {
	return "trc_" + New()
}

// Time extracts the timestamp encoded in id. The optional prefix
// (everything up to and including the last '_') is ignored.
func Time(id string) (time.Time, bool) {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '_' {
			id = id[i+1:]
			break
		}
	}
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}
