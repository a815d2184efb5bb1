package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewCallID returns the identifier for one remote call.
func NewCallID() string {
	return CreateULID()
}

// NewInstanceID identifies one endpoint for logs and status output.
func NewInstanceID(role string) string {
	if role == "" {
		return CreateULID()
	}
	return role + "-" + CreateULID()
}

// CallTime extracts the creation time embedded in a call id.
func CallTime(callID string) (time.Time, bool) {
	id, err := ulid.Parse(callID)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}
