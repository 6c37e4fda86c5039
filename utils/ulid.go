package utils

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyLock sync.Mutex
	entropy     = ulid.Monotonic(rand.Reader, 0)
)

// GenerateULID returns a ULID stamped with the current time. IDs generated in
// the same millisecond sort in generation order.
func GenerateULID() ulid.ULID {
	return GenerateULIDWithTime(time.Now())
}

func GenerateULIDString() string {
	return GenerateULID().String()
}

// GenerateULIDWithTime returns a ULID whose timestamp component is t
func GenerateULIDWithTime(t time.Time) ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy)
}

// ULIDTime extracts the embedded timestamp of a ULID string
func ULIDTime(s string) (time.Time, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}
