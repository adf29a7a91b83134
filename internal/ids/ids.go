// Package ids issues the identifiers used across the directory: 26-character
// ULIDs, so every key sorts by creation time and works as a request id.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Len is the length of every identifier this package produces.
const Len = ulid.EncodedSize

var source = struct {
	sync.Mutex
	entropy *ulid.MonotonicEntropy
}{
	entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
}

// New returns a fresh identifier. Ids issued within the same millisecond
// still sort in issue order.
func New() string {
	source.Lock()
	defer source.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), source.entropy).String()
}
