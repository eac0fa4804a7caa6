package orders

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const numberPrefix = "RX-"

// NumberGenerator returns a candidate order number for the given instant.
type NumberGenerator func(now time.Time) string

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// ULIDNumber is the production generator: "RX-" followed by a ULID whose
// time prefix sorts order numbers by creation.
func ULIDNumber(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return numberPrefix + ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
