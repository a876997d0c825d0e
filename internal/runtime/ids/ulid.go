// Package ids generates the correlation identifiers used on the wire.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var defaultSource = NewSource()

// Source hands out strictly increasing ULIDs. A service instance owns one so
// its correlation ids are never repeated within its lifetime.
type Source struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewSource returns a Source backed by monotonic crypto/rand entropy.
func NewSource() *Source {
	return &Source{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// Next returns the next ULID as a 26-character string.
func (s *Source) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// CreateULID returns a ULID from the process-wide source.
func CreateULID() string {
	return defaultSource.Next()
}
