package id

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs are lexicographically sortable
// by creation time.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Prefixed returns a ULID with a short type prefix, e.g. "loc_01J...".
func Prefixed(prefix string) string {
	return prefix + "_" + New()
}
