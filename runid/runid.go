// Package runid makes the identifiers that key a psbox run.
//
// A run id is a ULID, so it sorts by creation time and carries the
// timestamp the run was started at.
package runid

import (
	"fmt"
	"time"

	oklid "github.com/oklog/ulid/v2"
	"go.ntppool.org/common/ulid"
)

// New returns a run id for a run started at t.
func New(t time.Time) (oklid.ULID, error) {
	id, err := ulid.MakeULID(t)
	if err != nil {
		return oklid.ULID{}, err
	}
	return *id, nil
}

// Parse reads a run id as written by ULID.String.
func Parse(s string) (oklid.ULID, error) {
	id, err := oklid.ParseStrict(s)
	if err != nil {
		return oklid.ULID{}, fmt.Errorf("run id %q: %w", s, err)
	}
	return id, nil
}

// Started returns the time encoded in a run id.
func Started(id oklid.ULID) time.Time {
	return oklid.Time(id.Time())
}
