// Package iun allocates Unique Notification Identifiers.
//
// An IUN has the form YYYYMM-<uuid v4>, where the year-month prefix is
// taken from the UTC instant at generation time. Uniqueness is not assumed:
// candidates are confirmed by a conditional insert in the store and the
// allocator retries on conflict a bounded number of times.
package iun

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator produces IUN candidates.
type Generator struct {
	now   func() time.Time
	newID func() uuid.UUID
}

// NewGenerator returns a generator using the given clock and id source.
// Nil arguments fall back to time.Now and uuid.New.
func NewGenerator(now func() time.Time, newID func() uuid.UUID) *Generator {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.New
	}
	return &Generator{now: now, newID: newID}
}

// Next returns a fresh candidate.
func (g *Generator) Next() string {
	t := g.now().UTC()
	return fmt.Sprintf("%04d%02d-%s", t.Year(), int(t.Month()), g.newID().String())
}

// Valid reports whether s has the shape of an IUN.
func Valid(s string) bool {
	prefix, id, ok := strings.Cut(s, "-")
	if !ok || len(prefix) != 6 {
		return false
	}
	month, err := strconv.Atoi(prefix[4:])
	if err != nil || month < 1 || month > 12 {
		return false
	}
	if _, err := strconv.Atoi(prefix[:4]); err != nil {
		return false
	}
	_, err = uuid.Parse(id)
	return err == nil
}
