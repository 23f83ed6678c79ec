package rates

import (
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"

	ierrors "tree-estimator/internal/errors"
)

// ErrOverlappingWindow is returned when a record's window would overlap
// another record of the same subject.
var ErrOverlappingWindow = errors.New("overlapping effective window")

// NotFoundError means no record for Subject is in force on AsOf
type NotFoundError struct {
	Subject Subject
	AsOf    civil.Date
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s rate for %q effective on %s", e.Subject.Kind, e.Subject.Name, e.AsOf)
}

// Kind implements errors.Kinded
func (e *NotFoundError) Kind() ierrors.Type { return ierrors.TypeRateNotFound }

// AmbiguousError means more than one record for Subject is in force on AsOf.
// This is a data integrity failure; the resolver never picks one.
type AmbiguousError struct {
	Subject Subject
	AsOf    civil.Date
	Matches []Record
}

func (e *AmbiguousError) Error() string {
	windows := make([]string, len(e.Matches))
	for i, m := range e.Matches {
		windows[i] = m.Window()
	}
	return fmt.Sprintf("%d %s rates for %q effective on %s: %s",
		len(e.Matches), e.Subject.Kind, e.Subject.Name, e.AsOf, strings.Join(windows, ", "))
}

// Kind implements errors.Kinded
func (e *AmbiguousError) Kind() ierrors.Type { return ierrors.TypeAmbiguousRate }

// OverlapError describes a rejected insert
type OverlapError struct {
	Record   Record
	Existing Record
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s: %s %s conflicts with %s",
		ErrOverlappingWindow, e.Record.Subject, e.Record.Window(), e.Existing.Window())
}

// Is makes errors.Is(err, ErrOverlappingWindow) hold
func (e *OverlapError) Is(target error) bool {
	return target == ErrOverlappingWindow
}

// Kind implements errors.Kinded
func (e *OverlapError) Kind() ierrors.Type { return ierrors.TypeRateOverlap }

// CheckOverlap returns an *OverlapError if r overlaps any record in existing
func CheckOverlap(existing []Record, r Record) error {
	for _, e := range existing {
		if r.Overlaps(e) {
			return &OverlapError{Record: r, Existing: e}
		}
	}
	return nil
}
