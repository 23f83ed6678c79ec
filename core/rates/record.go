// Package rates provides effective-dated rate records and the resolver that
// picks the single record in force on a calculation date.
//
// A record applies to the half-open window [EffectiveFrom, EffectiveTo).
// For one subject no two windows may overlap; Table enforces this on insert
// and Snapshot reports any violation that slipped past a store as an AmbiguousError.
package rates

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"tree-estimator/core/determinism"
)

// Kind is the category of a rated subject
type Kind string

const (
	KindLabor      Kind = "labor"      // hourly rate per crew role
	KindEquipment  Kind = "equipment"  // hourly rate per equipment id
	KindVehicle    Kind = "vehicle"    // per-mile rate per vehicle type
	KindDriver     Kind = "driver"     // driver hourly rate per vehicle type
	KindMargin     Kind = "margin"     // overhead, safety buffer and profit percentages
	KindMultiplier Kind = "multiplier" // emergency and weekend labor factors
)

// Kinds lists every known kind in canonical order
var Kinds = []Kind{KindLabor, KindEquipment, KindVehicle, KindDriver, KindMargin, KindMultiplier}

// Margin names
const (
	MarginOverhead     = "overhead"
	MarginSafetyBuffer = "safety_buffer"
	MarginProfit       = "profit"
)

// ParseKind converts a string to a Kind
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown rate kind %q", s)
}

// Subject identifies what a rate prices
type Subject struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

// String returns "kind/name"
func (s Subject) String() string {
	return string(s.Kind) + "/" + s.Name
}

// Less orders subjects by kind then name
func (s Subject) Less(o Subject) bool {
	if s.Kind != o.Kind {
		return s.Kind < o.Kind
	}
	return s.Name < o.Name
}

// Validate checks the subject is well formed
func (s Subject) Validate() error {
	if _, err := ParseKind(string(s.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("rate subject of kind %s has a blank name", s.Kind)
	}
	return nil
}

// Labor is the subject for a crew role's hourly rate
func Labor(role string) Subject { return Subject{Kind: KindLabor, Name: role} }

// Equipment is the subject for an equipment item's hourly rate
func Equipment(id string) Subject { return Subject{Kind: KindEquipment, Name: id} }

// Vehicle is the subject for a vehicle type's per-mile rate
func Vehicle(vehicleType string) Subject { return Subject{Kind: KindVehicle, Name: vehicleType} }

// Driver is the subject for a vehicle type's driver hourly rate
func Driver(vehicleType string) Subject { return Subject{Kind: KindDriver, Name: vehicleType} }

// Margin is the subject for a margin percentage
func Margin(name string) Subject { return Subject{Kind: KindMargin, Name: name} }

// Multiplier is the subject for a labor multiplier factor
func Multiplier(name string) Subject { return Subject{Kind: KindMultiplier, Name: name} }

// Record is a single effective-dated rate. Records are values; nothing in the
// calculation path modifies one after it is loaded.
type Record struct {
	ID            string          `json:"id"`
	Subject       Subject         `json:"subject"`
	Amount        decimal.Decimal `json:"amount"`
	EffectiveFrom civil.Date      `json:"effective_from"`
	EffectiveTo   *civil.Date     `json:"effective_to,omitempty"` // nil = open ended
	Notes         string          `json:"notes,omitempty"`
}

var idGen = determinism.NewIDGenerator("rate")

// RecordID derives the deterministic id of a record from its subject and start date.
// Two records for one subject cannot share a start date without overlapping,
// so the id is unique within any valid table.
func RecordID(s Subject, from civil.Date) string {
	return string(idGen.Generate(string(s.Kind), s.Name, from.String()))
}

// NewRecord builds a record with its id filled in
func NewRecord(s Subject, amount decimal.Decimal, from civil.Date, to *civil.Date) Record {
	return Record{
		ID:            RecordID(s, from),
		Subject:       s,
		Amount:        amount,
		EffectiveFrom: from,
		EffectiveTo:   to,
	}
}

// Covers reports whether the record is in force on d
func (r Record) Covers(d civil.Date) bool {
	if d.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveTo == nil || d.Before(*r.EffectiveTo)
}

// Overlaps reports whether r and o are for the same subject and share at least one day
func (r Record) Overlaps(o Record) bool {
	if r.Subject != o.Subject {
		return false
	}
	// [a1, a2) and [b1, b2) overlap iff a1 < b2 and b1 < a2, nil meaning +inf
	if o.EffectiveTo != nil && !r.EffectiveFrom.Before(*o.EffectiveTo) {
		return false
	}
	if r.EffectiveTo != nil && !o.EffectiveFrom.Before(*r.EffectiveTo) {
		return false
	}
	return true
}

// Validate checks the record's own invariants
func (r Record) Validate() error {
	if err := r.Subject.Validate(); err != nil {
		return err
	}
	if !r.EffectiveFrom.IsValid() {
		return fmt.Errorf("rate %s: invalid effective_from %v", r.Subject, r.EffectiveFrom)
	}
	if r.EffectiveTo != nil {
		if !r.EffectiveTo.IsValid() {
			return fmt.Errorf("rate %s: invalid effective_to %v", r.Subject, *r.EffectiveTo)
		}
		if !r.EffectiveFrom.Before(*r.EffectiveTo) {
			return fmt.Errorf("rate %s: effective_to %s must be after effective_from %s",
				r.Subject, r.EffectiveTo, r.EffectiveFrom)
		}
	}
	if r.Amount.IsNegative() {
		return fmt.Errorf("rate %s: amount %s is negative", r.Subject, r.Amount)
	}
	return nil
}

// Window renders the record's window as "[from, to)"
func (r Record) Window() string {
	to := "open"
	if r.EffectiveTo != nil {
		to = r.EffectiveTo.String()
	}
	return "[" + r.EffectiveFrom.String() + ", " + to + ")"
}

// less orders records by subject then start date
func less(a, b Record) bool {
	if a.Subject != b.Subject {
		return a.Subject.Less(b.Subject)
	}
	return a.EffectiveFrom.Before(b.EffectiveFrom)
}
