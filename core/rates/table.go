package rates

import (
	"context"
	"sort"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	ierrors "tree-estimator/internal/errors"
)

// Table is an in-memory, write-checked rate table.
// Every write goes through the overlap check, so a Table never holds
// two records for one subject that share a day.
type Table struct {
	mu      sync.RWMutex
	records []Record
}

// NewTable creates a table, inserting records in order
func NewTable(records ...Record) (*Table, error) {
	t := &Table{}
	for _, r := range records {
		if err := t.Insert(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Insert adds a record. It fails with an *OverlapError (errors.Is ErrOverlappingWindow)
// when the window overlaps an existing record of the same subject.
func (t *Table) Insert(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = RecordID(r.Subject, r.EffectiveFrom)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := CheckOverlap(t.records, r); err != nil {
		return err
	}
	t.records = append(t.records, r)
	return nil
}

// Supersede ends the open-ended record of s on from and inserts amount from that day on.
// It returns the closed record (if any) and the new one.
func (t *Table) Supersede(s Subject, amount decimal.Decimal, from civil.Date) (*Record, Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	closed, next, err := PlanSupersede(t.records, s, amount, from)
	if err != nil {
		return nil, Record{}, err
	}
	if closed != nil {
		for i := range t.records {
			if t.records[i].ID == closed.ID {
				t.records[i] = *closed
			}
		}
	}
	t.records = append(t.records, next)
	return closed, next, nil
}

// PlanSupersede computes the outcome of superseding s on from without applying it.
// existing may contain records for other subjects.
func PlanSupersede(existing []Record, s Subject, amount decimal.Decimal, from civil.Date) (*Record, Record, error) {
	next := NewRecord(s, amount, from, nil)
	if err := next.Validate(); err != nil {
		return nil, Record{}, err
	}

	var closed *Record
	others := make([]Record, 0, len(existing))
	for _, r := range existing {
		if r.Subject == s && r.EffectiveTo == nil && r.EffectiveFrom.Before(from) {
			c := r
			to := from
			c.EffectiveTo = &to
			closed = &c
			others = append(others, c)
			continue
		}
		if r.Subject == s && r.EffectiveTo == nil {
			return nil, Record{}, ierrors.Newf(ierrors.TypeConflict,
				"cannot supersede %s on %s: open record starts %s", s, from, r.EffectiveFrom)
		}
		others = append(others, r)
	}
	if err := CheckOverlap(others, next); err != nil {
		return nil, Record{}, err
	}
	return closed, next, nil
}

// Records returns all records sorted by subject then start date
func (t *Table) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, len(t.records))
	copy(out, t.records)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Snapshot seals the current contents
func (t *Table) Snapshot() *Snapshot {
	return NewSnapshot(t.Records()...)
}

// Load implements Source
func (t *Table) Load(_ context.Context, subjects []Subject) ([]Record, error) {
	want := make(map[Subject]bool, len(subjects))
	for _, s := range subjects {
		want[s] = true
	}
	var out []Record
	for _, r := range t.Records() {
		if want[r.Subject] {
			out = append(out, r)
		}
	}
	return out, nil
}
