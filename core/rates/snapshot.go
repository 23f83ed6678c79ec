package rates

import (
	"encoding/hex"
	"sort"

	"cloud.google.com/go/civil"

	"tree-estimator/core/determinism"
)

// Resolver answers "which rate is in force for this subject on this date".
// Implementations must be read-only and safe for concurrent use.
type Resolver interface {
	// Resolve returns the single record covering asOf, a *NotFoundError when
	// none does, or an *AmbiguousError when more than one does.
	Resolve(s Subject, asOf civil.Date) (Record, error)

	// Has reports whether any record for s exists, regardless of date
	Has(s Subject) bool
}

// SnapshotID identifies a snapshot by its content
type SnapshotID string

// Snapshot is IMMUTABLE after creation.
// It is a sorted, content-hashed set of rate records and the engine's only view of rate state.
type Snapshot struct {
	ID          SnapshotID
	ContentHash determinism.ContentHash

	records []Record
	index   map[Subject][]int
}

// SnapshotBuilder collects records for a snapshot
type SnapshotBuilder struct {
	records []Record
}

// NewSnapshotBuilder creates a new builder
func NewSnapshotBuilder() *SnapshotBuilder {
	return &SnapshotBuilder{}
}

// Add adds records to the snapshot
func (b *SnapshotBuilder) Add(records ...Record) *SnapshotBuilder {
	b.records = append(b.records, records...)
	return b
}

// Build creates an immutable snapshot.
// Overlapping records are kept as given; Resolve reports them.
func (b *SnapshotBuilder) Build() *Snapshot {
	records := make([]Record, len(b.records))
	copy(records, b.records)
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = RecordID(records[i].Subject, records[i].EffectiveFrom)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return less(records[i], records[j])
	})

	index := make(map[Subject][]int)
	for i, r := range records {
		index[r.Subject] = append(index[r.Subject], i)
	}

	snap := &Snapshot{
		records: records,
		index:   index,
	}
	snap.ContentHash = snap.computeHash()
	snap.ID = SnapshotID(hex.EncodeToString(snap.ContentHash[:8]))
	return snap
}

// NewSnapshot is shorthand for NewSnapshotBuilder().Add(records...).Build()
func NewSnapshot(records ...Record) *Snapshot {
	return NewSnapshotBuilder().Add(records...).Build()
}

// computeHash hashes every record's subject, amount and window in sorted order
func (s *Snapshot) computeHash() determinism.ContentHash {
	h := determinism.NewHasher()
	for _, r := range s.records {
		to := ""
		if r.EffectiveTo != nil {
			to = r.EffectiveTo.String()
		}
		h.Field(r.Subject.String()).Field(r.Amount.String()).Field(r.EffectiveFrom.String()).Field(to)
	}
	return h.Sum()
}

// Resolve implements Resolver
func (s *Snapshot) Resolve(subject Subject, asOf civil.Date) (Record, error) {
	var matches []Record
	for _, i := range s.index[subject] {
		if s.records[i].Covers(asOf) {
			matches = append(matches, s.records[i])
		}
	}
	switch len(matches) {
	case 0:
		return Record{}, &NotFoundError{Subject: subject, AsOf: asOf}
	case 1:
		return matches[0], nil
	default:
		return Record{}, &AmbiguousError{Subject: subject, AsOf: asOf, Matches: matches}
	}
}

// Has implements Resolver
func (s *Snapshot) Has(subject Subject) bool {
	return len(s.index[subject]) > 0
}

// Records returns all records in sorted order
func (s *Snapshot) Records() []Record {
	result := make([]Record, len(s.records))
	copy(result, s.records)
	return result
}

// History returns every record for one subject, oldest first
func (s *Snapshot) History(subject Subject) []Record {
	idx := s.index[subject]
	result := make([]Record, 0, len(idx))
	for _, i := range idx {
		result = append(result, s.records[i])
	}
	return result
}

// Len returns the number of records
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Verify checks content hash integrity
func (s *Snapshot) Verify() bool {
	return s.computeHash() == s.ContentHash
}
