package rates

import (
	"context"
	"fmt"
	"sort"
)

// Source loads every record, across all windows, for the given subjects.
// Stores and caches implement it; the engine never calls it directly.
type Source interface {
	Load(ctx context.Context, subjects []Subject) ([]Record, error)
}

// Prefetch loads the subjects a calculation needs and seals them in a snapshot.
// All I/O happens here, before the pipeline runs.
func Prefetch(ctx context.Context, src Source, subjects []Subject) (*Snapshot, error) {
	records, err := src.Load(ctx, UniqueSubjects(subjects))
	if err != nil {
		return nil, fmt.Errorf("prefetch rates: %w", err)
	}
	return NewSnapshot(records...), nil
}

// UniqueSubjects returns subjects sorted with duplicates removed
func UniqueSubjects(subjects []Subject) []Subject {
	seen := make(map[Subject]bool, len(subjects))
	out := make([]Subject, 0, len(subjects))
	for _, s := range subjects {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
