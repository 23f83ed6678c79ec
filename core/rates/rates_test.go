// Package rates - Effective dating invariant tests
// These tests PROVE overlapping windows are rejected on write and surfaced on read.
package rates

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	ierrors "tree-estimator/internal/errors"
)

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func datep(s string) *civil.Date {
	d := date(s)
	return &d
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func climberHistory() []Record {
	return []Record{
		NewRecord(Labor("climber"), amount("40.00"), date("2023-01-01"), datep("2024-01-01")),
		NewRecord(Labor("climber"), amount("45.00"), date("2024-01-01"), nil),
	}
}

func TestResolveByDate(t *testing.T) {
	snap := NewSnapshot(climberHistory()...)

	tests := []struct {
		on   string
		want string
	}{
		{"2023-01-01", "40"},
		{"2023-12-31", "40"},
		{"2024-01-01", "45"}, // EffectiveTo is exclusive
		{"2031-06-15", "45"},
	}
	for _, tt := range tests {
		r, err := snap.Resolve(Labor("climber"), date(tt.on))
		if err != nil {
			t.Fatalf("Resolve on %s: %v", tt.on, err)
		}
		if !r.Amount.Equal(amount(tt.want)) {
			t.Errorf("on %s got %s, want %s", tt.on, r.Amount, tt.want)
		}
	}
}

func TestResolveNotFound(t *testing.T) {
	snap := NewSnapshot(climberHistory()...)

	_, err := snap.Resolve(Labor("climber"), date("2022-12-31"))
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError before first window, got %v", err)
	}
	if nf.Subject != Labor("climber") || nf.AsOf != date("2022-12-31") {
		t.Errorf("unexpected error detail: %+v", nf)
	}

	_, err = snap.Resolve(Labor("groundsman"), date("2024-03-15"))
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for unknown role, got %v", err)
	}
	if ierrors.KindOf(err) != ierrors.TypeRateNotFound {
		t.Errorf("kind = %s", ierrors.KindOf(err))
	}
}

// TestResolveAmbiguousNeverPicksLatest proves corrupt data is reported, not papered over
func TestResolveAmbiguousNeverPicksLatest(t *testing.T) {
	snap := NewSnapshot(
		NewRecord(Labor("climber"), amount("40.00"), date("2023-01-01"), nil),
		NewRecord(Labor("climber"), amount("45.00"), date("2024-01-01"), nil),
	)

	_, err := snap.Resolve(Labor("climber"), date("2024-03-15"))
	var amb *AmbiguousError
	if !errors.As(err, &amb) {
		t.Fatalf("expected AmbiguousError, got %v", err)
	}
	if len(amb.Matches) != 2 {
		t.Errorf("expected 2 matches, got %d", len(amb.Matches))
	}

	// before the second window opens only one record applies
	r, err := snap.Resolve(Labor("climber"), date("2023-06-01"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Amount.Equal(amount("40")) {
		t.Errorf("got %s", r.Amount)
	}
}

func TestTableRejectsOverlap(t *testing.T) {
	table, err := NewTable(climberHistory()...)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	overlapping := []Record{
		NewRecord(Labor("climber"), amount("50"), date("2023-06-01"), datep("2023-07-01")),
		NewRecord(Labor("climber"), amount("50"), date("2022-01-01"), nil),
		NewRecord(Labor("climber"), amount("50"), date("2025-01-01"), nil),
		NewRecord(Labor("climber"), amount("50"), date("2022-12-01"), datep("2023-01-02")),
	}
	for _, r := range overlapping {
		err := table.Insert(r)
		if !errors.Is(err, ErrOverlappingWindow) {
			t.Errorf("insert %s: expected ErrOverlappingWindow, got %v", r.Window(), err)
		}
		if ierrors.KindOf(err) != ierrors.TypeRateOverlap {
			t.Errorf("kind = %s", ierrors.KindOf(err))
		}
	}

	// touching windows are fine: [2022-01-01, 2023-01-01) ends where the next begins
	adjacent := NewRecord(Labor("climber"), amount("35"), date("2022-01-01"), datep("2023-01-01"))
	if err := table.Insert(adjacent); err != nil {
		t.Errorf("adjacent window rejected: %v", err)
	}

	// other subjects are independent
	if err := table.Insert(NewRecord(Labor("groundsman"), amount("25"), date("2023-06-01"), nil)); err != nil {
		t.Errorf("insert for another subject: %v", err)
	}

	if got := len(table.Records()); got != 4 {
		t.Errorf("expected 4 records, got %d", got)
	}
}

func TestRecordValidate(t *testing.T) {
	bad := []Record{
		NewRecord(Labor("climber"), amount("-1"), date("2024-01-01"), nil),
		NewRecord(Labor("climber"), amount("1"), date("2024-01-01"), datep("2024-01-01")),
		NewRecord(Labor("climber"), amount("1"), date("2024-01-01"), datep("2023-01-01")),
		NewRecord(Labor(" "), amount("1"), date("2024-01-01"), nil),
		NewRecord(Subject{Kind: "fuel", Name: "diesel"}, amount("1"), date("2024-01-01"), nil),
		NewRecord(Labor("climber"), amount("1"), civil.Date{}, nil),
	}
	for i, r := range bad {
		if err := r.Validate(); err == nil {
			t.Errorf("case %d: expected validation error for %+v", i, r)
		}
	}
}

func TestSupersedeClosesOpenWindow(t *testing.T) {
	table, err := NewTable(climberHistory()...)
	if err != nil {
		t.Fatal(err)
	}

	closed, next, err := table.Supersede(Labor("climber"), amount("48.00"), date("2025-03-01"))
	if err != nil {
		t.Fatalf("Supersede: %v", err)
	}
	if closed == nil || closed.EffectiveTo == nil || *closed.EffectiveTo != date("2025-03-01") {
		t.Fatalf("open window not closed: %+v", closed)
	}
	if next.EffectiveTo != nil || next.EffectiveFrom != date("2025-03-01") {
		t.Errorf("unexpected new record %+v", next)
	}

	snap := table.Snapshot()
	for on, want := range map[string]string{"2025-02-28": "45", "2025-03-01": "48", "2023-05-05": "40"} {
		r, err := snap.Resolve(Labor("climber"), date(on))
		if err != nil {
			t.Fatalf("Resolve %s: %v", on, err)
		}
		if !r.Amount.Equal(amount(want)) {
			t.Errorf("on %s got %s, want %s", on, r.Amount, want)
		}
	}

	// superseding on or before the open record's start makes no sense
	if _, _, err := table.Supersede(Labor("climber"), amount("50"), date("2025-03-01")); err == nil {
		t.Error("expected error superseding on the open record's start date")
	}
}

func TestSupersedeWithoutHistory(t *testing.T) {
	table := &Table{}
	closed, next, err := table.Supersede(Equipment("chipper"), amount("75"), date("2024-01-01"))
	if err != nil {
		t.Fatal(err)
	}
	if closed != nil {
		t.Errorf("nothing to close, got %+v", closed)
	}
	if !table.Snapshot().Has(Equipment("chipper")) {
		t.Errorf("record %s not inserted", next.ID)
	}
}

func TestSnapshotHashIsOrderIndependent(t *testing.T) {
	recs := climberHistory()
	a := NewSnapshot(recs[0], recs[1])
	b := NewSnapshot(recs[1], recs[0])
	if a.ContentHash != b.ContentHash || a.ID != b.ID {
		t.Error("insertion order changed the snapshot hash")
	}
	if !a.Verify() {
		t.Error("fresh snapshot failed verification")
	}

	c := NewSnapshot(recs[0], NewRecord(Labor("climber"), amount("45.01"), date("2024-01-01"), nil))
	if a.ContentHash == c.ContentHash {
		t.Error("different amounts produced the same hash")
	}

	// trailing zeros are not significant
	d := NewSnapshot(recs[0], NewRecord(Labor("climber"), amount("45"), date("2024-01-01"), nil))
	if a.ContentHash != d.ContentHash {
		t.Error("45.00 and 45 hashed differently")
	}
}

func TestSnapshotConcurrentResolve(t *testing.T) {
	snap := NewSnapshot(climberHistory()...)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := snap.Resolve(Labor("climber"), date("2024-03-15")); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestPrefetchFromTable(t *testing.T) {
	table, err := NewTable(append(climberHistory(),
		NewRecord(Equipment("chipper"), amount("75"), date("2024-01-01"), nil),
		NewRecord(Equipment("stump_grinder"), amount("60"), date("2024-01-01"), nil),
	)...)
	if err != nil {
		t.Fatal(err)
	}

	snap, err := Prefetch(context.Background(), table, []Subject{
		Labor("climber"), Equipment("chipper"), Labor("climber"),
	})
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if snap.Len() != 3 {
		t.Errorf("expected 3 records (two climber windows and chipper), got %d", snap.Len())
	}
	if snap.Has(Equipment("stump_grinder")) {
		t.Error("snapshot holds a subject nobody asked for")
	}
	if got := snap.History(Labor("climber")); len(got) != 2 || !got[0].EffectiveFrom.Before(got[1].EffectiveFrom) {
		t.Errorf("history not ordered: %+v", got)
	}
}

type failingSource struct{}

func (failingSource) Load(context.Context, []Subject) ([]Record, error) {
	return nil, errors.New("connection refused")
}

func TestPrefetchPropagatesSourceErrors(t *testing.T) {
	if _, err := Prefetch(context.Background(), failingSource{}, []Subject{Labor("climber")}); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%s) = %s, %v", k, got, err)
		}
	}
	if _, err := ParseKind("fuel"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
