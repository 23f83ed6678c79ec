// Package engine - Pipeline invariant tests
// These tests PROVE determinism and reproducibility against effective-dated rates.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"tree-estimator/core/cost"
	"tree-estimator/core/input"
	"tree-estimator/core/rates"
	ierrors "tree-estimator/internal/errors"
	"tree-estimator/internal/fixture"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) civil.Date {
	v, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newEngine(t *testing.T, records []rates.Record, opts ...Option) *Engine {
	t.Helper()
	return New(rates.NewSnapshot(records...), opts...)
}

func TestEndToEndExample(t *testing.T) {
	e := newEngine(t, fixture.Records())
	r, err := e.Calculate(fixture.Input())
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"travel", r.Travel.Total, "22.25"},
		{"labor", r.Labor.Total, "420.00"},
		{"equipment", r.Equipment.Total, "450.00"},
		{"direct_costs", r.DirectCosts, "1167.25"},
		{"overhead", r.Overhead, "291.81"},
		{"subtotal_with_overhead", r.SubtotalWithOverhead, "1459.06"},
		{"safety_buffer", r.SafetyBuffer, "145.91"},
		{"subtotal_with_buffer", r.SubtotalWithBuffer, "1604.97"},
		{"profit", r.Profit, "561.74"},
		{"pre_rounding_total", r.PreRoundingTotal, "2166.71"},
		{"final_total", r.FinalTotal, "2165.00"},
	}
	for _, c := range checks {
		if !c.got.Equal(d(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}

	if r.FormulaVersion != "1.0" {
		t.Errorf("formula version = %q", r.FormulaVersion)
	}
	if r.Input.VehicleType != "truck" {
		t.Errorf("default vehicle not applied: %q", r.Input.VehicleType)
	}
	if len(r.Checksum) != 64 {
		t.Errorf("checksum %q is not a sha256 hex digest", r.Checksum)
	}
	// 2 labor + 1 equipment + vehicle + driver + 3 margins
	if len(r.RatesApplied) != 8 {
		t.Errorf("expected 8 applied rates, got %d", len(r.RatesApplied))
	}
	for i := 1; i < len(r.RatesApplied); i++ {
		if r.RatesApplied[i].Subject.Less(r.RatesApplied[i-1].Subject) {
			t.Errorf("rates_applied not sorted at %d", i)
		}
	}
}

// TestDeterminism proves identical input yields identical output except id and timestamp
func TestDeterminism(t *testing.T) {
	e := newEngine(t, fixture.Records())

	a, err := e.Calculate(fixture.Input())
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Calculate(fixture.Input())
	if err != nil {
		t.Fatal(err)
	}

	if a.ID == b.ID {
		t.Error("two calculations share an id")
	}
	if a.Checksum != b.Checksum {
		t.Errorf("checksums differ: %s vs %s", a.Checksum, b.Checksum)
	}
	diffs, err := Diff(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 0 {
		t.Errorf("deterministic fields differ: %v", diffs)
	}
}

func TestEquipmentOrderAndDuplicatesIrrelevant(t *testing.T) {
	e := newEngine(t, fixture.Records())

	in1 := fixture.Input()
	in1.Equipment = []string{"stump_grinder", "chipper"}
	in2 := fixture.Input()
	in2.Equipment = []string{"chipper", "stump_grinder", "chipper"}

	a, err := e.Calculate(in1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Calculate(in2)
	if err != nil {
		t.Fatal(err)
	}
	if a.Checksum != b.Checksum {
		t.Error("equipment order or duplicates changed the result")
	}
	if !a.Equipment.Total.Equal(d("810")) {
		t.Errorf("equipment total = %s, want 810", a.Equipment.Total)
	}
}

func TestMultipliersApplied(t *testing.T) {
	tests := []struct {
		mode      cost.CombineMode // blank keeps the default
		emergency bool
		weekend   bool
		labor     string
	}{
		{"", true, false, "630.00"},
		{"", false, true, "525.00"},
		{"", true, true, "630.00"},
		{cost.CombineExclusive, true, true, "630.00"},
		{cost.CombineExclusive, false, true, "525.00"},
		{cost.CombineCompound, true, false, "630.00"},
		{cost.CombineCompound, true, true, "787.50"},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		if tt.mode != "" {
			cfg.Multipliers.Mode = tt.mode
		}
		e := newEngine(t, fixture.Records(), WithConfig(cfg))

		in := fixture.Input()
		in.Emergency = tt.emergency
		in.Weekend = tt.weekend
		r, err := e.Calculate(in)
		if err != nil {
			t.Fatalf("%q e=%v w=%v: %v", tt.mode, tt.emergency, tt.weekend, err)
		}
		if !r.Labor.Total.Equal(d(tt.labor)) {
			t.Errorf("%q e=%v w=%v: labor = %s, want %s", tt.mode, tt.emergency, tt.weekend, r.Labor.Total, tt.labor)
		}
	}
}

// TestExclusiveModeSkipsShadowedMultiplier covers a weekend emergency when the
// weekend rate is gone: it never applies, so it is never required.
func TestExclusiveModeSkipsShadowedMultiplier(t *testing.T) {
	var kept []rates.Record
	for _, r := range fixture.Records() {
		if r.Subject != rates.Multiplier("weekend") {
			kept = append(kept, r)
		}
	}
	e := newEngine(t, kept)

	in := fixture.Input()
	in.Emergency = true
	in.Weekend = true

	if _, err := e.Validate(in); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	r, err := e.Calculate(in)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !r.Labor.Factor.Equal(d("1.5")) || !r.Labor.Total.Equal(d("630")) {
		t.Errorf("labor factor = %s total = %s, want 1.5 and 630", r.Labor.Factor, r.Labor.Total)
	}
	for _, a := range r.RatesApplied {
		if a.Subject == rates.Multiplier("weekend") {
			t.Error("weekend rate listed as applied")
		}
	}
	for _, s := range e.Config().Subjects(in) {
		if s == rates.Multiplier("weekend") {
			t.Error("weekend rate prefetched although it cannot apply")
		}
	}

	// compound mode does need it
	cfg := DefaultConfig()
	cfg.Multipliers.Mode = cost.CombineCompound
	_, err = newEngine(t, kept, WithConfig(cfg)).Calculate(in)
	var nf *rates.NotFoundError
	if !errors.As(err, &nf) || nf.Subject != rates.Multiplier("weekend") {
		t.Fatalf("expected missing weekend multiplier in compound mode, got %v", err)
	}
}

func TestValidateReportsEveryMissingReference(t *testing.T) {
	records := fixture.Records()
	// drop groundsman and profit
	var kept []rates.Record
	for _, r := range records {
		if r.Subject == rates.Labor("groundsman") || r.Subject == rates.Margin(rates.MarginProfit) {
			continue
		}
		kept = append(kept, r)
	}
	e := newEngine(t, kept)

	in := fixture.Input()
	in.Equipment = []string{"chipper", "crane"}
	_, err := e.Validate(in)

	var verr *input.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got := map[string]bool{}
	for _, f := range verr.Fields {
		got[f.Field] = true
	}
	for _, want := range []string{"crew[1]", "equipment[1]", "margin.profit"} {
		if !got[want] {
			t.Errorf("missing field error %s in %v", want, verr.Fields)
		}
	}

	// fields point at the caller's position, not the sorted set
	in.Equipment = []string{"crane", "chipper", "crane"}
	_, err = e.Validate(in)
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	var equipmentFields []string
	for _, f := range verr.Fields {
		if strings.HasPrefix(f.Field, "equipment") {
			equipmentFields = append(equipmentFields, f.Field)
		}
	}
	if len(equipmentFields) != 1 || equipmentFields[0] != "equipment[0]" {
		t.Errorf("equipment fields = %v, want [equipment[0]]", equipmentFields)
	}

	var nf *rates.NotFoundError
	if !errors.As(err, &nf) {
		t.Error("NotFoundError not reachable through errors.As")
	}
	var ue *cost.UnknownEquipmentError
	if !errors.As(err, &ue) || ue.ID != "crane" {
		t.Errorf("UnknownEquipmentError not reachable: %v", ue)
	}
	if k := ierrors.KindOf(err); k != ierrors.TypeUnknownEquipment {
		t.Errorf("kind = %s, want %s", k, ierrors.TypeUnknownEquipment)
	}
}

func TestCalculateFailsOnRateErrors(t *testing.T) {
	t.Run("not found before history starts", func(t *testing.T) {
		e := newEngine(t, fixture.Records())
		in := fixture.Input()
		in.CalculationDate = day("2019-12-31")
		r, err := e.Calculate(in)
		if r != nil {
			t.Error("partial result returned")
		}
		var nf *rates.NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
		if ierrors.KindOf(err) != ierrors.TypeRateNotFound {
			t.Errorf("kind = %s", ierrors.KindOf(err))
		}
	})

	t.Run("ambiguous", func(t *testing.T) {
		records := append(fixture.Records(),
			rates.NewRecord(rates.Labor("climber"), d("50"), day("2024-01-01"), nil))
		e := newEngine(t, records)
		_, err := e.Calculate(fixture.Input())
		var amb *rates.AmbiguousError
		if !errors.As(err, &amb) {
			t.Fatalf("expected AmbiguousError, got %v", err)
		}
		if ierrors.KindOf(err) != ierrors.TypeAmbiguousRate {
			t.Errorf("kind = %s", ierrors.KindOf(err))
		}
	})

	t.Run("missing multiplier only when active", func(t *testing.T) {
		var kept []rates.Record
		for _, r := range fixture.Records() {
			if r.Subject.Kind != rates.KindMultiplier {
				kept = append(kept, r)
			}
		}
		e := newEngine(t, kept)
		if _, err := e.Calculate(fixture.Input()); err != nil {
			t.Fatalf("inactive multipliers should not be required: %v", err)
		}
		in := fixture.Input()
		in.Weekend = true
		_, err := e.Calculate(in)
		var nf *rates.NotFoundError
		if !errors.As(err, &nf) || nf.Subject != rates.Multiplier("weekend") {
			t.Fatalf("expected missing weekend multiplier, got %v", err)
		}
	})
}

func TestBoundaryRejection(t *testing.T) {
	e := newEngine(t, fixture.Records())
	mutations := map[string]func(*input.CalculationInput){
		"hours 16.01":  func(in *input.CalculationInput) { in.WorkHours = d("16.01") },
		"crew 0":       func(in *input.CalculationInput) { in.Crew = nil },
		"miles 500.01": func(in *input.CalculationInput) { in.TravelMiles = d("500.01") },
	}
	for name, mutate := range mutations {
		in := fixture.Input()
		mutate(&in)
		_, err := e.Calculate(in)
		var verr *input.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected ValidationError, got %v", name, err)
		}
	}
}

// TestHistoricalReproduction proves a rate change does not alter a past quote
func TestHistoricalReproduction(t *testing.T) {
	table, err := rates.NewTable(fixture.Records()...)
	if err != nil {
		t.Fatal(err)
	}
	before := New(table.Snapshot())
	original, err := before.Calculate(fixture.Input())
	if err != nil {
		t.Fatal(err)
	}

	// climber gets a raise after the quote was made
	if _, _, err := table.Supersede(rates.Labor("climber"), d("55.00"), day("2024-06-01")); err != nil {
		t.Fatal(err)
	}
	after := New(table.Snapshot())

	reproduced, err := after.Reproduce(original)
	if err != nil {
		t.Fatalf("Reproduce: %v", err)
	}
	if !reproduced.FinalTotal.Equal(original.FinalTotal) || reproduced.Checksum != original.Checksum {
		t.Errorf("reproduction drifted: %s vs %s", reproduced.FinalTotal, original.FinalTotal)
	}
	if reproduced.ID == original.ID {
		t.Error("reproduction reused the stored id")
	}

	// the same job quoted today uses the new rate
	in := fixture.Input()
	in.CalculationDate = day("2024-07-01")
	today, err := after.Calculate(in)
	if err != nil {
		t.Fatal(err)
	}
	if !today.Labor.Total.Equal(d("480")) {
		t.Errorf("labor after raise = %s, want 480", today.Labor.Total)
	}
}

func TestReproduceAfterJSONRoundTrip(t *testing.T) {
	e := newEngine(t, fixture.Records())
	in := fixture.Input()
	in.Emergency = true
	original, err := e.Calculate(in)
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}
	var stored Result
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatal(err)
	}
	if !stored.VerifyChecksum() {
		t.Fatal("checksum does not survive a JSON round trip")
	}
	if _, err := e.Reproduce(&stored); err != nil {
		t.Fatalf("Reproduce: %v", err)
	}
}

func TestReproduceDetectsMismatch(t *testing.T) {
	e := newEngine(t, fixture.Records())
	original, err := e.Calculate(fixture.Input())
	if err != nil {
		t.Fatal(err)
	}

	tampered := *original
	tampered.FinalTotal = d("9999.00")
	_, err = e.Reproduce(&tampered)
	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected MismatchError, got %v", err)
	}
	want := map[string]bool{"final_total": true, "checksum": true}
	if len(mm.Fields) != len(want) {
		t.Fatalf("fields = %v", mm.Fields)
	}
	for _, f := range mm.Fields {
		if !want[f] {
			t.Errorf("unexpected field %s", f)
		}
	}
	if ierrors.KindOf(err) != ierrors.TypeMismatch {
		t.Errorf("kind = %s", ierrors.KindOf(err))
	}

	// a rate table that was edited in place no longer reproduces
	edited := fixture.Records()
	edited[0] = rates.NewRecord(rates.Labor("climber"), d("46.00"), fixture.Epoch, nil)
	_, err = newEngine(t, edited).Reproduce(original)
	if !errors.As(err, &mm) {
		t.Fatalf("expected MismatchError after in-place edit, got %v", err)
	}
}

func TestInjectedClockAndIDs(t *testing.T) {
	at := time.Date(2024, 3, 15, 9, 30, 0, 0, time.FixedZone("EST", -5*3600))
	n := 0
	e := newEngine(t, fixture.Records(),
		WithClock(func() time.Time { return at }),
		WithIDSource(func() string { n++; return fmt.Sprintf("calc-%d", n) }),
	)
	r, err := e.Calculate(fixture.Input())
	if err != nil {
		t.Fatal(err)
	}
	if r.ID != "calc-1" {
		t.Errorf("id = %s", r.ID)
	}
	if !r.CalculatedAt.Equal(at) || r.CalculatedAt.Location() != time.UTC {
		t.Errorf("calculated_at = %v", r.CalculatedAt)
	}
}

func TestSubjects(t *testing.T) {
	in := fixture.Input()
	in.Crew = []string{"climber", "climber"}
	in.Weekend = true
	got := DefaultConfig().Subjects(in)

	want := rates.UniqueSubjects([]rates.Subject{
		rates.Labor("climber"), rates.Equipment("chipper"),
		rates.Vehicle("truck"), rates.Driver("truck"),
		rates.Margin(rates.MarginOverhead), rates.Margin(rates.MarginSafetyBuffer), rates.Margin(rates.MarginProfit),
		rates.Multiplier("weekend"),
	})
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("subject %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Multipliers.Order = []cost.MultiplierKind{cost.MultiplierEmergency}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when weekend is missing from the order")
	}
	cfg = DefaultConfig()
	cfg.FormulaVersion = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty formula version")
	}
}

func TestNewPanicsWithoutResolver(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil resolver")
		}
	}()
	New(nil)
}

func TestStageNames(t *testing.T) {
	if len(pipeline) != 8 {
		t.Fatalf("pipeline has %d stages", len(pipeline))
	}
	for i, s := range pipeline {
		if int(s.stage) != i {
			t.Errorf("stage %s out of order at %d", s.stage, i)
		}
	}
	if StageFinalTotal.String() != "final_total" || Stage(99).String() != "unknown" {
		t.Error("unexpected stage names")
	}
}

func TestConcurrentCalculations(t *testing.T) {
	e := newEngine(t, fixture.Records())
	want, err := e.Calculate(fixture.Input())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	ids := make([]string, 32)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := e.Calculate(fixture.Input())
			if err != nil {
				t.Error(err)
				return
			}
			if r.Checksum != want.Checksum {
				t.Errorf("checksum drifted under concurrency")
			}
			ids[i] = r.ID
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
