package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"tree-estimator/core/cost"
	"tree-estimator/core/engine"
	"tree-estimator/core/input"
)

func sample() *engine.Result {
	d := decimal.RequireFromString
	return &engine.Result{
		ID:             "7f0c",
		FormulaVersion: "1.0",
		Input: input.CalculationInput{
			CalculationDate: civil.Date{Year: 2024, Month: 3, Day: 15},
			VehicleType:     "truck",
		},
		Travel: cost.TravelBreakdown{Miles: d("15"), Minutes: 30, PerMileRate: d("0.65"),
			DriverHourlyRate: d("25"), MileageCost: d("9.75"), TimeCost: d("12.5"), Total: d("22.25")},
		Labor: cost.LaborBreakdown{Hours: d("6"), Total: d("420"),
			Crew: []cost.CrewLine{{Role: "climber", HourlyRate: d("45"), Cost: d("270")}}},
		Equipment: cost.EquipmentBreakdown{Hours: d("6"), Total: d("450"),
			Items: []cost.EquipmentLine{{ID: "chipper", HourlyRate: d("75"), Cost: d("450")}}},
		DirectCosts:     d("1167.25"),
		OverheadPercent: d("25"),
		Overhead:        d("291.81"),
		FinalTotal:      d("2165"),
		Checksum:        "abc123",
	}
}

func TestTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := New(FormatText).Render(&buf, sample()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Calculation 7f0c", "2024-03-15", "chipper", "Overhead (25%)", "291.81", "TOTAL", "2165.00", "checksum abc123"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := New(FormatJSON)
	if f.Format() != FormatJSON {
		t.Fatalf("format = %s", f.Format())
	}
	if err := f.Render(&buf, sample()); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["final_total"] != "2165" {
		t.Errorf("final_total = %v (money must encode as a string)", decoded["final_total"])
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, "JSON": FormatJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("html"); err == nil {
		t.Error("expected error")
	}
}
