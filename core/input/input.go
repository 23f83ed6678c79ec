// Package input - Normalized calculation input
// Every caller (CLI, HTTP, reproduction) builds a CalculationInput;
// the engine consumes nothing else.
package input

import (
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"tree-estimator/core/determinism"
)

// CalculationInput is the job description a quote is computed from
type CalculationInput struct {
	TravelMiles     decimal.Decimal `json:"travel_miles"`
	TravelMinutes   int             `json:"travel_minutes"`
	Crew            []string        `json:"crew"`      // ordered role names, one per member
	WorkHours       decimal.Decimal `json:"work_hours"`
	Equipment       []string        `json:"equipment"` // a set; order and duplicates are irrelevant
	DisposalFee     decimal.Decimal `json:"disposal_fee"`
	PermitFee       decimal.Decimal `json:"permit_fee"`
	Emergency       bool            `json:"emergency"`
	Weekend         bool            `json:"weekend"`
	CalculationDate civil.Date      `json:"calculation_date"`
	VehicleType     string          `json:"vehicle_type,omitempty"`
}

// Normalize returns a copy with identifiers trimmed and the equipment set
// sorted and de-duplicated. Crew order is preserved.
func Normalize(in CalculationInput) CalculationInput {
	out := in

	out.Crew = make([]string, len(in.Crew))
	for i, role := range in.Crew {
		out.Crew[i] = strings.TrimSpace(role)
	}

	equipment := make([]string, len(in.Equipment))
	for i, id := range in.Equipment {
		equipment[i] = strings.TrimSpace(id)
	}
	out.Equipment = determinism.UniqueSorted(equipment)
	if out.Equipment == nil {
		out.Equipment = []string{}
	}

	out.VehicleType = strings.TrimSpace(in.VehicleType)
	return out
}

// WithDefaults fills an empty vehicle type
func (in CalculationInput) WithDefaults(defaultVehicle string) CalculationInput {
	if in.VehicleType == "" {
		in.VehicleType = defaultVehicle
	}
	return in
}
