package input

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	ierrors "tree-estimator/internal/errors"
)

// Limits bounds a CalculationInput
type Limits struct {
	MaxTravelMiles   decimal.Decimal `json:"max_travel_miles"`
	MaxTravelMinutes int             `json:"max_travel_minutes"`
	MinWorkHours     decimal.Decimal `json:"min_work_hours"`
	MaxWorkHours     decimal.Decimal `json:"max_work_hours"`
	MinCrew          int             `json:"min_crew"`
	MaxCrew          int             `json:"max_crew"`
	MaxEquipment     int             `json:"max_equipment"`
}

// DefaultLimits returns the standard bounds
func DefaultLimits() Limits {
	return Limits{
		MaxTravelMiles:   decimal.NewFromInt(500),
		MaxTravelMinutes: 600,
		MinWorkHours:     decimal.RequireFromString("0.5"),
		MaxWorkHours:     decimal.NewFromInt(16),
		MinCrew:          1,
		MaxCrew:          10,
		MaxEquipment:     20,
	}
}

// Validate checks the limits are coherent
func (l Limits) Validate() error {
	switch {
	case l.MaxTravelMiles.IsNegative():
		return fmt.Errorf("max_travel_miles must not be negative")
	case l.MaxTravelMinutes < 0:
		return fmt.Errorf("max_travel_minutes must not be negative")
	case !l.MinWorkHours.IsPositive():
		return fmt.Errorf("min_work_hours must be positive")
	case l.MaxWorkHours.LessThan(l.MinWorkHours):
		return fmt.Errorf("max_work_hours must be at least min_work_hours")
	case l.MinCrew < 1:
		return fmt.Errorf("min_crew must be at least 1")
	case l.MaxCrew < l.MinCrew:
		return fmt.Errorf("max_crew must be at least min_crew")
	case l.MaxEquipment < 0:
		return fmt.Errorf("max_equipment must not be negative")
	}
	return nil
}

// FieldError is one rejected field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Unwrap returns the underlying cause, if any
func (e FieldError) Unwrap() error {
	return e.Cause
}

// ValidationError collects every problem found in an input
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid calculation input: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the field causes so errors.As can reach resolver errors
func (e *ValidationError) Unwrap() []error {
	var causes []error
	for _, f := range e.Fields {
		if f.Cause != nil {
			causes = append(causes, f.Cause)
		}
	}
	return causes
}

// Kind implements errors.Kinded
func (e *ValidationError) Kind() ierrors.Type { return ierrors.TypeValidation }

// Add records a field error
func (e *ValidationError) Add(field, message string, cause error) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message, Cause: cause})
}

// Addf records a formatted field error
func (e *ValidationError) Addf(field, format string, args ...any) {
	e.Add(field, fmt.Sprintf(format, args...), nil)
}

// Err returns e if it holds any field errors, nil otherwise
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Validate checks in against limits and reports every violation at once.
// Equipment is counted as a set.
func Validate(in CalculationInput, limits Limits) error {
	verr := &ValidationError{}
	Check(in, limits, verr)
	return verr.Err()
}

// Check appends bound violations to verr
func Check(in CalculationInput, limits Limits, verr *ValidationError) {
	if in.TravelMiles.IsNegative() {
		verr.Addf("travel_miles", "must not be negative, got %s", in.TravelMiles)
	} else if in.TravelMiles.GreaterThan(limits.MaxTravelMiles) {
		verr.Addf("travel_miles", "must not exceed %s, got %s", limits.MaxTravelMiles, in.TravelMiles)
	}

	if in.TravelMinutes < 0 {
		verr.Addf("travel_minutes", "must not be negative, got %d", in.TravelMinutes)
	} else if in.TravelMinutes > limits.MaxTravelMinutes {
		verr.Addf("travel_minutes", "must not exceed %d, got %d", limits.MaxTravelMinutes, in.TravelMinutes)
	}

	if in.WorkHours.LessThan(limits.MinWorkHours) || in.WorkHours.GreaterThan(limits.MaxWorkHours) {
		verr.Addf("work_hours", "must be between %s and %s, got %s",
			limits.MinWorkHours, limits.MaxWorkHours, in.WorkHours)
	}

	if n := len(in.Crew); n < limits.MinCrew || n > limits.MaxCrew {
		verr.Addf("crew", "crew size must be between %d and %d, got %d", limits.MinCrew, limits.MaxCrew, n)
	}
	for i, role := range in.Crew {
		if strings.TrimSpace(role) == "" {
			verr.Addf(fmt.Sprintf("crew[%d]", i), "role must not be blank")
		}
	}

	distinct := make(map[string]bool, len(in.Equipment))
	for i, id := range in.Equipment {
		id = strings.TrimSpace(id)
		if id == "" {
			verr.Addf(fmt.Sprintf("equipment[%d]", i), "equipment id must not be blank")
			continue
		}
		distinct[id] = true
	}
	if len(distinct) > limits.MaxEquipment {
		verr.Addf("equipment", "at most %d equipment items allowed, got %d", limits.MaxEquipment, len(distinct))
	}

	if in.DisposalFee.IsNegative() {
		verr.Addf("disposal_fee", "must not be negative, got %s", in.DisposalFee)
	}
	if in.PermitFee.IsNegative() {
		verr.Addf("permit_fee", "must not be negative, got %s", in.PermitFee)
	}

	if in.CalculationDate == (civil.Date{}) {
		verr.Addf("calculation_date", "is required")
	} else if !in.CalculationDate.IsValid() {
		verr.Addf("calculation_date", "%v is not a valid date", in.CalculationDate)
	}
}
