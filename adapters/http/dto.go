package http

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"cloud.google.com/go/civil"
	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"tree-estimator/core/engine"
	"tree-estimator/core/input"
	ierrors "tree-estimator/internal/errors"
)

// CalculationRequest is the body of POST /v1/calculations and /v1/validate.
// Money and hours accept JSON numbers or strings. Shape is checked here;
// bounds and rate references are checked by the engine.
type CalculationRequest struct {
	TravelMiles     decimal.Decimal `json:"travel_miles"`
	TravelMinutes   *int            `json:"travel_minutes" validate:"required"`
	Crew            []string        `json:"crew" validate:"required,dive,required,max=64"`
	WorkHours       decimal.Decimal `json:"work_hours"`
	Equipment       []string        `json:"equipment" validate:"omitempty,dive,required,max=64"`
	DisposalFee     decimal.Decimal `json:"disposal_fee"`
	PermitFee       decimal.Decimal `json:"permit_fee"`
	Emergency       bool            `json:"emergency"`
	Weekend         bool            `json:"weekend"`
	CalculationDate string          `json:"calculation_date" validate:"required,datetime=2006-01-02"`
	VehicleType     string          `json:"vehicle_type" validate:"omitempty,max=64"`
}

// Input converts the request. Call after validation.
func (r CalculationRequest) Input() (input.CalculationInput, error) {
	date, err := civil.ParseDate(r.CalculationDate)
	if err != nil {
		return input.CalculationInput{}, err
	}
	minutes := 0
	if r.TravelMinutes != nil {
		minutes = *r.TravelMinutes
	}
	return input.CalculationInput{
		TravelMiles:     r.TravelMiles,
		TravelMinutes:   minutes,
		Crew:            r.Crew,
		WorkHours:       r.WorkHours,
		Equipment:       r.Equipment,
		DisposalFee:     r.DisposalFee,
		PermitFee:       r.PermitFee,
		Emergency:       r.Emergency,
		Weekend:         r.Weekend,
		CalculationDate: date,
		VehicleType:     r.VehicleType,
	}, nil
}

// ValidateResponse is the body of a successful POST /v1/validate
type ValidateResponse struct {
	Valid bool                   `json:"valid"`
	Input input.CalculationInput `json:"input"`
}

// ReproduceResponse is the body of POST /v1/calculations/{id}/reproduce
type ReproduceResponse struct {
	Matches bool           `json:"matches"`
	Fields  []string       `json:"fields,omitempty"`
	Result  *engine.Result `json:"result"`
}

// ListResponse is the body of GET /v1/calculations
type ListResponse struct {
	Calculations []*engine.Result `json:"calculations"`
}

type fieldBody struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorBody struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Fields    []fieldBody    `json:"fields,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, map[string]errorBody{"error": body})
}

// statusFor maps an error kind to an HTTP status
func statusFor(t ierrors.Type) int {
	switch t {
	case ierrors.TypeValidation, ierrors.TypeUnknownEquipment, ierrors.TypeRateNotFound:
		return http.StatusUnprocessableEntity
	case ierrors.TypeParsing:
		return http.StatusBadRequest
	case ierrors.TypeNotFound:
		return http.StatusNotFound
	case ierrors.TypeConflict, ierrors.TypeMismatch:
		return http.StatusConflict
	case ierrors.TypeNetwork:
		return http.StatusServiceUnavailable
	default:
		// ambiguous rates and overlaps mean the rate data is corrupt
		return http.StatusInternalServerError
	}
}

// renderError writes err with the status of its kind
func renderError(w http.ResponseWriter, err error) {
	kind := ierrors.KindOf(err)
	body := errorBody{Type: string(kind), Message: err.Error(), Retryable: ierrors.Retryable(err)}

	var typed *ierrors.Error
	if errors.As(err, &typed) {
		body.Context = typed.Context
	}

	var verr *input.ValidationError
	if errors.As(err, &verr) {
		body.Message = "invalid calculation input"
		for _, f := range verr.Fields {
			body.Fields = append(body.Fields, fieldBody{Field: f.Field, Message: f.Message})
		}
	}
	writeError(w, statusFor(kind), body)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// shapeError converts validator failures to the engine's validation error shape
func shapeError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ierrors.Wrap(ierrors.TypeValidation, "invalid request", err)
	}
	out := &input.ValidationError{}
	for _, fe := range verrs {
		// drop the struct name prefix: CalculationRequest.crew[0] -> crew[0]
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		out.Addf(field, "failed %q check", fe.Tag())
	}
	return out
}
