package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"tree-estimator/core/cost"
	"tree-estimator/core/determinism"
	"tree-estimator/core/input"
	"tree-estimator/core/rates"
	ierrors "tree-estimator/internal/errors"
)

// Result is IMMUTABLE after creation.
// Identical input and identical resolved rates give identical results in every
// field except ID and CalculatedAt, and therefore an identical Checksum.
type Result struct {
	ID             string    `json:"id"`
	FormulaVersion string    `json:"formula_version"`
	CalculatedAt   time.Time `json:"calculated_at"`

	Input input.CalculationInput `json:"input"`

	Travel      cost.TravelBreakdown    `json:"travel"`
	Labor       cost.LaborBreakdown     `json:"labor"`
	Equipment   cost.EquipmentBreakdown `json:"equipment"`
	DisposalFee decimal.Decimal         `json:"disposal_fee"`
	PermitFee   decimal.Decimal         `json:"permit_fee"`

	DirectCosts          decimal.Decimal `json:"direct_costs"`
	OverheadPercent      decimal.Decimal `json:"overhead_percent"`
	Overhead             decimal.Decimal `json:"overhead"`
	SubtotalWithOverhead decimal.Decimal `json:"subtotal_with_overhead"`
	SafetyBufferPercent  decimal.Decimal `json:"safety_buffer_percent"`
	SafetyBuffer         decimal.Decimal `json:"safety_buffer"`
	SubtotalWithBuffer   decimal.Decimal `json:"subtotal_with_buffer"`
	ProfitPercent        decimal.Decimal `json:"profit_percent"`
	Profit               decimal.Decimal `json:"profit"`
	PreRoundingTotal     decimal.Decimal `json:"pre_rounding_total"`
	FinalTotal           decimal.Decimal `json:"final_total"`

	// RatesApplied lists every record the calculation resolved, sorted by subject
	RatesApplied []AppliedRate `json:"rates_applied"`

	// Checksum is the SHA-256 of every deterministic field
	Checksum string `json:"checksum"`
}

// AppliedRate identifies a rate record a calculation used.
// The window end is left out: closing a window later does not change what was applied.
type AppliedRate struct {
	ID            string          `json:"id"`
	Subject       rates.Subject   `json:"subject"`
	Amount        decimal.Decimal `json:"amount"`
	EffectiveFrom civil.Date      `json:"effective_from"`
}

// deterministic is the part of a Result covered by the checksum
type deterministic struct {
	FormulaVersion       string                  `json:"formula_version"`
	Input                input.CalculationInput  `json:"input"`
	Travel               cost.TravelBreakdown    `json:"travel"`
	Labor                cost.LaborBreakdown     `json:"labor"`
	Equipment            cost.EquipmentBreakdown `json:"equipment"`
	DisposalFee          decimal.Decimal         `json:"disposal_fee"`
	PermitFee            decimal.Decimal         `json:"permit_fee"`
	DirectCosts          decimal.Decimal         `json:"direct_costs"`
	OverheadPercent      decimal.Decimal         `json:"overhead_percent"`
	Overhead             decimal.Decimal         `json:"overhead"`
	SubtotalWithOverhead decimal.Decimal         `json:"subtotal_with_overhead"`
	SafetyBufferPercent  decimal.Decimal         `json:"safety_buffer_percent"`
	SafetyBuffer         decimal.Decimal         `json:"safety_buffer"`
	SubtotalWithBuffer   decimal.Decimal         `json:"subtotal_with_buffer"`
	ProfitPercent        decimal.Decimal         `json:"profit_percent"`
	Profit               decimal.Decimal         `json:"profit"`
	PreRoundingTotal     decimal.Decimal         `json:"pre_rounding_total"`
	FinalTotal           decimal.Decimal         `json:"final_total"`
	RatesApplied         []AppliedRate           `json:"rates_applied"`
}

func (r *Result) deterministic() deterministic {
	return deterministic{
		FormulaVersion:       r.FormulaVersion,
		Input:                r.Input,
		Travel:               r.Travel,
		Labor:                r.Labor,
		Equipment:            r.Equipment,
		DisposalFee:          r.DisposalFee,
		PermitFee:            r.PermitFee,
		DirectCosts:          r.DirectCosts,
		OverheadPercent:      r.OverheadPercent,
		Overhead:             r.Overhead,
		SubtotalWithOverhead: r.SubtotalWithOverhead,
		SafetyBufferPercent:  r.SafetyBufferPercent,
		SafetyBuffer:         r.SafetyBuffer,
		SubtotalWithBuffer:   r.SubtotalWithBuffer,
		ProfitPercent:        r.ProfitPercent,
		Profit:               r.Profit,
		PreRoundingTotal:     r.PreRoundingTotal,
		FinalTotal:           r.FinalTotal,
		RatesApplied:         r.RatesApplied,
	}
}

func (r *Result) computeChecksum() (string, error) {
	h, err := determinism.HashJSON(r.deterministic())
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return h.Hex(), nil
}

// VerifyChecksum reports whether Checksum still matches the result's contents
func (r *Result) VerifyChecksum() bool {
	sum, err := r.computeChecksum()
	return err == nil && sum == r.Checksum
}

// Diff lists the deterministic fields on which a and b differ, as dotted
// JSON paths (e.g. "labor.total", "rates_applied.0.amount"), sorted.
func Diff(a, b *Result) ([]string, error) {
	fa, err := flatten(a.deterministic())
	if err != nil {
		return nil, err
	}
	fb, err := flatten(b.deterministic())
	if err != nil {
		return nil, err
	}

	var diffs []string
	for k, va := range fa {
		if vb, ok := fb[k]; !ok || !equalLeaf(va, vb) {
			diffs = append(diffs, k)
		}
	}
	for k := range fb {
		if _, ok := fa[k]; !ok {
			diffs = append(diffs, k)
		}
	}
	sort.Strings(diffs)
	return diffs, nil
}

// equalLeaf compares two flattened values, treating numeric strings by value
// so that "45" and "45.00" are equal.
func equalLeaf(a, b string) bool {
	if a == b {
		return true
	}
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	return errA == nil && errB == nil && da.Equal(db)
}

func flatten(v any) (map[string]string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	walk("", tree, out)
	return out, nil
}

func walk(prefix string, node any, out map[string]string) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			walk(join(k), v, out)
		}
	case []any:
		if len(n) == 0 {
			out[prefix] = "[]"
		}
		for i, v := range n {
			walk(join(fmt.Sprint(i)), v, out)
		}
	default:
		out[prefix] = fmt.Sprint(n)
	}
}

// MismatchError reports a reproduction that did not match the stored result
type MismatchError struct {
	ID     string
	Fields []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("calculation %s does not reproduce: %d field(s) differ: %v", e.ID, len(e.Fields), e.Fields)
}

// Kind implements errors.Kinded
func (e *MismatchError) Kind() ierrors.Type { return ierrors.TypeMismatch }

// Reproduce re-runs a stored calculation with its stored input, including its
// calculation date, and checks every deterministic field matches.
// The engine's resolver must hold the rate history for that date.
// The returned result has a new ID and timestamp.
func (e *Engine) Reproduce(stored *Result) (*Result, error) {
	if stored == nil {
		return nil, fmt.Errorf("reproduce: no stored result")
	}

	fresh, err := e.Calculate(stored.Input)
	if err != nil {
		return nil, fmt.Errorf("reproduce %s: %w", stored.ID, err)
	}

	fields, err := Diff(stored, fresh)
	if err != nil {
		return nil, err
	}
	if stored.Checksum != "" && !stored.VerifyChecksum() {
		fields = append(fields, "checksum")
	}
	if len(fields) > 0 {
		return fresh, &MismatchError{ID: stored.ID, Fields: fields}
	}
	return fresh, nil
}
