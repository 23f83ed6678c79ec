package cost

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tree-estimator/core/determinism"
)

// MultiplierKind names a labor multiplier
type MultiplierKind string

const (
	MultiplierEmergency MultiplierKind = "emergency"
	MultiplierWeekend   MultiplierKind = "weekend"
)

// DefaultMultiplierOrder is the canonical application order.
// Multipliers are always applied in this order no matter how they were supplied.
var DefaultMultiplierOrder = []MultiplierKind{MultiplierEmergency, MultiplierWeekend}

// CombineMode says how several active multipliers combine
type CombineMode string

const (
	// CombineExclusive applies only the first active kind in canonical order,
	// so an emergency job worked on a weekend is charged the emergency rate alone
	CombineExclusive CombineMode = "exclusive"

	// CombineCompound multiplies every active factor together
	CombineCompound CombineMode = "compound"
)

// ParseCombineMode converts a string to a CombineMode; blank means exclusive
func ParseCombineMode(s string) (CombineMode, error) {
	switch CombineMode(strings.ToLower(strings.TrimSpace(s))) {
	case CombineExclusive, "":
		return CombineExclusive, nil
	case CombineCompound:
		return CombineCompound, nil
	default:
		return "", fmt.Errorf("unknown multiplier mode %q (want exclusive or compound)", s)
	}
}

// MultiplierPolicy declares multiplier ordering and combination
type MultiplierPolicy struct {
	Order []MultiplierKind `json:"order"`
	Mode  CombineMode      `json:"mode"`
}

// DefaultMultiplierPolicy applies emergency over weekend, never both
func DefaultMultiplierPolicy() MultiplierPolicy {
	order := make([]MultiplierKind, len(DefaultMultiplierOrder))
	copy(order, DefaultMultiplierOrder)
	return MultiplierPolicy{Order: order, Mode: CombineExclusive}
}

// Exclusive reports whether only the first active multiplier applies.
// A blank mode is exclusive.
func (p MultiplierPolicy) Exclusive() bool {
	return p.Mode != CombineCompound
}

// Validate checks the order lists each kind at most once
func (p MultiplierPolicy) Validate() error {
	if _, err := ParseCombineMode(string(p.Mode)); err != nil {
		return err
	}
	seen := make(map[MultiplierKind]bool, len(p.Order))
	for _, k := range p.Order {
		if strings.TrimSpace(string(k)) == "" {
			return fmt.Errorf("multiplier order contains a blank kind")
		}
		if seen[k] {
			return fmt.Errorf("multiplier %q listed twice in order", k)
		}
		seen[k] = true
	}
	return nil
}

func (p MultiplierPolicy) position(k MultiplierKind) int {
	for i, o := range p.Order {
		if o == k {
			return i
		}
	}
	return -1
}

// Multiplier is an active labor factor
type Multiplier struct {
	Kind   MultiplierKind  `json:"kind"`
	Factor decimal.Decimal `json:"factor"`
}

// CrewRate is one crew member's role and resolved hourly rate
type CrewRate struct {
	Role       string
	HourlyRate decimal.Decimal
}

// CrewLine itemizes one crew member
type CrewLine struct {
	Role       string          `json:"role"`
	HourlyRate decimal.Decimal `json:"hourly_rate"`
	Cost       decimal.Decimal `json:"cost"`
}

// LaborBreakdown itemizes labor cost.
// Crew line costs are informational; Base is computed from the summed rates.
type LaborBreakdown struct {
	Hours              decimal.Decimal `json:"hours"`
	Crew               []CrewLine      `json:"crew"`
	CombinedHourlyRate decimal.Decimal `json:"combined_hourly_rate"`
	Base               decimal.Decimal `json:"base"`
	Multipliers        []Multiplier    `json:"multipliers"`
	Factor             decimal.Decimal `json:"factor"`
	Total              decimal.Decimal `json:"total"`
}

// Labor computes base = hours × Σ crew rates, then applies the active multipliers
// in the policy's canonical order. The result does not depend on the order
// multipliers are passed in.
func Labor(hours decimal.Decimal, crew []CrewRate, multipliers []Multiplier, policy MultiplierPolicy) (LaborBreakdown, error) {
	if err := policy.Validate(); err != nil {
		return LaborBreakdown{}, err
	}

	combined := decimal.Zero
	lines := make([]CrewLine, len(crew))
	for i, c := range crew {
		combined = combined.Add(c.HourlyRate)
		lines[i] = CrewLine{
			Role:       c.Role,
			HourlyRate: c.HourlyRate,
			Cost:       determinism.RoundToCents(hours.Mul(c.HourlyRate)),
		}
	}
	base := determinism.RoundToCents(hours.Mul(combined))

	applied, err := orderMultipliers(multipliers, policy)
	if err != nil {
		return LaborBreakdown{}, err
	}

	factor := decimal.NewFromInt(1)
	for _, m := range applied {
		factor = factor.Mul(m.Factor)
	}

	return LaborBreakdown{
		Hours:              hours,
		Crew:               lines,
		CombinedHourlyRate: combined,
		Base:               base,
		Multipliers:        applied,
		Factor:             factor,
		Total:              determinism.RoundToCents(base.Mul(factor)),
	}, nil
}

// orderMultipliers sorts the active multipliers into canonical order and
// drops the ones the policy's mode excludes.
func orderMultipliers(active []Multiplier, policy MultiplierPolicy) ([]Multiplier, error) {
	slots := make([]*Multiplier, len(policy.Order))
	for i := range active {
		m := active[i]
		pos := policy.position(m.Kind)
		if pos < 0 {
			return nil, fmt.Errorf("multiplier %q is not in the declared order %v", m.Kind, policy.Order)
		}
		if slots[pos] != nil {
			return nil, fmt.Errorf("multiplier %q supplied twice", m.Kind)
		}
		if !m.Factor.IsPositive() {
			return nil, fmt.Errorf("multiplier %q has non-positive factor %s", m.Kind, m.Factor)
		}
		slots[pos] = &m
	}

	applied := make([]Multiplier, 0, len(active))
	for _, m := range slots {
		if m == nil {
			continue
		}
		applied = append(applied, *m)
		if policy.Exclusive() {
			break
		}
	}
	return applied, nil
}
