package cost

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tree-estimator/core/determinism"
	ierrors "tree-estimator/internal/errors"
)

// UnknownEquipmentError means an equipment id has no rate record at all
type UnknownEquipmentError struct {
	ID string
}

func (e *UnknownEquipmentError) Error() string {
	return fmt.Sprintf("unknown equipment %q", e.ID)
}

// Kind implements errors.Kinded
func (e *UnknownEquipmentError) Kind() ierrors.Type { return ierrors.TypeUnknownEquipment }

// EquipmentLine itemizes one equipment item
type EquipmentLine struct {
	ID         string          `json:"id"`
	HourlyRate decimal.Decimal `json:"hourly_rate"`
	Cost       decimal.Decimal `json:"cost"`
}

// EquipmentBreakdown itemizes equipment cost
type EquipmentBreakdown struct {
	Hours decimal.Decimal `json:"hours"`
	Items []EquipmentLine `json:"items"`
	Total decimal.Decimal `json:"total"`
}

// Equipment computes hours × rate for each distinct id, in sorted id order.
// Each line is rounded to the cent and the total is the sum of the lines.
func Equipment(hours decimal.Decimal, ids []string, rates map[string]decimal.Decimal) (EquipmentBreakdown, error) {
	sorted := determinism.UniqueSorted(ids)

	items := make([]EquipmentLine, 0, len(sorted))
	total := decimal.Zero
	for _, id := range sorted {
		rate, ok := rates[id]
		if !ok {
			return EquipmentBreakdown{}, &UnknownEquipmentError{ID: id}
		}
		line := determinism.RoundToCents(hours.Mul(rate))
		items = append(items, EquipmentLine{ID: id, HourlyRate: rate, Cost: line})
		total = total.Add(line)
	}

	return EquipmentBreakdown{
		Hours: hours,
		Items: items,
		Total: determinism.RoundToCents(total),
	}, nil
}
