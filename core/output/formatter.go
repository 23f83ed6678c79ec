// Package output provides output formatting for calculation results.
// This package produces human and machine-readable outputs.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"tree-estimator/core/determinism"
	"tree-estimator/core/engine"
)

// Format represents output format type
type Format string

const (
	// FormatText is a human-readable breakdown
	FormatText Format = "text"

	// FormatJSON is machine-readable JSON
	FormatJSON Format = "json"
)

// ParseFormat converts a flag value to a Format
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatText, "", "cli":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Formatter produces output in a specific format
type Formatter interface {
	// Format returns the format type
	Format() Format

	// Render produces output for the given result
	Render(w io.Writer, result *engine.Result) error
}

// New returns the formatter for f
func New(f Format) Formatter {
	if f == FormatJSON {
		return jsonFormatter{indent: true}
	}
	return textFormatter{}
}

type jsonFormatter struct {
	indent bool
}

func (jsonFormatter) Format() Format { return FormatJSON }

func (f jsonFormatter) Render(w io.Writer, result *engine.Result) error {
	enc := json.NewEncoder(w)
	if f.indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}

type textFormatter struct{}

func (textFormatter) Format() Format { return FormatText }

func (textFormatter) Render(w io.Writer, r *engine.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	money := determinism.FormatMoney
	line := func(label string, amount decimal.Decimal) {
		fmt.Fprintf(tw, "%s\t%s\t\n", label, money(amount))
	}
	pct := func(label string, p, amount decimal.Decimal) {
		fmt.Fprintf(tw, "%s (%s%%)\t%s\t\n", label, p, money(amount))
	}

	fmt.Fprintf(w, "Calculation %s\n", r.ID)
	fmt.Fprintf(w, "Date %s  formula v%s  vehicle %s\n\n", r.Input.CalculationDate, r.FormulaVersion, r.Input.VehicleType)

	fmt.Fprintf(tw, "Travel: %s mi @ %s\t%s\t\n", r.Travel.Miles, money(r.Travel.PerMileRate), money(r.Travel.MileageCost))
	fmt.Fprintf(tw, "Travel: %d min @ %s/h\t%s\t\n", r.Travel.Minutes, money(r.Travel.DriverHourlyRate), money(r.Travel.TimeCost))
	for _, c := range r.Labor.Crew {
		fmt.Fprintf(tw, "Labor: %s %s h @ %s\t%s\t\n", c.Role, r.Labor.Hours, money(c.HourlyRate), money(c.Cost))
	}
	for _, m := range r.Labor.Multipliers {
		fmt.Fprintf(tw, "Labor: %s multiplier\tx%s\t\n", m.Kind, m.Factor)
	}
	line("Labor total", r.Labor.Total)
	for _, item := range r.Equipment.Items {
		fmt.Fprintf(tw, "Equipment: %s %s h @ %s\t%s\t\n", item.ID, r.Equipment.Hours, money(item.HourlyRate), money(item.Cost))
	}
	line("Disposal", r.DisposalFee)
	line("Permit", r.PermitFee)
	fmt.Fprintf(tw, "\t\t\n")
	line("Direct costs", r.DirectCosts)
	pct("Overhead", r.OverheadPercent, r.Overhead)
	line("Subtotal", r.SubtotalWithOverhead)
	pct("Safety buffer", r.SafetyBufferPercent, r.SafetyBuffer)
	line("Subtotal", r.SubtotalWithBuffer)
	pct("Profit", r.ProfitPercent, r.Profit)
	line("Before rounding", r.PreRoundingTotal)
	line("TOTAL", r.FinalTotal)
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nchecksum %s\n", r.Checksum)
	return err
}
