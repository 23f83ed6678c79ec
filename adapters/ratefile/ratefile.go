// Package ratefile reads and writes rate tables as HCL.
//
//	rate "labor" "climber" {
//	  amount         = "45.00"
//	  effective_from = "2024-01-01"
//	  effective_to   = "2025-01-01" # optional, exclusive
//	  notes          = "2024 union scale"
//	}
//
// Amounts are strings so that no value ever passes through a float.
package ratefile

import (
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/shopspring/decimal"
	"github.com/zclconf/go-cty/cty"

	"tree-estimator/core/rates"
	ierrors "tree-estimator/internal/errors"
)

type document struct {
	Rates []rateBlock `hcl:"rate,block"`
}

type rateBlock struct {
	Kind          string    `hcl:"kind,label"`
	Name          string    `hcl:"name,label"`
	Amount        string    `hcl:"amount"`
	EffectiveFrom string    `hcl:"effective_from"`
	EffectiveTo   *string   `hcl:"effective_to,optional"`
	Notes         *string   `hcl:"notes,optional"`
	DefRange      hcl.Range `hcl:",def_range"`
}

// Problem is one error found in a rate file
type Problem struct {
	File    string
	Line    int
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s:%d: %s", p.File, p.Line, p.Message)
}

// ParseError lists every problem found in a rate file
type ParseError struct {
	Problems []Problem
}

func (e *ParseError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return "invalid rate file: " + strings.Join(msgs, "; ")
}

// Kind implements errors.Kinded
func (e *ParseError) Kind() ierrors.Type { return ierrors.TypeParsing }

// Parse decodes HCL rate blocks into records.
// Overlap between records is not checked here; load them into a rates.Table or a store for that.
func Parse(src []byte, filename string) ([]rates.Record, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fromDiagnostics(filename, diags)
	}

	var doc document
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return nil, fromDiagnostics(filename, diags)
	}

	perr := &ParseError{}
	records := make([]rates.Record, 0, len(doc.Rates))
	for _, b := range doc.Rates {
		rec, err := b.record()
		if err != nil {
			perr.Problems = append(perr.Problems, Problem{File: filename, Line: b.DefRange.Start.Line, Message: err.Error()})
			continue
		}
		records = append(records, rec)
	}
	if len(perr.Problems) > 0 {
		return nil, perr
	}
	return records, nil
}

func (b rateBlock) record() (rates.Record, error) {
	kind, err := rates.ParseKind(b.Kind)
	if err != nil {
		return rates.Record{}, err
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(b.Amount))
	if err != nil {
		return rates.Record{}, fmt.Errorf("amount %q: %w", b.Amount, err)
	}
	from, err := civil.ParseDate(b.EffectiveFrom)
	if err != nil {
		return rates.Record{}, fmt.Errorf("effective_from: %w", err)
	}
	var to *civil.Date
	if b.EffectiveTo != nil && *b.EffectiveTo != "" {
		d, err := civil.ParseDate(*b.EffectiveTo)
		if err != nil {
			return rates.Record{}, fmt.Errorf("effective_to: %w", err)
		}
		to = &d
	}

	rec := rates.NewRecord(rates.Subject{Kind: kind, Name: b.Name}, amount, from, to)
	if b.Notes != nil {
		rec.Notes = *b.Notes
	}
	return rec, rec.Validate()
}

func fromDiagnostics(filename string, diags hcl.Diagnostics) error {
	perr := &ParseError{}
	for _, diag := range diags {
		if diag.Severity != hcl.DiagError {
			continue
		}
		line := 0
		if diag.Subject != nil {
			line = diag.Subject.Start.Line
		}
		perr.Problems = append(perr.Problems, Problem{
			File:    filename,
			Line:    line,
			Message: diag.Summary + ": " + diag.Detail,
		})
	}
	return perr
}

// Load reads and parses a rate file
func Load(path string) ([]rates.Record, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate file: %w", err)
	}
	return Parse(src, path)
}

// LoadTable reads a rate file into an overlap-checked table
func LoadTable(path string) (*rates.Table, error) {
	records, err := Load(path)
	if err != nil {
		return nil, err
	}
	return rates.NewTable(records...)
}

// Write renders records as HCL, sorted by subject then start date
func Write(w io.Writer, records []rates.Record) error {
	sorted := rates.NewSnapshot(records...).Records()

	f := hclwrite.NewEmptyFile()
	body := f.Body()
	for i, r := range sorted {
		if i > 0 {
			body.AppendNewline()
		}
		block := body.AppendNewBlock("rate", []string{string(r.Subject.Kind), r.Subject.Name})
		b := block.Body()
		b.SetAttributeValue("amount", cty.StringVal(r.Amount.String()))
		b.SetAttributeValue("effective_from", cty.StringVal(r.EffectiveFrom.String()))
		if r.EffectiveTo != nil {
			b.SetAttributeValue("effective_to", cty.StringVal(r.EffectiveTo.String()))
		}
		if r.Notes != "" {
			b.SetAttributeValue("notes", cty.StringVal(r.Notes))
		}
	}
	_, err := f.WriteTo(w)
	return err
}
