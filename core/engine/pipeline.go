package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tree-estimator/core/cost"
	"tree-estimator/core/determinism"
	"tree-estimator/core/input"
	"tree-estimator/core/rates"
)

// Stage is one step of the aggregation pipeline.
// Stages run in declaration order; none is skipped or reordered.
type Stage int

const (
	StageDirectCosts Stage = iota
	StageOverhead
	StageSubtotalWithOverhead
	StageSafetyBuffer
	StageSubtotalWithBuffer
	StageProfit
	StagePreRoundingTotal
	StageFinalTotal
)

// String returns the stage name
func (s Stage) String() string {
	names := []string{
		"direct_costs", "overhead", "subtotal_with_overhead", "safety_buffer",
		"subtotal_with_buffer", "profit", "pre_rounding_total", "final_total",
	}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

type stageFunc func(r *Result) error

// pipeline is the fixed stage sequence. Every amount is rounded to the cent;
// the $5 rounding happens once, in the last stage.
var pipeline = [...]struct {
	stage Stage
	run   stageFunc
}{
	{StageDirectCosts, func(r *Result) error {
		r.DirectCosts = determinism.RoundToCents(
			r.Travel.Total.Add(r.Labor.Total).Add(r.Equipment.Total).Add(r.DisposalFee).Add(r.PermitFee))
		return nil
	}},
	{StageOverhead, func(r *Result) error {
		r.Overhead = determinism.Percent(r.DirectCosts, r.OverheadPercent)
		return nil
	}},
	{StageSubtotalWithOverhead, func(r *Result) error {
		r.SubtotalWithOverhead = determinism.RoundToCents(r.DirectCosts.Add(r.Overhead))
		return nil
	}},
	{StageSafetyBuffer, func(r *Result) error {
		r.SafetyBuffer = determinism.Percent(r.SubtotalWithOverhead, r.SafetyBufferPercent)
		return nil
	}},
	{StageSubtotalWithBuffer, func(r *Result) error {
		r.SubtotalWithBuffer = determinism.RoundToCents(r.SubtotalWithOverhead.Add(r.SafetyBuffer))
		return nil
	}},
	{StageProfit, func(r *Result) error {
		r.Profit = determinism.Percent(r.SubtotalWithBuffer, r.ProfitPercent)
		return nil
	}},
	{StagePreRoundingTotal, func(r *Result) error {
		r.PreRoundingTotal = determinism.RoundToCents(r.SubtotalWithBuffer.Add(r.Profit))
		return nil
	}},
	{StageFinalTotal, func(r *Result) error {
		final, err := determinism.RoundToNearest(r.PreRoundingTotal, determinism.FinalIncrement)
		if err != nil {
			return err
		}
		r.FinalTotal = determinism.RoundToCents(final)
		return nil
	}},
}

// StageError reports a failure inside a pipeline stage
type StageError struct {
	Stage Stage
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error {
	return e.Cause
}

// resolved holds the rates one calculation uses
type resolved struct {
	crew         []cost.CrewRate
	equipment    map[string]decimal.Decimal
	perMile      decimal.Decimal
	driverHourly decimal.Decimal
	overhead     decimal.Decimal
	safetyBuffer decimal.Decimal
	profit       decimal.Decimal
	multipliers  []cost.Multiplier
	applied      map[string]rates.Record
}

func (e *Engine) resolve(in input.CalculationInput) (*resolved, error) {
	res := &resolved{
		equipment: make(map[string]decimal.Decimal, len(in.Equipment)),
		applied:   make(map[string]rates.Record),
	}
	get := func(s rates.Subject) (decimal.Decimal, error) {
		rec, err := e.resolver.Resolve(s, in.CalculationDate)
		if err != nil {
			return decimal.Zero, err
		}
		res.applied[rec.ID] = rec
		return rec.Amount, nil
	}

	for _, role := range in.Crew {
		rate, err := get(rates.Labor(role))
		if err != nil {
			return nil, err
		}
		res.crew = append(res.crew, cost.CrewRate{Role: role, HourlyRate: rate})
	}

	for _, id := range in.Equipment {
		if !e.resolver.Has(rates.Equipment(id)) {
			return nil, &cost.UnknownEquipmentError{ID: id}
		}
		rate, err := get(rates.Equipment(id))
		if err != nil {
			return nil, err
		}
		res.equipment[id] = rate
	}

	var err error
	if res.perMile, err = get(rates.Vehicle(in.VehicleType)); err != nil {
		return nil, err
	}
	if res.driverHourly, err = get(rates.Driver(in.VehicleType)); err != nil {
		return nil, err
	}
	if res.overhead, err = get(rates.Margin(rates.MarginOverhead)); err != nil {
		return nil, err
	}
	if res.safetyBuffer, err = get(rates.Margin(rates.MarginSafetyBuffer)); err != nil {
		return nil, err
	}
	if res.profit, err = get(rates.Margin(rates.MarginProfit)); err != nil {
		return nil, err
	}

	for _, k := range activeMultipliers(in, e.config.Multipliers) {
		factor, err := get(rates.Multiplier(string(k)))
		if err != nil {
			return nil, err
		}
		res.multipliers = append(res.multipliers, cost.Multiplier{Kind: k, Factor: factor})
	}
	return res, nil
}

// Calculate validates in, resolves its rates, runs the component calculators
// and the fixed stage sequence, and returns a new immutable Result.
// Nothing is returned on error; there are no partial results.
func (e *Engine) Calculate(in input.CalculationInput) (*Result, error) {
	n, err := e.Validate(in)
	if err != nil {
		return nil, err
	}

	res, err := e.resolve(n)
	if err != nil {
		return nil, err
	}

	travel := cost.Travel(n.TravelMiles, n.TravelMinutes, res.perMile, res.driverHourly)

	labor, err := cost.Labor(n.WorkHours, res.crew, res.multipliers, e.config.Multipliers)
	if err != nil {
		return nil, err
	}

	equipment, err := cost.Equipment(n.WorkHours, n.Equipment, res.equipment)
	if err != nil {
		return nil, err
	}

	r := &Result{
		ID:                  e.newID(),
		FormulaVersion:      e.config.FormulaVersion,
		CalculatedAt:        e.clock().UTC(),
		Input:               n,
		Travel:              travel,
		Labor:               labor,
		Equipment:           equipment,
		DisposalFee:         determinism.RoundToCents(n.DisposalFee),
		PermitFee:           determinism.RoundToCents(n.PermitFee),
		OverheadPercent:     res.overhead,
		SafetyBufferPercent: res.safetyBuffer,
		ProfitPercent:       res.profit,
		RatesApplied:        appliedRates(res.applied),
	}

	for _, s := range pipeline {
		if err := s.run(r); err != nil {
			return nil, &StageError{Stage: s.stage, Cause: err}
		}
	}

	sum, err := r.computeChecksum()
	if err != nil {
		return nil, err
	}
	r.Checksum = sum

	e.logger.Debug("calculation complete",
		zap.String("calculation_id", r.ID),
		zap.String("calculation_date", n.CalculationDate.String()),
		zap.String("final_total", determinism.FormatMoney(r.FinalTotal)),
		zap.String("checksum", r.Checksum),
	)
	return r, nil
}

func appliedRates(m map[string]rates.Record) []AppliedRate {
	out := make([]AppliedRate, 0, len(m))
	for _, id := range determinism.SortedKeys(m) {
		r := m[id]
		out = append(out, AppliedRate{ID: r.ID, Subject: r.Subject, Amount: r.Amount, EffectiveFrom: r.EffectiveFrom})
	}
	determinism.SortSlice(out, func(a, b AppliedRate) bool {
		if a.Subject != b.Subject {
			return a.Subject.Less(b.Subject)
		}
		return a.EffectiveFrom.Before(b.EffectiveFrom)
	})
	return out
}
