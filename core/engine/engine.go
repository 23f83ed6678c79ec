// Package engine provides the calculation engine.
// CLI and HTTP are thin wrappers around it.
//
// The engine is synchronous and performs no I/O: every rate it needs must
// already be in the Resolver it was built with (see rates.Prefetch).
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tree-estimator/core/cost"
	"tree-estimator/core/input"
	"tree-estimator/core/rates"
)

// FormulaVersion identifies the current pipeline formulas
const FormulaVersion = "1.0"

// Config configures the engine
type Config struct {
	// Limits bounds accepted input
	Limits input.Limits `json:"limits"`

	// Multipliers declares multiplier order and combination
	Multipliers cost.MultiplierPolicy `json:"multipliers"`

	// DefaultVehicle is used when an input names no vehicle type
	DefaultVehicle string `json:"default_vehicle"`

	// FormulaVersion is stamped on every result
	FormulaVersion string `json:"formula_version"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Limits:         input.DefaultLimits(),
		Multipliers:    cost.DefaultMultiplierPolicy(),
		DefaultVehicle: "truck",
		FormulaVersion: FormulaVersion,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if err := c.Multipliers.Validate(); err != nil {
		return fmt.Errorf("multipliers: %w", err)
	}
	// every input flag needs a place in the order or it would be silently ignored
	for _, k := range cost.DefaultMultiplierOrder {
		if !containsKind(c.Multipliers.Order, k) {
			return fmt.Errorf("multipliers: order %v does not list %q", c.Multipliers.Order, k)
		}
	}
	if c.FormulaVersion == "" {
		return fmt.Errorf("formula version is required")
	}
	return nil
}

// Engine computes quotes against a fixed rate view
type Engine struct {
	resolver rates.Resolver
	config   Config
	logger   *zap.Logger
	clock    func() time.Time
	newID    func() string
}

// Option configures an Engine
type Option func(*Engine)

// WithConfig replaces the default configuration
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the timestamp source
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithIDSource sets the calculation id source
func WithIDSource(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// New creates an engine over resolver.
// Panics if resolver is nil.
func New(resolver rates.Resolver, opts ...Option) *Engine {
	// INVARIANT: there is no implicit rate state
	if resolver == nil {
		panic("engine: resolver is required")
	}
	e := &Engine{
		resolver: resolver,
		config:   DefaultConfig(),
		logger:   zap.NewNop(),
		clock:    time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// Subjects lists every rate subject a calculation of in will resolve.
// Callers prefetch these before building the engine.
func (c Config) Subjects(in input.CalculationInput) []rates.Subject {
	in = input.Normalize(in).WithDefaults(c.DefaultVehicle)

	var subjects []rates.Subject
	for _, role := range in.Crew {
		subjects = append(subjects, rates.Labor(role))
	}
	for _, id := range in.Equipment {
		subjects = append(subjects, rates.Equipment(id))
	}
	if in.VehicleType != "" {
		subjects = append(subjects, rates.Vehicle(in.VehicleType), rates.Driver(in.VehicleType))
	}
	subjects = append(subjects,
		rates.Margin(rates.MarginOverhead),
		rates.Margin(rates.MarginSafetyBuffer),
		rates.Margin(rates.MarginProfit),
	)
	for _, k := range activeMultipliers(in, c.Multipliers) {
		subjects = append(subjects, rates.Multiplier(string(k)))
	}
	return rates.UniqueSubjects(subjects)
}

// activeMultipliers returns the multiplier kinds that will apply to in, in
// canonical order. In exclusive mode only the first flagged kind applies, so
// the others are neither resolved nor required.
func activeMultipliers(in input.CalculationInput, policy cost.MultiplierPolicy) []cost.MultiplierKind {
	flags := map[cost.MultiplierKind]bool{
		cost.MultiplierEmergency: in.Emergency,
		cost.MultiplierWeekend:   in.Weekend,
	}
	var out []cost.MultiplierKind
	for _, k := range policy.Order {
		if !flags[k] {
			continue
		}
		out = append(out, k)
		if policy.Exclusive() {
			break
		}
	}
	return out
}

func containsKind(order []cost.MultiplierKind, k cost.MultiplierKind) bool {
	for _, o := range order {
		if o == k {
			return true
		}
	}
	return false
}

// Validate normalizes in, checks its bounds and confirms that every rate it
// references resolves on its calculation date. All problems are reported in
// a single *input.ValidationError whose causes are the resolver errors.
func (e *Engine) Validate(in input.CalculationInput) (input.CalculationInput, error) {
	n := input.Normalize(in).WithDefaults(e.config.DefaultVehicle)

	// field indexes refer to the caller's order, not the normalized set
	verr := &input.ValidationError{}
	input.Check(in, e.config.Limits, verr)

	// references cannot be checked without a date
	if n.CalculationDate.IsValid() {
		e.checkReferences(n, equipmentPositions(in.Equipment), verr)
	}
	return n, verr.Err()
}

// equipmentPositions maps each trimmed id to its first index in the request
func equipmentPositions(ids []string) map[string]int {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := pos[id]; !ok {
			pos[id] = i
		}
	}
	return pos
}

func (e *Engine) checkReferences(in input.CalculationInput, equipmentPos map[string]int, verr *input.ValidationError) {
	asOf := in.CalculationDate
	check := func(field string, s rates.Subject) {
		if _, err := e.resolver.Resolve(s, asOf); err != nil {
			verr.Add(field, err.Error(), err)
		}
	}

	seen := make(map[string]bool)
	for i, role := range in.Crew {
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		check(fmt.Sprintf("crew[%d]", i), rates.Labor(role))
	}

	for _, id := range in.Equipment {
		if id == "" {
			continue
		}
		field := fmt.Sprintf("equipment[%d]", equipmentPos[id])
		if !e.resolver.Has(rates.Equipment(id)) {
			err := &cost.UnknownEquipmentError{ID: id}
			verr.Add(field, err.Error(), err)
			continue
		}
		check(field, rates.Equipment(id))
	}

	if in.VehicleType == "" {
		verr.Addf("vehicle_type", "is required when no default vehicle is configured")
	} else {
		check("vehicle_type", rates.Vehicle(in.VehicleType))
		check("vehicle_type", rates.Driver(in.VehicleType))
	}

	for _, m := range []string{rates.MarginOverhead, rates.MarginSafetyBuffer, rates.MarginProfit} {
		check("margin."+m, rates.Margin(m))
	}

	for _, k := range activeMultipliers(in, e.config.Multipliers) {
		check(string(k), rates.Multiplier(string(k)))
	}
}
