// Package fixture holds the worked-example rate table and job used by tests
// across packages.
package fixture

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"tree-estimator/core/input"
	"tree-estimator/core/rates"
)

// Epoch is the start date of every fixture record
var Epoch = civil.Date{Year: 2020, Month: 1, Day: 1}

// Records returns the example rate table, open ended from Epoch
func Records() []rates.Record {
	open := func(s rates.Subject, amount string) rates.Record {
		return rates.NewRecord(s, decimal.RequireFromString(amount), Epoch, nil)
	}
	return []rates.Record{
		open(rates.Labor("climber"), "45.00"),
		open(rates.Labor("groundsman"), "25.00"),
		open(rates.Equipment("chipper"), "75.00"),
		open(rates.Equipment("stump_grinder"), "60.00"),
		open(rates.Vehicle("truck"), "0.65"),
		open(rates.Driver("truck"), "25.00"),
		open(rates.Margin(rates.MarginOverhead), "25"),
		open(rates.Margin(rates.MarginSafetyBuffer), "10"),
		open(rates.Margin(rates.MarginProfit), "35"),
		open(rates.Multiplier("emergency"), "1.5"),
		open(rates.Multiplier("weekend"), "1.25"),
	}
}

// Snapshot seals Records
func Snapshot() *rates.Snapshot {
	return rates.NewSnapshot(Records()...)
}

// Input is the example job; its final total is 2165.00
func Input() input.CalculationInput {
	return input.CalculationInput{
		TravelMiles:     decimal.NewFromInt(15),
		TravelMinutes:   30,
		Crew:            []string{"climber", "groundsman"},
		WorkHours:       decimal.NewFromInt(6),
		Equipment:       []string{"chipper"},
		DisposalFee:     decimal.NewFromInt(200),
		PermitFee:       decimal.NewFromInt(75),
		CalculationDate: civil.Date{Year: 2024, Month: 3, Day: 15},
	}
}
