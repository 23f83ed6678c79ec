// Package cost provides the itemized cost component calculators.
// Each calculator is a pure function of already-resolved rates; none of them
// look anything up or touch I/O.
package cost

import (
	"github.com/shopspring/decimal"

	"tree-estimator/core/determinism"
)

var minutesPerHour = decimal.NewFromInt(60)

// TravelBreakdown itemizes travel cost
type TravelBreakdown struct {
	Miles            decimal.Decimal `json:"miles"`
	Minutes          int             `json:"minutes"`
	PerMileRate      decimal.Decimal `json:"per_mile_rate"`
	DriverHourlyRate decimal.Decimal `json:"driver_hourly_rate"`
	MileageCost      decimal.Decimal `json:"mileage_cost"`
	TimeCost         decimal.Decimal `json:"time_cost"`
	Total            decimal.Decimal `json:"total"`
}

// Travel computes mileage and driver-time cost.
// mileage = miles × perMile, time = minutes/60 × driverHourly, each rounded to the cent.
func Travel(miles decimal.Decimal, minutes int, perMile, driverHourly decimal.Decimal) TravelBreakdown {
	mileage := determinism.RoundToCents(miles.Mul(perMile))
	// multiply before dividing so exact quarter/half hours stay exact
	timeCost := determinism.RoundToCents(driverHourly.Mul(decimal.NewFromInt(int64(minutes))).Div(minutesPerHour))

	return TravelBreakdown{
		Miles:            miles,
		Minutes:          minutes,
		PerMileRate:      perMile,
		DriverHourlyRate: driverHourly,
		MileageCost:      mileage,
		TimeCost:         timeCost,
		Total:            determinism.RoundToCents(mileage.Add(timeCost)),
	}
}
