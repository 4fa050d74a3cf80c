// Package ladder computes the geometric trigger ladder and ratcheting
// trailing-stop sequence installed at position open.
package ladder

import (
	"math"

	"perpmomentum/internal/model"
)

const roundingPlaces = 8

// Build computes N trigger prices and N index-aligned trailing-stop
// prices for a position opened at entryPrice in direction side, given
// movementThresholdPct (the ladder step, in percent) and
// feesExemptionPct (an additive buffer on the stop distance).
//
// For long: trigger_i = E*(1+i*m'), stop_i = S_{i-1}*(1+m'+f'), seeded
// with S0 = E*(1-m'-f'). For short, signs flip. All values are rounded
// to 8 decimal places before being stored.
func Build(entryPrice float64, side model.Side, movementThresholdPct, feesExemptionPct float64, n int) (triggers, stopPrices []float64) {
	m := movementThresholdPct / 100
	f := feesExemptionPct / 100

	triggers = make([]float64, n)
	stopPrices = make([]float64, n)

	var stop float64
	switch side {
	case model.SideLong:
		stop = entryPrice * (1 - m - f)
		for i := 1; i <= n; i++ {
			triggers[i-1] = round8(entryPrice * (1 + float64(i)*m))
			stop = stop * (1 + m + f)
			stopPrices[i-1] = round8(stop)
		}
	case model.SideShort:
		stop = entryPrice * (1 + m + f)
		for i := 1; i <= n; i++ {
			triggers[i-1] = round8(entryPrice * (1 - float64(i)*m))
			stop = stop * (1 - m - f)
			stopPrices[i-1] = round8(stop)
		}
	}
	return triggers, stopPrices
}

func round8(v float64) float64 {
	const scale = 1e8
	return math.Round(v*scale) / scale
}
