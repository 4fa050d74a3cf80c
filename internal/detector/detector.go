// Package detector implements the closed-candle anomaly rule: on each
// candle close it decides whether the move was large enough relative to
// recent history to arm every idle account on that symbol.
package detector

import (
	"perpmomentum/internal/cfg"
	"perpmomentum/internal/model"
	"perpmomentum/internal/tradeerr"
)

// Result is the outcome of one Evaluate call.
type Result struct {
	Triggered         bool
	DynamicThreshold  float64
	CurrentDiff       float64
	LockClosePrice    float64
	MovementThreshold float64
}

// Evaluate applies the anomaly rule for closed candle c on symbol, given
// the history snapshot as it stands BEFORE c is appended (history may be
// empty only at startup, before any candle has closed).
//
// diffs and past_sum are computed over history alone; current_diff is
// diff(c), compared against dynamic_threshold and past_sum on its own.
// This resolves an ambiguity in how the historical source computed these
// quantities — see DESIGN.md.
func Evaluate(history []model.Candle, c model.Candle, pair cfg.PairConfig) (Result, error) {
	if len(history) == 0 {
		return Result{}, tradeerr.ErrMissingHistory
	}

	diffs := make([]float64, len(history))
	var sum float64
	for i, x := range history {
		diffs[i] = x.PercentDiff()
		sum += diffs[i]
	}
	averageDiff := sum / float64(len(history))
	dynamicThreshold := averageDiff * pair.Threshold
	currentDiff := c.PercentDiff()

	n := pair.NumPreviousCandles
	if n > len(diffs) {
		n = len(diffs)
	}
	var pastSum float64
	for _, d := range diffs[len(diffs)-n:] {
		pastSum += d
	}

	res := Result{
		Triggered:        currentDiff > dynamicThreshold && currentDiff > pastSum,
		DynamicThreshold: dynamicThreshold,
		CurrentDiff:      currentDiff,
	}
	if res.Triggered {
		res.LockClosePrice = c.Close
		res.MovementThreshold = dynamicThreshold / 2
	}
	return res, nil
}

// Armer arms an (account, symbol) position, returning whether it was
// armed (false if the position was already entering or open).
type Armer interface {
	Arm(account, symbol string, lockClosePrice, movementThreshold float64) (bool, error)
}

// Apply arms every account in accounts for symbol when result.Triggered,
// skipping any account whose position is already entering or open (the
// Armer enforces that rule internally).
func Apply(armer Armer, accounts []string, symbol string, result Result) error {
	if !result.Triggered {
		return nil
	}
	for _, account := range accounts {
		if _, err := armer.Arm(account, symbol, result.LockClosePrice, result.MovementThreshold); err != nil {
			return err
		}
	}
	return nil
}
