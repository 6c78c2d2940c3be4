package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ThomasAkam/pyControl-hardware/src/types"
)

// IndependentFits fits an ordinary least squares line volume -> duration for
// each poke separately. Every poke needs at least two events spanning more
// than one volume.
func IndependentFits(events []types.CalibrationEvent) (*types.PokeFits, error) {
	groups := groupByPoke(events)
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: no calibration events", ErrInsufficientData)
	}
	fits := types.NewPokeFits()
	for _, g := range groups {
		if len(g.vols) < 2 {
			return nil, fmt.Errorf("%w: poke %s has %d event(s), need at least 2", ErrInsufficientData, g.poke, len(g.vols))
		}
		if stat.Variance(g.vols, nil) == 0 {
			return nil, fmt.Errorf("%w: poke %s volumes are all %.3g uL", ErrIllConditioned, g.poke, g.vols[0])
		}
		alpha, beta := stat.LinearRegression(g.vols, g.durs, nil, false)
		if math.IsNaN(alpha) || math.IsNaN(beta) {
			return nil, fmt.Errorf("%w: poke %s regression produced NaN", ErrIllConditioned, g.poke)
		}
		fits.Add(g.poke, types.FitParams{Slope: round2(beta), Intercept: round2(alpha)})
	}
	return fits, nil
}

// Diagnostics summarizes one poke's independent fit for reporting.
type Diagnostics struct {
	N        int     // events
	VolMinUl float64 // smallest single release volume seen
	VolMaxUl float64 // largest single release volume seen
	R2       float64 // coefficient of determination of the OLS fit
	RMSE     float64 // residual root mean square error, ms
}

// IndependentDiagnostics computes per-poke fit quality metrics for the
// independent fits. Pokes that cannot be fit are left out.
func IndependentDiagnostics(events []types.CalibrationEvent) map[string]Diagnostics {
	out := map[string]Diagnostics{}
	for _, g := range groupByPoke(events) {
		if len(g.vols) < 2 || stat.Variance(g.vols, nil) == 0 {
			continue
		}
		alpha, beta := stat.LinearRegression(g.vols, g.durs, nil, false)
		var sse float64
		for i, x := range g.vols {
			r := g.durs[i] - (alpha + beta*x)
			sse += r * r
		}
		r2 := stat.RSquared(g.vols, g.durs, nil, alpha, beta)
		if math.IsNaN(r2) && sse < 1e-12 {
			r2 = 1 // flat durations fit exactly
		}
		out[g.poke] = Diagnostics{
			N:        len(g.vols),
			VolMinUl: floats.Min(g.vols),
			VolMaxUl: floats.Max(g.vols),
			R2:       r2,
			RMSE:     math.Sqrt(sse / float64(len(g.vols))),
		}
	}
	return out
}
