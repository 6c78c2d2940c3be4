// Package fit estimates linear release-volume to release-duration
// calibrations from measured events, either independently per poke or
// jointly through one mixed-effects regression.
package fit

import (
	"errors"
	"math"
	"os"

	"github.com/ThomasAkam/pyControl-hardware/src/types"
)

// Sentinel errors for callers that branch on failure cause.
var (
	// ErrInsufficientData reports fewer events or pokes than a fit needs.
	ErrInsufficientData = errors.New("insufficient calibration data")

	// ErrIllConditioned reports degenerate measurement geometry or a fit
	// that failed to converge.
	ErrIllConditioned = errors.New("ill-conditioned fit")
)

// Set FIT_DEBUG=1 to print optimizer internals.
var debugOn = os.Getenv("FIT_DEBUG") != ""

// pokeGroup collects one poke's measurements in event order.
type pokeGroup struct {
	poke string
	vols []float64 // single release volume, uL
	durs []float64 // release duration, ms
}

// groupByPoke splits events per poke preserving first-appearance order.
func groupByPoke(events []types.CalibrationEvent) []pokeGroup {
	idx := map[string]int{}
	var groups []pokeGroup
	for _, ev := range events {
		i, ok := idx[ev.Poke]
		if !ok {
			i = len(groups)
			idx[ev.Poke] = i
			groups = append(groups, pokeGroup{poke: ev.Poke})
		}
		groups[i].vols = append(groups[i].vols, ev.SingleReleaseVolUl)
		groups[i].durs = append(groups[i].durs, ev.ReleaseDurationMs)
	}
	return groups
}

// round2 rounds to the two decimal places kept in saved calibrations.
func round2(v float64) float64 { return math.Round(v*100) / 100 }
