// Package types holds the calibration data model shared by the log loader,
// the fitters, the plotter and the result writer.
package types

// CalibrationEvent is one solenoid release measurement reported by an
// autocalibration session: the poke that fired, how long the solenoid was
// held open, and the weight of water collected over a number of releases.
type CalibrationEvent struct {
	Poke               string  // poke identifier as printed by the task
	ReleaseDurationMs  float64 // solenoid open duration per release
	ReleaseWeightG     float64 // measured weight, sign-normalized to absolute
	NRelease           int     // releases pooled into the weight measurement
	SingleReleaseVolUl float64 // derived: ReleaseWeightG/NRelease*1000
}

// FitParams is a linear calibration for a single poke mapping target release
// volume to solenoid open duration: duration_ms = Intercept + Slope*volume_ul.
type FitParams struct {
	Slope     float64 // ms per uL
	Intercept float64 // ms
}

// PokeFits is an ordered collection of per-poke fit parameters. Pokes keeps
// first-appearance order so serialized results list pokes in the order the
// session reported them.
type PokeFits struct {
	Pokes  []string
	Params map[string]FitParams
}

// NewPokeFits returns an empty collection ready for Add.
func NewPokeFits() *PokeFits {
	return &PokeFits{Params: map[string]FitParams{}}
}

// Add records params for a poke. A poke not seen before is appended to the
// order; re-adding replaces the params in place.
func (f *PokeFits) Add(poke string, p FitParams) {
	if _, seen := f.Params[poke]; !seen {
		f.Pokes = append(f.Pokes, poke)
	}
	f.Params[poke] = p
}

// Get returns the params for a poke.
func (f *PokeFits) Get(poke string) (FitParams, bool) {
	p, ok := f.Params[poke]
	return p, ok
}

// Len returns the number of pokes in the collection.
func (f *PokeFits) Len() int { return len(f.Pokes) }

// PokeOrder returns the distinct pokes of events in first-appearance order.
func PokeOrder(events []CalibrationEvent) []string {
	var order []string
	seen := map[string]bool{}
	for _, ev := range events {
		if !seen[ev.Poke] {
			seen[ev.Poke] = true
			order = append(order, ev.Poke)
		}
	}
	return order
}
