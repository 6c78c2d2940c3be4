package fit

import (
	"errors"
	"math"
	"testing"

	"github.com/ThomasAkam/pyControl-hardware/src/types"
)

// lineEvents builds events for one poke on duration = intercept + slope*vol,
// optionally perturbed by a repeating noise pattern.
func lineEvents(poke string, slope, intercept float64, vols, noise []float64) []types.CalibrationEvent {
	evs := make([]types.CalibrationEvent, len(vols))
	for i, v := range vols {
		y := intercept + slope*v
		if len(noise) > 0 {
			y += noise[i%len(noise)]
		}
		evs[i] = types.CalibrationEvent{Poke: poke, SingleReleaseVolUl: v, ReleaseDurationMs: y}
	}
	return evs
}

func TestIndependentFitsRecoverExactLines(t *testing.T) {
	vols := []float64{5, 10, 15, 20, 25}
	var events []types.CalibrationEvent
	events = append(events, lineEvents("1", 4.2, 12.3, vols, nil)...)
	events = append(events, lineEvents("2", 3.85, -0.4, vols, nil)...)
	events = append(events, lineEvents("3", 6, 0, vols, nil)...)

	fits, err := IndependentFits(events)
	if err != nil {
		t.Fatalf("IndependentFits: %v", err)
	}
	if len(fits.Pokes) != 3 || fits.Pokes[0] != "1" || fits.Pokes[1] != "2" || fits.Pokes[2] != "3" {
		t.Fatalf("poke order = %v", fits.Pokes)
	}
	want := map[string]types.FitParams{
		"1": {Slope: 4.2, Intercept: 12.3},
		"2": {Slope: 3.85, Intercept: -0.4},
		"3": {Slope: 6, Intercept: 0},
	}
	for poke, w := range want {
		got, ok := fits.Get(poke)
		if !ok {
			t.Fatalf("poke %s missing", poke)
		}
		if got != w {
			t.Fatalf("poke %s fit = %+v, want %+v", poke, got, w)
		}
	}
}

func TestIndependentFitsSinglePointPoke(t *testing.T) {
	events := lineEvents("1", 4, 10, []float64{5, 10}, nil)
	events = append(events, types.CalibrationEvent{Poke: "2", SingleReleaseVolUl: 7, ReleaseDurationMs: 40})

	_, err := IndependentFits(events)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestIndependentFitsConstantVolumes(t *testing.T) {
	events := []types.CalibrationEvent{
		{Poke: "1", SingleReleaseVolUl: 10, ReleaseDurationMs: 40},
		{Poke: "1", SingleReleaseVolUl: 10, ReleaseDurationMs: 44},
	}
	_, err := IndependentFits(events)
	if !errors.Is(err, ErrIllConditioned) {
		t.Fatalf("err = %v, want ErrIllConditioned", err)
	}
}

func TestIndependentFitsNoEvents(t *testing.T) {
	if _, err := IndependentFits(nil); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestIndependentDiagnostics(t *testing.T) {
	events := lineEvents("3", 4, 10, []float64{5, 10, 15, 20}, nil)
	diags := IndependentDiagnostics(events)

	d, ok := diags["3"]
	if !ok {
		t.Fatal("poke 3 missing from diagnostics")
	}
	if d.N != 4 || d.VolMinUl != 5 || d.VolMaxUl != 20 {
		t.Fatalf("diagnostics = %+v", d)
	}
	if math.Abs(d.R2-1) > 1e-9 {
		t.Fatalf("R2 = %v, want 1", d.R2)
	}
	if d.RMSE > 1e-9 {
		t.Fatalf("RMSE = %v, want ~0", d.RMSE)
	}
}

func TestIndependentDiagnosticsSkipsUnfittable(t *testing.T) {
	events := []types.CalibrationEvent{
		{Poke: "solo", SingleReleaseVolUl: 5, ReleaseDurationMs: 30},
	}
	if diags := IndependentDiagnostics(events); len(diags) != 0 {
		t.Fatalf("diagnostics for unfittable poke: %+v", diags)
	}
}

func TestRound2(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{4.2149, 4.21},
		{4.216, 4.22},
		{-2.718, -2.72},
		{12, 12},
	}
	for _, c := range cases {
		if got := round2(c.in); got != c.want {
			t.Fatalf("round2(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
