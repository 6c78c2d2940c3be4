// Package autocal wires the calibration pipeline: load the newest (or a
// named) autocalibration log, fit release-duration models, optionally render
// the diagnostic plot, and persist the chosen parameters.
package autocal

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ThomasAkam/pyControl-hardware/src/calib"
	"github.com/ThomasAkam/pyControl-hardware/src/fit"
	"github.com/ThomasAkam/pyControl-hardware/src/plot"
	"github.com/ThomasAkam/pyControl-hardware/src/types"
)

// Options selects the input log and what to do with the fits. Zero values
// take the defaults from the calib package.
type Options struct {
	DataDir          string
	ResultsDir       string
	DataFile         string // empty selects the most recently dated log
	Plot             bool
	PlotFile         string
	GridCols         int
	SaveMixedEffects bool // false saves the independent fits instead
	SaveFile         string
}

func (o Options) withDefaults() Options {
	if o.DataDir == "" {
		o.DataDir = calib.DefaultDataDir
	}
	if o.ResultsDir == "" {
		o.ResultsDir = calib.DefaultResultsDir
	}
	if o.SaveFile == "" {
		o.SaveFile = calib.DefaultSaveFilename
	}
	if o.PlotFile == "" {
		o.PlotFile = calib.DefaultPlotFilename
	}
	if o.GridCols <= 0 {
		o.GridCols = plot.DefaultGridCols
	}
	return o
}

// Results carries everything one calibration run produced.
type Results struct {
	LogFile      string // log the events came from
	Events       []types.CalibrationEvent
	Independent  *types.PokeFits
	MixedEffects *types.PokeFits
	Model        *fit.MixedModel
	Diagnostics  map[string]fit.Diagnostics
	SavedPath    string // where the chosen collection was written
	PlotPath     string // empty when plotting was off or failed
}

// Run executes the calibration pipeline and returns both fit collections.
// The saved file holds the mixed-effects MAP fits unless Options says
// otherwise. Plot failures only warn; load, fit and save failures abort.
func Run(opts Options) (*Results, error) {
	opts = opts.withDefaults()
	defer calib.TimeTrack(time.Now(), "calibration run")

	events, logFile, err := calib.LoadEvents(opts.DataDir, opts.DataFile)
	if err != nil {
		return nil, err
	}

	indep, err := fit.IndependentFits(events)
	if err != nil {
		return nil, fmt.Errorf("independent fits: %w", err)
	}
	mixed, model, err := fit.MixedEffectsFits(events)
	if err != nil {
		return nil, fmt.Errorf("mixed-effects fit: %w", err)
	}

	res := &Results{
		LogFile:      logFile,
		Events:       events,
		Independent:  indep,
		MixedEffects: mixed,
		Model:        model,
		Diagnostics:  fit.IndependentDiagnostics(events),
	}

	if opts.Plot {
		plotPath := filepath.Join(opts.ResultsDir, opts.PlotFile)
		if err := plot.WritePNG(plotPath, events, indep, mixed, plot.Options{GridCols: opts.GridCols}); err != nil {
			calib.Warnf("plotting failed: %v", err)
		} else {
			res.PlotPath = plotPath
			calib.Infof("wrote plot: %s", plotPath)
		}
	}

	chosen := mixed
	if !opts.SaveMixedEffects {
		chosen = indep
	}
	savedPath := filepath.Join(opts.ResultsDir, opts.SaveFile)
	if err := calib.WriteResults(savedPath, chosen); err != nil {
		return nil, err
	}
	res.SavedPath = savedPath
	calib.Infof("wrote results: %s", savedPath)
	return res, nil
}
