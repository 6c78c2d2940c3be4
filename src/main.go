// Command autocal analyses pyControl solenoid autocalibration logs.
//
// It loads the most recent (or a named) .tsv session log, fits per-poke
// linear calibrations two ways (independent OLS per poke and per-poke MAP
// estimates from one mixed-effects regression), renders a diagnostic facet
// plot, and writes the chosen parameters as a Python dict literal for the
// task hardware definitions to load.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ThomasAkam/pyControl-hardware/src/autocal"
	"github.com/ThomasAkam/pyControl-hardware/src/calib"
	"github.com/ThomasAkam/pyControl-hardware/src/plot"
)

func main() {
	cfg := calib.LoadConfig()

	dataDir := flag.String("data-dir", cfg.DataDir, "Directory holding autocalibration .tsv logs")
	resultsDir := flag.String("results-dir", cfg.ResultsDir, "Directory calibration results and plots are written to")
	dataFile := flag.String("file", "", "Data filename to analyse (default: most recently dated log)")
	plotFlag := flag.Bool("plot", true, "Render the per-poke diagnostic plot")
	plotFile := flag.String("plot-file", calib.DefaultPlotFilename, "Plot filename, written under the results directory")
	gridCols := flag.Int("grid-cols", plot.DefaultGridCols, "Facet columns in the diagnostic plot")
	saveME := flag.Bool("save-mixed-effects", true, "Save the mixed-effects MAP fits; false saves the independent fits")
	saveFile := flag.String("save-filename", calib.DefaultSaveFilename, "Results filename, written under the results directory")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	flag.Parse()

	calib.SetLogLevel(*logLevel)
	fmt.Printf("[init] data_dir=%s results_dir=%s file=%s plot=%v save_mixed_effects=%v\n",
		*dataDir, *resultsDir, *dataFile, *plotFlag, *saveME)

	res, err := autocal.Run(autocal.Options{
		DataDir:          *dataDir,
		ResultsDir:       *resultsDir,
		DataFile:         *dataFile,
		Plot:             *plotFlag,
		PlotFile:         *plotFile,
		GridCols:         *gridCols,
		SaveMixedEffects: *saveME,
		SaveFile:         *saveFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	for _, poke := range res.Independent.Pokes {
		ip, _ := res.Independent.Get(poke)
		mp, _ := res.MixedEffects.Get(poke)
		if d, ok := res.Diagnostics[poke]; ok {
			fmt.Printf("[poke %s] n=%d vol=%.1f-%.1fuL indep(s=%.2f i=%.2f r2=%.3f rmse=%.2f) map(s=%.2f i=%.2f)\n",
				poke, d.N, d.VolMinUl, d.VolMaxUl, ip.Slope, ip.Intercept, d.R2, d.RMSE, mp.Slope, mp.Intercept)
		} else {
			fmt.Printf("[poke %s] indep(s=%.2f i=%.2f) map(s=%.2f i=%.2f)\n",
				poke, ip.Slope, ip.Intercept, mp.Slope, mp.Intercept)
		}
	}
	m := res.Model
	fmt.Printf("[mixed-effects] fixed(s=%.2f i=%.2f) poke_sd(s=%.3f i=%.3f corr=%.2f) resid_sd=%.2f reml=%.1f evals=%d\n",
		m.Slope, m.Intercept, m.SlopeSD, m.InterceptSD, m.Corr, m.ResidSD, m.REML, m.FuncEvals)
	if res.PlotPath != "" {
		fmt.Printf("[plot] %s\n", res.PlotPath)
	}
	fmt.Printf("[done] %d pokes, %d events -> %s\n", res.Independent.Len(), len(res.Events), res.SavedPath)
}
