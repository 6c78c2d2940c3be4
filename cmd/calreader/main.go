package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ThomasAkam/pyControl-hardware/src/calib"
)

func main() {
	var file string
	flag.StringVar(&file, "file", filepath.Join(calib.DefaultResultsDir, calib.DefaultSaveFilename),
		"Path to a saved calibration results file")
	flag.Parse()
	fits, err := calib.ReadResults(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d poke(s)\n", file, fits.Len())
	for _, poke := range fits.Pokes {
		p, _ := fits.Get(poke)
		fmt.Printf("poke %s: duration_ms = %.2f + %.2f * volume_ul\n", poke, p.Intercept, p.Slope)
	}
}
