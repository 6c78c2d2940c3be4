package calib

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Default directories and filenames, matching the layout the acquisition rig
// writes into.
const (
	DefaultDataDir      = "autocalibration_data"
	DefaultResultsDir   = "autocalibration_results"
	DefaultSaveFilename = "calibration_results.txt"
	DefaultPlotFilename = "calibration_fits.png"
)

// Config holds the filesystem layout for calibration runs. Values come from
// the environment, optionally seeded from a .env file; command line flags
// override them at the entry points.
type Config struct {
	DataDir    string // where autocalibration .tsv logs are collected
	ResultsDir string // where fits and plots are written
}

// LoadConfig resolves the layout from AUTOCALIBRATION_DATA_PATH and
// AUTOCALIBRATION_RESULTS_PATH, seeding the environment from the first .env
// file found in the working directory or under ~/.pycontrol. Variables
// already set in the environment win over .env entries.
func LoadConfig() Config {
	for _, p := range envFilePaths() {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			break
		}
	}
	return Config{
		DataDir:    getEnvString("AUTOCALIBRATION_DATA_PATH", DefaultDataDir),
		ResultsDir: getEnvString("AUTOCALIBRATION_RESULTS_PATH", DefaultResultsDir),
	}
}

func envFilePaths() []string {
	paths := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".pycontrol", ".env"))
	}
	return paths
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
