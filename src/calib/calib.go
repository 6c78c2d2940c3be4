// Package calib loads pyControl autocalibration logs and persists fitted
// calibration parameters.
//
// Autocalibration sessions log one tab separated row per event. Solenoid
// release measurements arrive as print rows whose content column holds a
// Python dict literal:
//
//	{'poke': 3, 'release_duration': 120, 'release_weight': -1.05, 'n_release': 50}
//
// Weights are scale deltas and can come out negative depending on how the
// scale was tared, so they are sign-normalized on load.
package calib

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ThomasAkam/pyControl-hardware/src/pylit"
	"github.com/ThomasAkam/pyControl-hardware/src/types"
)

// Sentinel errors for callers that branch on failure cause.
var (
	// ErrLogNotFound reports that an explicitly requested data file is not
	// present in the data directory.
	ErrLogNotFound = errors.New("calibration log not found")

	// ErrNoCalibrationLogs reports that the data directory holds no dated
	// .tsv logs to select from.
	ErrNoCalibrationLogs = errors.New("no calibration logs found")
)

// Log filenames carry the session timestamp after the first dash, e.g.
// calibration-2023-06-15.tsv or box7-2023-06-15-143052.tsv.
var logTimeLayouts = []string{
	"2006-01-02-150405",
	"2006-01-02-15-04-05",
	"2006-01-02",
}

// logTimestamp extracts the session timestamp encoded in a log filename.
func logTimestamp(name string) (time.Time, bool) {
	_, rest, ok := strings.Cut(name, "-")
	if !ok {
		return time.Time{}, false
	}
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		rest = rest[:dot]
	}
	for _, layout := range logTimeLayouts {
		if ts, err := time.Parse(layout, rest); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ListLogs returns the .tsv log names in dir, sorted by name.
func ListLogs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tsv") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// LatestLog returns the name with the most recent filename timestamp. Names
// without a parseable timestamp are skipped with a warning.
func LatestLog(names []string) (string, error) {
	best := ""
	var bestTime time.Time
	for _, name := range names {
		ts, ok := logTimestamp(name)
		if !ok {
			Warnf("skipping %s: no timestamp in filename", name)
			continue
		}
		if best == "" || ts.After(bestTime) {
			best, bestTime = name, ts
		}
	}
	if best == "" {
		return "", ErrNoCalibrationLogs
	}
	return best, nil
}

// SelectLog resolves which log in dir to load: name when given (it must be
// one of the discovered .tsv logs), otherwise the most recently dated log.
func SelectLog(dir, name string) (string, error) {
	names, err := ListLogs(dir)
	if err != nil {
		return "", err
	}
	if name != "" {
		for _, n := range names {
			if n == name {
				return name, nil
			}
		}
		return "", fmt.Errorf("%w: %s not in %s", ErrLogNotFound, name, dir)
	}
	latest, err := LatestLog(names)
	if err != nil {
		return "", fmt.Errorf("%w in %s", ErrNoCalibrationLogs, dir)
	}
	return latest, nil
}

// LoadEvents loads the calibration events from the named log in dir. An
// empty name selects the most recently dated log. The chosen filename is
// returned alongside the events.
func LoadEvents(dir, name string) ([]types.CalibrationEvent, string, error) {
	chosen, err := SelectLog(dir, name)
	if err != nil {
		return nil, "", err
	}
	Infof("loading file: %s", chosen)
	path := filepath.Join(dir, chosen)
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	events, err := ParseLog(f)
	if err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", path, err)
	}
	Debugf("parsed %d calibration events from %s", len(events), chosen)
	return events, chosen, nil
}

// ParseLog reads a pyControl log stream and returns the calibration events
// from its print rows. Rows of any other subtype are ignored.
func ParseLog(r io.Reader) ([]types.CalibrationEvent, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		return nil, errors.New("empty log: no header row")
	}
	header := strings.Split(strings.TrimRight(sc.Text(), "\r"), "\t")
	subtypeCol, contentCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "subtype":
			subtypeCol = i
		case "content":
			contentCol = i
		}
	}
	if subtypeCol < 0 || contentCol < 0 {
		return nil, fmt.Errorf("header missing subtype/content columns: %q", header)
	}
	var events []types.CalibrationEvent
	line := 1
	for sc.Scan() {
		line++
		row := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(row) == "" {
			continue
		}
		fields := strings.Split(row, "\t")
		if subtypeCol >= len(fields) || strings.TrimSpace(fields[subtypeCol]) != "print" {
			continue
		}
		if contentCol >= len(fields) {
			return nil, fmt.Errorf("line %d: print row has no content field", line)
		}
		ev, err := parseEvent(fields[contentCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return events, nil
}

// parseEvent decodes one print payload. Some acquisition setups quote the
// content cell, so surrounding double quotes are stripped first.
func parseEvent(content string) (types.CalibrationEvent, error) {
	var ev types.CalibrationEvent
	text := strings.TrimSpace(content)
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	v, err := pylit.Parse(text)
	if err != nil {
		return ev, fmt.Errorf("print content: %w", err)
	}
	d, ok := v.(*pylit.Dict)
	if !ok {
		return ev, fmt.Errorf("print content is %T, want dict", v)
	}
	pokeVal, ok := d.Values["poke"]
	if !ok {
		return ev, errors.New("print content missing 'poke'")
	}
	poke, ok := pylit.ScalarString(pokeVal)
	if !ok {
		return ev, fmt.Errorf("poke has unsupported type %T", pokeVal)
	}
	dur, ok := d.Float("release_duration")
	if !ok {
		return ev, errors.New("print content missing 'release_duration'")
	}
	weight, ok := d.Float("release_weight")
	if !ok {
		return ev, errors.New("print content missing 'release_weight'")
	}
	n, ok := d.Int("n_release")
	if !ok {
		return ev, errors.New("print content missing 'n_release'")
	}
	if n < 1 {
		return ev, fmt.Errorf("n_release = %d, want >= 1", n)
	}
	weight = math.Abs(weight)
	ev = types.CalibrationEvent{
		Poke:               poke,
		ReleaseDurationMs:  dur,
		ReleaseWeightG:     weight,
		NRelease:           n,
		SingleReleaseVolUl: weight / float64(n) * 1000,
	}
	return ev, nil
}
