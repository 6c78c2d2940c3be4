package calib

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ThomasAkam/pyControl-hardware/src/pylit"
)

const logHeader = "time\ttype\tsubtype\tcontent\n"

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLogTimestampForms(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"calibration-2023-06-15.tsv", true},
		{"box7-2023-06-15-143052.tsv", true},
		{"box7-2023-06-15-14-30-52.tsv", true},
		{"nodate.tsv", false},
		{"x-20230615.tsv", false},
		{"x-.tsv", false},
	}
	for _, c := range cases {
		if _, ok := logTimestamp(c.name); ok != c.ok {
			t.Fatalf("logTimestamp(%q) ok = %v, want %v", c.name, ok, c.ok)
		}
	}
}

func TestLatestLogPicksMostRecent(t *testing.T) {
	names := []string{
		"calibration-2023-01-01.tsv",
		"calibration-2023-06-15.tsv",
		"calibration-2022-12-31.tsv",
	}
	got, err := LatestLog(names)
	if err != nil {
		t.Fatalf("LatestLog: %v", err)
	}
	if got != "calibration-2023-06-15.tsv" {
		t.Fatalf("LatestLog = %s, want calibration-2023-06-15.tsv", got)
	}
}

func TestLatestLogMixedLayouts(t *testing.T) {
	names := []string{
		"box7-2023-06-15.tsv",
		"box7-2023-06-15-081530.tsv",
		"box7-2023-06-14-23-59-59.tsv",
		"notes.tsv", // no timestamp, skipped
	}
	got, err := LatestLog(names)
	if err != nil {
		t.Fatalf("LatestLog: %v", err)
	}
	if got != "box7-2023-06-15-081530.tsv" {
		t.Fatalf("LatestLog = %s, want box7-2023-06-15-081530.tsv", got)
	}
}

func TestLatestLogNoDatedNames(t *testing.T) {
	if _, err := LatestLog([]string{"notes.tsv", "scratch.tsv"}); !errors.Is(err, ErrNoCalibrationLogs) {
		t.Fatalf("err = %v, want ErrNoCalibrationLogs", err)
	}
}

func TestSelectLogExplicitMissing(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "calibration-2023-01-01.tsv", logHeader)

	_, err := SelectLog(dir, "calibration-2023-02-02.tsv")
	if !errors.Is(err, ErrLogNotFound) {
		t.Fatalf("err = %v, want ErrLogNotFound", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "calibration-2023-02-02.tsv") || !strings.Contains(msg, dir) {
		t.Fatalf("error does not name file and directory: %s", msg)
	}
}

func TestSelectLogExplicitMustBeListed(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "calibration-2023-01-01.tsv", logHeader)
	writeLog(t, dir, "notes.txt", "scratch\n")

	// a file that exists but is not one of the .tsv logs is not loadable
	_, err := SelectLog(dir, "notes.txt")
	if !errors.Is(err, ErrLogNotFound) {
		t.Fatalf("err = %v, want ErrLogNotFound", err)
	}

	got, err := SelectLog(dir, "calibration-2023-01-01.tsv")
	if err != nil {
		t.Fatalf("SelectLog: %v", err)
	}
	if got != "calibration-2023-01-01.tsv" {
		t.Fatalf("SelectLog = %s", got)
	}
}

func TestSelectLogEmptyDir(t *testing.T) {
	dir := t.TempDir()
	_, err := SelectLog(dir, "")
	if !errors.Is(err, ErrNoCalibrationLogs) {
		t.Fatalf("err = %v, want ErrNoCalibrationLogs", err)
	}
	if !strings.Contains(err.Error(), dir) {
		t.Fatalf("error does not name directory: %v", err)
	}
}

func TestLoadEventsVolumeDerivation(t *testing.T) {
	dir := t.TempDir()
	log := logHeader +
		"0.0\tinfo\trun_start\tsession begin\n" +
		"1.5\tprint\tprint\t{'poke': 1, 'release_duration': 100, 'release_weight': 0.5, 'n_release': 50}\n" +
		"2.0\tstate\t\twait_for_poke\n" +
		"2.5\tprint\tprint\t{'poke': 2, 'release_duration': 150, 'release_weight': -0.25, 'n_release': 25}\n" +
		"\n" +
		"3.0\tprint\tprint\t\"{'poke': 1, 'release_duration': 200, 'release_weight': 1.2, 'n_release': 60}\"\n"
	writeLog(t, dir, "calibration-2023-06-15.tsv", log)

	events, name, err := LoadEvents(dir, "")
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if name != "calibration-2023-06-15.tsv" {
		t.Fatalf("chose %s", name)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	// 0.5 g over 50 releases = 10 uL per release
	if got := events[0].SingleReleaseVolUl; math.Abs(got-10) > 1e-9 {
		t.Fatalf("event 0 volume = %v, want 10", got)
	}
	// negative weight is sign-normalized: 0.25 g over 25 releases = 10 uL
	if events[1].ReleaseWeightG != 0.25 {
		t.Fatalf("event 1 weight = %v, want 0.25", events[1].ReleaseWeightG)
	}
	if got := events[1].SingleReleaseVolUl; math.Abs(got-10) > 1e-9 {
		t.Fatalf("event 1 volume = %v, want 10", got)
	}
	// quoted content cells parse too: 1.2 g over 60 releases = 20 uL
	if got := events[2].SingleReleaseVolUl; math.Abs(got-20) > 1e-9 {
		t.Fatalf("event 2 volume = %v, want 20", got)
	}
	if events[0].Poke != "1" || events[1].Poke != "2" || events[2].Poke != "1" {
		t.Fatalf("poke ids wrong: %v %v %v", events[0].Poke, events[1].Poke, events[2].Poke)
	}
	if events[0].NRelease != 50 || events[0].ReleaseDurationMs != 100 {
		t.Fatalf("event 0 fields wrong: %+v", events[0])
	}
}

func TestLoadEventsPicksLatestOfSeveral(t *testing.T) {
	dir := t.TempDir()
	old := logHeader +
		"1.0\tprint\tprint\t{'poke': 1, 'release_duration': 10, 'release_weight': 0.1, 'n_release': 10}\n"
	latest := logHeader +
		"1.0\tprint\tprint\t{'poke': 9, 'release_duration': 20, 'release_weight': 0.2, 'n_release': 10}\n"
	writeLog(t, dir, "calibration-2023-01-01.tsv", old)
	writeLog(t, dir, "calibration-2023-06-15.tsv", latest)
	writeLog(t, dir, "calibration-2022-12-31.tsv", old)

	events, name, err := LoadEvents(dir, "")
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if name != "calibration-2023-06-15.tsv" {
		t.Fatalf("chose %s, want calibration-2023-06-15.tsv", name)
	}
	if len(events) != 1 || events[0].Poke != "9" {
		t.Fatalf("loaded wrong file contents: %+v", events)
	}
}

func TestLoadEventsBadPrintContent(t *testing.T) {
	dir := t.TempDir()
	log := logHeader + "1.0\tprint\tprint\tnot a dict\n"
	writeLog(t, dir, "calibration-2023-01-01.tsv", log)

	_, _, err := LoadEvents(dir, "calibration-2023-01-01.tsv")
	if err == nil {
		t.Fatal("want error for malformed print content")
	}
	if !errors.Is(err, pylit.ErrSyntax) {
		t.Fatalf("err = %v, want wrapped pylit.ErrSyntax", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("error lacks line number: %v", err)
	}
}

func TestParseLogHeaderValidation(t *testing.T) {
	if _, err := ParseLog(strings.NewReader("")); err == nil {
		t.Fatal("want error for empty log")
	}
	_, err := ParseLog(strings.NewReader("time\ttype\tpayload\n"))
	if err == nil || !strings.Contains(err.Error(), "subtype") {
		t.Fatalf("err = %v, want missing column error", err)
	}
}

func TestParseLogPrintRowMissingContent(t *testing.T) {
	log := logHeader + "1.0\tprint\tprint\n"
	_, err := ParseLog(strings.NewReader(log))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("err = %v, want line 2 error", err)
	}
}

func TestParseLogMissingEventFields(t *testing.T) {
	log := logHeader + "1.0\tprint\tprint\t{'poke': 1, 'release_duration': 100}\n"
	_, err := ParseLog(strings.NewReader(log))
	if err == nil || !strings.Contains(err.Error(), "release_weight") {
		t.Fatalf("err = %v, want missing field error", err)
	}
}
