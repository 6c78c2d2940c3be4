package calib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ThomasAkam/pyControl-hardware/src/pylit"
	"github.com/ThomasAkam/pyControl-hardware/src/types"
)

// FormatResults renders fits as the Python dict literal the task software
// loads with ast.literal_eval: {poke: {'s': slope, 'i': intercept}, ...}.
// Pokes appear in collection order.
func FormatResults(fits *types.PokeFits) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, poke := range fits.Pokes {
		if i > 0 {
			b.WriteString(", ")
		}
		p := fits.Params[poke]
		b.WriteString(pylit.FormatKey(poke))
		b.WriteString(": {'s': ")
		b.WriteString(pylit.FormatFloat(p.Slope))
		b.WriteString(", 'i': ")
		b.WriteString(pylit.FormatFloat(p.Intercept))
		b.WriteString("}")
	}
	b.WriteByte('}')
	return b.String()
}

// WriteResults writes fits to path as a plain truncate-and-write, creating
// the directory if needed.
func WriteResults(path string, fits *types.PokeFits) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(FormatResults(fits)), 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

// ReadResults parses a calibration results file back into a fit collection.
func ReadResults(path string) (*types.PokeFits, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	v, err := pylit.Parse(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	top, ok := v.(*pylit.Dict)
	if !ok {
		return nil, fmt.Errorf("parse %s: top level is %T, want dict", path, v)
	}
	fits := types.NewPokeFits()
	for _, poke := range top.Keys {
		inner, ok := top.Values[poke].(*pylit.Dict)
		if !ok {
			return nil, fmt.Errorf("parse %s: poke %s entry is %T, want dict", path, poke, top.Values[poke])
		}
		s, ok := inner.Float("s")
		if !ok {
			return nil, fmt.Errorf("parse %s: poke %s missing 's'", path, poke)
		}
		icept, ok := inner.Float("i")
		if !ok {
			return nil, fmt.Errorf("parse %s: poke %s missing 'i'", path, poke)
		}
		fits.Add(poke, types.FitParams{Slope: s, Intercept: icept})
	}
	return fits, nil
}
