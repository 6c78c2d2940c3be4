// Package plot renders diagnostic charts of calibration fits: one facet per
// poke showing the measured events and both fitted lines.
package plot

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sort"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ThomasAkam/pyControl-hardware/src/types"
)

// DefaultGridCols is the facet column count, matching the poke bank width on
// the standard rigs.
const DefaultGridCols = 7

const (
	defaultFacetWidth  = 360
	defaultFacetHeight = 300
	footerH            = 26
)

// Options controls the facet grid layout. Zero values take the defaults.
type Options struct {
	GridCols    int // facets per row
	FacetWidth  int // pixels
	FacetHeight int // pixels
}

func (o Options) withDefaults() Options {
	if o.GridCols <= 0 {
		o.GridCols = DefaultGridCols
	}
	if o.FacetWidth <= 0 {
		o.FacetWidth = defaultFacetWidth
	}
	if o.FacetHeight <= 0 {
		o.FacetHeight = defaultFacetHeight
	}
	return o
}

// RenderFits renders one facet per poke: measured events as dots, the
// independent fit in blue and the mixed-effects MAP fit in red. Pokes follow
// event order. A facet that fails to render is left blank rather than
// failing the whole grid, since the plot is diagnostic output only.
func RenderFits(events []types.CalibrationEvent, indep, mixed *types.PokeFits, opts Options) (image.Image, error) {
	opts = opts.withDefaults()
	order := types.PokeOrder(events)
	if len(order) == 0 {
		return nil, fmt.Errorf("no events to plot")
	}
	vols := map[string][]float64{}
	durs := map[string][]float64{}
	for _, ev := range events {
		vols[ev.Poke] = append(vols[ev.Poke], ev.SingleReleaseVolUl)
		durs[ev.Poke] = append(durs[ev.Poke], ev.ReleaseDurationMs)
	}

	cols := opts.GridCols
	if len(order) < cols {
		cols = len(order)
	}
	rows := (len(order) + cols - 1) / cols
	w := cols * opts.FacetWidth
	h := rows*opts.FacetHeight + footerH
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	for i, poke := range order {
		var ip, mp *types.FitParams
		if indep != nil {
			if p, ok := indep.Get(poke); ok {
				ip = &p
			}
		}
		if mixed != nil {
			if p, ok := mixed.Get(poke); ok {
				mp = &p
			}
		}
		img, err := renderFacet(poke, vols[poke], durs[poke], ip, mp, opts.FacetWidth, opts.FacetHeight)
		if err != nil {
			fmt.Printf("[plot] facet %s failed: %v\n", poke, err)
			img = blank(opts.FacetWidth, opts.FacetHeight)
		}
		x0 := (i % cols) * opts.FacetWidth
		y0 := (i / cols) * opts.FacetHeight
		r := image.Rect(x0, y0, x0+opts.FacetWidth, y0+opts.FacetHeight)
		draw.Draw(canvas, r, img, img.Bounds().Min, draw.Src)
	}

	footer := fmt.Sprintf("blue: independent fit   red: mixed-effects MAP   %d pokes, %d events", len(order), len(events))
	drawFooter(canvas, footer)
	return canvas, nil
}

// WritePNG renders the facet grid and writes it to path, creating the
// directory if needed.
func WritePNG(path string, events []types.CalibrationEvent, indep, mixed *types.PokeFits, opts Options) error {
	img, err := RenderFits(events, indep, mixed, opts)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}

func renderFacet(poke string, vols, durs []float64, indep, mixed *types.FitParams, w, h int) (image.Image, error) {
	if len(vols) == 0 {
		return nil, fmt.Errorf("no events")
	}
	xs := append([]float64(nil), vols...)
	ys := append([]float64(nil), durs...)
	sortPointsByX(xs, ys)
	if len(xs) == 1 {
		// go-chart cannot render a single point or a zero x-range
		xs = append(xs, xs[0]+1)
		ys = append(ys, ys[0])
	}
	xmin, xmax := xs[0], xs[len(xs)-1]
	if xmax <= xmin {
		xmax = xmin + 1
	}

	series := []chart.Series{
		chart.ContinuousSeries{
			Name:    "events",
			XValues: xs,
			YValues: ys,
			Style:   pointStyle(chart.ColorAlternateGray),
		},
	}
	if indep != nil {
		series = append(series, fitLine("independent", *indep, xmin, xmax, chart.ColorBlue))
	}
	if mixed != nil {
		series = append(series, fitLine("mixed-effects", *mixed, xmin, xmax, chart.ColorRed))
	}

	ch := chart.Chart{
		Title:  poke,
		Width:  w,
		Height: h,
		XAxis:  chart.XAxis{Name: "single release vol (uL)"},
		YAxis:  chart.YAxis{Name: "duration (ms)"},
		Series: series,
	}
	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return png.Decode(&buf)
}

// fitLine is a calibration line evaluated across the measured volume range.
func fitLine(name string, p types.FitParams, xmin, xmax float64, col drawing.Color) chart.ContinuousSeries {
	return chart.ContinuousSeries{
		Name:    name,
		XValues: []float64{xmin, xmax},
		YValues: []float64{p.Intercept + p.Slope*xmin, p.Intercept + p.Slope*xmax},
		Style: chart.Style{
			StrokeColor: col,
			StrokeWidth: 2.5,
		},
	}
}

// pointStyle renders a series as dots only.
func pointStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: chart.Disabled,
		DotWidth:    4,
		DotColor:    col,
	}
}

// sortPointsByX orders the paired slices by x, keeping them aligned.
func sortPointsByX(xs, ys []float64) {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })
	sx := make([]float64, len(xs))
	sy := make([]float64, len(ys))
	for i, j := range idx {
		sx[i] = xs[j]
		sy[i] = ys[j]
	}
	copy(xs, sx)
	copy(ys, sy)
}

// blank is the fallback facet when rendering fails.
func blank(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return img
}

// drawFooter writes the color key under the facet grid.
func drawFooter(img *image.RGBA, text string) {
	b := img.Bounds()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 70, G: 70, B: 70, A: 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(8), Y: fixed.I(b.Max.Y - 9)},
	}
	d.DrawString(text)
}
