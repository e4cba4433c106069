// Package plot renders pipeline results to PNG.
package plot

import (
	"fmt"
	"image/color"

	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SaveRateCurve draws the event rate against the window midpoints as a line
// with scatter markers. logX switches the time axis to a log scale, which
// matches log-spaced windows.
func SaveRateCurve(times, rates []float64, logX bool, title, path string) error {
	if len(times) == 0 || len(times) != len(rates) {
		return fmt.Errorf("rate curve needs matching time/rate series, got %d/%d points", len(times), len(rates))
	}

	p := gplot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time [s]"
	p.Y.Label.Text = "Event rate [1/s]"
	if logX {
		p.X.Scale = gplot.LogScale{}
		p.X.Tick.Marker = gplot.LogTicks{Prec: -1}
	}

	pts := make(plotter.XYs, len(times))
	for i := range times {
		pts[i].X = times[i]
		pts[i].Y = rates[i]
	}

	l, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	l.Color = color.RGBA{B: 200, A: 255}
	l.LineStyle.Width = vg.Points(1.5)
	p.Add(l)

	s, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	s.Color = color.RGBA{R: 200, A: 255}
	p.Add(s)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving rate plot: %w", err)
	}
	return nil
}

var seriesColors = []color.RGBA{
	{B: 200, A: 255},
	{R: 200, A: 255},
	{G: 160, A: 255},
	{R: 180, B: 180, A: 255},
	{R: 200, G: 120, A: 255},
	{G: 140, B: 140, A: 255},
}

// SaveSpectrum draws one line per named series over the energy grid.
func SaveSpectrum(energyMeV []float64, series map[string][]float64, names []string, title, path string) error {
	p := gplot.New()
	p.Title.Text = title
	p.X.Label.Text = "Energy [MeV]"
	p.Y.Label.Text = "Fluence [1/cm^2]"

	for i, name := range names {
		values, ok := series[name]
		if !ok {
			return fmt.Errorf("spectrum series %q missing", name)
		}
		if len(values) != len(energyMeV) {
			return fmt.Errorf("spectrum series %q has %d points, grid has %d", name, len(values), len(energyMeV))
		}
		pts := make(plotter.XYs, len(energyMeV))
		for j := range energyMeV {
			pts[j].X = energyMeV[j]
			pts[j].Y = values[j]
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		l.Color = seriesColors[i%len(seriesColors)]
		p.Add(l)
		p.Legend.Add(name, l)
	}
	p.Legend.Top = true

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving spectrum plot: %w", err)
	}
	return nil
}
