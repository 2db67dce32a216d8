// Copyright 2025 Tomas Machalek <tomas.machalek@gmail.com>
// Copyright 2025 Department of Linguistics,
// Faculty of Arts, Charles University
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plots

import (
	"fmt"
	"image/color"
	"os"
	"slices"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var (
	colorNormal    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorAnomaly   = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	colorThreshold = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	colorNeutral   = color.RGBA{R: 90, G: 90, B: 90, A: 255}
)

const (
	panelWidth  = 8 * vg.Inch
	panelHeight = 6 * vg.Inch
)

// savePanels draws a grid of plots into a single PNG file
func savePanels(panels [][]*plot.Plot, path string) error {
	numRows := len(panels)
	numCols := len(panels[0])
	img := vgimg.New(panelWidth*vg.Length(numCols), panelHeight*vg.Length(numRows))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      numRows,
		Cols:      numCols,
		PadX:      vg.Millimeter * 8,
		PadY:      vg.Millimeter * 8,
		PadTop:    vg.Millimeter * 4,
		PadBottom: vg.Millimeter * 4,
		PadLeft:   vg.Millimeter * 4,
		PadRight:  vg.Millimeter * 4,
	}
	canvases := plot.Align(panels, tiles, dc)
	for i, row := range panels {
		for j, p := range row {
			if p != nil {
				p.Draw(canvases[i][j])
			}
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	defer file.Close()
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(file); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}

// addHistogram adds a histogram of values unless there is nothing
// meaningful to show (no values or a single distinct value)
func addHistogram(p *plot.Plot, values []float64, bins int, label string, clr color.Color) error {
	if len(values) == 0 || slices.Min(values) == slices.Max(values) {
		return nil
	}
	h, err := plotter.NewHist(plotter.Values(values), bins)
	if err != nil {
		return err
	}
	h.FillColor = clr
	h.LineStyle.Width = vg.Length(0)
	p.Add(h)
	p.Legend.Add(label, h)
	return nil
}

func addScatter(p *plot.Plot, pts plotter.XYs, label string, clr color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Color = clr
	sc.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(sc)
	if label != "" {
		p.Legend.Add(label, sc)
	}
	return nil
}

func addLine(p *plot.Plot, pts plotter.XYs, label string, clr color.Color, dashed bool) error {
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.LineStyle.Color = clr
	line.LineStyle.Width = vg.Points(1.5)
	if dashed {
		line.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}
	}
	p.Add(line)
	if label != "" {
		p.Legend.Add(label, line)
	}
	return nil
}
