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
	"path/filepath"

	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/modutils"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	scoreHistBins = 50
	numRULBins    = 10
)

// RULBinRate is a share of anomalous rows within a RUL interval
type RULBinRate struct {
	Lower float64
	Upper float64
	Rate  float64
	Count int
}

// AnomalyRateByRUL splits the RUL range [0, max RUL] into equally
// wide bins and calculates the share of anomalous rows in each of them.
// Empty bins have zero rate.
func AnomalyRateByRUL(rows []eval.ScoredRow, numBins int) []RULBinRate {
	if len(rows) == 0 || numBins <= 0 {
		return []RULBinRate{}
	}
	var maxRUL float64
	for _, r := range rows {
		maxRUL = max(maxRUL, r.RUL)
	}
	if maxRUL == 0 {
		maxRUL = 1
	}
	width := maxRUL / float64(numBins)
	ans := make([]RULBinRate, numBins)
	anomalies := make([]int, numBins)
	for i := range ans {
		ans[i].Lower = float64(i) * width
		ans[i].Upper = float64(i+1) * width
	}
	for _, r := range rows {
		idx := min(int(r.RUL/width), numBins-1)
		if idx < 0 {
			idx = 0
		}
		ans[idx].Count++
		if r.IsAnomaly {
			anomalies[idx]++
		}
	}
	for i := range ans {
		if ans[i].Count > 0 {
			ans[i].Rate = float64(anomalies[i]) / float64(ans[i].Count)
		}
	}
	return ans
}

// StandardPlots creates a 2x2 diagnostic figure of a detector:
// score distributions of normal and anomalous rows, scores of the first
// unit over its lifetime, score vs. RUL and anomaly rate by RUL.
// The function returns a path of the created PNG file.
func StandardPlots(
	rows []eval.ScoredRow,
	threshold float64,
	scoreLabel, method, outDir string,
) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("failed to create plots: %w", eval.ErrNoRows)
	}

	// score distribution
	pDist := plot.New()
	pDist.Title.Text = fmt.Sprintf("%s: %s distribution", method, scoreLabel)
	pDist.X.Label.Text = scoreLabel
	pDist.Y.Label.Text = "count"
	var normal, anomalous []float64
	for _, r := range rows {
		if r.IsAnomaly {
			anomalous = append(anomalous, r.Score)

		} else {
			normal = append(normal, r.Score)
		}
	}
	if err := addHistogram(pDist, normal, scoreHistBins, "normal", colorNormal); err != nil {
		return "", fmt.Errorf("failed to create plots: %w", err)
	}
	if err := addHistogram(pDist, anomalous, scoreHistBins, "anomaly", colorAnomaly); err != nil {
		return "", fmt.Errorf("failed to create plots: %w", err)
	}

	// first unit over time
	units := eval.GroupRowsByUnit(rows)
	firstUnit := units[0]
	pUnit := plot.New()
	pUnit.Title.Text = fmt.Sprintf("%s over time (unit %d)", scoreLabel, firstUnit[0].UnitID)
	pUnit.X.Label.Text = "cycle"
	pUnit.Y.Label.Text = scoreLabel
	unitPts := make(plotter.XYs, len(firstUnit))
	for i, r := range firstUnit {
		unitPts[i] = plotter.XY{X: float64(r.Cycle), Y: r.Score}
	}
	if err := addLine(pUnit, unitPts, scoreLabel, colorNormal, false); err != nil {
		return "", fmt.Errorf("failed to create plots: %w", err)
	}
	thrPts := plotter.XYs{
		{X: unitPts[0].X, Y: threshold},
		{X: unitPts[len(unitPts)-1].X, Y: threshold},
	}
	if err := addLine(pUnit, thrPts, "threshold", colorThreshold, true); err != nil {
		return "", fmt.Errorf("failed to create plots: %w", err)
	}

	// score vs RUL
	pRUL := plot.New()
	pRUL.Title.Text = fmt.Sprintf("%s vs RUL", scoreLabel)
	pRUL.X.Label.Text = "RUL"
	pRUL.Y.Label.Text = scoreLabel
	var normalPts, anomalyPts plotter.XYs
	for _, r := range rows {
		if r.IsAnomaly {
			anomalyPts = append(anomalyPts, plotter.XY{X: r.RUL, Y: r.Score})

		} else {
			normalPts = append(normalPts, plotter.XY{X: r.RUL, Y: r.Score})
		}
	}
	if err := addScatter(pRUL, normalPts, "normal", colorNormal); err != nil {
		return "", fmt.Errorf("failed to create plots: %w", err)
	}
	if err := addScatter(pRUL, anomalyPts, "anomaly", colorAnomaly); err != nil {
		return "", fmt.Errorf("failed to create plots: %w", err)
	}

	// anomaly rate by RUL
	pRate := plot.New()
	pRate.Title.Text = "anomaly rate by RUL"
	pRate.X.Label.Text = "RUL bin"
	pRate.Y.Label.Text = "anomaly rate"
	rates := AnomalyRateByRUL(rows, numRULBins)
	values := make(plotter.Values, len(rates))
	names := make([]string, len(rates))
	for i, r := range rates {
		values[i] = r.Rate
		names[i] = fmt.Sprintf("%.0f", r.Lower)
	}
	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return "", fmt.Errorf("failed to create plots: %w", err)
	}
	bars.Color = colorAnomaly
	bars.LineStyle.Width = vg.Length(0)
	pRate.Add(bars)
	pRate.NominalX(names...)

	path := filepath.Join(outDir, modutils.PlotFileName(method))
	if err := savePanels([][]*plot.Plot{{pDist, pUnit}, {pRUL, pRate}}, path); err != nil {
		return "", err
	}
	log.Info().Str("path", path).Str("method", method).Msg("saved analysis plots")
	return path, nil
}
