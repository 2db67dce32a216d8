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
	"strings"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
)

const errorHistBins = 30

// PredictionPlotFileName creates a file name for RUL prediction plots
func PredictionPlotFileName(method string) string {
	return strings.ReplaceAll(strings.ToLower(method), " ", "_") + "_rul_predictions.png"
}

// PredictionPlots shows predicted vs. true RUL (with the line of perfect
// predictions) and a histogram of prediction errors.
func PredictionPlots(
	preds []eval.PredictionRecord,
	truth []dataset.TrueRUL,
	method, outDir string,
) (string, error) {
	predicted, actual, err := eval.AlignByUnit(preds, truth)
	if err != nil {
		return "", fmt.Errorf("failed to create prediction plots: %w", err)
	}
	if len(predicted) == 0 {
		return "", fmt.Errorf("failed to create prediction plots: %w", eval.ErrNoRows)
	}

	pScatter := plot.New()
	pScatter.Title.Text = fmt.Sprintf("%s: predicted vs true RUL", method)
	pScatter.X.Label.Text = "true RUL"
	pScatter.Y.Label.Text = "predicted RUL"
	pts := make(plotter.XYs, len(predicted))
	var hi float64
	errs := make([]float64, len(predicted))
	for i := range predicted {
		pts[i] = plotter.XY{X: actual[i], Y: predicted[i]}
		hi = max(hi, actual[i], predicted[i])
		errs[i] = predicted[i] - actual[i]
	}
	if err := addScatter(pScatter, pts, "units", colorNormal); err != nil {
		return "", fmt.Errorf("failed to create prediction plots: %w", err)
	}
	perfect := plotter.XYs{{X: 0, Y: 0}, {X: hi, Y: hi}}
	if err := addLine(pScatter, perfect, "perfect prediction", colorAnomaly, true); err != nil {
		return "", fmt.Errorf("failed to create prediction plots: %w", err)
	}

	pErr := plot.New()
	pErr.Title.Text = "prediction error distribution"
	pErr.X.Label.Text = "predicted - true RUL"
	pErr.Y.Label.Text = "count"
	if err := addHistogram(pErr, errs, errorHistBins, "error", colorNeutral); err != nil {
		return "", fmt.Errorf("failed to create prediction plots: %w", err)
	}

	path := filepath.Join(outDir, PredictionPlotFileName(method))
	if err := savePanels([][]*plot.Plot{{pScatter, pErr}}, path); err != nil {
		return "", err
	}
	log.Info().Str("path", path).Str("method", method).Msg("saved prediction plots")
	return path, nil
}
