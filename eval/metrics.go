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

package eval

import (
	"fmt"
	"math"

	"github.com/czcorpus/rulizer/dataset"
	"gonum.org/v1/gonum/stat"
)

const (
	nasaLateDenominator  = 10.0
	nasaEarlyDenominator = 13.0
)

// Metrics summarizes RUL prediction quality
type Metrics struct {
	RMSE      float64 `json:"rmse"`
	MAE       float64 `json:"mae"`
	NASAScore float64 `json:"nasaScore"`

	// MeanError is the mean signed error (predicted - true)
	MeanError float64 `json:"meanError"`

	// StdError is the population standard deviation
	// of the signed error
	StdError float64 `json:"stdError"`
	NumUnits int     `json:"numUnits"`
}

func (m Metrics) String() string {
	return fmt.Sprintf(
		"RMSE: %.2f, MAE: %.2f, NASA score: %.2f, mean error: %.2f, std error: %.2f (%d units)",
		m.RMSE, m.MAE, m.NASAScore, m.MeanError, m.StdError, m.NumUnits,
	)
}

// NASAScore calculates the asymmetric scoring function of the PHM08
// challenge. Late predictions (diff > 0) are penalized more heavily
// than early ones.
func NASAScore(diffs []float64) float64 {
	var ans float64
	for _, d := range diffs {
		if d < 0 {
			ans += math.Exp(-d/nasaEarlyDenominator) - 1

		} else {
			ans += math.Exp(d/nasaLateDenominator) - 1
		}
	}
	return ans
}

// ComputeMetrics calculates metrics from aligned predicted
// and true values.
func ComputeMetrics(predicted, truth []float64) (Metrics, error) {
	if len(predicted) != len(truth) {
		return Metrics{}, fmt.Errorf(
			"%w: %d predictions, %d true values", ErrUnitMismatch, len(predicted), len(truth))
	}
	if len(predicted) == 0 {
		return Metrics{}, ErrNoRows
	}
	diffs := make([]float64, len(predicted))
	var sqSum, absSum float64
	for i := range predicted {
		diffs[i] = predicted[i] - truth[i]
		sqSum += diffs[i] * diffs[i]
		absSum += math.Abs(diffs[i])
	}
	n := float64(len(diffs))
	mean, variance := stat.PopMeanVariance(diffs, nil)
	return Metrics{
		RMSE:      math.Sqrt(sqSum / n),
		MAE:       absSum / n,
		NASAScore: NASAScore(diffs),
		MeanError: mean,
		StdError:  math.Sqrt(variance),
		NumUnits:  len(diffs),
	}, nil
}

// AlignByUnit pairs predictions with ground truth by unit ID.
// Any duplicate, missing or surplus unit on either side is an error.
// The returned slices follow the order of predictions.
func AlignByUnit(preds []PredictionRecord, truth []dataset.TrueRUL) ([]float64, []float64, error) {
	truthMap := make(map[int]float64, len(truth))
	for _, t := range truth {
		if _, ok := truthMap[t.UnitID]; ok {
			return nil, nil, fmt.Errorf("%w: duplicate true RUL for unit %d", ErrUnitMismatch, t.UnitID)
		}
		truthMap[t.UnitID] = t.RUL
	}
	predicted := make([]float64, len(preds))
	aligned := make([]float64, len(preds))
	seen := make(map[int]bool, len(preds))
	for i, p := range preds {
		if seen[p.UnitID] {
			return nil, nil, fmt.Errorf("%w: duplicate prediction for unit %d", ErrUnitMismatch, p.UnitID)
		}
		seen[p.UnitID] = true
		v, ok := truthMap[p.UnitID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: no true RUL for unit %d", ErrUnitMismatch, p.UnitID)
		}
		predicted[i] = p.PredictedRUL
		aligned[i] = v
	}
	if len(seen) != len(truthMap) {
		for _, t := range truth {
			if !seen[t.UnitID] {
				return nil, nil, fmt.Errorf("%w: no prediction for unit %d", ErrUnitMismatch, t.UnitID)
			}
		}
	}
	return predicted, aligned, nil
}

// Evaluate joins predictions with ground truth by unit ID
// and computes the metrics.
func Evaluate(preds []PredictionRecord, truth []dataset.TrueRUL) (Metrics, error) {
	predicted, aligned, err := AlignByUnit(preds, truth)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to evaluate predictions: %w", err)
	}
	return ComputeMetrics(predicted, aligned)
}
