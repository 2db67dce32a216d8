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
	"slices"

	"github.com/czcorpus/rulizer/dataset"
)

const (
	DefaultMaxRUL = 150.0
)

// PredictionRecord is a per-unit RUL estimate
type PredictionRecord struct {
	UnitID       int     `json:"unitId"`
	PredictedRUL float64 `json:"predictedRul"`
	LastError    float64 `json:"lastError"`
	MeanError    float64 `json:"meanError"`
	MaxError     float64 `json:"maxError"`
}

// DegradationRUL maps a single score to RUL. The degradation ratio
// score/threshold is capped at 1 so the result is in [0, maxRUL].
func DegradationRUL(score, threshold, maxRUL float64) float64 {
	degradation := math.Min(score/threshold, 1)
	return maxRUL * (1 - degradation)
}

// ValidateRULParams checks that the degradation heuristic
// produces values within [0, maxRUL] for the threshold.
func ValidateRULParams(threshold, maxRUL float64) error {
	if threshold == 0 {
		return ErrZeroThreshold
	}
	if threshold < 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return fmt.Errorf("%w (got %v)", ErrInvalidThreshold, threshold)
	}
	if maxRUL < 0 || math.IsNaN(maxRUL) || math.IsInf(maxRUL, 0) {
		return fmt.Errorf("%w (got %v)", ErrInvalidMaxRUL, maxRUL)
	}
	return nil
}

// PredictFromScores produces one record per unit group (in the order
// of groups). The last row of each group drives the prediction.
func PredictFromScores(
	groups []dataset.UnitGroup,
	scores []float64,
	threshold float64,
	maxRUL float64,
) ([]PredictionRecord, error) {
	if err := ValidateRULParams(threshold, maxRUL); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, ErrNoRows
	}
	ans := make([]PredictionRecord, len(groups))
	for i, grp := range groups {
		if len(grp.Rows) == 0 {
			return nil, fmt.Errorf("%w: unit %d", ErrNoRows, grp.UnitID)
		}
		unitScores := make([]float64, len(grp.Rows))
		var sum float64
		for j, rowIdx := range grp.Rows {
			if rowIdx >= len(scores) {
				return nil, fmt.Errorf("missing score for row %d", rowIdx)
			}
			unitScores[j] = scores[rowIdx]
			sum += scores[rowIdx]
		}
		last := unitScores[len(unitScores)-1]
		if math.IsNaN(last) || math.IsInf(last, 0) {
			return nil, fmt.Errorf("non-finite score for unit %d", grp.UnitID)
		}
		ans[i] = PredictionRecord{
			UnitID:       grp.UnitID,
			PredictedRUL: DegradationRUL(last, threshold, maxRUL),
			LastError:    last,
			MeanError:    sum / float64(len(unitScores)),
			MaxError:     slices.Max(unitScores),
		}
	}
	return ans, nil
}
