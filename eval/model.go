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
	"context"
	"errors"
	"fmt"

	"github.com/czcorpus/rulizer/dataset"
)

var (
	ErrNoSuchModel            = errors.New("no such model")
	ErrNotFitted              = errors.New("model is not fitted")
	ErrEmptyHealthyPopulation = errors.New("no healthy samples in training data")
	ErrZeroThreshold          = errors.New("anomaly threshold is zero")
	ErrInvalidThreshold       = errors.New("anomaly threshold must be a positive finite number")
	ErrInvalidMaxRUL          = errors.New("maximum RUL must be a non-negative finite number")
	ErrNoRows                 = errors.New("no rows to score")
	ErrUnitMismatch           = errors.New("predicted and true units do not match")
)

// Detector is a generalization of a model producing a per-row
// anomaly score with a scalar decision threshold learned from
// training data. All the detectors share the same RUL heuristic
// and the same evaluation.
type Detector interface {

	// Fit learns the model from a training table. The table must
	// contain the RUL column and all the feature columns.
	Fit(ctx context.Context, train *dataset.Table, features []string) error

	// Score returns a non-negative anomaly score for each row
	// of the table (in the table order).
	Score(tbl *dataset.Table) ([]float64, error)

	// Threshold returns a score above which a row is considered
	// anomalous.
	Threshold() float64

	IsFitted() bool

	Features() []string

	GetInfo() string

	SaveToFile(string) error

	// CreateModelFileName should generate proper model filename based
	// on the feature (i.e. input) file name. This should keep data and
	// model names organized and easy to search through.
	CreateModelFileName(featFile string) string
}

// PredictRUL applies the degradation heuristic to scores produced
// by any fitted detector.
func PredictRUL(det Detector, test *dataset.Table, maxRUL float64) ([]PredictionRecord, error) {
	if !det.IsFitted() {
		return nil, ErrNotFitted
	}
	if err := ValidateRULParams(det.Threshold(), maxRUL); err != nil {
		return nil, err
	}
	scores, err := det.Score(test)
	if err != nil {
		return nil, fmt.Errorf("failed to predict RUL: %w", err)
	}
	groups, err := test.GroupByUnit()
	if err != nil {
		return nil, fmt.Errorf("failed to predict RUL: %w", err)
	}
	return PredictFromScores(groups, scores, det.Threshold(), maxRUL)
}
