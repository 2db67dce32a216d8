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

package pca

import (
	"encoding/json"
	"fmt"

	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/modutils"
	"gonum.org/v1/gonum/mat"
)

type jsonizedModel struct {
	NumComponents int           `json:"numComponents"`
	HealthyRUL    float64       `json:"healthyRul"`
	Percentile    float64       `json:"percentile"`
	Features      []string      `json:"features"`
	Means         []float64     `json:"means"`
	Basis         [][]float64   `json:"basis"`
	Variances     []float64     `json:"variances"`
	Threshold     float64       `json:"threshold"`
	Stats         TrainingStats `json:"stats"`
}

// SaveToFile stores a fitted model as JSON. If the path ends
// with .gz, the file is gzip compressed.
func (e *Estimator) SaveToFile(filePath string) error {
	if e.state == nil {
		return fmt.Errorf("failed to save PCA model: %w", eval.ErrNotFitted)
	}
	rows, cols := e.state.basis.Dims()
	tmpModel := jsonizedModel{
		NumComponents: e.NumComponents,
		HealthyRUL:    e.HealthyRUL,
		Percentile:    e.Percentile,
		Features:      e.state.features,
		Means:         e.state.means,
		Basis:         make([][]float64, rows),
		Variances:     e.state.variances,
		Threshold:     e.state.threshold,
		Stats:         e.state.stats,
	}
	for i := range rows {
		tmpModel.Basis[i] = make([]float64, cols)
		mat.Row(tmpModel.Basis[i], i, e.state.basis)
	}
	data, err := json.Marshal(tmpModel)
	if err != nil {
		return fmt.Errorf("failed to save PCA model to a file: %w", err)
	}

	if err := modutils.WriteModelFile(filePath, data); err != nil {
		return fmt.Errorf("failed to save PCA model to a file: %w", err)
	}
	return nil
}

func LoadFromFile(filePath string) (*Estimator, error) {
	data, err := modutils.ReadModelFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load PCA model from file %s: %w", filePath, err)
	}
	var tmpModel jsonizedModel
	if err := json.Unmarshal(data, &tmpModel); err != nil {
		return nil, fmt.Errorf("failed to load PCA model from file %s: %w", filePath, err)
	}
	numFeats := len(tmpModel.Features)
	if numFeats == 0 || tmpModel.NumComponents < 1 ||
		len(tmpModel.Means) != numFeats || len(tmpModel.Basis) != numFeats {
		return nil, fmt.Errorf("failed to load PCA model from file %s: inconsistent dimensions", filePath)
	}
	if len(tmpModel.Variances) < tmpModel.NumComponents {
		return nil, fmt.Errorf(
			"failed to load PCA model from file %s: expected at least %d component variances, got %d",
			filePath, tmpModel.NumComponents, len(tmpModel.Variances))
	}
	basis := mat.NewDense(numFeats, tmpModel.NumComponents, nil)
	for i, row := range tmpModel.Basis {
		if len(row) != tmpModel.NumComponents {
			return nil, fmt.Errorf("failed to load PCA model from file %s: inconsistent dimensions", filePath)
		}
		basis.SetRow(i, row)
	}
	return &Estimator{
		NumComponents: tmpModel.NumComponents,
		HealthyRUL:    tmpModel.HealthyRUL,
		Percentile:    tmpModel.Percentile,
		state: &fittedState{
			features:  tmpModel.Features,
			means:     tmpModel.Means,
			basis:     basis,
			variances: tmpModel.Variances,
			threshold: tmpModel.Threshold,
			stats:     tmpModel.Stats,
		},
	}, nil
}
