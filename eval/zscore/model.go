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

package zscore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/modutils"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// Model scores each row by the largest absolute z-score of its
// features. Means and deviations come from healthy rows only.
type Model struct {
	HealthyRUL     float64   `json:"healthyRul"`
	Percentile     float64   `json:"percentile"`
	FeatureColumns []string  `json:"features"`
	Means          []float64 `json:"means"`
	StdDevs        []float64 `json:"stdDevs"`
	ScoreThreshold float64   `json:"threshold"`
	Fitted         bool      `json:"fitted"`
}

func NewModel(healthyRUL, percentile float64) *Model {
	return &Model{
		HealthyRUL: healthyRUL,
		Percentile: percentile,
	}
}

func (m *Model) IsFitted() bool {
	return m.Fitted
}

func (m *Model) Threshold() float64 {
	return m.ScoreThreshold
}

func (m *Model) Features() []string {
	return slices.Clone(m.FeatureColumns)
}

func (m *Model) GetInfo() string {
	return fmt.Sprintf("Z-score model, healthy RUL > %.0f, threshold: %.4f", m.HealthyRUL, m.ScoreThreshold)
}

func (m *Model) CreateModelFileName(featFile string) string {
	return modutils.ModelFileName(featFile, "zscore")
}

func (m *Model) Fit(ctx context.Context, train *dataset.Table, features []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(features) == 0 {
		return fmt.Errorf("failed to fit Z-score model: no features specified")
	}
	if err := train.RequireColumns(append([]string{dataset.ColRUL}, features...)...); err != nil {
		return fmt.Errorf("failed to fit Z-score model: %w", err)
	}
	rulIdx, _ := train.ColumnIndex(dataset.ColRUL)
	healthy := train.Filter(func(row []float64) bool {
		return row[rulIdx] > m.HealthyRUL
	})
	if healthy.NumRows() == 0 {
		return fmt.Errorf("failed to fit Z-score model: %w", eval.ErrEmptyHealthyPopulation)
	}
	means := make([]float64, len(features))
	stds := make([]float64, len(features))
	for i, f := range features {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		vals, _ := healthy.Column(f)
		mean, variance := stat.PopMeanVariance(vals, nil)
		means[i] = mean
		stds[i] = math.Sqrt(variance)
		if stds[i] == 0 {
			stds[i] = 1
		}
	}
	tmp := Model{
		HealthyRUL:     m.HealthyRUL,
		Percentile:     m.Percentile,
		FeatureColumns: slices.Clone(features),
		Means:          means,
		StdDevs:        stds,
		Fitted:         true,
	}
	scores, err := tmp.Score(train)
	if err != nil {
		return fmt.Errorf("failed to fit Z-score model: %w", err)
	}
	tmp.ScoreThreshold, err = eval.Percentile(scores, m.Percentile)
	if err != nil {
		return fmt.Errorf("failed to fit Z-score model: %w", err)
	}
	*m = tmp
	log.Info().
		Int("numHealthy", healthy.NumRows()).
		Float64("threshold", m.ScoreThreshold).
		Msg("fitted Z-score model")
	return nil
}

func (m *Model) Score(tbl *dataset.Table) ([]float64, error) {
	if !m.Fitted {
		return nil, eval.ErrNotFitted
	}
	if tbl.NumRows() == 0 {
		return []float64{}, nil
	}
	data, err := tbl.Matrix(m.FeatureColumns)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate z-scores: %w", err)
	}
	numRows, numFeats := data.Dims()
	ans := make([]float64, numRows)
	for i := range numRows {
		for j := range numFeats {
			z := math.Abs(data.At(i, j)-m.Means[j]) / m.StdDevs[j]
			ans[i] = math.Max(ans[i], z)
		}
	}
	return ans, nil
}

func (m *Model) SaveToFile(filePath string) error {
	if !m.Fitted {
		return fmt.Errorf("failed to save Z-score model: %w", eval.ErrNotFitted)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to save Z-score model to a file: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to save Z-score model to a file: %w", err)
	}
	return nil
}

func LoadFromFile(filePath string) (*Model, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	var ans Model
	if err := json.Unmarshal(data, &ans); err != nil {
		return nil, fmt.Errorf("failed to load Z-score model from file %s: %w", filePath, err)
	}
	if len(ans.Means) != len(ans.FeatureColumns) || len(ans.StdDevs) != len(ans.FeatureColumns) {
		return nil, fmt.Errorf("failed to load Z-score model from file %s: inconsistent dimensions", filePath)
	}
	return &ans, nil
}
