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

package feats

import (
	"fmt"
	"math"

	"github.com/czcorpus/rulizer/dataset"
	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes columns to zero mean and unit variance using
// parameters learned from training data only. The standard deviation
// is the population one; zero deviation is replaced by 1.
type Scaler struct {
	Columns []string  `msgpack:"columns" json:"columns"`
	Means   []float64 `msgpack:"means" json:"means"`
	Scales  []float64 `msgpack:"scales" json:"scales"`
}

// FitScaler learns scaling parameters of the columns
func FitScaler(train *dataset.Table, columns []string) (*Scaler, error) {
	if train.NumRows() == 0 {
		return nil, fmt.Errorf("failed to fit scaler: empty table")
	}
	ans := &Scaler{
		Columns: columns,
		Means:   make([]float64, len(columns)),
		Scales:  make([]float64, len(columns)),
	}
	for i, c := range columns {
		vals, err := train.Column(c)
		if err != nil {
			return nil, fmt.Errorf("failed to fit scaler: %w", err)
		}
		mean, variance := stat.PopMeanVariance(vals, nil)
		ans.Means[i] = mean
		ans.Scales[i] = math.Sqrt(variance)
		if ans.Scales[i] == 0 {
			ans.Scales[i] = 1
		}
	}
	return ans, nil
}

// Transform returns a new table with the scaler's columns standardized.
// Other columns are left untouched.
func (s *Scaler) Transform(tbl *dataset.Table) (*dataset.Table, error) {
	ans := tbl
	for i, c := range s.Columns {
		vals, err := tbl.Column(c)
		if err != nil {
			return nil, fmt.Errorf("failed to apply scaler: %w", err)
		}
		for j, v := range vals {
			vals[j] = (v - s.Means[i]) / s.Scales[i]
		}
		ans, err = ans.WithColumn(c, vals)
		if err != nil {
			return nil, fmt.Errorf("failed to apply scaler: %w", err)
		}
	}
	return ans, nil
}
