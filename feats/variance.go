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

	"github.com/czcorpus/rulizer/dataset"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultVarianceTolerance = 0.001
)

// ConstantSensors returns sensors with sample variance (n-1 denominator)
// below the tolerance. Variance of a single-row column is undefined
// and such a column is kept.
func ConstantSensors(train *dataset.Table, sensors []string, tol float64) ([]string, error) {
	ans := make([]string, 0, len(sensors))
	for _, s := range sensors {
		vals, err := train.Column(s)
		if err != nil {
			return nil, fmt.Errorf("failed to determine constant sensors: %w", err)
		}
		if len(vals) < 2 {
			continue
		}
		if stat.Variance(vals, nil) < tol {
			ans = append(ans, s)
		}
	}
	return ans, nil
}
