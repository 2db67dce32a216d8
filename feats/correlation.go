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
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultCorrelationThreshold = 0.8
)

// DefaultRedundantSensors lists sensors known to duplicate information
// of other sensors in CMAPSS data. Earlier items are removed first.
var DefaultRedundantSensors = []string{"sensor_9", "sensor_20"}

// CorrPair is a pair of highly correlated columns. First always
// precedes Second in the source column order.
type CorrPair struct {
	First       string  `json:"first"`
	Second      string  `json:"second"`
	Correlation float64 `json:"correlation"`
}

func (p CorrPair) String() string {
	return fmt.Sprintf("%s ~ %s: %.3f", p.First, p.Second, p.Correlation)
}

// CorrelationMatrix calculates Pearson correlation of all column pairs
func CorrelationMatrix(tbl *dataset.Table, columns []string) ([][]float64, error) {
	data := make([][]float64, len(columns))
	for i, c := range columns {
		vals, err := tbl.Column(c)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate correlation matrix: %w", err)
		}
		data[i] = vals
	}
	ans := make([][]float64, len(columns))
	for i := range columns {
		ans[i] = make([]float64, len(columns))
		ans[i][i] = 1
	}
	for i := range columns {
		for j := i + 1; j < len(columns); j++ {
			r := stat.Correlation(data[i], data[j], nil)
			ans[i][j] = r
			ans[j][i] = r
		}
	}
	return ans, nil
}

// CorrelatedPairs returns column pairs with |r| > threshold sorted
// by |r| in descending order. Ties keep the column order.
func CorrelatedPairs(tbl *dataset.Table, columns []string, threshold float64) ([]CorrPair, error) {
	matrix, err := CorrelationMatrix(tbl, columns)
	if err != nil {
		return nil, err
	}
	ans := make([]CorrPair, 0, len(columns))
	for i := range columns {
		for j := i + 1; j < len(columns); j++ {
			r := matrix[i][j]
			if math.IsNaN(r) || math.Abs(r) <= threshold {
				continue
			}
			ans = append(ans, CorrPair{First: columns[i], Second: columns[j], Correlation: r})
		}
	}
	slices.SortStableFunc(ans, func(a, b CorrPair) int {
		return cmp.Compare(math.Abs(b.Correlation), math.Abs(a.Correlation))
	})
	return ans, nil
}

// PruneCorrelated selects one column of each correlated pair for removal.
// Pairs are processed in their order and pairs with an already removed
// member are skipped. The member listed earlier in `precedence` is removed.
// If only one member is listed, it is removed. If none is listed,
// the member appearing later in `columns` is removed.
func PruneCorrelated(pairs []CorrPair, columns []string, precedence []string) []string {
	removed := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if slices.Contains(removed, pair.First) || slices.Contains(removed, pair.Second) {
			continue
		}
		p1 := slices.Index(precedence, pair.First)
		p2 := slices.Index(precedence, pair.Second)
		var victim string
		switch {
		case p1 >= 0 && p2 >= 0:
			if p1 < p2 {
				victim = pair.First

			} else {
				victim = pair.Second
			}
		case p1 >= 0:
			victim = pair.First
		case p2 >= 0:
			victim = pair.Second
		default:
			if slices.Index(columns, pair.First) > slices.Index(columns, pair.Second) {
				victim = pair.First

			} else {
				victim = pair.Second
			}
			log.Warn().
				Str("pair", pair.String()).
				Str("removed", victim).
				Msg("correlated pair not covered by redundancy table, removing the later column")
		}
		removed = append(removed, victim)
	}
	return removed
}
