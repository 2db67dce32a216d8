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
	"cmp"
	"fmt"
	"slices"

	"github.com/czcorpus/rulizer/dataset"
)

const (
	// EarlyDetectionRUL is a RUL above which a first detection
	// is considered early (i.e. useful for maintenance planning)
	EarlyDetectionRUL = 50.0

	// FalsePositiveRUL is a RUL above which a first detection
	// is considered a false alarm
	FalsePositiveRUL = 150.0
)

// ScoredRow is a single scored observation of a unit
type ScoredRow struct {
	UnitID    int     `json:"unitId"`
	Cycle     int     `json:"cycle"`
	RUL       float64 `json:"rul"`
	Score     float64 `json:"score"`
	IsAnomaly bool    `json:"isAnomaly"`
}

// NewScoredRows combines a table (with unit, cycle and RUL columns)
// with the scores. A row is anomalous if its score exceeds the threshold.
func NewScoredRows(tbl *dataset.Table, scores []float64, threshold float64) ([]ScoredRow, error) {
	if err := tbl.RequireColumns(dataset.ColUnitID, dataset.ColTimeCycles, dataset.ColRUL); err != nil {
		return nil, fmt.Errorf("failed to create scored rows: %w", err)
	}
	if len(scores) != tbl.NumRows() {
		return nil, fmt.Errorf(
			"failed to create scored rows: %d scores for %d rows", len(scores), tbl.NumRows())
	}
	units, _ := tbl.Column(dataset.ColUnitID)
	cycles, _ := tbl.Column(dataset.ColTimeCycles)
	ruls, _ := tbl.Column(dataset.ColRUL)
	ans := make([]ScoredRow, len(scores))
	for i, s := range scores {
		ans[i] = ScoredRow{
			UnitID:    int(units[i]),
			Cycle:     int(cycles[i]),
			RUL:       ruls[i],
			Score:     s,
			IsAnomaly: s > threshold,
		}
	}
	return ans, nil
}

// AnomalyMetrics describes how well anomalies flag degrading units
type AnomalyMetrics struct {
	Method               string  `json:"method"`
	Dataset              string  `json:"dataset"`
	TotalUnits           int     `json:"totalUnits"`
	UnitsDetected        int     `json:"unitsDetected"`
	DetectionRate        float64 `json:"detectionRate"`
	AvgFirstDetectionRUL float64 `json:"avgFirstDetectionRul"`
	AvgDetectionCyclePct float64 `json:"avgDetectionCyclePct"`
	EarlyDetections      int     `json:"earlyDetections"`
	FalsePositiveRate    float64 `json:"falsePositiveRate"`
	AnomalyPercentage    float64 `json:"anomalyPercentage"`
}

// GroupRowsByUnit returns rows of each unit sorted by cycle. Units
// are ordered by their ID.
func GroupRowsByUnit(rows []ScoredRow) [][]ScoredRow {
	byUnit := make(map[int][]ScoredRow)
	for _, r := range rows {
		byUnit[r.UnitID] = append(byUnit[r.UnitID], r)
	}
	ids := make([]int, 0, len(byUnit))
	for id := range byUnit {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ans := make([][]ScoredRow, len(ids))
	for i, id := range ids {
		unitRows := byUnit[id]
		slices.SortStableFunc(unitRows, func(a, b ScoredRow) int {
			return cmp.Compare(a.Cycle, b.Cycle)
		})
		ans[i] = unitRows
	}
	return ans
}

// CalculateAnomalyMetrics evaluates detection coverage based on the first
// anomalous observation of each unit.
func CalculateAnomalyMetrics(rows []ScoredRow, method, datasetID string) AnomalyMetrics {
	ans := AnomalyMetrics{
		Method:  method,
		Dataset: datasetID,
	}
	if len(rows) == 0 {
		return ans
	}
	units := GroupRowsByUnit(rows)
	ans.TotalUnits = len(units)

	var sumFirstRUL, sumCyclePct float64
	var numFalsePositives, numAnomalies int
	for _, unitRows := range units {
		maxCycle := unitRows[len(unitRows)-1].Cycle
		detected := false
		for _, r := range unitRows {
			if !r.IsAnomaly {
				continue
			}
			numAnomalies++
			if detected {
				continue
			}
			detected = true
			ans.UnitsDetected++
			sumFirstRUL += r.RUL
			if maxCycle > 0 {
				sumCyclePct += float64(r.Cycle) / float64(maxCycle) * 100
			}
			if r.RUL > EarlyDetectionRUL {
				ans.EarlyDetections++
			}
			if r.RUL > FalsePositiveRUL {
				numFalsePositives++
			}
		}
	}
	ans.DetectionRate = float64(ans.UnitsDetected) / float64(ans.TotalUnits) * 100
	if ans.UnitsDetected > 0 {
		ans.AvgFirstDetectionRUL = sumFirstRUL / float64(ans.UnitsDetected)
		ans.AvgDetectionCyclePct = sumCyclePct / float64(ans.UnitsDetected)
		ans.FalsePositiveRate = float64(numFalsePositives) / float64(ans.UnitsDetected) * 100
	}
	ans.AnomalyPercentage = float64(numAnomalies) / float64(len(rows)) * 100
	return ans
}
