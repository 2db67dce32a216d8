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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateAnomalyMetrics(t *testing.T) {
	rows := []ScoredRow{
		// unit 1 (given out of cycle order), first detection at cycle 2 of 4, RUL 60
		{UnitID: 1, Cycle: 3, RUL: 40, IsAnomaly: true},
		{UnitID: 1, Cycle: 1, RUL: 200, IsAnomaly: false},
		{UnitID: 1, Cycle: 2, RUL: 60, IsAnomaly: true},
		{UnitID: 1, Cycle: 4, RUL: 0, IsAnomaly: true},
		// unit 2, first detection at cycle 1 of 2, RUL 160 (false positive)
		{UnitID: 2, Cycle: 1, RUL: 160, IsAnomaly: true},
		{UnitID: 2, Cycle: 2, RUL: 10, IsAnomaly: false},
		// unit 3 never detected
		{UnitID: 3, Cycle: 1, RUL: 1, IsAnomaly: false},
		{UnitID: 3, Cycle: 2, RUL: 0, IsAnomaly: false},
	}
	m := CalculateAnomalyMetrics(rows, "PCA", "FD001")
	assert.Equal(t, "PCA", m.Method)
	assert.Equal(t, 3, m.TotalUnits)
	assert.Equal(t, 2, m.UnitsDetected)
	assert.InDelta(t, 200.0/3, m.DetectionRate, 1e-9)
	assert.InDelta(t, 110.0, m.AvgFirstDetectionRUL, 1e-9)
	assert.InDelta(t, 50.0, m.AvgDetectionCyclePct, 1e-9)
	assert.Equal(t, 2, m.EarlyDetections)
	assert.InDelta(t, 50.0, m.FalsePositiveRate, 1e-9)
	assert.InDelta(t, 50.0, m.AnomalyPercentage, 1e-9)
}

func TestCalculateAnomalyMetricsNothingDetected(t *testing.T) {
	rows := []ScoredRow{{UnitID: 1, Cycle: 1, RUL: 3}, {UnitID: 2, Cycle: 1, RUL: 2}}
	m := CalculateAnomalyMetrics(rows, "Z-Score", "FD002")
	assert.Equal(t, 2, m.TotalUnits)
	assert.Equal(t, 0, m.UnitsDetected)
	assert.Equal(t, 0.0, m.DetectionRate)
	assert.Equal(t, 0.0, m.FalsePositiveRate)
	assert.Equal(t, 0.0, m.AnomalyPercentage)

	empty := CalculateAnomalyMetrics(nil, "x", "y")
	assert.Equal(t, 0, empty.TotalUnits)
}

func TestNewScoredRows(t *testing.T) {
	tbl := dataset.NewTable([]string{dataset.ColUnitID, dataset.ColTimeCycles, dataset.ColRUL})
	require.NoError(t, tbl.AppendRow([]float64{1, 1, 1}))
	require.NoError(t, tbl.AppendRow([]float64{1, 2, 0}))
	rows, err := NewScoredRows(tbl, []float64{0.5, 1.0}, 0.5)
	require.NoError(t, err)
	assert.False(t, rows[0].IsAnomaly)
	assert.True(t, rows[1].IsAnomaly)
	assert.Equal(t, 2, rows[1].Cycle)

	_, err = NewScoredRows(tbl, []float64{1}, 0.5)
	assert.Error(t, err)
}

func TestReporterSortsByAbsoluteError(t *testing.T) {
	reporter := &Reporter{MispredictedUnitsOutPath: filepath.Join(t.TempDir(), "units.tsv")}
	err := reporter.AddPredictions(
		[]PredictionRecord{{UnitID: 1, PredictedRUL: 10}, {UnitID: 2, PredictedRUL: 90}},
		[]dataset.TrueRUL{{UnitID: 1, RUL: 15}, {UnitID: 2, RUL: 50}},
	)
	require.NoError(t, err)
	var buf bytes.Buffer
	reporter.ShowWorstUnits(&buf, 1)
	assert.Contains(t, buf.String(), "unit 2\tLATE")
	assert.NotContains(t, buf.String(), "unit 1")

	require.NoError(t, reporter.SaveMispredictedUnits())
	data, err := os.ReadFile(reporter.MispredictedUnitsOutPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "1\t"))
}
