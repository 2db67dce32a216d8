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
	"path/filepath"
	"testing"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainTable(t *testing.T) *dataset.Table {
	tbl := dataset.NewTable([]string{dataset.ColUnitID, dataset.ColTimeCycles, "s1", "s2", dataset.ColRUL})
	// healthy: s1 alternates 0/2 (mean 1, std 1), s2 alternates 10/14 (mean 12, std 2)
	for i := range 10 {
		v1, v2 := 0.0, 10.0
		if i%2 == 1 {
			v1, v2 = 2, 14
		}
		require.NoError(t, tbl.AppendRow([]float64{1, float64(i + 1), v1, v2, float64(200 - i)}))
	}
	for i := range 4 {
		require.NoError(t, tbl.AppendRow([]float64{1, float64(i + 11), 5, 12, float64(3 - i)}))
	}
	return tbl
}

func TestFitAndScore(t *testing.T) {
	m := NewModel(125, 95)
	require.NoError(t, m.Fit(context.Background(), trainTable(t), []string{"s1", "s2"}))
	assert.True(t, m.IsFitted())
	assert.InDeltaSlice(t, []float64{1, 12}, m.Means, 1e-12)
	assert.InDeltaSlice(t, []float64{1, 2}, m.StdDevs, 1e-12)

	sample := dataset.NewTable([]string{"s1", "s2"})
	require.NoError(t, sample.AppendRow([]float64{1, 18}))
	require.NoError(t, sample.AppendRow([]float64{-2, 12}))
	scores, err := m.Score(sample)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 3}, scores, 1e-12)
	assert.InDelta(t, 4.0, m.Threshold(), 1e-12)
}

func TestPredictRULWithZScore(t *testing.T) {
	m := NewModel(125, 95)
	require.NoError(t, m.Fit(context.Background(), trainTable(t), []string{"s1", "s2"}))
	test := dataset.NewTable([]string{dataset.ColUnitID, "s1", "s2"})
	require.NoError(t, test.AppendRow([]float64{1, 1, 12}))
	require.NoError(t, test.AppendRow([]float64{2, 5, 12}))
	preds, err := eval.PredictRUL(m, test, 150)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.InDelta(t, 150.0, preds[0].PredictedRUL, 1e-9)
	assert.InDelta(t, 0.0, preds[1].PredictedRUL, 1e-9)
}

func TestUnfittedAndErrors(t *testing.T) {
	m := NewModel(125, 95)
	_, err := m.Score(trainTable(t))
	assert.ErrorIs(t, err, eval.ErrNotFitted)
	_, err = eval.PredictRUL(m, trainTable(t), 150)
	assert.ErrorIs(t, err, eval.ErrNotFitted)

	m = NewModel(1000, 95)
	assert.ErrorIs(t, m.Fit(context.Background(), trainTable(t), []string{"s1"}), eval.ErrEmptyHealthyPopulation)
}

func TestFitContext(t *testing.T) {
	var noCtx context.Context
	m := NewModel(125, 95)
	require.NoError(t, m.Fit(noCtx, trainTable(t), []string{"s1", "s2"}))
	assert.InDelta(t, 4.0, m.Threshold(), 1e-12)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m = NewModel(125, 95)
	assert.ErrorIs(t, m.Fit(ctx, trainTable(t), []string{"s1", "s2"}), context.Canceled)
	assert.False(t, m.IsFitted())
}

func TestSaveLoad(t *testing.T) {
	m := NewModel(125, 95)
	require.NoError(t, m.Fit(context.Background(), trainTable(t), []string{"s1", "s2"}))
	path := filepath.Join(t.TempDir(), "FD001.model.zscore.json")
	require.NoError(t, m.SaveToFile(path))
	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
}
