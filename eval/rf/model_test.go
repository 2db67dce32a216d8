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

package rf

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func separableTable(t *testing.T) *dataset.Table {
	tbl := dataset.NewTable([]string{dataset.ColUnitID, dataset.ColTimeCycles, "s1", "s2", dataset.ColRUL})
	for i := range 40 {
		jitter := float64(i%5) * 0.1
		require.NoError(t, tbl.AppendRow([]float64{1, float64(i + 1), jitter, 1 - jitter, float64(200 - i)}))
	}
	for i := range 40 {
		jitter := float64(i%5) * 0.1
		require.NoError(t, tbl.AppendRow([]float64{2, float64(i + 1), 10 + jitter, 11 - jitter, float64(39 - i)}))
	}
	return tbl
}

func TestFitAndScore(t *testing.T) {
	m := NewModel(30, 125, DefaultVotingThreshold)
	require.NoError(t, m.Fit(context.Background(), separableTable(t), []string{"s1", "s2"}))
	assert.True(t, m.IsFitted())
	assert.Equal(t, []string{"s1", "s2"}, m.Features())

	sample := dataset.NewTable([]string{"s1", "s2"})
	require.NoError(t, sample.AppendRow([]float64{0.2, 0.8}))
	require.NoError(t, sample.AppendRow([]float64{10.2, 10.8}))
	scores, err := m.Score(sample)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Less(t, scores[0], m.Threshold())
	assert.Greater(t, scores[1], m.Threshold())
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestFitRequiresBothClasses(t *testing.T) {
	m := NewModel(10, 1000, DefaultVotingThreshold)
	assert.ErrorIs(t, m.Fit(context.Background(), separableTable(t), []string{"s1"}), eval.ErrEmptyHealthyPopulation)
	m = NewModel(10, -1, DefaultVotingThreshold)
	assert.Error(t, m.Fit(context.Background(), separableTable(t), []string{"s1"}))
	assert.False(t, m.IsFitted())
}

func TestUnfitted(t *testing.T) {
	m := NewModel(10, 125, DefaultVotingThreshold)
	_, err := m.Score(separableTable(t))
	assert.ErrorIs(t, err, eval.ErrNotFitted)
	assert.ErrorIs(t, m.SaveToFile(filepath.Join(t.TempDir(), "x.json")), eval.ErrNotFitted)
}

func TestSaveLoad(t *testing.T) {
	train := separableTable(t)
	m := NewModel(10, 125, DefaultVotingThreshold)
	require.NoError(t, m.Fit(context.Background(), train, []string{"s1", "s2"}))
	expected, err := m.Score(train)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "FD001.model.rf.json.gz")
	require.NoError(t, m.SaveToFile(path))
	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, m.Features(), loaded.Features())
	assert.Equal(t, m.VotingThreshold, loaded.Threshold())
	scores, err := loaded.Score(train)
	require.NoError(t, err)
	assert.InDeltaSlice(t, expected, scores, 1e-12)

	assert.Error(t, m.SaveToFile(filepath.Join(t.TempDir(), "missing", "FD001.model.rf.json.gz")))
}

func TestImplementsDetector(t *testing.T) {
	var det eval.Detector = NewModel(10, 125, DefaultVotingThreshold)
	assert.Equal(t, "FD001.model.rf.json", det.CreateModelFileName("FD001.features.msgpack"))
}
