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

package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable(t *testing.T) *Table {
	tbl := NewTable([]string{ColUnitID, ColTimeCycles, "a", "b"})
	require.NoError(t, tbl.AppendRow([]float64{3, 1, 10, 20}))
	require.NoError(t, tbl.AppendRow([]float64{1, 1, 11, 21}))
	require.NoError(t, tbl.AppendRow([]float64{3, 2, 12, 22}))
	require.NoError(t, tbl.AppendRow([]float64{1, 2, 13, 23}))
	return tbl
}

func TestGroupByUnitKeepsFirstAppearanceOrder(t *testing.T) {
	groups, err := sampleTable(t).GroupByUnit()
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, 3, groups[0].UnitID)
	assert.Equal(t, []int{0, 2}, groups[0].Rows)
	assert.Equal(t, 1, groups[1].UnitID)
	assert.Equal(t, []int{1, 3}, groups[1].Rows)
}

func TestMatrixFollowsRequestedOrder(t *testing.T) {
	m, err := sampleTable(t).Matrix([]string{"b", "a"})
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 20.0, m.At(0, 0))
	assert.Equal(t, 10.0, m.At(0, 1))

	_, err = sampleTable(t).Matrix([]string{"x"})
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestTransformsDoNotMutateSource(t *testing.T) {
	src := sampleTable(t)
	ext, err := src.WithColumn("a", []float64{0, 0, 0, 0})
	require.NoError(t, err)
	v, _ := src.Value(0, "a")
	assert.Equal(t, 10.0, v)
	v, _ = ext.Value(0, "a")
	assert.Equal(t, 0.0, v)

	dropped := src.DropColumns("b", "nonexistent")
	assert.Equal(t, []string{ColUnitID, ColTimeCycles, "a"}, dropped.Columns())
	assert.Equal(t, 4, src.NumCols())

	filtered := src.Filter(func(row []float64) bool { return row[0] == 1 })
	assert.Equal(t, 2, filtered.NumRows())
	assert.Equal(t, 4, src.NumRows())

	_, err = src.WithColumn("c", []float64{1})
	assert.Error(t, err)
}
