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

package index

import (
	"testing"
	"time"

	"github.com/czcorpus/rulizer/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	db, err := OpenDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreAndReadUnitScores(t *testing.T) {
	db := openTestDB(t)
	rows := []eval.ScoredRow{
		{UnitID: 2, Cycle: 1, RUL: 10, Score: 0.5, IsAnomaly: true},
		{UnitID: 1, Cycle: 300, RUL: 0, Score: 0.9, IsAnomaly: true},
		{UnitID: 1, Cycle: 2, RUL: 298, Score: 0.01},
		{UnitID: 1, Cycle: 1, RUL: 299, Score: 0.02},
	}
	require.NoError(t, db.StoreScores("pca", "FD001", rows))
	require.NoError(t, db.StoreScores("pca", "FD0011", []eval.ScoredRow{{UnitID: 1, Cycle: 5}}))

	unit1, err := db.UnitScores("pca", "FD001", 1)
	require.NoError(t, err)
	require.Len(t, unit1, 3)
	assert.Equal(t, []int{1, 2, 300}, []int{unit1[0].Cycle, unit1[1].Cycle, unit1[2].Cycle})
	assert.Equal(t, rows[1], unit1[2])

	all, err := db.AllScores("pca", "FD001")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, 2, all[3].UnitID)

	none, err := db.UnitScores("zscore", "FD001", 1)
	require.NoError(t, err)
	assert.Empty(t, none)

	ts, err := db.ReadTimestamp(SeriesKey("pca", "FD001"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestStoreScoresReplacesSeries(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.StoreScores("nn", "FD002", []eval.ScoredRow{
		{UnitID: 1, Cycle: 1}, {UnitID: 1, Cycle: 2},
	}))
	require.NoError(t, db.StoreScores("nn", "FD002", []eval.ScoredRow{{UnitID: 3, Cycle: 7, Score: 1.5}}))
	all, err := db.AllScores("nn", "FD002")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 3, all[0].UnitID)
	assert.Equal(t, 1.5, all[0].Score)
}

func TestTimeEncoding(t *testing.T) {
	t0 := time.Date(2025, 3, 4, 10, 11, 12, 13, time.UTC)
	decoded, err := decodeTime(encodeTime(t0))
	require.NoError(t, err)
	assert.Equal(t, t0, decoded)
	_, err = decodeTime([]byte{1, 2})
	assert.Error(t, err)
}

func TestScoreKeyDecoding(t *testing.T) {
	unit, cycle, err := decodeScoreKey(encodeScoreKey("pca", "FD003", 17, 250))
	require.NoError(t, err)
	assert.Equal(t, 17, unit)
	assert.Equal(t, 250, cycle)
	var row eval.ScoredRow
	assert.Error(t, decodeScoreValue([]byte{1}, &row))
}
