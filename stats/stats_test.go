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

package stats

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "runs.sqlite"))
	require.NoError(t, err)
	require.NoError(t, db.Init())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.Init())
	ex, err := db.tableExists("run_prediction")
	require.NoError(t, err)
	assert.True(t, ex)
	ex, err = db.tableExists("query_stats")
	require.NoError(t, err)
	assert.False(t, ex)
}

func TestAddAndGetRun(t *testing.T) {
	db := openTestDB(t)
	m := eval.Metrics{RMSE: 20.5, MAE: 15, NASAScore: 400, NumUnits: 100}
	id, err := db.AddRun(RunRecord{
		Dataset:   "FD001",
		Method:    "pca",
		Params:    `{"numComponents":5}`,
		Threshold: 0.42,
		Metrics:   &m,
		ModelPath: "FD001.model.pca.json",
	})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	rec, err := db.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "FD001", rec.Dataset)
	assert.Equal(t, "pca", rec.Method)
	assert.Equal(t, 0.42, rec.Threshold)
	require.NotNil(t, rec.Metrics)
	assert.Equal(t, m, *rec.Metrics)
	assert.Nil(t, rec.Anomaly)
	assert.Equal(t, ParamsDigest("FD001", "pca", `{"numComponents":5}`), rec.ParamsDigest)

	_, err = db.GetRun("nonexistent")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListFilters(t *testing.T) {
	db := openTestDB(t)
	t0 := time.Now()
	_, err := db.AddRun(RunRecord{Dataset: "FD001", Method: "pca", Created: t0.Add(-time.Hour)})
	require.NoError(t, err)
	latestPCA, err := db.AddRun(RunRecord{Dataset: "FD001", Method: "pca", Created: t0})
	require.NoError(t, err)
	_, err = db.AddRun(RunRecord{Dataset: "FD002", Method: "zscore", Created: t0.Add(-time.Minute)})
	require.NoError(t, err)

	all, err := db.GetAllRuns(ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, latestPCA, all[0].ID)

	pca, err := db.GetAllRuns(ListFilter{}.SetMethod("pca"))
	require.NoError(t, err)
	assert.Len(t, pca, 2)

	fd2, err := db.GetAllRuns(ListFilter{}.SetDataset("FD002"))
	require.NoError(t, err)
	require.Len(t, fd2, 1)
	assert.Equal(t, "zscore", fd2[0].Method)

	id, err := db.GetLatestRunID(ListFilter{}.SetDataset("FD001").SetMethod("pca"))
	require.NoError(t, err)
	assert.Equal(t, latestPCA, id)

	_, err = db.GetLatestRunID(ListFilter{}.SetDataset("FD004"))
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPredictions(t *testing.T) {
	db := openTestDB(t)
	id, err := db.AddRun(RunRecord{Dataset: "FD001", Method: "pca"})
	require.NoError(t, err)
	preds := []eval.PredictionRecord{
		{UnitID: 2, PredictedRUL: 80, LastError: 0.1, MeanError: 0.05, MaxError: 0.2},
		{UnitID: 1, PredictedRUL: 120, LastError: 0.01, MeanError: 0.02, MaxError: 0.03},
	}
	truth := []dataset.TrueRUL{{UnitID: 1, RUL: 112}}
	require.NoError(t, db.AddPredictions(id, preds, truth))

	rows, err := db.GetRunPredictions(id)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].UnitID)
	require.NotNil(t, rows[0].TrueRUL)
	assert.Equal(t, 112.0, *rows[0].TrueRUL)
	assert.Equal(t, 2, rows[1].UnitID)
	assert.Nil(t, rows[1].TrueRUL)
	assert.Equal(t, 0.2, rows[1].MaxError)
}

func TestGetRunDetail(t *testing.T) {
	db := openTestDB(t)
	t0 := time.Now()
	older, err := db.AddRun(RunRecord{Dataset: "FD001", Method: "pca", Created: t0.Add(-time.Hour)})
	require.NoError(t, err)
	newer, err := db.AddRun(RunRecord{Dataset: "FD001", Method: "zscore", Created: t0})
	require.NoError(t, err)
	require.NoError(t, db.AddPredictions(
		older,
		[]eval.PredictionRecord{{UnitID: 1, PredictedRUL: 90}},
		[]dataset.TrueRUL{{UnitID: 1, RUL: 100}},
	))

	detail, err := db.GetRunDetail(older, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, "pca", detail.Run.Method)
	require.Len(t, detail.Predictions, 1)
	assert.Equal(t, 90.0, detail.Predictions[0].PredictedRUL)

	detail, err = db.GetRunDetail(LatestRunAlias, ListFilter{}.SetDataset("FD001"))
	require.NoError(t, err)
	assert.Equal(t, newer, detail.Run.ID)
	assert.Empty(t, detail.Predictions)

	detail, err = db.GetRunDetail(LatestRunAlias, ListFilter{}.SetMethod("pca"))
	require.NoError(t, err)
	assert.Equal(t, older, detail.Run.ID)

	_, err = db.GetRunDetail(LatestRunAlias, ListFilter{}.SetDataset("FD003"))
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = db.GetRunDetail("nonexistent", ListFilter{})
	assert.ErrorIs(t, err, ErrRunNotFound)
}
