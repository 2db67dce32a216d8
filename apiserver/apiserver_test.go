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

package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/czcorpus/rulizer/cnf"
	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/zscore"
	"github.com/czcorpus/rulizer/index"
	"github.com/czcorpus/rulizer/stats"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fittedDetector(t *testing.T) eval.Detector {
	tbl := dataset.NewTable([]string{dataset.ColUnitID, dataset.ColTimeCycles, "s1", "s2", dataset.ColRUL})
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
	m := zscore.NewModel(125, 95)
	require.NoError(t, m.Fit(context.Background(), tbl, []string{"s1", "s2"}))
	return m
}

func testServer(t *testing.T) (*apiServer, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	conf := &cnf.Conf{
		ServedMethod:       "zscore",
		CorsAllowedOrigins: []string{"http://localhost:3000"},
	}
	conf.Dataset.ID = "FD001"
	conf.Detection.MaxRUL = 150

	test := dataset.NewTable([]string{dataset.ColUnitID, dataset.ColTimeCycles, "s1", "s2"})
	require.NoError(t, test.AppendRow([]float64{1, 1, 0, 10}))
	require.NoError(t, test.AppendRow([]float64{1, 2, 1, 12}))
	require.NoError(t, test.AppendRow([]float64{2, 1, 5, 12}))
	data := &dataset.Bundle{
		Test:  test,
		Truth: []dataset.TrueRUL{{UnitID: 1, RUL: 140}, {UnitID: 2, RUL: 10}},
	}

	runsDB, err := stats.NewDatabase(filepath.Join(t.TempDir(), "runs.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { runsDB.Close() })
	require.NoError(t, runsDB.Init())
	_, err = runsDB.AddRun(stats.RunRecord{Dataset: "FD001", Method: "zscore", Threshold: 4})
	require.NoError(t, err)
	_, err = runsDB.AddRun(stats.RunRecord{Dataset: "FD002", Method: "pca", Threshold: 1})
	require.NoError(t, err)

	scoreDB, err := index.OpenDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { scoreDB.Close() })
	require.NoError(t, scoreDB.StoreScores("zscore", "FD001", []eval.ScoredRow{
		{UnitID: 1, Cycle: 1, RUL: 191, Score: 1},
		{UnitID: 1, Cycle: 2, RUL: 190, Score: 4.5, IsAnomaly: true},
	}))

	api, err := newAPIServer(conf, cnf.VersionInfo{Version: "1.0.0"}, fittedDetector(t), data, runsDB, scoreDB)
	require.NoError(t, err)
	return api, api.createEngine()
}

func doGet(engine *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	engine.ServeHTTP(w, req)
	return w
}

func TestVersion(t *testing.T) {
	_, engine := testServer(t)
	w := doGet(engine, "/version")
	require.Equal(t, http.StatusOK, w.Code)
	var ver cnf.VersionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ver))
	assert.Equal(t, "1.0.0", ver.Version)
}

func TestPredictions(t *testing.T) {
	_, engine := testServer(t)
	w := doGet(engine, "/predictions")
	require.Equal(t, http.StatusOK, w.Code)
	var preds []eval.PredictionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &preds))
	require.Len(t, preds, 2)
	assert.Equal(t, 1, preds[0].UnitID)
	assert.InDelta(t, 150.0, preds[0].PredictedRUL, 1e-9)
	assert.InDelta(t, 0.0, preds[1].PredictedRUL, 1e-9)
}

func TestUnitPrediction(t *testing.T) {
	_, engine := testServer(t)
	w := doGet(engine, "/predictions/2")
	require.Equal(t, http.StatusOK, w.Code)
	var resp unitPrediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "zscore", resp.Method)
	assert.Equal(t, 2, resp.Prediction.UnitID)
	require.NotNil(t, resp.TrueRUL)
	assert.Equal(t, 10.0, *resp.TrueRUL)

	assert.Equal(t, http.StatusNotFound, doGet(engine, "/predictions/7").Code)
	assert.Equal(t, http.StatusBadRequest, doGet(engine, "/predictions/abc").Code)
}

func TestEvaluation(t *testing.T) {
	_, engine := testServer(t)
	w := doGet(engine, "/evaluation")
	require.Equal(t, http.StatusOK, w.Code)
	var resp evaluationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "FD001", resp.Dataset)
	assert.Equal(t, 2, resp.Metrics.NumUnits)
	assert.InDelta(t, 10.0, resp.Metrics.RMSE, 1e-9)
	assert.InDelta(t, 10.0, resp.Metrics.MAE, 1e-9)
	assert.InDelta(t, 0.0, resp.Metrics.MeanError, 1e-9)
}

func TestEvaluationUnitMismatch(t *testing.T) {
	api, engine := testServer(t)
	api.truth = api.truth[:1]
	assert.Equal(t, http.StatusConflict, doGet(engine, "/evaluation").Code)
}

func TestUnitScores(t *testing.T) {
	_, engine := testServer(t)
	w := doGet(engine, "/scores/1")
	require.Equal(t, http.StatusOK, w.Code)
	var resp unitScores
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Scores, 2)
	assert.False(t, resp.Updated.IsZero())
	assert.True(t, resp.Scores[1].IsAnomaly)
	assert.Equal(t, http.StatusNotFound, doGet(engine, "/scores/2").Code)
}

func TestRuns(t *testing.T) {
	_, engine := testServer(t)
	w := doGet(engine, "/runs?method=zscore")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []stats.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "FD001", runs[0].Dataset)

	w = doGet(engine, "/runs")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)

	w = doGet(engine, "/runs?limit=1")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestRunDetail(t *testing.T) {
	api, engine := testServer(t)
	runs, err := api.runsDB.GetAllRuns(stats.ListFilter{}.SetMethod("zscore"))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	runID := runs[0].ID
	require.NoError(t, api.runsDB.AddPredictions(
		runID, api.preds, []dataset.TrueRUL{{UnitID: 1, RUL: 140}}))

	for _, path := range []string{"/runs/" + runID, "/runs/latest"} {
		w := doGet(engine, path)
		require.Equal(t, http.StatusOK, w.Code, path)
		var detail stats.RunDetail
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
		assert.Equal(t, runID, detail.Run.ID)
		assert.Equal(t, "zscore", detail.Run.Method)
		require.Len(t, detail.Predictions, 2)
		require.NotNil(t, detail.Predictions[0].TrueRUL)
		assert.Equal(t, 140.0, *detail.Predictions[0].TrueRUL)
		assert.Nil(t, detail.Predictions[1].TrueRUL)
	}
	assert.Equal(t, http.StatusNotFound, doGet(engine, "/runs/nonexistent").Code)
}

func TestAllScores(t *testing.T) {
	api, engine := testServer(t)
	require.NoError(t, api.scoreDB.StoreScores("zscore", "FD001", []eval.ScoredRow{
		{UnitID: 2, Cycle: 1, RUL: 50, Score: 0.5},
		{UnitID: 1, Cycle: 2, RUL: 190, Score: 4.5, IsAnomaly: true},
		{UnitID: 1, Cycle: 1, RUL: 191, Score: 1},
	}))
	w := doGet(engine, "/scores")
	require.Equal(t, http.StatusOK, w.Code)
	var resp seriesScores
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "zscore", resp.Method)
	assert.Equal(t, "FD001", resp.Dataset)
	assert.Equal(t, 4.0, resp.Threshold)
	assert.False(t, resp.Updated.IsZero())
	require.Len(t, resp.Scores, 3)
	assert.Equal(t, 1, resp.Scores[0].UnitID)
	assert.Equal(t, 1, resp.Scores[0].Cycle)
	assert.Equal(t, 2, resp.Scores[1].Cycle)
	assert.Equal(t, 2, resp.Scores[2].UnitID)

	api.conf.Dataset.ID = "FD003"
	assert.Equal(t, http.StatusNotFound, doGet(engine, "/scores").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	_, engine := testServer(t)
	doGet(engine, "/predictions")
	w := doGet(engine, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `rulizer_anomaly_threshold{dataset="FD001",method="zscore"} 4`)
	assert.Contains(t, body, `rulizer_http_requests_total{route="/predictions",status="200"} 1`)
	assert.Contains(t, body, "rulizer_predicted_rul_count 2")
}

func TestCORS(t *testing.T) {
	_, engine := testServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/predictions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
