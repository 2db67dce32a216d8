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

package main

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/czcorpus/rulizer/cnf"
	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/modutils"
	"github.com/czcorpus/rulizer/eval/registry"
	"github.com/czcorpus/rulizer/feats"
	"github.com/czcorpus/rulizer/index"
	"github.com/czcorpus/rulizer/plots"
	"github.com/czcorpus/rulizer/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	unitLifetimes = []int{40, 50, 60}
	testCutoffs   = []int{30, 5, 15}
)

func degradation(rul int) float64 {
	if rul >= 20 {
		return 0
	}
	return 3 * float64(20-rul) / 20
}

func testConf(t *testing.T) *cnf.Conf {
	conf := &cnf.Conf{
		OutputDir:    t.TempDir(),
		ProcessedDir: t.TempDir(),
		Methods:      []string{"zscore", "pca"},
	}
	conf.Dataset.ID = "FD001"
	conf.Dataset.DataDir = t.TempDir()
	conf.Detection.NumComponents = 1
	conf.Detection.HealthyRUL = 25
	require.NoError(t, cnf.ValidateAndDefaults(conf))
	return conf
}

func syntheticEnv(t *testing.T, conf *cnf.Conf) *runEnv {
	cols := []string{dataset.ColUnitID, dataset.ColTimeCycles, "s1", "s2"}
	train := dataset.NewTable(append(cols, dataset.ColRUL))
	test := dataset.NewTable(cols)
	truth := make([]dataset.TrueRUL, len(unitLifetimes))
	for i, life := range unitLifetimes {
		unit := float64(i + 1)
		for c := 1; c <= life; c++ {
			rul := life - c
			deg := degradation(rul)
			s1 := 0.1*math.Sin(float64(c)*1.3+unit) + deg
			s2 := 0.1*math.Cos(float64(c)*0.7+unit) + 2*deg
			require.NoError(t, train.AppendRow([]float64{unit, float64(c), s1, s2, float64(rul)}))
			if c <= life-testCutoffs[i] {
				require.NoError(t, test.AppendRow([]float64{unit, float64(c), s1, s2}))
			}
		}
		truth[i] = dataset.TrueRUL{UnitID: i + 1, RUL: float64(testCutoffs[i])}
	}

	runsDB, err := stats.NewDatabase(filepath.Join(conf.OutputDir, "runs.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { runsDB.Close() })
	require.NoError(t, runsDB.Init())
	scoreDB, err := index.OpenDB(filepath.Join(conf.OutputDir, "scores"))
	require.NoError(t, err)
	t.Cleanup(func() { scoreDB.Close() })

	return &runEnv{
		conf:     conf,
		data:     &dataset.Bundle{Train: train, Test: test, Truth: truth},
		features: feats.FeatureSet{Dataset: "FD001", Columns: []string{"s1", "s2"}},
		runsDB:   runsDB,
		scoreDB:  scoreDB,
		out:      &bytes.Buffer{},
	}
}

func TestProcessMethod(t *testing.T) {
	conf := testConf(t)
	env := syntheticEnv(t, conf)
	for _, method := range conf.Methods {
		rec, err := env.processMethod(context.Background(), method)
		require.NoError(t, err, method)
		assert.NotEmpty(t, rec.ID)
		require.NotNil(t, rec.Metrics)
		assert.Equal(t, 3, rec.Metrics.NumUnits)
		require.NotNil(t, rec.Anomaly)
		assert.Equal(t, 3, rec.Anomaly.TotalUnits)
		assert.FileExists(t, rec.ModelPath)
		assert.FileExists(t, filepath.Join(conf.OutputDir, modutils.PlotFileName(registry.Label(method))))
		assert.FileExists(t, filepath.Join(conf.OutputDir, plots.PredictionPlotFileName(registry.Label(method))))

		loaded, _, err := env.loadMethod(method)
		require.NoError(t, err)
		assert.InDelta(t, rec.Threshold, loaded.Threshold(), 1e-9)

		scores, err := env.scoreDB.UnitScores(method, "FD001", 1)
		require.NoError(t, err)
		assert.Len(t, scores, unitLifetimes[0])

		preds, err := env.runsDB.GetRunPredictions(rec.ID)
		require.NoError(t, err)
		assert.Len(t, preds, 3)
	}
	runs, err := env.runsDB.GetAllRuns(stats.ListFilter{}.SetDataset("FD001"))
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Contains(t, env.out.(*bytes.Buffer).String(), "RUL prediction - PCA")
}

func TestEvaluateWithoutRunsDB(t *testing.T) {
	conf := testConf(t)
	env := syntheticEnv(t, conf)
	env.runsDB = nil
	det, _, err := env.fitMethod(context.Background(), "zscore")
	require.NoError(t, err)
	preds, metrics, err := env.evaluateMethod("zscore", det)
	require.NoError(t, err)
	assert.Len(t, preds, 3)
	for _, p := range preds {
		assert.GreaterOrEqual(t, p.PredictedRUL, 0.0)
		assert.LessOrEqual(t, p.PredictedRUL, conf.Detection.MaxRUL)
	}
	assert.Equal(t, 3, metrics.NumUnits)
	runID, err := env.storeRun(stats.RunRecord{Method: "zscore"}, preds)
	require.NoError(t, err)
	assert.Empty(t, runID)
}

func TestMethodParams(t *testing.T) {
	conf := testConf(t)
	assert.Contains(t, methodParams(conf, "pca"), `"numComponents":1`)
	assert.Contains(t, methodParams(conf, "rf"), `"numTrees":100`)
	assert.NotContains(t, methodParams(conf, "zscore"), "numComponents")
}

func rawSensorLine(unit, cycle, rul int) string {
	fields := []string{fmt.Sprint(unit), fmt.Sprint(cycle), "0.0", "0.0", "100.0"}
	for k := 1; k <= 21; k++ {
		var v float64
		switch k {
		case 1, 5, 10:
			v = float64(k)
		default:
			v = float64(k)*10 + math.Sin(float64(cycle*k)*0.37+float64(unit)) + float64(k%3)*degradation(rul)
		}
		fields = append(fields, fmt.Sprintf("%.5f", v))
	}
	return strings.Join(fields, " ")
}

func writeRawFiles(t *testing.T, conf *cnf.Conf) {
	var trainLines, testLines, rulLines []string
	for i, life := range unitLifetimes {
		for c := 1; c <= life; c++ {
			trainLines = append(trainLines, rawSensorLine(i+1, c, life-c))
			if c <= life-testCutoffs[i] {
				testLines = append(testLines, rawSensorLine(i+1, c, life-c))
			}
		}
		rulLines = append(rulLines, fmt.Sprint(testCutoffs[i]))
	}
	dir := conf.Dataset.DataDir
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "train_FD001.txt"), []byte(strings.Join(trainLines, "\n")+"\n"), 0644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "test_FD001.txt"), []byte(strings.Join(testLines, "\n")+"\n"), 0644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "RUL_FD001.txt"), []byte(strings.Join(rulLines, "\n")+"\n"), 0644))
}

func TestCurateData(t *testing.T) {
	conf := testConf(t)
	writeRawFiles(t, conf)

	res, featPath, err := curateData(conf)
	require.NoError(t, err)
	assert.Equal(t, conf.FeatFilePath(), featPath)
	assert.ElementsMatch(t, []string{"sensor_1", "sensor_5", "sensor_10"}, res.FeatureSet.Constant)
	assert.NotEmpty(t, res.FeatureSet.Columns)
	assert.FileExists(t, filepath.Join(conf.OutputDir, "FD001_sensor_correlation.png"))

	data, fs, err := loadCurated(conf)
	require.NoError(t, err)
	assert.Equal(t, res.FeatureSet.Columns, fs.Columns)
	assert.Len(t, data.Truth, 3)
	assert.Equal(t, res.Train.NumRows(), data.Train.NumRows())
}

func TestRunAllMethodsClosesStoragesOnError(t *testing.T) {
	conf := testConf(t)
	writeRawFiles(t, conf)
	conf.Methods = []string{"unknown"}

	results, err := runAllMethods(context.Background(), conf, false)
	assert.ErrorIs(t, err, eval.ErrNoSuchModel)
	assert.Empty(t, results)

	// both storages must be released so they can be opened again
	scoreDB, err := index.OpenDB(conf.ScoreDBPath)
	require.NoError(t, err)
	assert.NoError(t, scoreDB.Close())
	runsDB, err := stats.NewDatabase(conf.RunsDBPath)
	require.NoError(t, err)
	assert.NoError(t, runsDB.Close())
}

func TestRunAllMethodsInterrupted(t *testing.T) {
	conf := testConf(t)
	writeRawFiles(t, conf)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := runAllMethods(ctx, conf, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	scoreDB, err := index.OpenDB(conf.ScoreDBPath)
	require.NoError(t, err)
	assert.NoError(t, scoreDB.Close())
}

func TestOpenEnvWithoutCuratedData(t *testing.T) {
	conf := testConf(t)
	env, closeEnv, err := openEnv(conf, true, true)
	assert.Error(t, err)
	assert.Nil(t, env)
	assert.Nil(t, closeEnv)
}

func TestListRunsDetail(t *testing.T) {
	conf := testConf(t)
	db, err := stats.NewDatabase(conf.RunsDBPath)
	require.NoError(t, err)
	require.NoError(t, db.Init())
	m := eval.Metrics{RMSE: 12.5, MAE: 10, NumUnits: 2}
	runID, err := db.AddRun(stats.RunRecord{
		Dataset: "FD001", Method: "pca", Threshold: 0.25, Metrics: &m,
	})
	require.NoError(t, err)
	require.NoError(t, db.AddPredictions(
		runID,
		[]eval.PredictionRecord{
			{UnitID: 1, PredictedRUL: 101.5, LastError: 0.1, MaxError: 0.2},
			{UnitID: 2, PredictedRUL: 12, LastError: 0.3, MaxError: 0.4},
		},
		[]dataset.TrueRUL{{UnitID: 1, RUL: 112}},
	))
	require.NoError(t, db.Close())

	var buf bytes.Buffer
	require.NoError(t, listRuns(&buf, conf, "", stats.LatestRunAlias, 20))
	out := buf.String()
	assert.Contains(t, out, "run:        "+runID)
	assert.Contains(t, out, "threshold:  0.250000")
	assert.Contains(t, out, "1\t101.50\t112\t")
	assert.Contains(t, out, "2\t12.00\t-\t")

	buf.Reset()
	require.NoError(t, listRuns(&buf, conf, "pca", "", 20))
	assert.True(t, strings.HasPrefix(buf.String(), runID+"\t"))

	assert.ErrorIs(t, listRuns(&buf, conf, "zscore", stats.LatestRunAlias, 20), stats.ErrRunNotFound)
}
