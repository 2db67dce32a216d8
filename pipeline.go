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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/czcorpus/rulizer/cnf"
	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/registry"
	"github.com/czcorpus/rulizer/feats"
	"github.com/czcorpus/rulizer/index"
	"github.com/czcorpus/rulizer/plots"
	"github.com/czcorpus/rulizer/stats"
	"github.com/rs/zerolog/log"
)

const (
	heatmapCellSize = 24
	numWorstUnits   = 5
)

// runEnv holds everything a single detector run needs. The curated
// data are loaded once and shared (read-only) by all the methods.
type runEnv struct {
	conf     *cnf.Conf
	data     *dataset.Bundle
	features feats.FeatureSet
	runsDB   *stats.Database
	scoreDB  *index.DB
	out      io.Writer
}

// curateData loads the raw dataset, selects features and stores
// the processed data along with a correlation heatmap of the sensors.
func curateData(conf *cnf.Conf) (*feats.Result, string, error) {
	bundle, err := dataset.Load(conf.Dataset)
	if err != nil {
		return nil, "", err
	}
	res, err := feats.Curate(
		conf.Dataset.ID, bundle.Train, bundle.Test, conf.Dataset.Schema.SensorColumns, conf.Curation)
	if err != nil {
		return nil, "", err
	}
	featPath, err := res.Save(conf.ProcessedDir, bundle.Truth)
	if err != nil {
		return nil, "", err
	}
	log.Info().Str("path", featPath).Msg("saved feature set")

	if err := os.MkdirAll(conf.OutputDir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create output directory: %w", err)
	}
	nonConstant := make([]string, 0, len(conf.Dataset.Schema.SensorColumns))
	for _, s := range conf.Dataset.Schema.SensorColumns {
		if !slices.Contains(res.FeatureSet.Constant, s) {
			nonConstant = append(nonConstant, s)
		}
	}
	corr, err := feats.CorrelationMatrix(bundle.Train, nonConstant)
	if err != nil {
		return nil, "", err
	}
	heatmapPath := filepath.Join(conf.OutputDir, conf.Dataset.ID+"_sensor_correlation.png")
	if err := plots.CorrelationHeatmap(corr, heatmapPath, heatmapCellSize, plots.Correlation); err != nil {
		log.Error().Err(err).Msg("failed to create correlation heatmap, skipping")

	} else {
		log.Info().Str("path", heatmapPath).Msg("saved correlation heatmap")
	}
	return res, featPath, nil
}

func loadCurated(conf *cnf.Conf) (*dataset.Bundle, feats.FeatureSet, error) {
	fs, err := feats.LoadFeatureSet(conf.FeatFilePath())
	if err != nil {
		return nil, fs, err
	}
	data, err := dataset.LoadProcessed(conf.ProcessedDir)
	if err != nil {
		return nil, fs, err
	}
	return data, fs, nil
}

// methodParams serializes parameters relevant for a method so runs
// with the same setup can be grouped.
func methodParams(conf *cnf.Conf, method string) string {
	params := map[string]any{
		"healthyRul": conf.Detection.HealthyRUL,
		"maxRul":     conf.Detection.MaxRUL,
	}
	switch method {
	case "pca":
		params["numComponents"] = conf.Detection.NumComponents
		params["percentile"] = conf.Detection.Percentile
	case "zscore":
		params["percentile"] = conf.Detection.Percentile
	case "iforest":
		params["iforest"] = conf.IForest
		params["percentile"] = conf.Detection.Percentile
	case "rf":
		params["rf"] = conf.RF
	case "nn":
		params["nn"] = conf.NN
		params["percentile"] = conf.Detection.Percentile
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// varianceExplainer is implemented by subspace detectors
type varianceExplainer interface {
	ExplainedVariance() ([]float64, float64, error)
}

func (env *runEnv) fitMethod(ctx context.Context, method string) (eval.Detector, string, error) {
	det, err := registry.NewDetector(method, env.conf)
	if err != nil {
		return nil, "", err
	}
	if err := det.Fit(ctx, env.data.Train, env.features.Columns); err != nil {
		return nil, "", err
	}
	modelPath, err := registry.ModelPath(env.conf, method)
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(filepath.Dir(modelPath), 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create model directory: %w", err)
	}
	if err := det.SaveToFile(modelPath); err != nil {
		return nil, "", err
	}
	logEvt := log.Info().
		Str("method", method).
		Str("path", modelPath).
		Str("info", det.GetInfo())
	if ve, ok := det.(varianceExplainer); ok {
		if ratios, cumulative, err := ve.ExplainedVariance(); err == nil {
			logEvt = logEvt.Floats64("explainedVariance", ratios).Float64("cumulativeVariance", cumulative)
		}
	}
	logEvt.Msg("saved model")
	return det, modelPath, nil
}

func (env *runEnv) loadMethod(method string) (eval.Detector, string, error) {
	modelPath, err := registry.ModelPath(env.conf, method)
	if err != nil {
		return nil, "", err
	}
	det, err := registry.LoadDetector(method, modelPath)
	if err != nil {
		return nil, "", err
	}
	return det, modelPath, nil
}

// evaluateMethod predicts RUL of the test units, compares the predictions
// with the ground truth and creates the prediction plots.
func (env *runEnv) evaluateMethod(
	method string,
	det eval.Detector,
) ([]eval.PredictionRecord, eval.Metrics, error) {
	preds, err := eval.PredictRUL(det, env.data.Test, env.conf.Detection.MaxRUL)
	if err != nil {
		return nil, eval.Metrics{}, err
	}
	metrics, err := eval.Evaluate(preds, env.data.Truth)
	if err != nil {
		return nil, eval.Metrics{}, err
	}
	eval.FormatMetrics(env.out, registry.Label(method), metrics)

	reporter := &eval.Reporter{
		MispredictedUnitsOutPath: filepath.Join(
			env.conf.OutputDir, fmt.Sprintf("%s_%s_mispredicted.tsv", env.conf.Dataset.ID, method)),
	}
	if err := reporter.AddPredictions(preds, env.data.Truth); err != nil {
		return nil, eval.Metrics{}, err
	}
	reporter.ShowWorstUnits(env.out, numWorstUnits)
	if err := reporter.SaveMispredictedUnits(); err != nil {
		log.Error().Err(err).Msg("failed to save mispredicted units")
	}
	plotPath, err := plots.PredictionPlots(preds, env.data.Truth, registry.Label(method), env.conf.OutputDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to create prediction plots, skipping")

	} else {
		log.Info().Str("path", plotPath).Msg("saved prediction plots")
	}
	return preds, metrics, nil
}

// detectMethod scores the training data, calculates anomaly coverage
// and stores the per-cycle scores.
func (env *runEnv) detectMethod(method string, det eval.Detector) (eval.AnomalyMetrics, error) {
	scores, err := det.Score(env.data.Train)
	if err != nil {
		return eval.AnomalyMetrics{}, err
	}
	rows, err := eval.NewScoredRows(env.data.Train, scores, det.Threshold())
	if err != nil {
		return eval.AnomalyMetrics{}, err
	}
	am := eval.CalculateAnomalyMetrics(rows, registry.Label(method), env.conf.Dataset.ID)
	eval.FormatAnomalyMetrics(env.out, am)

	plotPath, err := plots.StandardPlots(
		rows, det.Threshold(), registry.ScoreLabels[method], registry.Label(method), env.conf.OutputDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to create anomaly plots, skipping")

	} else {
		log.Info().Str("path", plotPath).Msg("saved anomaly plots")
	}
	if env.scoreDB != nil {
		if err := env.scoreDB.StoreScores(method, env.conf.Dataset.ID, rows); err != nil {
			return eval.AnomalyMetrics{}, err
		}
	}
	return am, nil
}

// storeRun writes a run record and its predictions to the runs database
func (env *runEnv) storeRun(rec stats.RunRecord, preds []eval.PredictionRecord) (string, error) {
	if env.runsDB == nil {
		return "", nil
	}
	runID, err := env.runsDB.AddRun(rec)
	if err != nil {
		return "", err
	}
	if len(preds) > 0 {
		if err := env.runsDB.AddPredictions(runID, preds, env.data.Truth); err != nil {
			return "", err
		}
	}
	return runID, nil
}

// processMethod performs the whole fit, evaluate and detect sequence
// of a method and records the run.
func (env *runEnv) processMethod(ctx context.Context, method string) (stats.RunRecord, error) {
	det, modelPath, err := env.fitMethod(ctx, method)
	if err != nil {
		return stats.RunRecord{}, fmt.Errorf("method %s: %w", method, err)
	}
	preds, metrics, err := env.evaluateMethod(method, det)
	if err != nil {
		return stats.RunRecord{}, fmt.Errorf("method %s: %w", method, err)
	}
	am, err := env.detectMethod(method, det)
	if err != nil {
		return stats.RunRecord{}, fmt.Errorf("method %s: %w", method, err)
	}
	rec := stats.RunRecord{
		Dataset:   env.conf.Dataset.ID,
		Method:    method,
		Params:    methodParams(env.conf, method),
		Threshold: det.Threshold(),
		Metrics:   &metrics,
		Anomaly:   &am,
		ModelPath: modelPath,
	}
	rec.ID, err = env.storeRun(rec, preds)
	if err != nil {
		return stats.RunRecord{}, fmt.Errorf("method %s: %w", method, err)
	}
	return rec, nil
}
