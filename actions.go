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
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/czcorpus/rulizer/apiserver"
	"github.com/czcorpus/rulizer/cnf"
	"github.com/czcorpus/rulizer/eval/modutils"
	"github.com/czcorpus/rulizer/eval/registry"
	"github.com/czcorpus/rulizer/index"
	"github.com/czcorpus/rulizer/stats"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

const (
	errColor = color.FgHiRed
)

func exitOnError(err error) {
	if err != nil {
		color.New(errColor).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openEnv loads curated data and opens the storages. The returned
// function closes the storages. On error, nothing is left open.
func openEnv(conf *cnf.Conf, withRunsDB, withScoreDB bool) (*runEnv, func(), error) {
	data, fs, err := loadCurated(conf)
	if err != nil {
		return nil, nil, err
	}
	env := &runEnv{
		conf:     conf,
		data:     data,
		features: fs,
		out:      os.Stdout,
	}
	if err := os.MkdirAll(conf.OutputDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	closeEnv := func() {
		if err := env.runsDB.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close runs database")
		}
		if err := env.scoreDB.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close score database")
		}
	}
	if withRunsDB {
		env.runsDB, err = stats.NewDatabase(conf.RunsDBPath)
		if err != nil {
			return nil, nil, err
		}
		if err := env.runsDB.Init(); err != nil {
			closeEnv()
			return nil, nil, err
		}
	}
	if withScoreDB {
		env.scoreDB, err = index.OpenDB(conf.ScoreDBPath)
		if err != nil {
			closeEnv()
			return nil, nil, err
		}
	}
	return env, closeEnv, nil
}

func resolveMethod(conf *cnf.Conf, method string) string {
	if method == "" {
		log.Warn().Str("method", conf.ServedMethod).Msg("no method specified, using servedMethod")
		return conf.ServedMethod
	}
	return method
}

func runActionCurate(conf *cnf.Conf) {
	res, featPath, err := curateData(conf)
	exitOnError(err)
	fmt.Printf("features (%d): %v\n", len(res.FeatureSet.Columns), res.FeatureSet.Columns)
	fmt.Printf("constant sensors: %v\n", res.FeatureSet.Constant)
	fmt.Printf("correlated sensors removed: %v\n", res.FeatureSet.Pruned)
	fmt.Printf("feature set saved to %s\n", featPath)
}

// The action functions below delegate to functions returning errors
// so deferred closing of storages always runs before exitOnError.

func runActionFit(conf *cnf.Conf, method string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	exitOnError(fitModel(ctx, conf, resolveMethod(conf, method)))
}

func fitModel(ctx context.Context, conf *cnf.Conf, method string) error {
	env, closeEnv, err := openEnv(conf, false, false)
	if err != nil {
		return err
	}
	defer closeEnv()
	det, modelPath, err := env.fitMethod(ctx, method)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "%s\nmodel saved to %s\n", det.GetInfo(), modelPath)
	return nil
}

func runActionEvaluate(conf *cnf.Conf, method string) {
	exitOnError(evaluateModel(conf, resolveMethod(conf, method)))
}

func evaluateModel(conf *cnf.Conf, method string) error {
	env, closeEnv, err := openEnv(conf, true, false)
	if err != nil {
		return err
	}
	defer closeEnv()
	det, modelPath, err := env.loadMethod(method)
	if err != nil {
		return err
	}
	preds, metrics, err := env.evaluateMethod(method, det)
	if err != nil {
		return err
	}
	runID, err := env.storeRun(
		stats.RunRecord{
			Dataset:   conf.Dataset.ID,
			Method:    method,
			Params:    methodParams(conf, method),
			Threshold: det.Threshold(),
			Metrics:   &metrics,
			ModelPath: modelPath,
		},
		preds,
	)
	if err != nil {
		return err
	}
	log.Info().Str("runId", runID).Msg("stored evaluation run")
	return nil
}

func runActionDetect(conf *cnf.Conf, method string) {
	exitOnError(detectAnomalies(conf, resolveMethod(conf, method)))
}

func detectAnomalies(conf *cnf.Conf, method string) error {
	env, closeEnv, err := openEnv(conf, false, true)
	if err != nil {
		return err
	}
	defer closeEnv()
	det, _, err := env.loadMethod(method)
	if err != nil {
		return err
	}
	if _, err := env.detectMethod(method, det); err != nil {
		return err
	}
	lsm, vlog := env.scoreDB.Size()
	log.Info().
		Str("lsm", modutils.FormatRoughSize(lsm)).
		Str("valueLog", modutils.FormatRoughSize(vlog)).
		Msg("score database size")
	return nil
}

// runActionRun performs curation and then fits, evaluates and
// scores the data by all the configured methods.
func runActionRun(conf *cnf.Conf, skipCuration bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	results, err := runAllMethods(ctx, conf, skipCuration)
	exitOnError(err)
	fmt.Println()
	title := color.New(color.FgHiMagenta).SprintFunc()
	fmt.Println(title(fmt.Sprintf("Summary - %s", conf.Dataset.ID)))
	for _, rec := range results {
		fmt.Printf(
			"  %-14s RMSE: %7.2f  MAE: %7.2f  NASA: %12.2f  detected: %5.1f%%  FPR: %5.1f%%\n",
			registry.Label(rec.Method), rec.Metrics.RMSE, rec.Metrics.MAE, rec.Metrics.NASAScore,
			rec.Anomaly.DetectionRate, rec.Anomaly.FalsePositiveRate,
		)
	}
}

// runAllMethods returns records of the finished methods. On interrupt,
// the records processed so far are returned along with the context error.
func runAllMethods(ctx context.Context, conf *cnf.Conf, skipCuration bool) ([]stats.RunRecord, error) {
	if !skipCuration {
		if _, _, err := curateData(conf); err != nil {
			return nil, err
		}
	}
	env, closeEnv, err := openEnv(conf, true, true)
	if err != nil {
		return nil, err
	}
	defer closeEnv()

	bar := progressbar.Default(int64(len(conf.Methods)), "running detectors")
	results := make([]stats.RunRecord, 0, len(conf.Methods))
	for _, method := range conf.Methods {
		if err := ctx.Err(); err != nil {
			log.Warn().Msg("interrupted")
			return results, err
		}
		rec, err := env.processMethod(ctx, method)
		if err != nil {
			return results, err
		}
		results = append(results, rec)
		bar.Add(1)
	}
	return results, nil
}

func runActionRuns(conf *cnf.Conf, method, runID string, limit int) {
	exitOnError(listRuns(os.Stdout, conf, method, runID, limit))
}

// listRuns prints stored runs of the configured dataset. With runID set
// ("latest" for the newest one), it prints the run along with its
// unit predictions.
func listRuns(w io.Writer, conf *cnf.Conf, method, runID string, limit int) error {
	db, err := stats.NewDatabase(conf.RunsDBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Init(); err != nil {
		return err
	}
	filter := stats.ListFilter{}.SetDataset(conf.Dataset.ID).SetLimit(limit)
	if method != "" {
		filter = filter.SetMethod(method)
	}
	if runID != "" {
		detail, err := db.GetRunDetail(runID, filter)
		if err != nil {
			return err
		}
		printRunDetail(w, detail)
		return nil
	}
	runs, err := db.GetAllRuns(filter)
	if err != nil {
		return err
	}
	for _, r := range runs {
		var metrics string
		if r.Metrics != nil {
			metrics = r.Metrics.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%s\n", r.ID, r.Created.Format("2006-01-02 15:04:05"), r.Method, r.Threshold, metrics)
	}
	return nil
}

func printRunDetail(w io.Writer, detail stats.RunDetail) {
	r := detail.Run
	fmt.Fprintf(w, "run:        %s\n", r.ID)
	fmt.Fprintf(w, "created:    %s\n", r.Created.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "dataset:    %s\n", r.Dataset)
	fmt.Fprintf(w, "method:     %s\n", registry.Label(r.Method))
	fmt.Fprintf(w, "params:     %s\n", r.Params)
	fmt.Fprintf(w, "threshold:  %.6f\n", r.Threshold)
	fmt.Fprintf(w, "model:      %s\n", r.ModelPath)
	if r.Metrics != nil {
		fmt.Fprintf(w, "metrics:    %s\n", r.Metrics.String())
	}
	if r.Anomaly != nil {
		fmt.Fprintf(
			w, "anomalies:  detected %.1f%%, FPR %.1f%%\n",
			r.Anomaly.DetectionRate, r.Anomaly.FalsePositiveRate,
		)
	}
	if len(detail.Predictions) == 0 {
		return
	}
	fmt.Fprintln(w, "unit\tpredicted\ttrue\tlast error\tmax error")
	for _, p := range detail.Predictions {
		trueRUL := "-"
		if p.TrueRUL != nil {
			trueRUL = fmt.Sprintf("%.0f", *p.TrueRUL)
		}
		fmt.Fprintf(
			w, "%d\t%.2f\t%s\t%.6f\t%.6f\n",
			p.UnitID, p.PredictedRUL, trueRUL, p.LastError, p.MaxError,
		)
	}
}

func runActionServer(conf *cnf.Conf, version cnf.VersionInfo) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	apiserver.Run(ctx, conf, version)
}

func runActionVersion(ver cnf.VersionInfo) {
	fmt.Fprintln(os.Stderr, "RULizer version: ", ver)
}
