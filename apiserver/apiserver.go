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
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/czcorpus/cnc-gokit/logging"
	"github.com/czcorpus/cnc-gokit/uniresp"
	"github.com/czcorpus/rulizer/cnf"
	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/registry"
	"github.com/czcorpus/rulizer/index"
	"github.com/czcorpus/rulizer/stats"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// -----

// apiServer exposes a fitted detector and its predictions on the test
// data. All the data are prepared before the server starts and they
// are never modified afterwards so handlers need no locking.
type apiServer struct {
	conf     *cnf.Conf
	server   *http.Server
	version  cnf.VersionInfo
	detector eval.Detector
	preds    []eval.PredictionRecord
	truth    []dataset.TrueRUL
	runsDB   *stats.Database
	scoreDB  *index.DB
	metrics  *Metrics
}

func newAPIServer(
	conf *cnf.Conf,
	version cnf.VersionInfo,
	detector eval.Detector,
	data *dataset.Bundle,
	runsDB *stats.Database,
	scoreDB *index.DB,
) (*apiServer, error) {
	preds, err := eval.PredictRUL(detector, data.Test, conf.Detection.MaxRUL)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare API server: %w", err)
	}
	metrics := NewMetrics()
	metrics.SetThreshold(conf.ServedMethod, conf.Dataset.ID, detector.Threshold())
	for _, p := range preds {
		metrics.ObservePredictedRUL(p.PredictedRUL)
	}
	return &apiServer{
		conf:     conf,
		version:  version,
		detector: detector,
		preds:    preds,
		truth:    data.Truth,
		runsDB:   runsDB,
		scoreDB:  scoreDB,
		metrics:  metrics,
	}, nil
}

func (api *apiServer) createEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logging.GinMiddleware())
	engine.Use(api.metrics.Middleware())
	engine.Use(uniresp.AlwaysJSONContentType())
	engine.Use(corsMiddleware(api.conf))
	engine.NoMethod(uniresp.NoMethodHandler)
	engine.NoRoute(uniresp.NotFoundHandler)

	engine.GET("/version", api.handleVersion)
	engine.GET("/predictions", api.handlePredictions)
	engine.GET("/predictions/:unitId", api.handleUnitPrediction)
	engine.GET("/evaluation", api.handleEvaluation)
	engine.GET("/scores", api.handleAllScores)
	engine.GET("/scores/:unitId", api.handleUnitScores)
	engine.GET("/runs", api.handleRuns)
	engine.GET("/runs/:runId", api.handleRunDetail)
	engine.GET("/metrics", gin.WrapH(api.metrics.Handler()))
	return engine
}

func (api *apiServer) Start(ctx context.Context) {
	if !api.conf.Logging.Level.IsDebugMode() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := api.createEngine()

	log.Info().Msgf("starting to listen at %s:%d", api.conf.ListenAddress, api.conf.ListenPort)
	api.server = &http.Server{
		Handler:      engine,
		Addr:         fmt.Sprintf("%s:%d", api.conf.ListenAddress, api.conf.ListenPort),
		WriteTimeout: time.Duration(api.conf.ServerWriteTimeoutSecs) * time.Second,
		ReadTimeout:  time.Duration(api.conf.ServerReadTimeoutSecs) * time.Second,
	}
	go func() {
		if err := api.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()
}

func (api *apiServer) Stop(ctx context.Context) error {
	log.Warn().Msg("shutting down RULizer HTTP API server")
	return api.server.Shutdown(ctx)
}

// -------------------------

func Run(
	ctx context.Context,
	conf *cnf.Conf,
	version cnf.VersionInfo,
) {
	data, err := dataset.LoadProcessed(conf.ProcessedDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load processed data")
		return
	}
	modelPath, err := registry.ModelPath(conf, conf.ServedMethod)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to determine model path")
		return
	}
	detector, err := registry.LoadDetector(conf.ServedMethod, modelPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", modelPath).Msg("failed to load model")
		return
	}
	log.Info().
		Str("method", conf.ServedMethod).
		Str("path", modelPath).
		Float64("threshold", detector.Threshold()).
		Msg("loaded model")

	runsDB, err := stats.NewDatabase(conf.RunsDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open runs database")
		return
	}
	defer runsDB.Close()
	if err := runsDB.Init(); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize runs database")
		return
	}
	scoreDB, err := index.OpenDB(conf.ScoreDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open score database")
		return
	}
	defer scoreDB.Close()

	server, err := newAPIServer(conf, version, detector, data, runsDB, scoreDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start API server")
		return
	}

	services := []service{server}
	for _, m := range services {
		m.Start(ctx)
	}
	<-ctx.Done()
	log.Warn().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range services {
		wg.Add(1)
		go func(srv service) {
			defer wg.Done()
			if err := srv.Stop(shutdownCtx); err != nil {
				log.Error().Err(err).Type("service", srv).Msg("Error shutting down service")
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Graceful shutdown completed")
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timed out")
	}
}
