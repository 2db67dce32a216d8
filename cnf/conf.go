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

package cnf

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/czcorpus/cnc-gokit/logging"
	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/feats"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	dfltServerWriteTimeoutSecs = 30
	dfltServerReadTimeoutSecs  = 10
	dfltListenAddress          = "127.0.0.1"
	dfltListenPort             = 8089
	dfltDatasetID              = "FD001"
	dfltDataDir                = "data"
	dfltProcessedDir           = "data/processed"
	dfltOutputDir              = "output"
	dfltNumComponents          = 5
	dfltHealthyRUL             = 125.0
	dfltPercentile             = 95.0
	dfltMaxRUL                 = 150.0
	dfltRFNumTrees             = 100
	dfltRFVotingThreshold      = 0.5
	dfltNNHiddenSize           = 4
	dfltNNNumEpochs            = 200
	dfltNNLearningRate         = 0.005
	dfltIForestNumTrees        = 100
	dfltIForestSampleSize      = 256
	dfltIForestSeed            = 42
	dfltServedMethod           = "pca"

	EnvDataDir      = "RULIZER_DATA_DIR"
	EnvProcessedDir = "RULIZER_PROCESSED_DIR"
	EnvOutputDir    = "RULIZER_OUTPUT_DIR"
)

var (
	SupportedMethods = []string{"pca", "zscore", "iforest", "rf", "nn"}

	ErrInvalidConfig = errors.New("invalid configuration")
)

// DetectionConf contains parameters shared by the detectors
type DetectionConf struct {
	NumComponents int     `json:"numComponents"`
	HealthyRUL    float64 `json:"healthyRul"`
	Percentile    float64 `json:"percentile"`
	MaxRUL        float64 `json:"maxRul"`
}

type RFConf struct {
	NumTrees        int     `json:"numTrees"`
	VotingThreshold float64 `json:"votingThreshold"`
}

type IForestConf struct {
	NumTrees   int    `json:"numTrees"`
	SampleSize int    `json:"sampleSize"`
	Seed       uint64 `json:"seed"`
}

type NNConf struct {
	HiddenSize   int     `json:"hiddenSize"`
	NumEpochs    int     `json:"numEpochs"`
	LearningRate float64 `json:"learningRate"`
}

type Conf struct {
	srcPath                string
	Logging                logging.LoggingConf `json:"logging"`
	ListenAddress          string              `json:"listenAddress"`
	ListenPort             int                 `json:"listenPort"`
	ServerReadTimeoutSecs  int                 `json:"serverReadTimeoutSecs"`
	ServerWriteTimeoutSecs int                 `json:"serverWriteTimeoutSecs"`
	CorsAllowedOrigins     []string            `json:"corsAllowedOrigins"`

	Dataset      dataset.LoaderConf `json:"dataset"`
	ProcessedDir string             `json:"processedDir"`

	// OutputDir is where models, plots and reports are written
	OutputDir string `json:"outputDir"`

	Curation  feats.CurationConf `json:"curation"`
	Detection DetectionConf      `json:"detection"`
	IForest   IForestConf        `json:"iforest"`
	RF        RFConf             `json:"rf"`
	NN        NNConf             `json:"nn"`

	// Methods lists detectors used by the `run` action
	Methods []string `json:"methods"`

	// ServedMethod is a detector the HTTP API works with
	ServedMethod string `json:"servedMethod"`

	RunsDBPath  string `json:"runsDbPath"`
	ScoreDBPath string `json:"scoreDbPath"`
}

func (conf *Conf) SrcPath() string {
	return conf.srcPath
}

// FeatFilePath returns a path of the feature set of the configured dataset
func (conf *Conf) FeatFilePath() string {
	return filepath.Join(conf.ProcessedDir, conf.Dataset.ID+".features.msgpack")
}

func LoadConfig(path string) *Conf {
	if path == "" {
		log.Fatal().Msg("Cannot load config - path not specified")
	}
	rawData, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load config")
	}
	conf, err := parseConfig(rawData)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load config")
	}
	conf.srcPath = path
	return conf
}

func parseConfig(rawData []byte) (*Conf, error) {
	var conf Conf
	if err := json.Unmarshal(rawData, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

// ApplyEnvOverrides loads an optional .env file and lets environment
// variables override data directories. A missing .env file is not an error.
func ApplyEnvOverrides(conf *Conf, envFiles ...string) error {
	existing := make([]string, 0, len(envFiles))
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}
	overrides := []struct {
		name   string
		target *string
	}{
		{EnvDataDir, &conf.Dataset.DataDir},
		{EnvProcessedDir, &conf.ProcessedDir},
		{EnvOutputDir, &conf.OutputDir},
	}
	for _, ov := range overrides {
		if v := os.Getenv(ov.name); v != "" {
			*ov.target = v
			log.Info().Str("variable", ov.name).Str("value", v).Msg("applying env. override")
		}
	}
	return nil
}

func ValidateAndDefaults(conf *Conf) error {
	if conf.ServerWriteTimeoutSecs == 0 {
		conf.ServerWriteTimeoutSecs = dfltServerWriteTimeoutSecs
		log.Warn().Msgf(
			"serverWriteTimeoutSecs not specified, using default: %d",
			dfltServerWriteTimeoutSecs,
		)
	}
	if conf.ServerReadTimeoutSecs == 0 {
		conf.ServerReadTimeoutSecs = dfltServerReadTimeoutSecs
		log.Warn().Msgf(
			"serverReadTimeoutSecs not specified, using default: %d",
			dfltServerReadTimeoutSecs,
		)
	}
	if conf.ListenAddress == "" {
		conf.ListenAddress = dfltListenAddress
		log.Warn().Str("address", dfltListenAddress).Msg("listenAddress not set, using default")
	}
	if conf.ListenPort == 0 {
		conf.ListenPort = dfltListenPort
		log.Warn().Int("port", dfltListenPort).Msg("listenPort not set, using default")
	}

	if conf.Dataset.ID == "" {
		conf.Dataset.ID = dfltDatasetID
		log.Warn().Str("dataset", dfltDatasetID).Msg("dataset.id not set, using default")
	}
	if conf.Dataset.DataDir == "" {
		conf.Dataset.DataDir = dfltDataDir
		log.Warn().Str("dir", dfltDataDir).Msg("dataset.dataDir not set, using default")
	}
	if conf.Dataset.Schema.IsEmpty() {
		conf.Dataset.Schema = dataset.DefaultSchema()
		log.Warn().Msg("dataset.schema not set, using the CMAPSS layout")
	}
	if err := conf.Dataset.Schema.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if conf.ProcessedDir == "" {
		conf.ProcessedDir = dfltProcessedDir
		log.Warn().Str("dir", dfltProcessedDir).Msg("processedDir not set, using default")
	}
	if conf.OutputDir == "" {
		conf.OutputDir = dfltOutputDir
		log.Warn().Str("dir", dfltOutputDir).Msg("outputDir not set, using default")
	}

	if conf.Curation.VarianceTolerance == 0 {
		conf.Curation.VarianceTolerance = feats.DefaultVarianceTolerance
		log.Warn().
			Float64("value", feats.DefaultVarianceTolerance).
			Msg("curation.varianceTolerance not set, using default")
	}
	if conf.Curation.CorrelationThreshold == 0 {
		conf.Curation.CorrelationThreshold = feats.DefaultCorrelationThreshold
		log.Warn().
			Float64("value", feats.DefaultCorrelationThreshold).
			Msg("curation.correlationThreshold not set, using default")
	}
	if conf.Curation.RedundantSensors == nil {
		conf.Curation.RedundantSensors = slices.Clone(feats.DefaultRedundantSensors)
		log.Warn().
			Strs("value", conf.Curation.RedundantSensors).
			Msg("curation.redundantSensors not set, using default")
	}

	if conf.Detection.NumComponents == 0 {
		conf.Detection.NumComponents = dfltNumComponents
		log.Warn().Int("value", dfltNumComponents).Msg("detection.numComponents not set, using default")
	}
	if conf.Detection.NumComponents < 0 {
		return fmt.Errorf("%w: detection.numComponents must be positive", ErrInvalidConfig)
	}
	if conf.Detection.HealthyRUL == 0 {
		conf.Detection.HealthyRUL = dfltHealthyRUL
		log.Warn().Float64("value", dfltHealthyRUL).Msg("detection.healthyRul not set, using default")
	}
	if conf.Detection.Percentile == 0 {
		conf.Detection.Percentile = dfltPercentile
		log.Warn().Float64("value", dfltPercentile).Msg("detection.percentile not set, using default")
	}
	if conf.Detection.Percentile < 0 || conf.Detection.Percentile > 100 {
		return fmt.Errorf("%w: detection.percentile must be within [0, 100]", ErrInvalidConfig)
	}
	if conf.Detection.MaxRUL == 0 {
		conf.Detection.MaxRUL = dfltMaxRUL
		log.Warn().Float64("value", dfltMaxRUL).Msg("detection.maxRul not set, using default")
	}
	if conf.Detection.MaxRUL < 0 {
		return fmt.Errorf("%w: detection.maxRul must not be negative", ErrInvalidConfig)
	}

	if conf.RF.NumTrees == 0 {
		conf.RF.NumTrees = dfltRFNumTrees
		log.Warn().Int("value", dfltRFNumTrees).Msg("rf.numTrees not set, using default")
	}
	if conf.RF.VotingThreshold == 0 {
		conf.RF.VotingThreshold = dfltRFVotingThreshold
		log.Warn().Float64("value", dfltRFVotingThreshold).Msg("rf.votingThreshold not set, using default")
	}
	if conf.IForest.NumTrees == 0 {
		conf.IForest.NumTrees = dfltIForestNumTrees
		log.Warn().Int("value", dfltIForestNumTrees).Msg("iforest.numTrees not set, using default")
	}
	if conf.IForest.SampleSize == 0 {
		conf.IForest.SampleSize = dfltIForestSampleSize
		log.Warn().Int("value", dfltIForestSampleSize).Msg("iforest.sampleSize not set, using default")
	}
	if conf.IForest.NumTrees < 0 || conf.IForest.SampleSize < 2 {
		return fmt.Errorf("%w: iforest.numTrees must be positive and iforest.sampleSize at least 2", ErrInvalidConfig)
	}
	if conf.IForest.Seed == 0 {
		conf.IForest.Seed = dfltIForestSeed
	}
	if conf.NN.HiddenSize == 0 {
		conf.NN.HiddenSize = dfltNNHiddenSize
		log.Warn().Int("value", dfltNNHiddenSize).Msg("nn.hiddenSize not set, using default")
	}
	if conf.NN.NumEpochs == 0 {
		conf.NN.NumEpochs = dfltNNNumEpochs
		log.Warn().Int("value", dfltNNNumEpochs).Msg("nn.numEpochs not set, using default")
	}
	if conf.NN.LearningRate == 0 {
		conf.NN.LearningRate = dfltNNLearningRate
		log.Warn().Float64("value", dfltNNLearningRate).Msg("nn.learningRate not set, using default")
	}

	if len(conf.Methods) == 0 {
		conf.Methods = slices.Clone(SupportedMethods)
		log.Warn().Strs("methods", conf.Methods).Msg("methods not set, using all supported")
	}
	for _, m := range conf.Methods {
		if !slices.Contains(SupportedMethods, m) {
			return fmt.Errorf("%w: unsupported method %s", ErrInvalidConfig, m)
		}
	}
	if conf.ServedMethod == "" {
		conf.ServedMethod = dfltServedMethod
		log.Warn().Str("method", dfltServedMethod).Msg("servedMethod not set, using default")
	}
	if !slices.Contains(SupportedMethods, conf.ServedMethod) {
		return fmt.Errorf("%w: unsupported servedMethod %s", ErrInvalidConfig, conf.ServedMethod)
	}

	if conf.RunsDBPath == "" {
		conf.RunsDBPath = filepath.Join(conf.OutputDir, "runs.sqlite")
		log.Warn().Str("path", conf.RunsDBPath).Msg("runsDbPath not set, using default")
	}
	if conf.ScoreDBPath == "" {
		conf.ScoreDBPath = filepath.Join(conf.OutputDir, "scores")
		log.Warn().Str("path", conf.ScoreDBPath).Msg("scoreDbPath not set, using default")
	}
	return nil
}
