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

package feats

import (
	"fmt"
	"os"
	"slices"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval/modutils"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// CurationConf configures the feature selection
type CurationConf struct {
	VarianceTolerance    float64 `json:"varianceTolerance"`
	CorrelationThreshold float64 `json:"correlationThreshold"`

	// RedundantSensors is a precedence table for removal of correlated
	// sensors. When two sensors are correlated, the one listed earlier
	// is removed.
	RedundantSensors []string `json:"redundantSensors"`
}

// FeatureSet is an ordered list of columns used by the models
type FeatureSet struct {
	Dataset  string   `msgpack:"dataset"`
	Columns  []string `msgpack:"columns"`
	Scaler   *Scaler  `msgpack:"scaler"`
	Constant []string `msgpack:"constant"`
	Pruned   []string `msgpack:"pruned"`
}

func (fs FeatureSet) Save(path string) error {
	srz, err := msgpack.Marshal(&fs)
	if err != nil {
		return fmt.Errorf("failed to serialize feature set: %w", err)
	}
	if err := os.WriteFile(path, srz, 0644); err != nil {
		return fmt.Errorf("failed to save feature set to %s: %w", path, err)
	}
	return nil
}

func LoadFeatureSet(path string) (FeatureSet, error) {
	var ans FeatureSet
	data, err := os.ReadFile(path)
	if err != nil {
		return ans, fmt.Errorf("failed to load feature set: %w", err)
	}
	if err := msgpack.Unmarshal(data, &ans); err != nil {
		return ans, fmt.Errorf("failed to load feature set from %s: %w", path, err)
	}
	if len(ans.Columns) == 0 {
		return ans, fmt.Errorf("feature set %s contains no columns", path)
	}
	return ans, nil
}

// Result contains curated data and all the decisions made
type Result struct {
	Train      *dataset.Table
	Test       *dataset.Table
	FeatureSet FeatureSet
	Pairs      []CorrPair
}

// Save writes the curated tables, the ground truth and the feature set
// into dir. The function returns a path of the feature set file.
func (r *Result) Save(dir string, truth []dataset.TrueRUL) (string, error) {
	if err := dataset.SaveProcessed(dir, r.Train, r.Test, truth); err != nil {
		return "", fmt.Errorf("failed to save curation result: %w", err)
	}
	featPath := modutils.FeatFileName(dir, r.FeatureSet.Dataset)
	if err := r.FeatureSet.Save(featPath); err != nil {
		return "", fmt.Errorf("failed to save curation result: %w", err)
	}
	return featPath, nil
}

// Curate removes constant sensors, standardizes the remaining ones
// (parameters learned from the training table) and removes redundant
// correlated sensors. The same columns are removed from both tables.
func Curate(
	datasetID string,
	train, test *dataset.Table,
	sensors []string,
	conf CurationConf,
) (*Result, error) {
	if conf.VarianceTolerance <= 0 {
		conf.VarianceTolerance = DefaultVarianceTolerance
	}
	if conf.CorrelationThreshold <= 0 {
		conf.CorrelationThreshold = DefaultCorrelationThreshold
	}
	constant, err := ConstantSensors(train, sensors, conf.VarianceTolerance)
	if err != nil {
		return nil, fmt.Errorf("failed to curate features: %w", err)
	}
	log.Info().Strs("sensors", constant).Msg("removing constant sensors")
	useful := make([]string, 0, len(sensors))
	for _, s := range sensors {
		if !slices.Contains(constant, s) {
			useful = append(useful, s)
		}
	}
	if len(useful) == 0 {
		return nil, fmt.Errorf("failed to curate features: all sensors are constant")
	}
	train = train.DropColumns(constant...)
	test = test.DropColumns(constant...)

	scaler, err := FitScaler(train, useful)
	if err != nil {
		return nil, fmt.Errorf("failed to curate features: %w", err)
	}
	train, err = scaler.Transform(train)
	if err != nil {
		return nil, fmt.Errorf("failed to curate features: %w", err)
	}
	test, err = scaler.Transform(test)
	if err != nil {
		return nil, fmt.Errorf("failed to curate features: %w", err)
	}

	pairs, err := CorrelatedPairs(train, useful, conf.CorrelationThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to curate features: %w", err)
	}
	for _, p := range pairs {
		log.Info().
			Str("first", p.First).
			Str("second", p.Second).
			Float64("correlation", p.Correlation).
			Msg("high correlation")
	}
	pruned := PruneCorrelated(pairs, useful, conf.RedundantSensors)
	if len(pruned) > 0 {
		log.Info().Strs("sensors", pruned).Msg("removing highly correlated sensors")
	}
	train = train.DropColumns(pruned...)
	test = test.DropColumns(pruned...)
	final := make([]string, 0, len(useful))
	for _, s := range useful {
		if !slices.Contains(pruned, s) {
			final = append(final, s)
		}
	}
	log.Info().
		Int("numFeatures", len(final)).
		Strs("features", final).
		Msg("feature curation done")

	return &Result{
		Train: train,
		Test:  test,
		FeatureSet: FeatureSet{
			Dataset:  datasetID,
			Columns:  final,
			Scaler:   scaler,
			Constant: constant,
			Pruned:   pruned,
		},
		Pairs: pairs,
	}, nil
}
