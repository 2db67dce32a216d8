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

package rf

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/modutils"
	randomforest "github.com/malaschitz/randomForest"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNumTrees        = 100
	DefaultVotingThreshold = 0.5
)

type jsonizedRFModel struct {
	Forest          json.RawMessage `json:"forest"`
	Features        []string        `json:"features"`
	HealthyRUL      float64         `json:"healthyRul"`
	VotingThreshold float64         `json:"votingThreshold"`
	Comment         string          `json:"comment"`
}

// Model is a supervised sibling of the PCA detector. A row is labeled
// as degraded (class 1) once its RUL drops to HealthyRUL or below and
// the anomaly score is the share of trees voting for the degraded class.
type Model struct {
	Forest          *randomforest.Forest
	NumTrees        int
	HealthyRUL      float64
	VotingThreshold float64
	Comment         string
	features        []string
	fitted          bool
}

func NewModel(numTrees int, healthyRUL, votingThreshold float64) *Model {
	return &Model{
		Forest:          &randomforest.Forest{},
		NumTrees:        numTrees,
		HealthyRUL:      healthyRUL,
		VotingThreshold: votingThreshold,
	}
}

func (m *Model) IsFitted() bool {
	return m.fitted
}

func (m *Model) Threshold() float64 {
	return m.VotingThreshold
}

func (m *Model) Features() []string {
	return slices.Clone(m.features)
}

func (m *Model) CreateModelFileName(featFile string) string {
	return modutils.ModelFileName(featFile, "rf")
}

func (m *Model) GetInfo() string {
	return fmt.Sprintf(
		"RF model, num. trees: %d, healthy RUL > %.0f, voting threshold: %.2f",
		m.NumTrees, m.HealthyRUL, m.VotingThreshold,
	)
}

// Fit trains the forest on all rows of the training table
func (m *Model) Fit(ctx context.Context, train *dataset.Table, features []string) error {
	if len(features) == 0 {
		return fmt.Errorf("failed to train RF model: no features specified")
	}
	if m.NumTrees <= 0 {
		return fmt.Errorf("failed to train RF model - invalid value of NumTrees")
	}
	if err := train.RequireColumns(append([]string{dataset.ColRUL}, features...)...); err != nil {
		return fmt.Errorf("failed to train RF model: %w", err)
	}
	if train.NumRows() == 0 {
		return fmt.Errorf("failed to train RF model: %w", eval.ErrNoRows)
	}
	rulIdx, _ := train.ColumnIndex(dataset.ColRUL)
	featIdxs := make([]int, len(features))
	for i, f := range features {
		featIdxs[i], _ = train.ColumnIndex(f)
	}
	xData := make([][]float64, 0, train.NumRows())
	yData := make([]int, 0, train.NumRows())
	var numDegraded int
	for i := range train.NumRows() {
		if i%100 == 0 && ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		row := train.Row(i)
		vec := make([]float64, len(featIdxs))
		for j, idx := range featIdxs {
			vec[j] = row[idx]
		}
		label := 0
		if row[rulIdx] <= m.HealthyRUL {
			label = 1
			numDegraded++
		}
		xData = append(xData, vec)
		yData = append(yData, label)
	}
	if numDegraded == 0 {
		return fmt.Errorf("failed to train RF model: no degraded samples in training data")
	}
	if numDegraded == len(yData) {
		return fmt.Errorf("failed to train RF model: %w", eval.ErrEmptyHealthyPopulation)
	}
	log.Debug().
		Int("numDegraded", numDegraded).
		Int("dataSize", len(yData)).
		Msg("prepared training vectors")

	forest := &randomforest.Forest{
		Data: randomforest.ForestData{
			X:     xData,
			Class: yData,
		},
	}
	forest.Train(m.NumTrees)
	m.Forest = forest
	m.features = slices.Clone(features)
	m.fitted = true
	log.Info().
		Int("numTrees", m.NumTrees).
		Int("numRows", len(yData)).
		Msg("fitted RF model")
	return nil
}

// Score returns the degraded-class vote for each row
func (m *Model) Score(tbl *dataset.Table) ([]float64, error) {
	if !m.fitted {
		return nil, eval.ErrNotFitted
	}
	if err := tbl.RequireColumns(m.features...); err != nil {
		return nil, fmt.Errorf("failed to score rows: %w", err)
	}
	featIdxs := make([]int, len(m.features))
	for i, f := range m.features {
		featIdxs[i], _ = tbl.ColumnIndex(f)
	}
	ans := make([]float64, tbl.NumRows())
	vec := make([]float64, len(featIdxs))
	for i := range tbl.NumRows() {
		row := tbl.Row(i)
		for j, idx := range featIdxs {
			vec[j] = row[idx]
		}
		votes := m.Forest.Vote(vec)
		if len(votes) > 1 {
			ans[i] = votes[1]
		}
	}
	return ans, nil
}

// SaveToFile saves the RF model to a file. If the path ends
// with .gz, the file is gzip compressed.
func (m *Model) SaveToFile(filePath string) error {
	if !m.fitted {
		return fmt.Errorf("failed to save RF model: %w", eval.ErrNotFitted)
	}
	tmpModel := jsonizedRFModel{
		Features:        m.features,
		HealthyRUL:      m.HealthyRUL,
		VotingThreshold: m.VotingThreshold,
		Comment:         m.Comment,
	}
	bytes, err := json.Marshal(m.Forest)
	if err != nil {
		return fmt.Errorf("failed to save RF model to a file: %w", err)
	}
	tmpModel.Forest = bytes

	bytes, err = json.Marshal(tmpModel)
	if err != nil {
		return fmt.Errorf("failed to save RF model to a file: %w", err)
	}
	if err := modutils.WriteModelFile(filePath, bytes); err != nil {
		return fmt.Errorf("failed to save RF model to a file: %w", err)
	}
	return nil
}

func LoadFromFile(filePath string) (*Model, error) {
	var tmpModel jsonizedRFModel
	data, err := modutils.ReadModelFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load Random Forest model from file: %w", err)
	}
	if err := json.Unmarshal(data, &tmpModel); err != nil {
		return nil, fmt.Errorf("failed to load Random Forest model from file: %w", err)
	}
	if len(tmpModel.Features) == 0 {
		return nil, fmt.Errorf("failed to load Random Forest model from file: no features")
	}
	var forest randomforest.Forest
	if err := json.Unmarshal(tmpModel.Forest, &forest); err != nil {
		return nil, fmt.Errorf("failed to load Random Forest model from file: %w", err)
	}
	return &Model{
		Forest:          &forest,
		NumTrees:        forest.NTrees,
		HealthyRUL:      tmpModel.HealthyRUL,
		VotingThreshold: tmpModel.VotingThreshold,
		Comment:         tmpModel.Comment,
		features:        tmpModel.Features,
		fitted:          true,
	}, nil
}
