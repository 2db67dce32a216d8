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

package nn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/modutils"
	"github.com/patrikeh/go-deep"
	"github.com/patrikeh/go-deep/training"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHiddenSize   = 4
	DefaultNumEpochs    = 200
	DefaultLearningRate = 0.005
)

type FeatureStats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type jsonizedModel struct {
	NeuralNet    *deep.Dump     `json:"neuralNet"`
	Features     []string       `json:"features"`
	DataRanges   []FeatureStats `json:"dataRanges"`
	HiddenSize   int            `json:"hiddenSize"`
	NumEpochs    int            `json:"numEpochs"`
	LearningRate float64        `json:"learningRate"`
	HealthyRUL   float64        `json:"healthyRul"`
	Percentile   float64        `json:"percentile"`
	Threshold    float64        `json:"threshold"`
}

// Model is a small autoencoder (features -> hidden -> features)
// trained on healthy rows. Its anomaly score is the mean squared
// reconstruction error of min-max normalized features, i.e. a non-linear
// counterpart of the PCA detector.
type Model struct {
	NeuralNet    *deep.Neural
	DataRanges   []FeatureStats
	HiddenSize   int
	NumEpochs    int
	LearningRate float64
	HealthyRUL   float64
	Percentile   float64
	// Verbosity is passed to the trainer (0 = silent)
	Verbosity int
	features  []string
	threshold float64
}

func NewModel(hiddenSize, numEpochs int, learningRate, healthyRUL, percentile float64) *Model {
	return &Model{
		HiddenSize:   hiddenSize,
		NumEpochs:    numEpochs,
		LearningRate: learningRate,
		HealthyRUL:   healthyRUL,
		Percentile:   percentile,
	}
}

func (m *Model) IsFitted() bool {
	return m.NeuralNet != nil
}

func (m *Model) Threshold() float64 {
	return m.threshold
}

func (m *Model) Features() []string {
	return slices.Clone(m.features)
}

func (m *Model) CreateModelFileName(featFile string) string {
	return modutils.ModelFileName(featFile, "nn")
}

func (m *Model) GetInfo() string {
	return fmt.Sprintf(
		"NN autoencoder, layout: %d-%d-%d, epochs: %d, threshold: %.6f",
		len(m.features), m.HiddenSize, len(m.features), m.NumEpochs, m.threshold,
	)
}

func (m *Model) Fit(ctx context.Context, train *dataset.Table, features []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(features) == 0 {
		return fmt.Errorf("failed to train NN model: no features specified")
	}
	if m.HiddenSize <= 0 || m.NumEpochs <= 0 {
		return fmt.Errorf("failed to train NN model - invalid network parameters")
	}
	if err := train.RequireColumns(append([]string{dataset.ColRUL}, features...)...); err != nil {
		return fmt.Errorf("failed to train NN model: %w", err)
	}
	rulIdx, _ := train.ColumnIndex(dataset.ColRUL)
	healthy := train.Filter(func(row []float64) bool {
		return row[rulIdx] > m.HealthyRUL
	})
	if healthy.NumRows() == 0 {
		return fmt.Errorf("failed to train NN model: %w", eval.ErrEmptyHealthyPopulation)
	}
	ranges, err := getDataStats(healthy, features)
	if err != nil {
		return fmt.Errorf("failed to train NN model: %w", err)
	}
	examples := make(training.Examples, 0, healthy.NumRows())
	for i := range healthy.NumRows() {
		vec := extractVector(healthy, i, features)
		normalize(ranges, vec)
		examples = append(examples, training.Example{
			Input:    vec,
			Response: slices.Clone(vec),
		})
	}
	log.Debug().
		Int("numHealthy", len(examples)).
		Int("numFeatures", len(features)).
		Msg("prepared training vectors")

	net := deep.NewNeural(&deep.Config{
		Inputs:     len(features),
		Layout:     []int{m.HiddenSize, len(features)},
		Activation: deep.ActivationTanh,
		Mode:       deep.ModeRegression,
		Weight:     deep.NewUniform(0.5, 0.0),
		Bias:       true,
	})
	optimizer := training.NewAdam(m.LearningRate, 0.9, 0.999, 1e-8)
	trainer := training.NewTrainer(optimizer, m.Verbosity)
	trainer.TrainContext(ctx, net, examples, examples, m.NumEpochs)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	tmp := &Model{
		NeuralNet:  net,
		DataRanges: ranges,
		features:   slices.Clone(features),
	}
	scores, err := tmp.Score(train)
	if err != nil {
		return fmt.Errorf("failed to train NN model: %w", err)
	}
	thr, err := eval.Percentile(scores, m.Percentile)
	if err != nil {
		return fmt.Errorf("failed to train NN model: %w", err)
	}
	m.NeuralNet = net
	m.DataRanges = ranges
	m.features = tmp.features
	m.threshold = thr
	log.Info().
		Int("numHealthy", len(examples)).
		Int("epochs", m.NumEpochs).
		Float64("threshold", thr).
		Msg("fitted NN model")
	return nil
}

func extractVector(tbl *dataset.Table, row int, features []string) []float64 {
	ans := make([]float64, len(features))
	for j, f := range features {
		ans[j], _ = tbl.Value(row, f)
	}
	return ans
}

func getDataStats(tbl *dataset.Table, features []string) ([]FeatureStats, error) {
	stats := make([]FeatureStats, len(features))
	for i, f := range features {
		col, err := tbl.Column(f)
		if err != nil {
			return nil, err
		}
		stats[i] = FeatureStats{Min: slices.Min(col), Max: slices.Max(col)}
	}
	return stats, nil
}

func normalize(ranges []FeatureStats, data []float64) {
	for i := range data {
		lo, hi := ranges[i].Min, ranges[i].Max
		if hi == lo {
			data[i] = 0.0 // constant feature

		} else {
			data[i] = (data[i] - lo) / (hi - lo)
		}
	}
}

// Score returns mean squared reconstruction error of each row
func (m *Model) Score(tbl *dataset.Table) ([]float64, error) {
	if m.NeuralNet == nil {
		return nil, eval.ErrNotFitted
	}
	if err := tbl.RequireColumns(m.features...); err != nil {
		return nil, fmt.Errorf("failed to score rows: %w", err)
	}
	ans := make([]float64, tbl.NumRows())
	for i := range tbl.NumRows() {
		vec := extractVector(tbl, i, m.features)
		normalize(m.DataRanges, vec)
		out := m.NeuralNet.Predict(vec)
		var sum float64
		for j, v := range vec {
			d := v - out[j]
			sum += d * d
		}
		ans[i] = sum / float64(len(vec))
	}
	return ans, nil
}

func (m *Model) SaveToFile(filePath string) error {
	if m.NeuralNet == nil {
		return fmt.Errorf("failed to save NN model: %w", eval.ErrNotFitted)
	}
	tmpModel := jsonizedModel{
		NeuralNet:    m.NeuralNet.Dump(),
		Features:     m.features,
		DataRanges:   m.DataRanges,
		HiddenSize:   m.HiddenSize,
		NumEpochs:    m.NumEpochs,
		LearningRate: m.LearningRate,
		HealthyRUL:   m.HealthyRUL,
		Percentile:   m.Percentile,
		Threshold:    m.threshold,
	}
	bytes, err := json.Marshal(tmpModel)
	if err != nil {
		return fmt.Errorf("failed to save NN to file: %w", err)
	}
	if err := modutils.WriteModelFile(filePath, bytes); err != nil {
		return fmt.Errorf("failed to save NN model to a file: %w", err)
	}
	return nil
}

func LoadFromFile(filePath string) (*Model, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var model jsonizedModel
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load Neural Network model from file %s: %w", filePath, err)
	}
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to load Neural Network model from file %s: %w", filePath, err)
	}
	if model.NeuralNet == nil || len(model.DataRanges) != len(model.Features) {
		return nil, fmt.Errorf("failed to load Neural Network model from file %s: inconsistent dimensions", filePath)
	}
	return &Model{
		NeuralNet:    deep.FromDump(model.NeuralNet),
		DataRanges:   model.DataRanges,
		HiddenSize:   model.HiddenSize,
		NumEpochs:    model.NumEpochs,
		LearningRate: model.LearningRate,
		HealthyRUL:   model.HealthyRUL,
		Percentile:   model.Percentile,
		features:     model.Features,
		threshold:    model.Threshold,
	}, nil
}
