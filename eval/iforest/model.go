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

package iforest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/modutils"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultNumTrees   = 100
	DefaultSampleSize = 256
	DefaultSeed       = 42

	eulerGamma = 0.5772156649015329
)

// node is either an inner node splitting on Feature at Split
// or a leaf (Left == nil) holding Size training samples
type node struct {
	Feature int     `json:"f,omitempty"`
	Split   float64 `json:"s,omitempty"`
	Size    int     `json:"n,omitempty"`
	Left    *node   `json:"l,omitempty"`
	Right   *node   `json:"r,omitempty"`
}

func (n *node) isLeaf() bool {
	return n.Left == nil
}

// Model is an isolation forest. Anomalous samples are isolated by
// random axis-parallel splits in fewer steps than normal ones, so
// a short average path length means a high anomaly score.
// Trees are grown on subsamples of healthy rows.
type Model struct {
	NumTrees   int     `json:"numTrees"`
	SampleSize int     `json:"sampleSize"`
	Seed       uint64  `json:"seed"`
	HealthyRUL float64 `json:"healthyRul"`
	Percentile float64 `json:"percentile"`

	FeatureColumns []string `json:"features"`
	Trees          []*node  `json:"trees"`

	// EffectiveSampleSize is the subsample size actually used
	// (it can be lower than SampleSize for small datasets)
	EffectiveSampleSize int     `json:"effectiveSampleSize"`
	ScoreThreshold      float64 `json:"threshold"`
}

func NewModel(numTrees, sampleSize int, seed uint64, healthyRUL, percentile float64) *Model {
	return &Model{
		NumTrees:   numTrees,
		SampleSize: sampleSize,
		Seed:       seed,
		HealthyRUL: healthyRUL,
		Percentile: percentile,
	}
}

func (m *Model) IsFitted() bool {
	return len(m.Trees) > 0
}

func (m *Model) Threshold() float64 {
	return m.ScoreThreshold
}

func (m *Model) Features() []string {
	return slices.Clone(m.FeatureColumns)
}

func (m *Model) GetInfo() string {
	return fmt.Sprintf(
		"Isolation forest, trees: %d, sample size: %d, healthy RUL > %.0f, threshold: %.4f",
		len(m.Trees), m.EffectiveSampleSize, m.HealthyRUL, m.ScoreThreshold,
	)
}

func (m *Model) CreateModelFileName(featFile string) string {
	return modutils.ModelFileName(featFile, "iforest")
}

// averagePathLength is the average path length of an unsuccessful
// search in a binary search tree with n elements. It normalizes
// path lengths and estimates the depth below a leaf holding n samples.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

type treeBuilder struct {
	data     *mat.Dense
	rnd      *rand.Rand
	maxDepth int
}

func (b *treeBuilder) build(rows []int, depth int) *node {
	if depth >= b.maxDepth || len(rows) <= 1 {
		return &node{Size: len(rows)}
	}
	_, numFeats := b.data.Dims()
	// features which can still split the rows
	candidates := make([]int, 0, numFeats)
	mins := make([]float64, numFeats)
	maxs := make([]float64, numFeats)
	for j := range numFeats {
		mins[j], maxs[j] = math.Inf(1), math.Inf(-1)
		for _, r := range rows {
			v := b.data.At(r, j)
			mins[j] = math.Min(mins[j], v)
			maxs[j] = math.Max(maxs[j], v)
		}
		if maxs[j] > mins[j] {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return &node{Size: len(rows)}
	}
	feat := candidates[b.rnd.IntN(len(candidates))]
	split := mins[feat] + b.rnd.Float64()*(maxs[feat]-mins[feat])
	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, r := range rows {
		if b.data.At(r, feat) < split {
			left = append(left, r)

		} else {
			right = append(right, r)
		}
	}
	return &node{
		Feature: feat,
		Split:   split,
		Left:    b.build(left, depth+1),
		Right:   b.build(right, depth+1),
	}
}

func pathLength(n *node, row []float64) float64 {
	var depth float64
	for !n.isLeaf() {
		if row[n.Feature] < n.Split {
			n = n.Left

		} else {
			n = n.Right
		}
		depth++
	}
	return depth + averagePathLength(n.Size)
}

// Fit grows the trees on healthy rows and sets the threshold to the
// configured percentile of scores over the whole training table.
// A failed fit keeps the previous state.
func (m *Model) Fit(ctx context.Context, train *dataset.Table, features []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(features) == 0 {
		return fmt.Errorf("failed to fit isolation forest: no features specified")
	}
	if m.NumTrees < 1 || m.SampleSize < 2 {
		return fmt.Errorf("failed to fit isolation forest: invalid number of trees or sample size")
	}
	if err := train.RequireColumns(append([]string{dataset.ColRUL}, features...)...); err != nil {
		return fmt.Errorf("failed to fit isolation forest: %w", err)
	}
	rulIdx, _ := train.ColumnIndex(dataset.ColRUL)
	healthy := train.Filter(func(row []float64) bool {
		return row[rulIdx] > m.HealthyRUL
	})
	if healthy.NumRows() == 0 {
		return fmt.Errorf("failed to fit isolation forest: %w", eval.ErrEmptyHealthyPopulation)
	}
	data, err := healthy.Matrix(features)
	if err != nil {
		return fmt.Errorf("failed to fit isolation forest: %w", err)
	}
	numRows, _ := data.Dims()
	sampleSize := min(m.SampleSize, numRows)
	builder := &treeBuilder{
		data:     data,
		rnd:      rand.New(rand.NewPCG(m.Seed, m.Seed^0x9e3779b97f4a7c15)),
		maxDepth: int(math.Ceil(math.Log2(float64(max(sampleSize, 2))))),
	}
	trees := make([]*node, m.NumTrees)
	for i := range trees {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rows := builder.rnd.Perm(numRows)[:sampleSize]
		trees[i] = builder.build(rows, 0)
	}
	tmp := Model{
		NumTrees:            m.NumTrees,
		SampleSize:          m.SampleSize,
		Seed:                m.Seed,
		HealthyRUL:          m.HealthyRUL,
		Percentile:          m.Percentile,
		FeatureColumns:      slices.Clone(features),
		Trees:               trees,
		EffectiveSampleSize: sampleSize,
	}
	scores, err := tmp.Score(train)
	if err != nil {
		return fmt.Errorf("failed to fit isolation forest: %w", err)
	}
	tmp.ScoreThreshold, err = eval.Percentile(scores, m.Percentile)
	if err != nil {
		return fmt.Errorf("failed to fit isolation forest: %w", err)
	}
	*m = tmp
	log.Info().
		Int("numHealthy", numRows).
		Int("sampleSize", sampleSize).
		Float64("threshold", m.ScoreThreshold).
		Msg("fitted isolation forest")
	return nil
}

// Score returns the isolation forest anomaly score 2^(-E[h(x)]/c(n))
// of each row. Scores are within (0, 1], values close to 1 mean
// anomalies.
func (m *Model) Score(tbl *dataset.Table) ([]float64, error) {
	if !m.IsFitted() {
		return nil, eval.ErrNotFitted
	}
	if tbl.NumRows() == 0 {
		return []float64{}, nil
	}
	data, err := tbl.Matrix(m.FeatureColumns)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate isolation scores: %w", err)
	}
	norm := averagePathLength(m.EffectiveSampleSize)
	if norm == 0 {
		norm = 1
	}
	numRows, numFeats := data.Dims()
	ans := make([]float64, numRows)
	row := make([]float64, numFeats)
	for i := range numRows {
		mat.Row(row, i, data)
		var total float64
		for _, t := range m.Trees {
			total += pathLength(t, row)
		}
		ans[i] = math.Pow(2, -(total/float64(len(m.Trees)))/norm)
	}
	return ans, nil
}

func (m *Model) SaveToFile(filePath string) error {
	if !m.IsFitted() {
		return fmt.Errorf("failed to save isolation forest: %w", eval.ErrNotFitted)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to save isolation forest to a file: %w", err)
	}
	if err := modutils.WriteModelFile(filePath, data); err != nil {
		return fmt.Errorf("failed to save isolation forest to a file: %w", err)
	}
	return nil
}

func validateTree(n *node, numFeats int) bool {
	if n.isLeaf() {
		return n.Right == nil
	}
	if n.Right == nil || n.Feature < 0 || n.Feature >= numFeats {
		return false
	}
	return validateTree(n.Left, numFeats) && validateTree(n.Right, numFeats)
}

func LoadFromFile(filePath string) (*Model, error) {
	data, err := modutils.ReadModelFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	var ans Model
	if err := json.Unmarshal(data, &ans); err != nil {
		return nil, fmt.Errorf("failed to load isolation forest from file %s: %w", filePath, err)
	}
	if len(ans.Trees) == 0 || len(ans.FeatureColumns) == 0 {
		return nil, fmt.Errorf("failed to load isolation forest from file %s: empty model", filePath)
	}
	for _, t := range ans.Trees {
		if t == nil || !validateTree(t, len(ans.FeatureColumns)) {
			return nil, fmt.Errorf("failed to load isolation forest from file %s: invalid tree", filePath)
		}
	}
	return &ans, nil
}
