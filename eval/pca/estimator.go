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

package pca

import (
	"context"
	"fmt"
	"slices"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/modutils"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultNumComponents = 5
	DefaultHealthyRUL    = 125.0
	DefaultPercentile    = 95.0

	ctxCheckBlockSize = 1000
)

// TrainingStats describes data the model was fitted on
type TrainingStats struct {
	NumRows    int `json:"numRows"`
	NumHealthy int `json:"numHealthy"`
}

// fittedState is the immutable result of a successful fit
type fittedState struct {
	features  []string
	means     []float64
	basis     *mat.Dense // features x components
	variances []float64  // all component variances (descending)
	threshold float64
	stats     TrainingStats
}

// Estimator detects anomalies as samples poorly reconstructed from
// a low-dimensional linear subspace learned on healthy samples.
// A sample is healthy if its RUL is above HealthyRUL.
type Estimator struct {
	NumComponents int
	HealthyRUL    float64
	Percentile    float64
	state         *fittedState
}

func NewEstimator(numComponents int, healthyRUL, percentile float64) *Estimator {
	return &Estimator{
		NumComponents: numComponents,
		HealthyRUL:    healthyRUL,
		Percentile:    percentile,
	}
}

func (e *Estimator) IsFitted() bool {
	return e.state != nil
}

func (e *Estimator) Threshold() float64 {
	if e.state == nil {
		return 0
	}
	return e.state.threshold
}

func (e *Estimator) Features() []string {
	if e.state == nil {
		return []string{}
	}
	return slices.Clone(e.state.features)
}

func (e *Estimator) TrainingStats() TrainingStats {
	if e.state == nil {
		return TrainingStats{}
	}
	return e.state.stats
}

func (e *Estimator) GetInfo() string {
	ans := fmt.Sprintf(
		"PCA model, components: %d, healthy RUL > %.0f, threshold percentile: %.1f, threshold: %.6f",
		e.NumComponents, e.HealthyRUL, e.Percentile, e.Threshold(),
	)
	if _, cumulative, err := e.ExplainedVariance(); err == nil {
		st := e.TrainingStats()
		ans += fmt.Sprintf(
			", explained variance: %.4f, healthy rows: %d of %d",
			cumulative, st.NumHealthy, st.NumRows,
		)
	}
	return ans
}

func (e *Estimator) CreateModelFileName(featFile string) string {
	return modutils.ModelFileName(featFile, "pca")
}

// Fit learns the healthy subspace and the anomaly threshold. The threshold
// is the configured percentile of reconstruction errors over the whole
// training table (not only the healthy part). A failed fit keeps
// the previous state.
func (e *Estimator) Fit(ctx context.Context, train *dataset.Table, features []string) error {
	if len(features) == 0 {
		return fmt.Errorf("failed to fit PCA model: no features specified")
	}
	if e.NumComponents < 1 || e.NumComponents > len(features) {
		return fmt.Errorf(
			"failed to fit PCA model: invalid number of components %d for %d features",
			e.NumComponents, len(features),
		)
	}
	if err := train.RequireColumns(append([]string{dataset.ColRUL}, features...)...); err != nil {
		return fmt.Errorf("failed to fit PCA model: %w", err)
	}
	rulIdx, _ := train.ColumnIndex(dataset.ColRUL)
	healthy := train.Filter(func(row []float64) bool {
		return row[rulIdx] > e.HealthyRUL
	})
	if healthy.NumRows() == 0 {
		return fmt.Errorf("failed to fit PCA model: %w", eval.ErrEmptyHealthyPopulation)
	}
	healthyMat, err := healthy.Matrix(features)
	if err != nil {
		return fmt.Errorf("failed to fit PCA model: %w", err)
	}
	means := make([]float64, len(features))
	for j := range features {
		means[j] = stat.Mean(mat.Col(nil, j, healthyMat), nil)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(healthyMat, nil); !ok {
		return fmt.Errorf("failed to fit PCA model: decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	_, numAvail := vecs.Dims()
	if numAvail < e.NumComponents {
		return fmt.Errorf(
			"failed to fit PCA model: only %d components available for %d healthy samples",
			numAvail, healthy.NumRows(),
		)
	}
	basis := mat.DenseCopyOf(vecs.Slice(0, len(features), 0, e.NumComponents))
	newState := &fittedState{
		features:  slices.Clone(features),
		means:     means,
		basis:     basis,
		variances: pc.VarsTo(nil),
		stats: TrainingStats{
			NumRows:    train.NumRows(),
			NumHealthy: healthy.NumRows(),
		},
	}

	errs, err := newState.reconstructionErrors(ctx, train)
	if err != nil {
		return fmt.Errorf("failed to fit PCA model: %w", err)
	}
	newState.threshold, err = eval.Percentile(errs, e.Percentile)
	if err != nil {
		return fmt.Errorf("failed to fit PCA model: %w", err)
	}
	e.state = newState
	log.Info().
		Int("numRows", newState.stats.NumRows).
		Int("numHealthy", newState.stats.NumHealthy).
		Int("numComponents", e.NumComponents).
		Float64("threshold", newState.threshold).
		Msg("fitted PCA model")
	return nil
}

// reconstructionErrors projects rows onto the subspace and back and returns
// mean squared difference per row.
func (st *fittedState) reconstructionErrors(ctx context.Context, tbl *dataset.Table) ([]float64, error) {
	if tbl.NumRows() == 0 {
		return []float64{}, nil
	}
	data, err := tbl.Matrix(st.features)
	if err != nil {
		return nil, err
	}
	numRows, numFeats := data.Dims()
	ans := make([]float64, numRows)
	for start := 0; start < numRows; start += ctxCheckBlockSize {
		if ctx != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		end := min(start+ctxCheckBlockSize, numRows)
		block := mat.DenseCopyOf(data.Slice(start, end, 0, numFeats))
		for i := range end - start {
			for j := range numFeats {
				block.Set(i, j, block.At(i, j)-st.means[j])
			}
		}
		var projected, restored mat.Dense
		projected.Mul(block, st.basis)
		restored.Mul(&projected, st.basis.T())
		for i := range end - start {
			var sum float64
			for j := range numFeats {
				d := block.At(i, j) - restored.At(i, j)
				sum += d * d
			}
			ans[start+i] = sum / float64(numFeats)
		}
	}
	return ans, nil
}

// ReconstructionErrors returns per-row reconstruction error of the table
// in the table order.
func (e *Estimator) ReconstructionErrors(tbl *dataset.Table) ([]float64, error) {
	if e.state == nil {
		return nil, eval.ErrNotFitted
	}
	ans, err := e.state.reconstructionErrors(context.Background(), tbl)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate reconstruction error: %w", err)
	}
	return ans, nil
}

// Score is an alias of ReconstructionErrors
func (e *Estimator) Score(tbl *dataset.Table) ([]float64, error) {
	return e.ReconstructionErrors(tbl)
}

// PredictRUL estimates RUL of each unit from the reconstruction error
// of its last observation.
func (e *Estimator) PredictRUL(test *dataset.Table, maxRUL float64) ([]eval.PredictionRecord, error) {
	return eval.PredictRUL(e, test, maxRUL)
}

// Evaluate compares predictions with ground truth joined by unit ID
func (e *Estimator) Evaluate(preds []eval.PredictionRecord, truth []dataset.TrueRUL) (eval.Metrics, error) {
	if e.state == nil {
		return eval.Metrics{}, eval.ErrNotFitted
	}
	return eval.Evaluate(preds, truth)
}

// ExplainedVariance returns ratios of total variance explained by each
// of the kept components and their sum.
func (e *Estimator) ExplainedVariance() ([]float64, float64, error) {
	if e.state == nil {
		return nil, 0, eval.ErrNotFitted
	}
	var total float64
	for _, v := range e.state.variances {
		total += v
	}
	ratios := make([]float64, e.NumComponents)
	var cumulative float64
	if total == 0 {
		return ratios, 0, nil
	}
	for i := range ratios {
		ratios[i] = e.state.variances[i] / total
		cumulative += ratios[i]
	}
	return ratios, cumulative, nil
}
