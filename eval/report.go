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

package eval

import (
	"cmp"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/fatih/color"
)

type mispredictedUnit struct {
	Prediction PredictionRecord `json:"prediction"`
	TrueRUL    float64          `json:"trueRul"`
}

func (m mispredictedUnit) Diff() float64 {
	return m.Prediction.PredictedRUL - m.TrueRUL
}

func (m mispredictedUnit) Type() string {
	if m.Diff() > 0 {
		return "LATE"
	}
	return "EARLY"
}

// ------------------------

// Reporter collects per-unit prediction errors and writes
// the worst ones for a manual review.
type Reporter struct {
	units                    []mispredictedUnit
	MispredictedUnitsOutPath string
}

// AddPredictions registers predictions aligned with the ground truth
// by unit ID.
func (reporter *Reporter) AddPredictions(preds []PredictionRecord, truth []dataset.TrueRUL) error {
	_, aligned, err := AlignByUnit(preds, truth)
	if err != nil {
		return fmt.Errorf("failed to register predictions: %w", err)
	}
	for i, p := range preds {
		reporter.units = append(reporter.units, mispredictedUnit{Prediction: p, TrueRUL: aligned[i]})
	}
	return nil
}

func (reporter *Reporter) sortedMispredictedUnits() []mispredictedUnit {
	ans := slices.Clone(reporter.units)
	slices.SortStableFunc(
		ans,
		func(v1, v2 mispredictedUnit) int {
			return cmp.Compare(math.Abs(v2.Diff()), math.Abs(v1.Diff()))
		},
	)
	return ans
}

// ShowWorstUnits prints up to `limit` units with the largest absolute error
func (reporter *Reporter) ShowWorstUnits(w io.Writer, limit int) {
	for i, v := range reporter.sortedMispredictedUnits() {
		if i >= limit {
			break
		}
		fmt.Fprintf(w, "unit %d\t%s\tpredicted: %.1f\ttrue: %.1f\tlast error: %.4f\n",
			v.Prediction.UnitID, v.Type(), v.Prediction.PredictedRUL, v.TrueRUL, v.Prediction.LastError)
	}
}

func (reporter *Reporter) SaveMispredictedUnits() error {
	if reporter.MispredictedUnitsOutPath == "" {
		return fmt.Errorf("mispredictedUnitsOutPath is not set")
	}
	f, err := os.Create(reporter.MispredictedUnitsOutPath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", reporter.MispredictedUnitsOutPath, err)
	}
	defer f.Close()

	for _, item := range reporter.sortedMispredictedUnits() {
		_, err := fmt.Fprintf(f, "%d\t%.2f\t%.2f\t%.2f\t%s\t%.6f\t%.6f\n",
			item.Prediction.UnitID, item.Prediction.PredictedRUL, item.TrueRUL, item.Diff(), item.Type(),
			item.Prediction.LastError, item.Prediction.MaxError)
		if err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}
	}
	return nil
}

// ------------------------

// FormatMetrics prints RUL prediction metrics
func FormatMetrics(w io.Writer, method string, m Metrics) {
	title := color.New(color.FgHiMagenta).SprintFunc()
	fmt.Fprintf(w, "%s\n", title(fmt.Sprintf("RUL prediction - %s", method)))
	fmt.Fprintf(w, "  units:          %d\n", m.NumUnits)
	fmt.Fprintf(w, "  RMSE:           %.2f\n", m.RMSE)
	fmt.Fprintf(w, "  MAE:            %.2f\n", m.MAE)
	fmt.Fprintf(w, "  NASA score:     %.2f\n", m.NASAScore)
	fmt.Fprintf(w, "  mean error:     %.2f\n", m.MeanError)
	fmt.Fprintf(w, "  std error:      %.2f\n", m.StdError)
}

// FormatAnomalyMetrics prints anomaly detection coverage
func FormatAnomalyMetrics(w io.Writer, m AnomalyMetrics) {
	title := color.New(color.FgHiMagenta).SprintFunc()
	warn := color.New(color.FgHiYellow).SprintFunc()
	fmt.Fprintf(w, "%s\n", title(fmt.Sprintf("%s - %s", m.Method, m.Dataset)))
	fmt.Fprintf(w, "  units detected:             %d / %d (%.1f%%)\n",
		m.UnitsDetected, m.TotalUnits, m.DetectionRate)
	fmt.Fprintf(w, "  avg. first detection RUL:   %.1f cycles\n", m.AvgFirstDetectionRUL)
	fmt.Fprintf(w, "  avg. detection point:       %.1f%% of life\n", m.AvgDetectionCyclePct)
	fmt.Fprintf(w, "  early detections (RUL>%.0f): %d\n", EarlyDetectionRUL, m.EarlyDetections)
	fpr := fmt.Sprintf("%.1f%%", m.FalsePositiveRate)
	if m.FalsePositiveRate > 0 {
		fpr = warn(fpr)
	}
	fmt.Fprintf(w, "  false positive rate:        %s\n", fpr)
	fmt.Fprintf(w, "  anomalous observations:     %.1f%%\n", m.AnomalyPercentage)
}
