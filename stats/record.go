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

package stats

import (
	"time"

	"github.com/czcorpus/rulizer/eval"
)

// RunRecord describes a single fit-and-evaluate run of a detector
type RunRecord struct {

	// ID is a random UUID of the run
	ID string `json:"id"`

	Created time.Time `json:"created"`

	// Dataset is a CMAPSS subset ID (e.g. FD001)
	Dataset string `json:"dataset"`

	// Method identifies the detector (pca, zscore, iforest, rf, nn)
	Method string `json:"method"`

	// Params contains JSON-encoded detector parameters
	Params string `json:"params"`

	// ParamsDigest allows grouping runs with identical configuration
	ParamsDigest string `json:"paramsDigest"`

	Threshold float64 `json:"threshold"`

	// Metrics are RUL prediction metrics. They are nil if the
	// run has not been evaluated against ground truth.
	Metrics *eval.Metrics `json:"metrics,omitempty"`

	Anomaly *eval.AnomalyMetrics `json:"anomaly,omitempty"`

	ModelPath string `json:"modelPath"`
}

// PredictionRow is a stored unit prediction of a run
type PredictionRow struct {
	eval.PredictionRecord
	TrueRUL *float64 `json:"trueRul,omitempty"`
}

// RunDetail is a stored run along with its unit predictions
type RunDetail struct {
	Run         RunRecord       `json:"run"`
	Predictions []PredictionRow `json:"predictions"`
}
