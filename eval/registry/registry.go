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

package registry

import (
	"fmt"
	"path/filepath"

	"github.com/czcorpus/rulizer/cnf"
	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/iforest"
	"github.com/czcorpus/rulizer/eval/nn"
	"github.com/czcorpus/rulizer/eval/pca"
	"github.com/czcorpus/rulizer/eval/rf"
	"github.com/czcorpus/rulizer/eval/zscore"
)

// MethodLabels maps method IDs to human readable names used
// in reports and plot file names
var MethodLabels = map[string]string{
	"pca":     "PCA",
	"zscore":  "Z Score",
	"iforest": "Isolation Forest",
	"rf":      "Random Forest",
	"nn":      "Autoencoder",
}

// ScoreLabels describes what a score of a method means
var ScoreLabels = map[string]string{
	"pca":     "reconstruction error",
	"zscore":  "max |z|",
	"iforest": "isolation score",
	"rf":      "degraded class vote",
	"nn":      "reconstruction error",
}

// NewDetector creates an unfitted detector configured for the method
func NewDetector(method string, conf *cnf.Conf) (eval.Detector, error) {
	det := conf.Detection
	switch method {
	case "pca":
		return pca.NewEstimator(det.NumComponents, det.HealthyRUL, det.Percentile), nil
	case "zscore":
		return zscore.NewModel(det.HealthyRUL, det.Percentile), nil
	case "iforest":
		return iforest.NewModel(
			conf.IForest.NumTrees, conf.IForest.SampleSize, conf.IForest.Seed,
			det.HealthyRUL, det.Percentile,
		), nil
	case "rf":
		return rf.NewModel(conf.RF.NumTrees, det.HealthyRUL, conf.RF.VotingThreshold), nil
	case "nn":
		return nn.NewModel(
			conf.NN.HiddenSize, conf.NN.NumEpochs, conf.NN.LearningRate,
			det.HealthyRUL, det.Percentile,
		), nil
	}
	return nil, fmt.Errorf("%w: %s", eval.ErrNoSuchModel, method)
}

// LoadDetector loads a fitted detector of the method from a file
func LoadDetector(method, modelPath string) (eval.Detector, error) {
	var ans eval.Detector
	var err error
	switch method {
	case "pca":
		ans, err = loadAs(pca.LoadFromFile, modelPath)
	case "zscore":
		ans, err = loadAs(zscore.LoadFromFile, modelPath)
	case "iforest":
		ans, err = loadAs(iforest.LoadFromFile, modelPath)
	case "rf":
		ans, err = loadAs(rf.LoadFromFile, modelPath)
	case "nn":
		ans, err = loadAs(nn.LoadFromFile, modelPath)
	default:
		err = fmt.Errorf("%w: %s", eval.ErrNoSuchModel, method)
	}
	if err != nil {
		return nil, err
	}
	return ans, nil
}

// loadAs converts a concrete loader result to the Detector interface
// without producing a non-nil interface holding a nil pointer.
func loadAs[T eval.Detector](loader func(string) (T, error), modelPath string) (eval.Detector, error) {
	m, err := loader(modelPath)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ModelPath returns a path where the output model of the method
// is stored.
func ModelPath(conf *cnf.Conf, method string) (string, error) {
	det, err := NewDetector(method, conf)
	if err != nil {
		return "", err
	}
	return filepath.Join(conf.OutputDir, filepath.Base(det.CreateModelFileName(conf.FeatFilePath()))), nil
}

// Label returns a human readable name of a method
func Label(method string) string {
	if v, ok := MethodLabels[method]; ok {
		return v
	}
	return method
}
