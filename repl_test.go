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

package main

import (
	"math"
	"testing"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *replSession {
	sess := &replSession{
		groups:    []dataset.UnitGroup{{UnitID: 1, Rows: []int{0, 1}}, {UnitID: 2, Rows: []int{2}}},
		scores:    []float64{0.1, 0.5, 2},
		threshold: 1,
		maxRUL:    150,
	}
	require.NoError(t, sess.recalc())
	return sess
}

func TestReplSetRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		param string
		value float64
		err   error
	}{
		{"zero threshold", "threshold", 0, eval.ErrZeroThreshold},
		{"negative threshold", "threshold", -1, eval.ErrInvalidThreshold},
		{"NaN threshold", "threshold", math.NaN(), eval.ErrInvalidThreshold},
		{"infinite threshold", "threshold", math.Inf(1), eval.ErrInvalidThreshold},
		{"negative maxrul", "maxrul", -5, eval.ErrInvalidMaxRUL},
		{"NaN maxrul", "maxrul", math.NaN(), eval.ErrInvalidMaxRUL},
		{"infinite maxrul", "maxrul", math.Inf(1), eval.ErrInvalidMaxRUL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newTestSession(t)
			before := append([]eval.PredictionRecord(nil), sess.preds...)
			err := sess.set(tt.param, tt.value)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1.0, sess.threshold)
			assert.Equal(t, 150.0, sess.maxRUL)
			assert.Equal(t, before, sess.preds)
		})
	}
}

func TestReplSetUpdatesPredictions(t *testing.T) {
	sess := newTestSession(t)
	require.NoError(t, sess.set("threshold", 2))
	assert.Equal(t, 2.0, sess.threshold)
	assert.InDelta(t, 150*(1-0.25), sess.preds[0].PredictedRUL, 1e-9)

	require.NoError(t, sess.set("maxrul", 100))
	assert.InDelta(t, 100*(1-0.25), sess.preds[0].PredictedRUL, 1e-9)
	assert.Equal(t, 0.0, sess.preds[1].PredictedRUL)

	assert.Error(t, sess.set("window", 3))
}
