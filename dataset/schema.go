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

package dataset

import (
	"fmt"
	"slices"
)

const (
	ColUnitID     = "unit_id"
	ColTimeCycles = "time_cycles"
	ColRUL        = "RUL"

	numSettings = 3
	numSensors  = 21
)

// Schema describes the column layout of the raw whitespace separated
// files. The order of columns in a raw row is IndexColumns, SettingColumns
// and SensorColumns.
type Schema struct {
	IndexColumns   []string `json:"indexColumns"`
	SettingColumns []string `json:"settingColumns"`
	SensorColumns  []string `json:"sensorColumns"`
}

// DefaultSchema returns the CMAPSS layout (2 index columns,
// 3 operational settings and 21 sensors).
func DefaultSchema() Schema {
	ans := Schema{
		IndexColumns:   []string{ColUnitID, ColTimeCycles},
		SettingColumns: make([]string, numSettings),
		SensorColumns:  make([]string, numSensors),
	}
	for i := range numSettings {
		ans.SettingColumns[i] = fmt.Sprintf("setting_%d", i+1)
	}
	for i := range numSensors {
		ans.SensorColumns[i] = fmt.Sprintf("sensor_%d", i+1)
	}
	return ans
}

// Columns returns all the column names in the raw file order.
func (s Schema) Columns() []string {
	ans := make([]string, 0, s.Width())
	ans = append(ans, s.IndexColumns...)
	ans = append(ans, s.SettingColumns...)
	ans = append(ans, s.SensorColumns...)
	return ans
}

func (s Schema) Width() int {
	return len(s.IndexColumns) + len(s.SettingColumns) + len(s.SensorColumns)
}

func (s Schema) IsEmpty() bool {
	return s.Width() == 0
}

// Validate tests that the schema contains the unit and cycle
// columns the loader depends on and that there are no duplicate names.
func (s Schema) Validate() error {
	cols := s.Columns()
	if !slices.Contains(s.IndexColumns, ColUnitID) || !slices.Contains(s.IndexColumns, ColTimeCycles) {
		return fmt.Errorf("schema must contain index columns %s and %s", ColUnitID, ColTimeCycles)
	}
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c] {
			return fmt.Errorf("duplicate column %s in schema", c)
		}
		seen[c] = true
	}
	if len(s.SensorColumns) == 0 {
		return fmt.Errorf("schema contains no sensor columns")
	}
	return nil
}
