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
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/rs/zerolog/log"
)

const (
	ProcessedTrainFile = "train.csv"
	ProcessedTestFile  = "test.csv"
	ProcessedRULFile   = "rul.csv"
)

// integer-like columns are written without decimals
var intColumns = map[string]bool{
	ColUnitID:     true,
	ColTimeCycles: true,
}

func toDataFrame(tbl *Table) dataframe.DataFrame {
	cols := tbl.Columns()
	srs := make([]series.Series, len(cols))
	for i, c := range cols {
		vals, _ := tbl.Column(c)
		if intColumns[c] {
			ivals := make([]int, len(vals))
			for j, v := range vals {
				ivals[j] = int(v)
			}
			srs[i] = series.New(ivals, series.Int, c)

		} else {
			// gota formats Float elements with %f, so we pass
			// the shortest exact representation as strings
			svals := make([]string, len(vals))
			for j, v := range vals {
				svals[j] = strconv.FormatFloat(v, 'g', -1, 64)
			}
			srs[i] = series.New(svals, series.String, c)
		}
	}
	return dataframe.New(srs...)
}

func fromDataFrame(df dataframe.DataFrame) (*Table, error) {
	if df.Err != nil {
		return nil, df.Err
	}
	names := df.Names()
	cols := make([][]float64, len(names))
	for i, n := range names {
		cols[i] = df.Col(n).Float()
	}
	ans := NewTable(names)
	row := make([]float64, len(names))
	for r := range df.Nrow() {
		for c := range names {
			row[c] = cols[c][r]
		}
		if err := ans.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return ans, nil
}

// WriteCSV stores the table as a CSV file with a header row.
// Float values are written in full precision.
func WriteCSV(path string, tbl *Table) error {
	if tbl.NumCols() == 0 {
		return fmt.Errorf("failed to write %s: table has no columns", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	defer f.Close()
	df := toDataFrame(tbl)
	if df.Err != nil {
		return fmt.Errorf("failed to write %s: %w", path, df.Err)
	}
	if err := df.WriteCSV(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadCSV reads a CSV file with a header row produced by WriteCSV
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()
	df := dataframe.ReadCSV(f, dataframe.HasHeader(true))
	ans, err := fromDataFrame(df)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ans, nil
}

// SaveProcessed writes the processed train/test tables and
// the ground truth into the directory.
func SaveProcessed(dir string, train, test *Table, truth []TrueRUL) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for processed data: %w", err)
	}
	if err := WriteCSV(filepath.Join(dir, ProcessedTrainFile), train); err != nil {
		return err
	}
	if err := WriteCSV(filepath.Join(dir, ProcessedTestFile), test); err != nil {
		return err
	}
	rulTable := NewTable([]string{ColUnitID, ColRUL})
	for _, t := range truth {
		if err := rulTable.AppendRow([]float64{float64(t.UnitID), t.RUL}); err != nil {
			return err
		}
	}
	if err := WriteCSV(filepath.Join(dir, ProcessedRULFile), rulTable); err != nil {
		return err
	}
	log.Info().Str("dir", dir).Msg("saved processed dataset")
	return nil
}

// LoadProcessed reads the data stored by SaveProcessed
func LoadProcessed(dir string) (*Bundle, error) {
	train, err := ReadCSV(filepath.Join(dir, ProcessedTrainFile))
	if err != nil {
		return nil, err
	}
	test, err := ReadCSV(filepath.Join(dir, ProcessedTestFile))
	if err != nil {
		return nil, err
	}
	rulTable, err := ReadCSV(filepath.Join(dir, ProcessedRULFile))
	if err != nil {
		return nil, err
	}
	units, err := rulTable.Column(ColUnitID)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ProcessedRULFile, err)
	}
	ruls, err := rulTable.Column(ColRUL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ProcessedRULFile, err)
	}
	truth := make([]TrueRUL, len(units))
	for i := range units {
		truth[i] = TrueRUL{UnitID: int(units[i]), RUL: ruls[i]}
	}
	return &Bundle{Train: train, Test: test, Truth: truth}, nil
}
