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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/czcorpus/cnc-gokit/fs"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

var ErrMalformedRow = errors.New("malformed row")

// LoaderConf specifies which dataset should be loaded and how
// its raw files are organized.
type LoaderConf struct {

	// ID is a CMAPSS subset identifier (FD001, ..., FD004)
	ID      string `json:"id"`
	DataDir string `json:"dataDir"`
	Schema  Schema `json:"schema"`
}

func (conf LoaderConf) TrainPath() string {
	return filepath.Join(conf.DataDir, fmt.Sprintf("train_%s.txt", conf.ID))
}

func (conf LoaderConf) TestPath() string {
	return filepath.Join(conf.DataDir, fmt.Sprintf("test_%s.txt", conf.ID))
}

func (conf LoaderConf) RULPath() string {
	return filepath.Join(conf.DataDir, fmt.Sprintf("RUL_%s.txt", conf.ID))
}

// TrueRUL is a ground truth remaining useful life of a test unit
type TrueRUL struct {
	UnitID int     `json:"unitId"`
	RUL    float64 `json:"rul"`
}

// Bundle contains all three parts of a loaded dataset
type Bundle struct {
	Train *Table
	Test  *Table
	Truth []TrueRUL
}

// Load reads training, test and ground truth files of the dataset.
// The training table gets the derived RUL column.
func Load(conf LoaderConf) (*Bundle, error) {
	if conf.Schema.IsEmpty() {
		conf.Schema = DefaultSchema()
	}
	if err := conf.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", conf.ID, err)
	}
	rawTrain, err := ReadRawTable(conf.TrainPath(), conf.Schema.Columns())
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", conf.ID, err)
	}
	train, err := AddRUL(rawTrain)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", conf.ID, err)
	}
	test, err := ReadRawTable(conf.TestPath(), conf.Schema.Columns())
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", conf.ID, err)
	}
	rulTable, err := ReadRawTable(conf.RULPath(), []string{ColRUL})
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", conf.ID, err)
	}
	truth, err := TruthFromTable(rulTable)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", conf.ID, err)
	}
	log.Info().
		Str("dataset", conf.ID).
		Int("trainRows", train.NumRows()).
		Int("testRows", test.NumRows()).
		Int("testUnits", len(truth)).
		Msg("loaded dataset")
	return &Bundle{Train: train, Test: test, Truth: truth}, nil
}

// TruthFromTable converts a single-column RUL table into
// a list of ground truth values. Unit IDs are assigned
// by row position starting from 1.
func TruthFromTable(tbl *Table) ([]TrueRUL, error) {
	vals, err := tbl.Column(ColRUL)
	if err != nil {
		return nil, err
	}
	ans := make([]TrueRUL, len(vals))
	for i, v := range vals {
		ans[i] = TrueRUL{UnitID: i + 1, RUL: v}
	}
	return ans, nil
}

func resolveDataPath(path string) (string, error) {
	isFile, err := fs.IsFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to test data file %s: %w", path, err)
	}
	if isFile {
		return path, nil
	}
	isFile, err = fs.IsFile(path + ".gz")
	if err != nil {
		return "", fmt.Errorf("failed to test data file %s: %w", path, err)
	}
	if isFile {
		return path + ".gz", nil
	}
	return "", fmt.Errorf("data file %s not found: %w", path, os.ErrNotExist)
}

// ReadRawTable reads a whitespace separated file without header.
// Each non-empty line must provide at least len(columns) fields,
// surplus fields are ignored. Files with the .gz suffix are decompressed.
func ReadRawTable(path string, columns []string) (*Table, error) {
	realPath, err := resolveDataPath(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(realPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(realPath, ".gz") {
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	}
	return parseRawTable(reader, realPath, columns)
}

func parseRawTable(reader io.Reader, srcName string, columns []string) (*Table, error) {
	ans := NewTable(columns)
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	row := make([]float64, len(columns))
	var lineNum int
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < len(columns) {
			return nil, fmt.Errorf(
				"%w: %s, line %d: expected %d columns, found %d",
				ErrMalformedRow, srcName, lineNum, len(columns), len(fields),
			)
		}
		for i := range columns {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf(
					"%w: %s, line %d, column %s: %s", ErrMalformedRow, srcName, lineNum, columns[i], err)
			}
			row[i] = v
		}
		if err := ans.AppendRow(row); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", srcName, err)
	}
	return ans, nil
}

// AddRUL derives the remaining useful life for each row as
// the unit's maximum cycle minus the current cycle.
func AddRUL(tbl *Table) (*Table, error) {
	if err := tbl.RequireColumns(ColUnitID, ColTimeCycles); err != nil {
		return nil, fmt.Errorf("failed to calculate RUL: %w", err)
	}
	units, _ := tbl.Column(ColUnitID)
	cycles, _ := tbl.Column(ColTimeCycles)
	maxCycle := make(map[float64]float64)
	for i, u := range units {
		if m, ok := maxCycle[u]; !ok || cycles[i] > m {
			maxCycle[u] = cycles[i]
		}
	}
	rul := make([]float64, len(units))
	for i, u := range units {
		rul[i] = maxCycle[u] - cycles[i]
	}
	return tbl.WithColumn(ColRUL, rul)
}
