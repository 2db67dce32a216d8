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
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

var ErrMissingColumn = errors.New("missing column")

// Table is a simple row-major numeric table with named columns.
// Tables are treated as immutable - all the transforming methods
// return a new instance and never touch the source rows.
type Table struct {
	columns []string
	colIdx  map[string]int
	rows    [][]float64
}

// NewTable creates an empty table with the provided columns
func NewTable(columns []string) *Table {
	ans := &Table{
		columns: slices.Clone(columns),
		colIdx:  make(map[string]int, len(columns)),
		rows:    make([][]float64, 0, 100),
	}
	for i, c := range columns {
		ans.colIdx[c] = i
	}
	return ans
}

// AppendRow adds a new row. It is intended for table construction
// only (loaders, tests). The row is copied.
func (t *Table) AppendRow(row []float64) error {
	if len(row) != len(t.columns) {
		return fmt.Errorf(
			"cannot append row of size %d to a table with %d columns", len(row), len(t.columns))
	}
	t.rows = append(t.rows, slices.Clone(row))
	return nil
}

func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

func (t *Table) NumRows() int {
	return len(t.rows)
}

func (t *Table) NumCols() int {
	return len(t.columns)
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.colIdx[name]
	return ok
}

func (t *Table) ColumnIndex(name string) (int, bool) {
	i, ok := t.colIdx[name]
	return i, ok
}

// Row returns a copy of the i-th row
func (t *Table) Row(i int) []float64 {
	return slices.Clone(t.rows[i])
}

// Value returns a single value
func (t *Table) Value(row int, col string) (float64, error) {
	idx, ok := t.colIdx[col]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingColumn, col)
	}
	return t.rows[row][idx], nil
}

// Column returns a copy of all values of the column
func (t *Table) Column(name string) ([]float64, error) {
	idx, ok := t.colIdx[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
	}
	ans := make([]float64, len(t.rows))
	for i, row := range t.rows {
		ans[i] = row[idx]
	}
	return ans, nil
}

// RequireColumns tests the presence of all the columns and returns
// an error naming the first missing one.
func (t *Table) RequireColumns(names ...string) error {
	for _, n := range names {
		if !t.HasColumn(n) {
			return fmt.Errorf("%w: %s", ErrMissingColumn, n)
		}
	}
	return nil
}

// Matrix creates a dense matrix (rows x len(columns)) with values
// of the selected columns in the order they are specified.
func (t *Table) Matrix(columns []string) (*mat.Dense, error) {
	if len(t.rows) == 0 {
		return nil, fmt.Errorf("cannot create matrix from an empty table")
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("cannot create matrix - no columns selected")
	}
	idxs := make([]int, len(columns))
	for i, c := range columns {
		idx, ok := t.colIdx[c]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
		idxs[i] = idx
	}
	data := make([]float64, 0, len(t.rows)*len(columns))
	for _, row := range t.rows {
		for _, idx := range idxs {
			data = append(data, row[idx])
		}
	}
	return mat.NewDense(len(t.rows), len(columns), data), nil
}

// WithColumn returns a new table extended by (or with replaced) column
func (t *Table) WithColumn(name string, values []float64) (*Table, error) {
	if len(values) != len(t.rows) {
		return nil, fmt.Errorf(
			"column %s has %d values but table has %d rows", name, len(values), len(t.rows))
	}
	idx, exists := t.colIdx[name]
	cols := t.columns
	if !exists {
		cols = append(slices.Clone(t.columns), name)
	}
	ans := NewTable(cols)
	ans.rows = make([][]float64, len(t.rows))
	for i, row := range t.rows {
		if exists {
			nr := slices.Clone(row)
			nr[idx] = values[i]
			ans.rows[i] = nr

		} else {
			nr := make([]float64, len(row)+1)
			copy(nr, row)
			nr[len(row)] = values[i]
			ans.rows[i] = nr
		}
	}
	return ans, nil
}

// DropColumns returns a new table without the specified columns.
// Names not present in the table are ignored.
func (t *Table) DropColumns(names ...string) *Table {
	keep := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		if !slices.Contains(names, c) {
			keep = append(keep, c)
		}
	}
	ans, _ := t.Select(keep...)
	return ans
}

// Select returns a new table containing only the specified columns
// in the specified order.
func (t *Table) Select(names ...string) (*Table, error) {
	idxs := make([]int, len(names))
	for i, n := range names {
		idx, ok := t.colIdx[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, n)
		}
		idxs[i] = idx
	}
	ans := NewTable(names)
	ans.rows = make([][]float64, len(t.rows))
	for i, row := range t.rows {
		nr := make([]float64, len(idxs))
		for j, idx := range idxs {
			nr[j] = row[idx]
		}
		ans.rows[i] = nr
	}
	return ans, nil
}

// Filter returns a new table with rows matching the predicate.
// The predicate receives a row view which must not be modified.
func (t *Table) Filter(pred func(row []float64) bool) *Table {
	ans := NewTable(t.columns)
	for _, row := range t.rows {
		if pred(row) {
			ans.rows = append(ans.rows, slices.Clone(row))
		}
	}
	return ans
}

// UnitGroup holds row indices of a single unit
type UnitGroup struct {
	UnitID int
	Rows   []int
}

// GroupByUnit groups row indices by the unit_id column. Groups are
// returned in the order of the first appearance of each unit and
// row indices keep the table order.
func (t *Table) GroupByUnit() ([]UnitGroup, error) {
	idx, ok := t.colIdx[ColUnitID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColUnitID)
	}
	ans := make([]UnitGroup, 0, 100)
	positions := make(map[int]int)
	for i, row := range t.rows {
		unit := int(row[idx])
		pos, ok := positions[unit]
		if !ok {
			pos = len(ans)
			positions[unit] = pos
			ans = append(ans, UnitGroup{UnitID: unit, Rows: make([]int, 0, 200)})
		}
		ans[pos].Rows = append(ans[pos].Rows, i)
	}
	return ans, nil
}
