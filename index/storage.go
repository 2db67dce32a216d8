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

package index

import (
	"fmt"
	"time"

	"github.com/czcorpus/rulizer/eval"
	"github.com/dgraph-io/badger/v4"
)

// DB is a wrapper around badger.DB providing concrete
// methods for storing and retrieving per-cycle anomaly scores.
type DB struct {
	bdb *badger.DB
}

// Close closes the internal Badger database.
// It is necessary to perform the close especially
// in cases of data writing.
// It is possible to call the method on nil instance
// or on an uninitialized DB object, in which case
// it is a NOP.
func (db *DB) Close() error {
	if db != nil && db.bdb != nil {
		return db.bdb.Close()
	}
	return nil
}

func (db *DB) Size() (int64, int64) {
	return db.bdb.Size()
}

func (db *DB) StoreTimestamp(key string, value time.Time) error {
	return db.bdb.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeAuxKey(key), encodeTime(value))
	})
}

func (db *DB) ReadTimestamp(key string) (time.Time, error) {
	var result time.Time
	err := db.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeAuxKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			t, decodeErr := decodeTime(val)
			if decodeErr != nil {
				return decodeErr
			}
			result = t
			return nil
		})
	})
	return result, err
}

// SeriesKey returns a key under which the last update time
// of a (method, dataset) series is stored.
func SeriesKey(method, datasetID string) string {
	return method + "/" + datasetID
}

// StoreScores replaces all the scores of a (method, dataset) pair
// and records the time of the update under the "<method>/<dataset>" key.
func (db *DB) StoreScores(method, datasetID string, rows []eval.ScoredRow) error {
	if err := db.bdb.DropPrefix(encodeSeriesPrefix(method, datasetID)); err != nil {
		return fmt.Errorf("failed to store scores: %w", err)
	}
	wb := db.bdb.NewWriteBatch()
	defer wb.Cancel()
	for _, row := range rows {
		key := encodeScoreKey(method, datasetID, row.UnitID, row.Cycle)
		if err := wb.Set(key, encodeScoreValue(row)); err != nil {
			return fmt.Errorf("failed to store scores: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to store scores: %w", err)
	}
	return db.StoreTimestamp(SeriesKey(method, datasetID), time.Now())
}

func (db *DB) scanPrefix(prefix []byte) ([]eval.ScoredRow, error) {
	ans := make([]eval.ScoredRow, 0, 256)
	err := db.bdb.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var row eval.ScoredRow
			var err error
			row.UnitID, row.Cycle, err = decodeScoreKey(it.Item().Key())
			if err != nil {
				return err
			}
			err = it.Item().Value(func(val []byte) error {
				return decodeScoreValue(val, &row)
			})
			if err != nil {
				return err
			}
			ans = append(ans, row)
		}
		return nil
	})
	return ans, err
}

// UnitScores returns scores of a unit ordered by cycle
func (db *DB) UnitScores(method, datasetID string, unitID int) ([]eval.ScoredRow, error) {
	ans, err := db.scanPrefix(encodeUnitPrefix(method, datasetID, unitID))
	if err != nil {
		return nil, fmt.Errorf("failed to read unit scores: %w", err)
	}
	return ans, nil
}

// AllScores returns all the scores of a (method, dataset) pair
// ordered by unit and cycle
func (db *DB) AllScores(method, datasetID string) ([]eval.ScoredRow, error) {
	ans, err := db.scanPrefix(encodeSeriesPrefix(method, datasetID))
	if err != nil {
		return nil, fmt.Errorf("failed to read scores: %w", err)
	}
	return ans, nil
}

func OpenDB(path string) (*DB, error) {
	opts := badger.DefaultOptions(path).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(4).
		WithLogger(nil)

	ans := &DB{}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open score database: %w", err)
	}
	ans.bdb = db
	return ans, nil
}
