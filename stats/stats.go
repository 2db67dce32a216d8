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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

var ErrRunNotFound = errors.New("run not found")

// LatestRunAlias addresses the newest run matching a filter
const LatestRunAlias = "latest"

// Database stores history of detector runs and their
// per-unit predictions.
type Database struct {
	db *sql.DB
}

func (database *Database) createRunTable() error {
	_, err := database.db.Exec(
		"CREATE TABLE run (" +
			"id TEXT PRIMARY KEY NOT NULL, " +
			"created INTEGER NOT NULL, " +
			"dataset TEXT NOT NULL, " +
			"method TEXT NOT NULL, " +
			"params TEXT NOT NULL DEFAULT '{}', " +
			"params_digest TEXT NOT NULL, " +
			"threshold FLOAT NOT NULL, " +
			"metrics TEXT, " +
			"anomaly_metrics TEXT, " +
			"model_path TEXT NOT NULL DEFAULT ''" +
			")",
	)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	log.Info().Msg("created table `run`")
	return nil
}

func (database *Database) createRunPredictionTable() error {
	_, err := database.db.Exec(
		"CREATE TABLE run_prediction (" +
			"run_id TEXT NOT NULL, " +
			"unit_id INTEGER NOT NULL, " +
			"predicted_rul FLOAT NOT NULL, " +
			"last_error FLOAT NOT NULL, " +
			"mean_error FLOAT NOT NULL, " +
			"max_error FLOAT NOT NULL, " +
			"true_rul FLOAT, " +
			"PRIMARY KEY(run_id, unit_id), " +
			"FOREIGN KEY(run_id) REFERENCES run(id) ON DELETE CASCADE" +
			")",
	)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	log.Info().Msg("created table `run_prediction`")
	return nil
}

func (database *Database) tableExists(tn string) (bool, error) {
	ans := database.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", tn)
	var nm sql.NullString
	err := ans.Scan(&nm)
	if err == sql.ErrNoRows {
		return false, nil

	} else if err != nil {
		return false, fmt.Errorf("failed to determine existence of table %s: %w", tn, err)
	}
	return true, nil
}

// Init creates missing tables
func (database *Database) Init() error {
	tables := []struct {
		name   string
		create func() error
	}{
		{"run", database.createRunTable},
		{"run_prediction", database.createRunPredictionTable},
	}
	for _, tbl := range tables {
		ex, err := database.tableExists(tbl.name)
		if err != nil {
			return fmt.Errorf("failed to init table %s: %w", tbl.name, err)
		}
		if ex {
			log.Debug().Str("table", tbl.name).Msg("table already exists")
			continue
		}
		if err := tbl.create(); err != nil {
			return fmt.Errorf("failed to create table %s: %w", tbl.name, err)
		}
	}
	return nil
}

func marshalOptional(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// AddRun inserts a new run record. If the record has no ID, a new
// one is generated. The function returns the ID of the stored run.
func (database *Database) AddRun(rec RunRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Created.IsZero() {
		rec.Created = time.Now()
	}
	if rec.Params == "" {
		rec.Params = "{}"
	}
	if rec.ParamsDigest == "" {
		rec.ParamsDigest = ParamsDigest(rec.Dataset, rec.Method, rec.Params)
	}
	metrics, err := marshalOptional(rec.Metrics, rec.Metrics == nil)
	if err != nil {
		return "", fmt.Errorf("failed to add run: %w", err)
	}
	anomaly, err := marshalOptional(rec.Anomaly, rec.Anomaly == nil)
	if err != nil {
		return "", fmt.Errorf("failed to add run: %w", err)
	}
	_, err = database.db.Exec(
		"INSERT INTO run (id, created, dataset, method, params, params_digest, "+
			"threshold, metrics, anomaly_metrics, model_path) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		rec.ID,
		rec.Created.Unix(),
		rec.Dataset,
		rec.Method,
		rec.Params,
		rec.ParamsDigest,
		rec.Threshold,
		metrics,
		anomaly,
		rec.ModelPath,
	)
	if err != nil {
		return "", fmt.Errorf("failed to add run: %w", err)
	}
	return rec.ID, nil
}

// AddPredictions stores unit predictions of a run. True RUL
// values are attached where available.
func (database *Database) AddPredictions(
	runID string,
	preds []eval.PredictionRecord,
	truth []dataset.TrueRUL,
) error {
	truthMap := make(map[int]float64, len(truth))
	for _, t := range truth {
		truthMap[t.UnitID] = t.RUL
	}
	tx, err := database.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to add predictions: %w", err)
	}
	for _, p := range preds {
		var trueRUL sql.NullFloat64
		if v, ok := truthMap[p.UnitID]; ok {
			trueRUL = sql.NullFloat64{Float64: v, Valid: true}
		}
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO run_prediction "+
				"(run_id, unit_id, predicted_rul, last_error, mean_error, max_error, true_rul) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?)",
			runID, p.UnitID, p.PredictedRUL, p.LastError, p.MeanError, p.MaxError, trueRUL,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to add predictions: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to add predictions: %w", err)
	}
	return nil
}

const runColumns = "id, created, dataset, method, params, params_digest, " +
	"threshold, metrics, anomaly_metrics, model_path"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var created int64
	var metrics, anomaly sql.NullString
	err := row.Scan(
		&rec.ID,
		&created,
		&rec.Dataset,
		&rec.Method,
		&rec.Params,
		&rec.ParamsDigest,
		&rec.Threshold,
		&metrics,
		&anomaly,
		&rec.ModelPath,
	)
	if err != nil {
		return rec, err
	}
	rec.Created = time.Unix(created, 0)
	if metrics.Valid {
		rec.Metrics = new(eval.Metrics)
		if err := json.Unmarshal([]byte(metrics.String), rec.Metrics); err != nil {
			return rec, fmt.Errorf("invalid metrics of run %s: %w", rec.ID, err)
		}
	}
	if anomaly.Valid {
		rec.Anomaly = new(eval.AnomalyMetrics)
		if err := json.Unmarshal([]byte(anomaly.String), rec.Anomaly); err != nil {
			return rec, fmt.Errorf("invalid anomaly metrics of run %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func (database *Database) GetRun(id string) (RunRecord, error) {
	row := database.db.QueryRow("SELECT "+runColumns+" FROM run WHERE id = ?", id)
	ans, err := scanRun(row)
	if err == sql.ErrNoRows {
		return RunRecord{}, fmt.Errorf("failed to get run %s: %w", id, ErrRunNotFound)

	} else if err != nil {
		return RunRecord{}, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return ans, nil
}

// GetLatestRunID returns ID of the most recent run matching
// the filter.
func (database *Database) GetLatestRunID(filter ListFilter) (string, error) {
	runs, err := database.GetAllRuns(filter.SetLimit(1))
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ErrRunNotFound
	}
	return runs[0].ID, nil
}

// GetAllRuns loads runs matching the filter, newest first
func (database *Database) GetAllRuns(filter ListFilter) ([]RunRecord, error) {
	query := "SELECT " + runColumns + " FROM run WHERE %s ORDER BY created DESC, rowid DESC"
	whereChunks := make([]string, 0, 3)
	whereChunks = append(whereChunks, "1 = 1")
	args := make([]any, 0, 3)
	if filter.Dataset != nil {
		whereChunks = append(whereChunks, "dataset = ?")
		args = append(args, *filter.Dataset)
	}
	if filter.Method != nil {
		whereChunks = append(whereChunks, "method = ?")
		args = append(args, *filter.Method)
	}
	query = fmt.Sprintf(query, strings.Join(whereChunks, " AND "))
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := database.db.Query(query, args...)
	if err != nil {
		return []RunRecord{}, fmt.Errorf("failed to fetch runs: %w", err)
	}
	defer rows.Close()
	ans := make([]RunRecord, 0, 50)
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return []RunRecord{}, fmt.Errorf("failed to fetch runs: %w", err)
		}
		ans = append(ans, rec)
	}
	return ans, rows.Err()
}

func (database *Database) GetRunPredictions(runID string) ([]PredictionRow, error) {
	rows, err := database.db.Query(
		"SELECT unit_id, predicted_rul, last_error, mean_error, max_error, true_rul "+
			"FROM run_prediction WHERE run_id = ? ORDER BY unit_id",
		runID,
	)
	if err != nil {
		return []PredictionRow{}, fmt.Errorf("failed to fetch predictions: %w", err)
	}
	defer rows.Close()
	ans := make([]PredictionRow, 0, 100)
	for rows.Next() {
		var v PredictionRow
		var trueRUL sql.NullFloat64
		err := rows.Scan(
			&v.UnitID,
			&v.PredictedRUL,
			&v.LastError,
			&v.MeanError,
			&v.MaxError,
			&trueRUL,
		)
		if err != nil {
			return []PredictionRow{}, fmt.Errorf("failed to fetch predictions: %w", err)
		}
		if trueRUL.Valid {
			tmp := trueRUL.Float64
			v.TrueRUL = &tmp
		}
		ans = append(ans, v)
	}
	return ans, rows.Err()
}

// GetRunDetail loads a run and its stored predictions. The id
// can be LatestRunAlias in which case the filter selects the run.
func (database *Database) GetRunDetail(id string, filter ListFilter) (RunDetail, error) {
	if id == LatestRunAlias || id == "" {
		var err error
		id, err = database.GetLatestRunID(filter)
		if err != nil {
			return RunDetail{}, err
		}
	}
	run, err := database.GetRun(id)
	if err != nil {
		return RunDetail{}, err
	}
	preds, err := database.GetRunPredictions(id)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{Run: run, Predictions: preds}, nil
}

func (database *Database) Close() error {
	if database == nil || database.db == nil {
		return nil
	}
	return database.db.Close()
}

func NewDatabase(path string) (*Database, error) {
	dbConn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats datase: %w", err)
	}
	return &Database{db: dbConn}, nil
}
