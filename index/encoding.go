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
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/czcorpus/rulizer/eval"
)

const (
	ScorePrefix   byte = 0x00 // per-cycle anomaly scores
	AuxDataPrefix byte = 0x02 // auxiliary data

	keySeparator byte = 0x00
	scoreValLen       = 17
)

// encodeSeriesPrefix creates a key prefix shared by all
// scores of a (method, dataset) pair
func encodeSeriesPrefix(method, datasetID string) []byte {
	key := make([]byte, 0, 3+len(method)+len(datasetID))
	key = append(key, ScorePrefix)
	key = append(key, []byte(method)...)
	key = append(key, keySeparator)
	key = append(key, []byte(datasetID)...)
	key = append(key, keySeparator)
	return key
}

// encodeUnitPrefix extends the series prefix by a unit ID. Big endian
// encoding keeps units and cycles sorted in Badger's key order.
func encodeUnitPrefix(method, datasetID string, unitID int) []byte {
	key := encodeSeriesPrefix(method, datasetID)
	return binary.BigEndian.AppendUint32(key, uint32(unitID))
}

func encodeScoreKey(method, datasetID string, unitID, cycle int) []byte {
	key := encodeUnitPrefix(method, datasetID, unitID)
	return binary.BigEndian.AppendUint32(key, uint32(cycle))
}

func decodeScoreKey(key []byte) (unitID, cycle int, err error) {
	if len(key) < 9 {
		return 0, 0, fmt.Errorf("invalid score key length %d", len(key))
	}
	tail := key[len(key)-8:]
	return int(binary.BigEndian.Uint32(tail[0:4])), int(binary.BigEndian.Uint32(tail[4:8])), nil
}

func encodeScoreValue(row eval.ScoredRow) []byte {
	buf := make([]byte, scoreValLen)
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(row.Score))
	binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(row.RUL))
	if row.IsAnomaly {
		buf[16] = 1
	}
	return buf
}

func decodeScoreValue(data []byte, row *eval.ScoredRow) error {
	if len(data) != scoreValLen {
		return fmt.Errorf("invalid score value length: expected %d, got %d", scoreValLen, len(data))
	}
	row.Score = math.Float64frombits(binary.BigEndian.Uint64(data[0:8]))
	row.RUL = math.Float64frombits(binary.BigEndian.Uint64(data[8:16]))
	row.IsAnomaly = data[16] == 1
	return nil
}

func encodeAuxKey(key string) []byte {
	keyBytes := make([]byte, 1+len(key))
	keyBytes[0] = AuxDataPrefix
	copy(keyBytes[1:], []byte(key))
	return keyBytes
}

func encodeTime(t time.Time) []byte {
	buf := make([]byte, 16) // 8 bytes for seconds + 8 bytes for nanoseconds
	utc := t.UTC()
	binary.BigEndian.PutUint64(buf[0:8], uint64(utc.Unix()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(utc.Nanosecond()))
	return buf
}

func decodeTime(data []byte) (time.Time, error) {
	if len(data) != 16 {
		return time.Time{}, fmt.Errorf("invalid byte slice length: expected 16, got %d", len(data))
	}
	seconds := int64(binary.BigEndian.Uint64(data[0:8]))
	nanoseconds := int64(binary.BigEndian.Uint64(data[8:16]))
	return time.Unix(seconds, nanoseconds).UTC(), nil
}
