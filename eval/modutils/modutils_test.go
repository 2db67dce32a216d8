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

package modutils

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractModelNameBaseFromFeatFile(t *testing.T) {
	assert.Equal(t, "data/FD001", ExtractModelNameBaseFromFeatFile("data/FD001.features.msgpack"))
	assert.Equal(t, "data/FD002", ExtractModelNameBaseFromFeatFile("data/FD002.features.v2.msgpack"))
	assert.Equal(t, "data/other", ExtractModelNameBaseFromFeatFile("data/other.bin"))
}

func TestModelFileName(t *testing.T) {
	assert.Equal(t, "out/FD001.model.pca.json", ModelFileName("out/FD001.features.msgpack", "pca"))
}

func TestPlotFileName(t *testing.T) {
	assert.Equal(t, "isolation_forest_analysis.png", PlotFileName("Isolation Forest"))
	assert.Equal(t, "pca_analysis.png", PlotFileName("PCA"))
}

func TestFormatRoughSize(t *testing.T) {
	assert.Equal(t, "512B", FormatRoughSize(512))
	assert.Equal(t, "1.5K", FormatRoughSize(1536))
	assert.Equal(t, "64.0M", FormatRoughSize(64<<20))
	assert.Equal(t, "2.0G", FormatRoughSize(2<<30))
}

type failingWriter struct{}

func (w failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWriteModelDataReportsWriterErrors(t *testing.T) {
	data := []byte(`{"numComponents": 1}`)
	assert.Error(t, writeModelData(failingWriter{}, data, false))
	assert.Error(t, writeModelData(failingWriter{}, data, true))

	var buf bytes.Buffer
	require.NoError(t, writeModelData(&buf, data, false))
	assert.Equal(t, data, buf.Bytes())
}

func TestWriteModelFile(t *testing.T) {
	data := []byte(`{"threshold": 0.25}`)
	dir := t.TempDir()

	plain := filepath.Join(dir, "FD001.model.pca.json")
	require.NoError(t, WriteModelFile(plain, data))
	stored, err := os.ReadFile(plain)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	compressed := filepath.Join(dir, "FD001.model.pca.json.gz")
	require.NoError(t, WriteModelFile(compressed, data))
	f, err := os.Open(compressed)
	require.NoError(t, err)
	defer f.Close()
	gzReader, err := gzip.NewReader(f)
	require.NoError(t, err)
	stored, err = io.ReadAll(gzReader)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	assert.Error(t, WriteModelFile(filepath.Join(dir, "missing", "x.json"), data))
}
