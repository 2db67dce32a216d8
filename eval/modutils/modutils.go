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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var feat2modelRegexp = regexp.MustCompile(`^(.+)\.features(\.[^/]*)?\.msgpack$`)

// FeatFileName creates a path of a feature set file for a dataset
func FeatFileName(dir, datasetID string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.features.msgpack", datasetID))
}

// ExtractModelNameBaseFromFeatFile strips the feature file suffix
// so that a model name can be derived from it. If the file does not
// follow the feature file naming, its extension is removed.
func ExtractModelNameBaseFromFeatFile(filename string) string {
	if feat2modelRegexp.MatchString(filename) {
		return feat2modelRegexp.ReplaceAllString(filename, "$1")
	}
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// ModelFileName creates a model file name for a method
// (e.g. FD001.model.pca.json)
func ModelFileName(featFile, method string) string {
	return fmt.Sprintf("%s.model.%s.json", ExtractModelNameBaseFromFeatFile(featFile), method)
}

// PlotFileName turns a method name into a plot file name
// (e.g. "Isolation Forest" -> isolation_forest_analysis.png)
func PlotFileName(method string) string {
	return strings.ReplaceAll(strings.ToLower(method), " ", "_") + "_analysis.png"
}

// FormatRoughSize formats a size in bytes into a short human readable
// form (e.g. 1.5G, 12.0M, 3.2K).
func FormatRoughSize(value int64) string {
	switch {
	case value >= 1<<30:
		return fmt.Sprintf("%.1fG", float64(value)/(1<<30))
	case value >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(value)/(1<<20))
	case value >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(value)/(1<<10))
	}
	return fmt.Sprintf("%dB", value)
}

// WriteModelFile stores serialized model data to a file. If the path
// ends with .gz, the data are gzip compressed. Errors from closing
// both the gzip stream and the file are reported as they may mean
// the file is truncated.
func WriteModelFile(filePath string, data []byte) error {
	file, err := os.Create(filePath)
	if err != nil {
		return err
	}
	if err := writeModelData(file, data, strings.HasSuffix(filePath, ".gz")); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeModelData(w io.Writer, data []byte, compress bool) error {
	if !compress {
		_, err := w.Write(data)
		return err
	}
	gzWriter := gzip.NewWriter(w)
	if _, err := gzWriter.Write(data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}

// ReadModelFile reads data stored by WriteModelFile. Files with
// the .gz or .gzip suffix are decompressed.
func ReadModelFile(filePath string) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var reader io.Reader = file
	if strings.HasSuffix(filePath, ".gz") || strings.HasSuffix(filePath, ".gzip") {
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	}
	return io.ReadAll(reader)
}
