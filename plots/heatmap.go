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

package plots

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"sort"
)

var ErrEmptyMatrix = errors.New("empty or irregular matrix")

// Matrix represents a 2D slice of float64 values
type Matrix [][]float64

// ScalingMethod represents the method used for scaling values
type ScalingMethod int

const (
	// Correlation maps the fixed range [-1, 1] to colors
	Correlation ScalingMethod = iota
	Linear
	Percentile
)

var colorMissing = color.RGBA{R: 200, G: 200, B: 200, A: 255}

// CorrelationHeatmap writes a correlation matrix as a PNG image where
// each cell is a square of cellSize pixels. Negative correlations
// are blue, positive ones red. NaN cells (e.g. constant sensors) are grey.
func CorrelationHeatmap(matrix Matrix, filename string, cellSize int, method ScalingMethod) error {
	height := len(matrix)
	if height == 0 || cellSize <= 0 {
		return ErrEmptyMatrix
	}
	width := len(matrix[0])
	for _, row := range matrix {
		if len(row) != width || width == 0 {
			return ErrEmptyMatrix
		}
	}
	img := image.NewRGBA(image.Rect(0, 0, width*cellSize, height*cellSize))

	sorted := finiteSorted(matrix)
	var minVal, maxVal float64
	if len(sorted) > 0 {
		minVal, maxVal = sorted[0], sorted[len(sorted)-1]
	}
	for y, row := range matrix {
		for x, val := range row {
			cellColor := colorMissing
			if !math.IsNaN(val) && !math.IsInf(val, 0) {
				cellColor = divergingColor(scaleValue(val, minVal, maxVal, sorted, method))
			}
			for dy := range cellSize {
				for dx := range cellSize {
					img.Set(x*cellSize+dx, y*cellSize+dy, cellColor)
				}
			}
		}
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to save heatmap: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to save heatmap: %w", err)
	}
	return nil
}

// finiteSorted flattens the matrix, skipping NaN and Inf values
func finiteSorted(matrix Matrix) []float64 {
	ans := make([]float64, 0, len(matrix)*len(matrix[0]))
	for _, row := range matrix {
		for _, v := range row {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				ans = append(ans, v)
			}
		}
	}
	sort.Float64s(ans)
	return ans
}

// scaleValue maps a value to [0, 1] based on the chosen method
func scaleValue(val, minVal, maxVal float64, sorted []float64, method ScalingMethod) float64 {
	var ans float64
	switch method {
	case Percentile:
		if len(sorted) < 2 {
			return 0.5
		}
		index := sort.SearchFloat64s(sorted, val)
		ans = float64(index) / float64(len(sorted)-1)
	case Linear:
		if maxVal == minVal {
			return 0.5
		}
		ans = (val - minVal) / (maxVal - minVal)
	default: // Correlation
		ans = (val + 1) / 2
	}
	return math.Max(0, math.Min(1, ans))
}

// divergingColor goes from blue (0) over white (0.5) to red (1)
func divergingColor(v float64) color.RGBA {
	if v < 0.5 {
		k := v * 2
		return color.RGBA{R: uint8(k * 255), G: uint8(k * 255), B: 255, A: 255}
	}
	k := (1 - v) * 2
	return color.RGBA{R: 255, G: uint8(k * 255), B: uint8(k * 255), A: 255}
}
