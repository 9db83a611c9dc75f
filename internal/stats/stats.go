// Package stats computes the correlation matrix behind the heatmap view.
package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Pearson returns the Pearson correlation coefficient of x and y rounded to
// two decimals. A zero-variance series yields NaN.
func Pearson(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("series length mismatch: %d vs %d", len(x), len(y))
	}
	if len(x) == 0 {
		return math.NaN(), nil
	}
	return Round2(stat.Correlation(x, y, nil)), nil
}

// Round2 rounds v to two decimals; NaN and Inf pass through.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.Round(v*100) / 100
}

// Matrix is a labelled symmetric correlation matrix.
type Matrix struct {
	Labels []string
	m      *mat.SymDense
}

// Correlate builds the pairwise Pearson matrix of the given series. The
// diagonal is computed like every other cell, so a zero-variance series shows
// NaN there too.
func Correlate(labels []string, series ...[]float64) (*Matrix, error) {
	if len(labels) != len(series) {
		return nil, fmt.Errorf("%d labels for %d series", len(labels), len(series))
	}
	n := len(series)
	if n == 0 {
		return nil, fmt.Errorf("no series")
	}

	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			r, err := Pearson(series[i], series[j])
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", labels[i], labels[j], err)
			}
			m.SetSym(i, j, r)
		}
	}
	return &Matrix{Labels: labels, m: m}, nil
}

// Size returns the matrix dimension.
func (m *Matrix) Size() int {
	return m.m.SymmetricDim()
}

// At returns cell (i, j).
func (m *Matrix) At(i, j int) float64 {
	return m.m.At(i, j)
}

// Rows returns the matrix as nested slices.
func (m *Matrix) Rows() [][]float64 {
	n := m.Size()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = m.At(i, j)
		}
	}
	return rows
}
