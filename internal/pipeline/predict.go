package pipeline

import (
	"fmt"
	"slices"

	"github.com/nvandessel/quicksim/internal/binning"
	"github.com/nvandessel/quicksim/internal/migration"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

// Predict folds a true-space histogram through the response matrix and
// returns the expected reco-space histogram. Both histograms use the
// matrix's flat bin order.
func Predict(m *migration.Matrix, trueHist []float64) ([]float64, error) {
	n := m.TotalBins()
	if len(trueHist) != n {
		return nil, fmt.Errorf("histogram has %d bins, matrix has %d: %w", len(trueHist), n, quickerr.ErrDimensionMismatch)
	}
	reco := make([]float64, n)
	for t, yield := range trueHist {
		if yield == 0 {
			continue
		}
		row, err := m.PredictEvents(t, yield)
		if err != nil {
			return nil, err
		}
		for r, v := range row {
			reco[r] += v
		}
	}
	return reco, nil
}

// HistogramFromTable maps a binned table onto the matrix's flat bins by
// matching each row's lower edges against the matrix edges. Rows whose
// edges are missing or unknown are an error.
func HistogramFromTable(m *migration.Matrix, t *binning.Table) ([]float64, error) {
	nd := m.NumDimensions()
	if len(t.Names) != nd {
		return nil, fmt.Errorf("table has %d dimensions, matrix has %d: %w", len(t.Names), nd, quickerr.ErrDimensionMismatch)
	}
	edges := make([][]float64, nd)
	for d := range edges {
		e, err := m.BinEdges(d)
		if err != nil {
			return nil, err
		}
		edges[d] = e
	}

	hist := make([]float64, m.TotalBins())
	idx := make([]int, nd)
	for i, row := range t.Rows {
		for d := 0; d < nd; d++ {
			k := slices.Index(edges[d][:len(edges[d])-1], row.Min[d])
			if k < 0 {
				return nil, fmt.Errorf("row %d: %s lower edge %g is not a matrix edge: %w", i, t.Names[d], row.Min[d], quickerr.ErrDimensionMismatch)
			}
			idx[d] = k
		}
		flat, err := m.Flatten(idx)
		if err != nil {
			return nil, err
		}
		hist[flat] += row.Count
	}
	return hist, nil
}
