// Package tensorutils moves data between gonum matrices, which are the
// batch type used at package boundaries, and the gorgonia tensors that
// back computational graph nodes.
package tensorutils

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// FromMatrix returns a new float64 tensor with the same shape and
// values as m. The returned tensor does not share memory with m.
func FromMatrix(m mat.Matrix) *tensor.Dense {
	r, c := m.Dims()
	backing := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			backing = append(backing, m.At(i, j))
		}
	}

	return tensor.New(
		tensor.WithShape(r, c),
		tensor.WithBacking(backing),
	)
}

// FromRow returns a new 1 x len(row) float64 tensor holding a copy of
// row.
func FromRow(row []float64) *tensor.Dense {
	backing := make([]float64, len(row))
	copy(backing, row)

	return tensor.New(
		tensor.WithShape(1, len(row)),
		tensor.WithBacking(backing),
	)
}

// ToDense copies a two-dimensional float64 Value of a computational
// graph into a new *mat.Dense.
func ToDense(v G.Value) (*mat.Dense, error) {
	if v == nil {
		return nil, errors.New("todense: nil value")
	}

	t, ok := v.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("todense: expected *tensor.Dense but "+
			"got %T", v)
	}

	shape := t.Shape()
	if len(shape) != 2 {
		return nil, errors.Errorf("todense: expected matrix but got "+
			"shape %v", shape)
	}

	data, ok := t.Data().([]float64)
	if !ok {
		return nil, errors.Errorf("todense: expected float64 backing but "+
			"got %v", t.Dtype())
	}

	backing := make([]float64, len(data))
	copy(backing, data)

	return mat.NewDense(shape[0], shape[1], backing), nil
}

// ToSlice returns a copy of the float64 data backing v.
func ToSlice(v G.Value) ([]float64, error) {
	t, ok := v.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("toslice: expected *tensor.Dense but "+
			"got %T", v)
	}

	data, ok := t.Data().([]float64)
	if !ok {
		return nil, errors.Errorf("toslice: expected float64 backing but "+
			"got %v", t.Dtype())
	}

	out := make([]float64, len(data))
	copy(out, data)
	return out, nil
}

// ColumnMeanVariance returns the mean and the unbiased variance of
// each column of m.
func ColumnMeanVariance(m mat.Matrix) (mean, variance []float64) {
	r, c := m.Dims()
	mean = make([]float64, c)
	variance = make([]float64, c)

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, m)
		mean[j], variance[j] = stat.MeanVariance(col, nil)
	}
	return mean, variance
}
