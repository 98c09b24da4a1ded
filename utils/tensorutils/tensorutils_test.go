package tensorutils

import (
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

func TestFromMatrixToDense(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})

	tens := FromMatrix(m)
	if !tens.Shape().Eq(tensor.Shape{2, 3}) {
		t.Fatalf("fromMatrix: wrong shape \n\twant(%v) \n\thave(%v)",
			tensor.Shape{2, 3}, tens.Shape())
	}

	back, err := ToDense(tens)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(m, back) {
		t.Errorf("toDense: want(%v) have(%v)", mat.Formatted(m),
			mat.Formatted(back))
	}

	// The copy must not alias the original
	m.Set(0, 0, 100)
	if back.At(0, 0) != 1 {
		t.Errorf("toDense: result aliases input matrix")
	}
}

func TestToDenseErrors(t *testing.T) {
	vec := tensor.New(tensor.WithShape(3), tensor.WithBacking([]float64{1, 2,
		3}))
	if _, err := ToDense(vec); err == nil {
		t.Errorf("toDense: expected error for vector input")
	}

	if _, err := ToDense(nil); err == nil {
		t.Errorf("toDense: expected error for nil input")
	}
}

func TestColumnMeanVariance(t *testing.T) {
	m := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})

	mean, variance := ColumnMeanVariance(m)

	wantMean := []float64{2.5, 10}
	wantVar := []float64{5.0 / 3.0, 0}
	if !floats.EqualApprox(mean, wantMean, 1e-12) {
		t.Errorf("mean: want(%v) have(%v)", wantMean, mean)
	}
	if !floats.EqualApprox(variance, wantVar, 1e-12) {
		t.Errorf("variance: want(%v) have(%v)", wantVar, variance)
	}
}

func TestFromRow(t *testing.T) {
	row := []float64{1, 2}
	tens := FromRow(row)
	if !tens.Shape().Eq(tensor.Shape{1, 2}) {
		t.Errorf("fromRow: wrong shape %v", tens.Shape())
	}

	row[0] = 5
	if tens.Data().([]float64)[0] != 1 {
		t.Errorf("fromRow: result aliases input")
	}
}
