package layer

import (
	"testing"

	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestFCFwd(t *testing.T) {
	g := G.NewGraph()
	w := tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float64{
		1, 2, 3,
		4, 5, 6,
	}))
	fc := NewFC(g, 2, 3, "fc", G.ValuesOf(0.0), G.Rectify)
	if err := G.Let(fc.Weights(), w); err != nil {
		t.Fatal(err)
	}
	b := tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float64{
		-10, 0, 1,
	}))
	if err := G.Let(fc.Bias(), b); err != nil {
		t.Fatal(err)
	}

	x := G.NewMatrix(g, tensor.Float64, G.WithShape(2, 2), G.WithName("x"),
		G.WithValue(tensor.New(tensor.WithShape(2, 2),
			tensor.WithBacking([]float64{1, 1, 0, 1}))))

	out, err := fc.Fwd(x)
	if err != nil {
		t.Fatal(err)
	}
	var outVal G.Value
	G.Read(out, &outVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}

	// [1 1] * W + b = [5 7 9] + b = [-5 7 10] -> relu -> [0 7 10]
	// [0 1] * W + b = [4 5 6] + b = [-6 5 7]  -> relu -> [0 5 7]
	want := []float64{0, 7, 10, 0, 5, 7}
	have := outVal.Data().([]float64)
	if !floats.Equal(want, have) {
		t.Errorf("fwd: want(%v) have(%v)", want, have)
	}
}

func TestFCCloneToAndSet(t *testing.T) {
	g := G.NewGraph()
	fc := NewFC(g, 3, 2, "fc", nil, nil)

	g2 := G.NewGraph()
	clone := fc.CloneTo(g2)

	if clone.In() != 3 || clone.Out() != 2 {
		t.Fatalf("cloneTo: wrong shape (%d, %d)", clone.In(), clone.Out())
	}

	orig := fc.Weights().Value().Data().([]float64)
	cloned := clone.Weights().Value().Data().([]float64)
	if !floats.Equal(orig, cloned) {
		t.Errorf("cloneTo: weights differ")
	}
	snapshot := append([]float64(nil), cloned...)

	// Changing the source must not change the clone until Set is called
	if err := G.Let(fc.Weights(), tensor.New(tensor.WithShape(3, 2),
		tensor.WithBacking([]float64{1, 1, 1, 1, 1, 1}))); err != nil {
		t.Fatal(err)
	}
	if !floats.Equal(snapshot, clone.Weights().Value().Data().([]float64)) {
		t.Errorf("cloneTo: clone changed with source")
	}

	if err := clone.Set(fc); err != nil {
		t.Fatal(err)
	}
	for _, v := range clone.Weights().Value().Data().([]float64) {
		if v != 1 {
			t.Errorf("set: want 1, have %v", v)
		}
	}
}

func TestFCSetShapeMismatch(t *testing.T) {
	g := G.NewGraph()
	a := NewFC(g, 3, 2, "a", nil, nil)
	b := NewFC(g, 2, 2, "b", nil, nil)

	if err := a.Set(b); err == nil {
		t.Errorf("set: expected error on shape mismatch")
	}
}

func TestFanInUniform(t *testing.T) {
	values := FanInUniform(4)(tensor.Float64, 4, 8).([]float64)
	for _, v := range values {
		if v < -0.5 || v > 0.5 {
			t.Errorf("value %v outside of [-0.5, 0.5]", v)
		}
	}
}
