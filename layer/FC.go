// Package layer implements the fully connected layers shared by the
// trunk networks and the VAE.
package layer

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Activation represents an activation function type
type Activation func(x *G.Node) (*G.Node, error)

// FC implements a fully connected layer of a feed forward neural
// network. Weights have shape (in, out) and the bias has shape (1, out)
// so that it can be broadcast along the batch dimension.
type FC struct {
	weights *G.Node
	bias    *G.Node
	act     Activation
}

// FanInUniform returns the default initialization of a layer with
// fanIn inputs: U(-1/√fanIn, 1/√fanIn).
func FanInUniform(fanIn int) G.InitWFn {
	bound := 1.0 / math.Sqrt(float64(fanIn))
	return G.Uniform(-bound, bound)
}

// NewFC adds a new fully connected layer to the graph g. If weightInit
// is nil, weights are initialized with FanInUniform(in). Biases are
// always initialized with FanInUniform(in). A nil act leaves the layer
// linear.
func NewFC(g *G.ExprGraph, in, out int, name string, weightInit G.InitWFn,
	act Activation) *FC {
	if weightInit == nil {
		weightInit = FanInUniform(in)
	}

	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(in, out),
		G.WithName(fmt.Sprintf("%vW", name)),
		G.WithInit(weightInit),
	)

	bias := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, out),
		G.WithName(fmt.Sprintf("%vB", name)),
		G.WithInit(FanInUniform(in)),
	)

	return &FC{
		weights: weights,
		bias:    bias,
		act:     act,
	}
}

// Fwd adds the forward pass of the layer to the computational graph
func (f *FC) Fwd(x *G.Node) (*G.Node, error) {
	x, err := G.Mul(x, f.weights)
	if err != nil {
		return nil, errors.Wrap(err, "fwd: could not apply weights")
	}

	// Broadcast the bias weights to all samples along the batch
	// dimension
	x, err = G.BroadcastAdd(x, f.bias, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrap(err, "fwd: could not add bias")
	}

	if f.act == nil {
		return x, nil
	}
	return f.act(x)
}

// CloneTo clones the layer and its current weights to a new
// computational graph
func (f *FC) CloneTo(g *G.ExprGraph) *FC {
	return &FC{
		weights: cloneTo(g, f.weights),
		bias:    cloneTo(g, f.bias),
		act:     f.act,
	}
}

// Set sets the weights of the layer to a copy of the weights of source
func (f *FC) Set(source *FC) error {
	if err := let(f.weights, source.weights); err != nil {
		return errors.Wrap(err, "set: could not set weights")
	}
	if err := let(f.bias, source.bias); err != nil {
		return errors.Wrap(err, "set: could not set bias")
	}
	return nil
}

// Learnables returns the weights and bias of the layer, in that order
func (f *FC) Learnables() G.Nodes {
	return G.Nodes{f.weights, f.bias}
}

// Weights returns the weight node of the layer
func (f *FC) Weights() *G.Node {
	return f.weights
}

// Bias returns the bias node of the layer
func (f *FC) Bias() *G.Node {
	return f.bias
}

// In returns the number of inputs to the layer
func (f *FC) In() int {
	return f.weights.Shape()[0]
}

// Out returns the number of outputs of the layer
func (f *FC) Out() int {
	return f.weights.Shape()[1]
}

// cloneTo creates a node in g with the same name, shape, and a copy of
// the value of n
func cloneTo(g *G.ExprGraph, n *G.Node) *G.Node {
	value := n.Value().(*tensor.Dense).Clone()
	return G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(n.Shape()...),
		G.WithName(n.Name()),
		G.WithValue(value),
	)
}

// let sets the value of dest to a copy of the value of source
func let(dest, source *G.Node) error {
	if !dest.Shape().Eq(source.Shape()) {
		return errors.Errorf("shape mismatch \n\twant(%v) \n\thave(%v)",
			dest.Shape(), source.Shape())
	}
	return G.Let(dest, source.Value().(*tensor.Dense).Clone())
}
