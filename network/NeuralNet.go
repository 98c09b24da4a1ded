// Package network implements the feed-forward networks used as actors
// and critics. A network is either a TrunkOnly, which maps observations
// to action logits, squashed continuous actions, or values, or a
// TrunkWithComm, which additionally appends the latent vector of a
// co-trained VAE as a communication action.
//
// Each network compiles its computational graph for a fixed batch size.
// Use CloneWithBatch to evaluate the same weights on batches of a
// different size.
package network

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// Mode determines how a forward pass treats input normalization and
// latent sampling.
type Mode int

const (
	// Train normalizes with batch statistics, updates the running
	// statistics, and samples latent vectors
	Train Mode = iota

	// Eval normalizes with the running statistics and uses the mean
	// latent vector
	Eval
)

// String implements the fmt.Stringer interface
func (m Mode) String() string {
	switch m {
	case Train:
		return "train"
	case Eval:
		return "eval"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// NeuralNet is a network that can be used as an actor or a critic
type NeuralNet interface {
	// Forward computes the output of the network on a batch of
	// observations of shape (BatchSize(), Features()). The output has
	// shape (BatchSize(), Outputs()).
	Forward(mat.Matrix, Mode) (*mat.Dense, error)

	Config() Config
	BatchSize() int
	Features() int
	Outputs() int

	// Learnables returns the trunk weights that an external learner
	// may train. Model returns the same nodes as ValueGrads.
	Learnables() G.Nodes
	Model() []G.ValueGrad

	// Set copies the weights of another network of the same
	// architecture. Polyak moves the weights towards those of another
	// network: w ← (1 - τ)w + τw'.
	Set(NeuralNet) error
	Polyak(NeuralNet, float64) error

	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)

	Close() error
}

// trunker is implemented by networks that have a trunk
type trunker interface {
	trunk() *TrunkOnly
}
