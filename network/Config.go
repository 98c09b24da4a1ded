package network

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/commnet/initwfn"
	"github.com/samuelfneumann/commnet/solver"
	"github.com/samuelfneumann/commnet/vae"
)

// DefaultHiddenDim is the width of the hidden layers when none is
// configured
const DefaultHiddenDim = 64

// Config describes a network. The zero value of a field selects its
// default where one exists; DefaultConfig returns a Config with the
// boolean defaults set.
type Config struct {
	InputDim  int // Features per observation
	OutDim    int // Total output width, including any communication action
	HiddenDim int

	// Activation is the nonlinearity of the hidden layers, ReLU if nil
	Activation *Activation

	// ConstrainOut squashes continuous outputs to [-1, 1] with tanh
	// and initializes the output layer with small weights. It has no
	// effect when DiscreteAction is true.
	ConstrainOut bool

	// NormIn normalizes inputs with batch normalization
	NormIn bool

	// DiscreteAction makes the network output logits
	DiscreteAction bool

	// IsActor adds a VAE whose latent vector of width CommActionSpace
	// is appended to the output. An actor with a CommActionSpace of 0
	// has no VAE and outputs the trunk alone.
	IsActor         bool
	CommActionSpace *int

	// BatchSize is the number of observations per forward pass
	BatchSize int

	// InitWFn initializes the hidden layer weights. If nil, weights
	// are drawn from U(-1/√fanIn, 1/√fanIn).
	InitWFn *initwfn.InitWFn

	// Solver trains the VAE of an actor. If nil, Adam with a step size
	// of 1e-4 is used.
	Solver *solver.Solver

	// Reconstruction selects the VAE reconstruction loss
	Reconstruction vae.Reconstruction

	// Seed seeds the latent sampling noise
	Seed uint64
}

// DefaultConfig returns the configuration of a non-actor network with
// input normalization, discrete actions, and the default hidden width.
// The batch size is 1, which only supports Eval mode: batch
// normalization in Train mode needs at least two observations, so set
// BatchSize before forwarding in Train mode.
func DefaultConfig(inputDim, outDim int) Config {
	return Config{
		InputDim:       inputDim,
		OutDim:         outDim,
		HiddenDim:      DefaultHiddenDim,
		Activation:     ReLU(),
		NormIn:         true,
		DiscreteAction: true,
		BatchSize:      1,
	}
}

// CommActionSpace returns a pointer to n for use as
// Config.CommActionSpace
func CommActionSpace(n int) *int {
	return &n
}

// withDefaults returns a copy of c with unset fields filled in
func (c Config) withDefaults() Config {
	if c.HiddenDim == 0 {
		c.HiddenDim = DefaultHiddenDim
	}
	if c.Activation == nil {
		c.Activation = ReLU()
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1
	}
	if c.Reconstruction == "" {
		c.Reconstruction = vae.SquaredError
	}
	if c.CommActionSpace != nil {
		c.CommActionSpace = CommActionSpace(*c.CommActionSpace)
	}
	return c
}

// Validate returns an error wrapping ErrConfig if the configuration,
// after defaults are applied, cannot describe a network
func (c Config) Validate() error {
	c = c.withDefaults()

	if c.InputDim <= 0 {
		return errors.Wrapf(ErrConfig, "input dimension must be positive "+
			"but got %d", c.InputDim)
	}
	if c.OutDim <= 0 {
		return errors.Wrapf(ErrConfig, "output dimension must be positive "+
			"but got %d", c.OutDim)
	}
	if c.HiddenDim <= 0 {
		return errors.Wrapf(ErrConfig, "hidden dimension must be positive "+
			"but got %d", c.HiddenDim)
	}
	if c.BatchSize <= 0 {
		return errors.Wrapf(ErrConfig, "batch size must be positive but "+
			"got %d", c.BatchSize)
	}

	if !c.IsActor {
		return nil
	}

	if c.CommActionSpace == nil {
		return errors.Wrap(ErrConfig, "actor networks require a "+
			"communication action space")
	}
	comm := *c.CommActionSpace
	if comm < 0 {
		return errors.Wrapf(ErrConfig, "communication action space must "+
			"be non-negative but got %d", comm)
	}
	if comm >= c.OutDim {
		return errors.Wrapf(ErrConfig, "communication action space %d "+
			"must be smaller than output dimension %d", comm, c.OutDim)
	}
	return nil
}

// trunkOutputs returns the width of the trunk output
func (c Config) trunkOutputs() int {
	if c.IsActor && c.CommActionSpace != nil {
		return c.OutDim - *c.CommActionSpace
	}
	return c.OutDim
}

// squashed returns whether the trunk output is squashed with tanh
func (c Config) squashed() bool {
	return c.ConstrainOut && !c.DiscreteAction
}

// New returns a new network described by c: a *TrunkWithComm if
// c.IsActor is true and a *TrunkOnly otherwise.
func New(c Config) (NeuralNet, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "new")
	}

	if c.IsActor {
		return NewTrunkWithComm(c)
	}
	return NewTrunkOnly(c)
}
