package network

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/commnet/layer"
	"github.com/samuelfneumann/commnet/utils/tensorutils"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// constrainedInit bounds the output layer weights of squashed networks
// so that tanh does not saturate at initialization
const constrainedInit = 3e-3

// TrunkOnly is a three layer fully connected network:
//
//	h1  = act(fc1(norm(x)))
//	h2  = act(fc2(h1))
//	out = outFn(fc3(h2))
//
// where norm is batch normalization if the network normalizes its inputs
// and outFn is tanh for squashed continuous outputs and the identity
// otherwise. Discrete networks output logits.
type TrunkOnly struct {
	mu sync.Mutex

	config  Config
	outputs int

	g      *G.ExprGraph
	vm     G.VM
	input  *G.Node
	norm   *inputNorm
	layers []*layer.FC
	outFn  *Activation

	prediction *G.Node
	predVal    G.Value

	learnables G.Nodes
	model      []G.ValueGrad
}

// NewTrunkOnly returns a new non-actor network
func NewTrunkOnly(c Config) (*TrunkOnly, error) {
	if c.IsActor {
		return nil, errors.Wrap(ErrConfig, "newTrunkOnly: actor networks "+
			"must be created with NewTrunkWithComm")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "newTrunkOnly")
	}

	t, err := newTrunk(c.withDefaults())
	if err != nil {
		return nil, errors.Wrap(err, "newTrunkOnly")
	}
	return t, nil
}

// newTrunk constructs the trunk described by a validated configuration.
// The trunk of an actor outputs OutDim - CommActionSpace values.
func newTrunk(c Config) (*TrunkOnly, error) {
	t := &TrunkOnly{}
	if err := t.build(c); err != nil {
		return nil, err
	}
	return t, nil
}

// build constructs the graph described by a validated configuration
// in t, replacing any graph t held
func (t *TrunkOnly) build(c Config) error {
	g := G.NewGraph()
	outputs := c.trunkOutputs()

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(c.BatchSize,
		c.InputDim), G.WithName("input"), G.WithInit(G.Zeroes()))

	var hiddenInit G.InitWFn
	if c.InitWFn != nil {
		hiddenInit = c.InitWFn.InitWFn()
	}

	outFn := Identity()
	var outInit G.InitWFn = hiddenInit
	if c.squashed() {
		outFn = TanH()
		outInit = G.Uniform(-constrainedInit, constrainedInit)
	}

	act := c.Activation.Func()
	t.layers = []*layer.FC{
		layer.NewFC(g, c.InputDim, c.HiddenDim, "fc1", hiddenInit, act),
		layer.NewFC(g, c.HiddenDim, c.HiddenDim, "fc2", hiddenInit, act),
		layer.NewFC(g, c.HiddenDim, outputs, "fc3", outInit, outFn.Func()),
	}

	t.config = c
	t.outputs = outputs
	t.g = g
	t.input = input
	t.outFn = outFn
	t.predVal = nil

	t.norm = nil
	if c.NormIn {
		t.norm = newInputNorm(g, c.InputDim)
	}

	// The prediction is read into t.predVal, so the graph must be
	// built into the struct that runs it
	if err := t.fwd(); err != nil {
		return errors.Wrap(err, "could not compute forward pass")
	}

	t.learnables = t.computeLearnables()
	t.model = G.NodesToValueGrads(t.learnables)
	t.vm = G.NewTapeMachine(g)

	return nil
}

// fwd adds the forward pass of the trunk to its graph
func (t *TrunkOnly) fwd() error {
	pred := t.input
	var err error

	if t.norm != nil {
		if pred, err = t.norm.fwd(pred); err != nil {
			return errors.Wrap(err, "fwd: could not normalize input")
		}
	}

	for i, l := range t.layers {
		if pred, err = l.Fwd(pred); err != nil {
			return errors.Wrapf(err, "fwd: could not compute forward pass "+
				"of layer %v", i)
		}
	}

	t.prediction = pred
	G.Read(t.prediction, &t.predVal)

	return nil
}

// Forward computes the output of the trunk on the batch of observations
// x. In Train mode with input normalization, the running statistics of
// the normalization are updated.
func (t *TrunkOnly) Forward(x mat.Matrix, mode Mode) (*mat.Dense, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out, commit, err := t.forward(x, mode)
	if err != nil {
		return nil, errors.Wrap(err, "forward")
	}
	commit()
	return out, nil
}

// forwardPending computes the output of the trunk on x and returns a
// function that updates the running normalization statistics with the
// batch. The statistics are not changed unless it is called.
func (t *TrunkOnly) forwardPending(x mat.Matrix, mode Mode) (*mat.Dense,
	func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out, commit, err := t.forward(x, mode)
	if err != nil {
		return nil, nil, err
	}

	return out, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		commit()
	}, nil
}

func (t *TrunkOnly) forward(x mat.Matrix, mode Mode) (*mat.Dense, func(),
	error) {
	commit, err := t.setInput(x, mode)
	if err != nil {
		return nil, nil, err
	}

	defer t.vm.Reset()
	if err := t.vm.RunAll(); err != nil {
		return nil, nil, errors.Wrap(err, "could not run graph")
	}

	out, err := tensorutils.ToDense(t.predVal)
	if err != nil {
		return nil, nil, err
	}
	return out, commit, nil
}

// SetInput binds the batch of observations x, and the normalization
// statistics for mode, to the graph without running it. This is used
// by external learners that build a loss on Prediction and run the
// graph with their own VM. In Train mode the running statistics are
// updated immediately.
func (t *TrunkOnly) SetInput(x mat.Matrix, mode Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	commit, err := t.setInput(x, mode)
	if err != nil {
		return errors.Wrap(err, "setInput")
	}
	commit()
	return nil
}

// setInput binds x and the normalization statistics to the graph and
// returns the pending update of the running statistics
func (t *TrunkOnly) setInput(x mat.Matrix, mode Mode) (func(), error) {
	if err := t.checkInput(x); err != nil {
		return nil, err
	}

	commit := func() {}
	if t.norm != nil {
		var err error
		if commit, err = t.norm.bind(x, mode); err != nil {
			return nil, err
		}
	}

	if err := G.Let(t.input, tensorutils.FromMatrix(x)); err != nil {
		return nil, errors.Wrap(err, "could not set input")
	}
	return commit, nil
}

// checkInput returns an error wrapping ErrShape if x is not of shape
// (BatchSize, InputDim)
func (t *TrunkOnly) checkInput(x mat.Matrix) error {
	r, c := x.Dims()
	if c != t.config.InputDim || r != t.config.BatchSize {
		return errors.Wrapf(ErrShape, "\n\twant(%d, %d) \n\thave(%d, %d)",
			t.config.BatchSize, t.config.InputDim, r, c)
	}
	return nil
}

// Graph returns the computational graph of the trunk
func (t *TrunkOnly) Graph() *G.ExprGraph {
	return t.g
}

// Prediction returns the node holding the output of the trunk
func (t *TrunkOnly) Prediction() *G.Node {
	return t.prediction
}

// Config returns the configuration of the network
func (t *TrunkOnly) Config() Config {
	return t.config
}

// BatchSize returns the number of observations per forward pass
func (t *TrunkOnly) BatchSize() int {
	return t.config.BatchSize
}

// Features returns the number of features per observation
func (t *TrunkOnly) Features() int {
	return t.config.InputDim
}

// Outputs returns the width of the trunk output
func (t *TrunkOnly) Outputs() int {
	return t.outputs
}

// Learnables returns the learnable nodes of the trunk: the
// normalization scale and shift, if any, then the weights and bias of
// each layer
func (t *TrunkOnly) Learnables() G.Nodes {
	return t.learnables
}

// computeLearnables computes all the learnables for the network
func (t *TrunkOnly) computeLearnables() G.Nodes {
	learnables := make(G.Nodes, 0, 2*len(t.layers)+2)

	if t.norm != nil {
		learnables = append(learnables, t.norm.learnables()...)
	}
	for _, l := range t.layers {
		learnables = append(learnables, l.Learnables()...)
	}
	return learnables
}

// Model returns the learnables nodes with their gradients.
func (t *TrunkOnly) Model() []G.ValueGrad {
	return t.model
}

func (t *TrunkOnly) trunk() *TrunkOnly {
	return t
}

// Set sets the weights of the trunk, and the running statistics of its
// input normalization, to be equal to those of the trunk of source.
func (dest *TrunkOnly) Set(source NeuralNet) error {
	src, ok := source.(trunker)
	if !ok {
		return errors.Errorf("set: cannot set weights from %T", source)
	}

	dest.mu.Lock()
	defer dest.mu.Unlock()

	return errors.Wrap(dest.set(src.trunk()), "set")
}

func (dest *TrunkOnly) set(source *TrunkOnly) error {
	if dest == source {
		return nil
	}

	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if err := compatible(nodes, sourceNodes); err != nil {
		return err
	}

	for i, destLearnable := range nodes {
		sourceValue := sourceNodes[i].Value().(*tensor.Dense).Clone()
		if err := G.Let(destLearnable, sourceValue); err != nil {
			return errors.Wrapf(err, "could not set learnable %d", i)
		}
	}

	if dest.norm != nil && source.norm != nil {
		dest.norm.setStatistics(source.norm)
	}
	return nil
}

// Polyak sets the weights of the trunk to be a polyak average between
// its existing weights and the weights of the trunk of source:
//
//	w ← (1 - tau)w + tau·w_source
//
// Running normalization statistics are not averaged.
func (dest *TrunkOnly) Polyak(source NeuralNet, tau float64) error {
	src, ok := source.(trunker)
	if !ok {
		return errors.Errorf("polyak: cannot average weights with %T", source)
	}

	dest.mu.Lock()
	defer dest.mu.Unlock()

	return errors.Wrap(dest.polyak(src.trunk(), tau), "polyak")
}

func (dest *TrunkOnly) polyak(source *TrunkOnly, tau float64) error {
	if tau < 0 || tau > 1 {
		return errors.Errorf("tau must be in [0, 1] but got %v", tau)
	}

	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if err := compatible(nodes, sourceNodes); err != nil {
		return err
	}

	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		if err := G.Let(nodes[i], newWeights); err != nil {
			return errors.Wrapf(err, "could not set learnable %d", i)
		}
	}
	return nil
}

// compatible returns an error if two sets of learnables cannot be
// copied into each other
func compatible(dest, source G.Nodes) error {
	if len(dest) != len(source) {
		return errors.Errorf("incompatible architectures: %d learnables "+
			"!= %d learnables", len(dest), len(source))
	}

	for i := range dest {
		if !dest[i].Shape().Eq(source[i].Shape()) {
			return errors.Errorf("incompatible learnable %d \n\twant(%v) "+
				"\n\thave(%v)", i, dest[i].Shape(), source[i].Shape())
		}
	}
	return nil
}

// Clone clones the trunk
func (t *TrunkOnly) Clone() (NeuralNet, error) {
	return t.CloneWithBatch(t.config.BatchSize)
}

// CloneWithBatch clones the trunk with a new input batch size
func (t *TrunkOnly) CloneWithBatch(batchSize int) (NeuralNet, error) {
	clone, err := t.cloneWithBatch(batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "cloneWithBatch")
	}
	return clone, nil
}

func (t *TrunkOnly) cloneWithBatch(batchSize int) (*TrunkOnly, error) {
	if batchSize <= 0 {
		return nil, errors.Wrapf(ErrConfig, "batch size must be positive "+
			"but got %d", batchSize)
	}

	c := t.config
	c.BatchSize = batchSize

	clone, err := newTrunk(c)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := clone.set(t); err != nil {
		return nil, err
	}
	return clone, nil
}

// Parameters returns copies of the values of the learnables, in the
// order of Learnables
func (t *TrunkOnly) Parameters() ([][]float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return parameters(t.learnables)
}

// SetParameters sets the values of the learnables from values ordered
// as returned by Parameters
func (t *TrunkOnly) SetParameters(params [][]float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return setParameters(t.learnables, params)
}

// NormStatistics returns the running mean and variance of the input
// normalization, or nil slices if inputs are not normalized
func (t *TrunkOnly) NormStatistics() (mean, variance []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.norm == nil {
		return nil, nil
	}
	return t.norm.statistics()
}

// Close releases the trunk's VM
func (t *TrunkOnly) Close() error {
	return t.vm.Close()
}

func parameters(learnables G.Nodes) ([][]float64, error) {
	params := make([][]float64, len(learnables))
	for i, node := range learnables {
		p, err := tensorutils.ToSlice(node.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "learnable %d", i)
		}
		params[i] = p
	}
	return params, nil
}

func setParameters(learnables G.Nodes, params [][]float64) error {
	if len(params) != len(learnables) {
		return errors.Errorf("invalid number of parameters \n\twant(%d) "+
			"\n\thave(%d)", len(learnables), len(params))
	}

	for i, node := range learnables {
		shape := node.Shape()
		if len(params[i]) != shape.TotalSize() {
			return errors.Errorf("invalid size of learnable %d \n\twant(%d) "+
				"\n\thave(%d)", i, shape.TotalSize(), len(params[i]))
		}

		backing := make([]float64, len(params[i]))
		copy(backing, params[i])
		value := tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(backing))
		if err := G.Let(node, value); err != nil {
			return errors.Wrapf(err, "could not set learnable %d", i)
		}
	}
	return nil
}
