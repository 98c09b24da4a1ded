// Package vae implements the variational autoencoder that produces the
// latent communication vector of an actor network.
//
// A VAE owns two computational graphs. The training graph holds the
// encoder, the decoder, the loss, and its gradients, and is only run by
// TrainStep. The inference graph holds a copy of the encoder which is
// synchronized with the training graph after each step and is run by
// Encode, so that encoding never changes the weights.
package vae

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/commnet/layer"
	"github.com/samuelfneumann/commnet/solver"
	"github.com/samuelfneumann/commnet/utils/tensorutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// VAE implements a variational autoencoder with a single hidden layer
// in both the encoder and the decoder:
//
//	h      = relu(enc(x))
//	μ      = mu(h)
//	log σ² = logVar(h)
//	z      = μ + ε ⊙ exp(½ log σ²),  ε ~ N(0, I)
//	x̂      = dec2(relu(dec1(z)))
//
// VAE is not safe for concurrent use.
type VAE struct {
	config Config
	solver *solver.Solver

	g     *G.ExprGraph
	vm    G.VM
	input *G.Node
	eps   *G.Node

	enc, mu, logVar, dec1, dec2 *layer.FC

	z, muNode, logVarNode *G.Node
	cost                  *G.Node
	zVal, muVal, logVarVal G.Value
	reconVal, lossVal      G.Value

	learnables G.Nodes
	model      []G.ValueGrad

	infer *encoder
	noise distuv.Normal

	// Results of the most recent training step
	latent, reconstruction *mat.Dense
	mean, logVariance      *mat.Dense
	loss                   float64
	steps                  int
}

// New returns a new VAE
func New(c Config) (*VAE, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "new")
	}
	c, err := c.withDefaults()
	if err != nil {
		return nil, errors.Wrap(err, "new")
	}

	v := &VAE{}
	if err := v.build(c); err != nil {
		return nil, errors.Wrap(err, "new")
	}
	return v, nil
}

// build constructs the graphs described by a configuration with its
// defaults applied in v. The values of the graph are read into the
// fields of v, so v must not be copied after it is built.
func (v *VAE) build(c Config) error {
	g := G.NewGraph()
	input := G.NewMatrix(g, tensor.Float64, G.WithShape(c.BatchSize,
		c.InputDim), G.WithName("vaeInput"), G.WithInit(G.Zeroes()))
	eps := G.NewMatrix(g, tensor.Float64, G.WithShape(c.BatchSize,
		c.LatentDim), G.WithName("vaeEps"), G.WithInit(G.Zeroes()))

	*v = VAE{
		config: c,
		solver: c.Solver,
		g:      g,
		input:  input,
		eps:    eps,
		enc:    layer.NewFC(g, c.InputDim, c.HiddenDim, "enc", nil, G.Rectify),
		mu:     layer.NewFC(g, c.HiddenDim, c.LatentDim, "mu", nil, nil),
		logVar: layer.NewFC(g, c.HiddenDim, c.LatentDim, "logVar", nil, nil),
		dec1:   layer.NewFC(g, c.LatentDim, c.HiddenDim, "dec1", nil, G.Rectify),
		dec2:   layer.NewFC(g, c.HiddenDim, c.InputDim, "dec2", nil, nil),
		noise: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(c.Seed),
		},
	}

	if err := v.fwd(); err != nil {
		return errors.Wrap(err, "could not compute forward pass")
	}

	v.learnables = v.computeLearnables()
	v.model = G.NodesToValueGrads(v.learnables)

	if _, err := G.Grad(v.cost, v.learnables...); err != nil {
		return errors.Wrap(err, "could not compute gradient")
	}
	v.vm = G.NewTapeMachine(g, G.BindDualValues(v.learnables...))

	var err error
	v.infer, err = newEncoder(v, c.Seed+1)
	if err != nil {
		v.vm.Close()
		return errors.Wrap(err, "could not create encoder")
	}

	return nil
}

// fwd adds the forward pass and the loss to the training graph
func (v *VAE) fwd() error {
	h, err := v.enc.Fwd(v.input)
	if err != nil {
		return errors.Wrap(err, "encoder")
	}

	if v.muNode, err = v.mu.Fwd(h); err != nil {
		return errors.Wrap(err, "mean")
	}
	if v.logVarNode, err = v.logVar.Fwd(h); err != nil {
		return errors.Wrap(err, "log variance")
	}

	v.z, err = reparameterize(v.muNode, v.logVarNode, v.eps)
	if err != nil {
		return err
	}

	d, err := v.dec1.Fwd(v.z)
	if err != nil {
		return errors.Wrap(err, "decoder")
	}
	decoded, err := v.dec2.Fwd(d)
	if err != nil {
		return errors.Wrap(err, "decoder")
	}

	loss, recon, err := lossFunction(v.config.Reconstruction, decoded,
		v.input, v.muNode, v.logVarNode)
	if err != nil {
		return err
	}
	v.cost = loss

	G.Read(v.z, &v.zVal)
	G.Read(v.muNode, &v.muVal)
	G.Read(v.logVarNode, &v.logVarVal)
	G.Read(recon, &v.reconVal)
	G.Read(loss, &v.lossVal)

	return nil
}

// reparameterize adds z = μ + ε ⊙ exp(½ log σ²) to the graph
func reparameterize(mu, logVar, eps *G.Node) (*G.Node, error) {
	half := G.NewConstant(0.5)
	std, err := G.Exp(G.Must(G.HadamardProd(logVar, half)))
	if err != nil {
		return nil, errors.Wrap(err, "reparameterize")
	}

	noise, err := G.HadamardProd(eps, std)
	if err != nil {
		return nil, errors.Wrap(err, "reparameterize")
	}
	return G.Add(mu, noise)
}

// TrainStep takes a single optimization step of the VAE loss on the
// batch of observations x and returns the loss before the step. The
// latent sample and reconstruction computed during the step are
// available through Latent and Reconstruction.
func (v *VAE) TrainStep(x mat.Matrix) (float64, error) {
	if err := v.checkInput(x); err != nil {
		return 0, errors.Wrap(err, "trainStep")
	}

	if err := G.Let(v.input, tensorutils.FromMatrix(x)); err != nil {
		return 0, errors.Wrap(err, "trainStep: could not set input")
	}
	if err := G.Let(v.eps, v.sample()); err != nil {
		return 0, errors.Wrap(err, "trainStep: could not set noise")
	}

	defer v.vm.Reset()
	if err := v.vm.RunAll(); err != nil {
		return 0, errors.Wrap(err, "trainStep: could not run graph")
	}

	loss, ok := v.lossVal.Data().(float64)
	if !ok {
		return 0, errors.Errorf("trainStep: unexpected loss type %T",
			v.lossVal.Data())
	}

	latent, err := tensorutils.ToDense(v.zVal)
	if err != nil {
		return 0, errors.Wrap(err, "trainStep")
	}
	recon, err := tensorutils.ToDense(v.reconVal)
	if err != nil {
		return 0, errors.Wrap(err, "trainStep")
	}
	mean, err := tensorutils.ToDense(v.muVal)
	if err != nil {
		return 0, errors.Wrap(err, "trainStep")
	}
	logVariance, err := tensorutils.ToDense(v.logVarVal)
	if err != nil {
		return 0, errors.Wrap(err, "trainStep")
	}

	if err := v.solver.Step(v.model); err != nil {
		return 0, errors.Wrap(err, "trainStep: could not step solver")
	}

	if err := v.infer.sync(v); err != nil {
		return 0, errors.Wrap(err, "trainStep")
	}

	v.latent = latent
	v.reconstruction = recon
	v.mean = mean
	v.logVariance = logVariance
	v.loss = loss
	v.steps++

	return loss, nil
}

// Encode returns latent vectors for the batch of observations x without
// changing any weights. If sample is true, the latent vectors are
// sampled from the approximate posterior, otherwise its mean is
// returned.
func (v *VAE) Encode(x mat.Matrix, sample bool) (*mat.Dense, error) {
	if err := v.checkInput(x); err != nil {
		return nil, errors.Wrap(err, "encode")
	}

	z, err := v.infer.encode(x, sample)
	if err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	return z, nil
}

// sample returns a new tensor of standard normal noise with the shape
// of the training graph's latent sample
func (v *VAE) sample() *tensor.Dense {
	return normalTensor(v.noise, v.config.BatchSize, v.config.LatentDim)
}

// normalTensor returns a rows x cols tensor of samples from n
func normalTensor(n distuv.Normal, rows, cols int) *tensor.Dense {
	backing := make([]float64, rows*cols)
	for i := range backing {
		backing[i] = n.Rand()
	}

	return tensor.New(
		tensor.WithShape(rows, cols),
		tensor.WithBacking(backing),
	)
}

// checkInput returns an error if x is not of shape
// (BatchSize, InputDim)
func (v *VAE) checkInput(x mat.Matrix) error {
	r, c := x.Dims()
	if r != v.config.BatchSize || c != v.config.InputDim {
		return errors.Errorf("invalid input shape \n\twant(%d, %d) "+
			"\n\thave(%d, %d)", v.config.BatchSize, v.config.InputDim, r, c)
	}
	return nil
}

// Latent returns the latent sample z computed by the most recent
// training step, or nil if no step has been taken
func (v *VAE) Latent() *mat.Dense {
	if v.latent == nil {
		return nil
	}
	return mat.DenseCopyOf(v.latent)
}

// Reconstruction returns the reconstruction of the input computed by
// the most recent training step, or nil if no step has been taken
func (v *VAE) Reconstruction() *mat.Dense {
	if v.reconstruction == nil {
		return nil
	}
	return mat.DenseCopyOf(v.reconstruction)
}

// Mean returns the mean of the approximate posterior computed by the
// most recent training step, or nil if no step has been taken
func (v *VAE) Mean() *mat.Dense {
	if v.mean == nil {
		return nil
	}
	return mat.DenseCopyOf(v.mean)
}

// LogVariance returns the log variance of the approximate posterior
// computed by the most recent training step, or nil if no step has been
// taken
func (v *VAE) LogVariance() *mat.Dense {
	if v.logVariance == nil {
		return nil
	}
	return mat.DenseCopyOf(v.logVariance)
}

// Loss returns the loss of the most recent training step
func (v *VAE) Loss() float64 {
	return v.loss
}

// Steps returns the number of training steps taken
func (v *VAE) Steps() int {
	return v.steps
}

// Config returns the configuration of the VAE
func (v *VAE) Config() Config {
	return v.config
}

// Learnables returns the weights of the VAE, encoder first
func (v *VAE) Learnables() G.Nodes {
	return v.learnables
}

func (v *VAE) computeLearnables() G.Nodes {
	layers := []*layer.FC{v.enc, v.mu, v.logVar, v.dec1, v.dec2}

	learnables := make(G.Nodes, 0, 2*len(layers))
	for _, l := range layers {
		learnables = append(learnables, l.Learnables()...)
	}
	return learnables
}

// Set sets the weights of v to copies of the weights of source. The
// solver state of v is left untouched.
func (v *VAE) Set(source *VAE) error {
	dest := []*layer.FC{v.enc, v.mu, v.logVar, v.dec1, v.dec2}
	src := []*layer.FC{source.enc, source.mu, source.logVar, source.dec1,
		source.dec2}

	for i := range dest {
		if err := dest[i].Set(src[i]); err != nil {
			return errors.Wrapf(err, "set: layer %d", i)
		}
	}
	return v.infer.sync(v)
}

// Polyak sets the weights of v to a polyak average of its weights and
// those of source: w ← (1 - tau)w + tau·w_source
func (v *VAE) Polyak(source *VAE, tau float64) error {
	if tau < 0 || tau > 1 {
		return errors.Errorf("polyak: tau must be in [0, 1] but got %v", tau)
	}

	params, err := v.Parameters()
	if err != nil {
		return errors.Wrap(err, "polyak")
	}
	sourceParams, err := source.Parameters()
	if err != nil {
		return errors.Wrap(err, "polyak")
	}
	if len(params) != len(sourceParams) {
		return errors.New("polyak: incompatible architectures")
	}

	for i := range params {
		if len(params[i]) != len(sourceParams[i]) {
			return errors.Errorf("polyak: incompatible learnable %d", i)
		}
		floats.Scale(1-tau, params[i])
		floats.AddScaled(params[i], tau, sourceParams[i])
	}
	return errors.Wrap(v.SetParameters(params), "polyak")
}

// Parameters returns copies of the values of the weights of the VAE in
// the order of Learnables
func (v *VAE) Parameters() ([][]float64, error) {
	params := make([][]float64, len(v.learnables))
	for i, node := range v.learnables {
		p, err := tensorutils.ToSlice(node.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "parameters: learnable %d", i)
		}
		params[i] = p
	}
	return params, nil
}

// SetParameters sets the weights of the VAE from values ordered as
// returned by Parameters
func (v *VAE) SetParameters(params [][]float64) error {
	if len(params) != len(v.learnables) {
		return errors.Errorf("setParameters: invalid number of parameters "+
			"\n\twant(%d) \n\thave(%d)", len(v.learnables), len(params))
	}

	for i, node := range v.learnables {
		shape := node.Shape()
		if len(params[i]) != shape.TotalSize() {
			return errors.Errorf("setParameters: invalid size of learnable "+
				"%d \n\twant(%d) \n\thave(%d)", i, shape.TotalSize(),
				len(params[i]))
		}

		backing := make([]float64, len(params[i]))
		copy(backing, params[i])
		t := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
		if err := G.Let(node, t); err != nil {
			return errors.Wrapf(err, "setParameters: learnable %d", i)
		}
	}
	return v.infer.sync(v)
}

// Close releases the resources held by the VAE's computational graphs
func (v *VAE) Close() error {
	if err := v.vm.Close(); err != nil {
		return errors.Wrap(err, "close")
	}
	return v.infer.close()
}
