package vae

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/commnet/layer"
	"github.com/samuelfneumann/commnet/utils/tensorutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// encoder is the inference copy of a VAE's encoder. Its graph contains
// no loss and no gradients.
type encoder struct {
	g     *G.ExprGraph
	vm    G.VM
	input *G.Node
	eps   *G.Node

	enc, mu, logVar *layer.FC

	zVal  G.Value
	noise distuv.Normal

	batch, latent int
}

// newEncoder copies the encoder of v to a new computational graph
func newEncoder(v *VAE, seed uint64) (*encoder, error) {
	c := v.config
	g := G.NewGraph()

	e := &encoder{
		g: g,
		input: G.NewMatrix(g, tensor.Float64, G.WithShape(c.BatchSize,
			c.InputDim), G.WithName("encoderInput"), G.WithInit(G.Zeroes())),
		eps: G.NewMatrix(g, tensor.Float64, G.WithShape(c.BatchSize,
			c.LatentDim), G.WithName("encoderEps"), G.WithInit(G.Zeroes())),
		enc:    v.enc.CloneTo(g),
		mu:     v.mu.CloneTo(g),
		logVar: v.logVar.CloneTo(g),
		noise: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(seed),
		},
		batch:  c.BatchSize,
		latent: c.LatentDim,
	}

	h, err := e.enc.Fwd(e.input)
	if err != nil {
		return nil, errors.Wrap(err, "newEncoder")
	}
	mu, err := e.mu.Fwd(h)
	if err != nil {
		return nil, errors.Wrap(err, "newEncoder")
	}
	logVar, err := e.logVar.Fwd(h)
	if err != nil {
		return nil, errors.Wrap(err, "newEncoder")
	}
	z, err := reparameterize(mu, logVar, e.eps)
	if err != nil {
		return nil, errors.Wrap(err, "newEncoder")
	}
	G.Read(z, &e.zVal)

	e.vm = G.NewTapeMachine(g)
	return e, nil
}

// sync copies the current encoder weights of v into the encoder
func (e *encoder) sync(v *VAE) error {
	if err := e.enc.Set(v.enc); err != nil {
		return errors.Wrap(err, "sync")
	}
	if err := e.mu.Set(v.mu); err != nil {
		return errors.Wrap(err, "sync")
	}
	if err := e.logVar.Set(v.logVar); err != nil {
		return errors.Wrap(err, "sync")
	}
	return nil
}

// encode runs the encoder on x. Without sampling, the noise is zero and
// the mean of the approximate posterior is returned.
func (e *encoder) encode(x mat.Matrix, sample bool) (*mat.Dense, error) {
	if err := G.Let(e.input, tensorutils.FromMatrix(x)); err != nil {
		return nil, errors.Wrap(err, "could not set input")
	}

	var eps *tensor.Dense
	if sample {
		eps = normalTensor(e.noise, e.batch, e.latent)
	} else {
		eps = tensor.New(
			tensor.WithShape(e.batch, e.latent),
			tensor.WithBacking(make([]float64, e.batch*e.latent)),
		)
	}
	if err := G.Let(e.eps, eps); err != nil {
		return nil, errors.Wrap(err, "could not set noise")
	}

	defer e.vm.Reset()
	if err := e.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "could not run graph")
	}

	return tensorutils.ToDense(e.zVal)
}

// close releases the encoder's VM
func (e *encoder) close() error {
	return e.vm.Close()
}
