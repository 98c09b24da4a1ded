package network

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/commnet/vae"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// TrunkWithComm is an actor network. Its output is the concatenation
// of the output of a trunk of width OutDim - CommActionSpace and the
// latent vector of a VAE over the raw observations, of width
// CommActionSpace.
//
// The VAE is trained only by TrainStep and CoTrainForward with its own
// solver. The trunk is never trained by the network; its weights are
// exposed through Learnables and Model for an external learner.
type TrunkWithComm struct {
	mu sync.Mutex

	config  Config
	primary *TrunkOnly
	vae     *vae.VAE
}

// NewTrunkWithComm returns a new actor network
func NewTrunkWithComm(c Config) (*TrunkWithComm, error) {
	if !c.IsActor {
		return nil, errors.Wrap(ErrConfig, "newTrunkWithComm: non-actor "+
			"networks must be created with NewTrunkOnly")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "newTrunkWithComm")
	}
	c = c.withDefaults()

	primary, err := newTrunk(c)
	if err != nil {
		return nil, errors.Wrap(err, "newTrunkWithComm")
	}

	t := &TrunkWithComm{
		config:  c,
		primary: primary,
	}
	if *c.CommActionSpace == 0 {
		return t, nil
	}

	// Each network owns its solver state
	var s = c.Solver
	if s != nil {
		s = s.Clone()
	}

	t.vae, err = vae.New(vae.Config{
		InputDim:       c.InputDim,
		HiddenDim:      c.HiddenDim,
		LatentDim:      *c.CommActionSpace,
		BatchSize:      c.BatchSize,
		Solver:         s,
		Reconstruction: c.Reconstruction,
		Seed:           c.Seed,
	})
	if err != nil {
		primary.Close()
		return nil, errors.Wrap(err, "newTrunkWithComm: could not create VAE")
	}
	return t, nil
}

// Forward computes the actions of the network on the batch of
// observations x. In Train mode, the latent vectors are sampled,
// otherwise the mean latent vectors are used. Forward never changes
// the weights of the VAE.
func (t *TrunkWithComm) Forward(x mat.Matrix, mode Mode) (*mat.Dense, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out, commit, err := t.primary.forwardPending(x, mode)
	if err != nil {
		return nil, errors.Wrap(err, "forward")
	}
	if t.vae == nil {
		commit()
		return out, nil
	}

	z, err := t.vae.Encode(x, mode == Train)
	if err != nil {
		return nil, errors.Wrap(err, "forward")
	}

	commit()
	return augment(out, z), nil
}

// Encode returns the latent vectors of the batch of observations x
// without changing any weights. Networks without communication actions
// return nil.
func (t *TrunkWithComm) Encode(x mat.Matrix, mode Mode) (*mat.Dense, error) {
	if err := t.primary.checkInput(x); err != nil {
		return nil, errors.Wrap(err, "encode")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vae == nil {
		return nil, nil
	}
	z, err := t.vae.Encode(x, mode == Train)
	if err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	return z, nil
}

// TrainStep takes a single optimization step of the VAE on the batch
// of observations x and returns the VAE loss. Networks without
// communication actions have nothing to train and return a zero loss.
func (t *TrunkWithComm) TrainStep(x mat.Matrix) (float64, error) {
	if err := t.primary.checkInput(x); err != nil {
		return 0, errors.Wrap(err, "trainStep")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vae == nil {
		return 0, nil
	}
	loss, err := t.vae.TrainStep(x)
	if err != nil {
		return 0, errors.Wrap(err, "trainStep")
	}
	return loss, nil
}

// CoTrainForward computes the output of the trunk on x, then takes a
// training step of the VAE on x, and returns the trunk output
// concatenated with the latent vectors sampled during that step. If
// the step fails, the running statistics of the trunk are unchanged.
func (t *TrunkWithComm) CoTrainForward(x mat.Matrix,
	mode Mode) (*mat.Dense, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out, commit, err := t.primary.forwardPending(x, mode)
	if err != nil {
		return nil, errors.Wrap(err, "coTrainForward")
	}
	if t.vae == nil {
		commit()
		return out, nil
	}

	if _, err := t.vae.TrainStep(x); err != nil {
		return nil, errors.Wrap(err, "coTrainForward")
	}

	commit()
	return augment(out, t.vae.Latent()), nil
}

// augment returns the horizontal concatenation [a b]
func augment(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Augment(a, b)
	return &out
}

// Latent returns the latent vectors sampled by the most recent
// training step of the VAE, or nil if the VAE has not been trained
func (t *TrunkWithComm) Latent() *mat.Dense {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vae == nil {
		return nil
	}
	return t.vae.Latent()
}

// Loss returns the VAE loss of the most recent training step
func (t *TrunkWithComm) Loss() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vae == nil {
		return 0
	}
	return t.vae.Loss()
}

// Trunk returns the trunk of the network
func (t *TrunkWithComm) Trunk() *TrunkOnly {
	return t.primary
}

// VAE returns the VAE of the network, or nil if the network has no
// communication actions. The VAE is not safe for concurrent use;
// callers must not use it concurrently with the network.
func (t *TrunkWithComm) VAE() *vae.VAE {
	return t.vae
}

func (t *TrunkWithComm) trunk() *TrunkOnly {
	return t.primary
}

// Config returns the configuration of the network
func (t *TrunkWithComm) Config() Config {
	return t.config
}

// BatchSize returns the number of observations per forward pass
func (t *TrunkWithComm) BatchSize() int {
	return t.config.BatchSize
}

// Features returns the number of features per observation
func (t *TrunkWithComm) Features() int {
	return t.config.InputDim
}

// Outputs returns the width of the network output, including the
// latent vector
func (t *TrunkWithComm) Outputs() int {
	return t.config.OutDim
}

// CommActionSpace returns the width of the latent vector
func (t *TrunkWithComm) CommActionSpace() int {
	return *t.config.CommActionSpace
}

// Learnables returns the learnables of the trunk
func (t *TrunkWithComm) Learnables() G.Nodes {
	return t.primary.Learnables()
}

// Model returns the learnables of the trunk with their gradients
func (t *TrunkWithComm) Model() []G.ValueGrad {
	return t.primary.Model()
}

// Set sets the weights of the network to those of source. If source
// is a *TrunkWithComm, the weights of the VAE are set as well.
func (dest *TrunkWithComm) Set(source NeuralNet) error {
	if err := dest.primary.Set(source); err != nil {
		return err
	}

	src, ok := source.(*TrunkWithComm)
	if !ok || src == dest || dest.vae == nil || src.vae == nil {
		return nil
	}

	dest.mu.Lock()
	defer dest.mu.Unlock()
	return errors.Wrap(dest.vae.Set(src.vae), "set")
}

// Polyak sets the weights of the network to a polyak average of its
// weights and the weights of source. If source is a *TrunkWithComm,
// the weights of the VAE are averaged as well.
func (dest *TrunkWithComm) Polyak(source NeuralNet, tau float64) error {
	if err := dest.primary.Polyak(source, tau); err != nil {
		return err
	}

	src, ok := source.(*TrunkWithComm)
	if !ok || src == dest || dest.vae == nil || src.vae == nil {
		return nil
	}

	dest.mu.Lock()
	defer dest.mu.Unlock()
	return errors.Wrap(dest.vae.Polyak(src.vae, tau), "polyak")
}

// Clone clones the network. The clone has a new solver state.
func (t *TrunkWithComm) Clone() (NeuralNet, error) {
	return t.CloneWithBatch(t.config.BatchSize)
}

// CloneWithBatch clones the network with a new input batch size. The
// clone has a new solver state.
func (t *TrunkWithComm) CloneWithBatch(batchSize int) (NeuralNet, error) {
	if batchSize <= 0 {
		return nil, errors.Wrapf(ErrConfig, "cloneWithBatch: batch size "+
			"must be positive but got %d", batchSize)
	}

	c := t.config
	c.BatchSize = batchSize

	clone, err := NewTrunkWithComm(c)
	if err != nil {
		return nil, errors.Wrap(err, "cloneWithBatch")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := clone.primary.Set(t.primary); err != nil {
		clone.Close()
		return nil, errors.Wrap(err, "cloneWithBatch")
	}
	if clone.vae != nil {
		if err := clone.vae.Set(t.vae); err != nil {
			clone.Close()
			return nil, errors.Wrap(err, "cloneWithBatch")
		}
	}
	return clone, nil
}

// Close releases the VMs of the trunk and the VAE
func (t *TrunkWithComm) Close() error {
	if err := t.primary.Close(); err != nil {
		return errors.Wrap(err, "close")
	}
	if t.vae == nil {
		return nil
	}
	return t.vae.Close()
}
