package vae

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/commnet/solver"
)

// DefaultStepSize is the learning rate of the Adam solver used when no
// solver is configured
const DefaultStepSize = 1e-4

// Reconstruction determines the reconstruction term of the VAE loss and
// the output transform of the decoder.
type Reconstruction string

const (
	// SquaredError decodes with a linear layer and measures the summed
	// squared error to the input
	SquaredError Reconstruction = "SquaredError"

	// Bernoulli decodes logits, reconstructs with a sigmoid, and
	// measures the summed binary cross entropy to the input
	Bernoulli Reconstruction = "Bernoulli"
)

// Config describes a VAE
type Config struct {
	InputDim  int
	HiddenDim int
	LatentDim int

	// BatchSize is the number of observations per call to TrainStep
	// and Encode
	BatchSize int

	// Solver updates the VAE weights. If nil, Adam with step size
	// DefaultStepSize is used.
	Solver *solver.Solver

	Reconstruction Reconstruction

	// Seed seeds the noise used in the reparameterization of latent
	// samples
	Seed uint64
}

// withDefaults returns a copy of c with unset fields filled in
func (c Config) withDefaults() (Config, error) {
	if c.Reconstruction == "" {
		c.Reconstruction = SquaredError
	}

	if c.Solver == nil {
		s, err := solver.NewDefaultAdam(DefaultStepSize, 1)
		if err != nil {
			return Config{}, errors.Wrap(err, "could not create default "+
				"solver")
		}
		c.Solver = s
	}
	return c, nil
}

// Validate returns an error if the configuration cannot describe a VAE
func (c Config) Validate() error {
	if c.InputDim <= 0 {
		return errors.Errorf("input dimension must be positive but got %d",
			c.InputDim)
	}
	if c.HiddenDim <= 0 {
		return errors.Errorf("hidden dimension must be positive but got %d",
			c.HiddenDim)
	}
	if c.LatentDim <= 0 {
		return errors.Errorf("latent dimension must be positive but got %d",
			c.LatentDim)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive but got %d",
			c.BatchSize)
	}

	switch c.Reconstruction {
	case "", SquaredError, Bernoulli:
	default:
		return errors.Errorf("unknown reconstruction %q", c.Reconstruction)
	}
	return nil
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (r *Reconstruction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch rec := Reconstruction(s); rec {
	case SquaredError, Bernoulli:
		*r = rec
	case "":
		*r = SquaredError
	default:
		return errors.Errorf("unmarshalJSON: unknown reconstruction %q", s)
	}
	return nil
}
