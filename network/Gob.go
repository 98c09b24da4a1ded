package network

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/commnet/vae"
)

// trunkState is the gob encoded state of a trunk. The configuration is
// stored as JSON so that its typed wrappers keep their own encoding.
type trunkState struct {
	Config      []byte
	Params      [][]float64
	RunningMean []float64
	RunningVar  []float64
}

func (t *TrunkOnly) state() (trunkState, error) {
	config, err := json.Marshal(t.config)
	if err != nil {
		return trunkState{}, errors.Wrap(err, "could not encode config")
	}

	params, err := t.Parameters()
	if err != nil {
		return trunkState{}, err
	}
	mean, variance := t.NormStatistics()

	return trunkState{
		Config:      config,
		Params:      params,
		RunningMean: mean,
		RunningVar:  variance,
	}, nil
}

// restore sets the weights and running statistics of t from s. The
// caller must hold the lock of t or own t exclusively.
func (t *TrunkOnly) restore(s trunkState) error {
	if err := setParameters(t.learnables, s.Params); err != nil {
		return err
	}
	if t.norm != nil {
		return t.norm.loadStatistics(s.RunningMean, s.RunningVar)
	}
	return nil
}

func decodeConfig(data []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "could not decode config")
	}
	return c, nil
}

// GobEncode implements the gob.GobEncoder interface. The configuration,
// weights, and running normalization statistics are encoded.
func (t *TrunkOnly) GobEncode() ([]byte, error) {
	s, err := t.state()
	if err != nil {
		return nil, errors.Wrap(err, "gobEncode")
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, errors.Wrap(err, "gobEncode")
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. The graph is
// rebuilt in t.
func (t *TrunkOnly) GobDecode(in []byte) error {
	var s trunkState
	if err := gob.NewDecoder(bytes.NewReader(in)).Decode(&s); err != nil {
		return errors.Wrap(err, "gobDecode")
	}

	c, err := decodeConfig(s.Config)
	if err != nil {
		return errors.Wrap(err, "gobDecode")
	}
	if c.IsActor {
		return errors.Wrap(ErrConfig, "gobDecode: actor configuration")
	}
	if err := c.Validate(); err != nil {
		return errors.Wrap(err, "gobDecode")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vm != nil {
		t.vm.Close()
	}
	if err := t.build(c.withDefaults()); err != nil {
		return errors.Wrap(err, "gobDecode: could not construct network")
	}
	if err := t.restore(s); err != nil {
		return errors.Wrap(err, "gobDecode")
	}
	return nil
}

// GobEncode implements the gob.GobEncoder interface. The configuration,
// the state of the trunk, and the weights of the VAE are encoded. The
// internal state of the VAE solver is not.
func (t *TrunkWithComm) GobEncode() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.primary.state()
	if err != nil {
		return nil, errors.Wrap(err, "gobEncode")
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(s); err != nil {
		return nil, errors.Wrap(err, "gobEncode: could not encode trunk")
	}

	// Actors without communication actions have no VAE
	if err := enc.Encode(t.vae != nil); err != nil {
		return nil, errors.Wrap(err, "gobEncode")
	}
	if t.vae != nil {
		if err := enc.Encode(t.vae); err != nil {
			return nil, errors.Wrap(err, "gobEncode: could not encode VAE")
		}
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (t *TrunkWithComm) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var s trunkState
	if err := dec.Decode(&s); err != nil {
		return errors.Wrap(err, "gobDecode: could not decode trunk")
	}

	var hasVAE bool
	if err := dec.Decode(&hasVAE); err != nil {
		return errors.Wrap(err, "gobDecode")
	}
	var v *vae.VAE
	if hasVAE {
		v = &vae.VAE{}
		if err := dec.Decode(v); err != nil {
			return errors.Wrap(err, "gobDecode: could not decode VAE")
		}
	}

	closeVAE := func() {
		if v != nil {
			v.Close()
		}
	}

	c, err := decodeConfig(s.Config)
	if err != nil {
		closeVAE()
		return errors.Wrap(err, "gobDecode")
	}

	primary, err := newTrunkFromConfig(c)
	if err != nil {
		closeVAE()
		return errors.Wrap(err, "gobDecode")
	}
	if err := primary.restore(s); err != nil {
		primary.Close()
		closeVAE()
		return errors.Wrap(err, "gobDecode")
	}
	if hasVAE != (*c.CommActionSpace > 0) {
		primary.Close()
		closeVAE()
		return errors.Wrap(ErrConfig, "gobDecode: VAE does not match "+
			"communication action space")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.primary != nil {
		t.primary.Close()
	}
	if t.vae != nil {
		t.vae.Close()
	}

	t.config = primary.config
	t.primary = primary
	t.vae = v
	return nil
}

// newTrunkFromConfig validates c and constructs its trunk
func newTrunkFromConfig(c Config) (*TrunkOnly, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.IsActor {
		return nil, errors.Wrap(ErrConfig, "not an actor configuration")
	}
	return newTrunk(c.withDefaults())
}
