package vae

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/pkg/errors"
)

// GobEncode implements the gob.GobEncoder interface. The configuration
// and weights are encoded; the internal state of the solver is not.
func (v *VAE) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	config, err := json.Marshal(v.config)
	if err != nil {
		return nil, errors.Wrap(err, "gobEncode: could not encode config")
	}
	if err := enc.Encode(config); err != nil {
		return nil, errors.Wrap(err, "gobEncode: could not encode config")
	}

	params, err := v.Parameters()
	if err != nil {
		return nil, errors.Wrap(err, "gobEncode")
	}
	if err := enc.Encode(params); err != nil {
		return nil, errors.Wrap(err, "gobEncode: could not encode weights")
	}

	if err := enc.Encode(v.steps); err != nil {
		return nil, errors.Wrap(err, "gobEncode: could not encode steps")
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (v *VAE) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var configBytes []byte
	if err := dec.Decode(&configBytes); err != nil {
		return errors.Wrap(err, "gobDecode: could not decode config")
	}
	var config Config
	if err := json.Unmarshal(configBytes, &config); err != nil {
		return errors.Wrap(err, "gobDecode: could not decode config")
	}

	var params [][]float64
	if err := dec.Decode(&params); err != nil {
		return errors.Wrap(err, "gobDecode: could not decode weights")
	}

	var steps int
	if err := dec.Decode(&steps); err != nil {
		return errors.Wrap(err, "gobDecode: could not decode steps")
	}

	if err := config.Validate(); err != nil {
		return errors.Wrap(err, "gobDecode")
	}
	config, err := config.withDefaults()
	if err != nil {
		return errors.Wrap(err, "gobDecode")
	}

	// Rebuild the graphs in v so that their values are read into v
	if v.vm != nil {
		v.vm.Close()
	}
	if v.infer != nil {
		v.infer.close()
	}
	if err := v.build(config); err != nil {
		return errors.Wrap(err, "gobDecode: could not construct VAE")
	}
	if err := v.SetParameters(params); err != nil {
		return errors.Wrap(err, "gobDecode")
	}
	v.steps = steps

	return nil
}
