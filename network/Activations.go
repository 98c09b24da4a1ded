package network

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/commnet/layer"
	G "gorgonia.org/gorgonia"
)

type activationType string

const (
	relu      activationType = "relu"
	leakyRelu activationType = "leakyrelu"
	identity  activationType = "identity"
	tanh      activationType = "tanh"
	sigmoid   activationType = "sigmoid"
)

// leakyReluAlpha is the slope of LeakyReLU for negative inputs
const leakyReluAlpha = 0.01

// Activation represents an activation function type
type Activation struct {
	activationType
	f layer.Activation
}

// Func returns the activation as a function on graph nodes
func (a *Activation) Func() layer.Activation {
	return a.f
}

// String implements the Stringer interface
func (a *Activation) String() string {
	return string(a.activationType)
}

// IsIdentity returns whether or not the Activation is the identity
// function.
func (a *Activation) IsIdentity() bool {
	return a.activationType == identity
}

// GobEncode implements the GobEncoder interface
func (a *Activation) GobEncode() ([]byte, error) {
	return []byte(a.activationType), nil
}

// GobDecode implements the GobDecoder interface
func (a *Activation) GobDecode(encoded []byte) error {
	decoded, err := activationOf(activationType(encoded))
	if err != nil {
		return errors.Wrap(err, "gobDecode")
	}
	*a = *decoded
	return nil
}

// MarshalJSON implements the json.Marshaler interface
func (a *Activation) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a.activationType))
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (a *Activation) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	decoded, err := activationOf(activationType(name))
	if err != nil {
		return errors.Wrap(err, "unmarshalJSON")
	}
	*a = *decoded
	return nil
}

// activationOf returns the Activation with the given type
func activationOf(t activationType) (*Activation, error) {
	switch t {
	case relu:
		return ReLU(), nil
	case leakyRelu:
		return LeakyReLU(), nil
	case identity:
		return Identity(), nil
	case tanh:
		return TanH(), nil
	case sigmoid:
		return Sigmoid(), nil
	}
	return nil, errors.Errorf("illegal Activation type %q", t)
}

// Identity returns an identity *Activation
func Identity() *Activation {
	return &Activation{
		activationType: identity,
		f: func(x *G.Node) (*G.Node, error) {
			return x, nil
		},
	}
}

// ReLU returns a ReLU *Activation
func ReLU() *Activation {
	return &Activation{
		activationType: relu,
		f:              G.Rectify,
	}
}

// LeakyReLU returns a leaky ReLU *Activation with a negative slope of
// 0.01
func LeakyReLU() *Activation {
	return &Activation{
		activationType: leakyRelu,
		f: func(x *G.Node) (*G.Node, error) {
			return G.LeakyRelu(x, leakyReluAlpha)
		},
	}
}

// TanH returns a tanh *Activation
func TanH() *Activation {
	return &Activation{
		activationType: tanh,
		f:              G.Tanh,
	}
}

// Sigmoid returns a sigmoid *Activation
func Sigmoid() *Activation {
	return &Activation{
		activationType: sigmoid,
		f:              G.Sigmoid,
	}
}
