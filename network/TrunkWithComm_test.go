package network

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/commnet/initwfn"
	"github.com/samuelfneumann/commnet/solver"
	"github.com/samuelfneumann/commnet/vae"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func newTestActor(t *testing.T, c Config) *TrunkWithComm {
	t.Helper()

	net, err := NewTrunkWithComm(c)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { net.Close() })
	return net
}

func actorConfig(inputDim, outDim, comm, batch int) Config {
	c := DefaultConfig(inputDim, outDim)
	c.IsActor = true
	c.CommActionSpace = CommActionSpace(comm)
	c.BatchSize = batch
	c.Seed = 42
	return c
}

func vaeChanged(t *testing.T, before, after [][]float64) bool {
	t.Helper()

	for i := range before {
		if !floats.Equal(before[i], after[i]) {
			return true
		}
	}
	return false
}

func TestNewDispatch(t *testing.T) {
	actor, err := New(actorConfig(4, 3, 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	defer actor.Close()
	if _, ok := actor.(*TrunkWithComm); !ok {
		t.Errorf("new: want(*TrunkWithComm) have(%T)", actor)
	}

	critic, err := New(DefaultConfig(4, 1))
	if err != nil {
		t.Fatal(err)
	}
	defer critic.Close()
	if _, ok := critic.(*TrunkOnly); !ok {
		t.Errorf("new: want(*TrunkOnly) have(%T)", critic)
	}
}

func TestActorZeroObservations(t *testing.T) {
	net := newTestActor(t, actorConfig(10, 5, 2, 4))
	x := mat.NewDense(4, 10, nil)

	if net.Trunk().Outputs() != 3 {
		t.Errorf("trunk outputs: want(3) have(%d)", net.Trunk().Outputs())
	}

	out, err := net.CoTrainForward(x, Train)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := out.Dims(); r != 4 || c != 5 {
		t.Errorf("wrong shape \n\twant(4, 5) \n\thave(%d, %d)", r, c)
	}
	if !finite(out) {
		t.Errorf("non-finite output %v", mat.Formatted(out))
	}
}

func TestCoTrainForwardOutput(t *testing.T) {
	c := actorConfig(6, 5, 2, 4)
	c.NormIn = false
	net := newTestActor(t, c)
	x := observations(4, 6, 0)

	out, err := net.CoTrainForward(x, Eval)
	if err != nil {
		t.Fatal(err)
	}

	trunk, err := net.Trunk().Forward(x, Eval)
	if err != nil {
		t.Fatal(err)
	}
	latent := net.Latent()

	if !mat.Equal(out.Slice(0, 4, 0, 3), trunk) {
		t.Errorf("trunk columns: \n\twant(%v) \n\thave(%v)",
			mat.Formatted(trunk), mat.Formatted(out.Slice(0, 4, 0, 3)))
	}
	if !mat.Equal(out.Slice(0, 4, 3, 5), latent) {
		t.Errorf("latent columns: \n\twant(%v) \n\thave(%v)",
			mat.Formatted(latent), mat.Formatted(out.Slice(0, 4, 3, 5)))
	}
}

func TestCoTrainForwardTrainsVAE(t *testing.T) {
	net := newTestActor(t, actorConfig(6, 5, 2, 4))
	x := observations(4, 6, 1)

	initial, _ := net.VAE().Parameters()

	if _, err := net.CoTrainForward(x, Train); err != nil {
		t.Fatal(err)
	}
	first, _ := net.VAE().Parameters()
	if !vaeChanged(t, initial, first) {
		t.Errorf("first call did not change the VAE")
	}

	if _, err := net.CoTrainForward(x, Train); err != nil {
		t.Fatal(err)
	}
	second, _ := net.VAE().Parameters()
	if !vaeChanged(t, first, second) {
		t.Errorf("second call did not change the VAE")
	}

	if net.VAE().Steps() != 2 {
		t.Errorf("steps: want(2) have(%d)", net.VAE().Steps())
	}
	if net.Loss() != net.VAE().Loss() {
		t.Errorf("loss: want(%v) have(%v)", net.VAE().Loss(), net.Loss())
	}
}

func TestForwardIsPure(t *testing.T) {
	net := newTestActor(t, actorConfig(6, 5, 2, 4))
	x := observations(4, 6, 2)

	before, _ := net.VAE().Parameters()
	for _, mode := range []Mode{Train, Eval} {
		out, err := net.Forward(x, mode)
		if err != nil {
			t.Fatal(err)
		}
		if r, c := out.Dims(); r != 4 || c != 5 {
			t.Errorf("%v: wrong shape \n\twant(4, 5) \n\thave(%d, %d)", mode,
				r, c)
		}
	}
	after, _ := net.VAE().Parameters()

	if vaeChanged(t, before, after) {
		t.Errorf("forward changed the VAE")
	}
	if net.Latent() != nil {
		t.Errorf("forward recorded a latent sample")
	}

	// Eval uses the mean latent vector
	z1, err := net.Encode(x, Eval)
	if err != nil {
		t.Fatal(err)
	}
	z2, err := net.Encode(x, Eval)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(z1, z2) {
		t.Errorf("encode: eval encoding is not deterministic")
	}

	out, err := net.Forward(x, Eval)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(out.Slice(0, 4, 3, 5), z1) {
		t.Errorf("forward: latent columns differ from encoding")
	}
}

func TestTrainStep(t *testing.T) {
	net := newTestActor(t, actorConfig(6, 5, 2, 4))

	loss, err := net.TrainStep(observations(4, 6, 3))
	if err != nil {
		t.Fatal(err)
	}
	if loss < 0 {
		t.Errorf("trainStep: negative loss %v", loss)
	}
	if r, c := net.Latent().Dims(); r != 4 || c != 2 {
		t.Errorf("latent: wrong shape \n\twant(4, 2) \n\thave(%d, %d)", r, c)
	}

	if _, err := net.TrainStep(observations(4, 5, 3)); err == nil {
		t.Errorf("trainStep: expected error for wrong feature count")
	}
}

func TestActorLearnables(t *testing.T) {
	net := newTestActor(t, actorConfig(6, 5, 2, 4))

	// Normalization scale and shift, then three layers
	if len(net.Learnables()) != 8 {
		t.Errorf("learnables: want(8) have(%d)", len(net.Learnables()))
	}
	if len(net.Model()) != len(net.Learnables()) {
		t.Errorf("model: want(%d) have(%d)", len(net.Learnables()),
			len(net.Model()))
	}
}

func TestActorSetCloneAndPolyak(t *testing.T) {
	c := actorConfig(6, 5, 2, 4)
	source := newTestActor(t, c)
	x := observations(4, 6, 4)
	for i := 0; i < 3; i++ {
		if _, err := source.CoTrainForward(x, Train); err != nil {
			t.Fatal(err)
		}
	}

	c.Seed = 7
	dest := newTestActor(t, c)
	if err := dest.Set(source); err != nil {
		t.Fatal(err)
	}
	want, _ := source.Forward(x, Eval)
	have, err := dest.Forward(x, Eval)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(want, have) {
		t.Errorf("set: outputs differ \n\twant(%v) \n\thave(%v)",
			mat.Formatted(want), mat.Formatted(have))
	}

	clone, err := source.Clone()
	if err != nil {
		t.Fatal(err)
	}
	defer clone.Close()
	have, err = clone.Forward(x, Eval)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(want, have) {
		t.Errorf("clone: outputs differ \n\twant(%v) \n\thave(%v)",
			mat.Formatted(want), mat.Formatted(have))
	}
	if clone.(*TrunkWithComm).VAE().Steps() != 0 {
		t.Errorf("clone: expected fresh VAE training state")
	}

	target := newTestActor(t, actorConfig(6, 5, 2, 4))
	before, _ := target.VAE().Parameters()
	sourceParams, _ := source.VAE().Parameters()
	if err := target.Polyak(source, 0.5); err != nil {
		t.Fatal(err)
	}
	after, _ := target.VAE().Parameters()
	for i := range after {
		want := make([]float64, len(before[i]))
		for j := range want {
			want[j] = 0.5*before[i][j] + 0.5*sourceParams[i][j]
		}
		if !floats.EqualApprox(want, after[i], 1e-12) {
			t.Errorf("polyak: VAE learnable %d not averaged", i)
		}
	}
}

func TestTrunkWithCommGob(t *testing.T) {
	c := actorConfig(6, 5, 2, 4)
	c.Reconstruction = vae.Bernoulli
	net := newTestActor(t, c)
	x := observations(4, 6, 5)
	if _, err := net.CoTrainForward(x, Train); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(net); err != nil {
		t.Fatal(err)
	}

	var decoded TrunkWithComm
	if err := gob.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	defer decoded.Close()

	if decoded.CommActionSpace() != 2 {
		t.Errorf("gob: comm action space not restored")
	}
	if decoded.VAE().Config().Reconstruction != vae.Bernoulli {
		t.Errorf("gob: reconstruction not restored")
	}

	want, _ := net.Forward(x, Eval)
	have, err := decoded.Forward(x, Eval)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(want, have) {
		t.Errorf("gob: outputs differ \n\twant(%v) \n\thave(%v)",
			mat.Formatted(want), mat.Formatted(have))
	}

	// The decoded network trains and samples through its own graphs
	have, err = decoded.Forward(x, Train)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := have.Dims(); r != 4 || c != 5 || !finite(have) {
		t.Errorf("gob: train forward \n\twant(4, 5) finite \n\thave(%v)",
			mat.Formatted(have))
	}

	before, _ := decoded.VAE().Parameters()
	loss, err := decoded.TrainStep(x)
	if err != nil {
		t.Fatal(err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.Errorf("gob: non-finite loss %v", loss)
	}

	out, err := decoded.CoTrainForward(x, Train)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := out.Dims(); r != 4 || c != 5 || !finite(out) {
		t.Errorf("gob: coTrainForward \n\twant(4, 5) finite \n\thave(%v)",
			mat.Formatted(out))
	}
	if !mat.Equal(out.Slice(0, 4, 3, 5), decoded.Latent()) {
		t.Errorf("gob: latent columns differ from sampled latent")
	}

	after, _ := decoded.VAE().Parameters()
	if !vaeChanged(t, before, after) {
		t.Errorf("gob: training did not change the decoded VAE")
	}
	if decoded.VAE().Steps() != net.VAE().Steps()+2 {
		t.Errorf("gob: steps \n\twant(%d) \n\thave(%d)",
			net.VAE().Steps()+2, decoded.VAE().Steps())
	}
}

func TestActorWithoutCommunication(t *testing.T) {
	net := newTestActor(t, actorConfig(10, 5, 0, 4))
	x := observations(4, 10, 6)

	if net.VAE() != nil {
		t.Errorf("expected no VAE")
	}
	if net.Trunk().Outputs() != 5 {
		t.Errorf("trunk outputs: want(5) have(%d)", net.Trunk().Outputs())
	}

	for _, mode := range []Mode{Train, Eval} {
		out, err := net.CoTrainForward(x, mode)
		if err != nil {
			t.Fatal(err)
		}
		if r, c := out.Dims(); r != 4 || c != 5 {
			t.Errorf("%v: wrong shape \n\twant(4, 5) \n\thave(%d, %d)", mode,
				r, c)
		}

		trunk, err := net.Trunk().Forward(x, Eval)
		if err != nil {
			t.Fatal(err)
		}
		out, err = net.Forward(x, Eval)
		if err != nil {
			t.Fatal(err)
		}
		if !mat.Equal(out, trunk) {
			t.Errorf("%v: output differs from trunk output", mode)
		}
	}

	loss, err := net.TrainStep(x)
	if err != nil || loss != 0 {
		t.Errorf("trainStep: want(0, nil) have(%v, %v)", loss, err)
	}
	if z, err := net.Encode(x, Eval); err != nil || z != nil {
		t.Errorf("encode: want(nil, nil) have(%v, %v)", z, err)
	}
	if net.Latent() != nil || net.Loss() != 0 {
		t.Errorf("expected no latent and zero loss")
	}

	clone, err := net.Clone()
	if err != nil {
		t.Fatal(err)
	}
	defer clone.Close()
	if err := clone.Polyak(net, 0.5); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(net); err != nil {
		t.Fatal(err)
	}
	var decoded TrunkWithComm
	if err := gob.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	defer decoded.Close()

	want, _ := net.Forward(x, Eval)
	have, err := decoded.Forward(x, Eval)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(want, have) || decoded.CommActionSpace() != 0 {
		t.Errorf("gob: network not restored")
	}
}

func TestActorForwardError(t *testing.T) {
	net := newTestActor(t, actorConfig(6, 5, 2, 4))

	_, err := net.Forward(observations(4, 7, 0), Eval)
	if !errors.Is(err, ErrShape) {
		t.Errorf("expected shape error but got %v", err)
	}
	if strings.Contains(err.Error(), "forward: forward") {
		t.Errorf("error wrapped twice: %v", err)
	}
}

func TestCoTrainForwardFailedStep(t *testing.T) {
	// An uncreated solver fails every step
	c := actorConfig(6, 5, 2, 4)
	c.Solver = &solver.Solver{}
	net := newTestActor(t, c)
	x := observations(4, 6, 7)

	mean, variance := net.Trunk().NormStatistics()
	if _, err := net.CoTrainForward(x, Train); err == nil {
		t.Fatal("coTrainForward: expected error for failed VAE step")
	}

	haveMean, haveVar := net.Trunk().NormStatistics()
	if !floats.Equal(mean, haveMean) || !floats.Equal(variance, haveVar) {
		t.Errorf("coTrainForward: running statistics changed by a failed " +
			"step")
	}
}

func TestConfigJSON(t *testing.T) {
	weightInit, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		t.Fatal(err)
	}
	s, err := solver.NewDefaultAdam(1e-3, 1)
	if err != nil {
		t.Fatal(err)
	}

	c := actorConfig(4, 3, 1, 2)
	c.Activation = TanH()
	c.InitWFn = weightInit
	c.Solver = s

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Config
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded.Activation.String() != "tanh" {
		t.Errorf("activation: want(tanh) have(%v)", decoded.Activation)
	}
	if decoded.InitWFn.Type != initwfn.GlorotU {
		t.Errorf("initWFn: want(%v) have(%v)", initwfn.GlorotU,
			decoded.InitWFn.Type)
	}
	if decoded.Solver.Type != solver.Adam {
		t.Errorf("solver: want(%v) have(%v)", solver.Adam, decoded.Solver.Type)
	}
	if *decoded.CommActionSpace != 1 || !decoded.IsActor {
		t.Errorf("actor configuration not restored")
	}

	net, err := New(decoded)
	if err != nil {
		t.Fatal(err)
	}
	net.Close()
}

func TestActivationJSON(t *testing.T) {
	for _, a := range []*Activation{ReLU(), LeakyReLU(), Identity(), TanH(),
		Sigmoid()} {
		data, err := json.Marshal(a)
		if err != nil {
			t.Fatal(err)
		}

		var decoded Activation
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded.String() != a.String() {
			t.Errorf("want(%v) have(%v)", a, &decoded)
		}
	}

	var a Activation
	if err := json.Unmarshal([]byte(`"swish"`), &a); err == nil {
		t.Errorf("expected error for unknown activation")
	}
}
