package network

import (
	"math"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/commnet/utils/tensorutils"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	normMomentum = 0.1
	normEps      = 1e-5
)

// inputNorm implements batch normalization of network inputs:
//
//	y = (x - mean) / √(var + ε) · scale + shift
//
// The statistics are not computed in the graph. Before each pass they
// are computed from the batch (Train) or taken from the running
// statistics (Eval) and bound to the mean and invStd nodes.
type inputNorm struct {
	mean, invStd *G.Node // (1, features), bound before each pass
	scale, shift *G.Node // (1, features), learnable

	runningMean []float64
	runningVar  []float64
}

// newInputNorm adds the nodes of an input normalization layer over
// features inputs to g. The scale is initialized to 1 and the shift
// to 0.
func newInputNorm(g *G.ExprGraph, features int) *inputNorm {
	runningVar := make([]float64, features)
	for i := range runningVar {
		runningVar[i] = 1.0
	}

	return &inputNorm{
		mean: G.NewMatrix(g, tensor.Float64, G.WithShape(1, features),
			G.WithName("normMean"), G.WithInit(G.Zeroes())),
		invStd: G.NewMatrix(g, tensor.Float64, G.WithShape(1, features),
			G.WithName("normInvStd"), G.WithInit(G.Ones())),
		scale: G.NewMatrix(g, tensor.Float64, G.WithShape(1, features),
			G.WithName("normScale"), G.WithInit(G.Ones())),
		shift: G.NewMatrix(g, tensor.Float64, G.WithShape(1, features),
			G.WithName("normShift"), G.WithInit(G.Zeroes())),
		runningMean: make([]float64, features),
		runningVar:  runningVar,
	}
}

// fwd adds the normalization of x to the graph
func (n *inputNorm) fwd(x *G.Node) (*G.Node, error) {
	centred, err := G.BroadcastSub(x, n.mean, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrap(err, "fwd: could not centre input")
	}

	normalized := G.Must(G.BroadcastHadamardProd(centred, n.invStd, nil,
		[]byte{0}))
	scaled := G.Must(G.BroadcastHadamardProd(normalized, n.scale, nil,
		[]byte{0}))
	return G.BroadcastAdd(scaled, n.shift, nil, []byte{0})
}

// bind binds the statistics used to normalize x. In Train mode the
// batch statistics are used, and the returned function updates the
// running statistics with them. In Eval mode the running statistics
// are used and the returned function does nothing.
func (n *inputNorm) bind(x mat.Matrix, mode Mode) (func(), error) {
	var mean, variance []float64
	commit := func() {}

	switch mode {
	case Train:
		rows, _ := x.Dims()
		if rows < 2 {
			return nil, ErrBatchTooSmall
		}

		var unbiased []float64
		mean, unbiased = tensorutils.ColumnMeanVariance(x)

		// Normalize with the biased variance, track the unbiased
		// variance
		batch := float64(rows)
		variance = make([]float64, len(unbiased))
		for i := range unbiased {
			variance[i] = unbiased[i] * (batch - 1) / batch
		}

		commit = func() {
			for i := range mean {
				n.runningMean[i] = (1-normMomentum)*n.runningMean[i] +
					normMomentum*mean[i]
				n.runningVar[i] = (1-normMomentum)*n.runningVar[i] +
					normMomentum*unbiased[i]
			}
		}

	case Eval:
		mean, variance = n.runningMean, n.runningVar

	default:
		return nil, errors.Errorf("unknown mode %v", mode)
	}

	invStd := make([]float64, len(variance))
	for i, v := range variance {
		invStd[i] = 1.0 / math.Sqrt(v+normEps)
	}

	if err := G.Let(n.mean, tensorutils.FromRow(mean)); err != nil {
		return nil, errors.Wrap(err, "could not set mean")
	}
	if err := G.Let(n.invStd, tensorutils.FromRow(invStd)); err != nil {
		return nil, errors.Wrap(err, "could not set inverse standard "+
			"deviation")
	}
	return commit, nil
}

// learnables returns the scale and shift of the normalization
func (n *inputNorm) learnables() G.Nodes {
	return G.Nodes{n.scale, n.shift}
}

// setStatistics copies the running statistics of source
func (n *inputNorm) setStatistics(source *inputNorm) {
	copy(n.runningMean, source.runningMean)
	copy(n.runningVar, source.runningVar)
}

// statistics returns copies of the running mean and variance
func (n *inputNorm) statistics() (mean, variance []float64) {
	mean = append([]float64(nil), n.runningMean...)
	variance = append([]float64(nil), n.runningVar...)
	return mean, variance
}

// loadStatistics sets the running statistics to copies of mean and
// variance
func (n *inputNorm) loadStatistics(mean, variance []float64) error {
	if len(mean) != len(n.runningMean) || len(variance) != len(n.runningVar) {
		return errors.Errorf("invalid number of statistics \n\twant(%d) "+
			"\n\thave(%d, %d)", len(n.runningMean), len(mean), len(variance))
	}

	copy(n.runningMean, mean)
	copy(n.runningVar, variance)
	return nil
}
