package vae

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// reconstructionLoss adds the reconstruction term of the VAE loss to
// the graph. The decoded node holds the raw output of the decoder. The
// returned reconstruction node holds the decoder output mapped to input
// space.
func reconstructionLoss(r Reconstruction, decoded,
	input *G.Node) (loss, reconstruction *G.Node, err error) {
	switch r {
	case SquaredError:
		diff, err := G.Sub(decoded, input)
		if err != nil {
			return nil, nil, err
		}
		loss, err = G.Sum(G.Must(G.Square(diff)))
		return loss, decoded, err

	case Bernoulli:
		// Σ log(1 + exp(l)) - x·l is the binary cross entropy of
		// sigmoid(l) to x. The softplus is computed as
		// max(l, 0) + log(1 + exp(-|l|)) so that exp never overflows.
		tail := G.Must(G.Log1p(G.Must(G.Exp(G.Must(G.Neg(
			G.Must(G.Abs(decoded))))))))
		softplus := G.Must(G.Add(G.Must(G.Rectify(decoded)), tail))
		xl := G.Must(G.HadamardProd(input, decoded))
		loss, err = G.Sub(G.Must(G.Sum(softplus)), G.Must(G.Sum(xl)))
		if err != nil {
			return nil, nil, err
		}

		reconstruction, err = G.Sigmoid(decoded)
		return loss, reconstruction, err
	}

	return nil, nil, errors.Errorf("unknown reconstruction %q", r)
}

// klDivergence adds the KL divergence between the approximate posterior
// N(mu, exp(logVar)) and the standard normal prior to the graph:
//
// 	-½ Σ (1 + logVar - mu² - exp(logVar))
//
// summed over the batch and latent dimensions.
func klDivergence(mu, logVar *G.Node) (*G.Node, error) {
	elems := float64(mu.Shape().TotalSize())

	sumLogVar, err := G.Sum(logVar)
	if err != nil {
		return nil, err
	}
	sumMuSq := G.Must(G.Sum(G.Must(G.Square(mu))))
	sumVar := G.Must(G.Sum(G.Must(G.Exp(logVar))))

	inner := G.Must(G.Add(G.NewConstant(elems), sumLogVar))
	inner = G.Must(G.Sub(inner, sumMuSq))
	inner = G.Must(G.Sub(inner, sumVar))

	return G.Mul(G.NewConstant(-0.5), inner)
}

// lossFunction adds the VAE loss, reconstruction plus KL divergence, to
// the graph
func lossFunction(r Reconstruction, decoded, input, mu,
	logVar *G.Node) (loss, reconstruction *G.Node, err error) {
	recLoss, reconstruction, err := reconstructionLoss(r, decoded, input)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not compute "+
			"reconstruction loss")
	}

	kl, err := klDivergence(mu, logVar)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not compute KL divergence")
	}

	loss, err = G.Add(recLoss, kl)
	return loss, reconstruction, err
}
