// Command commnet co-trains the VAE of an actor network on batches of
// synthetic observations and checkpoints the network as it trains.
//
// Usage:
//
//	commnet -config actor.json -steps 10000 -checkpoint-every 1000 -out ./nets
//
// The configuration file holds a JSON encoded network.Config. Without
// one, an actor over 8 features with 4 action outputs, 2 of which are
// communication actions, is trained.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/samuelfneumann/commnet/checkpointer"
	"github.com/samuelfneumann/commnet/network"
	"github.com/samuelfneumann/progressbar"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

func main() {
	configFile := flag.String("config", "", "JSON network configuration")
	steps := flag.Int("steps", 1000, "number of training steps")
	every := flag.Int("checkpoint-every", 100, "steps between checkpoints")
	out := flag.String("out", ".", "directory to save checkpoints in")
	seed := flag.Uint64("seed", 1, "seed for the observation noise")
	logEvery := flag.Int("log-every", 100, "steps between loss reports")
	progress := flag.Bool("progress", false, "display a progress bar")
	flag.Parse()

	config, err := loadConfig(*configFile)
	if err != nil {
		log.Fatal(err)
	}

	net, err := network.NewTrunkWithComm(config)
	if err != nil {
		log.Fatalf("could not create network: %v", err)
	}
	defer net.Close()

	cp, err := checkpointer.NewNStep(*every, net,
		checkpointer.FilenameEnumerator(0, filepath.Join(*out, "commnet"),
			".bin"))
	if err != nil {
		log.Fatal(err)
	}

	obs := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(*seed)}
	x := mat.NewDense(net.BatchSize(), net.Features(), nil)

	bar := newProgressBar(*progress, *steps)

	log.Printf("training %v -> %v (comm %v) for %v steps", net.Features(),
		net.Outputs(), net.CommActionSpace(), *steps)

	var totalLoss float64
	for step := 1; step <= *steps; step++ {
		x.Apply(func(_, _ int, _ float64) float64 { return obs.Rand() }, x)

		if _, err := net.CoTrainForward(x, network.Train); err != nil {
			log.Fatalf("step %d: %v", step, err)
		}
		totalLoss += net.Loss()

		if bar != nil {
			bar.Increment()
			bar.Display()
		}

		if *logEvery > 0 && step%*logEvery == 0 {
			log.Printf("step %d: mean VAE loss %.4f", step,
				totalLoss/float64(*logEvery))
			totalLoss = 0
		}

		if err := cp.Checkpoint(step); err != nil {
			log.Fatal(err)
		}
	}
}

// newProgressBar returns a bar reaching 100% after steps increments, or
// nil if show is false
func newProgressBar(show bool, steps int) *progressbar.ManualProgressBar {
	if !show {
		return nil
	}
	return progressbar.NewManual(50, steps)
}

// loadConfig returns the actor configuration stored in filename, or the
// default actor configuration if filename is empty
func loadConfig(filename string) (network.Config, error) {
	if filename == "" {
		c := network.DefaultConfig(8, 4)
		c.IsActor = true
		c.CommActionSpace = network.CommActionSpace(2)
		c.BatchSize = 32
		return c, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return network.Config{}, err
	}

	var c network.Config
	if err := json.Unmarshal(data, &c); err != nil {
		return network.Config{}, err
	}
	c.IsActor = true
	return c, nil
}
