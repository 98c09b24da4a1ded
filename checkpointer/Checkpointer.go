// Package checkpointer saves gob encoded networks to files during
// training.
package checkpointer

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Serializable is an object that can be saved/serialized
type Serializable interface {
	gob.GobEncoder
	gob.GobDecoder
}

// Checkpointer checkpoints/saves serializable objects based on the
// number of training steps taken
type Checkpointer interface {
	Checkpoint(step int) error
}

// Save gob encodes object into the file filename, creating any missing
// parent directories. An existing file is overwritten.
func Save(filename string, object Serializable) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "save: could not create directory")
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "save")
	}

	if err := gob.NewEncoder(file).Encode(object); err != nil {
		file.Close()
		return errors.Wrapf(err, "save: could not encode to %v", filename)
	}
	return errors.Wrap(file.Close(), "save")
}

// Load decodes the gob encoded object stored in filename into object
func Load(filename string, object Serializable) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "load")
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(object); err != nil {
		return errors.Wrapf(err, "load: could not decode %v", filename)
	}
	return nil
}
