package checkpointer

import "github.com/pkg/errors"

// nStep implements checkpointing every N steps
type nStep struct {
	interval int
	object   Serializable // Object to save

	// filename returns the name of the file to save the object in.
	//
	// To save each checkpoint in a separate file with an incremented
	// number as a suffix (e.g. net1.bin, net2.bin, ..., netK.bin), use
	// FilenameEnumerator. If the names do not matter, use FileTimer:
	//
	//	n := NewNStep(10, net, FileTimer("net", ".bin"))
	//
	// To keep only the latest checkpoint, return a constant name.
	filename func() string
}

// NewNStep returns a checkpointer that checkpoints every n steps.
func NewNStep(n int, object Serializable,
	filename func() string) (Checkpointer, error) {
	if n <= 0 {
		return nil, errors.Errorf("newNStep: interval must be positive "+
			"but got %d", n)
	}

	return &nStep{
		interval: n,
		object:   object,
		filename: filename,
	}, nil
}

// Checkpoint saves the tracked object if step is a multiple of the
// checkpointing interval. Step 0 is never checkpointed.
func (n *nStep) Checkpoint(step int) error {
	if step <= 0 || step%n.interval != 0 {
		return nil
	}
	return errors.Wrapf(Save(n.filename(), n.object), "checkpoint: step %d",
		step)
}
