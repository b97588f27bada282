package checkpointer

import (
	"fmt"

	"github.com/samuelfneumann/td3nav/agent"
)

// nStep implements checkpointing every N epochs
type nStep struct {
	interval int
	dir      string
	object   agent.Persister

	// name returns the name to save the next snapshot under.
	//
	// If each snapshot should be kept with an incremented number as a
	// suffix (e.g. TD3_1, TD3_2, ..., TD3_K), then use FilenameEnumerator.
	// If the name does not matter, use FileTimer:
	//
	// n := NewNStep(10, "./models", object, FileTimer("TD3"))
	name func() string
}

// NewNStep returns a checkpointer that saves object into dir every n
// epochs. If n <= 0, the returned Checkpointer never saves.
func NewNStep(n int, dir string, object agent.Persister,
	name func() string) Checkpointer {
	if n <= 0 {
		return None{}
	}
	return &nStep{
		interval: n,
		dir:      dir,
		object:   object,
		name:     name,
	}
}

// Checkpoint saves the tracked object by calling its Save() method
// whenever epoch is a positive multiple of the interval
func (n *nStep) Checkpoint(epoch int) error {
	if epoch <= 0 || epoch%n.interval != 0 {
		return nil
	}
	if err := n.object.Save(n.name(), n.dir); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}
