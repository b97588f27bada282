// Package checkpointer implements periodic snapshots of persistable
// agents
package checkpointer

// Checkpointer checkpoints/saves agents based on the number of
// evaluation epochs completed
type Checkpointer interface {
	Checkpoint(epoch int) error
}

// None is a Checkpointer which never checkpoints
type None struct{}

// Checkpoint implements the Checkpointer interface
func (None) Checkpoint(int) error { return nil }
