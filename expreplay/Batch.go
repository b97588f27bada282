package expreplay

import "gonum.org/v1/gonum/mat"

// Batch is a batch of transitions sampled from a Store. Each field is
// stored in row major order with one row per transition. Rewards and
// Terminals are column vectors, with terminals encoded as 0 or 1.
type Batch struct {
	States     []float64
	Actions    []float64
	Rewards    []float64
	Terminals  []float64
	NextStates []float64

	StateDim  int
	ActionDim int
}

// Len returns the number of transitions in the batch
func (b Batch) Len() int {
	return len(b.Rewards)
}

// Empty returns whether the batch holds no transitions
func (b Batch) Empty() bool {
	return b.Len() == 0
}

// StateMat returns the states as a Len() x StateDim matrix, or nil if
// the batch is empty. The matrix shares the batch's backing data.
func (b Batch) StateMat() *mat.Dense {
	return b.dense(b.States, b.StateDim)
}

// ActionMat returns the actions as a Len() x ActionDim matrix
func (b Batch) ActionMat() *mat.Dense {
	return b.dense(b.Actions, b.ActionDim)
}

// NextStateMat returns the next states as a Len() x StateDim matrix
func (b Batch) NextStateMat() *mat.Dense {
	return b.dense(b.NextStates, b.StateDim)
}

// RewardVec returns the rewards as a column vector
func (b Batch) RewardVec() *mat.VecDense {
	if b.Empty() {
		return nil
	}
	return mat.NewVecDense(b.Len(), b.Rewards)
}

// TerminalVec returns the terminal flags as a column vector
func (b Batch) TerminalVec() *mat.VecDense {
	if b.Empty() {
		return nil
	}
	return mat.NewVecDense(b.Len(), b.Terminals)
}

func (b Batch) dense(data []float64, cols int) *mat.Dense {
	if b.Empty() {
		return nil
	}
	return mat.NewDense(b.Len(), cols, data)
}
