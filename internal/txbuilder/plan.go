package txbuilder

import (
	"fmt"
	"math"

	"github.com/klingon-exchange/utxoforge/internal/backend"
)

// Kind is the shape of transaction being built.
type Kind string

const (
	KindMerge Kind = "merge"
	KindSplit Kind = "split"
)

// Output is a requested destination.
type Output struct {
	Address string `json:"address"`
	Value   uint64 `json:"value"`
}

// Plan is the value-level description of one transaction. Plans are treated
// as immutable: the finalize functions return a new Plan and never modify
// the one they are given.
type Plan struct {
	Kind    Kind
	Inputs  []backend.UTXO
	Outputs []Output
	FeeRate float64 // sat/vB

	// ChangeIndex is the position of the change output in Outputs, or -1.
	ChangeIndex   int
	ChangeAddress string

	// Set by finalization.
	Fee    uint64
	Change uint64
}

// NewMergePlan returns the estimate-phase plan for a merge: one output to
// target carrying the full input sum.
func NewMergePlan(inputs []backend.UTXO, target string, feeRate float64) Plan {
	return Plan{
		Kind:        KindMerge,
		Inputs:      inputs,
		Outputs:     []Output{{Address: target, Value: sumInputs(inputs)}},
		FeeRate:     feeRate,
		ChangeIndex: -1,
	}
}

// NewSplitPlan returns the estimate-phase plan for a split: every requested
// output at its real value followed by a zero-value change placeholder.
func NewSplitPlan(inputs []backend.UTXO, outputs []Output, changeAddress string, feeRate float64) Plan {
	outs := make([]Output, 0, len(outputs)+1)
	outs = append(outs, outputs...)
	outs = append(outs, Output{Address: changeAddress, Value: 0})

	return Plan{
		Kind:          KindSplit,
		Inputs:        inputs,
		Outputs:       outs,
		FeeRate:       feeRate,
		ChangeIndex:   len(outputs),
		ChangeAddress: changeAddress,
	}
}

// CalcFee prices a virtual size at a fee rate, rounding half away from zero.
func CalcFee(vsize int64, feeRate float64) uint64 {
	return uint64(math.Round(float64(vsize) * feeRate))
}

// FinalizeMerge derives the final merge plan from an estimate-phase plan and
// the measured virtual size of its signed transaction.
func FinalizeMerge(p Plan, vsize int64) (Plan, error) {
	if p.Kind != KindMerge || len(p.Outputs) != 1 {
		return Plan{}, fmt.Errorf("%w: not a merge plan", ErrInvalidInput)
	}

	total := p.TotalInput()
	fee := CalcFee(vsize, p.FeeRate)
	send := int64(total) - int64(fee)
	if err := checkSendValue(send); err != nil {
		return Plan{}, err
	}

	final := p
	final.Outputs = []Output{{Address: p.Outputs[0].Address, Value: uint64(send)}}
	final.Fee = fee
	final.Change = 0
	return final, nil
}

// FinalizeSplit derives the final split plan from an estimate-phase plan and
// the measured virtual size of its signed transaction. The change output is
// kept when it clears the dust threshold and dropped when it is exactly zero.
func FinalizeSplit(p Plan, vsize int64) (Plan, error) {
	if p.Kind != KindSplit || p.ChangeIndex < 0 || p.ChangeIndex >= len(p.Outputs) {
		return Plan{}, fmt.Errorf("%w: not a split plan", ErrInvalidInput)
	}

	requested := make([]Output, 0, len(p.Outputs))
	var outputSum uint64
	for i, o := range p.Outputs {
		if i == p.ChangeIndex {
			continue
		}
		requested = append(requested, o)
		outputSum += o.Value
	}

	total := p.TotalInput()
	fee := CalcFee(vsize, p.FeeRate)
	change := int64(total) - int64(outputSum) - int64(fee)

	include, err := classifyChange(change)
	if err != nil {
		return Plan{}, err
	}

	final := p
	final.Outputs = requested
	final.ChangeIndex = -1
	final.Fee = fee
	final.Change = 0
	if include {
		final.ChangeIndex = len(requested)
		final.Outputs = append(final.Outputs, Output{Address: p.ChangeAddress, Value: uint64(change)})
		final.Change = uint64(change)
	}
	return final, nil
}

// TotalInput returns the sum of input values.
func (p Plan) TotalInput() uint64 {
	return sumInputs(p.Inputs)
}

// TotalOutput returns the sum of output values.
func (p Plan) TotalOutput() uint64 {
	var sum uint64
	for _, o := range p.Outputs {
		sum += o.Value
	}
	return sum
}

func sumInputs(inputs []backend.UTXO) uint64 {
	var sum uint64
	for _, in := range inputs {
		sum += in.Amount
	}
	return sum
}
