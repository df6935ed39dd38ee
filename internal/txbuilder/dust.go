package txbuilder

import "fmt"

// DustThreshold is the smallest value, in satoshis, that any output placed
// on-chain may carry.
const DustThreshold uint64 = 546

// checkSendValue enforces the dust floor on a merge output. A send value at
// or below the threshold fails the build.
func checkSendValue(send int64) error {
	if send <= int64(DustThreshold) {
		return fmt.Errorf("%w: send value %d <= %d", ErrDustOutput, send, DustThreshold)
	}
	return nil
}

// classifyChange decides what happens to a split remainder. A negative
// remainder means the outputs and fee exceed the inputs; a positive remainder
// under the threshold is rejected rather than added to the fee; zero means no
// change output.
func classifyChange(change int64) (include bool, err error) {
	switch {
	case change < 0:
		return false, fmt.Errorf("%w: short by %d sats", ErrInsufficientFunds, -change)
	case change == 0:
		return false, nil
	case change < int64(DustThreshold):
		return false, fmt.Errorf("%w: change %d < %d", ErrDustOutput, change, DustThreshold)
	default:
		return true, nil
	}
}

// checkRequestedOutput rejects caller-requested outputs under the threshold.
func checkRequestedOutput(index int, value uint64) error {
	if value < DustThreshold {
		return fmt.Errorf("%w: output %d value %d < %d", ErrDustOutput, index, value, DustThreshold)
	}
	return nil
}
