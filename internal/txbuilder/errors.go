package txbuilder

import "errors"

// Build errors. Every failure is all-or-nothing: no partial transaction is
// ever returned alongside one of these.
var (
	ErrNoInputs          = errors.New("txbuilder: no inputs selected")
	ErrNoOutputs         = errors.New("txbuilder: no outputs requested")
	ErrDuplicateInput    = errors.New("txbuilder: duplicate input")
	ErrInvalidInput      = errors.New("txbuilder: invalid input")
	ErrInvalidFeeRate    = errors.New("txbuilder: fee rate must be positive")
	ErrInsufficientFunds = errors.New("txbuilder: insufficient funds")
	ErrDustOutput        = errors.New("txbuilder: output below dust threshold")
	ErrSigning           = errors.New("txbuilder: signing failed")
	ErrSerialization     = errors.New("txbuilder: serialization failed")
)
