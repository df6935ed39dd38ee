package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// Unit is the denomination a numeric amount is written in.
type Unit string

const (
	Wei   Unit = "wei"
	Gwei  Unit = "gwei"
	Ether Unit = "ether"
)

// multiplier returns the number of wei in one unit. An empty unit is wei.
func (u Unit) multiplier() (*big.Int, error) {
	switch Unit(strings.ToLower(string(u))) {
	case Wei, "":
		return big.NewInt(params.Wei), nil
	case Gwei:
		return big.NewInt(params.GWei), nil
	case Ether:
		return big.NewInt(params.Ether), nil
	}
	return nil, fmt.Errorf("%w: unknown unit %q", ErrInvalidAmount, u)
}

// ParseUnit converts a decimal amount in the given unit to wei. Fractions are
// allowed as long as the result is a whole number of wei.
func ParseUnit(value string, unit Unit) (*big.Int, error) {
	mul, err := unit.multiplier()
	if err != nil {
		return nil, err
	}

	value = strings.TrimSpace(value)
	if value == "" || strings.ContainsAny(value, "/eE") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	r, ok := new(big.Rat).SetString(value)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}

	r.Mul(r, new(big.Rat).SetInt(mul))
	if !r.IsInt() {
		return nil, fmt.Errorf("%w: %q %s is not a whole number of wei", ErrInvalidAmount, value, unit)
	}
	return new(big.Int).Set(r.Num()), nil
}

// ParseEther converts an ether-denominated amount to wei. Negative amounts are
// rejected.
func ParseEther(value string) (*big.Int, error) {
	wei, err := ParseUnit(value, Ether)
	if err != nil {
		return nil, err
	}
	if wei.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, value)
	}
	return wei, nil
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, big.NewInt(params.Ether))
	s := r.FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
