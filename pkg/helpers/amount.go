// Package helpers formats and parses coin amounts for CLI and log output.
package helpers

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// SatsPerBTC is the number of satoshis in one bitcoin.
const SatsPerBTC = 100_000_000

// ErrInvalidAmount is returned for amounts that are not plain decimals.
var ErrInvalidAmount = errors.New("invalid amount")

// FormatAmount formats an amount in smallest units as a decimal string.
// For example, FormatAmount(100000000, 8) returns "1".
func FormatAmount(amount uint64, decimals uint8) string {
	if decimals == 0 {
		return fmt.Sprintf("%d", amount)
	}

	amountBig := new(big.Int).SetUint64(amount)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)

	whole, frac := new(big.Int).QuoRem(amountBig, divisor, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}

	fracStr := strings.TrimRight(fmt.Sprintf("%0*d", int(decimals), frac), "0")
	return whole.String() + "." + fracStr
}

// ParseAmount parses a decimal string to smallest units. Amounts with more
// fractional digits than decimals are rejected rather than truncated.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}

	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if wholeStr == "" {
		wholeStr = "0"
	}
	for _, part := range []string{wholeStr, fracStr} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("%w: unexpected character %q in %s", ErrInvalidAmount, c, s)
			}
		}
	}
	if len(fracStr) > int(decimals) {
		return 0, fmt.Errorf("%w: more than %d decimals in %s", ErrInvalidAmount, decimals, s)
	}
	fracStr += strings.Repeat("0", int(decimals)-len(fracStr))

	amount, ok := new(big.Int).SetString(wholeStr+fracStr, 10)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	if !amount.IsUint64() {
		return 0, fmt.Errorf("%w: overflow: %s", ErrInvalidAmount, s)
	}
	return amount.Uint64(), nil
}

// SatsToBTC converts satoshis to a BTC decimal string.
func SatsToBTC(sats uint64) string {
	return FormatAmount(sats, 8)
}

// BTCToSats converts a BTC decimal string to satoshis.
func BTCToSats(btc string) (uint64, error) {
	return ParseAmount(btc, 8)
}

// FormatSats renders an amount for humans, e.g. "30000 sats (0.0003 BTC)".
func FormatSats(sats uint64) string {
	return fmt.Sprintf("%d sats (%s BTC)", sats, SatsToBTC(sats))
}
