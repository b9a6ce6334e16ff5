package main

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultDecimals = 18

var (
	ErrInvalidAmount = errors.New("invalid amount")
)

// ParseAmount converts a human readable amount into base units. Amounts must be
// positive and fit in a uint256.
func ParseAmount(s string, decimals int32) (*big.Int, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return nil, err
	}
	if d.Exponent() < -decimals {
		return nil, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, s, decimals)
	}
	v := d.Shift(decimals).BigInt()
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("%w: %s does not fit in uint256", ErrInvalidAmount, s)
	}
	return v, nil
}

// ParseDecimal validates a user supplied amount without scaling it.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, s)
	}
	return d, nil
}

// FormatAmount renders base units with the given decimals; nil renders as "0".
func FormatAmount(v *big.Int, decimals int32) string {
	return toDecimal(v, decimals).String()
}

func toDecimal(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
