package prophecy

import (
	"errors"
	"math/big"
	"regexp"
	"strings"
)

// DefaultDecimals matches the USDC stake token.
const DefaultDecimals uint8 = 6

var (
	errMalformedAmount = errors.New("amount must be a plain decimal number")
	errExcessPrecision = errors.New("amount has more fractional digits than the token supports")

	decimalPattern = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)
)

// ParseUnits converts a decimal string such as "12.5" into base units.
// Exponents, signs and digits beyond decimals are rejected rather than rounded.
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if !decimalPattern.MatchString(value) {
		return nil, errMalformedAmount
	}
	if strings.HasPrefix(value, ".") {
		value = "0" + value
	}
	amount, ok := new(big.Rat).SetString(strings.TrimSuffix(value, "."))
	if !ok {
		return nil, errMalformedAmount
	}
	amount.Mul(amount, new(big.Rat).SetInt(pow10(decimals)))
	if !amount.IsInt() {
		return nil, errExcessPrecision
	}
	return new(big.Int).Set(amount.Num()), nil
}

// FormatUnits renders base units as a decimal string without trailing zeros.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	abs := new(big.Int).Abs(value)
	whole, frac := new(big.Int).QuoRem(abs, pow10(decimals), new(big.Int))

	out := whole.String()
	if decimals > 0 && frac.Sign() != 0 {
		digits := frac.String()
		digits = strings.Repeat("0", int(decimals)-len(digits)) + digits
		out += "." + strings.TrimRight(digits, "0")
	}
	if value.Sign() < 0 {
		out = "-" + out
	}
	return out
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
