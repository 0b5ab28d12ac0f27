package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// LamportsPerSOL is the number of base units in one native token.
const LamportsPerSOL = 1_000_000_000

var (
	ErrInvalidAmount = errors.New("escrow: invalid amount")
	// ErrFractionalLamports is returned when a decimal price has more precision than the base unit.
	ErrFractionalLamports = errors.New("escrow: amount not representable in lamports")
)

var (
	lamportsPerSOL = big.NewRat(LamportsPerSOL, 1)
	// big.Rat also parses exponents, fractions and base prefixes; prices are plain decimals only.
	plainDecimal = regexp.MustCompile(`^\+?[0-9]+(\.[0-9]+)?$`)
)

// ToLamports converts a decimal native-unit price ("2.5") into lamports using
// exact rational arithmetic. Prices must be positive and fit in uint64.
func ToLamports(price string) (uint64, error) {
	p := strings.TrimSpace(price)
	if p == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if !plainDecimal.MatchString(p) {
		return 0, fmt.Errorf("%w: %q must be a plain decimal", ErrInvalidAmount, price)
	}
	r, ok := new(big.Rat).SetString(p)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, price)
	}
	if r.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidAmount, price)
	}
	r.Mul(r, lamportsPerSOL)
	if !r.IsInt() {
		return 0, fmt.Errorf("%w: %q", ErrFractionalLamports, price)
	}
	n := r.Num()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, price)
	}
	return n.Uint64(), nil
}

// NormalizePrice validates price and returns its canonical decimal form.
func NormalizePrice(price string) (string, error) {
	lamports, err := ToLamports(price)
	if err != nil {
		return "", err
	}
	return FormatLamports(lamports), nil
}

// FormatLamports renders lamports as a decimal native-unit string without trailing zeros.
func FormatLamports(lamports uint64) string {
	whole := lamports / LamportsPerSOL
	frac := lamports % LamportsPerSOL
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	s := strings.TrimRight(fmt.Sprintf("%09d", frac), "0")
	return fmt.Sprintf("%d.%s", whole, s)
}
