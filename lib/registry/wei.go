package registry

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the number of fractional digits between display units and smallest units.
const Decimals = 18

var unitScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// ToWei converts a non-negative decimal display amount such as "0.25" into smallest units. Amounts with more than
// Decimals fractional digits are rejected rather than truncated.
func ToWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return nil, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("%w: negative amount %q", ErrBadAmount, s)
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("%w: more than %d fractional digits in %q", ErrBadAmount, Decimals, s)
	}
	frac += strings.Repeat("0", Decimals-len(frac))
	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	return n, nil
}

// FromWei renders a smallest-unit amount as a decimal display string with trailing zeros trimmed, so that
// FromWei(ToWei(s)) round-trips for canonical inputs.
func FromWei(n *big.Int) string {
	if n == nil || n.Sign() == 0 {
		return "0"
	}
	q, r := new(big.Int).QuoRem(n, unitScale, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	frac := strings.TrimRight(fmt.Sprintf("%0*s", Decimals, r.String()), "0")
	return q.String() + "." + frac
}
