package staking

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Fixed is an unsigned 256-bit fixed-point quantity. The engine stores two
// kinds of values in it:
//
//   - amounts (principal, bonus points, pending rewards, credits, stream
//     rates) are raw token units multiplied by AmountScale;
//   - cumulative multipliers are scaled reward per unit of scaled weight,
//     multiplied by MultiplierPrecision.
//
// Every arithmetic helper reports overflow and underflow through
// ErrArithmeticOverflow instead of wrapping.
type Fixed struct {
	v uint256.Int
}

var (
	// AmountScale is the multiplier applied to raw token amounts.
	AmountScale = mustFixed(1_000_000_000_000_000_000)
	// MultiplierPrecision is the precision of the cumulative multipliers.
	MultiplierPrecision = mustFixed(1_000_000_000_000_000_000)
)

func mustFixed(v uint64) Fixed {
	var f Fixed
	f.v.SetUint64(v)
	return f
}

// FixedFromUint64 lifts a machine integer into the fixed-point domain without
// scaling it.
func FixedFromUint64(v uint64) Fixed { return mustFixed(v) }

// FixedFromBig converts an unscaled big integer. Negative or oversized inputs
// are rejected.
func FixedFromBig(v *big.Int) (Fixed, error) {
	var f Fixed
	if v == nil {
		return f, nil
	}
	if v.Sign() < 0 {
		return f, ErrArithmeticOverflow
	}
	if overflow := f.v.SetFromBig(v); overflow {
		return Fixed{}, ErrArithmeticOverflow
	}
	return f, nil
}

// ToScaled converts a raw token amount into the scaled amount domain.
func ToScaled(raw *big.Int) (Fixed, error) {
	f, err := FixedFromBig(raw)
	if err != nil {
		return Fixed{}, err
	}
	return f.Mul(AmountScale)
}

// Big returns the value as a big integer without unscaling.
func (f Fixed) Big() *big.Int { return f.v.ToBig() }

// String renders the raw underlying integer.
func (f Fixed) String() string { return f.v.Dec() }

// IsZero reports whether the value is zero.
func (f Fixed) IsZero() bool { return f.v.IsZero() }

// Cmp compares two values and returns -1, 0 or +1.
func (f Fixed) Cmp(other Fixed) int { return f.v.Cmp(&other.v) }

// Lt reports f < other.
func (f Fixed) Lt(other Fixed) bool { return f.v.Lt(&other.v) }

// Unscaled floors a scaled amount back to raw token units.
func (f Fixed) Unscaled() *big.Int {
	var q uint256.Int
	q.Div(&f.v, &AmountScale.v)
	return q.ToBig()
}

// WholeUnits splits a scaled amount into the part representable in raw units
// and that part expressed back in the scaled domain.
func (f Fixed) WholeUnits() (raw *big.Int, scaled Fixed) {
	var q uint256.Int
	q.Div(&f.v, &AmountScale.v)
	scaled.v.Mul(&q, &AmountScale.v)
	return q.ToBig(), scaled
}

func (f Fixed) Add(other Fixed) (Fixed, error) {
	var out Fixed
	if _, overflow := out.v.AddOverflow(&f.v, &other.v); overflow {
		return Fixed{}, ErrArithmeticOverflow
	}
	return out, nil
}

func (f Fixed) Sub(other Fixed) (Fixed, error) {
	var out Fixed
	if _, underflow := out.v.SubOverflow(&f.v, &other.v); underflow {
		return Fixed{}, ErrArithmeticOverflow
	}
	return out, nil
}

// SubFloor subtracts and clamps at zero. It is reserved for totals that may
// trail the sum of their parts by integer-division residue.
func (f Fixed) SubFloor(other Fixed) Fixed {
	if f.v.Lt(&other.v) {
		return Fixed{}
	}
	var out Fixed
	out.v.Sub(&f.v, &other.v)
	return out
}

func (f Fixed) Mul(other Fixed) (Fixed, error) {
	var out Fixed
	if _, overflow := out.v.MulOverflow(&f.v, &other.v); overflow {
		return Fixed{}, ErrArithmeticOverflow
	}
	return out, nil
}

// MulUint64 multiplies by a machine integer.
func (f Fixed) MulUint64(n uint64) (Fixed, error) {
	return f.Mul(FixedFromUint64(n))
}

// Div floors f / other; dividing by zero is reported as an arithmetic fault.
func (f Fixed) Div(other Fixed) (Fixed, error) {
	if other.IsZero() {
		return Fixed{}, ErrArithmeticOverflow
	}
	var out Fixed
	out.v.Div(&f.v, &other.v)
	return out, nil
}

// MulDiv computes floor(f * mul / div) with a 512-bit intermediate product so
// the multiplication always happens before the precision-losing division.
func (f Fixed) MulDiv(mul, div Fixed) (Fixed, error) {
	if div.IsZero() {
		return Fixed{}, ErrArithmeticOverflow
	}
	var out Fixed
	if _, overflow := out.v.MulDivOverflow(&f.v, &mul.v, &div.v); overflow {
		return Fixed{}, ErrArithmeticOverflow
	}
	return out, nil
}

// Min returns the smaller of the two values.
func (f Fixed) Min(other Fixed) Fixed {
	if other.v.Lt(&f.v) {
		return other
	}
	return f
}
