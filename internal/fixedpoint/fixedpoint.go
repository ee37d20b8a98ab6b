// Package fixedpoint implements 17.14 signed fixed-point arithmetic, the
// representation used for recent_cpu and load_avg.
package fixedpoint

// Value is a 17.14 fixed-point number.
type Value int32

// F is the scaling factor, 2^14.
const F = 1 << 14

// FromInt converts n to fixed point.
func FromInt(n int) Value { return Value(n * F) }

// ToIntTrunc converts x to an integer, rounding toward zero.
func (x Value) ToIntTrunc() int { return int(x) / F }

// ToIntRound converts x to the nearest integer.
func (x Value) ToIntRound() int {
	if x >= 0 {
		return (int(x) + F/2) / F
	}
	return (int(x) - F/2) / F
}

// Arithmetic. The Int variants take a plain integer operand; Mul and Div
// widen to int64 before rescaling.

func (x Value) Add(y Value) Value  { return x + y }
func (x Value) Sub(y Value) Value  { return x - y }
func (x Value) AddInt(n int) Value { return x + Value(n*F) }
func (x Value) SubInt(n int) Value { return x - Value(n*F) }
func (x Value) MulInt(n int) Value { return x * Value(n) }
func (x Value) DivInt(n int) Value { return x / Value(n) }
func (x Value) Mul(y Value) Value  { return Value(int64(x) * int64(y) / F) }
func (x Value) Div(y Value) Value  { return Value(int64(x) * F / int64(y)) }

// Ratio returns n/d in fixed point.
func Ratio(n, d int) Value { return FromInt(n).DivInt(d) }
