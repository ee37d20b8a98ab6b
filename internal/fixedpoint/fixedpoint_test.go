package fixedpoint

import "testing"

func TestConversions(t *testing.T) {
	tests := []struct {
		x         Value
		wantTrunc int
		wantRound int
	}{
		{FromInt(3), 3, 3},
		{FromInt(-3), -3, -3},
		{Ratio(5, 2), 2, 3},
		{Ratio(-5, 2), -2, -3},
		{Ratio(1, 3), 0, 0},
		{Ratio(2, 3), 0, 1},
	}
	for _, tt := range tests {
		if got := tt.x.ToIntTrunc(); got != tt.wantTrunc {
			t.Errorf("%d.ToIntTrunc() = %d, want %d", tt.x, got, tt.wantTrunc)
		}
		if got := tt.x.ToIntRound(); got != tt.wantRound {
			t.Errorf("%d.ToIntRound() = %d, want %d", tt.x, got, tt.wantRound)
		}
	}
}

func TestArithmetic(t *testing.T) {
	a := FromInt(6)
	b := FromInt(4)

	if got := a.Add(b).ToIntTrunc(); got != 10 {
		t.Errorf("6+4 = %d", got)
	}
	if got := a.Sub(b).ToIntTrunc(); got != 2 {
		t.Errorf("6-4 = %d", got)
	}
	if got := a.Mul(b).ToIntTrunc(); got != 24 {
		t.Errorf("6*4 = %d", got)
	}
	if got := a.Div(b).MulInt(100).ToIntRound(); got != 150 {
		t.Errorf("6/4*100 = %d", got)
	}
	if got := a.AddInt(1).SubInt(2).ToIntTrunc(); got != 5 {
		t.Errorf("6+1-2 = %d", got)
	}
	if got := a.DivInt(4).MulInt(4).ToIntTrunc(); got != 6 {
		t.Errorf("6/4*4 = %d", got)
	}
}

func TestMulDoesNotOverflow(t *testing.T) {
	// The raw product of two scaled operands overflows 32 bits.
	x := FromInt(300)
	if got := x.Mul(x).ToIntTrunc(); got != 90_000 {
		t.Errorf("300*300 = %d, want 90000", got)
	}
	if got := x.Mul(x).Div(x).ToIntTrunc(); got != 300 {
		t.Errorf("300*300/300 = %d, want 300", got)
	}
}

func TestLoadAvgDecay(t *testing.T) {
	// load_avg = 59/60*load_avg + 1/60*ready with one ready thread,
	// starting from zero, reaches about 0.0167 after one second.
	var la Value
	la = Ratio(59, 60).Mul(la).Add(Ratio(1, 60).MulInt(1))
	if got := la.MulInt(100).ToIntRound(); got != 2 {
		t.Errorf("load_avg*100 = %d, want 2", got)
	}
}
