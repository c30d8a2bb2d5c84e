package mathx_test

import (
	"fmt"
	"testing"

	"github.com/StuartLittlefair/udriver/mathx"
)

func TestRoundHalves(t *testing.T) {
	for _, tc := range []struct {
		in, unit, out float64
	}{
		{2.5, 1, 3},
		{-2.5, 1, -3},
		{7.5, 5, 10},
		{12.34, 10, 10},
	} {
		got := mathx.Round(tc.in, tc.unit)
		if fmt.Sprintf("%.4f", got) != fmt.Sprintf("%.4f", tc.out) {
			t.Errorf("Round(%v, %v) = %v, want %v", tc.in, tc.unit, got, tc.out)
		}
	}
}

func ExampleRound() {
	fmt.Printf("%.3f\n", mathx.Round(3.14159, 0.001))
	// Output: 3.142
}
