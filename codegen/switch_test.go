package codegen

import "testing"

func TestUseTableSwitch(t *testing.T) {
	tests := []struct {
		lo, hi int32
		n      int
		want   bool
	}{
		{0, 3, 4, true},
		{1, 2, 2, false},
		{0, 1000, 3, false},
		{-5, 5, 11, true},
		{0, 9, 5, true},
	}
	for _, tt := range tests {
		if got := UseTableSwitch(tt.lo, tt.hi, tt.n); got != tt.want {
			t.Errorf("UseTableSwitch(%d, %d, %d) = %v, want %v", tt.lo, tt.hi, tt.n, got, tt.want)
		}
	}
}

func TestStringHash(t *testing.T) {
	tests := []struct {
		in   string
		want int32
	}{
		{"", 0},
		{"a", 97},
		{"Aa", 2112},
		{"BB", 2112},
		{"hello", 99162322},
	}
	for _, tt := range tests {
		if got := StringHash(tt.in); got != tt.want {
			t.Errorf("StringHash(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
