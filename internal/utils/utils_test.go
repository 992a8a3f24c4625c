package utils

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0800000001", "0800000001"},
		{" 080-000 (00) 01 ", "0800000001"},
		{"+44 20 7946 0958", "+442079460958"},
		{"12+34", "1234"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
