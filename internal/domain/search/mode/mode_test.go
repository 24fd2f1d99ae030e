package mode

import "testing"

func TestIsValid(t *testing.T) {
	valid := []Mode{Image, Text, Fused}
	for _, m := range valid {
		if !m.IsValid() {
			t.Errorf("%q.IsValid() = false, want true", m)
		}
	}

	invalid := []Mode{"", "hybrid", "semantic", "IMAGE"}
	for _, m := range invalid {
		if m.IsValid() {
			t.Errorf("%q.IsValid() = true, want false", m)
		}
	}
}

func TestModalities(t *testing.T) {
	tests := []struct {
		m         Mode
		wantImage bool
		wantText  bool
	}{
		{Image, true, false},
		{Text, false, true},
		{Fused, true, true},
	}
	for _, tc := range tests {
		if got := tc.m.UsesImage(); got != tc.wantImage {
			t.Errorf("%q.UsesImage() = %v", tc.m, got)
		}
		if got := tc.m.UsesText(); got != tc.wantText {
			t.Errorf("%q.UsesText() = %v", tc.m, got)
		}
	}
}
