package fusion

import (
	"math"
	"testing"

	"github.com/kailas-cloud/artsearch/internal/domain/search/candidate"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", None, false},
		{"none", None, false},
		{"minmax", MinMax, false},
		{"zscore", ZScore, false},
		{"softmax", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePolicy(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPolicy_MinMaxConstant(t *testing.T) {
	cands := []candidate.Candidate{
		makeCandidate(t, candidate.Image, "A", 0.4),
		makeCandidate(t, candidate.Image, "B", 0.4),
	}
	out := MinMax.Apply(cands)
	for _, c := range out {
		if c.Score() != 1 {
			t.Errorf("expected 1 for constant list, got %v", c.Score())
		}
	}
}

func TestPolicy_ZScore(t *testing.T) {
	cands := []candidate.Candidate{
		makeCandidate(t, candidate.Text, "A", 1),
		makeCandidate(t, candidate.Text, "B", 3),
	}
	out := ZScore.Apply(cands)
	if math.Abs(out[0].Score()+1) > eps || math.Abs(out[1].Score()-1) > eps {
		t.Errorf("expected [-1 1], got [%v %v]", out[0].Score(), out[1].Score())
	}
	if out[0].ID() != "A" || out[1].ID() != "B" {
		t.Error("order must be preserved")
	}
}

func TestPolicy_NoneUnchanged(t *testing.T) {
	cands := []candidate.Candidate{makeCandidate(t, candidate.Image, "A", 0.42)}
	if got := None.Apply(cands)[0].Score(); got != 0.42 {
		t.Errorf("expected 0.42, got %v", got)
	}
}
