package qms

import "testing"

func TestScoreRiskBounds(t *testing.T) {
	score, err := ScoreRisk(RiskFactors{Severity: 5, Probability: 5, Detectability: 5})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 100 {
		t.Fatalf("worst case score = %d, want 100", score)
	}
	score, err = ScoreRisk(RiskFactors{Severity: 1, Probability: 1, Detectability: 1})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 1 {
		t.Fatalf("best case score = %d, want 1", score)
	}
}

func TestScoreRiskDeterministicAndMonotonic(t *testing.T) {
	for s := 1; s <= 5; s++ {
		for p := 1; p <= 5; p++ {
			for d := 1; d <= 5; d++ {
				f := RiskFactors{Severity: s, Probability: p, Detectability: d}
				first, err := ScoreRisk(f)
				if err != nil {
					t.Fatalf("score %+v: %v", f, err)
				}
				second, _ := ScoreRisk(f)
				if first != second {
					t.Fatalf("score %+v not deterministic: %d vs %d", f, first, second)
				}
				if first < 0 || first > 100 {
					t.Fatalf("score %+v out of range: %d", f, first)
				}
				// Raising any single factor must never lower the score.
				for _, bumped := range []RiskFactors{
					{Severity: s + 1, Probability: p, Detectability: d},
					{Severity: s, Probability: p + 1, Detectability: d},
					{Severity: s, Probability: p, Detectability: d + 1},
				} {
					if bumped.Severity > 5 || bumped.Probability > 5 || bumped.Detectability > 5 {
						continue
					}
					higher, err := ScoreRisk(bumped)
					if err != nil {
						t.Fatalf("score %+v: %v", bumped, err)
					}
					if higher < first {
						t.Fatalf("score decreased from %d to %d when raising a factor (%+v -> %+v)", first, higher, f, bumped)
					}
				}
			}
		}
	}
}

func TestScoreRiskRejectsOutOfRangeFactors(t *testing.T) {
	cases := []RiskFactors{
		{Severity: 0, Probability: 3, Detectability: 3},
		{Severity: 3, Probability: 6, Detectability: 3},
		{Severity: 3, Probability: 3, Detectability: -1},
	}
	for _, f := range cases {
		if _, err := ScoreRisk(f); err == nil {
			t.Fatalf("expected validation error for %+v", f)
		} else if rej, ok := AsRejection(err); !ok || rej.Code != CodeValidationError {
			t.Fatalf("expected validation rejection for %+v, got %v", f, err)
		}
	}
}

func TestLevelForScoreCutLines(t *testing.T) {
	cases := []struct {
		score int
		want  RiskLevel
	}{
		{0, RiskLow},
		{39, RiskLow},
		{40, RiskMedium},
		{69, RiskMedium},
		{70, RiskHigh},
		{100, RiskHigh},
	}
	for _, tc := range cases {
		if got := LevelForScore(tc.score); got != tc.want {
			t.Fatalf("LevelForScore(%d) = %q, want %q", tc.score, got, tc.want)
		}
	}
}
