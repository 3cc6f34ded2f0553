package orchestrator

import (
	"testing"

	"github.com/sentinel/fraud-engine/internal/models"
)

func TestThresholdsNormalizeAppliesDefaults(t *testing.T) {
	t1 := Thresholds{}.normalize()
	if t1.HighThreshold != 70 || t1.MediumThreshold != 40 {
		t.Errorf("expected defaults 70/40, got %+v", t1)
	}

	t2 := Thresholds{HighThreshold: 80, MediumThreshold: 50}.normalize()
	if t2.HighThreshold != 80 || t2.MediumThreshold != 50 {
		t.Errorf("explicit thresholds should not be overridden, got %+v", t2)
	}
}

func TestRiskLevelForBoundaries(t *testing.T) {
	th := Thresholds{HighThreshold: 70, MediumThreshold: 40}

	cases := []struct {
		score int
		want  string
	}{
		{0, models.RiskLow},
		{39, models.RiskLow},
		{40, models.RiskMedium},
		{69, models.RiskMedium},
		{70, models.RiskHigh},
		{84, models.RiskHigh},
		{85, models.RiskCritical},
		{100, models.RiskCritical},
	}
	for _, c := range cases {
		if got := th.riskLevelFor(c.score); got != c.want {
			t.Errorf("riskLevelFor(%d) = %q, want %q", c.score, got, c.want)
		}
	}
}

func TestRecommendationForEscalatesOnCriticalFlag(t *testing.T) {
	th := Thresholds{HighThreshold: 70, MediumThreshold: 40}

	lowScoreButCritical := []models.Flag{{Severity: models.SeverityCritical}}
	if got := th.recommendationFor(10, lowScoreButCritical); got != models.RecommendReject {
		t.Errorf("a critical-severity flag should force rejection regardless of score, got %q", got)
	}
}

func TestRecommendationForByScore(t *testing.T) {
	th := Thresholds{HighThreshold: 70, MediumThreshold: 40}

	if got := th.recommendationFor(20, nil); got != models.RecommendApprove {
		t.Errorf("recommendationFor(20) = %q, want approve", got)
	}
	if got := th.recommendationFor(50, nil); got != models.RecommendReview {
		t.Errorf("recommendationFor(50) = %q, want review", got)
	}
	if got := th.recommendationFor(90, nil); got != models.RecommendReject {
		t.Errorf("recommendationFor(90) = %q, want reject", got)
	}
}
