package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/enrich-cli/internal/model"
)

func TestScoreICP_Empty(t *testing.T) {
	assert.Equal(t, 0, ScoreICP(model.Enrichment{}))
}

func TestScoreICP_FullProfileCapsAt100(t *testing.T) {
	score := ScoreICP(model.Enrichment{
		LinkedInURL: "https://linkedin.com/in/alice",
		JobTitle:    "Chief Technology Officer",
		CompanyName: "Acme",
		Headcount:   200,
		Industry:    "Software",
	})
	assert.Equal(t, 100, score)
}

func TestScoreICP_HeadcountBands(t *testing.T) {
	base := model.Enrichment{CompanyName: "Acme"} // 15 points

	assert.Equal(t, 15+10, ScoreICP(withHeadcount(base, 5)))
	assert.Equal(t, 15+20, ScoreICP(withHeadcount(base, 25)))
	assert.Equal(t, 15+30, ScoreICP(withHeadcount(base, 500)))
	assert.Equal(t, 15+20, ScoreICP(withHeadcount(base, 5000)))
}

func TestScoreICP_SeniorTitle(t *testing.T) {
	senior := ScoreICP(model.Enrichment{JobTitle: "VP of Sales"})
	junior := ScoreICP(model.Enrichment{JobTitle: "Account Executive"})

	assert.Equal(t, 25, senior)
	assert.Equal(t, 10, junior)
}

func TestScoreICP_Deterministic(t *testing.T) {
	enr := model.Enrichment{JobTitle: "Head of Growth", Headcount: 80}
	assert.Equal(t, ScoreICP(enr), ScoreICP(enr))
}

func withHeadcount(enr model.Enrichment, n int) model.Enrichment {
	enr.Headcount = n
	return enr
}
