package engine

import (
	"strings"

	"github.com/sells-group/enrich-cli/internal/model"
)

// seniorTitleKeywords mark decision-maker titles for ICP scoring.
var seniorTitleKeywords = []string{
	"chief", "ceo", "cto", "cfo", "coo", "founder", "president",
	"vp", "vice president", "head of", "director",
}

// ScoreICP derives a 0-100 ideal-customer-profile fit score from a
// subscriber's enriched attributes. Deterministic over its input.
func ScoreICP(enr model.Enrichment) int {
	if enr.Empty() {
		return 0
	}

	score := 0

	// Identity resolution itself is the baseline signal.
	if enr.LinkedInURL != "" {
		score += 20
	}
	if enr.CompanyName != "" || enr.CompanyDomain != "" {
		score += 15
	}
	if enr.Industry != "" {
		score += 10
	}

	// Headcount bands: mid-market scores highest.
	switch {
	case enr.Headcount >= 51 && enr.Headcount <= 1000:
		score += 30
	case enr.Headcount >= 11:
		score += 20
	case enr.Headcount >= 1:
		score += 10
	}

	// Title seniority.
	title := strings.ToLower(enr.JobTitle)
	for _, kw := range seniorTitleKeywords {
		if strings.Contains(title, kw) {
			score += 25
			break
		}
	}
	if score == 0 && enr.JobTitle != "" {
		score = 10
	}

	if score > 100 {
		score = 100
	}
	return score
}
