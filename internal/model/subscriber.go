package model

import "time"

// EmailType classifies a subscriber's email address.
type EmailType string

const (
	EmailTypePersonal  EmailType = "personal"
	EmailTypeCorporate EmailType = "corporate"
)

// Subscriber is a newsletter contact owned by an organization. Email
// uniqueness is case-insensitive within an org; the normalized form is
// maintained by the store.
type Subscriber struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"org_id"`
	Email      string         `json:"email"`
	EmailType  EmailType      `json:"email_type"`
	Enrichment Enrichment     `json:"enrichment"`
	ICPScore   int            `json:"icp_score"`
	Synced     bool           `json:"synced"`
	SyncedAt   *time.Time     `json:"synced_at,omitempty"`
	Raw        map[string]any `json:"raw,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Enrichment holds the professional identity attributes resolved for a
// subscriber by the enrichment provider.
type Enrichment struct {
	LinkedInURL   string `json:"linkedin_url,omitempty"`
	JobTitle      string `json:"job_title,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
	CompanyDomain string `json:"company_domain,omitempty"`
	Headcount     int    `json:"headcount,omitempty"`
	Industry      string `json:"industry,omitempty"`
}

// Empty reports whether no identity attribute has been resolved.
func (e Enrichment) Empty() bool {
	return e == Enrichment{}
}
