package crm

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/pkg/salesforce"
)

// SalesforceSyncer implements ContactSyncer against the Salesforce REST API.
// Contacts are matched by email; an existing record is updated, otherwise a
// new one is created.
type SalesforceSyncer struct {
	client salesforce.Client
}

// NewSalesforceSyncer creates a syncer over the given Salesforce client.
func NewSalesforceSyncer(c salesforce.Client) *SalesforceSyncer {
	return &SalesforceSyncer{client: c}
}

func (s *SalesforceSyncer) SyncContact(ctx context.Context, sub *model.Subscriber) error {
	fields := contactFields(sub)

	contactID, err := salesforce.FindContactIDByEmail(ctx, s.client, sub.Email)
	if err != nil {
		return eris.Wrapf(err, "crm: find contact for %s", sub.Email)
	}

	if _, err := salesforce.UpsertContact(ctx, s.client, contactID, fields); err != nil {
		return eris.Wrapf(err, "crm: upsert contact for %s", sub.Email)
	}
	return nil
}

// contactFields maps a subscriber onto Salesforce Contact fields.
func contactFields(sub *model.Subscriber) map[string]any {
	fields := map[string]any{
		"Email":    sub.Email,
		"LastName": lastNameFor(sub),
	}
	if sub.Enrichment.JobTitle != "" {
		fields["Title"] = sub.Enrichment.JobTitle
	}
	if sub.Enrichment.LinkedInURL != "" {
		fields["LinkedIn_URL__c"] = sub.Enrichment.LinkedInURL
	}
	if sub.Enrichment.CompanyName != "" {
		fields["Company__c"] = sub.Enrichment.CompanyName
	}
	if sub.Enrichment.Industry != "" {
		fields["Industry__c"] = sub.Enrichment.Industry
	}
	if sub.ICPScore > 0 {
		fields["ICP_Score__c"] = sub.ICPScore
	}
	return fields
}

// lastNameFor satisfies the Contact LastName requirement when the upload
// carried no name fields.
func lastNameFor(sub *model.Subscriber) string {
	if name, ok := sub.Raw["last_name"].(string); ok && name != "" {
		return name
	}
	return fmt.Sprintf("Subscriber %s", sub.ID)
}
