package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Contact represents the Salesforce Contact fields the sync reads back.
type Contact struct {
	ID    string `json:"Id" salesforce:"Id"`
	Email string `json:"Email" salesforce:"Email"`
}

// FindContactIDByEmail queries Salesforce for a Contact matching the given
// email. Returns an empty string if no contact is found.
func FindContactIDByEmail(ctx context.Context, c Client, email string) (string, error) {
	if email == "" {
		return "", eris.New("sf: email is required")
	}
	soql := fmt.Sprintf(
		"SELECT Id, Email FROM Contact WHERE Email = '%s' LIMIT 1",
		escapeSoql(email),
	)

	var contacts []Contact
	if err := c.Query(ctx, soql, &contacts); err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: find contact by email %s", email))
	}
	if len(contacts) == 0 {
		return "", nil
	}
	return contacts[0].ID, nil
}

// UpsertContact updates the contact with the given ID, or creates a new one
// when id is empty. Returns the Salesforce ID of the affected record.
func UpsertContact(ctx context.Context, c Client, id string, fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "", eris.New("sf: no fields to upsert")
	}
	if id != "" {
		if err := c.UpdateOne(ctx, "Contact", id, fields); err != nil {
			return "", eris.Wrap(err, fmt.Sprintf("sf: update contact %s", id))
		}
		return id, nil
	}
	newID, err := c.InsertOne(ctx, "Contact", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create contact")
	}
	return newID, nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
