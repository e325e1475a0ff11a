package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"handle":"prov-1","status":"succeeded"}`)

	assert.True(t, VerifySignature("s3cret", body, sign("s3cret", body)))
	assert.False(t, VerifySignature("s3cret", body, sign("wrong", body)))
	assert.False(t, VerifySignature("s3cret", body, ""))
	assert.False(t, VerifySignature("s3cret", []byte("tampered"), sign("s3cret", body)))
}

func TestVerifySignature_NoSecretDisablesCheck(t *testing.T) {
	assert.True(t, VerifySignature("", []byte("anything"), "garbage"))
}

func TestWebhookEvent_Decode(t *testing.T) {
	payload := []byte(`{
		"handle": "prov-1",
		"status": "succeeded",
		"attributes": {
			"linkedin_url": "https://linkedin.com/in/alice",
			"job_title": "CTO",
			"headcount": 120
		},
		"credits_used": 4
	}`)

	var event WebhookEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "prov-1", event.Handle)
	assert.Equal(t, EventSucceeded, event.Status)
	assert.Equal(t, "CTO", event.Attributes.JobTitle)
	assert.Equal(t, 120, event.Attributes.Headcount)
	assert.Equal(t, 4, event.CreditsUsed)
	assert.Empty(t, event.Reason)
}

func TestEnrichment_Empty(t *testing.T) {
	assert.True(t, model.Enrichment{}.Empty())
	assert.False(t, model.Enrichment{JobTitle: "CTO"}.Empty())
}
