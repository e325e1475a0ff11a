// Package intake turns raw contact rows into classified, deduplicated
// subscribers and feeds personal-email contacts to the job creator.
package intake

import (
	"strings"

	"github.com/sells-group/enrich-cli/internal/model"
)

// consumerDomains is the fixed set of consumer mail providers whose
// addresses classify as personal. Loaded once, never mutated.
var consumerDomains = map[string]struct{}{
	"gmail.com":      {},
	"yahoo.com":      {},
	"outlook.com":    {},
	"hotmail.com":    {},
	"icloud.com":     {},
	"aol.com":        {},
	"protonmail.com": {},
	"mail.com":       {},
	"zoho.com":       {},
	"yandex.com":     {},
	"gmx.com":        {},
	"live.com":       {},
	"msn.com":        {},
	"me.com":         {},
	"mac.com":        {},
}

// Classify returns the email type for the given address. The domain after
// the last "@" is membership-tested case-insensitively against the consumer
// provider set. Malformed input (empty, no "@", no domain segment) degrades
// to corporate; classification never fails.
func Classify(email string) model.EmailType {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return model.EmailTypeCorporate
	}
	domain := strings.ToLower(email[at+1:])
	if _, ok := consumerDomains[domain]; ok {
		return model.EmailTypePersonal
	}
	return model.EmailTypeCorporate
}
