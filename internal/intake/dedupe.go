package intake

import "github.com/sells-group/enrich-cli/internal/model"

// Row is one parsed contact row from an upload. Email is the dedup key;
// Fields carries the remaining named columns verbatim.
type Row struct {
	Email  string            `json:"email"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Dedupe scans rows in input order and drops every row whose normalized
// email was already seen, keeping the first occurrence verbatim. Returns the
// surviving rows in first-seen order and the number of rows dropped, so that
// len(unique) + duplicates == len(rows).
func Dedupe(rows []Row) ([]Row, int) {
	unique := make([]Row, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	duplicates := 0

	for _, row := range rows {
		key := model.NormalizeEmail(row.Email)
		if _, ok := seen[key]; ok {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, row)
	}

	return unique, duplicates
}
