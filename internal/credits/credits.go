// Package credits holds the fixed credit cost table for enrichment kinds.
package credits

// Kind identifies the class of contact data an enrichment resolves.
type Kind string

const (
	KindPersonal Kind = "personal"
	KindMobile   Kind = "mobile"
)

// cost is process-wide pricing configuration; values are always positive.
var cost = map[Kind]int{
	KindPersonal: 3,
	KindMobile:   10,
}

// Cost returns the fixed credit cost for enriching the given kind. Unknown
// kinds price as personal, the cheapest tier.
func Cost(k Kind) int {
	if c, ok := cost[k]; ok {
		return c
	}
	return cost[KindPersonal]
}
