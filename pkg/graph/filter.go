package graph

import (
	"sort"
	"strings"
)

// Filter selects the slice of the graph a subscriber cares about. All fields
// are optional; the zero filter matches everything.
type Filter struct {
	Jurisdictions []string `json:"jurisdictions,omitempty"`
	ProfileType   string   `json:"profile_type,omitempty"`
	Keyword       string   `json:"keyword,omitempty"`
}

// profileTypeAliases maps accepted spellings to the canonical profile type.
var profileTypeAliases = map[string]string{
	"person":       "individual",
	"individual":   "individual",
	"natural":      "individual",
	"company":      "entity",
	"entity":       "entity",
	"organisation": "entity",
	"organization": "entity",
	"all":          "",
}

// Normalize returns a copy of the filter with jurisdictions upper-cased,
// de-duplicated and sorted, the profile type resolved to its canonical form,
// and the keyword case-folded. Two filters that select the same slice of the
// graph normalize to the same value.
func (f Filter) Normalize() Filter {
	out := Filter{}

	seen := make(map[string]struct{}, len(f.Jurisdictions))
	for _, j := range f.Jurisdictions {
		j = strings.ToUpper(strings.TrimSpace(j))
		if j == "" {
			continue
		}
		if _, dup := seen[j]; dup {
			continue
		}
		seen[j] = struct{}{}
		out.Jurisdictions = append(out.Jurisdictions, j)
	}
	sort.Strings(out.Jurisdictions)

	pt := strings.ToLower(strings.TrimSpace(f.ProfileType))
	if canonical, ok := profileTypeAliases[pt]; ok {
		out.ProfileType = canonical
	} else {
		out.ProfileType = pt
	}

	out.Keyword = strings.ToLower(strings.TrimSpace(f.Keyword))

	return out
}

// Key returns the normalized string form of the filter, used as both the
// last-observed state key and the throttle key. Filters that normalize equal
// produce identical keys.
func (f Filter) Key() string {
	n := f.Normalize()

	var b strings.Builder
	b.WriteString("j=")
	b.WriteString(strings.Join(n.Jurisdictions, ","))
	b.WriteString("|t=")
	b.WriteString(n.ProfileType)
	b.WriteString("|k=")
	b.WriteString(n.Keyword)
	return b.String()
}
