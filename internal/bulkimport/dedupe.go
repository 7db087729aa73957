package bulkimport

import (
	"net/url"
	"strings"
)

// DedupResult is the outcome of collapsing a raw discovery listing to its
// unique identity groups.
type DedupResult struct {
	Unique     []DiscoveredEntry
	Duplicates []DuplicateGroup
	Discovered int
}

// NormalizeURL canonicalizes a source URL for identity comparison:
// lower-cased, query and fragment stripped, trailing slash removed. Inputs
// that do not parse fall back to simple string normalization so a malformed
// pair of identical strings still merges.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}
	u.RawQuery = ""
	u.Fragment = ""
	normalized := strings.ToLower(u.String())
	return strings.TrimRight(normalized, "/")
}

// Deduplicate collapses entries to one per stable identity: the remote file
// id when present, else the normalized URL. Entries with neither are
// singleton groups; without an identity, under-merging beats silently
// dropping a distinct file. The first entry of each group wins; groups of
// size > 1 are reported for diagnostics.
func Deduplicate(entries []DiscoveredEntry) DedupResult {
	res := DedupResult{Discovered: len(entries)}

	type group struct {
		count int
		label string
	}

	var order []string
	groups := map[string]*group{}

	for _, e := range entries {
		var key, label string
		switch {
		case strings.TrimSpace(e.FileID) != "":
			key = "id:" + strings.TrimSpace(e.FileID)
			label = e.URL
			if label == "" {
				label = e.Name
			}
		case NormalizeURL(e.URL) != "":
			key = "url:" + NormalizeURL(e.URL)
			label = e.URL
		default:
			res.Unique = append(res.Unique, e)
			continue
		}

		g, ok := groups[key]
		if !ok {
			groups[key] = &group{count: 1, label: label}
			order = append(order, key)
			res.Unique = append(res.Unique, e)
			continue
		}
		g.count++
	}

	for _, key := range order {
		g := groups[key]
		if g.count > 1 {
			res.Duplicates = append(res.Duplicates, DuplicateGroup{URL: g.label, Count: g.count})
		}
	}

	return res
}

// Details packages a dedup result as the persisted discovery diagnostics.
func (r DedupResult) Details(raw []DiscoveredEntry) *DiscoveryDetails {
	return &DiscoveryDetails{
		DiscoveredFiles: r.Discovered,
		UniqueFiles:     len(r.Unique),
		Duplicates:      r.Duplicates,
		RawEntries:      raw,
	}
}
