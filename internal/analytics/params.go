package analytics

import (
	"sort"
	"strings"
)

// NormalizeChannelIDs trims, drops empty and duplicate ids, and sorts the
// rest so equal sets produce equal queries and cache keys.
func NormalizeChannelIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ParseChannelIDs splits a comma separated query value.
func ParseChannelIDs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	return NormalizeChannelIDs(strings.Split(raw, ","))
}
