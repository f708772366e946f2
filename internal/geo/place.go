package geo

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Place is a normalised region → city → town triple. Town is optional.
type Place struct {
	Region string
	City   string
	Town   string
}

// NormalizeName folds width and compatibility variants (NFKC), trims and
// collapses internal whitespace.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// NewPlace builds a normalised Place.
func NewPlace(region, city, town string) Place {
	return Place{
		Region: NormalizeName(region),
		City:   NormalizeName(city),
		Town:   NormalizeName(town),
	}
}

// Placeable reports whether the place can be bucketed.
func (p Place) Placeable() bool {
	return p.Region != ""
}

// Complete reports whether both region and city are known.
func (p Place) Complete() bool {
	return p.Region != "" && p.City != ""
}

// Key identifies the bucket. A place without a town keys at city level,
// distinct from every town bucket in the same city.
func (p Place) Key() string {
	if p.Town == "" {
		return p.Region + "\x00" + p.City
	}
	return p.Region + "\x00" + p.City + "\x00" + p.Town
}

// Matches reports whether p falls in the requested bucket. Without a town
// the whole city matches, including its town-level rows.
func (p Place) Matches(region, city string, town *string) bool {
	if p.Region != NormalizeName(region) || p.City != NormalizeName(city) {
		return false
	}
	if town == nil || NormalizeName(*town) == "" {
		return true
	}
	return p.Town == NormalizeName(*town)
}
