// Package demographics classifies completion events by gender and age.
package demographics

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Gender is one of the closed gender categories.
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
	Other  Gender = "other"
)

// Valid ages are within [MinAge, MaxAge]; anything else is not bucketed.
const (
	MinAge = 0
	MaxAge = 120
)

var genderAliases = map[string]Gender{
	"male":   Male,
	"m":      Male,
	"man":    Male,
	"男性":     Male,
	"男":      Male,
	"female": Female,
	"f":      Female,
	"woman":  Female,
	"女性":     Female,
	"女":      Female,
}

// NormalizeGender maps a raw stored value to a category. Null, empty and
// unrecognised values are Other.
func NormalizeGender(raw string) Gender {
	if g, ok := genderAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return g
	}
	return Other
}

// GenderCounts always carries all three categories.
type GenderCounts struct {
	Male   int64 `json:"male"`
	Female int64 `json:"female"`
	Other  int64 `json:"other"`
}

// Add counts n events for the raw gender value.
func (g *GenderCounts) Add(raw string, n int64) {
	switch NormalizeGender(raw) {
	case Male:
		g.Male += n
	case Female:
		g.Female += n
	default:
		g.Other += n
	}
}

// Merge adds every category of o.
func (g *GenderCounts) Merge(o GenderCounts) {
	g.Male += o.Male
	g.Female += o.Female
	g.Other += o.Other
}

func (g GenderCounts) Total() int64 {
	return g.Male + g.Female + g.Other
}

// ValidAge reports whether age can be bucketed.
func ValidAge(age int) bool {
	return age >= MinAge && age <= MaxAge
}

// ParseAge parses an age group key. Empty or non-numeric keys yield false.
func ParseAge(key string) (int, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, false
	}
	age, err := strconv.Atoi(key)
	if err != nil {
		// ages may come back as REAL from loosely typed stores
		f, ferr := strconv.ParseFloat(key, 64)
		if ferr != nil {
			return 0, false
		}
		age = int(f)
	}
	return age, true
}

// ChannelAgeLabels are the per-channel dashboard buckets.
var ChannelAgeLabels = [6]string{"<20", "20-29", "30-39", "40-49", "50-59", "≥60"}

// AgeRanges counts ages in the per-channel scheme, in ChannelAgeLabels order.
type AgeRanges [6]int64

// ChannelAgeBucket returns the ChannelAgeLabels index for age.
func ChannelAgeBucket(age int) (int, bool) {
	if !ValidAge(age) {
		return 0, false
	}
	switch {
	case age < 20:
		return 0, true
	case age >= 60:
		return 5, true
	default:
		return age/10 - 1, true
	}
}

// Add counts n events of the given age. Invalid ages are ignored.
func (a *AgeRanges) Add(age int, n int64) {
	if i, ok := ChannelAgeBucket(age); ok {
		a[i] += n
	}
}

func (a *AgeRanges) Merge(o AgeRanges) {
	for i := range a {
		a[i] += o[i]
	}
}

// Get returns the count for a label, or 0 for unknown labels.
func (a AgeRanges) Get(label string) int64 {
	for i, l := range ChannelAgeLabels {
		if l == label {
			return a[i]
		}
	}
	return 0
}

func (a AgeRanges) MarshalJSON() ([]byte, error) {
	return marshalOrdered(ChannelAgeLabels[:], a[:])
}

func (a *AgeRanges) UnmarshalJSON(data []byte) error {
	return unmarshalOrdered(data, ChannelAgeLabels[:], a[:])
}

// FineAgeLabels are the cross-channel and location buckets.
var FineAgeLabels = [9]string{"0-9", "10-19", "20-29", "30-39", "40-49", "50-59", "60-69", "70-79", "80+"}

// FineAgeRanges counts ages in the nine-bucket scheme, in FineAgeLabels order.
type FineAgeRanges [9]int64

// FineAgeBucket returns the FineAgeLabels index for age.
func FineAgeBucket(age int) (int, bool) {
	if !ValidAge(age) {
		return 0, false
	}
	if age >= 80 {
		return 8, true
	}
	return age / 10, true
}

func (a *FineAgeRanges) Add(age int, n int64) {
	if i, ok := FineAgeBucket(age); ok {
		a[i] += n
	}
}

func (a *FineAgeRanges) Merge(o FineAgeRanges) {
	for i := range a {
		a[i] += o[i]
	}
}

func (a FineAgeRanges) Get(label string) int64 {
	for i, l := range FineAgeLabels {
		if l == label {
			return a[i]
		}
	}
	return 0
}

func (a FineAgeRanges) MarshalJSON() ([]byte, error) {
	return marshalOrdered(FineAgeLabels[:], a[:])
}

func (a *FineAgeRanges) UnmarshalJSON(data []byte) error {
	return unmarshalOrdered(data, FineAgeLabels[:], a[:])
}

// marshalOrdered writes a JSON object with keys in label order. Labels are
// fixed printable strings, so Go quoting is valid JSON.
func marshalOrdered(labels []string, values []int64) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, label := range labels {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(label))
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(values[i], 10))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func unmarshalOrdered(data []byte, labels []string, values []int64) error {
	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for i, label := range labels {
		values[i] = m[label]
	}
	return nil
}
