package demographics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeGender(t *testing.T) {
	tests := []struct {
		raw      string
		expected Gender
	}{
		{"male", Male},
		{"MALE", Male},
		{" m ", Male},
		{"男性", Male},
		{"female", Female},
		{"F", Female},
		{"女性", Female},
		{"other", Other},
		{"", Other},
		{"unknown", Other},
		{"prefer not to say", Other},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeGender(tt.raw))
		})
	}
}

func TestGenderCountsAlwaysCarryAllKeys(t *testing.T) {
	var counts GenderCounts
	data, err := json.Marshal(counts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"male":0,"female":0,"other":0}`, string(data))

	counts.Add("male", 2)
	counts.Add("", 1)
	counts.Add("x", 1)
	assert.Equal(t, GenderCounts{Male: 2, Other: 2}, counts)
	assert.Equal(t, int64(4), counts.Total())
}

func TestAgeBuckets(t *testing.T) {
	tests := []struct {
		age          int
		channelLabel string
		fineLabel    string
	}{
		{0, "<20", "0-9"},
		{9, "<20", "0-9"},
		{19, "<20", "10-19"},
		{20, "20-29", "20-29"},
		{29, "20-29", "20-29"},
		{45, "40-49", "40-49"},
		{59, "50-59", "50-59"},
		{60, "≥60", "60-69"},
		{79, "≥60", "70-79"},
		{80, "≥60", "80+"},
		{120, "≥60", "80+"},
	}

	for _, tt := range tests {
		var channel AgeRanges
		var fine FineAgeRanges
		channel.Add(tt.age, 1)
		fine.Add(tt.age, 1)

		assert.Equal(t, int64(1), channel.Get(tt.channelLabel), "age %d channel scheme", tt.age)
		assert.Equal(t, int64(1), fine.Get(tt.fineLabel), "age %d fine scheme", tt.age)
	}
}

func TestInvalidAgesAreExcluded(t *testing.T) {
	var channel AgeRanges
	var fine FineAgeRanges
	for _, age := range []int{-1, 121, 999} {
		channel.Add(age, 1)
		fine.Add(age, 1)
	}
	assert.Equal(t, AgeRanges{}, channel)
	assert.Equal(t, FineAgeRanges{}, fine)

	_, ok := ParseAge("")
	assert.False(t, ok)
	_, ok = ParseAge("abc")
	assert.False(t, ok)
	age, ok := ParseAge("34")
	assert.True(t, ok)
	assert.Equal(t, 34, age)
	age, ok = ParseAge("34.0")
	assert.True(t, ok)
	assert.Equal(t, 34, age)
}

func TestAgeRangesJSONIsOrdered(t *testing.T) {
	var channel AgeRanges
	channel.Add(19, 2)
	channel.Add(65, 1)

	data, err := channel.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"<20":2,"20-29":0,"30-39":0,"40-49":0,"50-59":0,"≥60":1}`, string(data))

	var decoded AgeRanges
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, channel, decoded)

	var fine FineAgeRanges
	fine.Add(85, 3)
	data, err = fine.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"0-9":0,"10-19":0,"20-29":0,"30-39":0,"40-49":0,"50-59":0,"60-69":0,"70-79":0,"80+":3}`, string(data))

	var decodedFine FineAgeRanges
	require.NoError(t, json.Unmarshal(data, &decodedFine))
	assert.Equal(t, fine, decodedFine)
}
